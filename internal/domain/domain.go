package domain

// Role hierarchy: owner > admin > member > contributor.
const (
	RoleOwner       = "owner"
	RoleAdmin       = "admin"
	RoleMember      = "member"
	RoleContributor = "contributor"
)

var roleRank = map[string]int{
	RoleOwner:       0,
	RoleAdmin:       1,
	RoleMember:      2,
	RoleContributor: 3,
}

// ValidRole reports whether the string names a known role.
func ValidRole(role string) bool {
	_, ok := roleRank[role]
	return ok
}

// RoleAllows reports whether role meets the required role level.
func RoleAllows(role, required string) bool {
	r, ok := roleRank[role]
	if !ok {
		return false
	}
	req, ok := roleRank[required]
	if !ok {
		return false
	}
	return r <= req
}

// Bounty statuses.
const (
	BountyAwaitingFunds = "awaiting_funds"
	BountyOpen          = "open"
	BountyClaimed       = "claimed"
	BountyUnderReview   = "under_review"
	BountyCompleted     = "completed"
	BountyCancelled     = "cancelled"
	BountyExpired       = "expired"
)

// Project statuses.
const (
	ProjectActive    = "active"
	ProjectCompleted = "completed"
	ProjectCancelled = "cancelled"
)

// Milestone statuses.
const (
	MilestonePending    = "pending"
	MilestoneInProgress = "in_progress"
	MilestoneSubmitted  = "submitted"
	MilestoneApproved   = "approved"
	MilestoneRejected   = "rejected"
	MilestoneExpired    = "expired"
)

// Dispute lock item kinds.
const (
	ItemKindBounty    = "bounty"
	ItemKindMilestone = "milestone"
)

type Guild struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Owner       string `json:"owner"`
	MemberCount int    `json:"member_count"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Member struct {
	GuildID  int64  `json:"guild_id"`
	Address  string `json:"address"`
	Role     string `json:"role" enum:"owner,admin,member,contributor"`
	JoinedAt string `json:"joined_at" format:"date-time"`
}

type Bounty struct {
	ID            int64   `json:"id"`
	GuildID       int64   `json:"guild_id"`
	Creator       string  `json:"creator"`
	Title         string  `json:"title"`
	Description   string  `json:"description,omitempty"`
	RewardAmount  int64   `json:"reward_amount"`
	FundedAmount  int64   `json:"funded_amount"`
	Currency      string  `json:"currency"`
	Status        string  `json:"status" enum:"awaiting_funds,open,claimed,under_review,completed,cancelled,expired"`
	Claimer       *string `json:"claimer,omitempty"`
	SubmissionURL *string `json:"submission_url,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	ExpiresAt     int64   `json:"expires_at"`
}

type Project struct {
	ID              int64  `json:"id"`
	GuildID         int64  `json:"guild_id"`
	Contributor     string `json:"contributor"`
	Treasury        string `json:"treasury"`
	Currency        string `json:"currency"`
	TotalAmount     int64  `json:"total_amount"`
	AllocatedAmount int64  `json:"allocated_amount"`
	ReleasedAmount  int64  `json:"released_amount"`
	IsSequential    bool   `json:"is_sequential"`
	Status          string `json:"status" enum:"active,completed,cancelled"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

type Milestone struct {
	ID              int64   `json:"id"`
	ProjectID       int64   `json:"project_id"`
	OrderIndex      int     `json:"order_index"`
	Title           string  `json:"title"`
	Description     string  `json:"description,omitempty"`
	PaymentAmount   int64   `json:"payment_amount"`
	Deadline        int64   `json:"deadline"`
	Status          string  `json:"status" enum:"pending,in_progress,submitted,approved,rejected,expired"`
	ProofURL        *string `json:"proof_url,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	SubmittedAt     *int64  `json:"submitted_at,omitempty"`
	LastUpdatedAt   string  `json:"last_updated_at" format:"date-time"`
	Version         int     `json:"version"`
	PaymentReleased bool    `json:"payment_released"`
}

// MilestoneInput describes one milestone when creating a project.
type MilestoneInput struct {
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	PaymentAmount int64  `json:"payment_amount"`
	Deadline      int64  `json:"deadline"`
}

// Progress is the (completed, total, percentage) tuple for a project.
type Progress struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

type Balance struct {
	Account  string `json:"account"`
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

type DisputeLock struct {
	ItemKind  string `json:"item_kind" enum:"bounty,milestone"`
	ItemID    int64  `json:"item_id"`
	LockedBy  string `json:"locked_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Event is one entry in the append-only notification log. ID is the stable,
// monotonic per-system sequence number.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Module     string `json:"module"`
	Action     string `json:"action"`
	GuildID    int64  `json:"guild_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   int64  `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
