package engine

import (
	"context"
	"database/sql"
	"strings"

	"guildpay/internal/domain"
	"guildpay/internal/events"
	"guildpay/internal/fault"
)

const (
	maxBountyTitleLen = 256
	maxBountyDescLen  = 2048
	maxURLLen         = 512
)

func bountyTerminal(status string) bool {
	switch status {
	case domain.BountyCompleted, domain.BountyCancelled, domain.BountyExpired:
		return true
	}
	return false
}

// BountyCreateOptions are parameters for creating a bounty.
type BountyCreateOptions struct {
	GuildID      int64
	Creator      string
	Title        string
	Description  string
	RewardAmount int64
	Currency     string
	ExpiresAt    int64
}

// CreateBounty posts a new bounty. It starts in awaiting_funds until the
// reward is fully escrowed; a zero-reward bounty opens immediately.
func (e Engine) CreateBounty(ctx context.Context, opts BountyCreateOptions) (domain.Bounty, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" || len(title) > maxBountyTitleLen {
		return domain.Bounty{}, fault.Fieldf(fault.InvalidInput, "title", "title must be 1-%d characters", maxBountyTitleLen)
	}
	if len(opts.Description) > maxBountyDescLen {
		return domain.Bounty{}, fault.Fieldf(fault.InvalidInput, "description", "description must be at most %d characters", maxBountyDescLen)
	}
	if opts.RewardAmount < 0 {
		return domain.Bounty{}, fault.Fieldf(fault.InvalidInput, "reward_amount", "reward must not be negative")
	}
	if opts.ExpiresAt <= e.now().Unix() {
		return domain.Bounty{}, fault.Fieldf(fault.InvalidInput, "expires_at", "expiry must be in the future")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bounty{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetGuildTx(ctx, tx, opts.GuildID); err != nil {
		return domain.Bounty{}, notFoundErr(err, "guild", opts.GuildID)
	}
	if err := e.requireRole(ctx, tx, opts.GuildID, opts.Creator, domain.RoleAdmin); err != nil {
		return domain.Bounty{}, err
	}

	status := domain.BountyAwaitingFunds
	if opts.RewardAmount == 0 {
		status = domain.BountyOpen
	}
	b := domain.Bounty{
		GuildID:      opts.GuildID,
		Creator:      opts.Creator,
		Title:        title,
		Description:  opts.Description,
		RewardAmount: opts.RewardAmount,
		FundedAmount: 0,
		Currency:     e.defaultCurrency(opts.Currency),
		Status:       status,
		CreatedAt:    e.nowRFC3339(),
		ExpiresAt:    opts.ExpiresAt,
	}
	id, err := e.Repo.InsertBountyTx(ctx, tx, b)
	if err != nil {
		return domain.Bounty{}, err
	}
	b.ID = id
	if err := e.Events.Append(ctx, tx, events.ModBounty, events.ActCreated, b.GuildID, "bounty", id, opts.Creator, events.EventPayload{
		"title":         b.Title,
		"reward_amount": b.RewardAmount,
		"currency":      b.Currency,
		"status":        b.Status,
	}); err != nil {
		return domain.Bounty{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bounty{}, err
	}
	return b, nil
}

// expireBountyOnTouch records the expired transition and commits it, then
// fails the touched operation. The transition sticks even though the caller's
// operation does not.
func (e Engine) expireBountyOnTouch(ctx context.Context, tx *sql.Tx, b domain.Bounty, actor string) error {
	b.Status = domain.BountyExpired
	if err := e.Repo.UpdateBountyTx(ctx, tx, b); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.ModBounty, events.ActExpired, b.GuildID, "bounty", b.ID, actor, events.EventPayload{
		"expires_at": b.ExpiresAt,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return fault.Newf(fault.Expired, "bounty %d expired", b.ID)
}

func (e Engine) bountyPastDue(b domain.Bounty) bool {
	return e.now().Unix() > b.ExpiresAt
}

// FundBounty escrows amount from funder against the bounty. The bounty opens
// once the full reward is escrowed.
func (e Engine) FundBounty(ctx context.Context, bountyID int64, funder string, amount int64) (domain.Bounty, error) {
	if amount <= 0 {
		return domain.Bounty{}, fault.Fieldf(fault.InvalidInput, "amount", "funding amount must be positive")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bounty{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBountyTx(ctx, tx, bountyID)
	if err != nil {
		return domain.Bounty{}, notFoundErr(err, "bounty", bountyID)
	}
	if !bountyTerminal(b.Status) && e.bountyPastDue(b) {
		return domain.Bounty{}, e.expireBountyOnTouch(ctx, tx, b, funder)
	}
	if b.Status != domain.BountyAwaitingFunds && b.Status != domain.BountyOpen {
		return domain.Bounty{}, fault.Newf(fault.InvalidState, "bounty %d is %s, not fundable", bountyID, b.Status)
	}

	if err := e.Ledger.Lock(ctx, tx, b.Currency, funder, amount); err != nil {
		return domain.Bounty{}, err
	}
	b.FundedAmount, err = addChecked(b.FundedAmount, amount)
	if err != nil {
		return domain.Bounty{}, err
	}
	if b.Status == domain.BountyAwaitingFunds && b.FundedAmount >= b.RewardAmount {
		b.Status = domain.BountyOpen
	}
	if err := e.Repo.UpdateBountyTx(ctx, tx, b); err != nil {
		return domain.Bounty{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ModBounty, events.ActFunded, b.GuildID, "bounty", b.ID, funder, events.EventPayload{
		"amount":        amount,
		"funded_amount": b.FundedAmount,
		"status":        b.Status,
	}); err != nil {
		return domain.Bounty{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bounty{}, err
	}
	return b, nil
}

// ClaimBounty assigns the bounty to the first claimer. Exactly one claim
// succeeds; the transition to claimed guards every later one.
func (e Engine) ClaimBounty(ctx context.Context, bountyID int64, claimer string) (domain.Bounty, error) {
	if strings.TrimSpace(claimer) == "" {
		return domain.Bounty{}, fault.Fieldf(fault.InvalidInput, "claimer", "claimer address required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bounty{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBountyTx(ctx, tx, bountyID)
	if err != nil {
		return domain.Bounty{}, notFoundErr(err, "bounty", bountyID)
	}
	if !bountyTerminal(b.Status) && e.bountyPastDue(b) {
		return domain.Bounty{}, e.expireBountyOnTouch(ctx, tx, b, claimer)
	}
	if b.Status != domain.BountyOpen {
		return domain.Bounty{}, fault.Newf(fault.InvalidState, "bounty %d is %s, not open for claims", bountyID, b.Status)
	}

	b.Status = domain.BountyClaimed
	b.Claimer = strPtr(claimer)
	if err := e.Repo.UpdateBountyTx(ctx, tx, b); err != nil {
		return domain.Bounty{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ModBounty, events.ActClaimed, b.GuildID, "bounty", b.ID, claimer, events.EventPayload{
		"claimer": claimer,
	}); err != nil {
		return domain.Bounty{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bounty{}, err
	}
	return b, nil
}

// SubmitWork attaches the claimer's submission and moves the bounty to
// under_review.
func (e Engine) SubmitWork(ctx context.Context, bountyID int64, actor, submissionURL string) (domain.Bounty, error) {
	url := strings.TrimSpace(submissionURL)
	if url == "" || len(url) > maxURLLen {
		return domain.Bounty{}, fault.Fieldf(fault.InvalidInput, "submission_url", "submission url must be 1-%d characters", maxURLLen)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bounty{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBountyTx(ctx, tx, bountyID)
	if err != nil {
		return domain.Bounty{}, notFoundErr(err, "bounty", bountyID)
	}
	if b.Status != domain.BountyClaimed {
		return domain.Bounty{}, fault.Newf(fault.InvalidState, "bounty %d is %s, not awaiting a submission", bountyID, b.Status)
	}
	if b.Claimer == nil || *b.Claimer != actor {
		return domain.Bounty{}, fault.Newf(fault.Unauthorized, "only the claimer may submit work for bounty %d", bountyID)
	}

	b.Status = domain.BountyUnderReview
	b.SubmissionURL = strPtr(url)
	if err := e.Repo.UpdateBountyTx(ctx, tx, b); err != nil {
		return domain.Bounty{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ModBounty, events.ActSubmitted, b.GuildID, "bounty", b.ID, actor, events.EventPayload{
		"submission_url": url,
	}); err != nil {
		return domain.Bounty{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bounty{}, err
	}
	return b, nil
}

// ApproveBounty accepts the submission. Approval is the only path to
// completed and takes an admin of the owning guild.
func (e Engine) ApproveBounty(ctx context.Context, bountyID int64, actor string) (domain.Bounty, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bounty{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBountyTx(ctx, tx, bountyID)
	if err != nil {
		return domain.Bounty{}, notFoundErr(err, "bounty", bountyID)
	}
	if err := e.requireRole(ctx, tx, b.GuildID, actor, domain.RoleAdmin); err != nil {
		return domain.Bounty{}, err
	}
	if b.Status != domain.BountyUnderReview {
		return domain.Bounty{}, fault.Newf(fault.InvalidState, "bounty %d is %s, not under review", bountyID, b.Status)
	}

	b.Status = domain.BountyCompleted
	if err := e.Repo.UpdateBountyTx(ctx, tx, b); err != nil {
		return domain.Bounty{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ModBounty, events.ActApproved, b.GuildID, "bounty", b.ID, actor, events.EventPayload{
		"claimer": b.Claimer,
	}); err != nil {
		return domain.Bounty{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bounty{}, err
	}
	return b, nil
}

// ReleaseEscrow pays the full escrowed amount of a completed bounty out to
// its claimer.
func (e Engine) ReleaseEscrow(ctx context.Context, bountyID int64, actor string) (domain.Bounty, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bounty{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBountyTx(ctx, tx, bountyID)
	if err != nil {
		return domain.Bounty{}, notFoundErr(err, "bounty", bountyID)
	}
	if err := e.requireUnlocked(ctx, tx, domain.ItemKindBounty, b.ID); err != nil {
		return domain.Bounty{}, err
	}
	if b.Status != domain.BountyCompleted {
		return domain.Bounty{}, fault.Newf(fault.InvalidState, "bounty %d is %s, escrow releases only after completion", bountyID, b.Status)
	}
	if b.Claimer == nil {
		return domain.Bounty{}, fault.Newf(fault.InvalidState, "bounty %d has no claimer on record", bountyID)
	}
	if b.FundedAmount == 0 {
		// Zero-reward bounties complete without escrow; nothing to move.
		return b, nil
	}

	amount := b.FundedAmount
	if err := e.Ledger.Release(ctx, tx, b.Currency, *b.Claimer, amount); err != nil {
		return domain.Bounty{}, err
	}
	b.FundedAmount = 0
	if err := e.Repo.UpdateBountyTx(ctx, tx, b); err != nil {
		return domain.Bounty{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ModBounty, events.ActReleased, b.GuildID, "bounty", b.ID, actor, events.EventPayload{
		"amount": amount,
		"to":     *b.Claimer,
	}); err != nil {
		return domain.Bounty{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bounty{}, err
	}
	return b, nil
}

// CancelBounty aborts the bounty and refunds all escrowed funds to its
// creator. Completed and already cancelled bounties stay put; an expired
// bounty can still be cancelled to recover its escrow.
func (e Engine) CancelBounty(ctx context.Context, bountyID int64, actor string) (domain.Bounty, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bounty{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBountyTx(ctx, tx, bountyID)
	if err != nil {
		return domain.Bounty{}, notFoundErr(err, "bounty", bountyID)
	}
	if err := e.requireUnlocked(ctx, tx, domain.ItemKindBounty, b.ID); err != nil {
		return domain.Bounty{}, err
	}
	if b.Status == domain.BountyCompleted || b.Status == domain.BountyCancelled {
		return domain.Bounty{}, fault.Newf(fault.InvalidState, "bounty %d is %s, cannot cancel", bountyID, b.Status)
	}
	if actor != b.Creator {
		if err := e.requireRole(ctx, tx, b.GuildID, actor, domain.RoleAdmin); err != nil {
			return domain.Bounty{}, err
		}
	}

	refunded := b.FundedAmount
	if refunded > 0 {
		if err := e.Ledger.Release(ctx, tx, b.Currency, b.Creator, refunded); err != nil {
			return domain.Bounty{}, err
		}
		b.FundedAmount = 0
	}
	b.Status = domain.BountyCancelled
	if err := e.Repo.UpdateBountyTx(ctx, tx, b); err != nil {
		return domain.Bounty{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ModBounty, events.ActCancelled, b.GuildID, "bounty", b.ID, actor, events.EventPayload{
		"refunded": refunded,
	}); err != nil {
		return domain.Bounty{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bounty{}, err
	}
	return b, nil
}

// ExpireBounty settles a past-due bounty, refunding escrow to the creator.
// It reports false without error when there is nothing to do: the bounty is
// terminal already or its deadline has not passed.
func (e Engine) ExpireBounty(ctx context.Context, bountyID int64, actor string) (domain.Bounty, bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bounty{}, false, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBountyTx(ctx, tx, bountyID)
	if err != nil {
		return domain.Bounty{}, false, notFoundErr(err, "bounty", bountyID)
	}
	if err := e.requireUnlocked(ctx, tx, domain.ItemKindBounty, b.ID); err != nil {
		return domain.Bounty{}, false, err
	}
	if bountyTerminal(b.Status) || !e.bountyPastDue(b) {
		return b, false, nil
	}

	refunded := b.FundedAmount
	if refunded > 0 {
		if err := e.Ledger.Release(ctx, tx, b.Currency, b.Creator, refunded); err != nil {
			return domain.Bounty{}, false, err
		}
		b.FundedAmount = 0
	}
	b.Status = domain.BountyExpired
	if err := e.Repo.UpdateBountyTx(ctx, tx, b); err != nil {
		return domain.Bounty{}, false, err
	}
	if err := e.Events.Append(ctx, tx, events.ModBounty, events.ActExpired, b.GuildID, "bounty", b.ID, actor, events.EventPayload{
		"refunded": refunded,
	}); err != nil {
		return domain.Bounty{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bounty{}, false, err
	}
	return b, true, nil
}
