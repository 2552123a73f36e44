package guildpaysdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal GuildPay HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Guild represents the API guild model.
type Guild struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Owner       string `json:"owner"`
	MemberCount int    `json:"member_count"`
	CreatedAt   string `json:"created_at"`
}

// Member represents a guild membership.
type Member struct {
	GuildID  int64  `json:"guild_id"`
	Address  string `json:"address"`
	Role     string `json:"role"`
	JoinedAt string `json:"joined_at"`
}

// Bounty represents the API bounty model.
type Bounty struct {
	ID            int64   `json:"id"`
	GuildID       int64   `json:"guild_id"`
	Creator       string  `json:"creator"`
	Title         string  `json:"title"`
	Description   string  `json:"description,omitempty"`
	RewardAmount  int64   `json:"reward_amount"`
	FundedAmount  int64   `json:"funded_amount"`
	Currency      string  `json:"currency"`
	Status        string  `json:"status"`
	Claimer       *string `json:"claimer,omitempty"`
	SubmissionURL *string `json:"submission_url,omitempty"`
	CreatedAt     string  `json:"created_at"`
	ExpiresAt     int64   `json:"expires_at"`
}

// Project represents a milestone project.
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
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at"`
}

// Milestone represents one phase of a project.
type Milestone struct {
	ID              int64   `json:"id"`
	ProjectID       int64   `json:"project_id"`
	OrderIndex      int     `json:"order_index"`
	Title           string  `json:"title"`
	Description     string  `json:"description,omitempty"`
	PaymentAmount   int64   `json:"payment_amount"`
	Deadline        int64   `json:"deadline"`
	Status          string  `json:"status"`
	ProofURL        *string `json:"proof_url,omitempty"`
	PaymentReleased bool    `json:"payment_released"`
	Version         int     `json:"version"`
}

// MilestoneInput describes one milestone when creating a project.
type MilestoneInput struct {
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	PaymentAmount int64  `json:"payment_amount"`
	Deadline      int64  `json:"deadline"`
}

// Progress is a project's milestone completion summary.
type Progress struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// Balance is one account's holding in one currency.
type Balance struct {
	Account  string `json:"account"`
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

// DisputeLock freezes settlement on a bounty or milestone.
type DisputeLock struct {
	ItemKind  string `json:"item_kind"`
	ItemID    int64  `json:"item_id"`
	LockedBy  string `json:"locked_by"`
	CreatedAt string `json:"created_at"`
}

// Event is one entry in the notification log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Module     string `json:"module"`
	Action     string `json:"action"`
	GuildID    int64  `json:"guild_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   int64  `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateGuild creates a guild owned by the authenticated actor.
func (c *Client) CreateGuild(ctx context.Context, name, description string) (Guild, error) {
	body := map[string]any{"name": name}
	if description != "" {
		body["description"] = description
	}
	var resp Guild
	err := c.do(ctx, http.MethodPost, "v0/guilds", body, &resp)
	return resp, err
}

// AddMember enrolls an address into a guild.
func (c *Client) AddMember(ctx context.Context, guildID int64, address, role string) (Member, error) {
	body := map[string]any{"address": address, "role": role}
	var resp Member
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/guilds/%d/members", guildID), body, &resp)
	return resp, err
}

// CreateBounty opens a bounty in a guild.
func (c *Client) CreateBounty(ctx context.Context, guildID int64, title string, reward int64, expiresAt int64) (Bounty, error) {
	body := map[string]any{
		"title":         title,
		"reward_amount": reward,
		"expires_at":    expiresAt,
	}
	var resp Bounty
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/guilds/%d/bounties", guildID), body, &resp)
	return resp, err
}

// FundBounty locks escrow value from the caller's account.
func (c *Client) FundBounty(ctx context.Context, bountyID, amount int64) (Bounty, error) {
	var resp Bounty
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/bounties/%d/fund", bountyID), map[string]any{"amount": amount}, &resp)
	return resp, err
}

// ClaimBounty claims an open bounty for the caller.
func (c *Client) ClaimBounty(ctx context.Context, bountyID int64) (Bounty, error) {
	var resp Bounty
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/bounties/%d/claim", bountyID), nil, &resp)
	return resp, err
}

// SubmitBounty submits work for review.
func (c *Client) SubmitBounty(ctx context.Context, bountyID int64, submissionURL string) (Bounty, error) {
	var resp Bounty
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/bounties/%d/submit", bountyID), map[string]any{"submission_url": submissionURL}, &resp)
	return resp, err
}

// ApproveBounty accepts submitted work.
func (c *Client) ApproveBounty(ctx context.Context, bountyID int64) (Bounty, error) {
	var resp Bounty
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/bounties/%d/approve", bountyID), nil, &resp)
	return resp, err
}

// ReleaseBounty pays the escrow to the claimer.
func (c *Client) ReleaseBounty(ctx context.Context, bountyID int64) (Bounty, error) {
	var resp Bounty
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/bounties/%d/release", bountyID), nil, &resp)
	return resp, err
}

// CreateProject creates a milestone project.
func (c *Client) CreateProject(ctx context.Context, guildID int64, contributor, treasury string, sequential bool, milestones []MilestoneInput) (Project, []Milestone, error) {
	body := map[string]any{
		"contributor":   contributor,
		"treasury":      treasury,
		"is_sequential": sequential,
		"milestones":    milestones,
	}
	var resp struct {
		Project    Project     `json:"project"`
		Milestones []Milestone `json:"milestones"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/guilds/%d/projects", guildID), body, &resp)
	return resp.Project, resp.Milestones, err
}

// StartMilestone moves a pending milestone into progress.
func (c *Client) StartMilestone(ctx context.Context, milestoneID int64) (Milestone, error) {
	var resp Milestone
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/milestones/%d/start", milestoneID), nil, &resp)
	return resp, err
}

// SubmitMilestone submits proof of completion.
func (c *Client) SubmitMilestone(ctx context.Context, milestoneID int64, proofURL string) (Milestone, error) {
	var resp Milestone
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/milestones/%d/submit", milestoneID), map[string]any{"proof_url": proofURL}, &resp)
	return resp, err
}

// ApproveMilestone approves a submission and releases its payment.
func (c *Client) ApproveMilestone(ctx context.Context, milestoneID int64) (Milestone, error) {
	var resp Milestone
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/milestones/%d/approve", milestoneID), nil, &resp)
	return resp, err
}

// ProjectProgress returns the approved/total milestone counts.
func (c *Client) ProjectProgress(ctx context.Context, projectID int64) (Progress, error) {
	var resp Progress
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/projects/%d/progress", projectID), nil, &resp)
	return resp, err
}

// Deposit credits an account.
func (c *Client) Deposit(ctx context.Context, account, currency string, amount int64) (Balance, error) {
	body := map[string]any{"account": account, "amount": amount}
	if currency != "" {
		body["currency"] = currency
	}
	var resp Balance
	err := c.do(ctx, http.MethodPost, "v0/ledger/deposit", body, &resp)
	return resp, err
}

// Balances lists an account's balances across currencies.
func (c *Client) Balances(ctx context.Context, account string) ([]Balance, error) {
	var resp []Balance
	err := c.do(ctx, http.MethodGet, "v0/ledger/accounts/"+account+"/balances", nil, &resp)
	return resp, err
}

// LockDispute freezes settlement on an item.
func (c *Client) LockDispute(ctx context.Context, itemKind string, itemID int64) (DisputeLock, error) {
	body := map[string]any{"item_kind": itemKind, "item_id": itemID}
	var resp DisputeLock
	err := c.do(ctx, http.MethodPost, "v0/disputes", body, &resp)
	return resp, err
}

// UnlockDispute lifts a dispute lock.
func (c *Client) UnlockDispute(ctx context.Context, itemKind string, itemID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("v0/disputes/%s/%d", itemKind, itemID), nil, nil)
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// EventsAfter returns events with ids greater than the cursor, ascending.
func (c *Client) EventsAfter(ctx context.Context, cursor int64, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("v0/events?after=%d", cursor)
	if limit > 0 {
		endpoint = fmt.Sprintf("%s&limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
