package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"guildpay/internal/domain"
	"guildpay/internal/events"
	"guildpay/internal/fault"
	"guildpay/internal/repo"
)

// ProjectCreateOptions are parameters for creating a milestone project.
type ProjectCreateOptions struct {
	GuildID      int64
	Actor        string
	Contributor  string
	Treasury     string
	Currency     string
	TotalAmount  int64
	IsSequential bool
	Milestones   []domain.MilestoneInput
}

func validateMilestoneInput(in domain.MilestoneInput, now int64) error {
	title := strings.TrimSpace(in.Title)
	if title == "" || len(title) > maxBountyTitleLen {
		return fault.Fieldf(fault.InvalidInput, "title", "milestone title must be 1-%d characters", maxBountyTitleLen)
	}
	if in.PaymentAmount <= 0 {
		return fault.Fieldf(fault.InvalidInput, "payment_amount", "milestone payment must be positive")
	}
	if in.Deadline <= now {
		return fault.Fieldf(fault.InvalidInput, "deadline", "milestone deadline must be in the future")
	}
	return nil
}

// CreateProject creates a project with its initial milestone plan. The
// milestone payments must sum to the project total; every unit of the total
// is allocated to a milestone from the start.
func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, []domain.Milestone, error) {
	if strings.TrimSpace(opts.Contributor) == "" {
		return domain.Project{}, nil, fault.Fieldf(fault.InvalidInput, "contributor", "contributor address required")
	}
	if strings.TrimSpace(opts.Treasury) == "" {
		return domain.Project{}, nil, fault.Fieldf(fault.InvalidInput, "treasury", "treasury account required")
	}
	if len(opts.Milestones) == 0 {
		return domain.Project{}, nil, fault.Fieldf(fault.InvalidInput, "milestones", "at least one milestone required")
	}
	nowUnix := e.now().Unix()
	var sum int64
	for _, in := range opts.Milestones {
		if err := validateMilestoneInput(in, nowUnix); err != nil {
			return domain.Project{}, nil, err
		}
		var err error
		sum, err = addChecked(sum, in.PaymentAmount)
		if err != nil {
			return domain.Project{}, nil, err
		}
	}
	if opts.TotalAmount != 0 && opts.TotalAmount != sum {
		return domain.Project{}, nil, fault.Fieldf(fault.InvalidInput, "total_amount", "milestone payments sum to %d, not %d", sum, opts.TotalAmount)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, nil, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetGuildTx(ctx, tx, opts.GuildID); err != nil {
		return domain.Project{}, nil, notFoundErr(err, "guild", opts.GuildID)
	}
	if err := e.requireRole(ctx, tx, opts.GuildID, opts.Actor, domain.RoleAdmin); err != nil {
		return domain.Project{}, nil, err
	}

	now := e.nowRFC3339()
	p := domain.Project{
		GuildID:         opts.GuildID,
		Contributor:     opts.Contributor,
		Treasury:        opts.Treasury,
		Currency:        e.defaultCurrency(opts.Currency),
		TotalAmount:     sum,
		AllocatedAmount: sum,
		ReleasedAmount:  0,
		IsSequential:    opts.IsSequential,
		Status:          domain.ProjectActive,
		CreatedAt:       now,
	}
	id, err := e.Repo.InsertProjectTx(ctx, tx, p)
	if err != nil {
		return domain.Project{}, nil, err
	}
	p.ID = id

	milestones := make([]domain.Milestone, 0, len(opts.Milestones))
	for i, in := range opts.Milestones {
		m := domain.Milestone{
			ProjectID:     id,
			OrderIndex:    i,
			Title:         strings.TrimSpace(in.Title),
			Description:   in.Description,
			PaymentAmount: in.PaymentAmount,
			Deadline:      in.Deadline,
			Status:        domain.MilestonePending,
			CreatedAt:     now,
			LastUpdatedAt: now,
			Version:       1,
		}
		mid, err := e.Repo.InsertMilestoneTx(ctx, tx, m)
		if err != nil {
			return domain.Project{}, nil, err
		}
		m.ID = mid
		milestones = append(milestones, m)
	}

	if err := e.Events.Append(ctx, tx, events.ModMilestone, events.ActCreated, p.GuildID, "project", id, opts.Actor, events.EventPayload{
		"contributor":   p.Contributor,
		"total_amount":  p.TotalAmount,
		"currency":      p.Currency,
		"is_sequential": p.IsSequential,
		"milestones":    len(milestones),
	}); err != nil {
		return domain.Project{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, nil, err
	}
	return p, milestones, nil
}

// AddMilestone appends a milestone to an active project, growing the total
// and allocated amounts by its payment.
func (e Engine) AddMilestone(ctx context.Context, projectID int64, actor string, in domain.MilestoneInput) (domain.Milestone, error) {
	if err := validateMilestoneInput(in, e.now().Unix()); err != nil {
		return domain.Milestone{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Milestone{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Milestone{}, notFoundErr(err, "project", projectID)
	}
	if err := e.requireRole(ctx, tx, p.GuildID, actor, domain.RoleAdmin); err != nil {
		return domain.Milestone{}, err
	}
	if p.Status != domain.ProjectActive {
		return domain.Milestone{}, fault.Newf(fault.InvalidState, "project %d is %s, milestones can only be added while active", projectID, p.Status)
	}

	order, err := e.Repo.NextOrderIndexTx(ctx, tx, projectID)
	if err != nil {
		return domain.Milestone{}, err
	}
	now := e.nowRFC3339()
	m := domain.Milestone{
		ProjectID:     projectID,
		OrderIndex:    order,
		Title:         strings.TrimSpace(in.Title),
		Description:   in.Description,
		PaymentAmount: in.PaymentAmount,
		Deadline:      in.Deadline,
		Status:        domain.MilestonePending,
		CreatedAt:     now,
		LastUpdatedAt: now,
		Version:       1,
	}
	mid, err := e.Repo.InsertMilestoneTx(ctx, tx, m)
	if err != nil {
		return domain.Milestone{}, err
	}
	m.ID = mid

	p.TotalAmount, err = addChecked(p.TotalAmount, in.PaymentAmount)
	if err != nil {
		return domain.Milestone{}, err
	}
	p.AllocatedAmount, err = addChecked(p.AllocatedAmount, in.PaymentAmount)
	if err != nil {
		return domain.Milestone{}, err
	}
	if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
		return domain.Milestone{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ModMilestone, events.ActAdded, p.GuildID, "milestone", mid, actor, events.EventPayload{
		"project_id":     projectID,
		"order_index":    order,
		"payment_amount": in.PaymentAmount,
	}); err != nil {
		return domain.Milestone{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Milestone{}, err
	}
	return m, nil
}

// expireMilestoneOnTouch records the expired transition and commits it before
// failing the touched operation.
func (e Engine) expireMilestoneOnTouch(ctx context.Context, tx *sql.Tx, p domain.Project, m domain.Milestone, actor string) error {
	m.Status = domain.MilestoneExpired
	m.Version++
	m.LastUpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateMilestoneTx(ctx, tx, m); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.ModMilestone, events.ActExpired, p.GuildID, "milestone", m.ID, actor, events.EventPayload{
		"deadline": m.Deadline,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return fault.New(fault.Expired, "milestone expired")
}

// StartMilestone moves a pending milestone to in_progress. Only the project
// contributor may start work. In a sequential project the preceding milestone
// must be approved first.
func (e Engine) StartMilestone(ctx context.Context, milestoneID int64, actor string) (domain.Milestone, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Milestone{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMilestoneTx(ctx, tx, milestoneID)
	if err != nil {
		return domain.Milestone{}, notFoundErr(err, "milestone", milestoneID)
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, m.ProjectID)
	if err != nil {
		return domain.Milestone{}, notFoundErr(err, "project", m.ProjectID)
	}
	if actor != p.Contributor {
		return domain.Milestone{}, fault.Newf(fault.Unauthorized, "only the project contributor may start milestone %d", milestoneID)
	}
	if p.Status != domain.ProjectActive {
		return domain.Milestone{}, fault.Newf(fault.InvalidState, "project %d is %s, not active", p.ID, p.Status)
	}
	if m.Status == domain.MilestonePending && e.now().Unix() > m.Deadline {
		return domain.Milestone{}, e.expireMilestoneOnTouch(ctx, tx, p, m, actor)
	}
	if m.Status != domain.MilestonePending {
		return domain.Milestone{}, fault.Newf(fault.InvalidState, "milestone %d is %s, not pending", milestoneID, m.Status)
	}
	if p.IsSequential {
		prev, err := e.Repo.PrecedingMilestoneTx(ctx, tx, m.ProjectID, m.OrderIndex)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return domain.Milestone{}, err
		}
		if err == nil && prev.Status != domain.MilestoneApproved {
			return domain.Milestone{}, fault.New(fault.InvalidState, "previous milestone not completed")
		}
	}

	m.Status = domain.MilestoneInProgress
	m.Version++
	m.LastUpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateMilestoneTx(ctx, tx, m); err != nil {
		return domain.Milestone{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ModMilestone, events.ActStarted, p.GuildID, "milestone", m.ID, actor, events.EventPayload{}); err != nil {
		return domain.Milestone{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Milestone{}, err
	}
	return m, nil
}

// SubmitMilestone attaches proof of work and moves the milestone to
// submitted for review.
func (e Engine) SubmitMilestone(ctx context.Context, milestoneID int64, actor, proofURL string) (domain.Milestone, error) {
	url := strings.TrimSpace(proofURL)
	if url == "" || len(url) > maxURLLen {
		return domain.Milestone{}, fault.Fieldf(fault.InvalidInput, "proof_url", "proof url must be 1-%d characters", maxURLLen)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Milestone{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMilestoneTx(ctx, tx, milestoneID)
	if err != nil {
		return domain.Milestone{}, notFoundErr(err, "milestone", milestoneID)
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, m.ProjectID)
	if err != nil {
		return domain.Milestone{}, notFoundErr(err, "project", m.ProjectID)
	}
	if actor != p.Contributor {
		return domain.Milestone{}, fault.Newf(fault.Unauthorized, "only the project contributor may submit milestone %d", milestoneID)
	}
	if m.Status != domain.MilestoneInProgress {
		return domain.Milestone{}, fault.Newf(fault.InvalidState, "milestone %d is %s, not in progress", milestoneID, m.Status)
	}

	submitted := e.now().Unix()
	m.Status = domain.MilestoneSubmitted
	m.ProofURL = strPtr(url)
	m.SubmittedAt = &submitted
	m.Version++
	m.LastUpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateMilestoneTx(ctx, tx, m); err != nil {
		return domain.Milestone{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ModMilestone, events.ActSubmitted, p.GuildID, "milestone", m.ID, actor, events.EventPayload{
		"proof_url": url,
	}); err != nil {
		return domain.Milestone{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Milestone{}, err
	}
	return m, nil
}

// ApproveMilestone accepts submitted work and pays the milestone amount from
// the project treasury to the contributor in the same transaction. When the
// last milestone is approved the project completes.
func (e Engine) ApproveMilestone(ctx context.Context, milestoneID int64, actor string) (domain.Milestone, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Milestone{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMilestoneTx(ctx, tx, milestoneID)
	if err != nil {
		return domain.Milestone{}, notFoundErr(err, "milestone", milestoneID)
	}
	if err := e.requireUnlocked(ctx, tx, domain.ItemKindMilestone, m.ID); err != nil {
		return domain.Milestone{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, m.ProjectID)
	if err != nil {
		return domain.Milestone{}, notFoundErr(err, "project", m.ProjectID)
	}
	if err := e.requireRole(ctx, tx, p.GuildID, actor, domain.RoleAdmin); err != nil {
		return domain.Milestone{}, err
	}
	if m.Status != domain.MilestoneSubmitted {
		return domain.Milestone{}, fault.Newf(fault.InvalidState, "milestone %d is %s, not submitted", milestoneID, m.Status)
	}
	if p.Status != domain.ProjectActive {
		return domain.Milestone{}, fault.Newf(fault.InvalidState, "project %d is %s, not active", p.ID, p.Status)
	}

	if err := e.Ledger.Transfer(ctx, tx, p.Currency, p.Treasury, p.Contributor, m.PaymentAmount); err != nil {
		return domain.Milestone{}, err
	}
	m.Status = domain.MilestoneApproved
	m.PaymentReleased = true
	m.Version++
	m.LastUpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateMilestoneTx(ctx, tx, m); err != nil {
		return domain.Milestone{}, err
	}
	p.ReleasedAmount, err = addChecked(p.ReleasedAmount, m.PaymentAmount)
	if err != nil {
		return domain.Milestone{}, err
	}

	approved, total, err := e.Repo.CountMilestonesByStatusTx(ctx, tx, p.ID, domain.MilestoneApproved)
	if err != nil {
		return domain.Milestone{}, err
	}
	completed := approved == total
	if completed {
		p.Status = domain.ProjectCompleted
	}
	if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
		return domain.Milestone{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ModMilestone, events.ActApproved, p.GuildID, "milestone", m.ID, actor, events.EventPayload{
		"payment_amount": m.PaymentAmount,
		"to":             p.Contributor,
	}); err != nil {
		return domain.Milestone{}, err
	}
	if completed {
		if err := e.Events.Append(ctx, tx, events.ModMilestone, events.ActCompleted, p.GuildID, "project", p.ID, actor, events.EventPayload{
			"released_amount": p.ReleasedAmount,
		}); err != nil {
			return domain.Milestone{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Milestone{}, err
	}
	return m, nil
}

// RejectMilestone declines submitted work. The reason travels in the event
// log only.
func (e Engine) RejectMilestone(ctx context.Context, milestoneID int64, actor, reason string) (domain.Milestone, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Milestone{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMilestoneTx(ctx, tx, milestoneID)
	if err != nil {
		return domain.Milestone{}, notFoundErr(err, "milestone", milestoneID)
	}
	if err := e.requireUnlocked(ctx, tx, domain.ItemKindMilestone, m.ID); err != nil {
		return domain.Milestone{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, m.ProjectID)
	if err != nil {
		return domain.Milestone{}, notFoundErr(err, "project", m.ProjectID)
	}
	if err := e.requireRole(ctx, tx, p.GuildID, actor, domain.RoleAdmin); err != nil {
		return domain.Milestone{}, err
	}
	if m.Status != domain.MilestoneSubmitted {
		return domain.Milestone{}, fault.Newf(fault.InvalidState, "milestone %d is %s, not submitted", milestoneID, m.Status)
	}

	m.Status = domain.MilestoneRejected
	m.Version++
	m.LastUpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateMilestoneTx(ctx, tx, m); err != nil {
		return domain.Milestone{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ModMilestone, events.ActRejected, p.GuildID, "milestone", m.ID, actor, events.EventPayload{
		"reason": reason,
	}); err != nil {
		return domain.Milestone{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Milestone{}, err
	}
	return m, nil
}

// ExtendMilestoneDeadline pushes the deadline out. Extending an expired
// milestone revives it to pending so work can still start.
func (e Engine) ExtendMilestoneDeadline(ctx context.Context, milestoneID int64, actor string, newDeadline int64) (domain.Milestone, error) {
	if newDeadline <= e.now().Unix() {
		return domain.Milestone{}, fault.Fieldf(fault.InvalidInput, "deadline", "new deadline must be in the future")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Milestone{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMilestoneTx(ctx, tx, milestoneID)
	if err != nil {
		return domain.Milestone{}, notFoundErr(err, "milestone", milestoneID)
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, m.ProjectID)
	if err != nil {
		return domain.Milestone{}, notFoundErr(err, "project", m.ProjectID)
	}
	if err := e.requireRole(ctx, tx, p.GuildID, actor, domain.RoleAdmin); err != nil {
		return domain.Milestone{}, err
	}
	if m.Status == domain.MilestoneApproved {
		return domain.Milestone{}, fault.Newf(fault.InvalidState, "milestone %d is approved, deadline is settled", milestoneID)
	}

	m.Deadline = newDeadline
	if m.Status == domain.MilestoneExpired {
		m.Status = domain.MilestonePending
	}
	m.Version++
	m.LastUpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateMilestoneTx(ctx, tx, m); err != nil {
		return domain.Milestone{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ModMilestone, events.ActExtended, p.GuildID, "milestone", m.ID, actor, events.EventPayload{
		"deadline": newDeadline,
	}); err != nil {
		return domain.Milestone{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Milestone{}, err
	}
	return m, nil
}

// CancelProject halts an active project. Unreleased treasury funds stay in
// the treasury account.
func (e Engine) CancelProject(ctx context.Context, projectID int64, actor string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, notFoundErr(err, "project", projectID)
	}
	if err := e.requireRole(ctx, tx, p.GuildID, actor, domain.RoleAdmin); err != nil {
		return domain.Project{}, err
	}
	if p.Status != domain.ProjectActive {
		return domain.Project{}, fault.Newf(fault.InvalidState, "project %d is %s, not active", projectID, p.Status)
	}

	p.Status = domain.ProjectCancelled
	if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ModMilestone, events.ActCancelled, p.GuildID, "project", p.ID, actor, events.EventPayload{
		"released_amount": p.ReleasedAmount,
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ProjectProgress reports approved milestones over total with a floor
// percentage.
func (e Engine) ProjectProgress(ctx context.Context, projectID int64) (domain.Progress, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.Progress{}, notFoundErr(err, "project", projectID)
	}
	approved, total, err := e.Repo.CountMilestonesByStatus(ctx, projectID, domain.MilestoneApproved)
	if err != nil {
		return domain.Progress{}, err
	}
	pct := 0
	if total > 0 {
		pct = approved * 100 / total
	}
	return domain.Progress{Completed: approved, Total: total, Percentage: pct}, nil
}
