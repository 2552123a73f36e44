// Package engine implements the guild payment state machines: bounties,
// milestone projects, membership and dispute locks. Every mutating operation
// runs read, validate, write inside a single transaction and appends its
// notification events in the same transaction.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"guildpay/internal/config"
	"guildpay/internal/domain"
	"guildpay/internal/engine/membership"
	"guildpay/internal/events"
	"guildpay/internal/fault"
	"guildpay/internal/ledger"
	"guildpay/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Ledger  ledger.Ledger
	Members membership.Service
	Config  *config.Config
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Ledger:  ledger.Ledger{DB: db},
		Members: membership.Service{DB: db},
		Config:  cfg,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) defaultCurrency(currency string) string {
	if currency != "" {
		return currency
	}
	if e.Config != nil && e.Config.Defaults.Currency != "" {
		return e.Config.Defaults.Currency
	}
	return "USDC"
}

// requireRole checks the actor holds at least the given role in the guild.
func (e Engine) requireRole(ctx context.Context, tx *sql.Tx, guildID int64, actor, role string) error {
	ok, err := e.Members.HasPermissionTx(ctx, tx, guildID, actor, role)
	if err != nil {
		return err
	}
	if !ok {
		return fault.Newf(fault.Unauthorized, "%s requires %s role in guild %d", actor, role, guildID)
	}
	return nil
}

// requireUnlocked fails when the item carries an active dispute lock.
func (e Engine) requireUnlocked(ctx context.Context, tx *sql.Tx, itemKind string, itemID int64) error {
	locked, err := e.Repo.IsDisputeLockedTx(ctx, tx, itemKind, itemID)
	if err != nil {
		return err
	}
	if locked {
		return fault.Newf(fault.DisputeLocked, "%s %d is locked pending dispute resolution", itemKind, itemID)
	}
	return nil
}

// addChecked sums two non-negative amounts, failing on int64 overflow.
func addChecked(a, b int64) (int64, error) {
	if a > math.MaxInt64-b {
		return 0, fault.Newf(fault.Overflow, "amount overflow adding %d and %d", a, b)
	}
	return a + b, nil
}

func notFoundErr(err error, what string, id int64) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fault.Newf(fault.NotFound, "%s %d not found", what, id)
	}
	return err
}

func strPtr(s string) *string {
	return &s
}

// guildForItem resolves the owning guild of a dispute-lockable item.
func (e Engine) guildForItem(ctx context.Context, itemKind string, itemID int64) (int64, error) {
	switch itemKind {
	case domain.ItemKindBounty:
		b, err := e.Repo.GetBounty(ctx, itemID)
		if err != nil {
			return 0, notFoundErr(err, "bounty", itemID)
		}
		return b.GuildID, nil
	case domain.ItemKindMilestone:
		m, err := e.Repo.GetMilestone(ctx, itemID)
		if err != nil {
			return 0, notFoundErr(err, "milestone", itemID)
		}
		p, err := e.Repo.GetProject(ctx, m.ProjectID)
		if err != nil {
			return 0, notFoundErr(err, "project", m.ProjectID)
		}
		return p.GuildID, nil
	default:
		return 0, fault.Fieldf(fault.InvalidInput, "item_kind", "unknown item kind %q", itemKind)
	}
}
