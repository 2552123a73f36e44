package engine

import (
	"context"

	"guildpay/internal/domain"
	"guildpay/internal/events"
	"guildpay/internal/fault"
)

// LockDispute freezes settlement on a bounty or milestone. Only an admin of
// the owning guild may lock.
func (e Engine) LockDispute(ctx context.Context, itemKind string, itemID int64, actor string) (domain.DisputeLock, error) {
	guildID, err := e.guildForItem(ctx, itemKind, itemID)
	if err != nil {
		return domain.DisputeLock{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DisputeLock{}, err
	}
	defer tx.Rollback()

	if err := e.requireRole(ctx, tx, guildID, actor, domain.RoleAdmin); err != nil {
		return domain.DisputeLock{}, err
	}
	locked, err := e.Repo.IsDisputeLockedTx(ctx, tx, itemKind, itemID)
	if err != nil {
		return domain.DisputeLock{}, err
	}
	if locked {
		return domain.DisputeLock{}, fault.Newf(fault.InvalidState, "%s %d is already locked", itemKind, itemID)
	}

	l := domain.DisputeLock{
		ItemKind:  itemKind,
		ItemID:    itemID,
		LockedBy:  actor,
		CreatedAt: e.nowRFC3339(),
	}
	if err := e.Repo.InsertDisputeLockTx(ctx, tx, l); err != nil {
		return domain.DisputeLock{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ModDispute, events.ActLocked, guildID, itemKind, itemID, actor, events.EventPayload{}); err != nil {
		return domain.DisputeLock{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DisputeLock{}, err
	}
	return l, nil
}

// UnlockDispute lifts a dispute lock.
func (e Engine) UnlockDispute(ctx context.Context, itemKind string, itemID int64, actor string) error {
	guildID, err := e.guildForItem(ctx, itemKind, itemID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.requireRole(ctx, tx, guildID, actor, domain.RoleAdmin); err != nil {
		return err
	}
	if err := e.Repo.DeleteDisputeLockTx(ctx, tx, itemKind, itemID); err != nil {
		return notFoundErr(err, itemKind+" dispute lock", itemID)
	}
	if err := e.Events.Append(ctx, tx, events.ModDispute, events.ActUnlocked, guildID, itemKind, itemID, actor, events.EventPayload{}); err != nil {
		return err
	}
	return tx.Commit()
}

// IsDisputeLocked answers whether settlement is frozen for the item.
func (e Engine) IsDisputeLocked(ctx context.Context, itemKind string, itemID int64) (bool, error) {
	return e.Repo.IsDisputeLocked(ctx, itemKind, itemID)
}
