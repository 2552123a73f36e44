package repo

import (
	"context"
	"database/sql"

	"guildpay/internal/domain"
)

func (r Repo) InsertDisputeLockTx(ctx context.Context, tx *sql.Tx, l domain.DisputeLock) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO dispute_locks(item_kind,item_id,locked_by,created_at) VALUES (?,?,?,?)`,
		l.ItemKind, l.ItemID, l.LockedBy, l.CreatedAt)
	return err
}

func (r Repo) DeleteDisputeLockTx(ctx context.Context, tx *sql.Tx, itemKind string, itemID int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM dispute_locks WHERE item_kind=? AND item_id=?`, itemKind, itemID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IsDisputeLocked answers the dispute lock oracle query.
func (r Repo) IsDisputeLocked(ctx context.Context, itemKind string, itemID int64) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM dispute_locks WHERE item_kind=? AND item_id=? LIMIT 1`, itemKind, itemID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) IsDisputeLockedTx(ctx context.Context, tx *sql.Tx, itemKind string, itemID int64) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM dispute_locks WHERE item_kind=? AND item_id=? LIMIT 1`, itemKind, itemID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListDisputeLocks(ctx context.Context) ([]domain.DisputeLock, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT item_kind,item_id,locked_by,created_at FROM dispute_locks ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DisputeLock
	for rows.Next() {
		var l domain.DisputeLock
		if err := rows.Scan(&l.ItemKind, &l.ItemID, &l.LockedBy, &l.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
