package repo

import (
	"context"
	"database/sql"

	"guildpay/internal/domain"
)

const bountyCols = `id,guild_id,creator,title,description,reward_amount,funded_amount,currency,status,claimer,submission_url,created_at,expires_at`

func (r Repo) InsertBountyTx(ctx context.Context, tx *sql.Tx, b domain.Bounty) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO bounties(guild_id,creator,title,description,reward_amount,funded_amount,currency,status,claimer,submission_url,created_at,expires_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.GuildID, b.Creator, b.Title, nullable(b.Description), b.RewardAmount, b.FundedAmount, b.Currency, b.Status,
		nullableStringPtr(b.Claimer), nullableStringPtr(b.SubmissionURL), b.CreatedAt, b.ExpiresAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) UpdateBountyTx(ctx context.Context, tx *sql.Tx, b domain.Bounty) error {
	_, err := tx.ExecContext(ctx, `UPDATE bounties SET reward_amount=?, funded_amount=?, status=?, claimer=?, submission_url=?, expires_at=? WHERE id=?`,
		b.RewardAmount, b.FundedAmount, b.Status, nullableStringPtr(b.Claimer), nullableStringPtr(b.SubmissionURL), b.ExpiresAt, b.ID)
	return err
}

func scanBounty(scan func(dest ...any) error) (domain.Bounty, error) {
	var b domain.Bounty
	var desc, claimer, submission sql.NullString
	err := scan(&b.ID, &b.GuildID, &b.Creator, &b.Title, &desc, &b.RewardAmount, &b.FundedAmount, &b.Currency, &b.Status,
		&claimer, &submission, &b.CreatedAt, &b.ExpiresAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if err != nil {
		return b, err
	}
	if desc.Valid {
		b.Description = desc.String
	}
	if claimer.Valid {
		b.Claimer = &claimer.String
	}
	if submission.Valid {
		b.SubmissionURL = &submission.String
	}
	return b, nil
}

func (r Repo) GetBounty(ctx context.Context, id int64) (domain.Bounty, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+bountyCols+` FROM bounties WHERE id=?`, id)
	return scanBounty(row.Scan)
}

func (r Repo) GetBountyTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Bounty, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+bountyCols+` FROM bounties WHERE id=?`, id)
	return scanBounty(row.Scan)
}

func (r Repo) ListGuildBounties(ctx context.Context, guildID int64) ([]domain.Bounty, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+bountyCols+` FROM bounties WHERE guild_id=? ORDER BY id`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Bounty
	for rows.Next() {
		b, err := scanBounty(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
