package repo

import (
	"context"
	"database/sql"

	"guildpay/internal/domain"
)

func (r Repo) InsertGuildTx(ctx context.Context, tx *sql.Tx, g domain.Guild) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO guilds(name,description,owner,member_count,created_at) VALUES (?,?,?,?,?)`,
		g.Name, nullable(g.Description), g.Owner, g.MemberCount, g.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanGuild(row *sql.Row) (domain.Guild, error) {
	var g domain.Guild
	var desc sql.NullString
	err := row.Scan(&g.ID, &g.Name, &desc, &g.Owner, &g.MemberCount, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if desc.Valid {
		g.Description = desc.String
	}
	return g, err
}

const guildCols = `id,name,description,owner,member_count,created_at`

func (r Repo) GetGuild(ctx context.Context, id int64) (domain.Guild, error) {
	return scanGuild(r.DB.QueryRowContext(ctx, `SELECT `+guildCols+` FROM guilds WHERE id=?`, id))
}

func (r Repo) GetGuildTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Guild, error) {
	return scanGuild(tx.QueryRowContext(ctx, `SELECT `+guildCols+` FROM guilds WHERE id=?`, id))
}

func (r Repo) UpdateGuildMemberCountTx(ctx context.Context, tx *sql.Tx, id int64, count int) error {
	_, err := tx.ExecContext(ctx, `UPDATE guilds SET member_count=? WHERE id=?`, count, id)
	return err
}

func (r Repo) ListGuilds(ctx context.Context) ([]domain.Guild, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+guildCols+` FROM guilds ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Guild
	for rows.Next() {
		var g domain.Guild
		var desc sql.NullString
		if err := rows.Scan(&g.ID, &g.Name, &desc, &g.Owner, &g.MemberCount, &g.CreatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			g.Description = desc.String
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) InsertMemberTx(ctx context.Context, tx *sql.Tx, m domain.Member) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO guild_members(guild_id,address,role,joined_at) VALUES (?,?,?,?)`,
		m.GuildID, m.Address, m.Role, m.JoinedAt)
	return err
}

func (r Repo) GetMember(ctx context.Context, guildID int64, address string) (domain.Member, error) {
	var m domain.Member
	err := r.DB.QueryRowContext(ctx, `SELECT guild_id,address,role,joined_at FROM guild_members WHERE guild_id=? AND address=?`,
		guildID, address).Scan(&m.GuildID, &m.Address, &m.Role, &m.JoinedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) GetMemberTx(ctx context.Context, tx *sql.Tx, guildID int64, address string) (domain.Member, error) {
	var m domain.Member
	err := tx.QueryRowContext(ctx, `SELECT guild_id,address,role,joined_at FROM guild_members WHERE guild_id=? AND address=?`,
		guildID, address).Scan(&m.GuildID, &m.Address, &m.Role, &m.JoinedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) UpdateMemberRoleTx(ctx context.Context, tx *sql.Tx, guildID int64, address, role string) error {
	_, err := tx.ExecContext(ctx, `UPDATE guild_members SET role=? WHERE guild_id=? AND address=?`, role, guildID, address)
	return err
}

func (r Repo) DeleteMemberTx(ctx context.Context, tx *sql.Tx, guildID int64, address string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM guild_members WHERE guild_id=? AND address=?`, guildID, address)
	return err
}

func (r Repo) ListMembers(ctx context.Context, guildID int64) ([]domain.Member, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT guild_id,address,role,joined_at FROM guild_members WHERE guild_id=? ORDER BY joined_at, address`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.GuildID, &m.Address, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) CountOwnersTx(ctx context.Context, tx *sql.Tx, guildID int64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM guild_members WHERE guild_id=? AND role=?`, guildID, domain.RoleOwner).Scan(&n)
	return n, err
}
