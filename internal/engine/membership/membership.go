// Package membership is the permission oracle: it answers whether an account
// holds at least a given role in a guild. Roles form a total order
// owner > admin > member > contributor.
package membership

import (
	"context"
	"database/sql"

	"guildpay/internal/domain"
)

// Service answers role queries backed by the guild_members table.
type Service struct {
	DB *sql.DB
}

func (s Service) member(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, guildID int64, address string) (string, bool, error) {
	var role string
	err := q.QueryRowContext(ctx, `SELECT role FROM guild_members WHERE guild_id=? AND address=?`, guildID, address).Scan(&role)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return role, true, nil
}

// HasPermission reports whether address holds at least requiredRole in the
// guild. Non-members hold no role at all.
func (s Service) HasPermission(ctx context.Context, guildID int64, address, requiredRole string) (bool, error) {
	role, ok, err := s.member(ctx, s.DB, guildID, address)
	if err != nil || !ok {
		return false, err
	}
	return domain.RoleAllows(role, requiredRole), nil
}

// HasPermissionTx is HasPermission inside the caller's transaction.
func (s Service) HasPermissionTx(ctx context.Context, tx *sql.Tx, guildID int64, address, requiredRole string) (bool, error) {
	role, ok, err := s.member(ctx, tx, guildID, address)
	if err != nil || !ok {
		return false, err
	}
	return domain.RoleAllows(role, requiredRole), nil
}

// IsMember reports whether address belongs to the guild.
func (s Service) IsMember(ctx context.Context, guildID int64, address string) (bool, error) {
	_, ok, err := s.member(ctx, s.DB, guildID, address)
	return ok, err
}
