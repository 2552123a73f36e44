package engine

import (
	"context"
	"errors"
	"strings"

	"guildpay/internal/domain"
	"guildpay/internal/events"
	"guildpay/internal/fault"
	"guildpay/internal/repo"
)

const (
	maxGuildNameLen = 256
	maxGuildDescLen = 512
)

// CreateGuild creates a guild and enrolls the creator as its first owner.
func (e Engine) CreateGuild(ctx context.Context, name, description, owner string) (domain.Guild, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxGuildNameLen {
		return domain.Guild{}, fault.Fieldf(fault.InvalidInput, "name", "name must be 1-%d characters", maxGuildNameLen)
	}
	if len(description) > maxGuildDescLen {
		return domain.Guild{}, fault.Fieldf(fault.InvalidInput, "description", "description must be at most %d characters", maxGuildDescLen)
	}
	if strings.TrimSpace(owner) == "" {
		return domain.Guild{}, fault.Fieldf(fault.InvalidInput, "owner", "owner address required")
	}

	now := e.nowRFC3339()
	g := domain.Guild{
		Name:        name,
		Description: description,
		Owner:       owner,
		MemberCount: 1,
		CreatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Guild{}, err
	}
	defer tx.Rollback()

	id, err := e.Repo.InsertGuildTx(ctx, tx, g)
	if err != nil {
		return domain.Guild{}, err
	}
	g.ID = id
	if err := e.Repo.InsertMemberTx(ctx, tx, domain.Member{
		GuildID:  id,
		Address:  owner,
		Role:     domain.RoleOwner,
		JoinedAt: now,
	}); err != nil {
		return domain.Guild{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ModGuild, events.ActCreated, id, "guild", id, owner, events.EventPayload{
		"name": g.Name,
	}); err != nil {
		return domain.Guild{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Guild{}, err
	}
	return g, nil
}

// roleToAdd returns the role the caller must hold to grant newRole.
func roleToAdd(newRole string) string {
	switch newRole {
	case domain.RoleOwner:
		return domain.RoleOwner
	case domain.RoleAdmin:
		return domain.RoleAdmin
	default:
		return domain.RoleMember
	}
}

// AddMember enrolls address into the guild with the given role. Owners may
// grant any role, admins grant admin and below, members grant member and
// contributor.
func (e Engine) AddMember(ctx context.Context, guildID int64, actor, address, role string) (domain.Member, error) {
	if !domain.ValidRole(role) {
		return domain.Member{}, fault.Fieldf(fault.InvalidInput, "role", "unknown role %q", role)
	}
	if strings.TrimSpace(address) == "" {
		return domain.Member{}, fault.Fieldf(fault.InvalidInput, "address", "address required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Member{}, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGuildTx(ctx, tx, guildID)
	if err != nil {
		return domain.Member{}, notFoundErr(err, "guild", guildID)
	}
	if err := e.requireRole(ctx, tx, guildID, actor, roleToAdd(role)); err != nil {
		return domain.Member{}, err
	}
	if _, err := e.Repo.GetMemberTx(ctx, tx, guildID, address); err == nil {
		return domain.Member{}, fault.Newf(fault.InvalidState, "%s is already a member of guild %d", address, guildID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Member{}, err
	}

	m := domain.Member{
		GuildID:  guildID,
		Address:  address,
		Role:     role,
		JoinedAt: e.nowRFC3339(),
	}
	if err := e.Repo.InsertMemberTx(ctx, tx, m); err != nil {
		return domain.Member{}, err
	}
	if err := e.Repo.UpdateGuildMemberCountTx(ctx, tx, guildID, g.MemberCount+1); err != nil {
		return domain.Member{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ModGuild, events.ActAdded, guildID, "member", 0, actor, events.EventPayload{
		"address": address,
		"role":    role,
	}); err != nil {
		return domain.Member{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Member{}, err
	}
	return m, nil
}

// RemoveMember removes address from the guild. Any member may leave on their
// own. Removing someone else takes a role at least as high as theirs, and the
// last owner can never be removed.
func (e Engine) RemoveMember(ctx context.Context, guildID int64, actor, address string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGuildTx(ctx, tx, guildID)
	if err != nil {
		return notFoundErr(err, "guild", guildID)
	}
	target, err := e.Repo.GetMemberTx(ctx, tx, guildID, address)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fault.Newf(fault.NotFound, "%s is not a member of guild %d", address, guildID)
		}
		return err
	}
	if target.Role == domain.RoleOwner {
		owners, err := e.Repo.CountOwnersTx(ctx, tx, guildID)
		if err != nil {
			return err
		}
		if owners <= 1 {
			return fault.Newf(fault.InvalidState, "cannot remove the last owner of guild %d", guildID)
		}
	}
	if actor != address {
		required := domain.RoleMember
		switch target.Role {
		case domain.RoleOwner:
			required = domain.RoleOwner
		case domain.RoleAdmin:
			required = domain.RoleAdmin
		}
		if err := e.requireRole(ctx, tx, guildID, actor, required); err != nil {
			return err
		}
	}

	if err := e.Repo.DeleteMemberTx(ctx, tx, guildID, address); err != nil {
		return err
	}
	if err := e.Repo.UpdateGuildMemberCountTx(ctx, tx, guildID, g.MemberCount-1); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.ModGuild, events.ActRemoved, guildID, "member", 0, actor, events.EventPayload{
		"address": address,
		"role":    target.Role,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateRole changes a member's role. Touching the owner role in either
// direction takes an owner; everything else takes an admin. A guild keeps at
// least one owner at all times.
func (e Engine) UpdateRole(ctx context.Context, guildID int64, actor, address, newRole string) (domain.Member, error) {
	if !domain.ValidRole(newRole) {
		return domain.Member{}, fault.Fieldf(fault.InvalidInput, "role", "unknown role %q", newRole)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Member{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetGuildTx(ctx, tx, guildID); err != nil {
		return domain.Member{}, notFoundErr(err, "guild", guildID)
	}
	target, err := e.Repo.GetMemberTx(ctx, tx, guildID, address)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Member{}, fault.Newf(fault.NotFound, "%s is not a member of guild %d", address, guildID)
		}
		return domain.Member{}, err
	}
	required := domain.RoleAdmin
	if target.Role == domain.RoleOwner || newRole == domain.RoleOwner {
		required = domain.RoleOwner
	}
	if err := e.requireRole(ctx, tx, guildID, actor, required); err != nil {
		return domain.Member{}, err
	}
	if target.Role == domain.RoleOwner && newRole != domain.RoleOwner {
		owners, err := e.Repo.CountOwnersTx(ctx, tx, guildID)
		if err != nil {
			return domain.Member{}, err
		}
		if owners <= 1 {
			return domain.Member{}, fault.Newf(fault.InvalidState, "cannot demote the last owner of guild %d", guildID)
		}
	}

	if err := e.Repo.UpdateMemberRoleTx(ctx, tx, guildID, address, newRole); err != nil {
		return domain.Member{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ModGuild, events.ActUpdated, guildID, "member", 0, actor, events.EventPayload{
		"address": address,
		"from":    target.Role,
		"to":      newRole,
	}); err != nil {
		return domain.Member{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Member{}, err
	}
	target.Role = newRole
	return target, nil
}
