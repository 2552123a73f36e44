package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"guildpay/internal/domain"
	"guildpay/internal/engine"
)

func registerGuilds(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-guild",
		Method:        http.MethodPost,
		Path:          "/guilds",
		Summary:       "Create guild",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Name        string `json:"name" minLength:"1" maxLength:"256"`
			Description string `json:"description,omitempty" maxLength:"512"`
		} `json:"body"`
	}) (*struct {
		Body domain.Guild `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.CreateGuild(ctx, input.Body.Name, input.Body.Description, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Guild `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-guilds",
		Method:      http.MethodGet,
		Path:        "/guilds",
		Summary:     "List guilds",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Guild `json:"body"`
	}, error) {
		items, err := e.Repo.ListGuilds(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Guild `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-guild",
		Method:      http.MethodGet,
		Path:        "/guilds/{guild_id}",
		Summary:     "Get guild",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GuildID int64 `path:"guild_id"`
	}) (*struct {
		Body domain.Guild `json:"body"`
	}, error) {
		g, err := e.Repo.GetGuild(ctx, input.GuildID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Guild `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-member",
		Method:        http.MethodPost,
		Path:          "/guilds/{guild_id}/members",
		Summary:       "Add guild member",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		GuildID int64 `path:"guild_id"`
		Body    struct {
			Address string `json:"address" minLength:"1"`
			Role    string `json:"role" enum:"owner,admin,member,contributor"`
		} `json:"body"`
	}) (*struct {
		Body domain.Member `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.AddMember(ctx, input.GuildID, actorID, input.Body.Address, input.Body.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Member `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/guilds/{guild_id}/members",
		Summary:     "List guild members",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GuildID int64 `path:"guild_id"`
	}) (*struct {
		Body []domain.Member `json:"body"`
	}, error) {
		if _, err := e.Repo.GetGuild(ctx, input.GuildID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListMembers(ctx, input.GuildID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Member `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-member-role",
		Method:      http.MethodPatch,
		Path:        "/guilds/{guild_id}/members/{address}",
		Summary:     "Update member role",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		GuildID int64  `path:"guild_id"`
		Address string `path:"address"`
		Body    struct {
			Role string `json:"role" enum:"owner,admin,member,contributor"`
		} `json:"body"`
	}) (*struct {
		Body domain.Member `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.UpdateRole(ctx, input.GuildID, actorID, input.Address, input.Body.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Member `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-member",
		Method:      http.MethodDelete,
		Path:        "/guilds/{guild_id}/members/{address}",
		Summary:     "Remove guild member",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		GuildID int64  `path:"guild_id"`
		Address string `path:"address"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveMember(ctx, input.GuildID, actorID, input.Address); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
