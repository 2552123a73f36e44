package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"guildpay/internal/domain"
	"guildpay/internal/engine"
)

type bountyBody struct {
	Body domain.Bounty `json:"body"`
}

func registerBounties(api huma.API, e engine.Engine) {
	bountyErrors := []int{
		http.StatusBadRequest,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusGone,
		http.StatusLocked,
		http.StatusPaymentRequired,
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-bounty",
		Method:        http.MethodPost,
		Path:          "/guilds/{guild_id}/bounties",
		Summary:       "Create bounty",
		DefaultStatus: http.StatusCreated,
		Errors:        bountyErrors,
	}, func(ctx context.Context, input *struct {
		GuildID int64 `path:"guild_id"`
		Body    struct {
			Title        string `json:"title" minLength:"1" maxLength:"256"`
			Description  string `json:"description,omitempty" maxLength:"2048"`
			RewardAmount int64  `json:"reward_amount" minimum:"0"`
			Currency     string `json:"currency,omitempty"`
			ExpiresAt    int64  `json:"expires_at"`
		} `json:"body"`
	}) (*bountyBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.CreateBounty(ctx, engine.BountyCreateOptions{
			GuildID:      input.GuildID,
			Creator:      actorID,
			Title:        input.Body.Title,
			Description:  input.Body.Description,
			RewardAmount: input.Body.RewardAmount,
			Currency:     input.Body.Currency,
			ExpiresAt:    input.Body.ExpiresAt,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &bountyBody{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-bounties",
		Method:      http.MethodGet,
		Path:        "/guilds/{guild_id}/bounties",
		Summary:     "List guild bounties",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GuildID int64 `path:"guild_id"`
	}) (*struct {
		Body []domain.Bounty `json:"body"`
	}, error) {
		if _, err := e.Repo.GetGuild(ctx, input.GuildID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListGuildBounties(ctx, input.GuildID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Bounty `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-bounty",
		Method:      http.MethodGet,
		Path:        "/bounties/{id}",
		Summary:     "Get bounty",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*bountyBody, error) {
		b, err := e.Repo.GetBounty(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &bountyBody{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fund-bounty",
		Method:      http.MethodPost,
		Path:        "/bounties/{id}/fund",
		Summary:     "Fund bounty escrow",
		Errors:      bountyErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body struct {
			Amount int64 `json:"amount" minimum:"1"`
		} `json:"body"`
	}) (*bountyBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.FundBounty(ctx, input.ID, actorID, input.Body.Amount)
		if err != nil {
			return nil, handleError(err)
		}
		return &bountyBody{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-bounty",
		Method:      http.MethodPost,
		Path:        "/bounties/{id}/claim",
		Summary:     "Claim bounty",
		Errors:      bountyErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*bountyBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.ClaimBounty(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &bountyBody{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-bounty-work",
		Method:      http.MethodPost,
		Path:        "/bounties/{id}/submit",
		Summary:     "Submit bounty work",
		Errors:      bountyErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body struct {
			SubmissionURL string `json:"submission_url" minLength:"1" maxLength:"512"`
		} `json:"body"`
	}) (*bountyBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.SubmitWork(ctx, input.ID, actorID, input.Body.SubmissionURL)
		if err != nil {
			return nil, handleError(err)
		}
		return &bountyBody{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-bounty",
		Method:      http.MethodPost,
		Path:        "/bounties/{id}/approve",
		Summary:     "Approve bounty submission",
		Errors:      bountyErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*bountyBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.ApproveBounty(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &bountyBody{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-bounty-escrow",
		Method:      http.MethodPost,
		Path:        "/bounties/{id}/release",
		Summary:     "Release bounty escrow to claimer",
		Errors:      bountyErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*bountyBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.ReleaseEscrow(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &bountyBody{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-bounty",
		Method:      http.MethodPost,
		Path:        "/bounties/{id}/cancel",
		Summary:     "Cancel bounty",
		Errors:      bountyErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*bountyBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.CancelBounty(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &bountyBody{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "expire-bounty",
		Method:      http.MethodPost,
		Path:        "/bounties/{id}/expire",
		Summary:     "Settle a past-due bounty",
		Errors:      bountyErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body struct {
			Bounty  domain.Bounty `json:"bounty"`
			Expired bool          `json:"expired"`
		} `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, did, err := e.ExpireBounty(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Bounty  domain.Bounty `json:"bounty"`
				Expired bool          `json:"expired"`
			} `json:"body"`
		}{}
		resp.Body.Bounty = b
		resp.Body.Expired = did
		return resp, nil
	})
}
