package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"guildpay/internal/domain"
	"guildpay/internal/engine"
	"guildpay/internal/repo"
)

func registerLedger(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "ledger-deposit",
		Method:      http.MethodPost,
		Path:        "/ledger/deposit",
		Summary:     "Deposit funds into an account",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Account  string `json:"account" minLength:"1"`
			Currency string `json:"currency,omitempty"`
			Amount   int64  `json:"amount" minimum:"1"`
		} `json:"body"`
	}) (*struct {
		Body domain.Balance `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Deposit(ctx, input.Body.Account, input.Body.Currency, input.Body.Amount, actorID); err != nil {
			return nil, handleError(err)
		}
		currency := input.Body.Currency
		if currency == "" && e.Config != nil {
			currency = e.Config.Defaults.Currency
		}
		amount, err := e.Ledger.Balance(ctx, currency, input.Body.Account)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Balance `json:"body"`
		}{Body: domain.Balance{Account: input.Body.Account, Currency: currency, Amount: amount}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "account-balances",
		Method:      http.MethodGet,
		Path:        "/ledger/accounts/{account}/balances",
		Summary:     "List account balances",
	}, func(ctx context.Context, input *struct {
		Account string `path:"account"`
	}) (*struct {
		Body []domain.Balance `json:"body"`
	}, error) {
		items, err := e.Ledger.Balances(ctx, input.Account)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Balance `json:"body"`
		}{Body: items}, nil
	})
}

func registerDisputes(api huma.API, e engine.Engine) {
	disputeErrors := []int{
		http.StatusBadRequest,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict,
	}

	huma.Register(api, huma.Operation{
		OperationID:   "lock-dispute",
		Method:        http.MethodPost,
		Path:          "/disputes",
		Summary:       "Lock an item pending dispute resolution",
		DefaultStatus: http.StatusCreated,
		Errors:        disputeErrors,
	}, func(ctx context.Context, input *struct {
		Body struct {
			ItemKind string `json:"item_kind" enum:"bounty,milestone"`
			ItemID   int64  `json:"item_id"`
		} `json:"body"`
	}) (*struct {
		Body domain.DisputeLock `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.LockDispute(ctx, input.Body.ItemKind, input.Body.ItemID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DisputeLock `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unlock-dispute",
		Method:      http.MethodDelete,
		Path:        "/disputes/{item_kind}/{item_id}",
		Summary:     "Lift a dispute lock",
		Errors:      disputeErrors,
	}, func(ctx context.Context, input *struct {
		ItemKind string `path:"item_kind" enum:"bounty,milestone"`
		ItemID   int64  `path:"item_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.UnlockDispute(ctx, input.ItemKind, input.ItemID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-disputes",
		Method:      http.MethodGet,
		Path:        "/disputes",
		Summary:     "List dispute locks",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.DisputeLock `json:"body"`
	}, error) {
		items, err := e.Repo.ListDisputeLocks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.DisputeLock `json:"body"`
		}{Body: items}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		After      int64  `query:"after"`
		Limit      int    `query:"limit" default:"100"`
		GuildID    int64  `query:"guild_id"`
		Module     string `query:"module"`
		Action     string `query:"action"`
		EntityKind string `query:"entity_kind"`
		EntityID   int64  `query:"entity_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		var items []domain.Event
		var err error
		if input.After > 0 {
			// cursor reads are ascending so consumers never miss a sequence
			items, err = e.Repo.EventsAfter(ctx, input.Limit, input.After, input.GuildID)
		} else {
			items, err = e.Repo.LatestEvents(ctx, input.Limit, repo.EventFilters{
				GuildID:    input.GuildID,
				Module:     input.Module,
				Action:     input.Action,
				EntityKind: input.EntityKind,
				EntityID:   input.EntityID,
			})
		}
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}
