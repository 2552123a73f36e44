package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"guildpay/internal/domain"
	"guildpay/internal/engine"
)

type milestoneBody struct {
	Body domain.Milestone `json:"body"`
}

type milestoneInputRequest struct {
	Title         string `json:"title" minLength:"1" maxLength:"256"`
	Description   string `json:"description,omitempty"`
	PaymentAmount int64  `json:"payment_amount" minimum:"1"`
	Deadline      int64  `json:"deadline"`
}

func toMilestoneInput(in milestoneInputRequest) domain.MilestoneInput {
	return domain.MilestoneInput{
		Title:         in.Title,
		Description:   in.Description,
		PaymentAmount: in.PaymentAmount,
		Deadline:      in.Deadline,
	}
}

func registerProjects(api huma.API, e engine.Engine) {
	projectErrors := []int{
		http.StatusBadRequest,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusGone,
		http.StatusLocked,
		http.StatusPaymentRequired,
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/guilds/{guild_id}/projects",
		Summary:       "Create milestone project",
		DefaultStatus: http.StatusCreated,
		Errors:        projectErrors,
	}, func(ctx context.Context, input *struct {
		GuildID int64 `path:"guild_id"`
		Body    struct {
			Contributor  string                  `json:"contributor" minLength:"1"`
			Treasury     string                  `json:"treasury" minLength:"1"`
			Currency     string                  `json:"currency,omitempty"`
			TotalAmount  int64                   `json:"total_amount,omitempty"`
			IsSequential bool                    `json:"is_sequential,omitempty"`
			Milestones   []milestoneInputRequest `json:"milestones" minItems:"1"`
		} `json:"body"`
	}) (*struct {
		Body struct {
			Project    domain.Project     `json:"project"`
			Milestones []domain.Milestone `json:"milestones"`
		} `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		inputs := make([]domain.MilestoneInput, 0, len(input.Body.Milestones))
		for _, in := range input.Body.Milestones {
			inputs = append(inputs, toMilestoneInput(in))
		}
		p, ms, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			GuildID:      input.GuildID,
			Actor:        actorID,
			Contributor:  input.Body.Contributor,
			Treasury:     input.Body.Treasury,
			Currency:     input.Body.Currency,
			TotalAmount:  input.Body.TotalAmount,
			IsSequential: input.Body.IsSequential,
			Milestones:   inputs,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Project    domain.Project     `json:"project"`
				Milestones []domain.Milestone `json:"milestones"`
			} `json:"body"`
		}{}
		resp.Body.Project = p
		resp.Body.Milestones = ms
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/guilds/{guild_id}/projects",
		Summary:     "List guild projects",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GuildID int64 `path:"guild_id"`
	}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		if _, err := e.Repo.GetGuild(ctx, input.GuildID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListGuildProjects(ctx, input.GuildID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-milestones",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/milestones",
		Summary:     "List project milestones",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []domain.Milestone `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProject(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListProjectMilestones(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Milestone `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-progress",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/progress",
		Summary:     "Project progress",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.Progress `json:"body"`
	}, error) {
		prog, err := e.ProjectProgress(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Progress `json:"body"`
		}{Body: prog}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-milestone",
		Method:        http.MethodPost,
		Path:          "/projects/{id}/milestones",
		Summary:       "Add milestone to project",
		DefaultStatus: http.StatusCreated,
		Errors:        projectErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64                 `path:"id"`
		Body milestoneInputRequest `json:"body"`
	}) (*milestoneBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.AddMilestone(ctx, input.ID, actorID, toMilestoneInput(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &milestoneBody{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-project",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/cancel",
		Summary:     "Cancel project",
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CancelProject(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-milestone",
		Method:      http.MethodPost,
		Path:        "/milestones/{id}/start",
		Summary:     "Start milestone",
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*milestoneBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.StartMilestone(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &milestoneBody{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-milestone",
		Method:      http.MethodPost,
		Path:        "/milestones/{id}/submit",
		Summary:     "Submit milestone work",
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body struct {
			ProofURL string `json:"proof_url" minLength:"1" maxLength:"512"`
		} `json:"body"`
	}) (*milestoneBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.SubmitMilestone(ctx, input.ID, actorID, input.Body.ProofURL)
		if err != nil {
			return nil, handleError(err)
		}
		return &milestoneBody{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-milestone",
		Method:      http.MethodPost,
		Path:        "/milestones/{id}/approve",
		Summary:     "Approve milestone and release payment",
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*milestoneBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.ApproveMilestone(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &milestoneBody{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-milestone",
		Method:      http.MethodPost,
		Path:        "/milestones/{id}/reject",
		Summary:     "Reject milestone submission",
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body struct {
			Reason string `json:"reason,omitempty" maxLength:"512"`
		} `json:"body"`
	}) (*milestoneBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.RejectMilestone(ctx, input.ID, actorID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &milestoneBody{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "extend-milestone-deadline",
		Method:      http.MethodPost,
		Path:        "/milestones/{id}/extend",
		Summary:     "Extend milestone deadline",
		Errors:      projectErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body struct {
			Deadline int64 `json:"deadline"`
		} `json:"body"`
	}) (*milestoneBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.ExtendMilestoneDeadline(ctx, input.ID, actorID, input.Body.Deadline)
		if err != nil {
			return nil, handleError(err)
		}
		return &milestoneBody{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-milestone",
		Method:      http.MethodGet,
		Path:        "/milestones/{id}",
		Summary:     "Get milestone",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*milestoneBody, error) {
		m, err := e.Repo.GetMilestone(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &milestoneBody{Body: m}, nil
	})
}
