package subscription

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/valoratec/backoffice/auth"
	"github.com/valoratec/backoffice/plan"
	resp "github.com/valoratec/backoffice/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// ServiceOptions contains the configuration for the Service router
type ServiceOptions struct {
	Auth                *auth.Auth
	Identity            *auth.Identity
	SubscriptionManager *Manager
	Orchestrator        *Orchestrator
	Logger              *zap.Logger
}

// Service is the subscription API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the subscription API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.Identity == nil {
		return nil, fmt.Errorf("nil Identity is invalid")
	}
	if option.SubscriptionManager == nil {
		return nil, fmt.Errorf("nil SubscriptionManager is invalid")
	}
	if option.Orchestrator == nil {
		return nil, fmt.Errorf("nil Orchestrator is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// ChangePlanRequest is the model of a plan-change call
type ChangePlanRequest struct {
	CompanyID       string `json:"companyId"`
	NewPlanID       string `json:"newPlanId" validate:"required"`
	SeatCapOverride *int   `json:"seatCapOverride" validate:"omitempty,gt=0"`
}

func (s *Service) changePlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	var req ChangePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	companyID, err := s.Identity.ResolveCompany(ctx, claims, req.CompanyID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrForbidden().AddMessages("No company can be resolved for this request"))
		return
	}

	logger := s.Logger.With(
		zap.String("CompanyID", companyID),
		zap.String("NewPlanID", req.NewPlanID),
	)

	result, err := s.Orchestrator.ChangePlan(ctx, ChangePlanOptions{
		CompanyID:       companyID,
		NewPlanID:       req.NewPlanID,
		SeatCapOverride: req.SeatCapOverride,
	})
	switch {
	case errors.Is(err, plan.ErrNotFound):
		resp.WriteError(w, r, resp.ErrConflict().AddMessages("Target plan does not exist"))
		return
	case errors.Is(err, ErrNoActiveAssignment), errors.Is(err, ErrNoSubscription):
		resp.WriteError(w, r, resp.ErrConflict().AddMessages("Company has no active subscription"))
		return
	case err != nil:
		logger.Error("Unable to change plan",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to change plan"))
		return
	}

	resp.WriteResponse(w, r, result)
}

func (s *Service) currentSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	companyID, err := s.Identity.ResolveCompany(ctx, claims, r.URL.Query().Get("companyId"))
	if err != nil {
		resp.WriteError(w, r, resp.ErrForbidden().AddMessages("No company can be resolved for this request"))
		return
	}

	sub, err := s.SubscriptionManager.GetByCompany(ctx, companyID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to get subscription"))
		return
	}
	if sub == nil {
		resp.WriteError(w, r, resp.ErrNotFound())
		return
	}

	assignment, err := s.SubscriptionManager.GetActiveAssignment(ctx, companyID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to get assignment"))
		return
	}

	resp.WriteResponse(w, r, struct {
		Subscription *Subscription   `json:"subscription"`
		Assignment   *PlanAssignment `json:"assignment"`
	}{
		Subscription: sub,
		Assignment:   assignment,
	})
}

func (s *Service) bootstrapTrial(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := chi.URLParam(r, "companyId")

	sub, err := s.SubscriptionManager.BootstrapTrial(ctx, companyID)
	if err != nil {
		s.Logger.Error("Unable to bootstrap trial",
			zap.String("CompanyID", companyID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrConflict().AddMessages(err.Error()))
		return
	}

	resp.WriteResponse(w, r, sub)
}

// Router will return the routes under the subscription API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.Auth.Middleware())
	r.Get("/", s.currentSubscription)
	r.Post("/change-plan", s.changePlan)
	r.With(s.Auth.RequireRole(auth.RoleAdmin, auth.RoleSupport)).Post("/{companyId}/trial", s.bootstrapTrial)

	return r
}
