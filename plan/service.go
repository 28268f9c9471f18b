package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/valoratec/backoffice/auth"
	resp "github.com/valoratec/backoffice/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// Options contains the configuration for the Service router
type Options struct {
	Auth        *auth.Auth
	PlanManager *Manager
	Logger      *zap.Logger
}

// Service is the plan catalog admin API router
type Service struct {
	Options
}

// NewService will create an instance of the plan catalog API router
func NewService(option Options) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.PlanManager == nil {
		return nil, fmt.Errorf("nil PlanManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		Options: option,
	}, nil
}

// PlanRequest is the model for creating or editing a catalog entry
type PlanRequest struct {
	Name           string          `json:"name" validate:"required"`
	BasePrice      decimal.Decimal `json:"basePrice" validate:"required"`
	SeatCap        int             `json:"seatCap" validate:"gte=0"`
	ExtraSeatPrice decimal.Decimal `json:"extraSeatPrice"`
	CycleDays      int             `json:"cycleDays" validate:"gt=0"`
	Trial          bool            `json:"trial"`
	Currency       string          `json:"currency" validate:"required,len=3"`
}

func (s *Service) listPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.PlanManager.List(r.Context())
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to list plans"))
		return
	}
	resp.WriteResponse(w, r, plans)
}

func (s *Service) getPlan(w http.ResponseWriter, r *http.Request) {
	p, err := s.PlanManager.GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrNotFound) {
		resp.WriteError(w, r, resp.ErrNotFound())
		return
	}
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to get plan"))
		return
	}
	resp.WriteResponse(w, r, p)
}

func (s *Service) createPlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	p := &Plan{
		Name:           req.Name,
		BasePrice:      req.BasePrice,
		SeatCap:        req.SeatCap,
		ExtraSeatPrice: req.ExtraSeatPrice,
		CycleDays:      req.CycleDays,
		Trial:          req.Trial,
		Currency:       req.Currency,
	}
	if err := s.PlanManager.Create(r.Context(), p); err != nil {
		s.Logger.Error("Unable to create Plan",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to create plan"))
		return
	}
	resp.WriteResponse(w, r, p)
}

func (s *Service) updatePlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	p := &Plan{
		ID:             chi.URLParam(r, "id"),
		Name:           req.Name,
		BasePrice:      req.BasePrice,
		SeatCap:        req.SeatCap,
		ExtraSeatPrice: req.ExtraSeatPrice,
		CycleDays:      req.CycleDays,
		Trial:          req.Trial,
		Currency:       req.Currency,
	}
	err := s.PlanManager.Update(r.Context(), p)
	if errors.Is(err, ErrNotFound) {
		resp.WriteError(w, r, resp.ErrNotFound())
		return
	}
	if err != nil {
		s.Logger.Error("Unable to update Plan",
			zap.String("PlanID", p.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to update plan"))
		return
	}
	resp.WriteResponse(w, r, p)
}

// Router will return the routes under the plan catalog API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.Auth.Middleware())
	r.Get("/", s.listPlans)
	r.Get("/{id}", s.getPlan)
	r.With(s.Auth.RequireRole(auth.RoleAdmin)).Post("/", s.createPlan)
	r.With(s.Auth.RequireRole(auth.RoleAdmin)).Put("/{id}", s.updatePlan)

	return r
}
