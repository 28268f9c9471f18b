package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/valoratec/backoffice/auth"
	resp "github.com/valoratec/backoffice/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// ServiceOptions contains the configuration for the billing Service router
type ServiceOptions struct {
	Auth            *auth.Auth
	Identity        *auth.Identity
	MovementManager *Manager
	Simulator       *Simulator
	Logger          *zap.Logger
}

// Service is the ledger API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the billing Service router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.Identity == nil {
		return nil, fmt.Errorf("nil Identity is invalid")
	}
	if option.MovementManager == nil {
		return nil, fmt.Errorf("nil MovementManager is invalid")
	}
	if option.Simulator == nil {
		return nil, fmt.Errorf("nil Simulator is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// SimulateRequest bounds one simulation run. Dates are inclusive days.
type SimulateRequest struct {
	From      string `json:"from" validate:"required,datetime=2006-01-02"`
	To        string `json:"to" validate:"required,datetime=2006-01-02"`
	CompanyID string `json:"companyId"`
	Overwrite bool   `json:"overwrite"`
}

func (s *Service) simulate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SimulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	from, _ := time.Parse("2006-01-02", req.From)
	to, _ := time.Parse("2006-01-02", req.To)
	if to.Before(from) {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("from must not be after to"))
		return
	}

	result, err := s.Simulator.SimulatePeriod(ctx, SimulateOptions{
		From:      from,
		To:        to,
		CompanyID: req.CompanyID,
		Overwrite: req.Overwrite,
	})
	if errors.Is(err, ErrLiveMode) {
		resp.WriteError(w, r, resp.ErrConflict().AddMessages("Simulation is disabled in live billing mode"))
		return
	}
	if err != nil {
		s.Logger.Error("Unable to simulate period",
			zap.String("From", req.From),
			zap.String("To", req.To),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to simulate period"))
		return
	}

	resp.WriteResponse(w, r, result)
}

func (s *Service) listMovements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	explicit := r.URL.Query().Get("companyId")

	var companyID string
	if claims.Role == auth.RoleAdmin || claims.Role == auth.RoleSupport {
		// back-office agents see the whole ledger unless they narrow it down
		companyID = explicit
	} else {
		var err error
		companyID, err = s.Identity.ResolveCompany(ctx, claims, explicit)
		if err != nil {
			resp.WriteError(w, r, resp.ErrForbidden().AddMessages("No company can be resolved for this request"))
			return
		}
	}

	opt := ListOption{
		CompanyID: companyID,
		State:     State(r.URL.Query().Get("state")),
		Limit:     100,
	}
	if from, err := time.Parse("2006-01-02", r.URL.Query().Get("from")); err == nil {
		opt.From = from
	}
	if to, err := time.Parse("2006-01-02", r.URL.Query().Get("to")); err == nil {
		opt.To = to
	}

	movements, err := s.MovementManager.List(ctx, opt)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to list movements"))
		return
	}

	resp.WriteResponse(w, r, movements)
}

// Router will return the routes under the ledger API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.Auth.Middleware())
	r.Get("/", s.listMovements)
	r.With(s.Auth.RequireRole(auth.RoleAdmin)).Post("/simulate", s.simulate)

	return r
}
