package company

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/valoratec/backoffice/auth"
	resp "github.com/valoratec/backoffice/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// Options contains the configuration for the Service router
type Options struct {
	Auth           *auth.Auth
	CompanyManager *Manager
	Logger         *zap.Logger
}

// Service is the company admin API router
type Service struct {
	Options
}

// NewService will create an instance of the company API router
func NewService(option Options) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.CompanyManager == nil {
		return nil, fmt.Errorf("nil CompanyManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		Options: option,
	}, nil
}

// CreateCompanyRequest is the model for registering a new company
type CreateCompanyRequest struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	TaxID string `json:"taxId" validate:"required"`
}

func (s *Service) createCompany(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	comp, err := s.CompanyManager.NewCompany(ctx, req.Name, req.Email, req.TaxID)
	if err != nil {
		s.Logger.Error("Unable to create Company",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to create company"))
		return
	}

	resp.WriteResponse(w, r, comp)
}

func (s *Service) listCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := s.CompanyManager.List(r.Context(), ListOption{Limit: 100})
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to list companies"))
		return
	}
	resp.WriteResponse(w, r, companies)
}

func (s *Service) getCompany(w http.ResponseWriter, r *http.Request) {
	comp, err := s.CompanyManager.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to get company"))
		return
	}
	if comp == nil {
		resp.WriteError(w, r, resp.ErrNotFound())
		return
	}
	resp.WriteResponse(w, r, comp)
}

// AddAdvisorRequest is the model for registering a new advisor seat
type AddAdvisorRequest struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
}

func (s *Service) addAdvisor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := chi.URLParam(r, "id")

	var req AddAdvisorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	comp, err := s.CompanyManager.GetByID(ctx, companyID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to get company"))
		return
	}
	if comp == nil {
		resp.WriteError(w, r, resp.ErrNotFound())
		return
	}

	advisor, err := s.CompanyManager.AddAdvisor(ctx, companyID, req.Name, req.Email)
	if err != nil {
		s.Logger.Error("Unable to create Advisor",
			zap.String("CompanyID", companyID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to create advisor"))
		return
	}

	resp.WriteResponse(w, r, advisor)
}

// Router will return the routes under the company admin API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.Auth.Middleware())
	r.With(s.Auth.RequireRole(auth.RoleAdmin, auth.RoleSupport)).Get("/", s.listCompanies)
	r.With(s.Auth.RequireRole(auth.RoleAdmin)).Post("/", s.createCompany)
	r.Get("/{id}", s.getCompany)
	r.Post("/{id}/advisors", s.addAdvisor)

	return r
}
