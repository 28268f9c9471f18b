package cashflow

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/valoratec/backoffice/auth"
	"github.com/valoratec/backoffice/billing"
	resp "github.com/valoratec/backoffice/response"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

// ServiceOptions contains the configuration for the cashflow Service router
type ServiceOptions struct {
	Auth    *auth.Auth
	Manager *Manager
	Logger  *zap.Logger
}

// Service is the cashflow API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the cashflow Service router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.Manager == nil {
		return nil, fmt.Errorf("nil Manager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func (s *Service) summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	opt := SummarizeOptions{
		CompanyID: r.URL.Query().Get("companyId"),
		PlanID:    r.URL.Query().Get("planId"),
		State:     billing.State(r.URL.Query().Get("state")),
	}
	if from, err := time.Parse("2006-01-02", r.URL.Query().Get("from")); err == nil {
		opt.From = from
	}
	if to, err := time.Parse("2006-01-02", r.URL.Query().Get("to")); err == nil {
		opt.To = to
	}
	if page, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		opt.Page = page
	}
	if perPage, err := strconv.Atoi(r.URL.Query().Get("perPage")); err == nil {
		opt.PerPage = perPage
	}

	summary, err := s.Manager.Summarize(ctx, opt)
	if err != nil {
		s.Logger.Error("Unable to build cashflow summary",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to build summary"))
		return
	}

	resp.WriteResponse(w, r, summary)
}

// Router will return the routes under the cashflow API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.Auth.Middleware())
	r.Use(s.Auth.RequireRole(auth.RoleAdmin, auth.RoleSupport))
	r.Get("/summary", s.summary)

	return r
}
