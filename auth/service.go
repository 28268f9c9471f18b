package auth

import (
	"encoding/json"
	"fmt"
	"net/http"

	resp "github.com/valoratec/backoffice/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// ServiceOptions contains the configuration for the login Service router
type ServiceOptions struct {
	Auth   *Auth
	Lookup CompanyLookup
	Logger *zap.Logger

	// Agents listed here get elevated roles at login, everyone else is an
	// empresa agent scoped to their own company
	AdminEmails   []string
	SupportEmails []string
}

// Service is the login API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the login API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// LoginRequest is the model of an agent request for a login link
type LoginRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (s *Service) requestLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	logger := s.Logger.With(zap.String("Email", req.Email))

	if err := s.Auth.RequestLink(r.Context(), req.Email, req.Email); err != nil {
		logger.Error("Unable to send login link",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to send login link"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) roleFor(email string) Role {
	for _, admin := range s.AdminEmails {
		if admin == email {
			return RoleAdmin
		}
	}
	for _, support := range s.SupportEmails {
		if support == email {
			return RoleSupport
		}
	}
	return RoleCompany
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	email := chi.URLParam(r, "uid")
	token := chi.URLParam(r, "token")

	logger := s.Logger.With(zap.String("Email", email))

	valid, err := s.Auth.Verify(ctx, email, token)
	if err != nil {
		logger.Error("Unable to verify login token",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to verify login token"))
		return
	}
	if !valid {
		resp.WriteError(w, r, resp.ErrUnauthorized())
		return
	}

	claims := Claims{
		ID:    email,
		Email: email,
		Role:  s.roleFor(email),
	}
	if claims.Role == RoleCompany && s.Lookup != nil {
		companyID, err := s.Lookup.CompanyIDByAgentEmail(ctx, email)
		if err != nil {
			logger.Error("Unable to look up agent company",
				zap.Error(err),
			)
			resp.WriteError(w, r, resp.ErrUnexpected())
			return
		}
		if len(companyID) == 0 {
			resp.WriteError(w, r, resp.ErrForbidden().AddMessages("Agent does not belong to any company"))
			return
		}
		claims.CompanyID = companyID
	}

	jwtToken, err := s.Auth.CreateTokenFromClaims(claims)
	if err != nil {
		logger.Error("Unable to generate token",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	resp.WriteResponse(w, r, struct {
		Token string `json:"token"`
	}{
		Token: jwtToken,
	})
}

// Router will return the routes under the login API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/", s.requestLogin)
	r.Get("/{uid}/{token}", s.handleLogin)

	return r
}
