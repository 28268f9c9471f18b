package webhook

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	resp "github.com/valoratec/backoffice/response"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

// ServiceOptions contains the configuration for the webhook Service router
type ServiceOptions struct {
	Processor *Processor
	Logger    *zap.Logger
}

// Service is the webhook ingestion router. Endpoints here are called by the
// payment gateway, not by users, so they sit outside the auth middleware.
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the webhook Service router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Processor == nil {
		return nil, fmt.Errorf("nil Processor is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// eventEnvelope covers the identifier spellings seen across providers
type eventEnvelope struct {
	ID      string `json:"id"`
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Event   string `json:"event"`
}

func (s *Service) receive(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Unable to read request body"))
		return
	}

	var envelope eventEnvelope
	// identifier extraction is best-effort, header values win over the body
	_ = json.Unmarshal(body, &envelope)

	eventID := r.Header.Get("X-Event-Id")
	if len(eventID) == 0 {
		eventID = envelope.ID
	}
	if len(eventID) == 0 {
		eventID = envelope.EventID
	}
	eventType := envelope.Type
	if len(eventType) == 0 {
		eventType = envelope.Event
	}

	if len(eventID) == 0 {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Event has no identifier"))
		return
	}

	result, err := s.Processor.HandleEvent(r.Context(), HandleOptions{
		Provider:        provider,
		ExternalEventID: eventID,
		Type:            eventType,
		Payload:         body,
	})
	if err != nil {
		s.Logger.Error("Unable to process webhook event",
			zap.String("Provider", provider),
			zap.String("ExternalEventID", eventID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to process event"))
		return
	}

	resp.WriteResponse(w, r, result)
}

// Router will return the routes under the webhook ingestion API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/{provider}", s.receive)

	return r
}
