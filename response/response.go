package response

import (
	"encoding/json"
	"net/http"
)

// V is the envelope for all API responses. Error responses populate Messages,
// successful responses populate Result.
type V struct {
	Messages []string    `json:"messages"`
	Result   interface{} `json:"result"`
}

// WriteResponse will serialize result into the response envelope with status 200
func WriteResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(V{
		Messages: []string{},
		Result:   result,
	})
}

// WriteError will serialize an *Error into the response envelope with its StatusCode
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	msgs := e.Messages
	if len(msgs) == 0 && len(e.Message) > 0 {
		msgs = []string{e.Message}
	}
	json.NewEncoder(w).Encode(V{
		Messages: msgs,
		Result:   e.Result,
	})
}
