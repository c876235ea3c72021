package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/log"
)

// Meta accompanies every success payload.
type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId"`
}

// Envelope is the success wire form: {data, meta}.
type Envelope struct {
	Data any  `json:"data"`
	Meta Meta `json:"meta"`
}

// ErrorBody is the error wire form: {error:{code, message, details}}.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the taxonomy code plus structured details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeData emits a success envelope.
func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{
		Data: data,
		Meta: Meta{Timestamp: time.Now().UTC(), RequestID: requestID(r)},
	})
}

// writeErr maps a taxonomy error onto the error envelope.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := errdefs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger := log.WithComponent("api")
		logger.Error().
			Err(err).
			Str("request_id", requestID(r)).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: ErrorDetail{
		Code:    string(errdefs.Code(err)),
		Message: userMessage(err),
		Details: errdefs.Details(err),
	}})
}

// userMessage strips the kind prefix the Error() form carries.
func userMessage(err error) string {
	var e *errdefs.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// decode parses a JSON request body.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errdefs.BadRequest("invalid request body: %v", err)
	}
	return nil
}

type ctxKey int

const (
	ctxRequestID ctxKey = iota
	ctxToken
	ctxSuperuser
)

// requestID returns the id assigned by the middleware, minting one for
// requests that bypassed it.
func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(ctxRequestID).(string); ok {
		return id
	}
	return uuid.NewString()
}
