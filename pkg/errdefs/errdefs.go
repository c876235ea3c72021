package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for wire encoding and HTTP status mapping.
type Kind string

const (
	KindInvalidCredentials  Kind = "INVALID_CREDENTIALS"
	KindExpiredToken        Kind = "EXPIRED_TOKEN"
	KindInvalidToken        Kind = "INVALID_TOKEN"
	KindPermissionDenied    Kind = "PERMISSION_DENIED"
	KindScopeDenied         Kind = "SCOPE_DENIED"
	KindUserDisabled        Kind = "USER_DISABLED"
	KindNotFound            Kind = "NOT_FOUND"
	KindConflict            Kind = "CONFLICT"
	KindBadRequest          Kind = "BAD_REQUEST"
	KindTypeError           Kind = "TYPE_ERROR"
	KindUnknownCommand      Kind = "UNKNOWN_COMMAND"
	KindMatchFull           Kind = "MATCH_FULL"
	KindUnroutableModules   Kind = "UNROUTABLE_MODULES"
	KindUnresolvableModules Kind = "UNRESOLVABLE_MODULES"
	KindPlacementFailed     Kind = "PLACEMENT_FAILED"
	KindPreconditionFailed  Kind = "PRECONDITION_FAILED"
	KindBackpressure        Kind = "BACKPRESSURE"
	KindSlowConsumer        Kind = "SLOW_CONSUMER"
	KindCapacityExhausted   Kind = "CAPACITY_EXHAUSTED"
	KindResourceUnavailable Kind = "RESOURCE_UNAVAILABLE"
	KindRateLimited         Kind = "RATE_LIMITED"
	KindInternal            Kind = "INTERNAL"
)

// Error is the taxonomy error carried across package boundaries.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches two taxonomy errors by kind so errors.Is works with the
// sentinel constructors below.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New creates a taxonomy error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a taxonomy error.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithDetails attaches structured details for the error envelope.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Convenience constructors for the common kinds.

func NotFound(what string, id any) *Error {
	return New(KindNotFound, "%s not found: %v", what, id)
}

func PermissionDenied(format string, args ...any) *Error {
	return New(KindPermissionDenied, format, args...)
}

func ScopeDenied(scope string) *Error {
	return New(KindScopeDenied, "missing required scope %q", scope).
		WithDetails(map[string]any{"scope": scope})
}

func BadRequest(format string, args ...any) *Error {
	return New(KindBadRequest, format, args...)
}

func TypeError(field, want string, got any) *Error {
	return New(KindTypeError, "field %q: cannot coerce %v to %s", field, got, want).
		WithDetails(map[string]any{"field": field, "expected": want})
}

func Backpressure(matchID uint64, capacity int) *Error {
	return New(KindBackpressure, "command queue full for match %d", matchID).
		WithDetails(map[string]any{"matchId": matchID, "capacity": capacity})
}

func MatchFull(playerLimit, currentPlayers int) *Error {
	return New(KindMatchFull, "match is full").
		WithDetails(map[string]any{"playerLimit": playerLimit, "currentPlayers": currentPlayers})
}

func CapacityExhausted(format string, args ...any) *Error {
	return New(KindCapacityExhausted, format, args...)
}

func Internal(cause error) *Error {
	return Wrap(KindInternal, cause, "internal error")
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Code returns the wire code for err. Unclassified errors map to INTERNAL.
func Code(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Details returns the structured details for err, or nil.
func Details(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// HTTPStatus maps an error to its HTTP-equivalent status.
func HTTPStatus(err error) int {
	switch Code(err) {
	case KindInvalidCredentials, KindExpiredToken, KindInvalidToken:
		return http.StatusUnauthorized
	case KindPermissionDenied, KindScopeDenied, KindUserDisabled:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindMatchFull:
		return http.StatusConflict
	case KindBadRequest, KindTypeError, KindUnknownCommand:
		return http.StatusBadRequest
	case KindUnroutableModules, KindUnresolvableModules, KindPlacementFailed:
		return http.StatusUnprocessableEntity
	case KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case KindBackpressure, KindRateLimited:
		return http.StatusTooManyRequests
	case KindCapacityExhausted, KindResourceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
