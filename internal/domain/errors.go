package domain

import (
	"errors"
	"net/http"
)

// Error kinds shared by every component boundary. Components wrap one of these
// with fmt.Errorf("%w: ...") so callers can classify with errors.Is.
var (
	ErrValidation  = errors.New("validation error")
	ErrAuth        = errors.New("auth error")
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrModelLoad   = errors.New("model load error")
	ErrInference   = errors.New("inference error")
	ErrStorage     = errors.New("storage error")
	ErrSubmission  = errors.New("submission error")
	ErrNotFound    = errors.New("not found")
	ErrNotReady    = errors.New("model not ready")
)

// Stable kind strings surfaced in error bodies.
const (
	KindValidation  = "validation_error"
	KindAuth        = "auth_error"
	KindRateLimited = "rate_limit_exceeded"
	KindModelLoad   = "model_load_error"
	KindInference   = "inference_error"
	KindStorage     = "storage_error"
	KindSubmission  = "submission_error"
	KindNotFound    = "not_found"
	KindNotReady    = "model_not_ready"
	KindInternal    = "internal_error"
)

var kinds = []struct {
	err    error
	kind   string
	status int
}{
	{ErrValidation, KindValidation, http.StatusBadRequest},
	{ErrAuth, KindAuth, http.StatusUnauthorized},
	{ErrRateLimited, KindRateLimited, http.StatusTooManyRequests},
	{ErrNotFound, KindNotFound, http.StatusNotFound},
	{ErrNotReady, KindNotReady, http.StatusServiceUnavailable},
	{ErrModelLoad, KindModelLoad, http.StatusServiceUnavailable},
	{ErrInference, KindInference, http.StatusInternalServerError},
	{ErrStorage, KindStorage, http.StatusInternalServerError},
	{ErrSubmission, KindSubmission, http.StatusBadGateway},
}

// KindOf classifies err into its stable kind string.
func KindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// HTTPStatus maps err to the response status used by the HTTP surface.
func HTTPStatus(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// IsKind reports whether s is one of the stable kind strings.
func IsKind(s string) bool {
	if s == KindInternal {
		return true
	}
	for _, k := range kinds {
		if k.kind == s {
			return true
		}
	}
	return false
}
