package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err    error
		kind   string
		status int
	}{
		{fmt.Errorf("%w: bad", ErrValidation), KindValidation, http.StatusBadRequest},
		{fmt.Errorf("%w: expired", ErrAuth), KindAuth, http.StatusUnauthorized},
		{ErrRateLimited, KindRateLimited, http.StatusTooManyRequests},
		{fmt.Errorf("wrap: %w", fmt.Errorf("%w: put", ErrStorage)), KindStorage, http.StatusInternalServerError},
		{ErrSubmission, KindSubmission, http.StatusBadGateway},
		{ErrNotReady, KindNotReady, http.StatusServiceUnavailable},
		{errors.New("boom"), KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := KindOf(tc.err); got != tc.kind {
			t.Fatalf("KindOf(%v) = %q, want %q", tc.err, got, tc.kind)
		}
		if got := HTTPStatus(tc.err); got != tc.status {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.status)
		}
	}
}
