package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"imagegateway/internal/domain"
)

// Authenticator verifies the Authorization header value.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) (domain.Principal, error)
}

type principalKey struct{}

// Auth rejects requests without a valid bearer credential before any later
// middleware or handler runs.
func Auth(a Authenticator, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := a.Authenticate(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				logger.Debug().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("authentication failed")
				w.Header().Set("WWW-Authenticate", `Bearer realm="inference"`)
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
		})
	}
}

func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok
}

func ContextWithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}
