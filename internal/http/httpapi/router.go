package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"imagegateway/internal/http/handlers"
	"imagegateway/internal/middleware"
)

type Deps struct {
	App         *handlers.App
	Auth        middleware.Authenticator
	Limiter     middleware.Limiter
	CORSOrigins []string
	Logger      zerolog.Logger
}

// NewRouter mounts the container routes the hosting platform calls directly
// and the gateway routes that sit behind authentication and rate limiting.
func NewRouter(d Deps) http.Handler {
	app := d.App
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.Recoverer,
		middleware.Logger(d.Logger),
		middleware.CORS(d.CORSOrigins),
	)

	// Container contract
	r.Get("/ping", app.Ping)
	r.Post("/predict", app.Predict)
	r.Post("/invocations", app.Invocations)

	r.Get("/healthz", app.Health)
	r.Get("/openapi.json", app.OpenAPIJSON)
	r.Get("/docs", app.OpenAPIDocs)

	// Gateway: authenticate first, then spend rate-limit budget.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(d.Auth, d.Logger), middleware.RateLimit(d.Limiter))
		r.Post("/generate", app.Generate)
		r.Route("/jobs/{id}", func(r chi.Router) {
			r.Get("/", app.JobStatus)
			r.Get("/result", app.JobResult)
		})
	})

	return r
}
