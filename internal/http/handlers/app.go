package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"imagegateway/internal/asyncjob"
	"imagegateway/internal/backend"
	"imagegateway/internal/domain"
	"imagegateway/internal/gateway"
	"imagegateway/internal/jobs"
	"imagegateway/internal/storage"
)

// maxBodyBytes caps request bodies; prompts are short.
const maxBodyBytes = 1 << 20

// Router dispatches validated requests to the sync or async path.
type Router interface {
	Route(ctx context.Context, req domain.InferenceRequest, principal domain.Principal) (*gateway.Response, error)
}

// Readiness reports the model backend lifecycle.
type Readiness interface {
	Ready() bool
	State() backend.State
	Device() backend.Device
}

// JobResolver looks up async job outcomes and releases inputs of finished
// jobs.
type JobResolver interface {
	Poll(ctx context.Context, job domain.AsyncJob) (domain.JobStatus, error)
	Fetch(ctx context.Context, job domain.AsyncJob) (*asyncjob.Outcome, error)
	ReleaseInput(ctx context.Context, job domain.AsyncJob)
}

type App struct {
	Router    Router
	Readiness Readiness
	Jobs      JobResolver
	Ledger    jobs.Ledger
	Objects   storage.ObjectStore
	ModelName string
	Logger    zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, errorResponse{Error: kind, Message: message})
}

// fail classifies err and writes it. Unclassified errors are logged and
// reported without detail.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	msg := err.Error()
	if kind == domain.KindInternal {
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("unclassified error")
		msg = "internal error"
	}
	a.error(w, domain.HTTPStatus(err), kind, msg)
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", domain.ErrValidation)
		}
		return fmt.Errorf("%w: invalid json: %v", domain.ErrValidation, err)
	}
	return nil
}
