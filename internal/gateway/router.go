// Package gateway dispatches an accepted request to the sync or async path.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"imagegateway/internal/codec"
	"imagegateway/internal/domain"
	"imagegateway/internal/jobs"
)

// Backend runs one inference synchronously.
type Backend interface {
	Infer(ctx context.Context, prompt string, params domain.Params) (*domain.InferenceResult, error)
}

// JobSubmitter hands a request off for asynchronous processing.
type JobSubmitter interface {
	Submit(ctx context.Context, req domain.InferenceRequest, subject string) (domain.AsyncJob, error)
}

// Response holds the sync envelope or the async job handle, never both.
type Response struct {
	Mode     domain.Mode
	Envelope *codec.Envelope
	Job      *domain.AsyncJob
}

type Router struct {
	backend Backend
	jobs    JobSubmitter
	ledger  jobs.Ledger
	logger  zerolog.Logger
}

// NewRouter wires the two paths. ledger may be nil.
func NewRouter(backend Backend, submitter JobSubmitter, ledger jobs.Ledger, logger zerolog.Logger) *Router {
	return &Router{backend: backend, jobs: submitter, ledger: ledger, logger: logger}
}

// Route validates req and dispatches on its mode.
func (r *Router) Route(ctx context.Context, req domain.InferenceRequest, principal domain.Principal) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	switch req.Mode {
	case domain.ModeAsync:
		return r.routeAsync(ctx, req, principal)
	default:
		return r.routeSync(ctx, req)
	}
}

func (r *Router) routeSync(ctx context.Context, req domain.InferenceRequest) (*Response, error) {
	if r.backend == nil {
		return nil, fmt.Errorf("%w: sync path not configured", domain.ErrNotReady)
	}
	res, err := r.backend.Infer(ctx, req.Prompt, req.Params)
	if err != nil {
		return nil, classify(err, domain.ErrInference)
	}
	env, err := codec.Encode(res, req.Prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInference, err)
	}
	return &Response{Mode: domain.ModeSync, Envelope: env}, nil
}

func (r *Router) routeAsync(ctx context.Context, req domain.InferenceRequest, principal domain.Principal) (*Response, error) {
	if r.jobs == nil {
		return nil, fmt.Errorf("%w: async path not configured", domain.ErrSubmission)
	}
	job, err := r.jobs.Submit(ctx, req, principal.Subject)
	if err != nil {
		return nil, classify(err, domain.ErrSubmission)
	}
	if r.ledger != nil {
		// The job is already durable; a ledger miss only hides it from /jobs lookups.
		if err := r.ledger.Record(ctx, job); err != nil {
			r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("record job in ledger")
		}
	}
	return &Response{Mode: domain.ModeAsync, Job: &job}, nil
}

// classify keeps an error that already carries a kind and wraps anything else
// in fallback.
func classify(err, fallback error) error {
	if domain.KindOf(err) != domain.KindInternal || errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrInference, err)
	}
	return fmt.Errorf("%w: %v", fallback, err)
}
