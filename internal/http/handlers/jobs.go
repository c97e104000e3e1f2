package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"imagegateway/internal/codec"
	"imagegateway/internal/domain"
	"imagegateway/internal/middleware"
)

// loadJob returns the ledger entry for the {id} URL parameter. Jobs owned by
// another subject are reported as missing.
func (a *App) loadJob(r *http.Request) (domain.AsyncJob, error) {
	id := chi.URLParam(r, "id")
	if id == "" {
		return domain.AsyncJob{}, fmt.Errorf("%w: job id required", domain.ErrValidation)
	}
	if a.Ledger == nil || a.Jobs == nil {
		return domain.AsyncJob{}, domain.ErrNotFound
	}
	job, err := a.Ledger.Get(r.Context(), id)
	if err != nil {
		return domain.AsyncJob{}, err
	}
	principal, _ := middleware.PrincipalFromContext(r.Context())
	if job.Subject != "" && job.Subject != principal.Subject {
		return domain.AsyncJob{}, domain.ErrNotFound
	}
	return job, nil
}

// advance records a freshly polled status. The ledger ignores moves that are
// not forward. The request that moves a job into a terminal status releases
// its input object.
func (a *App) advance(r *http.Request, job domain.AsyncJob, status domain.JobStatus) domain.AsyncJob {
	if !job.Status.CanAdvance(status) {
		return job
	}
	updated, err := a.Ledger.Advance(r.Context(), job.ID, status)
	if err != nil {
		a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("advance job status")
		job.Status = status
		return job
	}
	if updated.Status == status && status.Terminal() {
		a.Jobs.ReleaseInput(r.Context(), updated)
	}
	return updated
}

// JobStatus polls a job without reading its result.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := a.loadJob(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !job.Status.Terminal() {
		status, err := a.Jobs.Poll(r.Context(), job)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		job = a.advance(r, job, status)
	}
	a.json(w, http.StatusOK, handleFor(job))
}

type jobResult struct {
	JobID   string                `json:"job_id"`
	Status  domain.JobStatus      `json:"status"`
	Result  *codec.Envelope       `json:"result,omitempty"`
	Failure *domain.FailureDetail `json:"failure,omitempty"`
}

// JobResult returns the decoded output or failure once the job is terminal,
// and 202 while it is still pending.
func (a *App) JobResult(w http.ResponseWriter, r *http.Request) {
	job, err := a.loadJob(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out, err := a.Jobs.Fetch(r.Context(), job)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	job = a.advance(r, job, out.Status)
	body := jobResult{JobID: job.ID, Status: out.Status}
	switch out.Status {
	case domain.JobStatusSucceeded:
		env, err := codec.Encode(out.Result, "")
		if err != nil {
			a.fail(w, r, fmt.Errorf("%w: %v", domain.ErrStorage, err))
			return
		}
		body.Result = env
	case domain.JobStatusFailed:
		body.Failure = out.Failure
	default:
		a.json(w, http.StatusAccepted, body)
		return
	}
	a.json(w, http.StatusOK, body)
}
