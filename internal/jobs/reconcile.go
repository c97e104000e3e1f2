package jobs

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"imagegateway/internal/domain"
)

// Poller reports the current status of a job from storage.
type Poller interface {
	Poll(ctx context.Context, job domain.AsyncJob) (domain.JobStatus, error)
}

// InputReleaser drops the input object of a job that has finished.
type InputReleaser interface {
	ReleaseInput(ctx context.Context, job domain.AsyncJob)
}

// Reconciler moves open ledger entries forward to whatever storage reports.
// When Inputs is set, jobs it moves into a terminal status have their input
// released.
type Reconciler struct {
	Ledger      Ledger
	Poller      Poller
	Inputs      InputReleaser
	BatchSize   int
	Concurrency int
	Logger      zerolog.Logger
}

// Summary counts what one reconcile pass did.
type Summary struct {
	Checked   int
	Advanced  int
	Succeeded int
	Failed    int
	Errors    int
}

type jobOutcome struct {
	advanced bool
	status   domain.JobStatus
	err      error
}

// RunOnce polls one batch of open jobs. Per-job errors are logged and counted;
// only a ledger listing failure is returned.
func (r *Reconciler) RunOnce(ctx context.Context) (Summary, error) {
	batch := r.BatchSize
	if batch <= 0 {
		batch = 100
	}
	open, err := r.Ledger.ListOpen(ctx, batch)
	if err != nil {
		return Summary{}, err
	}

	results := make([]jobOutcome, len(open))
	g, gctx := errgroup.WithContext(ctx)
	limit := r.Concurrency
	if limit <= 0 {
		limit = 8
	}
	g.SetLimit(limit)
	for i, job := range open {
		g.Go(func() error {
			results[i] = r.reconcile(gctx, job)
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Checked: len(open)}
	for _, res := range results {
		switch {
		case res.err != nil:
			sum.Errors++
		case res.advanced:
			sum.Advanced++
			switch res.status {
			case domain.JobStatusSucceeded:
				sum.Succeeded++
			case domain.JobStatusFailed:
				sum.Failed++
			}
		}
	}
	return sum, ctx.Err()
}

func (r *Reconciler) reconcile(ctx context.Context, job domain.AsyncJob) jobOutcome {
	status, err := r.Poller.Poll(ctx, job)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("reconcile: poll failed")
		}
		return jobOutcome{err: err}
	}
	if status == job.Status || !job.Status.CanAdvance(status) {
		return jobOutcome{status: job.Status}
	}
	updated, err := r.Ledger.Advance(ctx, job.ID, status)
	if err != nil {
		r.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("reconcile: advance failed")
		return jobOutcome{err: err}
	}
	advanced := updated.Status == status
	if advanced && status.Terminal() && r.Inputs != nil {
		r.Inputs.ReleaseInput(ctx, updated)
	}
	if advanced {
		r.Logger.Info().
			Str("job_id", job.ID).
			Str("from", string(job.Status)).
			Str("to", string(status)).
			Msg("reconcile: job advanced")
	}
	return jobOutcome{advanced: advanced, status: status}
}
