// Package jobs keeps a ledger of submitted async jobs so callers and the
// poller can list and look them up by id. The ledger is bookkeeping only: the
// result and failure objects in storage remain the source of truth.
package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"imagegateway/internal/domain"
)

// Ledger records async jobs. Advance never moves a job backwards; a
// transition that is not forward leaves the job untouched and returns its
// current state.
type Ledger interface {
	Record(ctx context.Context, job domain.AsyncJob) error
	Get(ctx context.Context, id string) (domain.AsyncJob, error)
	Advance(ctx context.Context, id string, next domain.JobStatus) (domain.AsyncJob, error)
	ListOpen(ctx context.Context, limit int) ([]domain.AsyncJob, error)
}

// predecessors lists every status that may advance to next.
func predecessors(next domain.JobStatus) []string {
	var out []string
	for _, s := range []domain.JobStatus{domain.JobStatusSubmitted, domain.JobStatusPending} {
		if s.CanAdvance(next) {
			out = append(out, string(s))
		}
	}
	return out
}

// MemoryLedger is a process-local Ledger.
type MemoryLedger struct {
	mu   sync.RWMutex
	jobs map[string]domain.AsyncJob
	now  func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{jobs: make(map[string]domain.AsyncJob), now: time.Now}
}

func (l *MemoryLedger) Record(ctx context.Context, job domain.AsyncJob) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.jobs[job.ID]; ok {
		return nil
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = l.now()
	}
	job.UpdatedAt = job.CreatedAt
	l.jobs[job.ID] = job
	return nil
}

func (l *MemoryLedger) Get(ctx context.Context, id string) (domain.AsyncJob, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	job, ok := l.jobs[id]
	if !ok {
		return domain.AsyncJob{}, domain.ErrNotFound
	}
	return job, nil
}

func (l *MemoryLedger) Advance(ctx context.Context, id string, next domain.JobStatus) (domain.AsyncJob, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[id]
	if !ok {
		return domain.AsyncJob{}, domain.ErrNotFound
	}
	if job.Status.CanAdvance(next) {
		job.Status = next
		job.UpdatedAt = l.now()
		l.jobs[id] = job
	}
	return job, nil
}

func (l *MemoryLedger) ListOpen(ctx context.Context, limit int) ([]domain.AsyncJob, error) {
	l.mu.RLock()
	out := make([]domain.AsyncJob, 0)
	for _, job := range l.jobs {
		if !job.Status.Terminal() {
			out = append(out, job)
		}
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Ledger = (*MemoryLedger)(nil)
