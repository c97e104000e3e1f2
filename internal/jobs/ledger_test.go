package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"imagegateway/internal/domain"
	"imagegateway/internal/sqlinline"
)

func sampleJob(id string) domain.AsyncJob {
	return domain.AsyncJob{
		ID:              id,
		Subject:         "client-1",
		Status:          domain.JobStatusSubmitted,
		InputLocation:   "s3://bucket/in/" + id + ".json",
		OutputLocation:  "s3://bucket/out/" + id + ".out",
		FailureLocation: "s3://bucket/err/" + id + ".out",
	}
}

func TestMemoryLedgerForwardOnly(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	if err := l.Record(ctx, sampleJob("a")); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		next domain.JobStatus
		want domain.JobStatus
	}{
		{domain.JobStatusPending, domain.JobStatusPending},
		{domain.JobStatusSubmitted, domain.JobStatusPending},
		{domain.JobStatusUnknown, domain.JobStatusPending},
		{domain.JobStatusSucceeded, domain.JobStatusSucceeded},
		{domain.JobStatusFailed, domain.JobStatusSucceeded},
	}
	for _, s := range steps {
		job, err := l.Advance(ctx, "a", s.next)
		if err != nil {
			t.Fatalf("advance to %s: %v", s.next, err)
		}
		if job.Status != s.want {
			t.Fatalf("advance to %s: status = %s, want %s", s.next, job.Status, s.want)
		}
	}

	if _, err := l.Advance(ctx, "missing", domain.JobStatusPending); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryLedgerListOpen(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		j := sampleJob(id)
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := l.Record(ctx, j); err != nil {
			t.Fatal(err)
		}
	}
	l.now = func() time.Time { return base.Add(time.Hour) }
	if _, err := l.Advance(ctx, "b", domain.JobStatusFailed); err != nil {
		t.Fatal(err)
	}

	open, err := l.ListOpen(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 2 || open[0].ID != "a" || open[1].ID != "c" {
		t.Fatalf("unexpected open jobs: %+v", open)
	}

	open, _ = l.ListOpen(ctx, 1)
	if len(open) != 1 {
		t.Fatalf("limit not applied: %d", len(open))
	}
}

func TestMemoryLedgerRecordIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	_ = l.Record(ctx, sampleJob("a"))
	_, _ = l.Advance(ctx, "a", domain.JobStatusPending)
	_ = l.Record(ctx, sampleJob("a"))
	job, err := l.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != domain.JobStatusPending {
		t.Fatalf("re-record reset status to %s", job.Status)
	}
}

// fakeSQL emulates the inference_jobs table for the handful of queries the
// ledger issues.
type fakeSQL struct {
	rows    map[string]domain.AsyncJob
	execErr error
	queries []string
}

func newFakeSQL() *fakeSQL { return &fakeSQL{rows: map[string]domain.AsyncJob{}} }

func (f *fakeSQL) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	f.queries = append(f.queries, query)
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	if query == sqlinline.QInsertInferenceJob {
		id := args[0].(string)
		if _, ok := f.rows[id]; ok {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		created := args[6].(time.Time)
		f.rows[id] = domain.AsyncJob{
			ID:              id,
			Subject:         args[1].(string),
			Status:          domain.JobStatus(args[2].(string)),
			InputLocation:   args[3].(string),
			OutputLocation:  args[4].(string),
			FailureLocation: args[5].(string),
			CreatedAt:       created,
			UpdatedAt:       created,
		}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.NewCommandTag("CREATE"), nil
}

func (f *fakeSQL) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	f.queries = append(f.queries, query)
	id := args[0].(string)
	job, ok := f.rows[id]
	switch query {
	case sqlinline.QSelectInferenceJob:
		if !ok {
			return fakeRow{err: pgx.ErrNoRows}
		}
		return fakeRow{job: job}
	case sqlinline.QAdvanceInferenceJob:
		next := domain.JobStatus(args[1].(string))
		allowed := args[2].([]string)
		if !ok || !contains(allowed, string(job.Status)) {
			return fakeRow{err: pgx.ErrNoRows}
		}
		job.Status = next
		f.rows[id] = job
		return fakeRow{job: job}
	}
	return fakeRow{err: errors.New("unexpected query")}
}

func (f *fakeSQL) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported by fake")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type fakeRow struct {
	job domain.AsyncJob
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.job.ID
	*dest[1].(*string) = r.job.Subject
	*dest[2].(*string) = string(r.job.Status)
	*dest[3].(*string) = r.job.InputLocation
	*dest[4].(*string) = r.job.OutputLocation
	*dest[5].(*string) = r.job.FailureLocation
	*dest[6].(*time.Time) = r.job.CreatedAt
	*dest[7].(*time.Time) = r.job.UpdatedAt
	return nil
}

func TestPostgresLedgerForwardOnly(t *testing.T) {
	ctx := context.Background()
	db := newFakeSQL()
	l := NewPostgresLedger(db)

	if err := l.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	if err := l.Record(ctx, sampleJob("a")); err != nil {
		t.Fatal(err)
	}

	job, err := l.Advance(ctx, "a", domain.JobStatusPending)
	if err != nil || job.Status != domain.JobStatusPending {
		t.Fatalf("advance to pending: %+v, %v", job, err)
	}
	job, err = l.Advance(ctx, "a", domain.JobStatusSubmitted)
	if err != nil || job.Status != domain.JobStatusPending {
		t.Fatalf("backwards move should be ignored: %+v, %v", job, err)
	}
	job, err = l.Advance(ctx, "a", domain.JobStatusSucceeded)
	if err != nil || job.Status != domain.JobStatusSucceeded {
		t.Fatalf("advance to succeeded: %+v, %v", job, err)
	}
	job, err = l.Advance(ctx, "a", domain.JobStatusFailed)
	if err != nil || job.Status != domain.JobStatusSucceeded {
		t.Fatalf("terminal status changed: %+v, %v", job, err)
	}

	if _, err := l.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresLedgerRecordError(t *testing.T) {
	db := newFakeSQL()
	db.execErr = errors.New("connection reset")
	l := NewPostgresLedger(db)
	if err := l.Record(context.Background(), sampleJob("a")); err == nil {
		t.Fatal("expected error")
	}
}

func TestPredecessors(t *testing.T) {
	if got := predecessors(domain.JobStatusPending); len(got) != 1 || got[0] != "submitted" {
		t.Fatalf("predecessors(pending) = %v", got)
	}
	if got := predecessors(domain.JobStatusFailed); len(got) != 2 {
		t.Fatalf("predecessors(failed) = %v", got)
	}
	if got := predecessors(domain.JobStatusUnknown); len(got) != 0 {
		t.Fatalf("predecessors(unknown) = %v", got)
	}
}
