package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"imagegateway/internal/domain"
	"imagegateway/internal/infra"
	"imagegateway/internal/sqlinline"
)

// PostgresLedger persists jobs in the inference_jobs table.
type PostgresLedger struct {
	sql infra.SQLExecutor
	now func() time.Time
}

func NewPostgresLedger(sql infra.SQLExecutor) *PostgresLedger {
	return &PostgresLedger{sql: sql, now: time.Now}
}

// EnsureSchema creates the table and index when missing.
func (l *PostgresLedger) EnsureSchema(ctx context.Context) error {
	for _, q := range []string{sqlinline.QCreateInferenceJobsTable, sqlinline.QCreateInferenceJobsOpenIndex} {
		if _, err := l.sql.Exec(ctx, q); err != nil {
			return fmt.Errorf("jobs: ensure schema: %w", err)
		}
	}
	return nil
}

func (l *PostgresLedger) Record(ctx context.Context, job domain.AsyncJob) error {
	created := job.CreatedAt
	if created.IsZero() {
		created = l.now()
	}
	_, err := l.sql.Exec(ctx, sqlinline.QInsertInferenceJob,
		job.ID,
		job.Subject,
		string(job.Status),
		job.InputLocation,
		job.OutputLocation,
		job.FailureLocation,
		created,
	)
	if err != nil {
		return fmt.Errorf("jobs: record %s: %w", job.ID, err)
	}
	return nil
}

func (l *PostgresLedger) Get(ctx context.Context, id string) (domain.AsyncJob, error) {
	job, err := scanJob(l.sql.QueryRow(ctx, sqlinline.QSelectInferenceJob, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return domain.AsyncJob{}, domain.ErrNotFound
		}
		return domain.AsyncJob{}, fmt.Errorf("jobs: get %s: %w", id, err)
	}
	return job, nil
}

func (l *PostgresLedger) Advance(ctx context.Context, id string, next domain.JobStatus) (domain.AsyncJob, error) {
	allowed := predecessors(next)
	if len(allowed) > 0 {
		job, err := scanJob(l.sql.QueryRow(ctx, sqlinline.QAdvanceInferenceJob, id, string(next), allowed))
		if err == nil {
			return job, nil
		}
		if !infra.IsNoRows(err) {
			return domain.AsyncJob{}, fmt.Errorf("jobs: advance %s: %w", id, err)
		}
	}
	// Not a forward move from the stored status (or the row is missing).
	return l.Get(ctx, id)
}

func (l *PostgresLedger) ListOpen(ctx context.Context, limit int) ([]domain.AsyncJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.sql.Query(ctx, sqlinline.QListOpenInferenceJobs, limit)
	if err != nil {
		return nil, fmt.Errorf("jobs: list open: %w", err)
	}
	defer rows.Close()

	var out []domain.AsyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobs: list open: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobs: list open: %w", err)
	}
	return out, nil
}

func scanJob(row pgx.Row) (domain.AsyncJob, error) {
	var (
		job    domain.AsyncJob
		status string
	)
	if err := row.Scan(
		&job.ID,
		&job.Subject,
		&status,
		&job.InputLocation,
		&job.OutputLocation,
		&job.FailureLocation,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return domain.AsyncJob{}, err
	}
	job.Status = domain.JobStatus(status)
	if job.Status == domain.JobStatusUnknown {
		return domain.AsyncJob{}, errors.New("ledger row holds unknown status")
	}
	return job, nil
}

var _ Ledger = (*PostgresLedger)(nil)
