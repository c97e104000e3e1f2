// Package asyncjob hands requests off through object storage: the input is
// written as a durable object, submitted by location, and the job is later
// resolved by looking for its output or failure object.
package asyncjob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"imagegateway/internal/codec"
	"imagegateway/internal/domain"
	"imagegateway/internal/storage"
)

// Receipt is what a submitter reports for an accepted job.
type Receipt struct {
	JobID           string
	OutputLocation  storage.Location
	FailureLocation storage.Location
}

// Submitter passes a durable input location to whatever runs the job.
type Submitter interface {
	Submit(ctx context.Context, input storage.Location) (Receipt, error)
}

// Outcome is the resolved state of a job. Exactly one of Result and Failure is
// set for terminal statuses.
type Outcome struct {
	Status  domain.JobStatus
	Result  *domain.InferenceResult
	Failure *domain.FailureDetail
}

// Options configures a Store. Submitter may be nil for a store that only
// polls and fetches existing jobs.
type Options struct {
	Objects       storage.ObjectStore
	Submitter     Submitter
	Bucket        string
	InputPrefix   string
	CleanupInputs bool
	Logger        zerolog.Logger
	Now           func() time.Time
}

type Store struct {
	objects   storage.ObjectStore
	submitter Submitter
	bucket    string
	prefix    string
	cleanup   bool
	logger    zerolog.Logger
	now       func() time.Time
}

func New(opts Options) (*Store, error) {
	if opts.Objects == nil {
		return nil, errors.New("asyncjob: object store is required")
	}
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("asyncjob: bucket is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	prefix := strings.Trim(opts.InputPrefix, "/")
	if prefix == "" {
		prefix = "async-inputs"
	}
	return &Store{
		objects:   opts.Objects,
		submitter: opts.Submitter,
		bucket:    opts.Bucket,
		prefix:    prefix,
		cleanup:   opts.CleanupInputs,
		logger:    opts.Logger,
		now:       opts.Now,
	}, nil
}

// inputKey is unique per call: a sortable UTC timestamp plus a random suffix.
func (s *Store) inputKey() string {
	ts := s.now().UTC().Format("20060102T150405.000Z")
	return path.Join(s.prefix, ts+"-"+uuid.NewString()+".json")
}

// Submit writes req to a fresh input object and submits it. The returned job
// carries the locations reported by the submitter; they never change.
func (s *Store) Submit(ctx context.Context, req domain.InferenceRequest, subject string) (domain.AsyncJob, error) {
	if err := req.Validate(); err != nil {
		return domain.AsyncJob{}, err
	}
	if s.submitter == nil {
		return domain.AsyncJob{}, fmt.Errorf("%w: no submitter configured", domain.ErrSubmission)
	}
	body, err := json.Marshal(inputEnvelope{Prompt: req.Prompt, Params: req.Params})
	if err != nil {
		return domain.AsyncJob{}, fmt.Errorf("%w: encode input: %v", domain.ErrStorage, err)
	}
	input := storage.Location{Bucket: s.bucket, Key: s.inputKey()}
	if err := s.objects.Put(ctx, input, body, "application/json"); err != nil {
		return domain.AsyncJob{}, fmt.Errorf("%w: write input %s: %v", domain.ErrStorage, input, err)
	}

	receipt, err := s.submitter.Submit(ctx, input)
	if err != nil {
		if !errors.Is(err, domain.ErrSubmission) {
			err = fmt.Errorf("%w: %v", domain.ErrSubmission, err)
		}
		return domain.AsyncJob{}, err
	}

	now := s.now()
	job := domain.AsyncJob{
		ID:              receipt.JobID,
		InputLocation:   input.String(),
		OutputLocation:  receipt.OutputLocation.String(),
		FailureLocation: receipt.FailureLocation.String(),
		Status:          domain.JobStatusSubmitted,
		Subject:         subject,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.logger.Info().
		Str("job_id", job.ID).
		Str("input", job.InputLocation).
		Str("output", job.OutputLocation).
		Str("prompt", domain.Truncate(req.Prompt, 50)).
		Msg("async job submitted")
	return job, nil
}

// Poll reports Pending, Succeeded or Failed by checking for the output object
// and then the failure object. It only reads.
func (s *Store) Poll(ctx context.Context, job domain.AsyncJob) (domain.JobStatus, error) {
	outLoc, failLoc, err := jobLocations(job)
	if err != nil {
		return domain.JobStatusUnknown, err
	}
	hasOutput, err := s.objects.Exists(ctx, outLoc)
	if err != nil {
		return domain.JobStatusUnknown, fmt.Errorf("%w: check output %s: %v", domain.ErrStorage, outLoc, err)
	}
	hasFailure, err := s.objects.Exists(ctx, failLoc)
	if err != nil {
		return domain.JobStatusUnknown, fmt.Errorf("%w: check failure %s: %v", domain.ErrStorage, failLoc, err)
	}
	switch {
	case hasOutput && hasFailure:
		return domain.JobStatusUnknown, fmt.Errorf("%w: job %s has both output and failure objects", domain.ErrStorage, job.ID)
	case hasOutput:
		return domain.JobStatusSucceeded, nil
	case hasFailure:
		return domain.JobStatusFailed, nil
	default:
		return domain.JobStatusPending, nil
	}
}

// Fetch polls the job and, once it is terminal, reads and decodes the
// relevant object. Like Poll it only reads, so repeated calls are safe.
func (s *Store) Fetch(ctx context.Context, job domain.AsyncJob) (*Outcome, error) {
	status, err := s.Poll(ctx, job)
	if err != nil {
		return nil, err
	}
	outLoc, failLoc, _ := jobLocations(job)

	var out *Outcome
	switch status {
	case domain.JobStatusSucceeded:
		raw, err := s.objects.Get(ctx, outLoc)
		if err != nil {
			return nil, fmt.Errorf("%w: read output %s: %v", domain.ErrStorage, outLoc, err)
		}
		res, err := codec.Unmarshal(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: decode output %s: %v", domain.ErrStorage, outLoc, err)
		}
		out = &Outcome{Status: status, Result: res}
	case domain.JobStatusFailed:
		raw, err := s.objects.Get(ctx, failLoc)
		if err != nil {
			return nil, fmt.Errorf("%w: read failure %s: %v", domain.ErrStorage, failLoc, err)
		}
		detail := codec.ParseFailure(raw)
		out = &Outcome{Status: status, Failure: &detail}
	default:
		return &Outcome{Status: status}, nil
	}

	return out, nil
}

// ReleaseInput deletes the input object of a job that has reached a terminal
// status, when cleanup is enabled. Call it once, from whoever records that
// transition. Failures are logged only: the result is already stored.
func (s *Store) ReleaseInput(ctx context.Context, job domain.AsyncJob) {
	if !s.cleanup || job.InputLocation == "" {
		return
	}
	loc, err := storage.ParseLocation(job.InputLocation)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("input cleanup skipped")
		return
	}
	if err := s.objects.Delete(ctx, loc); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Str("input", loc.String()).Msg("input cleanup failed")
	}
}

func jobLocations(job domain.AsyncJob) (storage.Location, storage.Location, error) {
	out, err := storage.ParseLocation(job.OutputLocation)
	if err != nil {
		return storage.Location{}, storage.Location{}, fmt.Errorf("%w: job %s: %v", domain.ErrStorage, job.ID, err)
	}
	fail, err := storage.ParseLocation(job.FailureLocation)
	if err != nil {
		return storage.Location{}, storage.Location{}, fmt.Errorf("%w: job %s: %v", domain.ErrStorage, job.ID, err)
	}
	return out, fail, nil
}
