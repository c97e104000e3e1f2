package asyncjob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"imagegateway/internal/codec"
	"imagegateway/internal/domain"
	"imagegateway/internal/storage"
)

// resultWriteTimeout bounds writing the output or failure object once a job
// has finished.
const resultWriteTimeout = 30 * time.Second

// Runner produces an image for a prompt. *backend.Backend satisfies it.
type Runner interface {
	Infer(ctx context.Context, prompt string, params domain.Params) (*domain.InferenceResult, error)
}

type LocalOptions struct {
	Objects       storage.ObjectStore
	Runner        Runner
	Bucket        string
	OutputPrefix  string
	FailurePrefix string
	Timeout       time.Duration
	Logger        zerolog.Logger
}

// LocalSubmitter runs jobs in-process and writes the output or failure object
// the way a managed async endpoint would. Jobs outlive the submitting request.
type LocalSubmitter struct {
	objects       storage.ObjectStore
	runner        Runner
	bucket        string
	outputPrefix  string
	failurePrefix string
	timeout       time.Duration
	logger        zerolog.Logger
	wg            sync.WaitGroup
}

func NewLocalSubmitter(opts LocalOptions) *LocalSubmitter {
	if opts.OutputPrefix == "" {
		opts.OutputPrefix = "async-outputs"
	}
	if opts.FailurePrefix == "" {
		opts.FailurePrefix = "async-failures"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	return &LocalSubmitter{
		objects:       opts.Objects,
		runner:        opts.Runner,
		bucket:        opts.Bucket,
		outputPrefix:  opts.OutputPrefix,
		failurePrefix: opts.FailurePrefix,
		timeout:       opts.Timeout,
		logger:        opts.Logger,
	}
}

func (l *LocalSubmitter) Submit(ctx context.Context, input storage.Location) (Receipt, error) {
	id := uuid.NewString()
	r := Receipt{
		JobID:           id,
		OutputLocation:  storage.Location{Bucket: l.bucket, Key: path.Join(l.outputPrefix, id+".out")},
		FailureLocation: storage.Location{Bucket: l.bucket, Key: path.Join(l.failurePrefix, id+"-error.out")},
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.run(input, r)
	}()
	return r, nil
}

// Wait blocks until every submitted job has written its result.
func (l *LocalSubmitter) Wait() {
	l.wg.Wait()
}

func (l *LocalSubmitter) run(input storage.Location, r Receipt) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	log := l.logger.With().Str("job_id", r.JobID).Logger()

	body, err := l.execute(ctx, input)

	// The job context may already be done; the result still has to land.
	writeCtx, writeCancel := context.WithTimeout(context.WithoutCancel(ctx), resultWriteTimeout)
	defer writeCancel()

	if err != nil {
		log.Warn().Err(err).Str("kind", domain.KindOf(err)).Msg("async job failed")
		if putErr := l.objects.Put(writeCtx, r.FailureLocation, codec.MarshalFailure(err), "application/json"); putErr != nil {
			log.Error().Err(putErr).Str("failure", r.FailureLocation.String()).Msg("write failure object")
		}
		return
	}
	if err := l.objects.Put(writeCtx, r.OutputLocation, body, "application/json"); err != nil {
		log.Error().Err(err).Str("output", r.OutputLocation.String()).Msg("write output object")
		return
	}
	log.Info().Str("output", r.OutputLocation.String()).Msg("async job succeeded")
}

func (l *LocalSubmitter) execute(ctx context.Context, input storage.Location) ([]byte, error) {
	raw, err := l.objects.Get(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: read input %s: %v", domain.ErrStorage, input, err)
	}
	req, err := ParseInput(raw)
	if err != nil {
		return nil, err
	}
	res, err := l.runner.Infer(ctx, req.Prompt, req.Params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && domain.KindOf(err) == domain.KindInternal {
			err = fmt.Errorf("%w: job exceeded %s", domain.ErrInference, l.timeout)
		}
		return nil, err
	}
	body, err := codec.Marshal(res, req.Prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInference, err)
	}
	return body, nil
}

var _ Submitter = (*LocalSubmitter)(nil)
