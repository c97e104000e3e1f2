// Package backend owns the loaded diffusion model: it selects a device once,
// warms the pipeline once, and admits one inference at a time onto the device.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"imagegateway/internal/codec"
	"imagegateway/internal/domain"
)

// State is the backend lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateWarmingUp     State = "warming_up"
	StateReady         State = "ready"
	StateServing       State = "serving"
	StateFailed        State = "failed"
)

// WarmupPrompt is the fixed placeholder used for the discarded warm-up pass.
const WarmupPrompt = "warmup"

// Pipeline is the opaque prompt-in, image-bytes-out capability.
type Pipeline interface {
	Load(ctx context.Context, src ModelSource, dev Device) error
	Generate(ctx context.Context, prompt string, params domain.Resolved, dev Device) ([]byte, error)
}

// Options configures a Backend.
type Options struct {
	Pipeline   Pipeline
	Prober     Prober
	DeviceHint string
	Source     ModelSource
	// Timeout bounds one Infer call including the wait for the device slot.
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Backend is the process-wide model handle. Construct one at startup and
// inject it wherever inference is needed.
type Backend struct {
	pipeline Pipeline
	prober   Prober
	hint     string
	source   ModelSource
	timeout  time.Duration
	logger   zerolog.Logger

	slot *semaphore.Weighted

	startOnce sync.Once
	startErr  error

	mu     sync.RWMutex
	state  State
	device Device
}

func New(opts Options) (*Backend, error) {
	if opts.Pipeline == nil {
		return nil, errors.New("backend: pipeline is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Backend{
		pipeline: opts.Pipeline,
		prober:   opts.Prober,
		hint:     opts.DeviceHint,
		source:   opts.Source,
		timeout:  timeout,
		logger:   opts.Logger,
		slot:     semaphore.NewWeighted(1),
		state:    StateUninitialized,
	}, nil
}

// Start selects the device, loads the pipeline and runs the warm-up pass. It
// runs at most once per Backend; concurrent and later callers get the result
// of that single run.
func (b *Backend) Start(ctx context.Context) error {
	b.startOnce.Do(func() {
		b.startErr = b.start(ctx)
	})
	return b.startErr
}

// warmupParams is a single cheap step at the default size.
var warmupParams = domain.Resolved{
	Steps:         1,
	GuidanceScale: domain.DefaultGuidanceScale,
	Width:         domain.DefaultImageSize,
	Height:        domain.DefaultImageSize,
}

func (b *Backend) start(ctx context.Context) error {
	b.setState(StateInitializing)
	dev, err := SelectDevice(ctx, b.hint, b.prober)
	if err != nil {
		return b.fail(err)
	}
	b.mu.Lock()
	b.device = dev
	b.mu.Unlock()
	b.logger.Info().Str("device", dev.String()).Str("model", b.source.ID).Msg("backend: loading pipeline")

	if err := b.pipeline.Load(ctx, b.source, dev); err != nil {
		return b.fail(fmt.Errorf("%w: load pipeline: %w", domain.ErrModelLoad, err))
	}

	b.setState(StateWarmingUp)
	started := time.Now()
	data, err := b.pipeline.Generate(ctx, WarmupPrompt, warmupParams, dev)
	if err != nil {
		return b.fail(fmt.Errorf("%w: warm-up pass: %w", domain.ErrModelLoad, err))
	}
	if _, _, _, err := codec.Sniff(data); err != nil {
		return b.fail(fmt.Errorf("%w: warm-up produced invalid image: %w", domain.ErrModelLoad, err))
	}
	b.logger.Info().Dur("warmup", time.Since(started)).Msg("backend: model loaded, warmed up, and ready for inference")
	b.setState(StateReady)
	return nil
}

func (b *Backend) fail(err error) error {
	b.setState(StateFailed)
	b.logger.Error().Err(err).Msg("backend: startup failed")
	if !errors.Is(err, domain.ErrModelLoad) {
		err = fmt.Errorf("%w: %w", domain.ErrModelLoad, err)
	}
	return err
}

func (b *Backend) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// State returns the current lifecycle state.
func (b *Backend) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Ready reports whether the backend finished warm-up and can take traffic.
func (b *Backend) Ready() bool {
	s := b.State()
	return s == StateReady || s == StateServing
}

// Device returns the device chosen at initialization.
func (b *Backend) Device() Device {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.device
}

// Infer runs one inference. Callers block on the single device slot until it
// frees, ctx is cancelled, or the backend timeout expires.
func (b *Backend) Infer(ctx context.Context, prompt string, params domain.Params) (*domain.InferenceResult, error) {
	switch b.State() {
	case StateReady, StateServing:
	case StateFailed:
		return nil, fmt.Errorf("%w: backend failed to start", domain.ErrModelLoad)
	default:
		return nil, domain.ErrNotReady
	}
	prompt = domain.NormalizePrompt(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt cannot be empty", domain.ErrValidation)
	}
	resolved, err := params.Resolve()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := b.slot.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: waiting for device slot: %w", domain.ErrInference, err)
	}
	defer b.slot.Release(1)
	b.setState(StateServing)
	defer b.setState(StateReady)

	dev := b.Device()
	b.logger.Info().Str("prompt", domain.Truncate(prompt, 50)).Str("device", string(dev.Kind)).Msg("backend: inference started")
	started := time.Now()
	data, err := b.pipeline.Generate(ctx, prompt, resolved, dev)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrInference, err)
	}
	contentType, w, h, err := codec.Sniff(data)
	if err != nil {
		return nil, fmt.Errorf("%w: backend returned invalid image: %w", domain.ErrInference, err)
	}
	elapsed := time.Since(started)
	b.logger.Info().Dur("duration", elapsed).Int("bytes", len(data)).Msg("backend: inference completed")
	return &domain.InferenceResult{
		ImageBytes:  data,
		ContentType: contentType,
		Width:       w,
		Height:      h,
		Duration:    elapsed,
	}, nil
}
