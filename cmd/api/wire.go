package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	"github.com/rs/zerolog"

	"imagegateway/internal/asyncjob"
	"imagegateway/internal/auth"
	"imagegateway/internal/backend"
	"imagegateway/internal/infra"
	"imagegateway/internal/jobs"
	"imagegateway/internal/ratelimit"
	"imagegateway/internal/storage"
)

type dependencies struct {
	backend   *backend.Backend
	jobs      *asyncjob.Store
	local     *asyncjob.LocalSubmitter
	ledger    jobs.Ledger
	objects   storage.ObjectStore
	auth      *auth.Authenticator
	limiter   *ratelimit.Limiter
	modelName string

	closers []func()
}

func (d *dependencies) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func wire(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*dependencies, error) {
	d := &dependencies{}

	var awsCfg aws.Config
	if cfg.NeedsAWS() {
		var err error
		awsCfg, err = infra.NewAWSConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	objects, err := newObjectStore(cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	d.objects = objects

	source := backend.ResolveModelSource(cfg.ModelDir, cfg.ModelID, cfg.ModelS3Location, logger)
	d.modelName = source.ID
	var pipeline backend.Pipeline
	switch cfg.BackendKind {
	case infra.BackendEndpoint:
		pipeline = backend.NewEndpointPipeline(sagemakerruntime.NewFromConfig(awsCfg), cfg.SageMakerEndpointName)
		d.modelName = cfg.SageMakerEndpointName
	default:
		pipeline = backend.NewRuntimeClient(backend.RuntimeOptions{
			BaseURL: cfg.RuntimeURL,
			Timeout: cfg.SyncTimeout,
		})
	}
	d.backend, err = backend.New(backend.Options{
		Pipeline:   pipeline,
		Prober:     backend.SystemProber{Timeout: 5 * time.Second},
		DeviceHint: cfg.EffectiveDeviceHint(),
		Source:     source,
		Timeout:    cfg.SyncTimeout,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	var submitter asyncjob.Submitter
	switch cfg.AsyncSubmitter {
	case infra.SubmitterSageMaker:
		submitter = asyncjob.NewSageMakerSubmitter(sagemakerruntime.NewFromConfig(awsCfg), cfg.SageMakerEndpointName)
	default:
		d.local = asyncjob.NewLocalSubmitter(asyncjob.LocalOptions{
			Objects: objects,
			Runner:  d.backend,
			Bucket:  cfg.StorageBucket,
			Logger:  logger,
		})
		submitter = d.local
	}
	d.jobs, err = asyncjob.New(asyncjob.Options{
		Objects:       objects,
		Submitter:     submitter,
		Bucket:        cfg.StorageBucket,
		InputPrefix:   cfg.StorageInputPrefix,
		CleanupInputs: cfg.CleanupInputs,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	if d.ledger, err = newLedger(ctx, cfg, logger, d); err != nil {
		return nil, err
	}
	if d.limiter, err = newLimiter(ctx, cfg, logger, d); err != nil {
		return nil, err
	}
	if d.auth, err = newAuthenticator(cfg); err != nil {
		return nil, err
	}
	return d, nil
}

func newObjectStore(cfg *infra.Config, awsCfg aws.Config) (storage.ObjectStore, error) {
	if cfg.StorageBackend == infra.StorageS3 {
		return storage.NewS3Store(s3.NewFromConfig(awsCfg)), nil
	}
	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	return storage.NewFileStore(storagePath)
}

func newLedger(ctx context.Context, cfg *infra.Config, logger zerolog.Logger, d *dependencies) (jobs.Ledger, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("api: DATABASE_URL not set, job ledger is in-memory")
		return jobs.NewMemoryLedger(), nil
	}
	pool, err := infra.NewDBPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, pool.Close)
	ledger := jobs.NewPostgresLedger(infra.NewSQLRunner(pool, logger))
	if err := ledger.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return ledger, nil
}

func newLimiter(ctx context.Context, cfg *infra.Config, logger zerolog.Logger, d *dependencies) (*ratelimit.Limiter, error) {
	policies, err := ratelimit.LoadPolicies(cfg.RateLimitFile, ratelimit.Policy{
		Burst:           cfg.RateLimitBurst,
		RefillPerSecond: cfg.RateLimitRefillPerSecond,
	})
	if err != nil {
		return nil, err
	}
	var store ratelimit.Store = ratelimit.NewMemoryStore()
	if cfg.RedisURL != "" {
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() { _ = client.Close() })
		store = ratelimit.NewRedisStore(client, "")
	} else {
		logger.Warn().Msg("api: REDIS_URL not set, rate limits are per process")
	}
	return ratelimit.NewLimiter(store, policies, logger), nil
}

func newAuthenticator(cfg *infra.Config) (*auth.Authenticator, error) {
	opts := auth.Options{
		Issuer:         cfg.JWTIssuer,
		RequiredScopes: cfg.JWTRequiredScopes,
		Leeway:         30 * time.Second,
	}
	if cfg.JWTSecret != "" {
		opts.Secret = []byte(cfg.JWTSecret)
	}
	if cfg.JWTPublicKeyPath != "" {
		key, err := auth.LoadRSAPublicKey(cfg.JWTPublicKeyPath)
		if err != nil {
			return nil, err
		}
		opts.PublicKey = key
	}
	if cfg.JWTJWKSURL != "" {
		opts.JWKS = auth.NewJWKS(cfg.JWTJWKSURL, &http.Client{Timeout: 10 * time.Second})
	}
	a, err := auth.New(opts)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	return a, nil
}
