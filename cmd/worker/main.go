package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"imagegateway/internal/asyncjob"
	"imagegateway/internal/infra"
	"imagegateway/internal/jobs"
	"imagegateway/internal/storage"
)

func main() {
	interval := flag.Duration("interval", 5*time.Second, "delay between reconcile passes")
	batch := flag.Int("batch", 100, "maximum open jobs checked per pass")
	concurrency := flag.Int("concurrency", 8, "jobs polled in parallel")
	once := flag.Bool("once", false, "run a single pass and exit")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("worker: DATABASE_URL is required, the in-memory ledger is not shared with the api")
	}
	pool, err := infra.NewDBPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	ledger := jobs.NewPostgresLedger(infra.NewSQLRunner(pool, logger))
	if err := ledger.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: ensure schema failed")
	}

	var objects storage.ObjectStore
	if cfg.StorageBackend == infra.StorageS3 {
		awsCfg, err := infra.NewAWSConfig(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: aws config failed")
		}
		objects = storage.NewS3Store(s3.NewFromConfig(awsCfg))
	} else {
		fs, err := storage.NewFileStore(cfg.StoragePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: failed to configure storage")
		}
		objects = fs
	}

	poller, err := asyncjob.New(asyncjob.Options{
		Objects:       objects,
		Bucket:        cfg.StorageBucket,
		InputPrefix:   cfg.StorageInputPrefix,
		CleanupInputs: cfg.CleanupInputs,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure job store")
	}

	r := &jobs.Reconciler{
		Ledger:      ledger,
		Poller:      poller,
		Inputs:      poller,
		BatchSize:   *batch,
		Concurrency: *concurrency,
		Logger:      logger,
	}

	logger.Info().Dur("interval", *interval).Bool("once", *once).Msg("worker: started")
	for {
		sum, err := r.RunOnce(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			logger.Info().Msg("worker: stopped")
			return
		case err != nil:
			logger.Error().Err(err).Msg("worker: reconcile pass failed")
		case sum.Checked > 0:
			logger.Info().
				Int("checked", sum.Checked).
				Int("advanced", sum.Advanced).
				Int("succeeded", sum.Succeeded).
				Int("failed", sum.Failed).
				Int("errors", sum.Errors).
				Msg("worker: reconcile pass")
		}
		if *once {
			return
		}
		select {
		case <-ctx.Done():
			logger.Info().Msg("worker: stopped")
			return
		case <-time.After(*interval):
		}
	}
}
