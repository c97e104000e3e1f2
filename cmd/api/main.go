package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"imagegateway/internal/gateway"
	"imagegateway/internal/http/handlers"
	httpapi "imagegateway/internal/http/httpapi"
	"imagegateway/internal/infra"
)

func main() {
	// .env is optional outside development.
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := wire(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to initialise dependencies")
	}
	defer deps.close()

	router := gateway.NewRouter(deps.backend, deps.jobs, deps.ledger, logger)
	app := &handlers.App{
		Router:    router,
		Readiness: deps.backend,
		Jobs:      deps.jobs,
		Ledger:    deps.ledger,
		Objects:   deps.objects,
		ModelName: deps.modelName,
		Logger:    logger,
	}
	handler := httpapi.NewRouter(httpapi.Deps{
		App:         app,
		Auth:        deps.auth,
		Limiter:     deps.limiter,
		CORSOrigins: cfg.CORSAllowedOrigins,
		Logger:      logger,
	})
	server := infra.NewHTTPServer(cfg, handler)

	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("api: listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	// /ping reports unavailable until the model is loaded and warmed up.
	go func() {
		if err := deps.backend.Start(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Fatal().Err(err).Msg("api: model backend failed to start")
		}
		logger.Info().Str("device", deps.backend.Device().String()).Msg("api: model ready")
	}()

	<-ctx.Done()
	logger.Info().Msg("api: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.SyncTimeout+10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: failed to shutdown server")
	}
	if deps.local != nil {
		deps.local.Wait()
	}
	logger.Info().Msg("api: stopped")
}
