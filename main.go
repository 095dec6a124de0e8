package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"mailsense/adapter/out/persistence"
	"mailsense/config"
	"mailsense/internal/bootstrap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", "mailsense").
		Logger()

	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg("no .env file, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error().Err(err).Msg("config load failed")
		os.Exit(config.ExitMisconfig)
	}
	if cfg.IsDevelopment() {
		logger = logger.Level(zerolog.DebugLevel)
	}
	if err := cfg.ValidateProduction(); err != nil {
		logger.Error().Err(err).Msg("startup validation failed")
		os.Exit(config.ExitMisconfig)
	}

	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		logger.Error().Err(err).Msg("policy load failed")
		os.Exit(config.ExitMisconfig)
	}

	deps, cleanup, err := bootstrap.NewDependencies(cfg, policy, logger)
	if err != nil {
		logger.Error().Err(err).Msg("storage unreachable")
		os.Exit(config.ExitStorageUnreachable)
	}
	defer cleanup()

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := persistence.Ping(bootCtx, deps.DB); err != nil {
		bootCancel()
		logger.Error().Err(err).Msg("storage unreachable")
		os.Exit(config.ExitStorageUnreachable)
	}
	deps.ReapStaleSessions(bootCtx)
	bootCancel()

	app := bootstrap.NewAPI(deps)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info().Dur("timeout", shutdownTimeout).Msg("shutting down")
		done := make(chan error, 1)
		go func() { done <- app.Shutdown() }()

		select {
		case err := <-done:
			if err != nil {
				logger.Error().Err(err).Msg("shutdown error")
			}
		case <-time.After(shutdownTimeout):
			logger.Warn().Msg("shutdown timed out, forcing exit")
		}
	}()

	addr := ":" + cfg.Port
	logger.Info().Str("addr", addr).Str("env", cfg.Environment).Msg("starting server")
	if err := app.Listen(addr); err != nil {
		logger.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}
