package appbootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"taller-core/api"
	"taller-core/config"
	"taller-core/core/store"
)

// Run wires migrations, composes the runtime and serves until a termination
// signal arrives.
func Run(cfg *config.AppConfig, logger zerolog.Logger) error {
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	if err := store.ApplyMigrations(ctx, db, cfg.DBDriver, logger); err != nil {
		return err
	}

	comp := composeRuntime(cfg, db, logger)
	if err := comp.dispatcher.Rebuild(ctx); err != nil {
		return err
	}
	if err := comp.sweeper.Start(); err != nil {
		return err
	}
	server := api.NewServer(cfg, comp.serverDeps, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	if err := comp.sweeper.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("sweeper shutdown")
	}
	comp.bus.Close()
	return nil
}
