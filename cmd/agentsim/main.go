package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/datachat/internal/agentsim"
	"github.com/gosuda/datachat/internal/config"
	"github.com/gosuda/datachat/internal/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	cfg, err := config.LoadSimulator()
	if err != nil {
		return err
	}

	logCloser := logging.Setup(cfg.Log, os.Stdout)
	defer logCloser.Close()

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sim := agentsim.New(agentsim.WithStepDelay(cfg.StepDelay))
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           sim.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Dur("step_delay", cfg.StepDelay).Msg("starting agent simulator")
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			errCh <- fmt.Errorf("agentsim: %w", listenErr)
		}
	}()

	// Block until shutdown signal or listener failure.
	select {
	case <-ctx.Done():
	case err = <-errCh:
		return err
	}
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		return fmt.Errorf("agentsim: shutdown: %w", shutdownErr)
	}

	log.Info().Msg("stopped")
	return nil
}
