// Package app wires the bridge controller to its long-running front ends.
package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/milight/internal/config"
)

// App runs serve mode: MQTT and the HTTP API in front of one bridge.
type App struct {
	services *Services
}

// New builds the services for cfg without starting them.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}
	return &App{services: services}, nil
}

// Services exposes the wired services.
func (a *App) Services() *Services {
	return a.services
}

// Run serves until ctx is cancelled or a front end fails, then stops every
// service and waits for commands in progress. It returns the failure that
// ended the run, or nil after a requested shutdown.
func (a *App) Run(ctx context.Context) error {
	fatal := make(chan error, 1)
	onFatalError := func(err error) {
		select {
		case fatal <- err:
		default:
		}
	}

	if err := a.services.Start(ctx, onFatalError); err != nil {
		a.services.Close()
		return err
	}
	log.Info().Str("bridge", a.services.Controller.Addr().String()).Msg("milight started")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-fatal:
		log.Error().Err(runErr).Msg("Fatal error, initiating shutdown")
	}

	log.Info().Msg("Shutting down...")
	if err := a.services.Stop(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// SignalContext returns a context cancelled by SIGINT or SIGTERM.
// A second signal exits at once without waiting for commands to drain.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()

		sig = <-sigChan
		log.Error().Str("signal", sig.String()).Msg("Received second signal, exiting")
		os.Exit(1)
	}()

	return ctx
}
