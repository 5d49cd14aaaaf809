package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/milight/internal/api"
	"github.com/dokzlo13/milight/internal/bridge"
	"github.com/dokzlo13/milight/internal/capture"
	"github.com/dokzlo13/milight/internal/config"
	"github.com/dokzlo13/milight/internal/db"
	"github.com/dokzlo13/milight/internal/ledger"
	"github.com/dokzlo13/milight/internal/milight"
	"github.com/dokzlo13/milight/internal/mqtt"
)

// retentionInterval is how often old ledger entries are purged.
const retentionInterval = time.Hour

// Services is a container for all application services.
// The one-shot CLI modes use Controller and Ledger without calling Start.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB      *db.DB          // nil when database.path is empty
	Ledger  *ledger.Ledger  // nil when database.path is empty
	Capture *capture.Writer // nil when capture.path is empty

	Controller *bridge.Controller

	// Front ends, started by Start
	MQTT *mqtt.Service
	API  *api.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup // API server and ledger cleanup
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	return NewServicesWithTransport(cfg, nil)
}

// NewServicesWithTransport is NewServices with a replaceable bridge transport.
// A nil transport sends real datagrams from bridge.local_address.
func NewServicesWithTransport(cfg *config.Config, transport milight.Transport) (*Services, error) {
	s := &Services{cfg: cfg}

	addr, err := cfg.Bridge.UDPAddr()
	if err != nil {
		return nil, err
	}
	local, err := cfg.Bridge.LocalUDPAddr()
	if err != nil {
		return nil, err
	}

	if transport == nil {
		transport = &milight.UDPTransport{Local: local}
	}

	// Initialize database and ledger
	var recorder bridge.Recorder
	if cfg.Database.Path != "" {
		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		s.DB = database
		s.Ledger = ledger.New(database.DB)
		recorder = s.Ledger
	}

	// Wrap the transport with pcap capture
	if cfg.Capture.Path != "" {
		w, err := capture.Create(cfg.Capture.Path, local)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create capture file: %w", err)
		}
		s.Capture = w
		transport = &capture.Transport{Next: transport, Writer: w}
		log.Info().Str("path", cfg.Capture.Path).Msg("Capturing bridge datagrams")
	}

	s.Controller = bridge.New(addr, bridge.Options{
		Transport:   transport,
		MinInterval: cfg.Bridge.MinInterval.Duration(),
		SameSecond:  cfg.Bridge.SameSecond,
		Recorder:    recorder,
	})

	if cfg.MQTT.Enabled {
		s.MQTT = mqtt.NewService(cfg.MQTT, s.Controller)
	}
	if cfg.API.Enabled {
		var history api.History
		if s.Ledger != nil {
			history = s.Ledger
		}
		s.API = api.NewServer(cfg.API.Addr(), s.Controller, history, cfg.API.JWTSecret)
	}

	return s, nil
}

// Start starts all background services. They run until Stop or until ctx
// is cancelled. onFatalError is called when a front end cannot keep running.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	if s.MQTT == nil && s.API == nil {
		return fmt.Errorf("nothing to serve: enable mqtt and/or api in the config")
	}

	ctx, s.cancel = context.WithCancel(ctx)

	if s.MQTT != nil {
		if err := s.MQTT.Start(ctx); err != nil {
			s.cancel()
			return err
		}
	}

	if s.API != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.API.Run(ctx, s.cfg.GetShutdownTimeout()); err != nil {
				onFatalError(fmt.Errorf("API server: %w", err))
			}
		}()
	}

	if s.Ledger != nil {
		if retention := s.cfg.Database.Retention(); retention > 0 {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.runLedgerCleanup(ctx, retention)
			}()
		} else {
			log.Info().Msg("Ledger retention disabled, keeping all entries")
		}
	}

	return nil
}

// runLedgerCleanup periodically cleans up old ledger entries.
func (s *Services) runLedgerCleanup(ctx context.Context, retention time.Duration) {
	cleanup := func() {
		deleted, err := s.Ledger.DeleteOlderThan(retention)
		if err != nil {
			log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
		} else if deleted > 0 {
			log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
		}
	}
	cleanup()

	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleanup()
		}
	}
}

// Stop shuts the front ends down and waits for commands already in progress,
// so their ledger entries are written before the database is closed.
func (s *Services) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.MQTT != nil {
		s.MQTT.Stop()
	}
	// The API server returns once Shutdown has drained in-flight requests
	s.wg.Wait()

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Capture != nil {
		if err := s.Capture.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close capture file")
		}
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
