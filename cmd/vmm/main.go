// Package main implements the vmm federation service: one identity
// repository view over several configured repositories.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│                  vmm                    │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /v1/{op}          - Engine requests  │
//	│    /v1/repositories  - Repositories     │
//	│    /v1/realms        - Realms           │
//	│    /health           - Liveness         │
//	│    /metrics          - Prometheus       │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    Engine        - Federation facade    │
//	│    HealthMonitor - Repository liveness  │
//	│    Watcher       - Config reloads       │
//	└─────────────────────────────────────────┘
//
// Configuration:
//   - --config / VMM_CONFIG: YAML configuration file (default: vmm.yaml)
//   - --listen / VMM_LISTEN: listen address, overrides server.listen
//   - --log-level / VMM_LOG_LEVEL, --log-file / VMM_LOG_FILE, --console
//   - --watch: reload the configuration file on change (default: true)
//
// Example usage:
//
//	vmm --config /etc/vmm/vmm.yaml --console
//
//	curl -X POST localhost:8080/v1/search \
//	  -d '{"controls":{"search":{"expression":"uid='\''a*'\''"}}}'
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/dreamware/vmm/internal/config"
	"github.com/dreamware/vmm/internal/federation"
	"github.com/dreamware/vmm/internal/logging"
	"github.com/dreamware/vmm/internal/metrics"
	"github.com/dreamware/vmm/internal/repository"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		logFatal("vmm: %v", err)
	}
}

// service is the assembled federation service.
type service struct {
	engine  *federation.Engine
	health  *repository.HealthMonitor
	factory *adapterFactory
	handler http.Handler
	log     zerolog.Logger
}

// newService assembles the service from a parsed configuration. reg
// receives the service's collectors.
func newService(file *config.File, logger zerolog.Logger, reg *prometheus.Registry) (*service, error) {
	m, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}

	engine := federation.New(federation.Options{
		Logger:        logger,
		Metrics:       m,
		PageCacheTTL:  file.Engine.PageCacheTTL,
		PageCacheSize: file.Engine.PageCacheSize,
	})

	health := repository.NewHealthMonitor(file.Engine.HealthInterval, logger)
	health.SetMaxFailures(file.Engine.MaxFailures)
	engine.SetHealthMonitor(health)

	s := &service{
		engine:  engine,
		health:  health,
		factory: newAdapterFactory(logger),
		log:     logger,
	}
	if err := s.apply(file); err != nil {
		return nil, err
	}

	s.handler = (&server{engine: engine, health: health, gatherer: reg, log: logger}).routes()
	return s, nil
}

// apply builds and installs a configuration.
func (s *service) apply(file *config.File) error {
	cfg, err := file.Build(s.factory.Build)
	if err != nil {
		return err
	}
	return s.engine.Reconfigure(cfg)
}

func run(ctx context.Context, args []string) error {
	opts, err := parseOptions(args)
	if err != nil {
		return err
	}

	file, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		file.Server.Listen = opts.Listen
	}
	if opts.LogLevel != "" {
		file.Server.LogLevel = opts.LogLevel
	}
	if opts.LogFile != "" {
		file.Server.LogFile = opts.LogFile
	}

	out, err := logging.New().
		Level(file.Server.LogLevel).
		FromPath(file.Server.LogFile).
		Console(opts.Console || file.Server.Console).
		Make()
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer out.Close()
	logger := out.Logger

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s, err := newService(file, logger, reg)
	if err != nil {
		return err
	}

	go s.engine.Start()
	defer s.engine.Stop()

	go s.health.Start(ctx, func() []*repository.Descriptor {
		return s.engine.Registry().Snapshot().Descriptors()
	})
	defer s.health.Stop()

	if opts.Watch {
		w := config.NewWatcher(opts.ConfigPath, s.apply, logger)
		if err := w.Start(ctx); err != nil {
			logger.Warn().Err(err).Msg("configuration reloads disabled")
		}
	}

	httpSrv := &http.Server{
		Addr:              file.Server.Listen,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", file.Server.Listen).Msg("vmm listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	logger.Info().Msg("vmm stopped")
	return nil
}
