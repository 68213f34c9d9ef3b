// Package main implements a standalone directory service: one in-memory
// repository served over the remote adapter protocol so a vmm instance can
// federate it as a "remote" repository.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│              directory                  │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /health            - Liveness        │
//	│    /repository/{op}   - Adapter calls   │
//	│    /info              - Statistics      │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    Directory     - Entities and groups  │
//	│    Seed          - Initial contents     │
//	└─────────────────────────────────────────┘
//
// Configuration:
//   - --id / DIRECTORY_ID: repository id (required)
//   - --listen / DIRECTORY_LISTEN: listen address (default: ":8081")
//   - --base / DIRECTORY_BASES: base entries, repeatable flag or ";" separated (required)
//   - --seed / DIRECTORY_SEED: YAML seed file
//   - --certificates: enable certificate login
//
// Example usage:
//
//	directory --id hr --base o=corp --seed hr.yaml --listen :8081
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/dreamware/vmm/internal/directory"
	"github.com/dreamware/vmm/internal/logging"
	"github.com/dreamware/vmm/internal/remote"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		logFatal("directory: %v", err)
	}
}

// options is the command line of the directory service.
type options struct {
	id           string
	listen       string
	seed         string
	logLevel     string
	bases        []string
	certificates bool
	console      bool
}

func parseOptions(args []string) (*options, error) {
	o := &options{
		id:       os.Getenv("DIRECTORY_ID"),
		listen:   getenv("DIRECTORY_LISTEN", ":8081"),
		seed:     os.Getenv("DIRECTORY_SEED"),
		logLevel: getenv("DIRECTORY_LOG_LEVEL", "info"),
	}
	if v := os.Getenv("DIRECTORY_BASES"); v != "" {
		o.bases = strings.Split(v, ";")
	}

	fs := pflag.NewFlagSet("directory", pflag.ContinueOnError)
	fs.StringVar(&o.id, "id", o.id, "Repository id.")
	fs.StringVar(&o.listen, "listen", o.listen, "Listen address.")
	fs.StringVar(&o.seed, "seed", o.seed, "YAML seed file.")
	fs.StringVar(&o.logLevel, "log-level", o.logLevel, "Log level.")
	fs.StringArrayVar(&o.bases, "base", o.bases, "Base entry held by the directory. Repeatable.")
	fs.BoolVar(&o.certificates, "certificates", o.certificates, "Enable certificate login.")
	fs.BoolVar(&o.console, "console", o.console, "Human readable log output.")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if o.id == "" {
		return nil, errors.New("--id is required")
	}
	if len(o.bases) == 0 {
		return nil, errors.New("at least one --base is required")
	}
	return o, nil
}

// newDirectory builds and seeds the directory.
func newDirectory(o *options, logger zerolog.Logger) (*directory.Directory, error) {
	d := directory.New(o.id, directory.Options{
		Logger:       logger,
		BaseEntries:  o.bases,
		Certificates: o.certificates,
	})
	if o.seed != "" {
		n, err := d.LoadSeed(o.seed)
		if err != nil {
			return nil, err
		}
		logger.Info().Int("entities", n).Str("seed", o.seed).Msg("directory seeded")
	}
	return d, nil
}

// routes mounts the adapter protocol and the info endpoint.
func routes(d *directory.Directory, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Get("/info", func(w http.ResponseWriter, _ *http.Request) {
		remote.WriteJSON(w, http.StatusOK, struct {
			ID    string          `json:"id"`
			Stats directory.Stats `json:"stats"`
		}{ID: d.ID(), Stats: d.Stats()})
	})
	r.Mount("/", remote.NewHandler(d, logger))
	return r
}

func run(ctx context.Context, args []string) error {
	o, err := parseOptions(args)
	if err != nil {
		return err
	}

	out, err := logging.New().Level(o.logLevel).Console(o.console).Make()
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer out.Close()
	logger := out.Logger.With().Str("repository", o.id).Logger()

	d, err := newDirectory(o, logger)
	if err != nil {
		return err
	}

	s := &http.Server{
		Addr:              o.listen,
		Handler:           routes(d, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", o.listen).Strs("bases", o.bases).Msg("directory listening")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	if err := s.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	logger.Info().Msg("directory stopped")
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
