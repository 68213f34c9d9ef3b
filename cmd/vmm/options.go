package main

import (
	"errors"
	"os"

	"github.com/spf13/pflag"
)

// Options holds the command line of the federation service. Every flag
// falls back to an environment variable so the service can be configured
// either way.
type Options struct {
	ConfigPath string // VMM_CONFIG
	Listen     string // VMM_LISTEN, overrides server.listen
	LogLevel   string // VMM_LOG_LEVEL, overrides server.logLevel
	LogFile    string // VMM_LOG_FILE, overrides server.logFile
	Console    bool   // human readable logs
	Watch      bool   // reload the configuration file on change
}

// NewOptions returns the defaults, taken from the environment.
func NewOptions() *Options {
	return &Options{
		ConfigPath: getenv("VMM_CONFIG", "vmm.yaml"),
		Listen:     os.Getenv("VMM_LISTEN"),
		LogLevel:   os.Getenv("VMM_LOG_LEVEL"),
		LogFile:    os.Getenv("VMM_LOG_FILE"),
		Watch:      true,
	}
}

// AddFlags binds the options to fs.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ConfigPath, "config", "c", o.ConfigPath, "Path of the YAML configuration file.")
	fs.StringVar(&o.Listen, "listen", o.Listen, "Listen address, overrides server.listen.")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level (debug, info, warn, error).")
	fs.StringVar(&o.LogFile, "log-file", o.LogFile, "Append logs to this file instead of stdout.")
	fs.BoolVar(&o.Console, "console", o.Console, "Human readable log output.")
	fs.BoolVar(&o.Watch, "watch", o.Watch, "Reload the configuration file when it changes.")
}

// Validate checks the parsed options.
func (o *Options) Validate() error {
	if o.ConfigPath == "" {
		return errors.New("--config is required")
	}
	return nil
}

// parseOptions parses args into options.
func parseOptions(args []string) (*Options, error) {
	opts := NewOptions()
	fs := pflag.NewFlagSet("vmm", pflag.ContinueOnError)
	opts.AddFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, opts.Validate()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
