// Package config reads the federation configuration: repositories, realms
// and engine settings, from a YAML file, validates it and builds the engine
// configuration from it.
package config

import (
	"time"

	"github.com/dreamware/vmm/internal/model"
)

// Repository types.
const (
	// TypeDirectory is an in-memory directory, optionally seeded from a file.
	TypeDirectory = "directory"
	// TypeRemote is a repository reached over the remote adapter protocol.
	TypeRemote = "remote"
)

// File is the configuration file.
type File struct {
	Server       ServerConfig       `yaml:"server"`
	Engine       EngineConfig       `yaml:"engine"`
	Repositories []RepositoryConfig `yaml:"repositories"`
	Realms       []RealmConfig      `yaml:"realms"`
	DefaultRealm string             `yaml:"defaultRealm"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"logLevel"`
	LogFile  string `yaml:"logFile"`
	Console  bool   `yaml:"console"`
}

// EngineConfig holds the global engine settings.
type EngineConfig struct {
	EntryJoin                 bool          `yaml:"entryJoin"`
	AllowOperationIfReposDown bool          `yaml:"allowOperationIfReposDown"`
	MaxSearchResults          int           `yaml:"maxSearchResults"`
	PageCacheTTL              time.Duration `yaml:"pageCacheTTL"`
	PageCacheSize             uint64        `yaml:"pageCacheSize"`
	HealthInterval            time.Duration `yaml:"healthInterval"`
	MaxFailures               int           `yaml:"maxFailures"`
}

// RepositoryConfig describes one repository.
type RepositoryConfig struct {
	ID          string                        `yaml:"id"`
	Type        string                        `yaml:"type"`
	URL         string                        `yaml:"url,omitempty"`
	Timeout     time.Duration                 `yaml:"timeout,omitempty"`
	Seed        string                        `yaml:"seed,omitempty"`
	Certificate bool                          `yaml:"certificates,omitempty"`
	BaseEntries []BaseEntryConfig             `yaml:"baseEntries"`
	Groups      []string                      `yaml:"groups,omitempty"`
	Properties  map[model.EntityType][]string `yaml:"properties,omitempty"`
	Bridge      bool                          `yaml:"bridge,omitempty"`
	Realm       string                        `yaml:"realm,omitempty"`
}

// BaseEntryConfig maps a base entry of the federated namespace to the
// repository's own name for it.
type BaseEntryConfig struct {
	Name             string `yaml:"name"`
	NameInRepository string `yaml:"nameInRepository,omitempty"`
}

// RealmConfig describes one realm.
type RealmConfig struct {
	Name                      string                      `yaml:"name"`
	BaseEntries               []string                    `yaml:"baseEntries,omitempty"`
	DefaultParents            map[model.EntityType]string `yaml:"defaultParents,omitempty"`
	Delimiter                 string                      `yaml:"delimiter,omitempty"`
	AllowOperationIfReposDown *bool                       `yaml:"allowOperationIfReposDown,omitempty"`
}

// Defaults.
const (
	DefaultListen         = ":8080"
	DefaultHealthInterval = 30 * time.Second
	DefaultMaxFailures    = 3
	DefaultTimeout        = 10 * time.Second
)

// applyDefaults fills in unset settings.
func (f *File) applyDefaults() {
	if f.Server.Listen == "" {
		f.Server.Listen = DefaultListen
	}
	if f.Engine.HealthInterval == 0 {
		f.Engine.HealthInterval = DefaultHealthInterval
	}
	if f.Engine.MaxFailures == 0 {
		f.Engine.MaxFailures = DefaultMaxFailures
	}
	for i := range f.Repositories {
		r := &f.Repositories[i]
		if r.Type == "" {
			r.Type = TypeDirectory
		}
		if r.Type == TypeRemote && r.Timeout == 0 {
			r.Timeout = DefaultTimeout
		}
	}
}
