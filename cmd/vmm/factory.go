package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dreamware/vmm/internal/config"
	"github.com/dreamware/vmm/internal/directory"
	"github.com/dreamware/vmm/internal/remote"
	"github.com/dreamware/vmm/internal/repository"
)

// adapterFactory creates repository adapters from configuration. Adapters
// are reused across reloads while a repository's connection settings stay
// the same, so in-memory directories keep their contents.
type adapterFactory struct {
	adapters map[string]built
	log      zerolog.Logger
	mu       sync.Mutex
}

type built struct {
	adapter repository.Adapter
	key     string
}

func newAdapterFactory(log zerolog.Logger) *adapterFactory {
	return &adapterFactory{
		adapters: make(map[string]built),
		log:      log,
	}
}

// settingsKey captures what forces a new adapter when it changes.
func settingsKey(r config.RepositoryConfig) string {
	bases := make([]string, 0, len(r.BaseEntries))
	for _, b := range r.BaseEntries {
		bases = append(bases, b.Name)
	}
	return fmt.Sprintf("%s|%s|%s|%s|%t|%s", r.Type, r.URL, r.Timeout, r.Seed, r.Certificate, strings.Join(bases, ";"))
}

// Build implements config.Factory.
func (f *adapterFactory) Build(r config.RepositoryConfig) (repository.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := strings.ToLower(r.ID)
	key := settingsKey(r)
	if b, ok := f.adapters[id]; ok && b.key == key {
		return b.adapter, nil
	}

	var adapter repository.Adapter
	switch r.Type {
	case config.TypeRemote:
		adapter = remote.NewClient(r.URL, r.Timeout, f.log.With().Str("repository", r.ID).Logger())
	case config.TypeDirectory:
		bases := make([]string, 0, len(r.BaseEntries))
		for _, b := range r.BaseEntries {
			bases = append(bases, b.Name)
		}
		d := directory.New(r.ID, directory.Options{
			Logger:       f.log,
			BaseEntries:  bases,
			Certificates: r.Certificate,
		})
		if r.Seed != "" {
			n, err := d.LoadSeed(r.Seed)
			if err != nil {
				return nil, err
			}
			f.log.Info().Str("repository", r.ID).Int("entities", n).Msg("directory seeded")
		}
		adapter = d
	default:
		return nil, fmt.Errorf("unknown repository type %q", r.Type)
	}

	f.adapters[id] = built{adapter: adapter, key: key}
	return adapter, nil
}
