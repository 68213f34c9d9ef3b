package config

import (
	"fmt"

	"github.com/dreamware/vmm/internal/federation"
	"github.com/dreamware/vmm/internal/realm"
	"github.com/dreamware/vmm/internal/repository"
)

// Factory creates the adapter for one configured repository.
type Factory func(r RepositoryConfig) (repository.Adapter, error)

// Build turns the file into an engine configuration, creating an adapter per
// repository with factory.
func (f *File) Build(factory Factory) (federation.Config, error) {
	cfg := federation.Config{
		DefaultRealm:              f.DefaultRealm,
		EntryJoin:                 f.Engine.EntryJoin,
		AllowOperationIfReposDown: f.Engine.AllowOperationIfReposDown,
		MaxSearchResults:          f.Engine.MaxSearchResults,
	}

	for _, r := range f.Repositories {
		adapter, err := factory(r)
		if err != nil {
			return federation.Config{}, fmt.Errorf("repository %q: %w", r.ID, err)
		}
		cfg.Repositories = append(cfg.Repositories, r.Descriptor(adapter))
	}

	for _, r := range f.Realms {
		cfg.Realms = append(cfg.Realms, realm.Config{
			Name:                      r.Name,
			BaseEntries:               append([]string(nil), r.BaseEntries...),
			DefaultParents:            r.DefaultParents,
			Delimiter:                 r.Delimiter,
			AllowOperationIfReposDown: r.AllowOperationIfReposDown,
		})
	}
	return cfg, nil
}

// Descriptor describes the repository to the registry.
func (r RepositoryConfig) Descriptor(adapter repository.Adapter) *repository.Descriptor {
	d := &repository.Descriptor{
		ID:         r.ID,
		Adapter:    adapter,
		Groups:     append([]string(nil), r.Groups...),
		Properties: r.Properties,
		Bridge:     r.Bridge,
		Realm:      r.Realm,
	}
	for _, b := range r.BaseEntries {
		d.BaseEntries = append(d.BaseEntries, repository.BaseEntry{
			Name:             b.Name,
			NameInRepository: b.NameInRepository,
		})
	}
	return d
}
