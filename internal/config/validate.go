package config

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/multierr"
	"golang.org/x/exp/slices"

	"github.com/dreamware/vmm/internal/dn"
)

// Validate reports every problem of the configuration at once.
func (f *File) Validate() error {
	var err error

	ids := make(map[string]bool, len(f.Repositories))
	for i, r := range f.Repositories {
		where := fmt.Sprintf("repositories[%d]", i)
		if r.ID == "" {
			err = multierr.Append(err, fmt.Errorf("%s: id is required", where))
		} else {
			where = fmt.Sprintf("repository %q", r.ID)
			if ids[strings.ToLower(r.ID)] {
				err = multierr.Append(err, fmt.Errorf("%s: configured twice", where))
			}
			ids[strings.ToLower(r.ID)] = true
		}
		err = multierr.Append(err, r.validate(where))
	}

	for i, r := range f.Repositories {
		for _, g := range r.Groups {
			if !ids[strings.ToLower(g)] {
				err = multierr.Append(err, fmt.Errorf("repositories[%d]: groups: unknown repository %q", i, g))
			}
		}
	}

	realms := make(map[string]bool, len(f.Realms))
	for i, r := range f.Realms {
		if strings.TrimSpace(r.Name) == "" {
			err = multierr.Append(err, fmt.Errorf("realms[%d]: name is required", i))
			continue
		}
		key := strings.ToLower(r.Name)
		if realms[key] {
			err = multierr.Append(err, fmt.Errorf("realm %q: configured twice", r.Name))
		}
		realms[key] = true
		for _, b := range r.BaseEntries {
			if dn.Normalize(b) == "" {
				err = multierr.Append(err, fmt.Errorf("realm %q: empty base entry", r.Name))
			}
		}
	}
	if f.DefaultRealm != "" && !realms[strings.ToLower(f.DefaultRealm)] {
		err = multierr.Append(err, fmt.Errorf("defaultRealm %q is not configured", f.DefaultRealm))
	}

	if f.Engine.MaxSearchResults < 0 {
		err = multierr.Append(err, fmt.Errorf("engine: maxSearchResults must not be negative"))
	}
	if f.Engine.HealthInterval < 0 {
		err = multierr.Append(err, fmt.Errorf("engine: healthInterval must not be negative"))
	}
	return err
}

func (r RepositoryConfig) validate(where string) error {
	var err error

	switch r.Type {
	case TypeDirectory:
		if r.URL != "" {
			err = multierr.Append(err, fmt.Errorf("%s: url is only valid for remote repositories", where))
		}
	case TypeRemote:
		u, perr := url.Parse(r.URL)
		if r.URL == "" || perr != nil || u.Scheme == "" || u.Host == "" {
			err = multierr.Append(err, fmt.Errorf("%s: remote repositories need an absolute url", where))
		}
		if r.Seed != "" {
			err = multierr.Append(err, fmt.Errorf("%s: seed is only valid for directory repositories", where))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("%s: unknown type %q", where, r.Type))
	}

	if len(r.BaseEntries) == 0 {
		err = multierr.Append(err, fmt.Errorf("%s: at least one base entry is required", where))
	}
	var seen []string
	for _, b := range r.BaseEntries {
		n := dn.Normalize(b.Name)
		if n == "" {
			err = multierr.Append(err, fmt.Errorf("%s: empty base entry", where))
			continue
		}
		if slices.Contains(seen, n) {
			err = multierr.Append(err, fmt.Errorf("%s: base entry %q listed twice", where, b.Name))
		}
		seen = append(seen, n)
	}
	return err
}
