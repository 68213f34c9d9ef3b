package directory

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/vmm/internal/model"
)

// SeedFile is the YAML layout of a directory seed:
//
//	entities:
//	  - type: PersonAccount
//	    uniqueName: uid=alice,ou=people,o=corp
//	    properties:
//	      uid: [alice]
//	      password: [secret]
//	  - type: Group
//	    uniqueName: cn=admins,ou=groups,o=corp
//	    members: [uid=alice,ou=people,o=corp]
type SeedFile struct {
	Entities []SeedEntity `yaml:"entities"`
}

// SeedEntity is one seeded entity.
type SeedEntity struct {
	Type       model.EntityType    `yaml:"type"`
	UniqueName string              `yaml:"uniqueName"`
	UniqueID   string              `yaml:"uniqueId,omitempty"`
	Properties map[string][]string `yaml:"properties,omitempty"`
	Members    []string            `yaml:"members,omitempty"`
}

// ReadSeed decodes a seed document.
func ReadSeed(r io.Reader) ([]*model.Entity, error) {
	var f SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	out := make([]*model.Entity, 0, len(f.Entities))
	for i, s := range f.Entities {
		if s.UniqueName == "" {
			return nil, fmt.Errorf("seed entity %d: uniqueName is required", i)
		}
		t := s.Type
		if t == "" {
			t = model.TypePerson
		}
		e := model.NewEntity(t, s.UniqueName)
		e.ID.UniqueID = s.UniqueID
		for k, v := range s.Properties {
			e.Set(k, v...)
		}
		for _, m := range s.Members {
			e.Members = append(e.Members, &model.Entity{ID: &model.Identifier{UniqueName: m}})
		}
		out = append(out, e)
	}
	return out, nil
}

// LoadSeed reads a seed file and inserts its entities.
func (d *Directory) LoadSeed(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	entities, err := ReadSeed(f)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	if err := d.Seed(entities...); err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	d.log.Info().Str("path", path).Int("entities", len(entities)).Msg("seed loaded")
	return len(entities), nil
}
