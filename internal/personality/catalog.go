// Package personality holds the personality catalog and restyles assistant
// replies to match a selected personality.
package personality

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/persona-companion/internal/domain"
)

//go:embed catalog.yaml
var catalogYAML []byte

// catalog is loaded once at process start and never mutated.
var catalog = mustLoadCatalog(catalogYAML)

// Catalog is a read-only lookup table of personality configs.
type Catalog struct {
	byType  map[domain.PersonalityType]domain.PersonalityConfig
	ordered []domain.PersonalityConfig
}

// ParseCatalog decodes a YAML catalog and checks it holds exactly the known
// personality types, each once.
func ParseCatalog(data []byte) (*Catalog, error) {
	var entries []domain.PersonalityConfig
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode personality catalog: %w", err)
	}

	c := &Catalog{byType: make(map[domain.PersonalityType]domain.PersonalityConfig, len(entries))}
	for _, e := range entries {
		if !e.Type.Valid() {
			return nil, fmt.Errorf("unknown personality type %q", e.Type)
		}
		if _, dup := c.byType[e.Type]; dup {
			return nil, fmt.Errorf("duplicate personality type %q", e.Type)
		}
		if e.Name == "" {
			return nil, fmt.Errorf("personality %q has no name", e.Type)
		}
		if e.Examples == nil {
			e.Examples = []string{}
		}
		c.byType[e.Type] = e
	}
	for _, t := range domain.PersonalityTypes {
		cfg, ok := c.byType[t]
		if !ok {
			return nil, fmt.Errorf("personality %q missing from catalog", t)
		}
		c.ordered = append(c.ordered, cfg)
	}
	return c, nil
}

func mustLoadCatalog(data []byte) *Catalog {
	c, err := ParseCatalog(data)
	if err != nil {
		panic("personality: " + err.Error())
	}
	return c
}

// Lookup returns the config for t.
func (c *Catalog) Lookup(t domain.PersonalityType) (domain.PersonalityConfig, bool) {
	cfg, ok := c.byType[t]
	return cfg, ok
}

// All returns every config in display order.
func (c *Catalog) All() []domain.PersonalityConfig {
	out := make([]domain.PersonalityConfig, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Lookup returns the built-in config for t.
func Lookup(t domain.PersonalityType) (domain.PersonalityConfig, bool) {
	return catalog.Lookup(t)
}

// All returns the built-in configs in display order.
func All() []domain.PersonalityConfig {
	return catalog.All()
}
