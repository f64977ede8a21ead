// Package catalog gives the dispatch protocol read access to command
// modules and seeds the store with a demonstration catalog.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/victoredede21/xss-educational-lab/internal/store"
	"github.com/victoredede21/xss-educational-lab/pkg/models"
)

//go:embed default_catalog.toml
var defaultCatalog []byte

const currentSchemaVersion = 1

type fileSchema struct {
	Version int                    `toml:"version"`
	Modules []models.CommandModule `toml:"modules"`
}

// Catalog is the command module accessor
type Catalog struct {
	store store.Store
}

// New creates a catalog over st
func New(st store.Store) *Catalog {
	return &Catalog{store: st}
}

// Get returns a module by ID
func (c *Catalog) Get(ctx context.Context, id int64) (*models.CommandModule, error) {
	return c.store.GetModule(ctx, id)
}

// List returns every module
func (c *Catalog) List(ctx context.Context) ([]*models.CommandModule, error) {
	return c.store.ListModules(ctx)
}

// ListByCategory returns the modules in one category
func (c *Catalog) ListByCategory(ctx context.Context, category string) ([]*models.CommandModule, error) {
	return c.store.ListModulesByCategory(ctx, category)
}

// Categories counts modules per category, in first-seen order
func (c *Catalog) Categories(ctx context.Context) ([]models.CategoryCount, error) {
	modules, err := c.store.ListModules(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int)
	out := make([]models.CategoryCount, 0)
	for _, m := range modules {
		i, seen := index[m.Category]
		if !seen {
			i = len(out)
			index[m.Category] = i
			out = append(out, models.CategoryCount{Category: m.Category})
		}
		out[i].Count++
	}
	return out, nil
}

// Create validates and stores a new module. The payload is stored as-is.
func (c *Catalog) Create(ctx context.Context, m models.CommandModule) (*models.CommandModule, error) {
	if err := validate(m); err != nil {
		return nil, err
	}
	m.ID = 0
	return c.store.CreateModule(ctx, &m)
}

// Seed loads modules into an empty store. path selects a TOML catalog file;
// an empty path uses the built-in demonstration catalog. It returns the
// number of modules inserted, which is zero when the store already has some.
func (c *Catalog) Seed(ctx context.Context, path string) (int, error) {
	existing, err := c.store.ListModules(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}

	modules, err := Load(path)
	if err != nil {
		return 0, err
	}
	for _, m := range modules {
		if _, err := c.Create(ctx, m); err != nil {
			return 0, fmt.Errorf("seed module %q: %w", m.Name, err)
		}
	}
	return len(modules), nil
}

// Load parses a catalog file, or the built-in catalog when path is empty
func Load(path string) ([]models.CommandModule, error) {
	raw := defaultCatalog
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog file: %w", err)
		}
		raw = data
	}
	return Parse(raw)
}

// Parse decodes and validates TOML catalog content
func Parse(raw []byte) ([]models.CommandModule, error) {
	var file fileSchema
	if err := toml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if file.Version > currentSchemaVersion {
		return nil, fmt.Errorf("unsupported catalog schema version %d (current %d)", file.Version, currentSchemaVersion)
	}
	for i := range file.Modules {
		file.Modules[i].Code = strings.TrimSpace(file.Modules[i].Code)
		if err := validate(file.Modules[i]); err != nil {
			return nil, fmt.Errorf("catalog module %d: %w", i+1, err)
		}
	}
	return file.Modules, nil
}

// CategoryNames returns the distinct categories in modules, sorted
func CategoryNames(modules []models.CommandModule) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, m := range modules {
		if _, ok := seen[m.Category]; ok {
			continue
		}
		seen[m.Category] = struct{}{}
		names = append(names, m.Category)
	}
	sort.Strings(names)
	return names
}

func validate(m models.CommandModule) error {
	switch {
	case strings.TrimSpace(m.Name) == "":
		return fmt.Errorf("%w: name is required", models.ErrInvalid)
	case strings.TrimSpace(m.Category) == "":
		return fmt.Errorf("%w: category is required", models.ErrInvalid)
	case strings.TrimSpace(m.Code) == "":
		return fmt.Errorf("%w: code is required", models.ErrInvalid)
	}
	return nil
}
