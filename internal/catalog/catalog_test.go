package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victoredede21/xss-educational-lab/internal/store"
	"github.com/victoredede21/xss-educational-lab/pkg/models"
)

func TestDefaultCatalogParses(t *testing.T) {
	modules, err := Load("")
	require.NoError(t, err)
	require.NotEmpty(t, modules)
	for _, m := range modules {
		assert.NotEmpty(t, m.Name)
		assert.NotEmpty(t, m.Code)
	}
	assert.Contains(t, CategoryNames(modules), "Information Gathering")
}

func TestSeedOnlyFillsEmptyStore(t *testing.T) {
	ctx := context.Background()
	c := New(store.NewMemory())

	n, err := c.Seed(ctx, "")
	require.NoError(t, err)
	assert.Positive(t, n)

	again, err := c.Seed(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, again)

	all, err := c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, n)
}

func TestSeedFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
version = 1

[[modules]]
name = "Ping"
category = "Custom"
code = "'pong'"
`), 0o600))

	c := New(store.NewMemory())
	n, err := c.Seed(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mod, err := c.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "'pong'", mod.Code)
}

func TestParseRejectsBadCatalogs(t *testing.T) {
	_, err := Parse([]byte(`version = 9`))
	assert.Error(t, err)

	_, err = Parse([]byte(`
[[modules]]
name = "No code"
category = "Custom"
`))
	assert.ErrorIs(t, err, models.ErrInvalid)

	_, err = Parse([]byte(`not toml = = =`))
	assert.Error(t, err)
}

func TestCategoriesAndCreate(t *testing.T) {
	ctx := context.Background()
	c := New(store.NewMemory())

	for _, cat := range []string{"A", "B", "A"} {
		_, err := c.Create(ctx, models.CommandModule{Name: "m", Category: cat, Code: "1"})
		require.NoError(t, err)
	}
	_, err := c.Create(ctx, models.CommandModule{Name: "m", Category: "A"})
	assert.ErrorIs(t, err, models.ErrInvalid)

	counts, err := c.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.CategoryCount{{Category: "A", Count: 2}, {Category: "B", Count: 1}}, counts)

	byCat, err := c.ListByCategory(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, byCat, 2)

	_, err = c.Get(ctx, 99)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
