//go:build integration
// +build integration

package pagerepo

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/meridian-data/pagestream/pkg/clickhouse"
	"github.com/meridian-data/pagestream/pkg/paging"
	"github.com/meridian-data/pagestream/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loadTestEnv loads the .env.test file from the pagerepo directory.
func loadTestEnv() error {
	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		return nil // If we can't determine the file, just use defaults
	}
	dir := filepath.Dir(currentFile)
	return godotenv.Load(filepath.Join(dir, ".env.test"))
}

// TestRepository_RoundTrip requires a running ClickHouse instance.
func TestRepository_RoundTrip(t *testing.T) {
	_ = loadTestEnv()

	sugar, err := utils.NewSugaredLogger(true)
	require.NoError(t, err)

	cfg, err := clickhouse.Load()
	require.NoError(t, err)
	client, err := clickhouse.New(cfg, sugar)
	require.NoError(t, err)
	defer client.Close()

	suffix := time.Now().UnixNano()
	itemsTable := fmt.Sprintf("paged_items_it_%d", suffix)
	totalsTable := fmt.Sprintf("paged_totals_it_%d", suffix)

	repo, err := NewRepository[string](client, sugar, itemsTable, totalsTable)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, repo.CreateTablesIfNotExists(ctx))
	defer func() {
		_ = client.Conn().Exec(ctx, "DROP TABLE IF EXISTS "+itemsTable)
		_ = client.Conn().Exec(ctx, "DROP TABLE IF EXISTS "+totalsTable)
	}()

	// Fresh query reads back empty with an unknown total.
	portion, err := repo.Read(ctx, 0, 10, "orders")
	require.NoError(t, err)
	assert.Equal(t, 0, portion.TotalSize)
	assert.Empty(t, portion.Values)

	require.NoError(t, repo.Save(ctx, "orders", paging.NewPortion(100, map[int]string{
		3: "third",
		5: "fifth",
	})))

	portion, err = repo.Read(ctx, 0, 10, "orders")
	require.NoError(t, err)
	assert.Equal(t, 100, portion.TotalSize)
	assert.Equal(t, map[int]string{3: "third", 5: "fifth"}, portion.Values)

	// Overwrites win.
	require.NoError(t, repo.Save(ctx, "orders", paging.NewPortion(100, map[int]string{
		5: "fifth-replaced",
	})))
	portion, err = repo.Read(ctx, 5, 1, "orders")
	require.NoError(t, err)
	assert.Equal(t, map[int]string{5: "fifth-replaced"}, portion.Values)

	// Queries are isolated.
	portion, err = repo.Read(ctx, 0, 10, "invoices")
	require.NoError(t, err)
	assert.Empty(t, portion.Values)

	require.NoError(t, repo.Clear(ctx, "orders"))
	portion, err = repo.Read(ctx, 0, 10, "orders")
	require.NoError(t, err)
	assert.Equal(t, 0, portion.TotalSize)
	assert.Empty(t, portion.Values)
}
