//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"testing"

	"github.com/joho/godotenv"
	"github.com/meridian-data/pagestream/pkg/clickhouse"
	"github.com/meridian-data/pagestream/pkg/pager"
	"github.com/meridian-data/pagestream/pkg/utils"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newLogger builds the shared e2e logger; a .env next to the working
// directory may override the ClickHouse connection settings.
func newLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()
	_ = godotenv.Load()
	sugar, err := utils.NewSugaredLogger(testing.Verbose())
	require.NoError(t, err)
	return sugar
}

// newClickhouse connects to the ClickHouse configured in the environment.
func newClickhouse(t *testing.T, sugar *zap.SugaredLogger) clickhouse.Client {
	t.Helper()
	cfg, err := clickhouse.Load()
	require.NoError(t, err)
	client, err := clickhouse.New(cfg, sugar)
	require.NoError(t, err, "clickhouse must be reachable for e2e tests")
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

// dropTables removes the tables created for one test run.
func dropTables(t *testing.T, ctx context.Context, client clickhouse.Client, tables ...string) {
	t.Helper()
	for _, table := range tables {
		if err := client.Conn().Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
			t.Logf("failed to drop table %s: %s", table, err)
		}
	}
}

// startPager runs the pager loop in the background and returns a stop
// function that waits for it to exit.
func startPager[T any](ctx context.Context, p *pager.Pager[T]) func() {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(runCtx)
	}()
	return func() {
		cancel()
		<-done
	}
}
