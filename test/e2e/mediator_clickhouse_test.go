//go:build e2e

package e2e

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/meridian-data/pagestream/pkg/data/clickhouse/pagerepo"
	"github.com/meridian-data/pagestream/pkg/data/memory"
	"github.com/meridian-data/pagestream/pkg/mediator"
	"github.com/meridian-data/pagestream/pkg/paging"
	"github.com/stretchr/testify/require"
)

// record is the item type paged through in the e2e pipeline.
type record struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
}

// TestMediator_ClickhouseWarmup drives the full pipeline: a pull pager over
// a mediator whose local source is a real ClickHouse repository and whose
// remote is a simulated dataset. The first pager fills the cache from the
// remote; a second pager over the same query must then serve the warmed
// window without touching the remote at all.
func TestMediator_ClickhouseWarmup(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	sugar := newLogger(t)
	client := newClickhouse(t, sugar)

	suffix := time.Now().UnixNano()
	itemsTable := fmt.Sprintf("paged_items_e2e_%d", suffix)
	totalsTable := fmt.Sprintf("paged_totals_e2e_%d", suffix)
	defer dropTables(t, ctx, client, itemsTable, totalsTable)

	local, err := pagerepo.NewRepository[record](client, sugar, itemsTable, totalsTable)
	require.NoError(t, err)
	require.NoError(t, local.CreateTablesIfNotExists(ctx))

	const total = 500
	remote := memory.NewDataset(total, func(k int) record {
		return record{ID: k, Label: fmt.Sprintf("record-%06d", k)}
	})

	cfg := mediator.DefaultConfig()
	cfg.Pager.Debounce = 50 * time.Millisecond
	med, err := mediator.New[record, string](sugar, cfg, local, remote, nil, nil)
	require.NoError(t, err)

	const query = "e2e-orders"

	// First pager: cold cache, everything comes from the remote.
	p1, err := med.NewPager(query)
	require.NoError(t, err)
	stop1 := startPager(ctx, p1)

	p1.Access(50)
	require.Eventually(t, func() bool {
		snap := p1.Snapshot()
		v, ok := snap.Values()[50]
		return ok && v.ID == 50 &&
			snap.TotalSize() == total &&
			snap.LoadState().Status == paging.StatusSuccess
	}, time.Minute, 100*time.Millisecond, "first pager must load around position 50")
	stop1()

	// The merged portions must have been persisted.
	stored, err := local.Read(ctx, 50, 10, query)
	require.NoError(t, err)
	require.Equal(t, total, stored.TotalSize)
	require.Len(t, stored.Values, 10)

	// Second pager: the remote is now failing, so every value must come out
	// of the ClickHouse cache.
	remote.SetFault(func(start, size int) error {
		return errors.New("remote must not be called on a warm cache")
	})

	p2, err := med.NewPager(query)
	require.NoError(t, err)
	stop2 := startPager(ctx, p2)
	defer stop2()

	p2.Access(50)
	require.Eventually(t, func() bool {
		snap := p2.Snapshot()
		v, ok := snap.Values()[50]
		return ok && v.Label == "record-000050" &&
			snap.LoadState().Status == paging.StatusSuccess
	}, time.Minute, 100*time.Millisecond, "second pager must serve from the warmed cache")
}

// TestMediator_ClickhouseConsistencyRetry seeds the ClickHouse cache with a
// stale total and verifies the mediator clears and refetches: the final
// window carries the remote's total and the old rows are gone.
func TestMediator_ClickhouseConsistencyRetry(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	sugar := newLogger(t)
	client := newClickhouse(t, sugar)

	suffix := time.Now().UnixNano()
	itemsTable := fmt.Sprintf("paged_items_e2e_%d", suffix)
	totalsTable := fmt.Sprintf("paged_totals_e2e_%d", suffix)
	defer dropTables(t, ctx, client, itemsTable, totalsTable)

	local, err := pagerepo.NewRepository[record](client, sugar, itemsTable, totalsTable)
	require.NoError(t, err)
	require.NoError(t, local.CreateTablesIfNotExists(ctx))

	const query = "e2e-stale"

	// Seed a total that the remote will contradict.
	seed := map[int]record{}
	for k := 0; k < 5; k++ {
		seed[k] = record{ID: k, Label: "seeded"}
	}
	require.NoError(t, local.Save(ctx, query, paging.NewPortion(100, seed)))

	const total = 240
	remote := memory.NewDataset(total, func(k int) record {
		return record{ID: k, Label: fmt.Sprintf("record-%06d", k)}
	})

	cfg := mediator.DefaultConfig()
	cfg.Pager.Debounce = 50 * time.Millisecond
	med, err := mediator.New[record, string](sugar, cfg, local, remote, nil, nil)
	require.NoError(t, err)

	p, err := med.NewPager(query)
	require.NoError(t, err)
	stop := startPager(ctx, p)
	defer stop()

	p.Access(10)
	require.Eventually(t, func() bool {
		snap := p.Snapshot()
		v, ok := snap.Values()[10]
		return ok && v.Label == "record-000010" &&
			snap.TotalSize() == total &&
			snap.LoadState().Status == paging.StatusSuccess
	}, time.Minute, 100*time.Millisecond, "window must settle on the remote total")

	require.Eventually(t, func() bool {
		stored, err := local.Read(ctx, 0, 5, query)
		if err != nil {
			return false
		}
		if stored.TotalSize != total {
			return false
		}
		for _, v := range stored.Values {
			if v.Label == "seeded" {
				return false
			}
		}
		return true
	}, time.Minute, 200*time.Millisecond, "seeded rows must be replaced after the clear")
}
