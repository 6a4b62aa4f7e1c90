package mediator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridian-data/pagestream/pkg/metrics"
	"github.com/meridian-data/pagestream/pkg/pager"
	"github.com/meridian-data/pagestream/pkg/paging"
	"github.com/meridian-data/pagestream/pkg/ranges"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Mediator coordinates a local cache source and a remote source. Use
// NewPager to obtain a pull pager for one query; every load of that pager
// goes through the local-first, remote-for-the-gaps pipeline.
type Mediator[T, Q any] struct {
	log     *zap.SugaredLogger
	cfg     Config
	local   paging.LocalSource[T, Q]
	remote  paging.RemoteSource[T, Q]
	isStale func(T) bool
	metrics *metrics.Metrics
}

// New creates a Mediator and returns an error if arguments are invalid.
// isStale may be nil (no record is ever considered stale); metrics may be
// nil.
func New[T, Q any](
	log *zap.SugaredLogger,
	cfg Config,
	local paging.LocalSource[T, Q],
	remote paging.RemoteSource[T, Q],
	isStale func(T) bool,
	m *metrics.Metrics,
) (*Mediator[T, Q], error) {
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	if local == nil {
		return nil, errors.New("invalid local source: must not be nil")
	}
	if remote == nil {
		return nil, errors.New("invalid remote source: must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Mediator[T, Q]{
		log:     log,
		cfg:     cfg,
		local:   local,
		remote:  remote,
		isStale: isStale,
		metrics: m,
	}, nil
}

// NewPager builds a pull pager over this mediator for one query value. Each
// query owns its own pager; no state is shared across queries.
func (m *Mediator[T, Q]) NewPager(query Q) (*pager.Pager[T], error) {
	source := paging.PullFunc[T](func(ctx context.Context, position, size int, yield func(paging.Portion[T]) error) error {
		return m.loadPortion(ctx, query, position, size, yield)
	})
	return pager.New(m.log, m.cfg.Pager, source, m.metrics)
}

// loadPortion is one local-first load for [position, position+size): emit
// what the cache has, fetch the gaps from the remote, reconcile totals, and
// persist the merged result.
func (m *Mediator[T, Q]) loadPortion(
	ctx context.Context,
	query Q,
	position, size int,
	yield func(paging.Portion[T]) error,
) error {
	requested := ranges.New(position, position+size-1)

	localPortion, err := m.local.Read(ctx, position, size, query)
	if err != nil {
		return fmt.Errorf("local read [%d, %d]: %w", requested.First, requested.Last, err)
	}

	filtered := m.filterStale(localPortion)
	m.metrics.RecordLocalRead(len(filtered.Values), requested.Width()-len(filtered.Values))

	// The local emission always precedes any remote emission. Raw (stale
	// entries included) or filtered, never both.
	if m.cfg.EmitOutdatedRecords {
		if err := yield(localPortion); err != nil {
			return err
		}
	} else {
		if err := yield(filtered); err != nil {
			return err
		}
	}

	// Stale positions were dropped from filtered and therefore count as
	// missing.
	var missing []ranges.Range
	if m.cfg.FetchFullRangeOnMiss {
		if len(filtered.Values) < requested.Width() {
			missing = []ranges.Range{requested}
		}
	} else {
		missing = computeMissing(requested, filtered.Values)
	}
	if len(missing) == 0 {
		return nil
	}

	fetched, emitted, err := m.fetchMissing(ctx, query, missing, yield)
	if err != nil {
		return err
	}

	// Reconcile total sizes against the portion the cache originally
	// returned. A disagreement clears the cache and refetches the full
	// requested range once; a second disagreement is tolerated as a brief
	// window of drift.
	if totalsInconsistent(localPortion.TotalSize, fetched) {
		m.metrics.IncConsistencyRetry()
		m.log.Infow("total size disagreement, refetching",
			"first", requested.First,
			"last", requested.Last,
			"local_total", localPortion.TotalSize,
		)
		if localPortion.TotalSize != 0 {
			if err := m.local.Clear(ctx, query); err != nil {
				return fmt.Errorf("local clear: %w", err)
			}
		}
		fetched, emitted, err = m.fetchMissing(ctx, query, []ranges.Range{requested}, yield)
		if err != nil {
			return err
		}
	}

	merged := mergePortions(fetched)
	if !emitted {
		if err := yield(merged); err != nil {
			return err
		}
	}
	if err := m.local.Save(ctx, query, merged); err != nil {
		return fmt.Errorf("local save: %w", err)
	}
	m.metrics.IncPortionSaved()
	return nil
}

// fetchMissing fetches the missing ranges from the remote. Serial fetches
// (concurrency 1 or a single range) may emit each portion as it lands;
// parallel fetches collect everything first. The returned boolean reports
// whether portions were already emitted.
func (m *Mediator[T, Q]) fetchMissing(
	ctx context.Context,
	query Q,
	missing []ranges.Range,
	yield func(paging.Portion[T]) error,
) ([]paging.Portion[T], bool, error) {
	serial := m.cfg.Concurrency == 1 || len(missing) == 1
	if serial {
		emitEach := m.cfg.EmitIntermediateResults
		out := make([]paging.Portion[T], 0, len(missing))
		for _, r := range missing {
			portion, err := m.fetchOne(ctx, query, r)
			if err != nil {
				return nil, false, err
			}
			if emitEach {
				if err := yield(portion); err != nil {
					return nil, false, err
				}
			}
			out = append(out, portion)
		}
		return out, emitEach, nil
	}

	sem := semaphore.NewWeighted(m.cfg.Concurrency)
	g, gctx := errgroup.WithContext(ctx)
	out := make([]paging.Portion[T], len(missing))
	for i, r := range missing {
		i, r := i, r
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			portion, err := m.fetchOne(gctx, query, r)
			if err != nil {
				return err
			}
			out[i] = portion
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}
	return out, false, nil
}

// fetchOne performs a single remote fetch for r.
func (m *Mediator[T, Q]) fetchOne(ctx context.Context, query Q, r ranges.Range) (paging.Portion[T], error) {
	start := time.Now()
	portion, err := m.remote.Fetch(ctx, r.First, r.Width(), query)
	m.metrics.RecordRemoteFetch(err, time.Since(start).Seconds())
	if err != nil {
		return paging.Portion[T]{}, fmt.Errorf("remote fetch [%d, %d]: %w", r.First, r.Last, err)
	}
	return portion, nil
}

// filterStale drops values failing the staleness predicate.
func (m *Mediator[T, Q]) filterStale(p paging.Portion[T]) paging.Portion[T] {
	if m.isStale == nil {
		return p
	}
	values := make(map[int]T, len(p.Values))
	for k, v := range p.Values {
		if !m.isStale(v) {
			values[k] = v
		}
	}
	return paging.NewPortion(p.TotalSize, values)
}

// computeMissing returns the maximal contiguous runs of positions in
// expected that are absent from present, ascending.
func computeMissing[T any](expected ranges.Range, present map[int]T) []ranges.Range {
	var out []ranges.Range
	start := -1
	for k := expected.First; k <= expected.Last; k++ {
		_, ok := present[k]
		if !ok && start == -1 {
			start = k
		}
		if ok && start != -1 {
			out = append(out, ranges.New(start, k-1))
			start = -1
		}
	}
	if start != -1 {
		out = append(out, ranges.New(start, expected.Last))
	}
	return out
}

// totalsInconsistent reports whether the fetched portions disagree on the
// total size, among themselves or with the local portion's known total.
func totalsInconsistent[T any](localTotal int, fetched []paging.Portion[T]) bool {
	distinct := map[int]struct{}{}
	for _, p := range fetched {
		distinct[p.TotalSize] = struct{}{}
	}
	if len(distinct) > 1 {
		return true
	}
	if localTotal == 0 {
		return false
	}
	for total := range distinct {
		if total != localTotal {
			return true
		}
	}
	return false
}

// mergePortions unions the fetched values into a single portion; any fetched
// total serves as the merged total.
func mergePortions[T any](fetched []paging.Portion[T]) paging.Portion[T] {
	values := map[int]T{}
	total := 0
	for _, p := range fetched {
		total = p.TotalSize
		for k, v := range p.Values {
			values[k] = v
		}
	}
	return paging.NewPortion(total, values)
}
