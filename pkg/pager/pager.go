package pager

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/meridian-data/pagestream/pkg/metrics"
	"github.com/meridian-data/pagestream/pkg/paging"
	"github.com/meridian-data/pagestream/pkg/ranges"
	"go.uber.org/zap"
)

// Pager is the pull-based windowed loader. Construct with New, start Run in
// a goroutine, and read snapshots via Subscribe. Accessing positions through
// the published snapshots drives planning.
type Pager[T any] struct {
	log     *zap.SugaredLogger
	cfg     Config
	source  paging.PullSource[T]
	metrics *metrics.Metrics

	access *paging.KeySignal
	watch  *paging.Watch[paging.Snapshot[T]]

	mu          sync.Mutex
	totalSize   int
	values      map[int]T
	state       paging.LoadState
	lastReadKey int
	current     *loader
}

// loader is the handle of one in-flight background load.
type loader struct {
	key     int
	planned ranges.Range
	cancel  context.CancelFunc
}

// plan is one computed fetch round.
type plan struct {
	queue        []ranges.Range
	cacheWindow  ranges.Range
	planned      ranges.Range
	unknownTotal bool
}

// New creates a Pager and returns an error if arguments are invalid.
// Metrics may be nil.
func New[T any](
	log *zap.SugaredLogger,
	cfg Config,
	source paging.PullSource[T],
	m *metrics.Metrics,
) (*Pager[T], error) {
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	if source == nil {
		return nil, errors.New("invalid source: must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pager[T]{
		log:         log,
		cfg:         cfg,
		source:      source,
		metrics:     m,
		access:      paging.NewKeySignal(),
		watch:       paging.NewWatch[paging.Snapshot[T]](),
		values:      map[int]T{},
		state:       paging.Success(),
		lastReadKey: paging.NoKey,
	}
	// Consumers must observe a success snapshot with an empty map before the
	// first plan runs.
	p.watch.Publish(paging.NewSnapshot(0, map[int]T{}, paging.Success(), p.Access, p.Access))
	return p, nil
}

// Subscribe returns the snapshot stream. The channel is primed with the
// current snapshot; cancel releases the subscription.
func (p *Pager[T]) Subscribe() (<-chan paging.Snapshot[T], func()) {
	return p.watch.Subscribe()
}

// Snapshot returns the latest published snapshot.
func (p *Pager[T]) Snapshot() paging.Snapshot[T] {
	s, _ := p.watch.Latest()
	return s
}

// Access reports that the consumer read key. Snapshots use it as both the
// access and the retry callback; retrying with a nearby distinct key is the
// way to re-drive planning after an error at the same position.
func (p *Pager[T]) Access(key int) {
	p.access.Send(key)
}

// Run executes the debounced planning loop until ctx is cancelled.
// Cancelling ctx also cancels the in-flight loader.
func (p *Pager[T]) Run(ctx context.Context) error {
	timer := time.NewTimer(p.cfg.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	lastPlanned := paging.NoKey

	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			if p.current != nil {
				p.current.cancel()
				p.current = nil
			}
			p.mu.Unlock()
			return ctx.Err()
		case <-p.access.Notify():
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.cfg.Debounce)
		case <-timer.C:
			key, ok := p.access.Take()
			if !ok || key < 0 {
				continue
			}
			if key == lastPlanned {
				continue
			}
			lastPlanned = key
			p.dispatch(ctx, key)
		}
	}
}

// dispatch decides whether the stable key supersedes the in-flight load and
// starts a new loader when it does.
func (p *Pager[T]) dispatch(ctx context.Context, key int) {
	p.mu.Lock()
	if p.current != nil && p.current.planned.Contains(key) {
		p.lastReadKey = key
		p.mu.Unlock()
		return
	}
	decreasing := p.lastReadKey >= 0 && key < p.lastReadKey
	if p.current != nil {
		p.log.Debugw("superseding in-flight load",
			"key", key,
			"planned_first", p.current.planned.First,
			"planned_last", p.current.planned.Last,
		)
		p.current.cancel()
		p.metrics.IncLoadSuperseded()
	}
	lctx, cancel := context.WithCancel(ctx)
	ld := &loader{key: key, planned: ranges.New(0, -1), cancel: cancel}
	p.current = ld
	p.lastReadKey = key
	p.mu.Unlock()

	go p.load(lctx, ld, key, decreasing)
}

// load runs one loader: plan, fetch the queue, re-plan once when the total
// was unknown at plan time, and publish the terminal state.
func (p *Pager[T]) load(ctx context.Context, ld *loader, key int, decreasing bool) {
	start := time.Now()

	p.mu.Lock()
	if p.current != ld {
		p.mu.Unlock()
		return
	}
	pl, evicted := p.computePlanLocked(key, decreasing)
	ld.planned = pl.planned
	if len(pl.queue) == 0 {
		p.current = nil
		changed := p.state.Status != paging.StatusSuccess
		p.state = paging.Success()
		if changed || evicted {
			p.publishLocked()
		}
		p.mu.Unlock()
		return
	}
	p.state = paging.Loading()
	p.publishLocked()
	p.mu.Unlock()

	p.metrics.IncLoadStarted()
	p.log.Debugw("load started",
		"key", key,
		"chunks", len(pl.queue),
		"planned_first", pl.planned.First,
		"planned_last", pl.planned.Last,
	)

	for round := 0; ; round++ {
		for _, chunk := range pl.queue {
			err := p.source.ReadData(ctx, chunk.First, chunk.Width(), func(portion paging.Portion[T]) error {
				p.applyPortion(ld, pl.cacheWindow, portion)
				return nil
			})
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					p.log.Debugw("load cancelled", "key", key)
					return
				}
				p.mu.Lock()
				if p.current == ld {
					p.current = nil
					p.state = paging.Errored(err, key)
					p.publishLocked()
				}
				p.mu.Unlock()
				p.metrics.RecordLoad(err, time.Since(start).Seconds())
				p.log.Warnw("load failed",
					"key", key,
					"chunk_first", chunk.First,
					"chunk_size", chunk.Width(),
					"error", err,
				)
				return
			}
		}

		p.mu.Lock()
		if p.current != ld {
			p.mu.Unlock()
			return
		}
		// A cold pager's first plan covers only the leading chunk. Once the
		// total is known, plan again around the same key so the accessed
		// position itself gets materialized.
		if pl.unknownTotal && p.totalSize > 0 && round == 0 {
			pl, _ = p.computePlanLocked(key, decreasing)
			ld.planned = pl.planned
			if len(pl.queue) > 0 {
				p.mu.Unlock()
				continue
			}
		}
		p.current = nil
		p.state = paging.Success()
		p.publishLocked()
		p.mu.Unlock()
		p.metrics.RecordLoad(nil, time.Since(start).Seconds())
		return
	}
}

// computePlanLocked runs the planning algorithm for key and evicts positions
// outside the retention window. Caller holds p.mu. The boolean reports
// whether eviction changed the values map.
func (p *Pager[T]) computePlanLocked(key int, decreasing bool) (plan, bool) {
	bound := p.totalSize
	if bound < 1 {
		bound = 1
	}
	coerced := ranges.Coerce(key, ranges.New(0, bound-1))

	var planned ranges.Range
	if p.totalSize > 0 {
		planned = ranges.CoerceIn(
			ranges.New(coerced-p.cfg.PreloadSize, coerced+p.cfg.PreloadSize-1),
			ranges.New(0, p.totalSize-1),
		)
	} else {
		planned = ranges.New(0, p.cfg.LoadSize-1)
	}

	cacheWindow := ranges.New(coerced-p.cfg.CacheSize, coerced+p.cfg.CacheSize)
	evicted := p.evictLocked(cacheWindow)

	dataRange := p.dataRangeLocked()

	half := p.cfg.LoadSize / 2
	primary := ranges.ExpandTo(
		ranges.CoerceIn(ranges.New(coerced-half, coerced-half+p.cfg.LoadSize-1), planned),
		p.cfg.LoadSize,
		planned.Last,
	)

	var beforeRaw, afterRaw []ranges.Range
	if primary.First > planned.First {
		beforeRaw = ranges.Subtract(ranges.New(planned.First, primary.First-1), dataRange)
	}
	if primary.Last < planned.Last {
		afterRaw = ranges.Subtract(ranges.New(primary.Last+1, planned.Last), dataRange)
	}

	var prioritized []ranges.Range
	for _, piece := range ranges.Subtract(primary, dataRange) {
		prioritized = append(prioritized, ranges.Chunked(piece, p.cfg.LoadSize)...)
	}
	var before, after []ranges.Range
	for _, piece := range beforeRaw {
		before = append(before, ranges.Chunked(p.extendEdgeLocked(piece, planned), p.cfg.LoadSize)...)
	}
	for _, piece := range afterRaw {
		after = append(after, ranges.Chunked(p.extendEdgeLocked(piece, planned), p.cfg.LoadSize)...)
	}

	tail := make([]ranges.Range, 0, len(before)+len(after))
	if decreasing {
		tail = append(tail, before...)
		tail = append(tail, after...)
	} else {
		tail = append(tail, after...)
		tail = append(tail, before...)
	}
	sort.SliceStable(tail, func(i, j int) bool {
		return abs(tail[i].First-key) < abs(tail[j].First-key)
	})

	queue := make([]ranges.Range, 0, len(prioritized)+len(tail))
	queue = append(queue, prioritized...)
	queue = append(queue, tail...)

	return plan{
		queue:        queue,
		cacheWindow:  cacheWindow,
		planned:      planned,
		unknownTotal: p.totalSize == 0,
	}, evicted > 0
}

// extendEdgeLocked amortizes a short leftover piece touching either edge of
// the planned range into a full load. Caller holds p.mu.
func (p *Pager[T]) extendEdgeLocked(piece, planned ranges.Range) ranges.Range {
	if piece.First == planned.First && piece.Width() < p.cfg.LoadSize {
		first := piece.Last - p.cfg.LoadSize + 1
		if first < 0 {
			first = 0
		}
		piece.First = first
	}
	if piece.Last == planned.Last && piece.Width() < p.cfg.LoadSize {
		last := piece.First + p.cfg.LoadSize - 1
		if p.totalSize > 0 && last > p.totalSize-1 {
			last = p.totalSize - 1
		}
		piece.Last = last
	}
	return piece
}

// dataRangeLocked returns the contiguous run of loaded positions containing
// the floored arithmetic mean of all loaded keys, or an empty range when the
// mean position itself is not loaded. A sparse map therefore under-detects
// runs; the subtraction in planning only skips work that is provably
// materialized.
func (p *Pager[T]) dataRangeLocked() ranges.Range {
	if len(p.values) == 0 {
		return ranges.New(0, -1)
	}
	sum := 0
	for k := range p.values {
		sum += k
	}
	mean := sum / len(p.values)
	if _, ok := p.values[mean]; !ok {
		return ranges.New(0, -1)
	}
	first, last := mean, mean
	for {
		if _, ok := p.values[first-1]; !ok {
			break
		}
		first--
	}
	for {
		if _, ok := p.values[last+1]; !ok {
			break
		}
		last++
	}
	return ranges.New(first, last)
}

// evictLocked drops positions outside the retention window, replacing the
// values map so published snapshots stay immutable. Caller holds p.mu.
func (p *Pager[T]) evictLocked(window ranges.Range) int {
	evicted := 0
	for k := range p.values {
		if !window.Contains(k) {
			evicted++
		}
	}
	if evicted == 0 {
		return 0
	}
	next := make(map[int]T, len(p.values)-evicted)
	for k, v := range p.values {
		if window.Contains(k) {
			next[k] = v
		}
	}
	p.values = next
	return evicted
}

// applyPortion merges one portion under the mutex and publishes a fresh
// snapshot. A portion whose total disagrees with the known total is
// authoritative and replaces the window instead of merging into it.
func (p *Pager[T]) applyPortion(ld *loader, cacheWindow ranges.Range, portion paging.Portion[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != ld {
		// Superseded mid-emission; drop the write.
		return
	}
	evicted := 0
	if portion.TotalSize != p.totalSize {
		next := make(map[int]T, len(portion.Values))
		for k, v := range portion.Values {
			if cacheWindow.Contains(k) {
				next[k] = v
			} else {
				evicted++
			}
		}
		p.values = next
		p.totalSize = portion.TotalSize
	} else {
		next := make(map[int]T, len(p.values)+len(portion.Values))
		for k, v := range p.values {
			next[k] = v
		}
		for k, v := range portion.Values {
			next[k] = v
		}
		for k := range next {
			if !cacheWindow.Contains(k) {
				delete(next, k)
				evicted++
			}
		}
		p.values = next
	}
	p.metrics.RecordMerge(evicted)
	p.publishLocked()
}

// publishLocked emits a fresh snapshot of the current state. Caller holds p.mu.
func (p *Pager[T]) publishLocked() {
	p.metrics.UpdateWindowMetrics(p.totalSize, len(p.values))
	p.watch.Publish(paging.NewSnapshot(p.totalSize, p.values, p.state, p.Access, p.Access))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
