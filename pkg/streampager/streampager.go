package streampager

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/meridian-data/pagestream/pkg/metrics"
	"github.com/meridian-data/pagestream/pkg/paging"
	"github.com/meridian-data/pagestream/pkg/ranges"
	"go.uber.org/zap"
)

// StreamingPager is the push-based windowed loader. Construct with New,
// start Run in a goroutine, and read snapshots via Subscribe.
type StreamingPager[T any] struct {
	log     *zap.SugaredLogger
	cfg     Config
	source  paging.StreamSource[T]
	metrics *metrics.Metrics

	access     *paging.KeySignal
	totalRetry chan struct{}
	watch      *paging.Watch[paging.Snapshot[T]]
	wg         sync.WaitGroup

	mu          sync.Mutex
	totalSize   int
	values      map[int]T
	lastReadKey int
	previousKey int
	active      []*streamEntry // open subscriptions, insertion-ordered
	states      []*rangeState  // per-range load states, insertion-ordered
	totalErr    error          // sticky until a retry restarts collection
}

// streamEntry is one open chunk subscription.
type streamEntry struct {
	r      ranges.Range
	ctx    context.Context
	cancel context.CancelFunc
}

// rangeState is the load state of one chunk subscription.
type rangeState struct {
	r     ranges.Range
	state paging.LoadState
}

// New creates a StreamingPager and returns an error if arguments are
// invalid. Metrics may be nil.
func New[T any](
	log *zap.SugaredLogger,
	cfg Config,
	source paging.StreamSource[T],
	m *metrics.Metrics,
) (*StreamingPager[T], error) {
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	if source == nil {
		return nil, errors.New("invalid source: must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &StreamingPager[T]{
		log:         log,
		cfg:         cfg,
		source:      source,
		metrics:     m,
		access:      paging.NewKeySignal(),
		totalRetry:  make(chan struct{}, 1),
		watch:       paging.NewWatch[paging.Snapshot[T]](),
		values:      map[int]T{},
		lastReadKey: paging.NoKey,
		previousKey: paging.NoKey,
	}
	// Consumers must observe a success snapshot before the first adjustment.
	p.watch.Publish(paging.NewSnapshot(0, map[int]T{}, paging.Success(), p.Access, p.Retry))
	return p, nil
}

// Subscribe returns the snapshot stream. The channel is primed with the
// current snapshot; cancel releases the subscription.
func (p *StreamingPager[T]) Subscribe() (<-chan paging.Snapshot[T], func()) {
	return p.watch.Subscribe()
}

// Snapshot returns the latest published snapshot.
func (p *StreamingPager[T]) Snapshot() paging.Snapshot[T] {
	s, _ := p.watch.Latest()
	return s
}

// Access reports that the consumer read key.
func (p *StreamingPager[T]) Access(key int) {
	p.access.Send(key)
}

// Retry re-drives planning around key and, when the total stream is parked
// in its sticky error state, restarts the total collection.
func (p *StreamingPager[T]) Retry(key int) {
	p.mu.Lock()
	sticky := p.totalErr != nil
	p.mu.Unlock()
	if sticky {
		select {
		case p.totalRetry <- struct{}{}:
		default:
		}
	}
	p.access.Send(key)
}

// Run collects the total side-channel and executes the debounced window
// adjustment loop until ctx is cancelled. Cancelling ctx closes every open
// subscription; Run returns after all background tasks finished.
func (p *StreamingPager[T]) Run(ctx context.Context) error {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.collectTotal(ctx)
	}()

	timer := time.NewTimer(p.cfg.KeyDebounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			for _, e := range p.active {
				e.cancel()
			}
			p.mu.Unlock()
			p.wg.Wait()
			return ctx.Err()
		case <-p.access.Notify():
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.cfg.KeyDebounce)
		case <-timer.C:
			key, ok := p.access.Take()
			if !ok || key < 0 {
				continue
			}
			p.adjustWindow(ctx, key)
		}
	}
}

// collectTotal tails the total-size stream, deduplicating adjacent values.
// A failure parks the collection in a sticky error state until a retry
// signal restarts it.
func (p *StreamingPager[T]) collectTotal(ctx context.Context) {
	for {
		err := p.source.ReadTotal(ctx, func(total int) error {
			p.onTotalChanged(total)
			return nil
		})
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// A hot stream ending is terminal; the last total stays valid.
			p.log.Debugw("total stream completed")
			return
		}

		p.log.Warnw("total stream failed, awaiting retry", "error", err)
		p.mu.Lock()
		p.totalErr = err
		p.publishLocked()
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-p.totalRetry:
			p.mu.Lock()
			p.totalErr = nil
			p.publishLocked()
			p.mu.Unlock()
		}
	}
}

// onTotalChanged applies a new total: filters the window, cancels
// subscriptions past the new end, and re-aligns the access window when the
// last read position lies past the new total.
func (p *StreamingPager[T]) onTotalChanged(newTotal int) {
	p.mu.Lock()
	if newTotal == p.totalSize {
		p.mu.Unlock()
		return
	}
	p.metrics.IncTotalUpdate()

	next := make(map[int]T, len(p.values))
	for k, v := range p.values {
		if k < newTotal {
			next[k] = v
		}
	}
	p.values = next
	p.totalSize = newTotal

	var keep []*streamEntry
	closed := 0
	for _, e := range p.active {
		if e.r.Last >= newTotal {
			e.cancel()
			p.removeStateLocked(e.r)
			closed++
		} else {
			keep = append(keep, e)
		}
	}
	p.active = keep
	p.metrics.AddStreamsClosed(closed)
	p.metrics.SetActiveStreams(len(p.active))

	realign := p.lastReadKey > newTotal
	p.publishLocked()
	p.mu.Unlock()

	p.log.Debugw("total size changed", "total", newTotal, "closed", closed)
	if realign {
		p.access.Send(newTotal)
	}
}

// adjustWindow recomputes the target chunk set around key, closes
// subscriptions beyond the window and opens the missing chunks in the
// direction of travel first.
func (p *StreamingPager[T]) adjustWindow(ctx context.Context, key int) {
	p.mu.Lock()
	directionForward := key > p.lastReadKey

	var target []ranges.Range
	if p.totalSize == 0 {
		target = []ranges.Range{ranges.New(0, p.cfg.LoadSize - 1)}
	} else {
		target = p.targetChunksLocked(key)
	}

	var toOpen []ranges.Range
	for _, r := range target {
		if p.findActiveLocked(r) == -1 {
			toOpen = append(toOpen, r)
		}
	}
	for _, r := range toOpen {
		p.setStateLocked(r, paging.Loading())
	}

	// Open in the travel direction first, backfill the opposite side last.
	anchor := target[0]
	for _, r := range target {
		if r.Contains(key) {
			anchor = r
			break
		}
	}
	orderToOpen(toOpen, anchor, directionForward)

	launches := make([]*streamEntry, 0, len(toOpen))
	for _, r := range toOpen {
		cctx, cancel := context.WithCancel(ctx)
		e := &streamEntry{r: r, ctx: cctx, cancel: cancel}
		p.active = append(p.active, e)
		launches = append(launches, e)
		p.wg.Add(1)
	}
	p.metrics.SetActiveStreams(len(p.active))

	p.previousKey = p.lastReadKey
	p.lastReadKey = key
	if len(toOpen) > 0 {
		p.publishLocked()
	}
	p.mu.Unlock()

	for _, e := range launches {
		p.metrics.IncStreamOpened()
		p.log.Debugw("opening portion stream", "first", e.r.First, "last", e.r.Last)
		go p.runPortion(e)
	}
}

// targetChunksLocked computes the chunk-aligned target set around key for a
// known total. Caller holds p.mu; closing of out-of-window subscriptions
// happens here as a side effect.
func (p *StreamingPager[T]) targetChunksLocked(key int) []ranges.Range {
	bounds := ranges.New(0, p.totalSize-1)
	windowUnaligned := ranges.Intersection(
		ranges.New(key-p.cfg.PreloadSize, key+p.cfg.PreloadSize), bounds)

	// Align to the surviving subscription nearest to key so the chunk grid
	// stays stable while scrolling; ties resolve by insertion order.
	baseStart := 0
	found := false
	bestDist := 0
	for _, e := range p.active {
		if !ranges.Intersects(e.r, windowUnaligned) {
			continue
		}
		d := abs(e.r.First - key)
		if !found || d < bestDist {
			baseStart = e.r.First
			bestDist = d
			found = true
		}
	}
	if !found {
		baseStart = ranges.AlignedChunkStart(key, 0, p.cfg.LoadSize)
	}

	center := ranges.AlignedChunkContaining(key, baseStart, p.cfg.LoadSize, p.totalSize)
	window := ranges.Intersection(
		ranges.New(center.First-p.cfg.PreloadSize, center.Last+p.cfg.PreloadSize), bounds)

	var keep []*streamEntry
	closed := 0
	for _, e := range p.active {
		if ranges.DistanceBeyond(window, e.r) > p.cfg.CloseThreshold {
			e.cancel()
			p.removeStateLocked(e.r)
			closed++
		} else {
			keep = append(keep, e)
		}
	}
	p.active = keep
	p.metrics.AddStreamsClosed(closed)

	var forward []ranges.Range
	for start := center.Last + 1; start <= window.Last; start += p.cfg.LoadSize {
		last := start + p.cfg.LoadSize - 1
		if last > p.totalSize-1 {
			last = p.totalSize - 1
		}
		forward = append(forward, ranges.New(start, last))
	}

	var backward []ranges.Range
	for start := center.First - p.cfg.LoadSize; start+p.cfg.LoadSize-1 >= window.First; start -= p.cfg.LoadSize {
		first := start
		if first < 0 {
			first = 0
		}
		backward = append(backward, ranges.New(first, start+p.cfg.LoadSize-1))
		if first == 0 {
			break
		}
	}
	for i, j := 0, len(backward)-1; i < j; i, j = i+1, j-1 {
		backward[i], backward[j] = backward[j], backward[i]
	}

	target := make([]ranges.Range, 0, len(backward)+1+len(forward))
	target = append(target, backward...)
	target = append(target, center)
	target = append(target, forward...)
	return target
}

// runPortion collects one chunk subscription until it completes, fails or
// is cancelled. The entry leaves the registry in cleanup whatever way the
// task ends.
func (p *StreamingPager[T]) runPortion(e *streamEntry) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		if i := p.findEntryLocked(e); i != -1 {
			p.active = append(p.active[:i], p.active[i+1:]...)
		}
		p.metrics.SetActiveStreams(len(p.active))
		p.mu.Unlock()
	}()

	err := p.source.ReadPortion(e.ctx, e.r.First, e.r.Width(), func(values map[int]T) error {
		p.applyPortion(e, values)
		return nil
	})
	switch {
	case e.ctx.Err() != nil || errors.Is(err, context.Canceled):
		p.log.Debugw("portion stream cancelled", "first", e.r.First, "last", e.r.Last)
	case err != nil:
		p.metrics.IncRangeError()
		p.log.Warnw("portion stream failed", "first", e.r.First, "last", e.r.Last, "error", err)
		p.mu.Lock()
		if st := p.findStateLocked(e.r); st != nil {
			st.state = paging.Errored(err, e.r.First)
			p.publishLocked()
		}
		p.mu.Unlock()
	default:
		p.log.Debugw("portion stream completed", "first", e.r.First, "last", e.r.Last)
	}
}

// applyPortion merges one emission under the mutex, applies the retention
// window around the last read key and publishes a fresh snapshot.
func (p *StreamingPager[T]) applyPortion(e *streamEntry, values map[int]T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.ctx.Err() != nil {
		// Cancelled mid-emission; drop the write.
		return
	}

	next := make(map[int]T, len(p.values)+len(values))
	for k, v := range p.values {
		next[k] = v
	}
	for k, v := range values {
		next[k] = v
	}
	evicted := 0
	if p.lastReadKey >= 0 {
		win := ranges.New(p.lastReadKey-p.cfg.CacheSize, p.lastReadKey+p.cfg.CacheSize)
		for k := range next {
			if !win.Contains(k) {
				delete(next, k)
				evicted++
			}
		}
	}
	p.values = next
	p.metrics.RecordMerge(evicted)

	if st := p.findStateLocked(e.r); st != nil && st.state.Status != paging.StatusSuccess {
		st.state = paging.Success()
	}
	p.publishLocked()
}

// aggregateLocked derives the published load state from the per-range
// states: loading while any range loads, otherwise the sticky total error,
// otherwise the first range error by insertion order, otherwise success.
func (p *StreamingPager[T]) aggregateLocked() paging.LoadState {
	for _, st := range p.states {
		if st.state.Status == paging.StatusLoading {
			return paging.Loading()
		}
	}
	if p.totalErr != nil {
		key := p.lastReadKey
		if key < 0 {
			key = 0
		}
		return paging.Errored(p.totalErr, key)
	}
	for _, st := range p.states {
		if st.state.Status == paging.StatusError {
			return st.state
		}
	}
	return paging.Success()
}

// publishLocked emits a fresh snapshot of the current state. Caller holds p.mu.
func (p *StreamingPager[T]) publishLocked() {
	p.metrics.UpdateWindowMetrics(p.totalSize, len(p.values))
	p.watch.Publish(paging.NewSnapshot(p.totalSize, p.values, p.aggregateLocked(), p.Access, p.Retry))
}

func (p *StreamingPager[T]) findActiveLocked(r ranges.Range) int {
	for i, e := range p.active {
		if e.r == r {
			return i
		}
	}
	return -1
}

func (p *StreamingPager[T]) findEntryLocked(e *streamEntry) int {
	for i, cur := range p.active {
		if cur == e {
			return i
		}
	}
	return -1
}

func (p *StreamingPager[T]) findStateLocked(r ranges.Range) *rangeState {
	for _, st := range p.states {
		if st.r == r {
			return st
		}
	}
	return nil
}

func (p *StreamingPager[T]) setStateLocked(r ranges.Range, state paging.LoadState) {
	if st := p.findStateLocked(r); st != nil {
		st.state = state
		return
	}
	p.states = append(p.states, &rangeState{r: r, state: state})
}

func (p *StreamingPager[T]) removeStateLocked(r ranges.Range) {
	for i, st := range p.states {
		if st.r == r {
			p.states = append(p.states[:i], p.states[i+1:]...)
			return
		}
	}
}

// orderToOpen sorts chunks by a direction-biased distance from the anchor:
// chunks in the travel direction come first, nearest to the anchor, and the
// opposite side is backfilled last.
func orderToOpen(toOpen []ranges.Range, anchor ranges.Range, forward bool) {
	const half = math.MaxInt / 2
	sortKey := func(r ranges.Range) int {
		delta := r.First - anchor.First
		switch {
		case forward && delta >= 0:
			return delta
		case forward && delta < 0:
			return half - delta
		case !forward && delta <= 0:
			return -delta
		default:
			return half + delta
		}
	}
	sort.SliceStable(toOpen, func(i, j int) bool {
		return sortKey(toOpen[i]) < sortKey(toOpen[j])
	})
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
