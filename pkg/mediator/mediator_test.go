package mediator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meridian-data/pagestream/pkg/paging"
	"github.com/meridian-data/pagestream/pkg/ranges"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// record is the item type used by mediator tests; Stale feeds the staleness
// predicate.
type record struct {
	Pos   int
	Stale bool
}

func isStale(r record) bool {
	return r.Stale
}

// localStub is an in-memory local cache source recording saves and clears.
type localStub struct {
	mu     sync.Mutex
	total  int
	values map[int]record
	saves  []paging.Portion[record]
	clears int
	readErr error
}

func newLocalStub(total int, values map[int]record) *localStub {
	if values == nil {
		values = map[int]record{}
	}
	return &localStub{total: total, values: values}
}

func (l *localStub) Read(_ context.Context, start, size int, _ string) (paging.Portion[record], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return paging.Portion[record]{}, l.readErr
	}
	values := map[int]record{}
	for k := start; k < start+size; k++ {
		if v, ok := l.values[k]; ok {
			values[k] = v
		}
	}
	return paging.NewPortion(l.total, values), nil
}

func (l *localStub) Save(_ context.Context, _ string, portion paging.Portion[record]) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range portion.Values {
		l.values[k] = v
	}
	l.total = portion.TotalSize
	l.saves = append(l.saves, portion)
	return nil
}

func (l *localStub) Clear(_ context.Context, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values = map[int]record{}
	l.total = 0
	l.clears++
	return nil
}

var _ paging.LocalSource[record, string] = (*localStub)(nil)

// remoteStub serves records equal to their position over a fixed total.
type remoteStub struct {
	mu    sync.Mutex
	total int
	calls [][2]int
	err   error
}

func (r *remoteStub) Fetch(_ context.Context, start, size int, _ string) (paging.Portion[record], error) {
	r.mu.Lock()
	r.calls = append(r.calls, [2]int{start, size})
	err := r.err
	total := r.total
	r.mu.Unlock()
	if err != nil {
		return paging.Portion[record]{}, err
	}
	values := map[int]record{}
	for k := start; k < start+size && k < total; k++ {
		values[k] = record{Pos: k}
	}
	return paging.NewPortion(total, values), nil
}

var _ paging.RemoteSource[record, string] = (*remoteStub)(nil)

func (r *remoteStub) callList() [][2]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]int(nil), r.calls...)
}

func newMediator(t *testing.T, cfg Config, local *localStub, remote *remoteStub) *Mediator[record, string] {
	t.Helper()
	m, err := New[record, string](zap.NewNop().Sugar(), cfg, local, remote, isStale, nil)
	require.NoError(t, err)
	return m
}

// collect runs one loadPortion invocation and gathers its emissions.
func collect(t *testing.T, m *Mediator[record, string], position, size int) []paging.Portion[record] {
	t.Helper()
	var out []paging.Portion[record]
	err := m.loadPortion(context.Background(), "q", position, size, func(p paging.Portion[record]) error {
		out = append(out, p)
		return nil
	})
	require.NoError(t, err)
	return out
}

func keys[T any](values map[int]T) map[int]bool {
	out := map[int]bool{}
	for k := range values {
		out[k] = true
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	log := zap.NewNop().Sugar()
	local := newLocalStub(0, nil)
	remote := &remoteStub{total: 10}

	_, err := New[record, string](nil, DefaultConfig(), local, remote, nil, nil)
	require.ErrorContains(t, err, "invalid logger")

	_, err = New[record, string](log, DefaultConfig(), nil, remote, nil, nil)
	require.ErrorContains(t, err, "invalid local source")

	_, err = New[record, string](log, DefaultConfig(), local, nil, nil, nil)
	require.ErrorContains(t, err, "invalid remote source")

	cfg := DefaultConfig()
	cfg.Concurrency = 0
	_, err = New[record, string](log, cfg, local, remote, nil, nil)
	require.ErrorContains(t, err, "invalid concurrency")

	_, err = New[record, string](log, DefaultConfig(), local, remote, nil, nil)
	require.NoError(t, err)
}

func TestComputeMissing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		expected ranges.Range
		present  []int
		want     []ranges.Range
	}{
		{
			name:     "gaps between hits",
			expected: ranges.New(10, 15),
			present:  []int{10, 12, 15},
			want:     []ranges.Range{ranges.New(11, 11), ranges.New(13, 14)},
		},
		{
			name:     "all present",
			expected: ranges.New(0, 2),
			present:  []int{0, 1, 2},
			want:     nil,
		},
		{
			name:     "all missing",
			expected: ranges.New(3, 5),
			present:  nil,
			want:     []ranges.Range{ranges.New(3, 5)},
		},
		{
			name:     "missing tail",
			expected: ranges.New(0, 4),
			present:  []int{0, 1},
			want:     []ranges.Range{ranges.New(2, 4)},
		},
		{
			name:     "missing head",
			expected: ranges.New(0, 4),
			present:  []int{3, 4},
			want:     []ranges.Range{ranges.New(0, 2)},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			present := map[int]record{}
			for _, k := range tt.present {
				present[k] = record{Pos: k}
			}
			require.Equal(t, tt.want, computeMissing(tt.expected, present))
		})
	}
}

func TestLoadPortion_StaleRecordsRefetched(t *testing.T) {
	t.Parallel()
	local := newLocalStub(5, map[int]record{
		2: {Pos: 2},
		3: {Pos: 3, Stale: true},
		4: {Pos: 4},
	})
	remote := &remoteStub{total: 5}
	m := newMediator(t, DefaultConfig(), local, remote)

	emissions := collect(t, m, 0, 5)

	// The filtered local portion comes first: the stale record at 3 is gone.
	require.NotEmpty(t, emissions)
	require.Equal(t, map[int]bool{2: true, 4: true}, keys(emissions[0].Values))

	// Two separate gap fetches: [0,1] and the stale position [3,3].
	require.Equal(t, [][2]int{{0, 2}, {3, 1}}, remote.callList())

	// Serial mode emits each remote portion; the union covers the request.
	union := map[int]bool{}
	for _, p := range emissions {
		for k := range p.Values {
			union[k] = true
		}
	}
	require.Equal(t, map[int]bool{0: true, 1: true, 2: true, 3: true, 4: true}, union)

	// The merged result was persisted.
	require.Len(t, local.saves, 1)
	require.Equal(t, map[int]bool{0: true, 1: true, 3: true}, keys(local.saves[0].Values))
	assert.False(t, local.values[3].Stale, "refetched record replaced the stale one")
}

func TestLoadPortion_FetchFullRangeOnMiss(t *testing.T) {
	t.Parallel()
	local := newLocalStub(0, nil)
	remote := &remoteStub{total: 5}
	cfg := DefaultConfig()
	cfg.FetchFullRangeOnMiss = true
	m := newMediator(t, cfg, local, remote)

	collect(t, m, 0, 5)

	require.Equal(t, [][2]int{{0, 5}}, remote.callList(), "one full-range fetch, not gap fetches")
}

func TestLoadPortion_InconsistentTotalsClearAndRefetch(t *testing.T) {
	t.Parallel()
	local := newLocalStub(10, nil)
	remote := &remoteStub{total: 12}
	m := newMediator(t, DefaultConfig(), local, remote)

	emissions := collect(t, m, 0, 5)

	require.Equal(t, 1, local.clears, "clear called exactly once")
	require.Equal(t, [][2]int{{0, 5}, {0, 5}}, remote.callList(), "initial fetch plus one refetch")

	final := emissions[len(emissions)-1]
	require.Equal(t, 12, final.TotalSize)
	require.Equal(t, map[int]bool{0: true, 1: true, 2: true, 3: true, 4: true}, keys(final.Values))

	require.Len(t, local.saves, 1)
	require.Equal(t, 12, local.saves[0].TotalSize)
}

func TestLoadPortion_NoMissingSkipsRemote(t *testing.T) {
	t.Parallel()
	local := newLocalStub(5, map[int]record{
		0: {Pos: 0}, 1: {Pos: 1}, 2: {Pos: 2}, 3: {Pos: 3}, 4: {Pos: 4},
	})
	remote := &remoteStub{total: 5}
	m := newMediator(t, DefaultConfig(), local, remote)

	emissions := collect(t, m, 0, 5)

	require.Len(t, emissions, 1, "only the local emission")
	require.Empty(t, remote.callList())
	require.Empty(t, local.saves)
}

func TestLoadPortion_EmitOutdatedRecords(t *testing.T) {
	t.Parallel()
	local := newLocalStub(5, map[int]record{
		2: {Pos: 2},
		3: {Pos: 3, Stale: true},
	})
	remote := &remoteStub{total: 5}
	cfg := DefaultConfig()
	cfg.EmitOutdatedRecords = true
	m := newMediator(t, cfg, local, remote)

	emissions := collect(t, m, 0, 5)

	// The raw local portion leads, stale entry included.
	require.Equal(t, map[int]bool{2: true, 3: true}, keys(emissions[0].Values))

	// The stale position still counts as missing for fetching.
	require.Equal(t, [][2]int{{0, 2}, {3, 2}}, remote.callList())
}

func TestLoadPortion_ParallelCollectsBeforeEmitting(t *testing.T) {
	t.Parallel()
	local := newLocalStub(5, map[int]record{2: {Pos: 2}})
	remote := &remoteStub{total: 5}
	cfg := DefaultConfig()
	cfg.Concurrency = 3
	m := newMediator(t, cfg, local, remote)

	emissions := collect(t, m, 0, 5)

	// Local emission plus one merged emission; the parallel path never
	// emits per-portion even with intermediate results enabled.
	require.Len(t, emissions, 2)
	require.Equal(t, map[int]bool{0: true, 1: true, 3: true, 4: true}, keys(emissions[1].Values))
}

func TestLoadPortion_RemoteErrorPropagates(t *testing.T) {
	t.Parallel()
	boom := errors.New("upstream down")
	local := newLocalStub(0, nil)
	remote := &remoteStub{total: 5, err: boom}
	m := newMediator(t, DefaultConfig(), local, remote)

	err := m.loadPortion(context.Background(), "q", 0, 5, func(paging.Portion[record]) error {
		return nil
	})
	require.ErrorIs(t, err, boom)
	require.Empty(t, local.saves)
}

func TestLoadPortion_LocalErrorPropagates(t *testing.T) {
	t.Parallel()
	boom := errors.New("cache down")
	local := newLocalStub(0, nil)
	local.readErr = boom
	remote := &remoteStub{total: 5}
	m := newMediator(t, DefaultConfig(), local, remote)

	err := m.loadPortion(context.Background(), "q", 0, 5, func(paging.Portion[record]) error {
		return nil
	})
	require.ErrorIs(t, err, boom)
	require.Empty(t, remote.callList(), "no fallback to remote on local errors")
}

func TestMediator_PagerIntegration(t *testing.T) {
	t.Parallel()
	local := newLocalStub(0, nil)
	remote := &remoteStub{total: 1000}
	cfg := DefaultConfig()
	cfg.Pager.Debounce = 10 * time.Millisecond
	m := newMediator(t, cfg, local, remote)

	p, err := m.NewPager("q")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	p.Access(50)
	require.Eventually(t, func() bool {
		snap := p.Snapshot()
		v, ok := snap.Values()[50]
		return snap.LoadState().Status == paging.StatusSuccess && ok && v.Pos == 50
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, 1000, p.Snapshot().TotalSize())
	require.NotEmpty(t, remote.callList())
	require.NotEmpty(t, local.saves, "fetched portions are persisted")

	local.mu.Lock()
	_, cached := local.values[50]
	local.mu.Unlock()
	require.True(t, cached)
}
