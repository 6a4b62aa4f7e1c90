package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meridian-data/pagestream/pkg/paging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataset_ReadData(t *testing.T) {
	t.Parallel()
	d := NewDataset(100, func(k int) int { return k * 2 })

	var portions []paging.Portion[int]
	err := d.ReadData(context.Background(), 10, 5, func(p paging.Portion[int]) error {
		portions = append(portions, p)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, portions, 1)
	require.Equal(t, 100, portions[0].TotalSize)
	require.Equal(t, map[int]int{10: 20, 11: 22, 12: 24, 13: 26, 14: 28}, portions[0].Values)
}

func TestDataset_FetchClampsToTotal(t *testing.T) {
	t.Parallel()
	d := NewDataset(12, func(k int) int { return k })

	p, err := d.Fetch(context.Background(), 10, 5, "q")
	require.NoError(t, err)
	require.Equal(t, 12, p.TotalSize)
	require.Equal(t, map[int]int{10: 10, 11: 11}, p.Values)
}

func TestDataset_Fault(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	d := NewDataset(100, func(k int) int { return k })
	d.SetFault(func(start, _ int) error {
		if start == 20 {
			return boom
		}
		return nil
	})

	_, err := d.Fetch(context.Background(), 20, 5, "q")
	require.ErrorIs(t, err, boom)

	_, err = d.Fetch(context.Background(), 0, 5, "q")
	require.NoError(t, err)
}

func TestDataset_CancelledContext(t *testing.T) {
	t.Parallel()
	d := NewDataset(100, func(k int) int { return k })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.ReadData(ctx, 0, 5, func(paging.Portion[int]) error {
		t.Fatal("no emission after cancellation")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCache_ReadSaveClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewCache[string]()

	// Unknown query reads back empty with an unknown total.
	p, err := c.Read(ctx, 0, 5, "q")
	require.NoError(t, err)
	require.Equal(t, 0, p.TotalSize)
	require.Empty(t, p.Values)

	require.NoError(t, c.Save(ctx, "q", paging.NewPortion(50, map[int]string{1: "a", 3: "b"})))
	require.NoError(t, c.Save(ctx, "q", paging.NewPortion(50, map[int]string{3: "b2", 4: "c"})))

	p, err = c.Read(ctx, 0, 5, "q")
	require.NoError(t, err)
	require.Equal(t, 50, p.TotalSize)
	require.Equal(t, map[int]string{1: "a", 3: "b2", 4: "c"}, p.Values, "saves overwrite on conflict")

	// Queries do not share entries.
	p, err = c.Read(ctx, 0, 5, "other")
	require.NoError(t, err)
	require.Empty(t, p.Values)

	require.NoError(t, c.Clear(ctx, "q"))
	p, err = c.Read(ctx, 0, 5, "q")
	require.NoError(t, err)
	require.Equal(t, 0, p.TotalSize)
	require.Empty(t, p.Values)
}

func TestCache_ErrorHooks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	boom := errors.New("disk full")
	c := NewCache[int]()

	c.SetSaveError(boom)
	require.ErrorIs(t, c.Save(ctx, "q", paging.NewPortion(1, map[int]int{0: 0})), boom)

	c.SetClearError(boom)
	require.ErrorIs(t, c.Clear(ctx, "q"), boom)
}

func TestFeed_TotalStream(t *testing.T) {
	t.Parallel()
	f := NewFeed[int]()
	f.SetTotal(10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan int, 8)
	go func() {
		_ = f.ReadTotal(ctx, func(total int) error {
			got <- total
			return nil
		})
	}()

	// The known total is delivered first, then every update.
	require.Equal(t, 10, <-got)
	f.SetTotal(25)
	require.Equal(t, 25, <-got)
}

func TestFeed_FailTotalOnce(t *testing.T) {
	t.Parallel()
	boom := errors.New("stream down")
	f := NewFeed[int]()
	f.FailTotalOnce(boom)

	err := f.ReadTotal(context.Background(), func(int) error { return nil })
	require.ErrorIs(t, err, boom)

	// The second subscription works; cancel it via context.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = f.ReadTotal(ctx, func(int) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFeed_PortionStream(t *testing.T) {
	t.Parallel()
	f := NewFeed[int]()
	f.Publish(map[int]int{2: 20})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan map[int]int, 8)
	go func() {
		_ = f.ReadPortion(ctx, 0, 5, func(values map[int]int) error {
			got <- values
			return nil
		})
	}()

	// Already published positions inside the range arrive first.
	require.Equal(t, map[int]int{2: 20}, <-got)

	// Updates outside the range are filtered out entirely.
	f.Publish(map[int]int{7: 70})
	f.Publish(map[int]int{1: 10, 9: 90})
	assert.Equal(t, map[int]int{1: 10}, <-got)

	// Replacements flow through.
	f.Publish(map[int]int{2: 21})
	assert.Equal(t, map[int]int{2: 21}, <-got)
}
