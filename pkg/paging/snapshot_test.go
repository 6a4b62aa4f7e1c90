package paging

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_Get(t *testing.T) {
	t.Parallel()

	var accessed []int
	snap := NewSnapshot(
		10,
		map[int]int{3: 30, 7: 70},
		Success(),
		func(k int) { accessed = append(accessed, k) },
		nil,
	)

	item := snap.Get(3)
	require.True(t, item.Loaded)
	require.Equal(t, 30, item.Value)
	require.Equal(t, []int{3}, accessed, "exactly one access callback per Get")

	item = snap.Get(5)
	require.False(t, item.Loaded, "non-materialized position is loading")
	require.Equal(t, []int{3, 5}, accessed)

	// Positions beyond the total still report loading; the total is the
	// sole source of truth for existence.
	item = snap.Get(1000)
	require.False(t, item.Loaded)
	require.Equal(t, []int{3, 5, 1000}, accessed)
}

func TestSnapshot_Retry(t *testing.T) {
	t.Parallel()

	var retried []int
	snap := NewSnapshot[int](0, nil, Errored(errors.New("boom"), 4), nil, func(k int) {
		retried = append(retried, k)
	})
	snap.Retry(5)
	require.Equal(t, []int{5}, retried)
}

func TestSnapshot_Keys(t *testing.T) {
	t.Parallel()

	empty := NewSnapshot[int](0, nil, Success(), nil, nil)
	assert.True(t, empty.IsEmpty())
	assert.Equal(t, NoKey, empty.FirstKey())
	assert.Equal(t, NoKey, empty.LastKey())
	assert.Equal(t, 0, empty.Len())

	snap := NewSnapshot(100, map[int]int{12: 1, 4: 2, 55: 3}, Success(), nil, nil)
	assert.False(t, snap.IsEmpty())
	assert.Equal(t, 4, snap.FirstKey())
	assert.Equal(t, 55, snap.LastKey())
	assert.Equal(t, 3, snap.Len())
}

func TestMapSnapshot(t *testing.T) {
	t.Parallel()

	var accessed, retried []int
	snap := NewSnapshot(
		50,
		map[int]int{1: 10, 2: 20},
		Loading(),
		func(k int) { accessed = append(accessed, k) },
		func(k int) { retried = append(retried, k) },
	)

	mapped := MapSnapshot(snap, strconv.Itoa)
	require.Equal(t, 50, mapped.TotalSize())
	require.Equal(t, StatusLoading, mapped.LoadState().Status)
	require.Equal(t, map[int]string{1: "10", 2: "20"}, mapped.Values())

	// Callback identity survives the transform.
	mapped.Get(1)
	mapped.Retry(2)
	require.Equal(t, []int{1}, accessed)
	require.Equal(t, []int{2}, retried)
}

func TestLoadState(t *testing.T) {
	t.Parallel()

	cause := errors.New("fetch failed")
	st := Errored(cause, 42)
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, 42, st.Key)
	assert.ErrorIs(t, st.Err, cause)

	assert.Equal(t, "success", StatusSuccess.String())
	assert.Equal(t, "loading", StatusLoading.String())
	assert.Equal(t, "error", StatusError.String())
}
