package memory

import (
	"context"
	"sync"

	"github.com/meridian-data/pagestream/pkg/paging"
)

// subscription channel capacity; a receiver this far behind a hot feed
// starts losing updates, like any live stream.
const feedBuffer = 64

// Feed is a live in-memory dataset implementing the streaming source
// contract. SetTotal and Publish feed the two hot streams; subscriptions
// receive the current state first and every later update.
type Feed[T any] struct {
	mu        sync.Mutex
	total     int
	hasTotal  bool
	totalErr  error
	values    map[int]T
	nextID    int
	totalSubs map[int]chan int
	valueSubs map[int]chan map[int]T
}

// NewFeed creates an empty feed with an unknown total.
func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{
		values:    map[int]T{},
		totalSubs: map[int]chan int{},
		valueSubs: map[int]chan map[int]T{},
	}
}

// SetTotal publishes a new dataset size to every total subscription.
func (f *Feed[T]) SetTotal(total int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.total = total
	f.hasTotal = true
	for _, ch := range f.totalSubs {
		select {
		case ch <- total:
		default:
		}
	}
}

// FailTotalOnce arms a one-shot error served to the next ReadTotal call.
func (f *Feed[T]) FailTotalOnce(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.totalErr = err
}

// Publish merges values into the feed and pushes the update to every
// portion subscription; re-published positions are replacements.
func (f *Feed[T]) Publish(values map[int]T) {
	update := make(map[int]T, len(values))
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range values {
		f.values[k] = v
		update[k] = v
	}
	for _, ch := range f.valueSubs {
		select {
		case ch <- update:
		default:
		}
	}
}

// ReadTotal implements paging.StreamSource. The current total, when known,
// is delivered first.
func (f *Feed[T]) ReadTotal(ctx context.Context, yield func(total int) error) error {
	f.mu.Lock()
	if err := f.totalErr; err != nil {
		f.totalErr = nil
		f.mu.Unlock()
		return err
	}
	ch := make(chan int, feedBuffer)
	if f.hasTotal {
		ch <- f.total
	}
	id := f.nextID
	f.nextID++
	f.totalSubs[id] = ch
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.totalSubs, id)
		f.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case total := <-ch:
			if err := yield(total); err != nil {
				return err
			}
		}
	}
}

// ReadPortion implements paging.StreamSource for [start, start+size). The
// already published positions inside the range are delivered first.
func (f *Feed[T]) ReadPortion(ctx context.Context, start, size int, yield func(values map[int]T) error) error {
	f.mu.Lock()
	ch := make(chan map[int]T, feedBuffer)
	initial := map[int]T{}
	for k := start; k < start+size; k++ {
		if v, ok := f.values[k]; ok {
			initial[k] = v
		}
	}
	if len(initial) > 0 {
		ch <- initial
	}
	id := f.nextID
	f.nextID++
	f.valueSubs[id] = ch
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.valueSubs, id)
		f.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update := <-ch:
			filtered := map[int]T{}
			for k, v := range update {
				if k >= start && k < start+size {
					filtered[k] = v
				}
			}
			if len(filtered) == 0 {
				continue
			}
			if err := yield(filtered); err != nil {
				return err
			}
		}
	}
}

var _ paging.StreamSource[int] = (*Feed[int])(nil)
