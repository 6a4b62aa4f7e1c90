package memory

import (
	"context"
	"sync"

	"github.com/meridian-data/pagestream/pkg/paging"
)

// Cache is a mutex-guarded per-query positional cache implementing the
// local source contract.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry[T]

	saveErr  error
	clearErr error
}

type cacheEntry[T any] struct {
	total  int
	values map[int]T
}

// NewCache creates an empty cache.
func NewCache[T any]() *Cache[T] {
	return &Cache[T]{entries: map[string]*cacheEntry[T]{}}
}

// SetSaveError makes every Save fail with err. Pass nil to clear.
func (c *Cache[T]) SetSaveError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saveErr = err
}

// SetClearError makes every Clear fail with err. Pass nil to clear.
func (c *Cache[T]) SetClearError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearErr = err
}

// Read returns the cached positions inside [start, start+size) for query.
// Absent positions are omitted; a total of 0 means unknown.
func (c *Cache[T]) Read(ctx context.Context, start, size int, query string) (paging.Portion[T], error) {
	if err := ctx.Err(); err != nil {
		return paging.Portion[T]{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[query]
	if !ok {
		return paging.NewPortion[T](0, nil), nil
	}
	values := map[int]T{}
	for k := start; k < start+size; k++ {
		if v, ok := entry.values[k]; ok {
			values[k] = v
		}
	}
	return paging.NewPortion(entry.total, values), nil
}

// Save merges the portion into the query's entry, overwriting on conflict
// and updating the stored total.
func (c *Cache[T]) Save(ctx context.Context, query string, portion paging.Portion[T]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.saveErr != nil {
		return c.saveErr
	}
	entry, ok := c.entries[query]
	if !ok {
		entry = &cacheEntry[T]{values: map[int]T{}}
		c.entries[query] = entry
	}
	for k, v := range portion.Values {
		entry.values[k] = v
	}
	entry.total = portion.TotalSize
	return nil
}

// Clear removes all cached data for query.
func (c *Cache[T]) Clear(ctx context.Context, query string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.clearErr != nil {
		return c.clearErr
	}
	delete(c.entries, query)
	return nil
}

// Len returns the number of cached positions for query.
func (c *Cache[T]) Len(query string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[query]
	if !ok {
		return 0
	}
	return len(entry.values)
}

var _ paging.LocalSource[int, string] = (*Cache[int])(nil)
