package memory

import (
	"context"
	"sync"
	"time"

	"github.com/meridian-data/pagestream/pkg/paging"
)

// Dataset is a generator-backed dataset of a fixed (but adjustable) total
// size. It implements both the pull source and the remote source contracts;
// the item at position k is gen(k).
type Dataset[T any] struct {
	mu    sync.Mutex
	total int
	gen   func(position int) T
	delay time.Duration
	fault func(start, size int) error
}

// NewDataset creates a dataset of total items produced by gen.
func NewDataset[T any](total int, gen func(position int) T) *Dataset[T] {
	return &Dataset[T]{total: total, gen: gen}
}

// SetTotal changes the dataset size; later reads report the new total.
func (d *Dataset[T]) SetTotal(total int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.total = total
}

// SetDelay makes every read sleep, simulating a slow source.
func (d *Dataset[T]) SetDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delay = delay
}

// SetFault installs a hook consulted before every read; a non-nil return is
// served as the read's error. Pass nil to clear.
func (d *Dataset[T]) SetFault(fault func(start, size int) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fault = fault
}

// portion materializes [start, start+size) clamped to the current total.
func (d *Dataset[T]) portion(start, size int) (paging.Portion[T], error) {
	d.mu.Lock()
	total := d.total
	gen := d.gen
	delay := d.delay
	fault := d.fault
	d.mu.Unlock()

	if fault != nil {
		if err := fault(start, size); err != nil {
			return paging.Portion[T]{}, err
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	values := map[int]T{}
	for k := start; k < start+size && k < total; k++ {
		values[k] = gen(k)
	}
	return paging.NewPortion(total, values), nil
}

// ReadData implements paging.PullSource: one portion per read.
func (d *Dataset[T]) ReadData(ctx context.Context, position, size int, yield func(paging.Portion[T]) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := d.portion(position, size)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return yield(p)
}

// Fetch implements paging.RemoteSource; the query is ignored.
func (d *Dataset[T]) Fetch(ctx context.Context, start, size int, _ string) (paging.Portion[T], error) {
	if err := ctx.Err(); err != nil {
		return paging.Portion[T]{}, err
	}
	return d.portion(start, size)
}

var (
	_ paging.PullSource[int]           = (*Dataset[int])(nil)
	_ paging.RemoteSource[int, string] = (*Dataset[int])(nil)
)
