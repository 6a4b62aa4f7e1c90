package kafkastream

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// totalKey keys every total record so a compacted totals topic keeps only
// the newest size.
const totalKey = "total"

// Feeder publishes a dataset onto the stream topics: one value record per
// position, keyed by position, and the current total. It is the producing
// counterpart of Source.
type Feeder[T any] struct {
	producer *Producer
	cfg      StreamConfig
}

// NewFeeder creates a feeder over a fresh producer.
func NewFeeder[T any](ctx context.Context, cfg StreamConfig, log *zap.SugaredLogger) (*Feeder[T], error) {
	producer, err := NewProducer(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &Feeder[T]{producer: producer, cfg: cfg}, nil
}

// PublishTotal publishes the current dataset size.
func (f *Feeder[T]) PublishTotal(ctx context.Context, total int) error {
	data, err := EncodeTotal(total)
	if err != nil {
		return err
	}
	return f.producer.Produce(ctx, f.cfg.TotalsTopic, []byte(totalKey), data)
}

// PublishValue publishes one item at its position.
func (f *Feeder[T]) PublishValue(ctx context.Context, position int, value T) error {
	data, err := EncodeValue(position, value)
	if err != nil {
		return err
	}
	return f.producer.Produce(ctx, f.cfg.ValuesTopic, []byte(strconv.Itoa(position)), data)
}

// Errors exposes the underlying producer's fatal error channel.
func (f *Feeder[T]) Errors() <-chan error {
	return f.producer.Errors()
}

// Close flushes and closes the underlying producer.
func (f *Feeder[T]) Close(timeout time.Duration) {
	f.producer.Close(timeout)
}
