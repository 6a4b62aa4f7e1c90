// Package kafkastream implements the streaming source contract on Kafka.
// Two topics carry the dataset: a values topic with one {position, payload}
// record per item and a totals topic with the current dataset size. Every
// subscription tails its topic in its own consumer group, so concurrent
// chunk subscriptions do not steal records from each other.
package kafkastream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"
	"github.com/meridian-data/pagestream/pkg/paging"
	"go.uber.org/zap"
)

// pollTimeout bounds one consumer poll; it also bounds how long a
// cancellation can go unnoticed and how long deliveries batch before a
// yield.
const pollTimeout = 100 * time.Millisecond

// Source is the Kafka-backed streaming source.
type Source[T any] struct {
	log *zap.SugaredLogger
	cfg StreamConfig
}

// NewSource creates a stream source and returns an error if arguments are
// invalid.
func NewSource[T any](log *zap.SugaredLogger, cfg StreamConfig) (*Source[T], error) {
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Source[T]{log: log, cfg: cfg}, nil
}

// newConsumer builds a consumer with a unique group so each subscription
// tails the whole topic independently.
func (s *Source[T]) newConsumer() (*kafka.Consumer, error) {
	conf := &kafka.ConfigMap{
		"bootstrap.servers":      s.cfg.BootstrapServers,
		"group.id":               fmt.Sprintf("%s-%s", s.cfg.GroupPrefix, uuid.NewString()),
		"auto.offset.reset":      s.cfg.AutoOffsetReset,
		"enable.auto.commit":     true,
		"session.timeout.ms":     int(DefaultSessionTimeout.Milliseconds()),
		"max.poll.interval.ms":   int(DefaultMaxPollInterval.Milliseconds()),
		"go.logs.channel.enable": s.cfg.EnableLogs,
	}
	consumer, err := kafka.NewConsumer(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return consumer, nil
}

// ReadTotal implements paging.StreamSource: it tails the totals topic and
// yields each total that differs from the one before it until ctx is
// cancelled.
func (s *Source[T]) ReadTotal(ctx context.Context, yield func(total int) error) error {
	consumer, err := s.newConsumer()
	if err != nil {
		return err
	}
	defer consumer.Close() //nolint:errcheck // best-effort close on the way out

	if err := consumer.Subscribe(s.cfg.TotalsTopic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to totals topic: %w", err)
	}

	last := -1
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := consumer.ReadMessage(pollTimeout)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return fmt.Errorf("failed to read total: %w", err)
		}
		total, err := DecodeTotal(msg.Value)
		if err != nil {
			s.log.Warnw("skipping malformed total record", "offset", msg.TopicPartition.Offset, "error", err)
			continue
		}
		if total == last {
			continue
		}
		last = total
		if err := yield(total); err != nil {
			return err
		}
	}
}

// ReadPortion implements paging.StreamSource for [start, start+size): it
// tails the values topic, keeps only positions inside the range, and yields
// one values map per poll batch.
func (s *Source[T]) ReadPortion(ctx context.Context, start, size int, yield func(values map[int]T) error) error {
	consumer, err := s.newConsumer()
	if err != nil {
		return err
	}
	defer consumer.Close() //nolint:errcheck // best-effort close on the way out

	if err := consumer.Subscribe(s.cfg.ValuesTopic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to values topic: %w", err)
	}

	batch := map[int]T{}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := consumer.ReadMessage(pollTimeout)
		if err != nil {
			if isTimeout(err) {
				// Poll gap: flush the accumulated batch, if any.
				if len(batch) > 0 {
					if err := yield(batch); err != nil {
						return err
					}
					batch = map[int]T{}
				}
				continue
			}
			return fmt.Errorf("failed to read portion: %w", err)
		}
		position, value, err := DecodeValue[T](msg.Value)
		if err != nil {
			s.log.Warnw("skipping malformed value record", "offset", msg.TopicPartition.Offset, "error", err)
			continue
		}
		if position < start || position >= start+size {
			continue
		}
		batch[position] = value
	}
}

func isTimeout(err error) bool {
	var kafkaErr kafka.Error
	return errors.As(err, &kafkaErr) && kafkaErr.Code() == kafka.ErrTimedOut
}

var _ paging.StreamSource[int] = (*Source[int])(nil)
