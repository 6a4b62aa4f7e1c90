package kafkastream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

const queueFullRetryDelay = time.Second

// Producer is a synchronous Kafka producer. Produce blocks until a delivery
// confirmation is received; a background goroutine watches producer events
// for fatal errors. Close MUST be called at least once to stop the
// goroutine and flush in-flight messages.
type Producer struct {
	producer   *kafka.Producer
	log        *zap.SugaredLogger
	errCh      chan error
	eventsDone chan struct{}
	closedCh   chan struct{}
	once       sync.Once
}

// NewProducer creates a producer against the configured brokers. The
// context bounds the lifetime of the event-monitoring goroutine.
func NewProducer(ctx context.Context, cfg StreamConfig, log *zap.SugaredLogger) (*Producer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conf := &kafka.ConfigMap{
		"bootstrap.servers":  cfg.BootstrapServers,
		"acks":               "all",
		"linger.ms":          5,
		"compression.type":   "lz4",
		"enable.idempotence": true,
	}
	p, err := kafka.NewProducer(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	kp := &Producer{
		producer:   p,
		log:        log,
		errCh:      make(chan error, 1),
		eventsDone: make(chan struct{}),
		closedCh:   make(chan struct{}),
	}
	go kp.monitorEvents(ctx)
	return kp, nil
}

// Produce synchronously produces one message. A full producer queue is
// retried; the message MAY still be delivered after Produce returns a
// context error, so callers should design for duplicates when retrying.
func (p *Producer) Produce(ctx context.Context, topic string, key, value []byte) error {
	deliveryCh := make(chan kafka.Event, 1)
	defer close(deliveryCh)

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   key,
		Value: value,
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := p.producer.Produce(msg, deliveryCh)
		if err == nil {
			break
		}
		if kafkaErr, ok := err.(kafka.Error); ok && kafkaErr.Code() == kafka.ErrQueueFull {
			p.log.Warnw("producer queue full, retrying", "delay", queueFullRetryDelay)
			time.Sleep(queueFullRetryDelay)
			continue
		}
		return fmt.Errorf("failed to produce: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ev := <-deliveryCh:
		m, ok := ev.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event: %T", ev)
		}
		if err := m.TopicPartition.Error; err != nil {
			return fmt.Errorf("delivery failed: %w", err)
		}
		return nil
	}
}

// Errors returns a channel that receives at most one fatal error. After
// receiving an error the producer is no longer usable.
func (p *Producer) Errors() <-chan error {
	return p.errCh
}

// Close stops the event goroutine and flushes pending messages, losing
// whatever the timeout leaves behind. Calling Close multiple times does
// nothing.
func (p *Producer) Close(timeout time.Duration) {
	p.once.Do(func() {
		p.log.Info("closing kafka producer")
		defer close(p.errCh)

		close(p.closedCh)
		<-p.eventsDone

		pending := p.producer.Flush(int(timeout.Milliseconds()))
		if pending > 0 {
			p.log.Warnf("flush incomplete, messages will be lost. pending: %d", pending)
		}
		p.producer.Close()
	})
}

func (p *Producer) monitorEvents(ctx context.Context) {
	defer close(p.eventsDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.closedCh:
			return
		case ev, ok := <-p.producer.Events():
			if !ok {
				return
			}
			e, isErr := ev.(kafka.Error)
			if !isErr {
				continue
			}
			if e.IsFatal() || e.Code() == kafka.ErrAllBrokersDown {
				select {
				case p.errCh <- fmt.Errorf("fatal kafka producer error: %w", e):
				default:
				}
				return
			}
			p.log.Warnw("ignoring non-fatal kafka error", "code", e.Code(), "error", e)
		}
	}
}
