package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSinkConfig contains configurable parameters for the Kafka sink.
type KafkaSinkConfig struct {
	// Brokers is the list of Kafka broker addresses (host:port).
	Brokers []string

	// Topic receives every lifecycle event.
	Topic string

	// MaxAttempts is how many times a produce is retried on transient
	// error. Defaults to 3 if <= 0.
	MaxAttempts int

	// WriteTimeout is the per-attempt timeout. Defaults to 10s if zero.
	WriteTimeout time.Duration
}

// KafkaSink publishes lifecycle events to Kafka, keyed by promotion id so
// events for one promotion stay ordered within a partition.
type KafkaSink struct {
	writer      *kafka.Writer
	maxAttempts int
}

func NewKafkaSink(cfg KafkaSinkConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	})
	return &KafkaSink{writer: w, maxAttempts: cfg.MaxAttempts}, nil
}

// Attach subscribes the sink to every lifecycle event on pub.
func (s *KafkaSink) Attach(pub *Publisher) {
	pub.SubscribeAll(func(evt Event) {
		if err := s.produce(context.Background(), evt); err != nil {
			log.Printf("[events] kafka produce %s: %v", evt.Name, err)
		}
	})
}

func (s *KafkaSink) produce(ctx context.Context, evt Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(evt.Promotion.ID),
		Value: value,
		Time:  evt.TS,
	}

	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := s.writer.WriteMessages(attemptCtx, msg)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(backoff)
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("produce failed after %d attempts: %w", s.maxAttempts, lastErr)
}

// Close shuts down the underlying writer.
func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
