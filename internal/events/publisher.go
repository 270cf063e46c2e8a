// Package events streams lifecycle state transitions to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event is one lifecycle state transition of a pull run.
type Event struct {
	RunID string    `json:"runId"`
	Model string    `json:"model"`
	State string    `json:"state"`
	Error string    `json:"error,omitempty"`
	Ts    time.Time `json:"ts"`
}

// Publisher emits lifecycle events. Publishing is best-effort everywhere it
// is called; a failed publish never affects the run.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NopPublisher is used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// KafkaPublisherConfig contains configurable parameters for the Kafka
// publisher.
type KafkaPublisherConfig struct {
	Brokers []string
	Topic   string

	// MaxAttempts is how many times a publish is retried on transient
	// error. Defaults to 3 if <= 0.
	MaxAttempts int

	// WriteTimeout is the per-attempt timeout. Defaults to 10s if zero.
	WriteTimeout time.Duration
}

// KafkaPublisher wraps a kafka-go Writer with bounded retries. Events are
// keyed by run ID so one run's transitions stay ordered within a partition.
type KafkaPublisher struct {
	writer      *kafka.Writer
	maxAttempts int
}

func NewKafkaPublisher(cfg KafkaPublisherConfig) (*KafkaPublisher, error) {
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
	return &KafkaPublisher{writer: w, maxAttempts: cfg.MaxAttempts}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.Ts.IsZero() {
		ev.Ts = time.Now().UTC()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.RunID),
		Value: value,
		Time:  ev.Ts,
	}

	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := p.writer.WriteMessages(attemptCtx, msg)
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
	return fmt.Errorf("publish failed after %d attempts: %w", p.maxAttempts, lastErr)
}

func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
