// Package kafka publishes audit records with franz-go.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"badal/internal/platform/config"
	"badal/pkg/platform/circuit"
)

// ErrCircuitOpen is returned while the broker breaker is open.
var ErrCircuitOpen = errors.New("kafka circuit open")

// Producer writes records to a single topic synchronously.
type Producer struct {
	client  *kgo.Client
	topic   string
	breaker *circuit.Breaker
}

// NewProducer connects to the brokers. Returns nil when no brokers are
// configured.
func NewProducer(ctx context.Context, cfg config.KafkaConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.AuditTopic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.ProduceRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka ping failed: %w", err)
	}
	return &Producer{
		client:  client,
		topic:   cfg.AuditTopic,
		breaker: circuit.New("kafka-audit", circuit.WithFailureThreshold(3), circuit.WithSuccessThreshold(1)),
	}, nil
}

// EnsureTopic creates the audit topic if it does not exist.
func (p *Producer) EnsureTopic(ctx context.Context, partitions int32, replicas int16) error {
	adm := kadm.NewClient(p.client)
	resp, err := adm.CreateTopics(ctx, partitions, replicas, nil, p.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", p.topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Publish produces one record and waits for the broker ack. While the
// breaker is open it fails fast; the outbox keeps the row for the next run.
func (p *Producer) Publish(ctx context.Context, key, value []byte) error {
	if p.breaker.IsOpen() {
		// One probe per call lets the breaker close once the broker is back.
		if err := p.client.Ping(ctx); err != nil {
			return ErrCircuitOpen
		}
		p.breaker.RecordSuccess()
	}
	rec := &kgo.Record{Topic: p.topic, Key: key, Value: value}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		p.breaker.RecordFailure()
		return fmt.Errorf("produce to %s: %w", p.topic, err)
	}
	p.breaker.RecordSuccess()
	return nil
}

func (p *Producer) Close() {
	p.client.Close()
}
