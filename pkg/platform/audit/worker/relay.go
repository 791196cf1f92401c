// Package worker relays committed outbox rows to Kafka.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"badal/pkg/platform/audit/store/postgres"
	"badal/pkg/platform/tx"
)

// Outbox is the relay's view of the outbox table.
type Outbox interface {
	ClaimPending(ctx context.Context, limit int) ([]postgres.Entry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}

// Producer publishes one record synchronously.
type Producer interface {
	Publish(ctx context.Context, key, value []byte) error
}

const defaultBatchSize = 100

// Relay moves outbox rows to the producer. Rows are claimed and marked in
// one transaction so a crash republishes rather than loses; consumers
// deduplicate on the payload id.
type Relay struct {
	outbox    Outbox
	producer  Producer
	runner    tx.Runner
	logger    *slog.Logger
	batchSize int
}

type Option func(*Relay)

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func NewRelay(outbox Outbox, producer Producer, runner tx.Runner, opts ...Option) (*Relay, error) {
	if outbox == nil {
		return nil, fmt.Errorf("outbox is required")
	}
	if producer == nil {
		return nil, fmt.Errorf("producer is required")
	}
	if runner == nil {
		runner = tx.NoopRunner{}
	}
	r := &Relay{
		outbox:    outbox,
		producer:  producer,
		runner:    runner,
		logger:    slog.Default(),
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RunOnce relays a single batch and returns how many rows were published.
// A publish failure stops the batch; rows published before it are marked.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	published := 0
	err := r.runner.RunInTx(ctx, func(ctx context.Context) error {
		entries, err := r.outbox.ClaimPending(ctx, r.batchSize)
		if err != nil {
			return err
		}
		done := make([]uuid.UUID, 0, len(entries))
		var publishErr error
		for _, e := range entries {
			if publishErr = r.producer.Publish(ctx, []byte(e.AggregateID), e.Payload); publishErr != nil {
				r.logger.WarnContext(ctx, "outbox publish failed",
					"outbox_id", e.ID,
					"event_type", e.EventType,
					"error", publishErr,
				)
				break
			}
			done = append(done, e.ID)
		}
		if err := r.outbox.MarkPublished(ctx, done); err != nil {
			return err
		}
		published = len(done)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return published, nil
}
