// Package worker holds the reservation reconciliation job.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	id "badal/pkg/domain"
	"badal/pkg/requestcontext"
)

// Allocator is the part of the capacity service the sweep needs.
type Allocator interface {
	SweepOrphans(ctx context.Context, olderThan time.Duration) (int, error)
}

// Sweeper force-releases reservations whose booking never reported back.
type Sweeper struct {
	allocator Allocator
	timeout   time.Duration
	logger    *slog.Logger
	clock     func() time.Time
}

func NewSweeper(allocator Allocator, timeout time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if allocator == nil {
		return nil, errors.New("allocator is required")
	}
	if timeout <= 0 {
		return nil, errors.New("reservation timeout must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{allocator: allocator, timeout: timeout, logger: logger, clock: time.Now}, nil
}

// RunOnce performs one sweep as the system actor.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	ctx = requestcontext.WithActor(ctx, id.SystemActor)
	ctx = requestcontext.WithTime(ctx, s.clock())
	swept, err := s.allocator.SweepOrphans(ctx, s.timeout)
	if err != nil {
		return err
	}
	if swept > 0 {
		s.logger.InfoContext(ctx, "orphaned reservations released", "count", swept, "older_than", s.timeout.String())
	}
	return nil
}
