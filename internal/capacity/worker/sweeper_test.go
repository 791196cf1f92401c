package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "badal/pkg/domain"
	"badal/pkg/requestcontext"
)

type fakeAllocator struct {
	olderThan time.Duration
	actor     id.Actor
	err       error
}

func (f *fakeAllocator) SweepOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	f.olderThan = olderThan
	f.actor = requestcontext.Actor(ctx)
	return 2, f.err
}

func TestSweeperRunOnce(t *testing.T) {
	alloc := &fakeAllocator{}
	s, err := NewSweeper(alloc, 72*time.Hour, nil)
	require.NoError(t, err)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 72*time.Hour, alloc.olderThan)
	assert.Equal(t, id.RoleSystem, alloc.actor.Role)

	alloc.err = errors.New("db down")
	assert.Error(t, s.RunOnce(context.Background()))
}

func TestNewSweeperValidation(t *testing.T) {
	_, err := NewSweeper(nil, time.Hour, nil)
	assert.Error(t, err)
	_, err = NewSweeper(&fakeAllocator{}, 0, nil)
	assert.Error(t, err)
}
