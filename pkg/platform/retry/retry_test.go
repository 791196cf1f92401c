package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"badal/pkg/platform/sentinel"
)

var fastPolicy = Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy, func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("serialization failure: %w", sentinel.ErrUnavailable)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsAtAttemptBudget(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy, func(context.Context) error {
		calls++
		return sentinel.ErrUnavailable
	})
	require.ErrorIs(t, err, sentinel.ErrUnavailable)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	boom := errors.New("constraint violated")
	err := Do(context.Background(), fastPolicy, func(context.Context) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}
