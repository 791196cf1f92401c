package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	id "badal/pkg/domain"
	audit "badal/pkg/platform/audit"
	"badal/pkg/platform/audit/store/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	providerID := id.ProviderID(uuid.New())
	event := audit.Event{
		ProviderID: providerID,
		Action:     string(audit.EventSubmitted),
	}

	err := pub.Emit(context.Background(), event)
	require.NoError(t, err)

	events, err := pub.List(context.Background(), providerID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventSubmitted), events[0].Action)
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))
	defer pub.Close()

	providerID := id.ProviderID(uuid.New())
	event := audit.Event{
		ProviderID: providerID,
		Action:     string(audit.EventApproved),
	}

	err := pub.Emit(context.Background(), event)
	require.NoError(t, err)

	// Wait for async processing
	time.Sleep(100 * time.Millisecond)

	events, err := pub.List(context.Background(), providerID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventApproved), events[0].Action)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	providerID := id.ProviderID(uuid.New())

	// Emit multiple events
	for range 10 {
		event := audit.Event{
			ProviderID: providerID,
			Action:     string(audit.EventSubmitted),
		}
		err := pub.Emit(context.Background(), event)
		require.NoError(t, err)
	}

	// Close should drain all events
	pub.Close()

	events, err := store.ListByProvider(context.Background(), providerID)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_BufferFull_DropsEvent(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer pub.Close()

	providerID := id.ProviderID(uuid.New())

	// Fill the buffer with concurrent writes
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			event := audit.Event{
				ProviderID: providerID,
				Action:     string(audit.EventSubmitted),
			}
			_ = pub.Emit(context.Background(), event)
		}()
	}
	wg.Wait()

	// Some events should have been dropped (buffer size 1)
	// Just verify no panic and publisher still works
}

func TestPublisher_SetsTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	providerID := id.ProviderID(uuid.New())
	event := audit.Event{
		ProviderID: providerID,
		Action:     string(audit.EventSubmitted),
		// Timestamp not set
	}

	before := time.Now()
	err := pub.Emit(context.Background(), event)
	require.NoError(t, err)
	after := time.Now()

	events, err := pub.List(context.Background(), providerID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.True(t, !events[0].Timestamp.Before(before), "timestamp should be >= before")
	assert.True(t, !events[0].Timestamp.After(after), "timestamp should be <= after")
}

func TestPublisher_PreservesExistingTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	providerID := id.ProviderID(uuid.New())
	customTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	event := audit.Event{
		ProviderID: providerID,
		Action:     string(audit.EventSubmitted),
		Timestamp:  customTime,
	}

	err := pub.Emit(context.Background(), event)
	require.NoError(t, err)

	events, err := pub.List(context.Background(), providerID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, customTime, events[0].Timestamp)
}

func TestPublisher_ContextCancellation(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer pub.Close()

	// Fill buffer first
	_ = pub.Emit(context.Background(), audit.Event{
		ProviderID: id.ProviderID(uuid.New()),
		Action:     string(audit.EventSubmitted),
	})

	// Wait for the event to be processed
	time.Sleep(50 * time.Millisecond)

	// Fill buffer again
	_ = pub.Emit(context.Background(), audit.Event{
		ProviderID: id.ProviderID(uuid.New()),
		Action:     string(audit.EventSubmitted),
	})

	// Try to emit with cancelled context when buffer is full
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pub.Emit(ctx, audit.Event{
		ProviderID: id.ProviderID(uuid.New()),
		Action:     string(audit.EventSubmitted),
	})

	// Should either succeed (buffer not full) or return context error or buffer full error
	if err != nil {
		assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, ErrBufferFull),
			"expected context.Canceled or buffer full error, got: %v", err)
	}
}

func TestPublisher_MultipleEvents(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	providerID := id.ProviderID(uuid.New())

	events := []audit.Event{
		{ProviderID: providerID, Action: string(audit.EventSubmitted)},
		{ProviderID: providerID, Action: string(audit.EventSlotReserved)},
		{ProviderID: providerID, Action: string(audit.EventCertificateIssued)},
	}

	for _, event := range events {
		err := pub.Emit(context.Background(), event)
		require.NoError(t, err)
	}

	result, err := pub.List(context.Background(), providerID)
	require.NoError(t, err)
	require.Len(t, result, 3)

	assert.Equal(t, string(audit.EventSubmitted), result[0].Action)
	assert.Equal(t, string(audit.EventSlotReserved), result[1].Action)
	assert.Equal(t, string(audit.EventCertificateIssued), result[2].Action)
}

func TestPublisher_DifferentUsers(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	providerA := id.ProviderID(uuid.New())
	providerB := id.ProviderID(uuid.New())

	err := pub.Emit(context.Background(), audit.Event{
		ProviderID: providerA,
		Action:     string(audit.EventSubmitted),
	})
	require.NoError(t, err)

	err = pub.Emit(context.Background(), audit.Event{
		ProviderID: providerB,
		Action:     string(audit.EventApproved),
	})
	require.NoError(t, err)

	events1, err := pub.List(context.Background(), providerA)
	require.NoError(t, err)
	require.Len(t, events1, 1)
	assert.Equal(t, string(audit.EventSubmitted), events1[0].Action)

	events2, err := pub.List(context.Background(), providerB)
	require.NoError(t, err)
	require.Len(t, events2, 1)
	assert.Equal(t, string(audit.EventApproved), events2[0].Action)
}

func TestPublisher_DerivesCategoryFromAction(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	providerID := id.ProviderID(uuid.New())
	require.NoError(t, pub.Emit(context.Background(), audit.Event{
		ProviderID: providerID,
		Action:     string(audit.EventRitualFlagged),
	}))

	events, err := pub.List(context.Background(), providerID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
}
