package event

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/repository"
	"github.com/jwalitptl/settlement-api/internal/repository/memory"
)

func TestEmit_RollsBackWithTransaction(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewService(nil)
	id := uuid.New()

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx repository.Repositories) error {
		require.NoError(t, svc.Emit(ctx, tx.Outbox(), "appointment", id, model.EventBookingCreated, map[string]string{"a": "b"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	events, err := store.Outbox().GetPendingEventsWithLock(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	require.NoError(t, store.WithTx(ctx, func(tx repository.Repositories) error {
		return svc.Emit(ctx, tx.Outbox(), "appointment", id, model.EventBookingCreated, map[string]string{"a": "b"})
	}))

	events, err = store.Outbox().GetPendingEventsWithLock(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].AggregateID)
	assert.Equal(t, model.EventBookingCreated, events[0].EventType)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "b", payload["a"])
}

func TestEmit_UnmarshalablePayload(t *testing.T) {
	store := memory.NewStore()
	err := NewService(nil).Emit(context.Background(), store.Outbox(), "x", uuid.New(), "x.y", make(chan int))
	assert.Error(t, err)
}
