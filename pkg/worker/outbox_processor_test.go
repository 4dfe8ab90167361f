package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/repository/memory"
	"github.com/jwalitptl/settlement-api/pkg/logger"
	"github.com/jwalitptl/settlement-api/pkg/messaging"
	"github.com/jwalitptl/settlement-api/pkg/metrics"
)

type fakeBroker struct {
	mu        sync.Mutex
	failures  int
	published map[string][][]byte
}

func (b *fakeBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures > 0 {
		b.failures--
		return errors.New("broker unavailable")
	}
	if b.published == nil {
		b.published = make(map[string][][]byte)
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBroker) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *fakeBroker) Close() error { return nil }

func newEvent(t *testing.T, store *memory.Store, eventType string) *model.OutboxEvent {
	t.Helper()
	ev, err := model.NewOutboxEvent("appointment", uuid.New(), eventType, map[string]string{"k": "v"})
	require.NoError(t, err)
	require.NoError(t, store.Outbox().Create(context.Background(), ev))
	return ev
}

func newProcessor(store *memory.Store, broker messaging.Broker, attempts int) *OutboxProcessor {
	return NewOutboxProcessor(store, broker, OutboxProcessorConfig{
		BatchSize:     10,
		PollInterval:  time.Second,
		RetryAttempts: attempts,
		RetryDelay:    time.Hour,
	}, logger.Nop(), metrics.NewNop())
}

func TestOutboxProcessor_PublishesEnvelope(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	broker := &fakeBroker{}
	ev := newEvent(t, store, model.EventBookingCreated)

	n, err := newProcessor(store, broker, 3).ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, broker.published[model.EventBookingCreated], 1)
	var msg messaging.Message
	require.NoError(t, json.Unmarshal(broker.published[model.EventBookingCreated][0], &msg))
	assert.Equal(t, ev.ID.String(), msg.ID)
	assert.Equal(t, "appointment", msg.AggregateType)
	assert.JSONEq(t, `{"k":"v"}`, string(msg.Payload))

	pending, err := store.Outbox().GetPendingEventsWithLock(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOutboxProcessor_SchedulesRetry(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	broker := &fakeBroker{failures: 1}
	newEvent(t, store, model.EventLedgerAppended)

	n, err := newProcessor(store, broker, 3).ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Retry is an hour away, so nothing is due yet.
	pending, err := store.Outbox().GetPendingEventsWithLock(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Empty(t, broker.published)
}

func TestOutboxProcessor_MarksFailedAfterLastAttempt(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	broker := &fakeBroker{failures: 1}
	newEvent(t, store, model.EventPayoutCreated)

	p := newProcessor(store, broker, 1)
	n, err := p.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// A failed event has no retry time but is never picked up again.
	n, err = p.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, broker.published)

	// Cleanup only removes processed events.
	removed, err := NewOutboxCleanupWorker(store.Outbox(), 0, time.Minute, logger.Nop()).RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestOutboxCleanupWorker_DeletesProcessed(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	newEvent(t, store, model.EventBookingConfirmed)

	_, err := newProcessor(store, &fakeBroker{}, 3).ProcessBatch(ctx)
	require.NoError(t, err)

	w := NewOutboxCleanupWorker(store.Outbox(), time.Hour, time.Minute, logger.Nop())
	n, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	w.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
