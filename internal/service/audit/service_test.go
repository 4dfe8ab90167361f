package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/repository/memory"
	"github.com/jwalitptl/settlement-api/pkg/logger"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewService(store, logger.Nop()), store
}

func TestRecord_LinksChain(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	actor := uuid.New()
	entity := uuid.New()

	first, err := svc.Record(ctx, store.Audit(), Entry{ActorID: &actor, Action: model.AuditActionLock, EntityType: model.AuditEntityLedgerEntry, EntityID: entity})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, GenesisHash, first.PreviousHash)
	assert.JSONEq(t, `{}`, string(first.Changes))

	second, err := svc.Record(ctx, store.Audit(), Entry{Action: model.AuditActionCancel, EntityType: model.AuditEntityAppointment, EntityID: uuid.New(), Changes: map[string]interface{}{"b": 1, "a": "x"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Sequence)
	assert.Equal(t, first.Hash, second.PreviousHash)
	assert.Equal(t, `{"a":"x","b":1}`, string(second.Changes))

	res, err := svc.Verify(ctx, 1, 0)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, int64(2), res.Checked)

	trail, err := svc.Trail(ctx, model.AuditEntityLedgerEntry, entity)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, first.ID, trail[0].ID)
}

func TestComputeHash_IgnoresJSONLayout(t *testing.T) {
	l := &model.AuditLog{
		Sequence:     3,
		Action:       model.AuditActionUpdate,
		EntityType:   model.AuditEntityPayout,
		EntityID:     uuid.New(),
		Changes:      json.RawMessage(`{"b": 2, "a": 1}`),
		PreviousHash: GenesisHash,
		CreatedAt:    time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	h1, err := ComputeHash(l)
	require.NoError(t, err)

	l.Changes = json.RawMessage(`{"a":1,"b":2}`)
	h2, err := ComputeHash(l)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	l.Changes = json.RawMessage(`{"a":1,"b":3}`)
	h3, err := ComputeHash(l)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestVerify_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	for i := 0; i < 2; i++ {
		_, err := svc.Record(ctx, store.Audit(), Entry{Action: model.AuditActionCreate, EntityType: model.AuditEntityPayout, EntityID: uuid.New()})
		require.NoError(t, err)
	}
	last, err := store.Audit().Last(ctx)
	require.NoError(t, err)

	forged := &model.AuditLog{
		Sequence:     3,
		Action:       model.AuditActionComplete,
		EntityType:   model.AuditEntityPayout,
		EntityID:     uuid.New(),
		Changes:      json.RawMessage(`{}`),
		PreviousHash: last.Hash,
		Hash:         GenesisHash,
	}
	require.NoError(t, store.Audit().Create(ctx, forged))

	res, err := svc.Verify(ctx, 1, 0)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	require.NotNil(t, res.BrokenAt)
	assert.Equal(t, int64(3), *res.BrokenAt)
	assert.Equal(t, forged.ID, *res.BrokenEntryID)

	// Verifying only the untouched prefix still passes.
	res, err = svc.Verify(ctx, 2, 2)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, int64(1), res.Checked)
}

func TestLog_OwnTransaction(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	require.NoError(t, svc.Log(ctx, Entry{Action: model.AuditActionLockedWrite, EntityType: model.AuditEntityLedgerEntry, EntityID: uuid.New()}))

	last, err := store.Audit().Last(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, model.AuditActionLockedWrite, last.Action)
}
