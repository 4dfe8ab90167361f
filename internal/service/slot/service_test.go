package slot

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/repository/memory"
	"github.com/jwalitptl/settlement-api/internal/service/audit"
	"github.com/jwalitptl/settlement-api/pkg/errors"
	"github.com/jwalitptl/settlement-api/pkg/logger"
)

func newTestService() (*Service, *memory.Store) {
	store := memory.NewStore()
	return NewService(store, audit.NewService(store, logger.Nop()), logger.Nop()), store
}

func TestWindowTimes(t *testing.T) {
	online, err := DefaultWindow(model.SlotKindOnline).Times()
	require.NoError(t, err)
	assert.Len(t, online, 36)
	assert.Equal(t, [2]string{"08:00", "08:20"}, online[0])
	assert.Equal(t, [2]string{"19:40", "20:00"}, online[len(online)-1])

	clinic, err := DefaultWindow(model.SlotKindClinic).Times()
	require.NoError(t, err)
	assert.Len(t, clinic, 18)
	for _, tt := range clinic {
		assert.NotEqual(t, "13:00", tt[0])
		assert.NotEqual(t, "13:30", tt[0])
	}
	assert.Equal(t, [2]string{"12:30", "13:00"}, clinic[7])
	assert.Equal(t, [2]string{"14:00", "14:30"}, clinic[8])

	_, err = Window{Start: "10:00", End: "09:00", Duration: time.Minute}.Times()
	assert.True(t, errors.IsValidation(err))
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	doctor := uuid.New()
	clinic := uuid.New()

	// 2024-03-01 is a Friday; the weekend is skipped.
	req := &model.GenerateSlotsRequest{
		DoctorID:     doctor,
		ClinicID:     &clinic,
		Kind:         model.SlotKindClinic,
		From:         "2024-03-01",
		To:           "2024-03-04",
		SkipWeekends: true,
	}
	res, err := svc.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 36, res.Created)
	assert.Zero(t, res.Skipped)

	// Re-running skips the days that already have slots.
	res, err = svc.Generate(ctx, req)
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Equal(t, 2, res.Skipped)

	kind := model.SlotKindClinic
	slots, err := svc.ListAvailable(ctx, doctor, time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC), &kind)
	require.NoError(t, err)
	require.Len(t, slots, 18)
	for i := 1; i < len(slots); i++ {
		assert.Less(t, slots[i-1].StartTime, slots[i].StartTime)
	}

	saturday, err := svc.ListAvailable(ctx, doctor, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.Empty(t, saturday)
}

func TestGenerate_CustomWindow(t *testing.T) {
	svc, _ := newTestService()
	res, err := svc.Generate(context.Background(), &model.GenerateSlotsRequest{
		DoctorID:        uuid.New(),
		Kind:            model.SlotKindOnline,
		From:            "2024-03-01",
		To:              "2024-03-01",
		StartTime:       "10:00",
		EndTime:         "11:00",
		DurationMinutes: 15,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Created)
}

func TestGenerate_Validation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	clinic := uuid.New()

	tests := []struct {
		name string
		req  *model.GenerateSlotsRequest
	}{
		{"clinic without clinic id", &model.GenerateSlotsRequest{DoctorID: uuid.New(), Kind: model.SlotKindClinic, From: "2024-03-01", To: "2024-03-01"}},
		{"reversed range", &model.GenerateSlotsRequest{DoctorID: uuid.New(), ClinicID: &clinic, Kind: model.SlotKindClinic, From: "2024-03-02", To: "2024-03-01"}},
		{"too many days", &model.GenerateSlotsRequest{DoctorID: uuid.New(), Kind: model.SlotKindOnline, From: "2024-01-01", To: "2024-12-31"}},
		{"bad kind", &model.GenerateSlotsRequest{DoctorID: uuid.New(), Kind: "home", From: "2024-03-01", To: "2024-03-01"}},
		{"bad date", &model.GenerateSlotsRequest{DoctorID: uuid.New(), Kind: model.SlotKindOnline, From: "03/01/2024", To: "2024-03-01"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Generate(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err), err.Error())
		})
	}
}

func TestBlockUnblock(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()
	doctor := uuid.New()

	_, err := svc.Generate(ctx, &model.GenerateSlotsRequest{
		DoctorID: doctor, Kind: model.SlotKindOnline, From: "2024-03-01", To: "2024-03-01",
		StartTime: "10:00", EndTime: "10:40",
	})
	require.NoError(t, err)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	slots, err := svc.ListAvailable(ctx, doctor, day, nil)
	require.NoError(t, err)
	require.Len(t, slots, 2)

	blocked, err := svc.Block(ctx, slots[0].ID, nil)
	require.NoError(t, err)
	assert.True(t, blocked.IsBlocked)

	free, err := svc.ListAvailable(ctx, doctor, day, nil)
	require.NoError(t, err)
	require.Len(t, free, 1)
	assert.Equal(t, slots[1].ID, free[0].ID)

	_, err = store.Slots().Reserve(ctx, slots[0].ID, model.SlotKindOnline, uuid.New(), uuid.New(), time.Now())
	assert.True(t, errors.IsConflict(err))

	_, err = svc.Unblock(ctx, slots[0].ID, nil)
	require.NoError(t, err)
	free, err = svc.ListAvailable(ctx, doctor, day, nil)
	require.NoError(t, err)
	assert.Len(t, free, 2)

	// A booked slot cannot be blocked.
	_, err = store.Slots().Reserve(ctx, slots[1].ID, model.SlotKindOnline, uuid.New(), uuid.New(), time.Now())
	require.NoError(t, err)
	_, err = svc.Block(ctx, slots[1].ID, nil)
	assert.True(t, errors.IsConflict(err))

	_, err = svc.Block(ctx, uuid.New(), nil)
	assert.True(t, errors.IsNotFound(err))

	trail, err := audit.NewService(store, logger.Nop()).Trail(ctx, model.AuditEntitySlot, slots[0].ID)
	require.NoError(t, err)
	assert.Len(t, trail, 2)
}

func TestRelease_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()
	doctor := uuid.New()

	_, err := svc.Generate(ctx, &model.GenerateSlotsRequest{
		DoctorID: doctor, Kind: model.SlotKindOnline, From: "2024-03-01", To: "2024-03-01",
		StartTime: "10:00", EndTime: "10:20",
	})
	require.NoError(t, err)
	slots, err := svc.ListAvailable(ctx, doctor, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	id := slots[0].ID

	// Releasing a slot that was never booked changes nothing.
	free, err := store.Slots().Release(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, slots[0], free)

	_, err = store.Slots().Reserve(ctx, id, model.SlotKindOnline, uuid.New(), uuid.New(), time.Now())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		released, err := store.Slots().Release(ctx, id)
		require.NoError(t, err)
		assert.False(t, released.IsBooked)
		assert.Nil(t, released.AppointmentID)
		assert.Nil(t, released.BookedBy)
	}

	// The slot can be booked again.
	_, err = store.Slots().Reserve(ctx, id, model.SlotKindOnline, uuid.New(), uuid.New(), time.Now())
	assert.NoError(t, err)

	_, err = store.Slots().Release(ctx, uuid.New())
	assert.True(t, errors.IsNotFound(err))
}
