package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/pkg/errors"
)

const slotColumns = `id, doctor_id, clinic_id, kind, date, start_time, end_time, duration_minutes,
	consultation_fee, is_booked, is_blocked, appointment_id, booked_by, booked_at, created_at, updated_at`

type slotRepository struct {
	BaseRepository
}

func (r *slotRepository) CreateBatch(ctx context.Context, slots []*model.Slot) (int, error) {
	query := `
		INSERT INTO slots (
			id, doctor_id, clinic_id, kind, date, start_time, end_time,
			duration_minutes, consultation_fee, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT DO NOTHING
	`
	created := 0
	now := time.Now().UTC()
	for _, slot := range slots {
		if slot.ID == uuid.Nil {
			slot.ID = uuid.New()
		}
		if slot.CreatedAt.IsZero() {
			slot.CreatedAt = now
		}
		slot.UpdatedAt = slot.CreatedAt

		result, err := r.db.ExecContext(ctx, query,
			slot.ID,
			slot.DoctorID,
			slot.ClinicID,
			slot.Kind,
			slot.Date,
			slot.StartTime,
			slot.EndTime,
			slot.DurationMinutes,
			slot.ConsultationFee,
			slot.CreatedAt,
		)
		if err != nil {
			return created, mapError(err, "failed to create slot")
		}
		if n, _ := result.RowsAffected(); n > 0 {
			created++
		}
	}
	return created, nil
}

func (r *slotRepository) Get(ctx context.Context, id uuid.UUID) (*model.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE id = $1`

	var slot model.Slot
	if err := r.db.GetContext(ctx, &slot, query, id); err != nil {
		if isNoRows(err) {
			return nil, errors.NewNotFound("slot", nil)
		}
		return nil, mapError(err, "failed to get slot")
	}
	return &slot, nil
}

// Reserve is one conditional UPDATE; a slot that is booked, blocked or of
// another kind matches no row and nothing is written.
func (r *slotRepository) Reserve(ctx context.Context, id uuid.UUID, kind model.SlotKind, bookedBy, appointmentID uuid.UUID, at time.Time) (*model.Slot, error) {
	query := `
		UPDATE slots
		SET is_booked = TRUE, booked_by = $3, appointment_id = $4, booked_at = $5, updated_at = $5
		WHERE id = $1 AND kind = $2 AND NOT is_booked AND NOT is_blocked
		RETURNING ` + slotColumns

	var slot model.Slot
	err := r.db.GetContext(ctx, &slot, query, id, kind, bookedBy, appointmentID, at)
	if err == nil {
		return &slot, nil
	}
	if !isNoRows(err) {
		return nil, mapError(err, "failed to reserve slot")
	}

	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM slots WHERE id = $1)`, id); err != nil {
		return nil, mapError(err, "failed to check slot")
	}
	if !exists {
		return nil, errors.NewNotFound("slot", nil)
	}
	return nil, errors.NewConflict("slot unavailable", nil)
}

// Release frees a booked slot. A slot that is already free is returned as is.
func (r *slotRepository) Release(ctx context.Context, id uuid.UUID) (*model.Slot, error) {
	query := `
		UPDATE slots
		SET is_booked = FALSE, booked_by = NULL, appointment_id = NULL, booked_at = NULL, updated_at = NOW()
		WHERE id = $1 AND (is_booked OR appointment_id IS NOT NULL)
		RETURNING ` + slotColumns

	var slot model.Slot
	if err := r.db.GetContext(ctx, &slot, query, id); err != nil {
		if isNoRows(err) {
			return r.Get(ctx, id)
		}
		return nil, mapError(err, "failed to release slot")
	}
	return &slot, nil
}

func (r *slotRepository) SetBlocked(ctx context.Context, id uuid.UUID, blocked bool) (*model.Slot, error) {
	query := `
		UPDATE slots
		SET is_blocked = $2, updated_at = NOW()
		WHERE id = $1 AND NOT is_booked
		RETURNING ` + slotColumns

	var slot model.Slot
	err := r.db.GetContext(ctx, &slot, query, id, blocked)
	if err == nil {
		return &slot, nil
	}
	if !isNoRows(err) {
		return nil, mapError(err, "failed to update slot")
	}
	if _, getErr := r.Get(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, errors.NewConflict("slot is booked", nil)
}

func (r *slotRepository) ListAvailable(ctx context.Context, doctorID uuid.UUID, date time.Time, kind *model.SlotKind) ([]*model.Slot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE doctor_id = $1 AND date = $2 AND NOT is_booked AND NOT is_blocked
		AND ($3::text IS NULL OR kind = $3)
		ORDER BY start_time ASC, kind ASC
	`
	var kindArg *string
	if kind != nil {
		k := string(*kind)
		kindArg = &k
	}

	slots := []*model.Slot{}
	if err := r.db.SelectContext(ctx, &slots, query, doctorID, date.Format(model.DateLayout), kindArg); err != nil {
		return nil, mapError(err, "failed to list slots")
	}
	return slots, nil
}

func (r *slotRepository) CountForDay(ctx context.Context, doctorID uuid.UUID, kind model.SlotKind, date time.Time) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM slots WHERE doctor_id = $1 AND kind = $2 AND date = $3`,
		doctorID, kind, date.Format(model.DateLayout))
	if err != nil {
		return 0, mapError(err, "failed to count slots")
	}
	return n, nil
}
