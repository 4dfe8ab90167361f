package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/repository"
	"github.com/jwalitptl/settlement-api/pkg/errors"
)

const appointmentColumns = `id, patient_id, doctor_id, clinic_id, slot_id, slot_type, date, time,
	consultation_type, consultation_fee, status, payment_status, payment_id, payment_method, paid_at,
	queue_number, cancelled_at, cancelled_by, cancellation_reason, completed_at, created_at, updated_at`

type appointmentRepository struct {
	BaseRepository
}

func (r *appointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	query := `
		INSERT INTO appointments (
			id, patient_id, doctor_id, clinic_id, slot_id, slot_type, date, time,
			consultation_type, consultation_fee, status, payment_status, queue_number,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
	`
	if appointment.ID == uuid.Nil {
		appointment.ID = uuid.New()
	}
	if appointment.CreatedAt.IsZero() {
		appointment.CreatedAt = time.Now().UTC()
	}
	appointment.UpdatedAt = appointment.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		appointment.ID,
		appointment.PatientID,
		appointment.DoctorID,
		appointment.ClinicID,
		appointment.SlotID,
		appointment.SlotType,
		appointment.Date.Format(model.DateLayout),
		appointment.Time,
		appointment.ConsultationType,
		appointment.ConsultationFee,
		appointment.Status,
		appointment.PaymentStatus,
		appointment.QueueNumber,
		appointment.CreatedAt,
	)
	if err != nil {
		return mapError(err, "failed to create appointment")
	}
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`

	var appointment model.Appointment
	if err := r.db.GetContext(ctx, &appointment, query, id); err != nil {
		if isNoRows(err) {
			return nil, errors.NewNotFound("appointment", nil)
		}
		return nil, mapError(err, "failed to get appointment")
	}
	return &appointment, nil
}

// NextQueueNumber takes a transaction-scoped advisory lock on the doctor-day
// so concurrent bookings for the same day number one after another.
func (r *appointmentRepository) NextQueueNumber(ctx context.Context, doctorID uuid.UUID, date time.Time) (int, error) {
	day := date.Format(model.DateLayout)
	if _, err := r.db.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1 || ':' || $2, 0))`,
		doctorID.String(), day); err != nil {
		return 0, mapError(err, "failed to lock queue")
	}

	query := `
		SELECT GREATEST(COUNT(*), COALESCE(MAX(queue_number), 0)) + 1
		FROM appointments
		WHERE doctor_id = $1 AND date = $2 AND status <> 'cancelled'
	`
	var next int
	if err := r.db.GetContext(ctx, &next, query, doctorID, day); err != nil {
		return 0, mapError(err, "failed to compute queue number")
	}
	return next, nil
}

func (r *appointmentRepository) Confirm(ctx context.Context, id uuid.UUID, paymentID, paymentMethod string, at time.Time) (*model.Appointment, error) {
	query := `
		UPDATE appointments
		SET status = 'confirmed', payment_status = 'paid', payment_id = $2, payment_method = $3,
			paid_at = $4, updated_at = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + appointmentColumns

	var appointment model.Appointment
	if err := r.db.GetContext(ctx, &appointment, query, id, paymentID, paymentMethod, at); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotPending()
		}
		return nil, mapError(err, "failed to confirm appointment")
	}
	return &appointment, nil
}

func (r *appointmentRepository) Cancel(ctx context.Context, id uuid.UUID, actor *uuid.UUID, reason string, at time.Time) (*model.Appointment, error) {
	query := `
		UPDATE appointments
		SET status = 'cancelled', cancelled_at = $2, cancelled_by = $3,
			cancellation_reason = NULLIF($4, ''), updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'confirmed')
		RETURNING ` + appointmentColumns

	var appointment model.Appointment
	err := r.db.GetContext(ctx, &appointment, query, id, at, actor, reason)
	if err == nil {
		return &appointment, nil
	}
	if !isNoRows(err) {
		return nil, mapError(err, "failed to cancel appointment")
	}
	current, getErr := r.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, errors.NewConflict("appointment is already "+string(current.Status), nil)
}

func (r *appointmentRepository) Complete(ctx context.Context, id uuid.UUID, at time.Time) (*model.Appointment, error) {
	query := `
		UPDATE appointments
		SET status = 'completed', completed_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'confirmed'
		RETURNING ` + appointmentColumns

	var appointment model.Appointment
	err := r.db.GetContext(ctx, &appointment, query, id, at)
	if err == nil {
		return &appointment, nil
	}
	if !isNoRows(err) {
		return nil, mapError(err, "failed to complete appointment")
	}
	current, getErr := r.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, errors.NewConflict("appointment is "+string(current.Status)+", not confirmed", nil)
}
