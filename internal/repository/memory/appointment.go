package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/repository"
	"github.com/jwalitptl/settlement-api/pkg/errors"
)

type appointmentRepository struct {
	view
}

func (r appointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	defer r.lock()()

	if appointment == nil {
		return errNilRecord("appointment")
	}
	if appointment.ID == uuid.Nil {
		appointment.ID = uuid.New()
	}
	if _, exists := r.s.d.appointments[appointment.ID]; exists {
		return errors.NewConflict("appointment already exists", nil)
	}
	if appointment.Status != model.AppointmentStatusCancelled {
		day := appointment.Date.Format(model.DateLayout)
		for _, a := range r.s.d.appointments {
			if a.DoctorID == appointment.DoctorID && a.Date.Format(model.DateLayout) == day &&
				a.Status != model.AppointmentStatusCancelled && a.QueueNumber == appointment.QueueNumber {
				return errors.NewConflict("queue number already taken", nil)
			}
		}
	}
	r.stamp(&appointment.CreatedAt)
	appointment.UpdatedAt = appointment.CreatedAt
	r.s.d.appointments[appointment.ID] = *appointment
	return nil
}

func (r appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	defer r.lock()()

	a, ok := r.s.d.appointments[id]
	if !ok {
		return nil, errors.NewNotFound("appointment", nil)
	}
	return &a, nil
}

func (r appointmentRepository) NextQueueNumber(ctx context.Context, doctorID uuid.UUID, date time.Time) (int, error) {
	defer r.lock()()

	day := date.Format(model.DateLayout)
	count, highest := 0, 0
	for _, a := range r.s.d.appointments {
		if a.DoctorID != doctorID || a.Date.Format(model.DateLayout) != day || a.Status == model.AppointmentStatusCancelled {
			continue
		}
		count++
		if a.QueueNumber > highest {
			highest = a.QueueNumber
		}
	}
	if highest > count {
		count = highest
	}
	return count + 1, nil
}

func (r appointmentRepository) Confirm(ctx context.Context, id uuid.UUID, paymentID, paymentMethod string, at time.Time) (*model.Appointment, error) {
	defer r.lock()()

	a, ok := r.s.d.appointments[id]
	if !ok || a.Status != model.AppointmentStatusPending {
		return nil, repository.ErrNotPending()
	}
	a.Status = model.AppointmentStatusConfirmed
	a.PaymentStatus = model.PaymentStatusPaid
	a.PaymentID = &paymentID
	a.PaymentMethod = &paymentMethod
	a.PaidAt = &at
	a.UpdatedAt = at
	r.s.d.appointments[id] = a
	return &a, nil
}

func (r appointmentRepository) Cancel(ctx context.Context, id uuid.UUID, actor *uuid.UUID, reason string, at time.Time) (*model.Appointment, error) {
	defer r.lock()()

	a, ok := r.s.d.appointments[id]
	if !ok {
		return nil, errors.NewNotFound("appointment", nil)
	}
	if a.Status.Terminal() {
		return nil, errors.NewConflict("appointment is already "+string(a.Status), nil)
	}
	a.Status = model.AppointmentStatusCancelled
	a.CancelledAt = &at
	a.CancelledBy = actor
	if reason != "" {
		a.CancellationReason = &reason
	}
	a.UpdatedAt = at
	r.s.d.appointments[id] = a
	return &a, nil
}

func (r appointmentRepository) Complete(ctx context.Context, id uuid.UUID, at time.Time) (*model.Appointment, error) {
	defer r.lock()()

	a, ok := r.s.d.appointments[id]
	if !ok {
		return nil, errors.NewNotFound("appointment", nil)
	}
	if a.Status != model.AppointmentStatusConfirmed {
		return nil, errors.NewConflict("appointment is "+string(a.Status)+", not confirmed", nil)
	}
	a.Status = model.AppointmentStatusCompleted
	a.CompletedAt = &at
	a.UpdatedAt = at
	r.s.d.appointments[id] = a
	return &a, nil
}
