package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/pkg/money"
)

type SlotKind string

const (
	SlotKindOnline SlotKind = "online"
	SlotKindClinic SlotKind = "clinic"
)

func (k SlotKind) Valid() bool {
	return k == SlotKindOnline || k == SlotKindClinic
}

// ConsultationType is the commission category a slot kind is billed under.
func (k SlotKind) ConsultationType() ConsultationType {
	if k == SlotKindClinic {
		return ConsultationTypeInClinic
	}
	return ConsultationTypeOnline
}

// Slot is one bookable (doctor, clinic, date, start time, kind) unit.
// ConsultationFee is the price the doctor published for it; zero means the
// slot is unpriced and a trusted caller supplies the fee at booking.
type Slot struct {
	ID              uuid.UUID    `json:"id" db:"id"`
	DoctorID        uuid.UUID    `json:"doctor_id" db:"doctor_id"`
	ClinicID        *uuid.UUID   `json:"clinic_id,omitempty" db:"clinic_id"`
	Kind            SlotKind     `json:"kind" db:"kind"`
	Date            time.Time    `json:"date" db:"date"`
	StartTime       string       `json:"start_time" db:"start_time"`
	EndTime         string       `json:"end_time" db:"end_time"`
	DurationMinutes int          `json:"duration_minutes" db:"duration_minutes"`
	ConsultationFee money.Amount `json:"consultation_fee,omitempty" db:"consultation_fee"`
	IsBooked        bool         `json:"is_booked" db:"is_booked"`
	IsBlocked       bool         `json:"is_blocked" db:"is_blocked"`
	AppointmentID   *uuid.UUID   `json:"appointment_id,omitempty" db:"appointment_id"`
	BookedBy        *uuid.UUID   `json:"booked_by,omitempty" db:"booked_by"`
	BookedAt        *time.Time   `json:"booked_at,omitempty" db:"booked_at"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}

// Available reports whether the slot can be reserved right now.
func (s *Slot) Available() bool {
	return !s.IsBooked && !s.IsBlocked
}

// ClearBooking resets the reservation fields.
func (s *Slot) ClearBooking() {
	s.IsBooked = false
	s.AppointmentID = nil
	s.BookedBy = nil
	s.BookedAt = nil
}

type GenerateSlotsRequest struct {
	DoctorID        uuid.UUID    `json:"doctor_id" binding:"required" validate:"required"`
	ClinicID        *uuid.UUID   `json:"clinic_id"`
	Kind            SlotKind     `json:"kind" binding:"required" validate:"required,oneof=online clinic"`
	From            string       `json:"from" binding:"required" validate:"required,datetime=2006-01-02"`
	To              string       `json:"to" binding:"required" validate:"required,datetime=2006-01-02"`
	StartTime       string       `json:"start_time" validate:"omitempty,datetime=15:04"`
	EndTime         string       `json:"end_time" validate:"omitempty,datetime=15:04"`
	DurationMinutes int          `json:"duration_minutes" validate:"omitempty,min=5,max=240"`
	ConsultationFee money.Amount `json:"consultation_fee" validate:"min=0"`
	SkipWeekends    bool         `json:"skip_weekends"`
}

type GenerateSlotsResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}
