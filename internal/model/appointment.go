package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/pkg/money"
)

type AppointmentStatus string

const (
	AppointmentStatusPending   AppointmentStatus = "pending"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
)

// Terminal reports whether no further transitions are allowed.
func (s AppointmentStatus) Terminal() bool {
	return s == AppointmentStatusCancelled || s == AppointmentStatusCompleted
}

type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
)

type ConsultationType string

const (
	ConsultationTypeOnline   ConsultationType = "online"
	ConsultationTypeInClinic ConsultationType = "in_clinic"
)

func (t ConsultationType) Valid() bool {
	return t == ConsultationTypeOnline || t == ConsultationTypeInClinic
}

type Appointment struct {
	ID                 uuid.UUID         `json:"id" db:"id"`
	PatientID          uuid.UUID         `json:"patient_id" db:"patient_id"`
	DoctorID           uuid.UUID         `json:"doctor_id" db:"doctor_id"`
	ClinicID           *uuid.UUID        `json:"clinic_id,omitempty" db:"clinic_id"`
	SlotID             uuid.UUID         `json:"slot_id" db:"slot_id"`
	SlotType           SlotKind          `json:"slot_type" db:"slot_type"`
	Date               time.Time         `json:"date" db:"date"`
	Time               string            `json:"time" db:"time"`
	ConsultationType   ConsultationType  `json:"consultation_type" db:"consultation_type"`
	ConsultationFee    money.Amount      `json:"consultation_fee" db:"consultation_fee"`
	Status             AppointmentStatus `json:"status" db:"status"`
	PaymentStatus      PaymentStatus     `json:"payment_status" db:"payment_status"`
	PaymentID          *string           `json:"payment_id,omitempty" db:"payment_id"`
	PaymentMethod      *string           `json:"payment_method,omitempty" db:"payment_method"`
	PaidAt             *time.Time        `json:"paid_at,omitempty" db:"paid_at"`
	QueueNumber        int               `json:"queue_number" db:"queue_number"`
	CancelledAt        *time.Time        `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancelledBy        *uuid.UUID        `json:"cancelled_by,omitempty" db:"cancelled_by"`
	CancellationReason *string           `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt          time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at" db:"updated_at"`
}

// Request/Response types

// CreateBookingRequest books a slot. A priced slot sets the fee every ledger
// figure derives from; ConsultationFee may only restate it. For an unpriced
// slot the fee must come from a trusted caller, never from the patient.
type CreateBookingRequest struct {
	PatientID       uuid.UUID    `json:"patient_id" binding:"required" validate:"required"`
	SlotID          uuid.UUID    `json:"slot_id" binding:"required" validate:"required"`
	SlotType        SlotKind     `json:"slot_type" binding:"required" validate:"required,oneof=online clinic"`
	ConsultationFee money.Amount `json:"consultation_fee,omitempty" validate:"min=0"`
}

// PaymentDetails carries the settled payment and the breakdown already
// resolved by the commission calculator.
type PaymentDetails struct {
	PatientID     *uuid.UUID         `json:"patient_id,omitempty"`
	PaymentID     string             `json:"payment_id" validate:"required,max=128"`
	PaymentMethod string             `json:"payment_method" validate:"required,max=64"`
	Breakdown     FinancialBreakdown `json:"breakdown"`
}

type ConfirmBookingRequest struct {
	PatientID     *uuid.UUID `json:"patient_id,omitempty"`
	PaymentID     string     `json:"payment_id" binding:"required,max=128"`
	PaymentMethod string     `json:"payment_method" binding:"required,max=64"`
}

type CancelBookingRequest struct {
	Reason string `json:"reason" binding:"max=500" validate:"max=500"`
}

// BookingResult bundles the appointment with the slot it holds.
type BookingResult struct {
	Appointment *Appointment `json:"appointment"`
	Slot        *Slot        `json:"slot"`
}

// CancellationResult reports what a cancellation wrote.
type CancellationResult struct {
	Appointment *Appointment `json:"appointment"`
	Slot        *Slot        `json:"slot"`
	RefundEntry *LedgerEntry `json:"refund_entry,omitempty"`
}
