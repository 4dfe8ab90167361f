package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jwalitptl/settlement-api/pkg/money"
)

type TransactionType string

const (
	TransactionTypeBookingPayment TransactionType = "booking_payment"
	TransactionTypeRefund         TransactionType = "refund"
)

type LedgerStatus string

const (
	LedgerStatusPending       LedgerStatus = "pending"
	LedgerStatusCompleted     LedgerStatus = "completed"
	LedgerStatusRefunded      LedgerStatus = "refunded"
	LedgerStatusCancelled     LedgerStatus = "cancelled"
	LedgerStatusPendingRefund LedgerStatus = "pending_refund"
)

// EntryPayoutStatus tracks a ledger entry through payout batching.
type EntryPayoutStatus string

const (
	EntryPayoutPending    EntryPayoutStatus = "pending"
	EntryPayoutScheduled  EntryPayoutStatus = "scheduled"
	EntryPayoutProcessing EntryPayoutStatus = "processing"
	EntryPayoutCompleted  EntryPayoutStatus = "completed"
	EntryPayoutFailed     EntryPayoutStatus = "failed"
)

// LedgerEntry is the snapshot of one settled money movement. Monetary fields
// are written once and never recomputed.
type LedgerEntry struct {
	ID                   uuid.UUID         `json:"id" db:"id"`
	AppointmentID        uuid.UUID         `json:"appointment_id" db:"appointment_id"`
	DoctorID             uuid.UUID         `json:"doctor_id" db:"doctor_id"`
	ClinicID             *uuid.UUID        `json:"clinic_id,omitempty" db:"clinic_id"`
	PatientID            uuid.UUID         `json:"patient_id" db:"patient_id"`
	TransactionType      TransactionType   `json:"transaction_type" db:"transaction_type"`
	ConsultationType     ConsultationType  `json:"consultation_type" db:"consultation_type"`
	ConsultationFee      money.Amount      `json:"consultation_fee" db:"consultation_fee"`
	CommissionType       CommissionType    `json:"commission_type" db:"commission_type"`
	CommissionRate       decimal.Decimal   `json:"commission_rate" db:"commission_rate"`
	CommissionAmount     money.Amount      `json:"commission_amount" db:"commission_amount"`
	IntroOfferType       IntroOfferType    `json:"intro_offer_type,omitempty" db:"intro_offer_type"`
	GSTRate              decimal.Decimal   `json:"gst_rate" db:"gst_rate"`
	GSTAmount            money.Amount      `json:"gst_amount" db:"gst_amount"`
	GatewayFeeAmount     money.Amount      `json:"gateway_fee_amount" db:"gateway_fee_amount"`
	GatewayGST           money.Amount      `json:"gateway_gst" db:"gateway_gst"`
	GatewayTotal         money.Amount      `json:"gateway_total" db:"gateway_total"`
	TotalPatientPaid     money.Amount      `json:"total_patient_paid" db:"total_patient_paid"`
	NetDoctorPayout      money.Amount      `json:"net_doctor_payout" db:"net_doctor_payout"`
	NetPlatformRevenue   money.Amount      `json:"net_platform_revenue" db:"net_platform_revenue"`
	PlatformGSTLiability money.Amount      `json:"platform_gst_liability" db:"platform_gst_liability"`
	ConfigID             *uuid.UUID        `json:"config_id,omitempty" db:"config_id"`
	Status               LedgerStatus      `json:"status" db:"status"`
	PayoutStatus         EntryPayoutStatus `json:"payout_status" db:"payout_status"`
	PayoutID             *uuid.UUID        `json:"payout_id,omitempty" db:"payout_id"`
	PaymentID            *string           `json:"payment_id,omitempty" db:"payment_id"`
	PaymentMethod        *string           `json:"payment_method,omitempty" db:"payment_method"`
	RefundOfID           *uuid.UUID        `json:"refund_of_id,omitempty" db:"refund_of_id"`
	RefundReason         *string           `json:"refund_reason,omitempty" db:"refund_reason"`
	IsLocked             bool              `json:"is_locked" db:"is_locked"`
	LockedAt             *time.Time        `json:"locked_at,omitempty" db:"locked_at"`
	LockedBy             *uuid.UUID        `json:"locked_by,omitempty" db:"locked_by"`
	CreatedAt            time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at" db:"updated_at"`
}

// NewPaymentEntry snapshots a breakdown for a paid appointment.
func NewPaymentEntry(appt *Appointment, b *FinancialBreakdown, paymentID, method string) *LedgerEntry {
	e := &LedgerEntry{
		AppointmentID:        appt.ID,
		DoctorID:             appt.DoctorID,
		ClinicID:             appt.ClinicID,
		PatientID:            appt.PatientID,
		TransactionType:      TransactionTypeBookingPayment,
		ConsultationType:     b.ConsultationType,
		ConsultationFee:      b.ConsultationFee,
		CommissionType:       b.Commission.Type,
		CommissionRate:       b.Commission.Rate,
		CommissionAmount:     b.Commission.Amount,
		IntroOfferType:       b.Commission.IntroOfferType,
		GSTRate:              b.GSTOnCommission.Rate,
		GSTAmount:            b.GSTOnCommission.Amount,
		GatewayFeeAmount:     b.GatewayFee.FeeAmount,
		GatewayGST:           b.GatewayFee.GSTOnFee,
		GatewayTotal:         b.GatewayFee.Total,
		TotalPatientPaid:     b.TotalPatientPaid,
		NetDoctorPayout:      b.NetDoctorPayout,
		NetPlatformRevenue:   b.NetPlatformRevenue,
		PlatformGSTLiability: b.PlatformGSTLiability,
		Status:               LedgerStatusCompleted,
		PayoutStatus:         EntryPayoutPending,
		PaymentID:            &paymentID,
		PaymentMethod:        &method,
	}
	if b.ConfigID != uuid.Nil {
		id := b.ConfigID
		e.ConfigID = &id
	}
	return e
}

// NewRefundEntry builds the compensating entry for a paid entry. Every
// monetary field is negated so sums over both entries net to zero.
func NewRefundEntry(orig *LedgerEntry, reason string) *LedgerEntry {
	origID := orig.ID
	e := &LedgerEntry{
		AppointmentID:        orig.AppointmentID,
		DoctorID:             orig.DoctorID,
		ClinicID:             orig.ClinicID,
		PatientID:            orig.PatientID,
		TransactionType:      TransactionTypeRefund,
		ConsultationType:     orig.ConsultationType,
		ConsultationFee:      orig.ConsultationFee.Neg(),
		CommissionType:       orig.CommissionType,
		CommissionRate:       orig.CommissionRate,
		CommissionAmount:     orig.CommissionAmount.Neg(),
		IntroOfferType:       orig.IntroOfferType,
		GSTRate:              orig.GSTRate,
		GSTAmount:            orig.GSTAmount.Neg(),
		GatewayFeeAmount:     orig.GatewayFeeAmount.Neg(),
		GatewayGST:           orig.GatewayGST.Neg(),
		GatewayTotal:         orig.GatewayTotal.Neg(),
		TotalPatientPaid:     orig.TotalPatientPaid.Neg(),
		NetDoctorPayout:      orig.NetDoctorPayout.Neg(),
		NetPlatformRevenue:   orig.NetPlatformRevenue.Neg(),
		PlatformGSTLiability: orig.PlatformGSTLiability.Neg(),
		ConfigID:             orig.ConfigID,
		Status:               LedgerStatusPendingRefund,
		PayoutStatus:         EntryPayoutPending,
		PaymentID:            orig.PaymentID,
		PaymentMethod:        orig.PaymentMethod,
		RefundOfID:           &origID,
	}
	if reason != "" {
		e.RefundReason = &reason
	}
	return e
}

// LedgerFilter narrows ledger queries. Zero values are ignored.
type LedgerFilter struct {
	DoctorID        *uuid.UUID
	ClinicID        *uuid.UUID
	PayoutID        *uuid.UUID
	Status          []LedgerStatus
	PayoutStatus    []EntryPayoutStatus
	TransactionType *TransactionType
	From            *time.Time
	To              *time.Time
	Limit           int
}

// Matches applies the filter to one entry.
func (f *LedgerFilter) Matches(e *LedgerEntry) bool {
	if f.DoctorID != nil && e.DoctorID != *f.DoctorID {
		return false
	}
	if f.ClinicID != nil && (e.ClinicID == nil || *e.ClinicID != *f.ClinicID) {
		return false
	}
	if f.PayoutID != nil && (e.PayoutID == nil || *e.PayoutID != *f.PayoutID) {
		return false
	}
	if len(f.Status) > 0 && !containsStatus(f.Status, e.Status) {
		return false
	}
	if len(f.PayoutStatus) > 0 && !containsPayoutStatus(f.PayoutStatus, e.PayoutStatus) {
		return false
	}
	if f.TransactionType != nil && e.TransactionType != *f.TransactionType {
		return false
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !e.CreatedAt.Before(*f.To) {
		return false
	}
	return true
}

func containsStatus(list []LedgerStatus, s LedgerStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsPayoutStatus(list []EntryPayoutStatus, s EntryPayoutStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// LedgerTotals is the side-effect-free aggregate over a filtered entry set.
type LedgerTotals struct {
	Count                int          `json:"count" db:"count"`
	ConsultationFees     money.Amount `json:"consultation_fees" db:"consultation_fees"`
	Commission           money.Amount `json:"commission" db:"commission"`
	GST                  money.Amount `json:"gst" db:"gst"`
	GatewayFees          money.Amount `json:"gateway_fees" db:"gateway_fees"`
	TotalPatientPaid     money.Amount `json:"total_patient_paid" db:"total_patient_paid"`
	NetDoctorPayout      money.Amount `json:"net_doctor_payout" db:"net_doctor_payout"`
	NetPlatformRevenue   money.Amount `json:"net_platform_revenue" db:"net_platform_revenue"`
	PlatformGSTLiability money.Amount `json:"platform_gst_liability" db:"platform_gst_liability"`
}

// Add folds one entry into the totals.
func (t *LedgerTotals) Add(e *LedgerEntry) {
	t.Count++
	t.ConsultationFees += e.ConsultationFee
	t.Commission += e.CommissionAmount
	t.GST += e.GSTAmount
	t.GatewayFees += e.GatewayTotal
	t.TotalPatientPaid += e.TotalPatientPaid
	t.NetDoctorPayout += e.NetDoctorPayout
	t.NetPlatformRevenue += e.NetPlatformRevenue
	t.PlatformGSTLiability += e.PlatformGSTLiability
}

// DoctorEarningsReport is the doctor-facing statement for a period.
type DoctorEarningsReport struct {
	DoctorID        uuid.UUID      `json:"doctor_id"`
	Period          Period         `json:"period"`
	Totals          LedgerTotals   `json:"totals"`
	Refunds         LedgerTotals   `json:"refunds"`
	PendingPayout   money.Amount   `json:"pending_payout"`
	CompletedPayout money.Amount   `json:"completed_payout"`
	Entries         []*LedgerEntry `json:"entries"`
}

// RevenueReport is the platform-facing revenue summary for a period.
type RevenueReport struct {
	Period             Period                            `json:"period"`
	Totals             LedgerTotals                      `json:"totals"`
	Refunds            LedgerTotals                      `json:"refunds"`
	ByConsultationType map[ConsultationType]LedgerTotals `json:"by_consultation_type"`
}

// PendingEarnings summarises what is waiting to be batched for a doctor.
type PendingEarnings struct {
	DoctorID    uuid.UUID      `json:"doctor_id"`
	Totals      LedgerTotals   `json:"totals"`
	EntryIDs    []uuid.UUID    `json:"entry_ids"`
	OldestEntry *time.Time     `json:"oldest_entry,omitempty"`
	NetAmount   money.Amount   `json:"net_amount"`
	Entries     []*LedgerEntry `json:"-"`
}
