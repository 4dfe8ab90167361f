package model

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/pkg/money"
)

type PayoutCycle string

const (
	PayoutCycleWeekly   PayoutCycle = "weekly"
	PayoutCycleBiweekly PayoutCycle = "biweekly"
	PayoutCycleMonthly  PayoutCycle = "monthly"
)

func (c PayoutCycle) Valid() bool {
	return c == PayoutCycleWeekly || c == PayoutCycleBiweekly || c == PayoutCycleMonthly
}

// PeriodEnding returns the payout period of this cycle that ends at the
// start of the day containing now.
func (c PayoutCycle) PeriodEnding(now time.Time) Period {
	end := Day(now)
	switch c {
	case PayoutCycleMonthly:
		return Period{Start: end.AddDate(0, -1, 0), End: end}
	case PayoutCycleBiweekly:
		return Period{Start: end.AddDate(0, 0, -14), End: end}
	default:
		return Period{Start: end.AddDate(0, 0, -7), End: end}
	}
}

type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusApproved   PayoutStatus = "approved"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
	PayoutStatusCancelled  PayoutStatus = "cancelled"
)

var payoutTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutStatusPending:    {PayoutStatusApproved, PayoutStatusCancelled},
	PayoutStatusApproved:   {PayoutStatusProcessing},
	PayoutStatusProcessing: {PayoutStatusCompleted, PayoutStatusFailed},
}

// CanTransition reports whether a payout may move from s to next.
func (s PayoutStatus) CanTransition(next PayoutStatus) bool {
	for _, allowed := range payoutTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the payout has reached a final state.
func (s PayoutStatus) Terminal() bool {
	return len(payoutTransitions[s]) == 0
}

// PayoutSummary is the aggregate of the entries a payout covers.
type PayoutSummary struct {
	EntryCount        int          `json:"entry_count"`
	RefundCount       int          `json:"refund_count"`
	GrossFees         money.Amount `json:"gross_fees"`
	TotalCommission   money.Amount `json:"total_commission"`
	TotalGST          money.Amount `json:"total_gst"`
	TotalGatewayFees  money.Amount `json:"total_gateway_fees"`
	RefundAdjustments money.Amount `json:"refund_adjustments"`
	NetAmount         money.Amount `json:"net_amount"`
}

func (s PayoutSummary) Value() (driver.Value, error) { return jsonValue(s) }
func (s *PayoutSummary) Scan(src interface{}) error  { return jsonScan(src, s) }

// SummarizeEntries folds the entries into a summary. Refund entries carry
// negative amounts and reduce the net.
func SummarizeEntries(entries []*LedgerEntry) PayoutSummary {
	var s PayoutSummary
	for _, e := range entries {
		if e.TransactionType == TransactionTypeRefund {
			s.RefundCount++
			s.RefundAdjustments += e.NetDoctorPayout
		} else {
			s.EntryCount++
			s.GrossFees += e.ConsultationFee
			s.TotalCommission += e.CommissionAmount
			s.TotalGST += e.GSTAmount
			s.TotalGatewayFees += e.GatewayTotal
		}
		s.NetAmount += e.NetDoctorPayout
	}
	return s
}

type Payout struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	DoctorID       uuid.UUID     `json:"doctor_id" db:"doctor_id"`
	InvoiceNumber  string        `json:"invoice_number" db:"invoice_number"`
	Cycle          PayoutCycle   `json:"payout_cycle" db:"payout_cycle"`
	PeriodStart    time.Time     `json:"period_start" db:"period_start"`
	PeriodEnd      time.Time     `json:"period_end" db:"period_end"`
	TotalAmount    money.Amount  `json:"total_amount" db:"total_amount"`
	Summary        PayoutSummary `json:"summary" db:"summary"`
	Status         PayoutStatus  `json:"status" db:"status"`
	RetryCount     int           `json:"retry_count" db:"retry_count"`
	FailureReason  *string       `json:"failure_reason,omitempty" db:"failure_reason"`
	TransactionRef *string       `json:"transaction_ref,omitempty" db:"transaction_ref"`
	ApprovedBy     *uuid.UUID    `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt     *time.Time    `json:"approved_at,omitempty" db:"approved_at"`
	ProcessedAt    *time.Time    `json:"processed_at,omitempty" db:"processed_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

// Apply records the transition to status next on p.
func (p *Payout) Apply(next PayoutStatus, upd PayoutUpdate) {
	at := upd.At
	p.Status = next
	p.UpdatedAt = at
	switch next {
	case PayoutStatusApproved:
		p.ApprovedBy = upd.Actor
		p.ApprovedAt = &at
	case PayoutStatusProcessing:
		p.ProcessedAt = &at
	case PayoutStatusCompleted:
		p.CompletedAt = &at
		if upd.TransactionRef != "" {
			ref := upd.TransactionRef
			p.TransactionRef = &ref
		}
	case PayoutStatusFailed:
		p.RetryCount++
		if upd.FailureReason != "" {
			reason := upd.FailureReason
			p.FailureReason = &reason
		}
	case PayoutStatusCancelled:
		if upd.FailureReason != "" {
			reason := upd.FailureReason
			p.FailureReason = &reason
		}
	}
}

// InvoiceNumber formats the payout invoice for a period month and sequence.
func InvoiceNumber(periodEnd time.Time, seq int64) string {
	return fmt.Sprintf("HS-PAY-%s-%04d", periodEnd.UTC().Format("200601"), seq)
}

// InvoicePeriod is the sequence bucket an invoice number is drawn from.
func InvoicePeriod(periodEnd time.Time) string {
	return periodEnd.UTC().Format("200601")
}

type PayoutFilter struct {
	DoctorID *uuid.UUID
	Status   *PayoutStatus
	From     *time.Time
	To       *time.Time
}

type CreatePayoutRequest struct {
	DoctorID    uuid.UUID   `json:"doctor_id" binding:"required" validate:"required"`
	Cycle       PayoutCycle `json:"payout_cycle" validate:"omitempty,oneof=weekly biweekly monthly"`
	PeriodStart string      `json:"period_start" binding:"required" validate:"required,datetime=2006-01-02"`
	PeriodEnd   string      `json:"period_end" binding:"required" validate:"required,datetime=2006-01-02"`
}

type PayoutStatusRequest struct {
	Status         PayoutStatus `json:"status" binding:"required" validate:"required,oneof=approved processing completed failed cancelled"`
	TransactionRef string       `json:"transaction_ref" validate:"max=128"`
	FailureReason  string       `json:"failure_reason" validate:"max=500"`
}

// PayoutUpdate is what a status transition writes alongside the status.
type PayoutUpdate struct {
	Actor          *uuid.UUID
	TransactionRef string
	FailureReason  string
	At             time.Time
}

// PayoutDetail is a payout together with the entries it settles.
type PayoutDetail struct {
	*Payout
	Entries []*LedgerEntry `json:"entries"`
}

// PayoutBatchResult reports one scheduled batching run.
type PayoutBatchResult struct {
	Cycle   PayoutCycle `json:"cycle"`
	Period  Period      `json:"period"`
	Doctors int         `json:"doctors"`
	Created []*Payout   `json:"created"`
	Skipped int         `json:"skipped"`
	Failed  int         `json:"failed"`
}
