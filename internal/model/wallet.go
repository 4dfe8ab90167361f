package model

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/pkg/money"
)

// BankDetails is stored encrypted; only the masked account number leaves
// the service.
type BankDetails struct {
	AccountHolder string `json:"account_holder" validate:"required,max=128"`
	AccountNumber string `json:"account_number" validate:"required,numeric,min=6,max=20"`
	IFSC          string `json:"ifsc" validate:"required,len=11,alphanum"`
	BankName      string `json:"bank_name" validate:"max=128"`
}

func (b BankDetails) Value() (driver.Value, error) { return jsonValue(b) }
func (b *BankDetails) Scan(src interface{}) error  { return jsonScan(src, b) }

// Masked hides all but the last four digits of the account number.
func (b BankDetails) Masked() BankDetails {
	n := len(b.AccountNumber)
	if n > 4 {
		masked := make([]byte, n)
		for i := range masked {
			masked[i] = 'X'
		}
		copy(masked[n-4:], b.AccountNumber[n-4:])
		b.AccountNumber = string(masked)
	}
	return b
}

type DoctorWallet struct {
	ID                   uuid.UUID    `json:"id" db:"id"`
	DoctorID             uuid.UUID    `json:"doctor_id" db:"doctor_id"`
	Balance              money.Amount `json:"balance" db:"balance"`
	TotalEarnings        money.Amount `json:"total_earnings" db:"total_earnings"`
	PendingAmount        money.Amount `json:"pending_amount" db:"pending_amount"`
	TotalPayouts         money.Amount `json:"total_payouts" db:"total_payouts"`
	BankDetailsEncrypted *string      `json:"-" db:"bank_details_encrypted"`
	BankDetails          *BankDetails `json:"bank_details,omitempty" db:"-"`
	LastPayoutAt         *time.Time   `json:"last_payout_at,omitempty" db:"last_payout_at"`
	CreatedAt            time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at" db:"updated_at"`
}

type WalletTransactionType string

const (
	WalletTransactionCredit WalletTransactionType = "credit"
	WalletTransactionRefund WalletTransactionType = "refund"
	WalletTransactionPayout WalletTransactionType = "payout"
)

// WalletTransaction is an append-only record of one wallet movement.
// Amount is signed: credits are positive, refunds and payouts negative.
type WalletTransaction struct {
	ID            uuid.UUID             `json:"id" db:"id"`
	WalletID      uuid.UUID             `json:"wallet_id" db:"wallet_id"`
	DoctorID      uuid.UUID             `json:"doctor_id" db:"doctor_id"`
	Type          WalletTransactionType `json:"type" db:"type"`
	Amount        money.Amount          `json:"amount" db:"amount"`
	BalanceAfter  money.Amount          `json:"balance_after" db:"balance_after"`
	LedgerEntryID *uuid.UUID            `json:"ledger_entry_id,omitempty" db:"ledger_entry_id"`
	PayoutID      *uuid.UUID            `json:"payout_id,omitempty" db:"payout_id"`
	Description   string                `json:"description" db:"description"`
	CreatedAt     time.Time             `json:"created_at" db:"created_at"`
}

// WalletDelta is an atomic increment applied to a wallet row.
type WalletDelta struct {
	Balance       money.Amount
	TotalEarnings money.Amount
	PendingAmount money.Amount
	TotalPayouts  money.Amount
	PayoutAt      *time.Time
}

type UpdateBankDetailsRequest struct {
	BankDetails
}
