package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/pkg/money"
)

// All repository interfaces in one file
type (
	// SlotRepository owns bookable slots. Reserve is a single conditional
	// write; callers never read-then-write a slot.
	SlotRepository interface {
		CreateBatch(ctx context.Context, slots []*model.Slot) (int, error)
		Get(ctx context.Context, id uuid.UUID) (*model.Slot, error)
		Reserve(ctx context.Context, id uuid.UUID, kind model.SlotKind, bookedBy, appointmentID uuid.UUID, at time.Time) (*model.Slot, error)
		Release(ctx context.Context, id uuid.UUID) (*model.Slot, error)
		SetBlocked(ctx context.Context, id uuid.UUID, blocked bool) (*model.Slot, error)
		ListAvailable(ctx context.Context, doctorID uuid.UUID, date time.Time, kind *model.SlotKind) ([]*model.Slot, error)
		CountForDay(ctx context.Context, doctorID uuid.UUID, kind model.SlotKind, date time.Time) (int, error)
	}

	AppointmentRepository interface {
		Create(ctx context.Context, appointment *model.Appointment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		NextQueueNumber(ctx context.Context, doctorID uuid.UUID, date time.Time) (int, error)
		Confirm(ctx context.Context, id uuid.UUID, paymentID, paymentMethod string, at time.Time) (*model.Appointment, error)
		Cancel(ctx context.Context, id uuid.UUID, actor *uuid.UUID, reason string, at time.Time) (*model.Appointment, error)
		Complete(ctx context.Context, id uuid.UUID, at time.Time) (*model.Appointment, error)
	}

	CommissionConfigRepository interface {
		GetGlobal(ctx context.Context) (*model.CommissionConfig, error)
		GetForClinic(ctx context.Context, clinicID uuid.UUID) (*model.CommissionConfig, error)
		// CreateGlobalIfAbsent inserts cfg unless a global config exists and
		// returns whichever global config is stored afterwards.
		CreateGlobalIfAbsent(ctx context.Context, cfg *model.CommissionConfig) (*model.CommissionConfig, error)
		Upsert(ctx context.Context, cfg *model.CommissionConfig) error
		DeleteClinic(ctx context.Context, clinicID uuid.UUID) error
	}

	// LedgerRepository refuses every write to a locked entry with a
	// RecordLocked error.
	LedgerRepository interface {
		Append(ctx context.Context, entry *model.LedgerEntry) error
		Get(ctx context.Context, id uuid.UUID) (*model.LedgerEntry, error)
		GetByAppointment(ctx context.Context, appointmentID uuid.UUID, txType model.TransactionType) (*model.LedgerEntry, error)
		Lock(ctx context.Context, id uuid.UUID, actor *uuid.UUID, at time.Time) (*model.LedgerEntry, error)
		List(ctx context.Context, filter *model.LedgerFilter) ([]*model.LedgerEntry, error)
		Totals(ctx context.Context, filter *model.LedgerFilter) (*model.LedgerTotals, error)
		CountCompletedForDoctor(ctx context.Context, doctorID uuid.UUID) (int, error)
		// SelectForPayout returns the doctor's unclaimed payments in the
		// period plus unclaimed refunds created before its end, locking them
		// against concurrent batching.
		SelectForPayout(ctx context.Context, doctorID uuid.UUID, period model.Period) ([]*model.LedgerEntry, error)
		// ClaimForPayout moves the given entries pending -> scheduled and
		// fails with a Conflict unless every entry was still pending.
		ClaimForPayout(ctx context.Context, ids []uuid.UUID, payoutID uuid.UUID) error
		SetPayoutStatus(ctx context.Context, payoutID uuid.UUID, status model.EntryPayoutStatus) (int64, error)
		ReleaseFromPayout(ctx context.Context, payoutID uuid.UUID) (int64, error)
		LockByPayout(ctx context.Context, payoutID uuid.UUID, actor *uuid.UUID, at time.Time) (int64, error)
		DoctorsWithPendingEntries(ctx context.Context, period model.Period) ([]uuid.UUID, error)
	}

	PayoutRepository interface {
		Create(ctx context.Context, payout *model.Payout) error
		Get(ctx context.Context, id uuid.UUID) (*model.Payout, error)
		List(ctx context.Context, filter *model.PayoutFilter, page model.Pagination) ([]*model.Payout, int, error)
		// Transition moves a payout from one status to the next and fails
		// with a Conflict if the payout is no longer in from.
		Transition(ctx context.Context, id uuid.UUID, from, to model.PayoutStatus, upd model.PayoutUpdate) (*model.Payout, error)
		NextInvoiceSequence(ctx context.Context, period string) (int64, error)
	}

	WalletRepository interface {
		GetOrCreate(ctx context.Context, doctorID uuid.UUID) (*model.DoctorWallet, error)
		Apply(ctx context.Context, doctorID uuid.UUID, delta model.WalletDelta) (*model.DoctorWallet, error)
		// SettlePayout moves amount from pending to paid out. It fails with
		// InsufficientFunds when pending is below amount.
		SettlePayout(ctx context.Context, doctorID uuid.UUID, amount money.Amount, at time.Time) (*model.DoctorWallet, error)
		UpdateBankDetails(ctx context.Context, doctorID uuid.UUID, encrypted string) error
		AddTransaction(ctx context.Context, txn *model.WalletTransaction) error
		ListTransactions(ctx context.Context, doctorID uuid.UUID, txType *model.WalletTransactionType, page model.Pagination) ([]*model.WalletTransaction, int, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	AuditRepository interface {
		// Last returns the newest record, or nil for an empty chain, and
		// serialises concurrent appenders until the transaction ends.
		Last(ctx context.Context) (*model.AuditLog, error)
		Create(ctx context.Context, log *model.AuditLog) error
		List(ctx context.Context, filter *model.AuditFilter) ([]*model.AuditLog, error)
		Range(ctx context.Context, fromSeq, toSeq int64) ([]*model.AuditLog, error)
	}
)

// Repositories is the set of repositories bound to one connection or
// transaction.
type Repositories interface {
	Slots() SlotRepository
	Appointments() AppointmentRepository
	CommissionConfigs() CommissionConfigRepository
	Ledger() LedgerRepository
	Payouts() PayoutRepository
	Wallets() WalletRepository
	Outbox() OutboxRepository
	Audit() AuditRepository
}

// Store runs fn inside one transaction. Any error returned by fn, or a
// panic, rolls back every write fn made.
type Store interface {
	Repositories
	WithTx(ctx context.Context, fn func(tx Repositories) error) error
	Ping(ctx context.Context) error
	Close() error
}
