// Package memory is an in-process Store. Transactions are serialised by one
// mutex and rolled back by restoring a snapshot, so it gives the same
// all-or-nothing behaviour as the postgres store for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/repository"
)

type data struct {
	slots        map[uuid.UUID]model.Slot
	appointments map[uuid.UUID]model.Appointment
	configs      map[uuid.UUID]model.CommissionConfig
	ledger       map[uuid.UUID]model.LedgerEntry
	payouts      map[uuid.UUID]model.Payout
	invoiceSeq   map[string]int64
	wallets      map[uuid.UUID]model.DoctorWallet
	walletTxns   []model.WalletTransaction
	outbox       map[uuid.UUID]model.OutboxEvent
	audit        []model.AuditLog
}

func newData() *data {
	return &data{
		slots:        make(map[uuid.UUID]model.Slot),
		appointments: make(map[uuid.UUID]model.Appointment),
		configs:      make(map[uuid.UUID]model.CommissionConfig),
		ledger:       make(map[uuid.UUID]model.LedgerEntry),
		payouts:      make(map[uuid.UUID]model.Payout),
		invoiceSeq:   make(map[string]int64),
		wallets:      make(map[uuid.UUID]model.DoctorWallet),
		outbox:       make(map[uuid.UUID]model.OutboxEvent),
	}
}

// clone copies every table. Records are stored by value and never mutated
// through shared pointers, so a shallow copy of each record is enough.
func (d *data) clone() *data {
	c := newData()
	for k, v := range d.slots {
		c.slots[k] = v
	}
	for k, v := range d.appointments {
		c.appointments[k] = v
	}
	for k, v := range d.configs {
		c.configs[k] = v
	}
	for k, v := range d.ledger {
		c.ledger[k] = v
	}
	for k, v := range d.payouts {
		c.payouts[k] = v
	}
	for k, v := range d.invoiceSeq {
		c.invoiceSeq[k] = v
	}
	for k, v := range d.wallets {
		c.wallets[k] = v
	}
	c.walletTxns = append(c.walletTxns, d.walletTxns...)
	for k, v := range d.outbox {
		c.outbox[k] = v
	}
	c.audit = append(c.audit, d.audit...)
	return c
}

type Store struct {
	mu  sync.Mutex
	d   *data
	now func() time.Time
	view
}

var _ repository.Store = (*Store)(nil)

type Option func(*Store)

// WithClock overrides the time source used for default timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(opts ...Option) *Store {
	s := &Store{d: newData(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.view = view{s: s}
	return s
}

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Repositories) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	defer func() {
		if p := recover(); p != nil {
			s.d = snapshot
			panic(p)
		}
		if err != nil {
			s.d = snapshot
		}
	}()

	return fn(view{s: s, inTx: true})
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() error {
	return nil
}

// view binds the repositories to the store. Inside WithTx the store mutex is
// already held, so repository methods must not take it again.
type view struct {
	s    *Store
	inTx bool
}

func (v view) lock() func() {
	if v.inTx {
		return func() {}
	}
	v.s.mu.Lock()
	return v.s.mu.Unlock
}

func (v view) Slots() repository.SlotRepository                       { return slotRepository{v} }
func (v view) Appointments() repository.AppointmentRepository         { return appointmentRepository{v} }
func (v view) CommissionConfigs() repository.CommissionConfigRepository { return commissionConfigRepository{v} }
func (v view) Ledger() repository.LedgerRepository                    { return ledgerRepository{v} }
func (v view) Payouts() repository.PayoutRepository                   { return payoutRepository{v} }
func (v view) Wallets() repository.WalletRepository                   { return walletRepository{v} }
func (v view) Outbox() repository.OutboxRepository                    { return outboxRepository{v} }
func (v view) Audit() repository.AuditRepository                      { return auditRepository{v} }

func (v view) stamp(t *time.Time) {
	if t.IsZero() {
		*t = v.s.now().UTC()
	}
}

func paginate(total int, page model.Pagination) (int, int) {
	page = page.Normalize()
	start := page.Offset()
	if start > total {
		start = total
	}
	end := start + page.PageSize
	if end > total {
		end = total
	}
	return start, end
}

func errNilRecord(kind string) error {
	return fmt.Errorf("%s cannot be nil", kind)
}
