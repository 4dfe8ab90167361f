package memory

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/pkg/errors"
)

type ledgerRepository struct {
	view
}

func (r ledgerRepository) Append(ctx context.Context, entry *model.LedgerEntry) error {
	defer r.lock()()

	if entry == nil {
		return errNilRecord("ledger entry")
	}
	for _, e := range r.s.d.ledger {
		if e.AppointmentID != entry.AppointmentID || e.TransactionType != entry.TransactionType {
			continue
		}
		if e.IsLocked {
			return errors.NewRecordLocked("ledger entry", e.ID)
		}
		return errors.NewConflict("ledger entry already exists for appointment", nil)
	}
	if existing, ok := r.s.d.ledger[entry.ID]; ok {
		if existing.IsLocked {
			return errors.NewRecordLocked("ledger entry", existing.ID)
		}
		return errors.NewConflict("ledger entry already exists", nil)
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	r.stamp(&entry.CreatedAt)
	entry.UpdatedAt = entry.CreatedAt
	r.s.d.ledger[entry.ID] = *entry
	return nil
}

func (r ledgerRepository) Get(ctx context.Context, id uuid.UUID) (*model.LedgerEntry, error) {
	defer r.lock()()

	e, ok := r.s.d.ledger[id]
	if !ok {
		return nil, errors.NewNotFound("ledger entry", nil)
	}
	return &e, nil
}

func (r ledgerRepository) GetByAppointment(ctx context.Context, appointmentID uuid.UUID, txType model.TransactionType) (*model.LedgerEntry, error) {
	defer r.lock()()

	for _, e := range r.s.d.ledger {
		if e.AppointmentID == appointmentID && e.TransactionType == txType {
			return &e, nil
		}
	}
	return nil, errors.NewNotFound("ledger entry", nil)
}

func (r ledgerRepository) Lock(ctx context.Context, id uuid.UUID, actor *uuid.UUID, at time.Time) (*model.LedgerEntry, error) {
	defer r.lock()()

	e, ok := r.s.d.ledger[id]
	if !ok {
		return nil, errors.NewNotFound("ledger entry", nil)
	}
	if e.IsLocked {
		return nil, errors.NewRecordLocked("ledger entry", e.ID)
	}
	e.IsLocked = true
	e.LockedAt = &at
	e.LockedBy = actor
	e.UpdatedAt = at
	r.s.d.ledger[id] = e
	return &e, nil
}

// sorted returns the entries matching filter, oldest first.
func (r ledgerRepository) sorted(filter *model.LedgerFilter) []*model.LedgerEntry {
	var out []*model.LedgerEntry
	for _, e := range r.s.d.ledger {
		if filter != nil && !filter.Matches(&e) {
			continue
		}
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}

func (r ledgerRepository) List(ctx context.Context, filter *model.LedgerFilter) ([]*model.LedgerEntry, error) {
	defer r.lock()()

	out := r.sorted(filter)
	if filter != nil && filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r ledgerRepository) Totals(ctx context.Context, filter *model.LedgerFilter) (*model.LedgerTotals, error) {
	defer r.lock()()

	totals := &model.LedgerTotals{}
	for _, e := range r.sorted(filter) {
		totals.Add(e)
	}
	return totals, nil
}

func (r ledgerRepository) CountCompletedForDoctor(ctx context.Context, doctorID uuid.UUID) (int, error) {
	defer r.lock()()

	n := 0
	for _, e := range r.s.d.ledger {
		if e.DoctorID == doctorID && e.TransactionType == model.TransactionTypeBookingPayment &&
			e.Status == model.LedgerStatusCompleted {
			n++
		}
	}
	return n, nil
}

func payoutEligible(e *model.LedgerEntry) bool {
	if e.IsLocked || e.PayoutID != nil || e.PayoutStatus != model.EntryPayoutPending {
		return false
	}
	switch e.TransactionType {
	case model.TransactionTypeBookingPayment:
		return e.Status == model.LedgerStatusCompleted
	case model.TransactionTypeRefund:
		return e.Status == model.LedgerStatusPendingRefund
	}
	return false
}

// payoutInPeriod takes payments created in the period and every unsettled
// refund created before its end. Refunds carry forward until a payout nets
// them off.
func payoutInPeriod(e *model.LedgerEntry, period model.Period) bool {
	if e.TransactionType == model.TransactionTypeRefund {
		return e.CreatedAt.Before(period.End)
	}
	return period.Contains(e.CreatedAt)
}

func (r ledgerRepository) SelectForPayout(ctx context.Context, doctorID uuid.UUID, period model.Period) ([]*model.LedgerEntry, error) {
	defer r.lock()()

	var out []*model.LedgerEntry
	for _, e := range r.sorted(&model.LedgerFilter{DoctorID: &doctorID}) {
		if payoutEligible(e) && payoutInPeriod(e, period) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r ledgerRepository) ClaimForPayout(ctx context.Context, ids []uuid.UUID, payoutID uuid.UUID) error {
	defer r.lock()()

	for _, id := range ids {
		e, ok := r.s.d.ledger[id]
		if !ok {
			return errors.NewNotFound("ledger entry", nil)
		}
		if e.IsLocked {
			return errors.NewRecordLocked("ledger entry", e.ID)
		}
		if e.PayoutStatus != model.EntryPayoutPending || e.PayoutID != nil {
			return errors.NewConflict("ledger entry already claimed by another payout", nil)
		}
	}
	now := r.s.now().UTC()
	for _, id := range ids {
		e := r.s.d.ledger[id]
		pid := payoutID
		e.PayoutStatus = model.EntryPayoutScheduled
		e.PayoutID = &pid
		e.UpdatedAt = now
		r.s.d.ledger[id] = e
	}
	return nil
}

// forPayout applies fn to every entry of the payout, refusing locked ones.
func (r ledgerRepository) forPayout(payoutID uuid.UUID, fn func(e *model.LedgerEntry)) (int64, error) {
	var ids []uuid.UUID
	for id, e := range r.s.d.ledger {
		if e.PayoutID == nil || *e.PayoutID != payoutID {
			continue
		}
		if e.IsLocked {
			return 0, errors.NewRecordLocked("ledger entry", e.ID)
		}
		ids = append(ids, id)
	}
	now := r.s.now().UTC()
	for _, id := range ids {
		e := r.s.d.ledger[id]
		fn(&e)
		e.UpdatedAt = now
		r.s.d.ledger[id] = e
	}
	return int64(len(ids)), nil
}

func (r ledgerRepository) SetPayoutStatus(ctx context.Context, payoutID uuid.UUID, status model.EntryPayoutStatus) (int64, error) {
	defer r.lock()()

	return r.forPayout(payoutID, func(e *model.LedgerEntry) {
		e.PayoutStatus = status
	})
}

func (r ledgerRepository) ReleaseFromPayout(ctx context.Context, payoutID uuid.UUID) (int64, error) {
	defer r.lock()()

	return r.forPayout(payoutID, func(e *model.LedgerEntry) {
		e.PayoutStatus = model.EntryPayoutPending
		e.PayoutID = nil
	})
}

func (r ledgerRepository) LockByPayout(ctx context.Context, payoutID uuid.UUID, actor *uuid.UUID, at time.Time) (int64, error) {
	defer r.lock()()

	return r.forPayout(payoutID, func(e *model.LedgerEntry) {
		e.PayoutStatus = model.EntryPayoutCompleted
		if e.Status == model.LedgerStatusPendingRefund {
			e.Status = model.LedgerStatusRefunded
		}
		lockedAt := at
		e.IsLocked = true
		e.LockedAt = &lockedAt
		e.LockedBy = actor
	})
}

func (r ledgerRepository) DoctorsWithPendingEntries(ctx context.Context, period model.Period) ([]uuid.UUID, error) {
	defer r.lock()()

	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, e := range r.s.d.ledger {
		e := e
		if !payoutEligible(&e) || !payoutInPeriod(&e, period) {
			continue
		}
		if !seen[e.DoctorID] {
			seen[e.DoctorID] = true
			out = append(out, e.DoctorID)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out, nil
}
