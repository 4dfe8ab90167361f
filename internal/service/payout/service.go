package payout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/repository"
	"github.com/jwalitptl/settlement-api/internal/service/audit"
	"github.com/jwalitptl/settlement-api/internal/service/event"
	"github.com/jwalitptl/settlement-api/internal/service/ledger"
	"github.com/jwalitptl/settlement-api/internal/service/wallet"
	"github.com/jwalitptl/settlement-api/pkg/errors"
	"github.com/jwalitptl/settlement-api/pkg/logger"
	"github.com/jwalitptl/settlement-api/pkg/metrics"
	"github.com/jwalitptl/settlement-api/pkg/money"
	"github.com/jwalitptl/settlement-api/pkg/validator"
)

// Service batches ledger entries into payouts and drives the payout status
// machine. Entry claiming, locking and wallet settlement happen in the same
// transaction as the status change they belong to.
type Service struct {
	store     repository.Store
	ledger    *ledger.Service
	wallets   *wallet.Service
	events    *event.Service
	auditor   *audit.Service
	validator validator.Validator
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	store repository.Store,
	ledgerSvc *ledger.Service,
	wallets *wallet.Service,
	events *event.Service,
	auditor *audit.Service,
	log *logger.Logger,
	m *metrics.Metrics,
	opts ...Option,
) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	s := &Service{
		store:     store,
		ledger:    ledgerSvc,
		wallets:   wallets,
		events:    events,
		auditor:   auditor,
		validator: validator.New(),
		logger:    log,
		metrics:   m,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePayoutFromRequest parses an admin request. Its period end is an
// inclusive calendar day.
func (s *Service) CreatePayoutFromRequest(ctx context.Context, req *model.CreatePayoutRequest, actor *uuid.UUID) (*model.Payout, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	start, err := model.ParseDay(req.PeriodStart)
	if err != nil {
		return nil, errors.NewValidation("period_start is invalid", err)
	}
	end, err := model.ParseDay(req.PeriodEnd)
	if err != nil {
		return nil, errors.NewValidation("period_end is invalid", err)
	}
	cycle := req.Cycle
	if cycle == "" {
		cycle = model.PayoutCycleWeekly
	}
	return s.CreatePayout(ctx, req.DoctorID, cycle, model.Period{Start: start, End: end.AddDate(0, 0, 1)}, actor)
}

// CreatePayout claims the doctor's unclaimed payments in period, netted
// against every unsettled refund created before the period ends, into a new
// pending payout. It returns nil without error when there is nothing to pay:
// no completed booking payment in the period, or a net amount that is not
// positive or below the configured minimum. Refunds left unclaimed carry
// forward to the next payout.
func (s *Service) CreatePayout(ctx context.Context, doctorID uuid.UUID, cycle model.PayoutCycle, period model.Period, actor *uuid.UUID) (*model.Payout, error) {
	if !period.End.After(period.Start) {
		return nil, errors.NewValidation("period end must be after start", nil)
	}

	now := s.now().UTC()
	var payout *model.Payout
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		entries, err := tx.Ledger().SelectForPayout(ctx, doctorID, period)
		if err != nil {
			return err
		}
		if !hasPayment(entries) {
			return nil
		}

		summary := model.SummarizeEntries(entries)
		if !summary.NetAmount.IsPositive() {
			return nil
		}
		minimum, err := minimumAmount(ctx, tx)
		if err != nil {
			return err
		}
		if summary.NetAmount < minimum {
			return nil
		}

		// The period is half-open, so its last day names the invoice month.
		invoiceDay := period.End.AddDate(0, 0, -1)
		seq, err := tx.Payouts().NextInvoiceSequence(ctx, model.InvoicePeriod(invoiceDay))
		if err != nil {
			return err
		}

		p := &model.Payout{
			ID:            uuid.New(),
			DoctorID:      doctorID,
			InvoiceNumber: model.InvoiceNumber(invoiceDay, seq),
			Cycle:         cycle,
			PeriodStart:   period.Start,
			PeriodEnd:     period.End,
			TotalAmount:   summary.NetAmount,
			Summary:       summary,
			Status:        model.PayoutStatusPending,
			CreatedAt:     now,
		}
		if err := tx.Payouts().Create(ctx, p); err != nil {
			return err
		}

		ids := make([]uuid.UUID, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		if err := tx.Ledger().ClaimForPayout(ctx, ids, p.ID); err != nil {
			return err
		}

		if err := s.events.Emit(ctx, tx.Outbox(), model.AuditEntityPayout, p.ID, model.EventPayoutCreated, p); err != nil {
			return err
		}
		_, err = s.auditor.Record(ctx, tx.Audit(), audit.Entry{
			ActorID:    actor,
			Action:     model.AuditActionCreate,
			EntityType: model.AuditEntityPayout,
			EntityID:   p.ID,
			Changes: map[string]interface{}{
				"invoice_number": p.InvoiceNumber,
				"total_amount":   p.TotalAmount,
				"entry_ids":      ids,
			},
		})
		if err != nil {
			return err
		}
		payout = p
		return nil
	})
	if err != nil {
		if errors.IsRecordLocked(err) {
			s.ledger.RejectLockedWrite(ctx, "payout_claim", model.AuditEntityPayout, doctorID, actor, err)
		}
		return nil, err
	}
	if payout == nil {
		s.logger.Debug("No payable entries for payout",
			"doctor_id", doctorID.String(),
			"period_start", period.Start.Format(model.DateLayout))
		return nil, nil
	}

	s.metrics.PayoutTransitions.WithLabelValues(string(model.PayoutStatusPending)).Inc()
	s.logger.Info("Payout created",
		"payout_id", payout.ID.String(),
		"doctor_id", doctorID.String(),
		"invoice_number", payout.InvoiceNumber,
		"entries", payout.Summary.EntryCount+payout.Summary.RefundCount,
		"total_amount", payout.TotalAmount.String())
	return payout, nil
}

func hasPayment(entries []*model.LedgerEntry) bool {
	for _, e := range entries {
		if e.TransactionType == model.TransactionTypeBookingPayment {
			return true
		}
	}
	return false
}

func minimumAmount(ctx context.Context, tx repository.Repositories) (money.Amount, error) {
	cfg, err := tx.CommissionConfigs().GetGlobal(ctx)
	if err != nil {
		if errors.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return cfg.Payout.MinimumAmount, nil
}

func (s *Service) Approve(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*model.Payout, error) {
	return s.transition(ctx, id, model.PayoutStatusPending, model.PayoutStatusApproved, model.PayoutUpdate{Actor: actor}, nil)
}

// StartProcessing hands an approved payout to the transfer step.
func (s *Service) StartProcessing(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*model.Payout, error) {
	return s.transition(ctx, id, model.PayoutStatusApproved, model.PayoutStatusProcessing, model.PayoutUpdate{Actor: actor},
		func(ctx context.Context, tx repository.Repositories, p *model.Payout) error {
			_, err := tx.Ledger().SetPayoutStatus(ctx, p.ID, model.EntryPayoutProcessing)
			return err
		})
}

// Complete settles the payout: every entry it covers is locked for good and
// the doctor's wallet moves the total from pending to paid out.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, actor *uuid.UUID, transactionRef string) (*model.Payout, error) {
	p, err := s.transition(ctx, id, model.PayoutStatusProcessing, model.PayoutStatusCompleted,
		model.PayoutUpdate{Actor: actor, TransactionRef: transactionRef},
		func(ctx context.Context, tx repository.Repositories, p *model.Payout) error {
			if _, err := tx.Ledger().LockByPayout(ctx, p.ID, actor, p.UpdatedAt); err != nil {
				return err
			}
			_, err := s.wallets.RecordPayout(ctx, tx, p)
			return err
		})
	if err != nil {
		return nil, err
	}
	s.metrics.PayoutAmount.Observe(p.TotalAmount.Decimal().InexactFloat64())
	return p, nil
}

// Fail records a failed transfer. The entries are released so a fresh
// payout can claim them.
func (s *Service) Fail(ctx context.Context, id uuid.UUID, actor *uuid.UUID, reason string) (*model.Payout, error) {
	return s.transition(ctx, id, model.PayoutStatusProcessing, model.PayoutStatusFailed,
		model.PayoutUpdate{Actor: actor, FailureReason: reason}, releaseEntries)
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor *uuid.UUID, reason string) (*model.Payout, error) {
	return s.transition(ctx, id, model.PayoutStatusPending, model.PayoutStatusCancelled,
		model.PayoutUpdate{Actor: actor, FailureReason: reason}, releaseEntries)
}

func releaseEntries(ctx context.Context, tx repository.Repositories, p *model.Payout) error {
	_, err := tx.Ledger().ReleaseFromPayout(ctx, p.ID)
	return err
}

// UpdateStatus dispatches an admin status request to the matching
// transition.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, req *model.PayoutStatusRequest, actor *uuid.UUID) (*model.Payout, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	switch req.Status {
	case model.PayoutStatusApproved:
		return s.Approve(ctx, id, actor)
	case model.PayoutStatusProcessing:
		return s.StartProcessing(ctx, id, actor)
	case model.PayoutStatusCompleted:
		return s.Complete(ctx, id, actor, req.TransactionRef)
	case model.PayoutStatusFailed:
		return s.Fail(ctx, id, actor, req.FailureReason)
	case model.PayoutStatusCancelled:
		return s.Cancel(ctx, id, actor, req.FailureReason)
	}
	return nil, errors.NewValidation(fmt.Sprintf("unsupported payout status %q", req.Status), nil)
}

type stepFunc func(ctx context.Context, tx repository.Repositories, p *model.Payout) error

func (s *Service) transition(ctx context.Context, id uuid.UUID, from, to model.PayoutStatus, upd model.PayoutUpdate, step stepFunc) (*model.Payout, error) {
	if !from.CanTransition(to) {
		return nil, errors.NewConflict(fmt.Sprintf("payout cannot move from %s to %s", from, to), nil)
	}
	upd.At = s.now().UTC()

	var payout *model.Payout
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		p, err := tx.Payouts().Transition(ctx, id, from, to, upd)
		if err != nil {
			return err
		}
		if step != nil {
			if err := step(ctx, tx, p); err != nil {
				return err
			}
		}
		if err := s.events.Emit(ctx, tx.Outbox(), model.AuditEntityPayout, p.ID, model.PayoutEvent(to), p); err != nil {
			return err
		}

		changes := map[string]interface{}{"from": from, "to": to}
		if upd.TransactionRef != "" {
			changes["transaction_ref"] = upd.TransactionRef
		}
		if upd.FailureReason != "" {
			changes["reason"] = upd.FailureReason
		}
		_, err = s.auditor.Record(ctx, tx.Audit(), audit.Entry{
			ActorID:    upd.Actor,
			Action:     model.AuditActionUpdate,
			EntityType: model.AuditEntityPayout,
			EntityID:   p.ID,
			Changes:    changes,
		})
		if err != nil {
			return err
		}
		payout = p
		return nil
	})
	if err != nil {
		if errors.IsRecordLocked(err) {
			s.ledger.RejectLockedWrite(ctx, "payout_"+string(to), model.AuditEntityPayout, id, upd.Actor, err)
		}
		return nil, err
	}

	s.metrics.PayoutTransitions.WithLabelValues(string(to)).Inc()
	s.logger.Info("Payout status changed",
		"payout_id", id.String(),
		"from", string(from),
		"to", string(to))
	return payout, nil
}

// Get returns the payout with the entries it covers.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.PayoutDetail, error) {
	p, err := s.store.Payouts().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.Ledger().List(ctx, &model.LedgerFilter{PayoutID: &p.ID})
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*model.LedgerEntry{}
	}
	return &model.PayoutDetail{Payout: p, Entries: entries}, nil
}

func (s *Service) List(ctx context.Context, filter *model.PayoutFilter, page model.Pagination) ([]*model.Payout, int, error) {
	return s.store.Payouts().List(ctx, filter, page)
}

// RunBatch creates payouts for every doctor with unclaimed earnings in the
// cycle period that ended before now. A failure for one doctor is logged and
// counted without stopping the others.
func (s *Service) RunBatch(ctx context.Context, cycle model.PayoutCycle, now time.Time) (*model.PayoutBatchResult, error) {
	period := cycle.PeriodEnding(now)
	result := &model.PayoutBatchResult{Cycle: cycle, Period: period, Created: []*model.Payout{}}

	doctors, err := s.store.Ledger().DoctorsWithPendingEntries(ctx, period)
	if err != nil {
		s.metrics.PayoutBatchRuns.WithLabelValues("error").Inc()
		return nil, err
	}
	result.Doctors = len(doctors)

	for _, doctorID := range doctors {
		if err := ctx.Err(); err != nil {
			s.metrics.PayoutBatchRuns.WithLabelValues("cancelled").Inc()
			return result, err
		}
		p, err := s.CreatePayout(ctx, doctorID, cycle, period, nil)
		switch {
		case err != nil:
			result.Failed++
			s.logger.Error(err, "Failed to create payout", "doctor_id", doctorID.String())
		case p == nil:
			result.Skipped++
		default:
			result.Created = append(result.Created, p)
		}
	}

	status := "success"
	if result.Failed > 0 {
		status = "partial"
	}
	s.metrics.PayoutBatchRuns.WithLabelValues(status).Inc()
	s.logger.Info("Payout batch finished",
		"cycle", string(cycle),
		"period_start", period.Start.Format(model.DateLayout),
		"period_end", period.End.Format(model.DateLayout),
		"doctors", result.Doctors,
		"created", len(result.Created),
		"skipped", result.Skipped,
		"failed", result.Failed)
	return result, nil
}
