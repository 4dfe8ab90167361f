package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/repository"
	"github.com/jwalitptl/settlement-api/internal/service/audit"
	"github.com/jwalitptl/settlement-api/internal/service/event"
	"github.com/jwalitptl/settlement-api/pkg/errors"
	"github.com/jwalitptl/settlement-api/pkg/logger"
	"github.com/jwalitptl/settlement-api/pkg/metrics"
)

type Service struct {
	store   repository.Store
	events  *event.Service
	auditor *audit.Service
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store repository.Store, events *event.Service, auditor *audit.Service, log *logger.Logger, m *metrics.Metrics, opts ...Option) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	s := &Service{
		store:   store,
		events:  events,
		auditor: auditor,
		logger:  log,
		metrics: m,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.LedgerEntry, error) {
	return s.store.Ledger().Get(ctx, id)
}

// List returns the entries matching filter, oldest first.
func (s *Service) List(ctx context.Context, filter *model.LedgerFilter) ([]*model.LedgerEntry, error) {
	if filter == nil {
		filter = &model.LedgerFilter{}
	}
	return s.store.Ledger().List(ctx, filter)
}

// Lock makes an entry immutable. Locking an already locked entry is a
// rejected write: it fails with RecordLocked and leaves an audit record.
func (s *Service) Lock(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*model.LedgerEntry, error) {
	now := s.now().UTC()
	var entry *model.LedgerEntry
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		var err error
		entry, err = tx.Ledger().Lock(ctx, id, actor, now)
		if err != nil {
			return err
		}
		if err := s.events.Emit(ctx, tx.Outbox(), model.AuditEntityLedgerEntry, entry.ID, model.EventLedgerLocked, entry); err != nil {
			return err
		}
		_, err = s.auditor.Record(ctx, tx.Audit(), audit.Entry{
			ActorID:    actor,
			Action:     model.AuditActionLock,
			EntityType: model.AuditEntityLedgerEntry,
			EntityID:   entry.ID,
		})
		return err
	})
	if err != nil {
		if errors.IsRecordLocked(err) {
			s.RejectLockedWrite(ctx, "lock", model.AuditEntityLedgerEntry, id, actor, err)
		}
		return nil, err
	}

	s.metrics.LedgerLocks.Inc()
	s.logger.Info("Ledger entry locked", "entry_id", id.String())
	return entry, nil
}

// RejectLockedWrite records an attempted write to locked ledger data. It runs
// in its own transaction because the rejected one has already rolled back.
func (s *Service) RejectLockedWrite(ctx context.Context, operation, entityType string, entityID uuid.UUID, actor *uuid.UUID, cause error) {
	s.metrics.LockedWriteAttempts.WithLabelValues(operation).Inc()

	fields := []interface{}{"operation", operation, "entity_type", entityType, "entity_id", entityID.String()}
	if actor != nil {
		fields = append(fields, "actor_id", actor.String())
	}
	s.logger.Error(cause, "Write to locked ledger entry rejected", fields...)

	err := s.auditor.Log(ctx, audit.Entry{
		ActorID:    actor,
		Action:     model.AuditActionLockedWrite,
		EntityType: entityType,
		EntityID:   entityID,
		Changes:    map[string]interface{}{"operation": operation},
	})
	if err != nil {
		s.logger.Error(err, "Failed to audit locked write", fields...)
	}
}

// PendingEarnings summarises the doctor's entries that no payout has
// claimed yet.
func (s *Service) PendingEarnings(ctx context.Context, doctorID uuid.UUID) (*model.PendingEarnings, error) {
	entries, err := s.store.Ledger().List(ctx, &model.LedgerFilter{
		DoctorID:     &doctorID,
		Status:       []model.LedgerStatus{model.LedgerStatusCompleted, model.LedgerStatusPendingRefund},
		PayoutStatus: []model.EntryPayoutStatus{model.EntryPayoutPending},
	})
	if err != nil {
		return nil, err
	}

	out := &model.PendingEarnings{DoctorID: doctorID, EntryIDs: []uuid.UUID{}, Entries: entries}
	for _, e := range entries {
		out.Totals.Add(e)
		out.EntryIDs = append(out.EntryIDs, e.ID)
		if out.OldestEntry == nil {
			created := e.CreatedAt
			out.OldestEntry = &created
		}
	}
	out.NetAmount = out.Totals.NetDoctorPayout
	return out, nil
}

// DoctorReport builds the doctor's statement for period. Refunds are kept
// apart from the booking totals so both gross and net figures are visible.
func (s *Service) DoctorReport(ctx context.Context, doctorID uuid.UUID, period model.Period) (*model.DoctorEarningsReport, error) {
	if err := validatePeriod(period); err != nil {
		return nil, err
	}
	entries, err := s.store.Ledger().List(ctx, &model.LedgerFilter{
		DoctorID: &doctorID,
		From:     &period.Start,
		To:       &period.End,
	})
	if err != nil {
		return nil, err
	}

	report := &model.DoctorEarningsReport{
		DoctorID: doctorID,
		Period:   period,
		Entries:  entries,
	}
	if report.Entries == nil {
		report.Entries = []*model.LedgerEntry{}
	}
	for _, e := range entries {
		if e.TransactionType == model.TransactionTypeRefund {
			report.Refunds.Add(e)
		} else {
			report.Totals.Add(e)
		}
		switch e.PayoutStatus {
		case model.EntryPayoutCompleted:
			report.CompletedPayout += e.NetDoctorPayout
		case model.EntryPayoutPending, model.EntryPayoutScheduled, model.EntryPayoutProcessing:
			report.PendingPayout += e.NetDoctorPayout
		}
	}
	return report, nil
}

// RevenueReport aggregates platform revenue for period across all doctors.
func (s *Service) RevenueReport(ctx context.Context, period model.Period) (*model.RevenueReport, error) {
	if err := validatePeriod(period); err != nil {
		return nil, err
	}
	entries, err := s.store.Ledger().List(ctx, &model.LedgerFilter{From: &period.Start, To: &period.End})
	if err != nil {
		return nil, err
	}

	report := &model.RevenueReport{
		Period:             period,
		ByConsultationType: make(map[model.ConsultationType]model.LedgerTotals),
	}
	for _, e := range entries {
		if e.TransactionType == model.TransactionTypeRefund {
			report.Refunds.Add(e)
		} else {
			report.Totals.Add(e)
		}
		t := report.ByConsultationType[e.ConsultationType]
		t.Add(e)
		report.ByConsultationType[e.ConsultationType] = t
	}
	return report, nil
}

func validatePeriod(p model.Period) error {
	if p.Start.IsZero() || p.End.IsZero() {
		return errors.NewValidation("period start and end are required", nil)
	}
	if !p.End.After(p.Start) {
		return errors.NewValidation(fmt.Sprintf("period end %s must be after start %s",
			p.End.Format(model.DateLayout), p.Start.Format(model.DateLayout)), nil)
	}
	return nil
}
