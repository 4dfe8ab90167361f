package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/repository"
	"github.com/jwalitptl/settlement-api/internal/service/audit"
	"github.com/jwalitptl/settlement-api/internal/service/commission"
	"github.com/jwalitptl/settlement-api/internal/service/event"
	"github.com/jwalitptl/settlement-api/internal/service/wallet"
	"github.com/jwalitptl/settlement-api/pkg/errors"
	"github.com/jwalitptl/settlement-api/pkg/logger"
	"github.com/jwalitptl/settlement-api/pkg/metrics"
	"github.com/jwalitptl/settlement-api/pkg/money"
	"github.com/jwalitptl/settlement-api/pkg/validator"
)

// Service orchestrates the appointment lifecycle. Create, confirm, cancel
// and complete each run as one transaction; any failing step rolls back
// every write of that operation, including the slot reservation.
type Service struct {
	store       repository.Store
	commissions *commission.Service
	wallets     *wallet.Service
	events      *event.Service
	auditor     *audit.Service
	validator   validator.Validator
	logger      *logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	store repository.Store,
	commissions *commission.Service,
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
		store:       store,
		commissions: commissions,
		wallets:     wallets,
		events:      events,
		auditor:     auditor,
		validator:   validator.New(),
		logger:      log,
		metrics:     m,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return s.store.Appointments().Get(ctx, id)
}

// Create reserves the slot and creates a pending appointment holding it.
func (s *Service) Create(ctx context.Context, req *model.CreateBookingRequest) (*model.BookingResult, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	fee, err := s.resolveFee(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	result := &model.BookingResult{}
	err = s.store.WithTx(ctx, func(tx repository.Repositories) error {
		appointmentID := uuid.New()
		slot, err := tx.Slots().Reserve(ctx, req.SlotID, req.SlotType, req.PatientID, appointmentID, now)
		if err != nil {
			if errors.IsConflict(err) {
				s.metrics.SlotConflicts.Inc()
			}
			return err
		}

		queue, err := tx.Appointments().NextQueueNumber(ctx, slot.DoctorID, slot.Date)
		if err != nil {
			return fmt.Errorf("failed to assign queue number: %w", err)
		}

		appt := &model.Appointment{
			ID:               appointmentID,
			PatientID:        req.PatientID,
			DoctorID:         slot.DoctorID,
			ClinicID:         slot.ClinicID,
			SlotID:           slot.ID,
			SlotType:         slot.Kind,
			Date:             slot.Date,
			Time:             slot.StartTime,
			ConsultationType: slot.Kind.ConsultationType(),
			ConsultationFee:  fee,
			Status:           model.AppointmentStatusPending,
			PaymentStatus:    model.PaymentStatusUnpaid,
			QueueNumber:      queue,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := tx.Appointments().Create(ctx, appt); err != nil {
			return err
		}

		if err := s.events.Emit(ctx, tx.Outbox(), model.AuditEntityAppointment, appt.ID, model.EventBookingCreated, appt); err != nil {
			return err
		}
		result.Appointment = appt
		result.Slot = slot
		return nil
	})
	if err != nil {
		s.metrics.BookingAttempts.WithLabelValues("create", outcome(err)).Inc()
		return nil, err
	}

	s.metrics.BookingAttempts.WithLabelValues("create", "success").Inc()
	s.logger.Info("Booking created",
		"appointment_id", result.Appointment.ID.String(),
		"slot_id", result.Slot.ID.String(),
		"queue_number", result.Appointment.QueueNumber)
	return result, nil
}

// resolveFee prices the booking from the slot. A slot's fee is fixed when it
// is generated, so reading it ahead of the reservation is safe.
func (s *Service) resolveFee(ctx context.Context, req *model.CreateBookingRequest) (money.Amount, error) {
	slot, err := s.store.Slots().Get(ctx, req.SlotID)
	if err != nil {
		return 0, err
	}
	switch {
	case slot.ConsultationFee.IsPositive():
		if req.ConsultationFee != 0 && req.ConsultationFee != slot.ConsultationFee {
			return 0, errors.NewValidation("consultation_fee does not match the slot price", nil)
		}
		return slot.ConsultationFee, nil
	case req.ConsultationFee.IsPositive():
		return req.ConsultationFee, nil
	}
	return 0, errors.NewValidation("consultation_fee is required for an unpriced slot", nil)
}

// Confirm computes the breakdown for a paid appointment and records the
// payment. A second confirmation fails with NotFound.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, req *model.ConfirmBookingRequest) (*model.Appointment, *model.LedgerEntry, error) {
	appt, err := s.store.Appointments().Get(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil, repository.ErrNotPending()
		}
		return nil, nil, err
	}
	if appt.Status != model.AppointmentStatusPending {
		return nil, nil, repository.ErrNotPending()
	}

	breakdown, err := s.commissions.CalculateFinancialBreakdown(ctx, &model.CalculateRequest{
		ConsultationFee:  appt.ConsultationFee,
		ConsultationType: appt.ConsultationType,
		ClinicID:         appt.ClinicID,
		DoctorID:         &appt.DoctorID,
	})
	if err != nil {
		return nil, nil, err
	}

	return s.ConfirmWithPayment(ctx, id, &model.PaymentDetails{
		PatientID:     req.PatientID,
		PaymentID:     req.PaymentID,
		PaymentMethod: req.PaymentMethod,
		Breakdown:     *breakdown,
	})
}

// ConfirmWithPayment moves the appointment pending -> confirmed and persists
// the already-resolved breakdown as its ledger entry. It never recomputes
// the amounts.
func (s *Service) ConfirmWithPayment(ctx context.Context, id uuid.UUID, details *model.PaymentDetails) (*model.Appointment, *model.LedgerEntry, error) {
	if err := s.validator.Validate(details); err != nil {
		return nil, nil, err
	}
	if !details.Breakdown.Consistent() {
		return nil, nil, errors.NewValidation("financial breakdown does not balance", nil)
	}

	now := s.now().UTC()
	var appt *model.Appointment
	var entry *model.LedgerEntry
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		var err error
		appt, err = tx.Appointments().Confirm(ctx, id, details.PaymentID, details.PaymentMethod, now)
		if err != nil {
			return err
		}
		if details.PatientID != nil && *details.PatientID != appt.PatientID {
			return errors.NewValidation("payment patient does not match appointment", nil)
		}
		if details.Breakdown.ConsultationFee != appt.ConsultationFee {
			return errors.NewValidation("breakdown fee does not match appointment fee", nil)
		}

		entry = model.NewPaymentEntry(appt, &details.Breakdown, details.PaymentID, details.PaymentMethod)
		entry.ID = uuid.New()
		entry.CreatedAt = now
		if err := tx.Ledger().Append(ctx, entry); err != nil {
			return err
		}
		if _, err := s.wallets.RecordEarning(ctx, tx, entry); err != nil {
			return err
		}

		if err := s.events.Emit(ctx, tx.Outbox(), model.AuditEntityAppointment, appt.ID, model.EventBookingConfirmed, appt); err != nil {
			return err
		}
		if err := s.events.Emit(ctx, tx.Outbox(), model.AuditEntityLedgerEntry, entry.ID, model.EventLedgerAppended, entry); err != nil {
			return err
		}
		_, err = s.auditor.Record(ctx, tx.Audit(), audit.Entry{
			ActorID:    &appt.PatientID,
			Action:     model.AuditActionConfirm,
			EntityType: model.AuditEntityAppointment,
			EntityID:   appt.ID,
			Changes: map[string]interface{}{
				"payment_id":        details.PaymentID,
				"ledger_entry_id":   entry.ID,
				"net_doctor_payout": entry.NetDoctorPayout,
				"commission_amount": entry.CommissionAmount,
			},
		})
		return err
	})
	if err != nil {
		s.metrics.BookingAttempts.WithLabelValues("confirm", outcome(err)).Inc()
		s.logFailure(err, "confirm", id)
		return nil, nil, err
	}

	s.metrics.BookingAttempts.WithLabelValues("confirm", "success").Inc()
	s.metrics.LedgerAppends.WithLabelValues(string(entry.TransactionType)).Inc()
	s.logger.Info("Booking confirmed",
		"appointment_id", appt.ID.String(),
		"ledger_entry_id", entry.ID.String(),
		"net_doctor_payout", entry.NetDoctorPayout.String())
	return appt, entry, nil
}

// Cancel cancels a pending or confirmed appointment and frees its slot. A
// paid appointment gets a compensating refund entry; the original entry is
// left untouched.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor *uuid.UUID, req *model.CancelBookingRequest) (*model.CancellationResult, error) {
	reason := ""
	if req != nil {
		if err := s.validator.Validate(req); err != nil {
			return nil, err
		}
		reason = req.Reason
	}

	now := s.now().UTC()
	result := &model.CancellationResult{}
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		appt, err := tx.Appointments().Cancel(ctx, id, actor, reason, now)
		if err != nil {
			return err
		}
		slot, err := tx.Slots().Release(ctx, appt.SlotID)
		if err != nil {
			return fmt.Errorf("failed to release slot: %w", err)
		}
		result.Appointment = appt
		result.Slot = slot

		changes := map[string]interface{}{"reason": reason}
		if appt.PaymentStatus == model.PaymentStatusPaid {
			orig, err := tx.Ledger().GetByAppointment(ctx, appt.ID, model.TransactionTypeBookingPayment)
			if err != nil {
				return fmt.Errorf("failed to load payment entry: %w", err)
			}
			refund := model.NewRefundEntry(orig, reason)
			refund.ID = uuid.New()
			refund.CreatedAt = now
			if err := tx.Ledger().Append(ctx, refund); err != nil {
				return err
			}
			if _, err := s.wallets.RecordRefund(ctx, tx, refund); err != nil {
				return err
			}
			if err := s.events.Emit(ctx, tx.Outbox(), model.AuditEntityLedgerEntry, refund.ID, model.EventLedgerAppended, refund); err != nil {
				return err
			}
			result.RefundEntry = refund
			changes["refund_entry_id"] = refund.ID
			changes["refund_amount"] = refund.TotalPatientPaid
		}

		if err := s.events.Emit(ctx, tx.Outbox(), model.AuditEntityAppointment, appt.ID, model.EventBookingCancelled, result); err != nil {
			return err
		}
		_, err = s.auditor.Record(ctx, tx.Audit(), audit.Entry{
			ActorID:    actor,
			Action:     model.AuditActionCancel,
			EntityType: model.AuditEntityAppointment,
			EntityID:   appt.ID,
			Changes:    changes,
		})
		return err
	})
	if err != nil {
		s.metrics.BookingAttempts.WithLabelValues("cancel", outcome(err)).Inc()
		s.logFailure(err, "cancel", id)
		return nil, err
	}

	s.metrics.BookingAttempts.WithLabelValues("cancel", "success").Inc()
	if result.RefundEntry != nil {
		s.metrics.LedgerAppends.WithLabelValues(string(result.RefundEntry.TransactionType)).Inc()
	}
	s.logger.Info("Booking cancelled",
		"appointment_id", id.String(),
		"slot_id", result.Slot.ID.String(),
		"refunded", result.RefundEntry != nil)
	return result, nil
}

// Complete marks a confirmed appointment as completed.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*model.Appointment, error) {
	now := s.now().UTC()
	var appt *model.Appointment
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		var err error
		appt, err = tx.Appointments().Complete(ctx, id, now)
		if err != nil {
			return err
		}
		if err := s.events.Emit(ctx, tx.Outbox(), model.AuditEntityAppointment, appt.ID, model.EventBookingCompleted, appt); err != nil {
			return err
		}
		_, err = s.auditor.Record(ctx, tx.Audit(), audit.Entry{
			ActorID:    actor,
			Action:     model.AuditActionComplete,
			EntityType: model.AuditEntityAppointment,
			EntityID:   appt.ID,
		})
		return err
	})
	if err != nil {
		s.metrics.BookingAttempts.WithLabelValues("complete", outcome(err)).Inc()
		return nil, err
	}
	s.metrics.BookingAttempts.WithLabelValues("complete", "success").Inc()
	s.logger.Info("Booking completed", "appointment_id", id.String())
	return appt, nil
}

// logFailure logs invariant breaches at error level; expected outcomes such
// as conflicts are left to the caller.
func (s *Service) logFailure(err error, op string, id uuid.UUID) {
	if errors.IsRecordLocked(err) {
		s.metrics.LockedWriteAttempts.WithLabelValues(op).Inc()
		s.logger.Error(err, "Write to locked ledger entry rejected", "operation", op, "appointment_id", id.String())
		return
	}
	if appErr, ok := errors.As(err); !ok || appErr.Code == errors.ErrInternal {
		s.logger.Error(err, "Booking operation failed", "operation", op, "appointment_id", id.String())
	}
}

func outcome(err error) string {
	switch {
	case errors.IsConflict(err):
		return "conflict"
	case errors.IsNotFound(err):
		return "not_found"
	case errors.IsValidation(err):
		return "invalid"
	case errors.IsRecordLocked(err):
		return "locked"
	default:
		return "error"
	}
}
