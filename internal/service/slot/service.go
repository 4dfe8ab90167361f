package slot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/repository"
	"github.com/jwalitptl/settlement-api/internal/service/audit"
	"github.com/jwalitptl/settlement-api/pkg/errors"
	"github.com/jwalitptl/settlement-api/pkg/logger"
	"github.com/jwalitptl/settlement-api/pkg/validator"
)

const (
	clockLayout = "15:04"
	// MaxGenerateDays bounds a single generation request.
	MaxGenerateDays = 90
)

// Window is the working day slots are cut from.
type Window struct {
	Start    string
	End      string
	Duration time.Duration
	// BreakStart and BreakEnd exclude slots starting inside the break.
	BreakStart string
	BreakEnd   string
}

// DefaultWindow returns the working day used when a request does not give one.
func DefaultWindow(kind model.SlotKind) Window {
	if kind == model.SlotKindClinic {
		return Window{Start: "09:00", End: "19:00", Duration: 30 * time.Minute, BreakStart: "13:00", BreakEnd: "14:00"}
	}
	return Window{Start: "08:00", End: "20:00", Duration: 20 * time.Minute}
}

type Service struct {
	store     repository.Store
	auditor   *audit.Service
	validator validator.Validator
	logger    *logger.Logger
}

func NewService(store repository.Store, auditor *audit.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{store: store, auditor: auditor, validator: validator.New(), logger: log}
}

// Generate creates slots for every day in [From, To]. Days that already
// have slots of the requested kind are skipped whole.
func (s *Service) Generate(ctx context.Context, req *model.GenerateSlotsRequest) (*model.GenerateSlotsResult, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	if req.Kind == model.SlotKindClinic && req.ClinicID == nil {
		return nil, errors.NewValidation("clinic_id is required for clinic slots", nil)
	}
	from, err := model.ParseDay(req.From)
	if err != nil {
		return nil, errors.NewValidation(err.Error(), err)
	}
	to, err := model.ParseDay(req.To)
	if err != nil {
		return nil, errors.NewValidation(err.Error(), err)
	}
	if to.Before(from) {
		return nil, errors.NewValidation("to must not be before from", nil)
	}
	if days := int(to.Sub(from).Hours()/24) + 1; days > MaxGenerateDays {
		return nil, errors.NewValidation(fmt.Sprintf("cannot generate more than %d days at once", MaxGenerateDays), nil)
	}

	window := DefaultWindow(req.Kind)
	if req.StartTime != "" {
		window.Start = req.StartTime
	}
	if req.EndTime != "" {
		window.End = req.EndTime
	}
	if req.DurationMinutes > 0 {
		window.Duration = time.Duration(req.DurationMinutes) * time.Minute
	}
	times, err := window.Times()
	if err != nil {
		return nil, err
	}

	result := &model.GenerateSlotsResult{}
	err = s.store.WithTx(ctx, func(tx repository.Repositories) error {
		for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
			if req.SkipWeekends && (day.Weekday() == time.Saturday || day.Weekday() == time.Sunday) {
				continue
			}
			existing, err := tx.Slots().CountForDay(ctx, req.DoctorID, req.Kind, day)
			if err != nil {
				return fmt.Errorf("failed to count slots: %w", err)
			}
			if existing > 0 {
				result.Skipped++
				continue
			}

			batch := make([]*model.Slot, 0, len(times))
			for _, t := range times {
				batch = append(batch, &model.Slot{
					DoctorID:        req.DoctorID,
					ClinicID:        req.ClinicID,
					Kind:            req.Kind,
					Date:            day,
					StartTime:       t[0],
					EndTime:         t[1],
					DurationMinutes: int(window.Duration / time.Minute),
					ConsultationFee: req.ConsultationFee,
				})
			}
			n, err := tx.Slots().CreateBatch(ctx, batch)
			if err != nil {
				return fmt.Errorf("failed to create slots: %w", err)
			}
			result.Created += n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Generated slots",
		"doctor_id", req.DoctorID.String(),
		"kind", string(req.Kind),
		"created", result.Created,
		"skipped_days", result.Skipped)
	return result, nil
}

// Times lists the [start, end] clock times of every slot in the window.
func (w Window) Times() ([][2]string, error) {
	start, err := parseClock("start_time", w.Start)
	if err != nil {
		return nil, err
	}
	end, err := parseClock("end_time", w.End)
	if err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, errors.NewValidation("end_time must be after start_time", nil)
	}
	if w.Duration <= 0 {
		return nil, errors.NewValidation("duration must be positive", nil)
	}

	var breakStart, breakEnd time.Time
	hasBreak := w.BreakStart != "" && w.BreakEnd != ""
	if hasBreak {
		if breakStart, err = parseClock("break_start", w.BreakStart); err != nil {
			return nil, err
		}
		if breakEnd, err = parseClock("break_end", w.BreakEnd); err != nil {
			return nil, err
		}
	}

	var out [][2]string
	for t := start; !t.Add(w.Duration).After(end); t = t.Add(w.Duration) {
		if hasBreak && !t.Before(breakStart) && t.Before(breakEnd) {
			continue
		}
		out = append(out, [2]string{t.Format(clockLayout), t.Add(w.Duration).Format(clockLayout)})
	}
	return out, nil
}

func parseClock(field, v string) (time.Time, error) {
	t, err := time.Parse(clockLayout, v)
	if err != nil {
		return time.Time{}, errors.NewValidation(fmt.Sprintf("%s must be HH:MM", field), err)
	}
	return t, nil
}

// ListAvailable returns the free slots of a doctor-day sorted by start time.
func (s *Service) ListAvailable(ctx context.Context, doctorID uuid.UUID, date time.Time, kind *model.SlotKind) ([]*model.Slot, error) {
	if kind != nil && !kind.Valid() {
		return nil, errors.NewValidation(fmt.Sprintf("unknown slot kind %q", *kind), nil)
	}
	return s.store.Slots().ListAvailable(ctx, doctorID, model.Day(date), kind)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Slot, error) {
	return s.store.Slots().Get(ctx, id)
}

func (s *Service) Block(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*model.Slot, error) {
	return s.setBlocked(ctx, id, true, actor)
}

func (s *Service) Unblock(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*model.Slot, error) {
	return s.setBlocked(ctx, id, false, actor)
}

func (s *Service) setBlocked(ctx context.Context, id uuid.UUID, blocked bool, actor *uuid.UUID) (*model.Slot, error) {
	action := model.AuditActionUnblock
	if blocked {
		action = model.AuditActionBlock
	}

	var slot *model.Slot
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		var err error
		slot, err = tx.Slots().SetBlocked(ctx, id, blocked)
		if err != nil {
			return err
		}
		_, err = s.auditor.Record(ctx, tx.Audit(), audit.Entry{
			ActorID:    actor,
			Action:     action,
			EntityType: model.AuditEntitySlot,
			EntityID:   id,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Updated slot blocking", "slot_id", id.String(), "blocked", blocked)
	return slot, nil
}
