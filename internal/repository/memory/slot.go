package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/pkg/errors"
)

type slotRepository struct {
	view
}

type slotKey struct {
	doctorID  uuid.UUID
	clinicID  uuid.UUID
	date      string
	startTime string
	kind      model.SlotKind
}

func keyOf(s *model.Slot) slotKey {
	k := slotKey{
		doctorID:  s.DoctorID,
		date:      s.Date.Format(model.DateLayout),
		startTime: s.StartTime,
		kind:      s.Kind,
	}
	if s.ClinicID != nil {
		k.clinicID = *s.ClinicID
	}
	return k
}

func (r slotRepository) CreateBatch(ctx context.Context, slots []*model.Slot) (int, error) {
	defer r.lock()()

	taken := make(map[slotKey]bool, len(r.s.d.slots))
	for _, existing := range r.s.d.slots {
		existing := existing
		taken[keyOf(&existing)] = true
	}

	created := 0
	for _, slot := range slots {
		if slot == nil {
			return created, errNilRecord("slot")
		}
		k := keyOf(slot)
		if taken[k] {
			continue
		}
		if slot.ID == uuid.Nil {
			slot.ID = uuid.New()
		}
		r.stamp(&slot.CreatedAt)
		slot.UpdatedAt = slot.CreatedAt
		r.s.d.slots[slot.ID] = *slot
		taken[k] = true
		created++
	}
	return created, nil
}

func (r slotRepository) Get(ctx context.Context, id uuid.UUID) (*model.Slot, error) {
	defer r.lock()()

	slot, ok := r.s.d.slots[id]
	if !ok {
		return nil, errors.NewNotFound("slot", nil)
	}
	return &slot, nil
}

func (r slotRepository) Reserve(ctx context.Context, id uuid.UUID, kind model.SlotKind, bookedBy, appointmentID uuid.UUID, at time.Time) (*model.Slot, error) {
	defer r.lock()()

	slot, ok := r.s.d.slots[id]
	if !ok {
		return nil, errors.NewNotFound("slot", nil)
	}
	if slot.Kind != kind || !slot.Available() {
		return nil, errors.NewConflict("slot unavailable", nil)
	}

	slot.IsBooked = true
	slot.BookedBy = &bookedBy
	slot.AppointmentID = &appointmentID
	slot.BookedAt = &at
	slot.UpdatedAt = at
	r.s.d.slots[id] = slot
	return &slot, nil
}

func (r slotRepository) Release(ctx context.Context, id uuid.UUID) (*model.Slot, error) {
	defer r.lock()()

	slot, ok := r.s.d.slots[id]
	if !ok {
		return nil, errors.NewNotFound("slot", nil)
	}
	if slot.IsBooked || slot.AppointmentID != nil {
		slot.ClearBooking()
		slot.UpdatedAt = r.s.now().UTC()
		r.s.d.slots[id] = slot
	}
	return &slot, nil
}

func (r slotRepository) SetBlocked(ctx context.Context, id uuid.UUID, blocked bool) (*model.Slot, error) {
	defer r.lock()()

	slot, ok := r.s.d.slots[id]
	if !ok {
		return nil, errors.NewNotFound("slot", nil)
	}
	if slot.IsBooked {
		return nil, errors.NewConflict("slot is booked", nil)
	}
	slot.IsBlocked = blocked
	slot.UpdatedAt = r.s.now().UTC()
	r.s.d.slots[id] = slot
	return &slot, nil
}

func (r slotRepository) ListAvailable(ctx context.Context, doctorID uuid.UUID, date time.Time, kind *model.SlotKind) ([]*model.Slot, error) {
	defer r.lock()()

	day := date.Format(model.DateLayout)
	var out []*model.Slot
	for _, slot := range r.s.d.slots {
		if slot.DoctorID != doctorID || slot.Date.Format(model.DateLayout) != day || !slot.Available() {
			continue
		}
		if kind != nil && slot.Kind != *kind {
			continue
		}
		slot := slot
		out = append(out, &slot)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}

func (r slotRepository) CountForDay(ctx context.Context, doctorID uuid.UUID, kind model.SlotKind, date time.Time) (int, error) {
	defer r.lock()()

	day := date.Format(model.DateLayout)
	n := 0
	for _, slot := range r.s.d.slots {
		if slot.DoctorID == doctorID && slot.Kind == kind && slot.Date.Format(model.DateLayout) == day {
			n++
		}
	}
	return n, nil
}
