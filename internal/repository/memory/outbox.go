package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/pkg/errors"
)

type outboxRepository struct {
	view
}

func (r outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	defer r.lock()()

	if event == nil {
		return errNilRecord("event")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = model.OutboxStatusPending
	}
	r.stamp(&event.CreatedAt)
	event.UpdatedAt = event.CreatedAt
	r.s.d.outbox[event.ID] = *event
	return nil
}

func (r outboxRepository) GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	defer r.lock()()

	now := r.s.now()
	var out []*model.OutboxEvent
	for _, e := range r.s.d.outbox {
		if e.Status != model.OutboxStatusPending || (e.RetryAt != nil && e.RetryAt.After(now)) {
			continue
		}
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r outboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error {
	defer r.lock()()

	e, ok := r.s.d.outbox[id]
	if !ok {
		return errors.NewNotFound("outbox event", nil)
	}
	now := r.s.now().UTC()
	e.Status = status
	e.ErrorMessage = errorMessage
	e.RetryAt = retryAt
	if errorMessage != nil {
		e.RetryCount++
	}
	if status == model.OutboxStatusProcessed {
		e.ProcessedAt = &now
	}
	e.UpdatedAt = now
	r.s.d.outbox[id] = e
	return nil
}

func (r outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	defer r.lock()()

	var n int64
	for id, e := range r.s.d.outbox {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			delete(r.s.d.outbox, id)
			n++
		}
	}
	return n, nil
}
