package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/pkg/errors"
)

type auditRepository struct {
	view
}

func (r auditRepository) Last(ctx context.Context) (*model.AuditLog, error) {
	defer r.lock()()

	if len(r.s.d.audit) == 0 {
		return nil, nil
	}
	last := r.s.d.audit[len(r.s.d.audit)-1]
	return &last, nil
}

func (r auditRepository) Create(ctx context.Context, log *model.AuditLog) error {
	defer r.lock()()

	if log == nil {
		return errNilRecord("audit log")
	}
	want := int64(len(r.s.d.audit)) + 1
	if log.Sequence != want {
		return errors.NewConflict(fmt.Sprintf("audit sequence %d out of order, expected %d", log.Sequence, want), nil)
	}
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	r.stamp(&log.CreatedAt)
	r.s.d.audit = append(r.s.d.audit, *log)
	return nil
}

func (r auditRepository) List(ctx context.Context, filter *model.AuditFilter) ([]*model.AuditLog, error) {
	defer r.lock()()

	var out []*model.AuditLog
	for _, l := range r.s.d.audit {
		if filter != nil {
			if filter.EntityType != "" && l.EntityType != filter.EntityType {
				continue
			}
			if filter.EntityID != nil && l.EntityID != *filter.EntityID {
				continue
			}
			if filter.ActorID != nil && (l.ActorID == nil || *l.ActorID != *filter.ActorID) {
				continue
			}
			if filter.From != nil && l.CreatedAt.Before(*filter.From) {
				continue
			}
			if filter.To != nil && !l.CreatedAt.Before(*filter.To) {
				continue
			}
		}
		l := l
		out = append(out, &l)
	}
	return out, nil
}

func (r auditRepository) Range(ctx context.Context, fromSeq, toSeq int64) ([]*model.AuditLog, error) {
	defer r.lock()()

	var out []*model.AuditLog
	for _, l := range r.s.d.audit {
		if l.Sequence < fromSeq || (toSeq > 0 && l.Sequence > toSeq) {
			continue
		}
		l := l
		out = append(out, &l)
	}
	return out, nil
}
