package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/pkg/errors"
)

type payoutRepository struct {
	view
}

func (r payoutRepository) Create(ctx context.Context, payout *model.Payout) error {
	defer r.lock()()

	if payout == nil {
		return errNilRecord("payout")
	}
	for _, p := range r.s.d.payouts {
		if p.InvoiceNumber == payout.InvoiceNumber {
			return errors.NewConflict("invoice number already used", nil)
		}
	}
	if payout.ID == uuid.Nil {
		payout.ID = uuid.New()
	}
	r.stamp(&payout.CreatedAt)
	payout.UpdatedAt = payout.CreatedAt
	r.s.d.payouts[payout.ID] = *payout
	return nil
}

func (r payoutRepository) Get(ctx context.Context, id uuid.UUID) (*model.Payout, error) {
	defer r.lock()()

	p, ok := r.s.d.payouts[id]
	if !ok {
		return nil, errors.NewNotFound("payout", nil)
	}
	return &p, nil
}

func (r payoutRepository) List(ctx context.Context, filter *model.PayoutFilter, page model.Pagination) ([]*model.Payout, int, error) {
	defer r.lock()()

	var all []*model.Payout
	for _, p := range r.s.d.payouts {
		if filter != nil {
			if filter.DoctorID != nil && p.DoctorID != *filter.DoctorID {
				continue
			}
			if filter.Status != nil && p.Status != *filter.Status {
				continue
			}
			if filter.From != nil && p.PeriodStart.Before(*filter.From) {
				continue
			}
			if filter.To != nil && p.PeriodEnd.After(*filter.To) {
				continue
			}
		}
		p := p
		all = append(all, &p)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].InvoiceNumber > all[j].InvoiceNumber
	})
	start, end := paginate(len(all), page)
	return all[start:end], len(all), nil
}

func (r payoutRepository) Transition(ctx context.Context, id uuid.UUID, from, to model.PayoutStatus, upd model.PayoutUpdate) (*model.Payout, error) {
	defer r.lock()()

	p, ok := r.s.d.payouts[id]
	if !ok {
		return nil, errors.NewNotFound("payout", nil)
	}
	if p.Status != from {
		return nil, errors.NewConflict("payout is "+string(p.Status)+", expected "+string(from), nil)
	}
	if upd.At.IsZero() {
		upd.At = r.s.now().UTC()
	}
	p.Apply(to, upd)
	r.s.d.payouts[id] = p
	return &p, nil
}

func (r payoutRepository) NextInvoiceSequence(ctx context.Context, period string) (int64, error) {
	defer r.lock()()

	r.s.d.invoiceSeq[period]++
	return r.s.d.invoiceSeq[period], nil
}
