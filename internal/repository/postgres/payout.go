package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/pkg/errors"
)

const payoutColumns = `id, doctor_id, invoice_number, payout_cycle, period_start, period_end, total_amount, summary, status,
	retry_count, failure_reason, transaction_ref, approved_by, approved_at, processed_at, completed_at,
	created_at, updated_at`

type payoutRepository struct {
	BaseRepository
}

func (r *payoutRepository) Create(ctx context.Context, payout *model.Payout) error {
	query := `
		INSERT INTO payouts (
			id, doctor_id, invoice_number, payout_cycle, period_start, period_end, total_amount, summary,
			status, retry_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`
	if payout.ID == uuid.Nil {
		payout.ID = uuid.New()
	}
	if payout.CreatedAt.IsZero() {
		payout.CreatedAt = time.Now().UTC()
	}
	payout.UpdatedAt = payout.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		payout.ID,
		payout.DoctorID,
		payout.InvoiceNumber,
		payout.Cycle,
		payout.PeriodStart,
		payout.PeriodEnd,
		payout.TotalAmount,
		payout.Summary,
		payout.Status,
		payout.RetryCount,
		payout.CreatedAt,
	)
	if err != nil {
		return mapError(err, "failed to create payout")
	}
	return nil
}

func (r *payoutRepository) Get(ctx context.Context, id uuid.UUID) (*model.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE id = $1`

	var payout model.Payout
	if err := r.db.GetContext(ctx, &payout, query, id); err != nil {
		if isNoRows(err) {
			return nil, errors.NewNotFound("payout", nil)
		}
		return nil, mapError(err, "failed to get payout")
	}
	return &payout, nil
}

func (r *payoutRepository) List(ctx context.Context, filter *model.PayoutFilter, page model.Pagination) ([]*model.Payout, int, error) {
	var clauses []string
	var args []interface{}
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter != nil {
		if filter.DoctorID != nil {
			add("doctor_id = $%d", *filter.DoctorID)
		}
		if filter.Status != nil {
			add("status = $%d", string(*filter.Status))
		}
		if filter.From != nil {
			add("period_start >= $%d", *filter.From)
		}
		if filter.To != nil {
			add("period_end <= $%d", *filter.To)
		}
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM payouts`+where, args...); err != nil {
		return nil, 0, mapError(err, "failed to count payouts")
	}

	page = page.Normalize()
	query := fmt.Sprintf(`SELECT %s FROM payouts%s ORDER BY created_at DESC, invoice_number DESC LIMIT %d OFFSET %d`,
		payoutColumns, where, page.PageSize, page.Offset())

	payouts := []*model.Payout{}
	if err := r.db.SelectContext(ctx, &payouts, query, args...); err != nil {
		return nil, 0, mapError(err, "failed to list payouts")
	}
	return payouts, total, nil
}

// Transition row-locks the payout, checks its status and writes the new
// state in the same transaction.
func (r *payoutRepository) Transition(ctx context.Context, id uuid.UUID, from, to model.PayoutStatus, upd model.PayoutUpdate) (*model.Payout, error) {
	var payout model.Payout
	if err := r.db.GetContext(ctx, &payout, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1 FOR UPDATE`, id); err != nil {
		if isNoRows(err) {
			return nil, errors.NewNotFound("payout", nil)
		}
		return nil, mapError(err, "failed to get payout")
	}
	if payout.Status != from {
		return nil, errors.NewConflict("payout is "+string(payout.Status)+", expected "+string(from), nil)
	}
	if upd.At.IsZero() {
		upd.At = time.Now().UTC()
	}
	payout.Apply(to, upd)

	query := `
		UPDATE payouts
		SET status = $2, retry_count = $3, failure_reason = $4, transaction_ref = $5, approved_by = $6,
			approved_at = $7, processed_at = $8, completed_at = $9, updated_at = $10
		WHERE id = $1 AND status = $11
	`
	result, err := r.db.ExecContext(ctx, query,
		payout.ID,
		payout.Status,
		payout.RetryCount,
		payout.FailureReason,
		payout.TransactionRef,
		payout.ApprovedBy,
		payout.ApprovedAt,
		payout.ProcessedAt,
		payout.CompletedAt,
		payout.UpdatedAt,
		from,
	)
	if err != nil {
		return nil, mapError(err, "failed to update payout")
	}
	if n, _ := result.RowsAffected(); n != 1 {
		return nil, errors.NewConflict("payout changed concurrently", nil)
	}
	return &payout, nil
}

func (r *payoutRepository) NextInvoiceSequence(ctx context.Context, period string) (int64, error) {
	query := `
		INSERT INTO payout_invoice_sequences (period, last_value) VALUES ($1, 1)
		ON CONFLICT (period) DO UPDATE SET last_value = payout_invoice_sequences.last_value + 1
		RETURNING last_value
	`
	var seq int64
	if err := r.db.GetContext(ctx, &seq, query, period); err != nil {
		return 0, mapError(err, "failed to allocate invoice number")
	}
	return seq, nil
}
