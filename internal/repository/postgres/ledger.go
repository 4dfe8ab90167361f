package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/pkg/errors"
)

const ledgerColumns = `id, appointment_id, doctor_id, clinic_id, patient_id, transaction_type, consultation_type,
	consultation_fee, commission_type, commission_rate, commission_amount, intro_offer_type, gst_rate, gst_amount,
	gateway_fee_amount, gateway_gst, gateway_total, total_patient_paid, net_doctor_payout, net_platform_revenue,
	platform_gst_liability, config_id, status, payout_status, payout_id, payment_id, payment_method,
	refund_of_id, refund_reason, is_locked, locked_at, locked_by, created_at, updated_at`

const payoutEligibleClause = `payout_status = 'pending' AND payout_id IS NULL AND NOT is_locked
	AND ((transaction_type = 'booking_payment' AND status = 'completed')
		OR (transaction_type = 'refund' AND status = 'pending_refund'))`

// payoutPeriodClause bounds payments to the period. Refunds created before
// its end carry forward until a payout nets them off.
func payoutPeriodClause(start, end string) string {
	return `created_at < ` + end + ` AND (transaction_type = 'refund' OR created_at >= ` + start + `)`
}

type ledgerRepository struct {
	BaseRepository
}

func (r *ledgerRepository) Append(ctx context.Context, entry *model.LedgerEntry) error {
	var existing []struct {
		ID       uuid.UUID `db:"id"`
		IsLocked bool      `db:"is_locked"`
	}
	err := r.db.SelectContext(ctx, &existing, `
		SELECT id, is_locked FROM financial_ledger
		WHERE (appointment_id = $1 AND transaction_type = $2) OR id = $3
		FOR UPDATE`,
		entry.AppointmentID, entry.TransactionType, entry.ID)
	if err != nil {
		return mapError(err, "failed to check ledger entry")
	}
	for _, e := range existing {
		if e.IsLocked {
			return errors.NewRecordLocked("ledger entry", e.ID)
		}
		return errors.NewConflict("ledger entry already exists for appointment", nil)
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.UpdatedAt = entry.CreatedAt

	query := `
		INSERT INTO financial_ledger (` + ledgerColumns + `)
		VALUES (
			:id, :appointment_id, :doctor_id, :clinic_id, :patient_id, :transaction_type, :consultation_type,
			:consultation_fee, :commission_type, :commission_rate, :commission_amount, :intro_offer_type, :gst_rate,
			:gst_amount, :gateway_fee_amount, :gateway_gst, :gateway_total, :total_patient_paid, :net_doctor_payout,
			:net_platform_revenue, :platform_gst_liability, :config_id, :status, :payout_status, :payout_id,
			:payment_id, :payment_method, :refund_of_id, :refund_reason, :is_locked, :locked_at, :locked_by,
			:created_at, :updated_at
		)
	`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, entry); err != nil {
		if constraintOf(err) == "financial_ledger_appointment_type_key" {
			return errors.NewConflict("ledger entry already exists for appointment", err)
		}
		return mapError(err, "failed to append ledger entry")
	}
	return nil
}

func (r *ledgerRepository) Get(ctx context.Context, id uuid.UUID) (*model.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM financial_ledger WHERE id = $1`

	var entry model.LedgerEntry
	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		if isNoRows(err) {
			return nil, errors.NewNotFound("ledger entry", nil)
		}
		return nil, mapError(err, "failed to get ledger entry")
	}
	return &entry, nil
}

func (r *ledgerRepository) GetByAppointment(ctx context.Context, appointmentID uuid.UUID, txType model.TransactionType) (*model.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM financial_ledger WHERE appointment_id = $1 AND transaction_type = $2`

	var entry model.LedgerEntry
	if err := r.db.GetContext(ctx, &entry, query, appointmentID, txType); err != nil {
		if isNoRows(err) {
			return nil, errors.NewNotFound("ledger entry", nil)
		}
		return nil, mapError(err, "failed to get ledger entry")
	}
	return &entry, nil
}

func (r *ledgerRepository) Lock(ctx context.Context, id uuid.UUID, actor *uuid.UUID, at time.Time) (*model.LedgerEntry, error) {
	query := `
		UPDATE financial_ledger
		SET is_locked = TRUE, locked_at = $2, locked_by = $3, updated_at = $2
		WHERE id = $1 AND NOT is_locked
		RETURNING ` + ledgerColumns

	var entry model.LedgerEntry
	err := r.db.GetContext(ctx, &entry, query, id, at, actor)
	if err == nil {
		return &entry, nil
	}
	if !isNoRows(err) {
		return nil, mapError(err, "failed to lock ledger entry")
	}
	if _, getErr := r.Get(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, errors.NewRecordLocked("ledger entry", id)
}

// where renders the filter as a WHERE clause with positional args.
func ledgerWhere(filter *model.LedgerFilter) (string, []interface{}) {
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
		if filter.ClinicID != nil {
			add("clinic_id = $%d", *filter.ClinicID)
		}
		if filter.PayoutID != nil {
			add("payout_id = $%d", *filter.PayoutID)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, len(filter.Status))
			for i, s := range filter.Status {
				statuses[i] = string(s)
			}
			add("status = ANY($%d)", pq.Array(statuses))
		}
		if len(filter.PayoutStatus) > 0 {
			statuses := make([]string, len(filter.PayoutStatus))
			for i, s := range filter.PayoutStatus {
				statuses[i] = string(s)
			}
			add("payout_status = ANY($%d)", pq.Array(statuses))
		}
		if filter.TransactionType != nil {
			add("transaction_type = $%d", string(*filter.TransactionType))
		}
		if filter.From != nil {
			add("created_at >= $%d", *filter.From)
		}
		if filter.To != nil {
			add("created_at < $%d", *filter.To)
		}
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *ledgerRepository) List(ctx context.Context, filter *model.LedgerFilter) ([]*model.LedgerEntry, error) {
	where, args := ledgerWhere(filter)
	query := `SELECT ` + ledgerColumns + ` FROM financial_ledger` + where + ` ORDER BY created_at ASC, id ASC`
	if filter != nil && filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	entries := []*model.LedgerEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, mapError(err, "failed to list ledger entries")
	}
	return entries, nil
}

func (r *ledgerRepository) Totals(ctx context.Context, filter *model.LedgerFilter) (*model.LedgerTotals, error) {
	where, args := ledgerWhere(filter)
	query := `
		SELECT
			COUNT(*) AS count,
			COALESCE(SUM(consultation_fee), 0)::bigint AS consultation_fees,
			COALESCE(SUM(commission_amount), 0)::bigint AS commission,
			COALESCE(SUM(gst_amount), 0)::bigint AS gst,
			COALESCE(SUM(gateway_total), 0)::bigint AS gateway_fees,
			COALESCE(SUM(total_patient_paid), 0)::bigint AS total_patient_paid,
			COALESCE(SUM(net_doctor_payout), 0)::bigint AS net_doctor_payout,
			COALESCE(SUM(net_platform_revenue), 0)::bigint AS net_platform_revenue,
			COALESCE(SUM(platform_gst_liability), 0)::bigint AS platform_gst_liability
		FROM financial_ledger` + where

	var totals model.LedgerTotals
	if err := r.db.GetContext(ctx, &totals, query, args...); err != nil {
		return nil, mapError(err, "failed to aggregate ledger")
	}
	return &totals, nil
}

func (r *ledgerRepository) CountCompletedForDoctor(ctx context.Context, doctorID uuid.UUID) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM financial_ledger
		WHERE doctor_id = $1 AND transaction_type = 'booking_payment' AND status = 'completed'`,
		doctorID)
	if err != nil {
		return 0, mapError(err, "failed to count ledger entries")
	}
	return n, nil
}

// SelectForPayout row-locks the candidates. Rows already held by a
// concurrent batch are skipped rather than waited on.
func (r *ledgerRepository) SelectForPayout(ctx context.Context, doctorID uuid.UUID, period model.Period) ([]*model.LedgerEntry, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM financial_ledger
		WHERE doctor_id = $1 AND ` + payoutPeriodClause("$2", "$3") + ` AND ` + payoutEligibleClause + `
		ORDER BY created_at ASC, id ASC
		FOR UPDATE SKIP LOCKED
	`
	entries := []*model.LedgerEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, doctorID, period.Start, period.End); err != nil {
		return nil, mapError(err, "failed to select ledger entries for payout")
	}
	return entries, nil
}

func (r *ledgerRepository) ClaimForPayout(ctx context.Context, ids []uuid.UUID, payoutID uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	idArgs := make([]string, len(ids))
	for i, id := range ids {
		idArgs[i] = id.String()
	}

	var locked []uuid.UUID
	if err := r.db.SelectContext(ctx, &locked,
		`SELECT id FROM financial_ledger WHERE id = ANY($1::uuid[]) AND is_locked`, pq.Array(idArgs)); err != nil {
		return mapError(err, "failed to check ledger entries")
	}
	if len(locked) > 0 {
		return errors.NewRecordLocked("ledger entry", locked[0])
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE financial_ledger
		SET payout_status = 'scheduled', payout_id = $2, updated_at = NOW()
		WHERE id = ANY($1::uuid[]) AND payout_status = 'pending' AND payout_id IS NULL AND NOT is_locked`,
		pq.Array(idArgs), payoutID)
	if err != nil {
		return mapError(err, "failed to claim ledger entries")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return mapError(err, "failed to claim ledger entries")
	}
	if n != int64(len(ids)) {
		return errors.NewConflict("ledger entry already claimed by another payout", nil)
	}
	return nil
}

func (r *ledgerRepository) refuseLockedInPayout(ctx context.Context, payoutID uuid.UUID) error {
	var locked []uuid.UUID
	if err := r.db.SelectContext(ctx, &locked,
		`SELECT id FROM financial_ledger WHERE payout_id = $1 AND is_locked LIMIT 1`, payoutID); err != nil {
		return mapError(err, "failed to check ledger entries")
	}
	if len(locked) > 0 {
		return errors.NewRecordLocked("ledger entry", locked[0])
	}
	return nil
}

func (r *ledgerRepository) execForPayout(ctx context.Context, payoutID uuid.UUID, query string, args ...interface{}) (int64, error) {
	if err := r.refuseLockedInPayout(ctx, payoutID); err != nil {
		return 0, err
	}
	result, err := r.db.ExecContext(ctx, query, append([]interface{}{payoutID}, args...)...)
	if err != nil {
		return 0, mapError(err, "failed to update payout entries")
	}
	return result.RowsAffected()
}

func (r *ledgerRepository) SetPayoutStatus(ctx context.Context, payoutID uuid.UUID, status model.EntryPayoutStatus) (int64, error) {
	return r.execForPayout(ctx, payoutID, `
		UPDATE financial_ledger SET payout_status = $2, updated_at = NOW()
		WHERE payout_id = $1`, status)
}

func (r *ledgerRepository) ReleaseFromPayout(ctx context.Context, payoutID uuid.UUID) (int64, error) {
	return r.execForPayout(ctx, payoutID, `
		UPDATE financial_ledger SET payout_status = 'pending', payout_id = NULL, updated_at = NOW()
		WHERE payout_id = $1`)
}

func (r *ledgerRepository) LockByPayout(ctx context.Context, payoutID uuid.UUID, actor *uuid.UUID, at time.Time) (int64, error) {
	return r.execForPayout(ctx, payoutID, `
		UPDATE financial_ledger
		SET payout_status = 'completed',
			status = CASE WHEN status = 'pending_refund' THEN 'refunded' ELSE status END,
			is_locked = TRUE, locked_at = $2, locked_by = $3, updated_at = $2
		WHERE payout_id = $1`, at, actor)
}

func (r *ledgerRepository) DoctorsWithPendingEntries(ctx context.Context, period model.Period) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT doctor_id
		FROM financial_ledger
		WHERE ` + payoutPeriodClause("$1", "$2") + ` AND ` + payoutEligibleClause + `
		ORDER BY doctor_id
	`
	ids := []uuid.UUID{}
	if err := r.db.SelectContext(ctx, &ids, query, period.Start, period.End); err != nil {
		return nil, mapError(err, "failed to list doctors with pending entries")
	}
	return ids, nil
}
