package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/pkg/errors"
	"github.com/jwalitptl/settlement-api/pkg/money"
)

const walletColumns = `id, doctor_id, balance, total_earnings, pending_amount, total_payouts,
	bank_details_encrypted, last_payout_at, created_at, updated_at`

const walletTransactionColumns = `id, wallet_id, doctor_id, type, amount, balance_after, ledger_entry_id,
	payout_id, description, created_at`

type walletRepository struct {
	BaseRepository
}

func (r *walletRepository) GetOrCreate(ctx context.Context, doctorID uuid.UUID) (*model.DoctorWallet, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO doctor_wallets (id, doctor_id) VALUES ($1, $2)
		ON CONFLICT (doctor_id) DO NOTHING`,
		uuid.New(), doctorID)
	if err != nil {
		return nil, mapError(err, "failed to create wallet")
	}

	var wallet model.DoctorWallet
	if err := r.db.GetContext(ctx, &wallet, `SELECT `+walletColumns+` FROM doctor_wallets WHERE doctor_id = $1`, doctorID); err != nil {
		return nil, mapError(err, "failed to get wallet")
	}
	return &wallet, nil
}

// Apply adds delta with a single UPDATE so concurrent writers never lose
// each other's increments.
func (r *walletRepository) Apply(ctx context.Context, doctorID uuid.UUID, delta model.WalletDelta) (*model.DoctorWallet, error) {
	if _, err := r.GetOrCreate(ctx, doctorID); err != nil {
		return nil, err
	}
	query := `
		UPDATE doctor_wallets
		SET balance = balance + $2, total_earnings = total_earnings + $3,
			pending_amount = pending_amount + $4, total_payouts = total_payouts + $5,
			last_payout_at = COALESCE($6, last_payout_at), updated_at = NOW()
		WHERE doctor_id = $1
		RETURNING ` + walletColumns

	var wallet model.DoctorWallet
	err := r.db.GetContext(ctx, &wallet, query,
		doctorID, delta.Balance, delta.TotalEarnings, delta.PendingAmount, delta.TotalPayouts, delta.PayoutAt)
	if err != nil {
		return nil, mapError(err, "failed to update wallet")
	}
	return &wallet, nil
}

func (r *walletRepository) SettlePayout(ctx context.Context, doctorID uuid.UUID, amount money.Amount, at time.Time) (*model.DoctorWallet, error) {
	query := `
		UPDATE doctor_wallets
		SET pending_amount = pending_amount - $2, total_payouts = total_payouts + $2,
			balance = balance - $2, last_payout_at = $3, updated_at = $3
		WHERE doctor_id = $1 AND pending_amount >= $2
		RETURNING ` + walletColumns

	var wallet model.DoctorWallet
	err := r.db.GetContext(ctx, &wallet, query, doctorID, amount, at)
	if err == nil {
		return &wallet, nil
	}
	if !isNoRows(err) {
		return nil, mapError(err, "failed to settle payout")
	}

	var pending []money.Amount
	if err := r.db.SelectContext(ctx, &pending, `SELECT pending_amount FROM doctor_wallets WHERE doctor_id = $1`, doctorID); err != nil {
		return nil, mapError(err, "failed to get wallet")
	}
	if len(pending) == 0 {
		return nil, errors.NewNotFound("wallet", nil)
	}
	return nil, errors.NewInsufficientFunds(int64(amount), int64(pending[0]))
}

func (r *walletRepository) UpdateBankDetails(ctx context.Context, doctorID uuid.UUID, encrypted string) error {
	if _, err := r.GetOrCreate(ctx, doctorID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE doctor_wallets SET bank_details_encrypted = $2, updated_at = NOW() WHERE doctor_id = $1`,
		doctorID, encrypted)
	return mapError(err, "failed to update bank details")
}

func (r *walletRepository) AddTransaction(ctx context.Context, txn *model.WalletTransaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO wallet_transactions (` + walletTransactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		txn.ID,
		txn.WalletID,
		txn.DoctorID,
		txn.Type,
		txn.Amount,
		txn.BalanceAfter,
		txn.LedgerEntryID,
		txn.PayoutID,
		txn.Description,
		txn.CreatedAt,
	)
	return mapError(err, "failed to add wallet transaction")
}

func (r *walletRepository) ListTransactions(ctx context.Context, doctorID uuid.UUID, txType *model.WalletTransactionType, page model.Pagination) ([]*model.WalletTransaction, int, error) {
	var typeArg *string
	if txType != nil {
		t := string(*txType)
		typeArg = &t
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `
		SELECT COUNT(*) FROM wallet_transactions
		WHERE doctor_id = $1 AND ($2::text IS NULL OR type = $2)`,
		doctorID, typeArg); err != nil {
		return nil, 0, mapError(err, "failed to count wallet transactions")
	}

	page = page.Normalize()
	query := `
		SELECT ` + walletTransactionColumns + `
		FROM wallet_transactions
		WHERE doctor_id = $1 AND ($2::text IS NULL OR type = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`
	txns := []*model.WalletTransaction{}
	if err := r.db.SelectContext(ctx, &txns, query, doctorID, typeArg, page.PageSize, page.Offset()); err != nil {
		return nil, 0, mapError(err, "failed to list wallet transactions")
	}
	return txns, total, nil
}
