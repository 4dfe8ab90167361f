package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/pkg/errors"
	"github.com/jwalitptl/settlement-api/pkg/money"
)

type walletRepository struct {
	view
}

func (r walletRepository) getOrCreate(doctorID uuid.UUID) model.DoctorWallet {
	if w, ok := r.s.d.wallets[doctorID]; ok {
		return w
	}
	now := r.s.now().UTC()
	w := model.DoctorWallet{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.s.d.wallets[doctorID] = w
	return w
}

func (r walletRepository) GetOrCreate(ctx context.Context, doctorID uuid.UUID) (*model.DoctorWallet, error) {
	defer r.lock()()

	w := r.getOrCreate(doctorID)
	return &w, nil
}

func (r walletRepository) Apply(ctx context.Context, doctorID uuid.UUID, delta model.WalletDelta) (*model.DoctorWallet, error) {
	defer r.lock()()

	w := r.getOrCreate(doctorID)
	w.Balance += delta.Balance
	w.TotalEarnings += delta.TotalEarnings
	w.PendingAmount += delta.PendingAmount
	w.TotalPayouts += delta.TotalPayouts
	if delta.PayoutAt != nil {
		w.LastPayoutAt = delta.PayoutAt
	}
	w.UpdatedAt = r.s.now().UTC()
	r.s.d.wallets[doctorID] = w
	return &w, nil
}

func (r walletRepository) SettlePayout(ctx context.Context, doctorID uuid.UUID, amount money.Amount, at time.Time) (*model.DoctorWallet, error) {
	defer r.lock()()

	w, ok := r.s.d.wallets[doctorID]
	if !ok {
		return nil, errors.NewNotFound("wallet", nil)
	}
	if w.PendingAmount < amount {
		return nil, errors.NewInsufficientFunds(int64(amount), int64(w.PendingAmount))
	}
	w.PendingAmount -= amount
	w.TotalPayouts += amount
	w.Balance -= amount
	w.LastPayoutAt = &at
	w.UpdatedAt = at
	r.s.d.wallets[doctorID] = w
	return &w, nil
}

func (r walletRepository) UpdateBankDetails(ctx context.Context, doctorID uuid.UUID, encrypted string) error {
	defer r.lock()()

	w := r.getOrCreate(doctorID)
	w.BankDetailsEncrypted = &encrypted
	w.UpdatedAt = r.s.now().UTC()
	r.s.d.wallets[doctorID] = w
	return nil
}

func (r walletRepository) AddTransaction(ctx context.Context, txn *model.WalletTransaction) error {
	defer r.lock()()

	if txn == nil {
		return errNilRecord("wallet transaction")
	}
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	r.stamp(&txn.CreatedAt)
	r.s.d.walletTxns = append(r.s.d.walletTxns, *txn)
	return nil
}

func (r walletRepository) ListTransactions(ctx context.Context, doctorID uuid.UUID, txType *model.WalletTransactionType, page model.Pagination) ([]*model.WalletTransaction, int, error) {
	defer r.lock()()

	var all []*model.WalletTransaction
	for i := len(r.s.d.walletTxns) - 1; i >= 0; i-- {
		t := r.s.d.walletTxns[i]
		if t.DoctorID != doctorID || (txType != nil && t.Type != *txType) {
			continue
		}
		all = append(all, &t)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	start, end := paginate(len(all), page)
	return all[start:end], len(all), nil
}
