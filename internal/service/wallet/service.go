package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/repository"
	"github.com/jwalitptl/settlement-api/internal/service/audit"
	"github.com/jwalitptl/settlement-api/pkg/errors"
	"github.com/jwalitptl/settlement-api/pkg/logger"
	"github.com/jwalitptl/settlement-api/pkg/money"
	"github.com/jwalitptl/settlement-api/pkg/security"
	"github.com/jwalitptl/settlement-api/pkg/validator"
)

type Service struct {
	store     repository.Store
	encryptor security.Encryptor
	auditor   *audit.Service
	validator validator.Validator
	logger    *logger.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store repository.Store, encryptor security.Encryptor, auditor *audit.Service, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{
		store:     store,
		encryptor: encryptor,
		auditor:   auditor,
		validator: validator.New(),
		logger:    log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the doctor's wallet with bank details decrypted and
// masked.
func (s *Service) GetOrCreate(ctx context.Context, doctorID uuid.UUID) (*model.DoctorWallet, error) {
	w, err := s.store.Wallets().GetOrCreate(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	if w.BankDetailsEncrypted != nil && s.encryptor != nil {
		details, err := s.decrypt(*w.BankDetailsEncrypted)
		if err != nil {
			s.logger.Error(err, "Failed to decrypt bank details", "doctor_id", doctorID.String())
			return nil, errors.NewInternal(fmt.Errorf("failed to read bank details: %w", err))
		}
		masked := details.Masked()
		w.BankDetails = &masked
	}
	return w, nil
}

func (s *Service) Transactions(ctx context.Context, doctorID uuid.UUID, txType *model.WalletTransactionType, page model.Pagination) ([]*model.WalletTransaction, int, error) {
	return s.store.Wallets().ListTransactions(ctx, doctorID, txType, page.Normalize())
}

// UpdateBankDetails stores the details encrypted at rest.
func (s *Service) UpdateBankDetails(ctx context.Context, doctorID uuid.UUID, details *model.BankDetails, actor *uuid.UUID) (*model.DoctorWallet, error) {
	if err := s.validator.Validate(details); err != nil {
		return nil, err
	}
	if s.encryptor == nil {
		return nil, errors.NewInternal(fmt.Errorf("bank detail encryption is not configured"))
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, err
	}
	sealed, err := security.EncryptString(s.encryptor, string(raw))
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to encrypt bank details: %w", err))
	}

	err = s.store.WithTx(ctx, func(tx repository.Repositories) error {
		w, err := tx.Wallets().GetOrCreate(ctx, doctorID)
		if err != nil {
			return err
		}
		if err := tx.Wallets().UpdateBankDetails(ctx, doctorID, sealed); err != nil {
			return fmt.Errorf("failed to update bank details: %w", err)
		}
		masked := details.Masked()
		_, err = s.auditor.Record(ctx, tx.Audit(), audit.Entry{
			ActorID:    actor,
			Action:     model.AuditActionUpdate,
			EntityType: model.AuditEntityWallet,
			EntityID:   w.ID,
			Changes:    map[string]interface{}{"bank_account": masked.AccountNumber, "ifsc": masked.IFSC},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetOrCreate(ctx, doctorID)
}

func (s *Service) decrypt(sealed string) (*model.BankDetails, error) {
	plain, err := security.DecryptString(s.encryptor, sealed)
	if err != nil {
		return nil, err
	}
	var details model.BankDetails
	if err := json.Unmarshal([]byte(plain), &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// RecordEarning credits a confirmed payment to the doctor's wallet.
func (s *Service) RecordEarning(ctx context.Context, tx repository.Repositories, entry *model.LedgerEntry) (*model.DoctorWallet, error) {
	net := entry.NetDoctorPayout
	w, err := tx.Wallets().Apply(ctx, entry.DoctorID, model.WalletDelta{
		Balance:       net,
		TotalEarnings: net,
		PendingAmount: net,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to credit wallet: %w", err)
	}
	if err := s.addTransaction(ctx, tx, w, model.WalletTransactionCredit, net, &entry.ID, nil,
		fmt.Sprintf("Consultation payment for appointment %s", entry.AppointmentID)); err != nil {
		return nil, err
	}
	return w, nil
}

// RecordRefund reverses an earning. entry is the refund entry and carries
// negative amounts.
func (s *Service) RecordRefund(ctx context.Context, tx repository.Repositories, entry *model.LedgerEntry) (*model.DoctorWallet, error) {
	net := entry.NetDoctorPayout
	w, err := tx.Wallets().Apply(ctx, entry.DoctorID, model.WalletDelta{
		Balance:       net,
		TotalEarnings: net,
		PendingAmount: net,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to debit wallet: %w", err)
	}
	if err := s.addTransaction(ctx, tx, w, model.WalletTransactionRefund, net, &entry.ID, nil,
		fmt.Sprintf("Refund for cancelled appointment %s", entry.AppointmentID)); err != nil {
		return nil, err
	}
	return w, nil
}

// RecordPayout moves a completed payout out of the pending amount. It fails
// with InsufficientFunds when the wallet does not hold enough pending.
func (s *Service) RecordPayout(ctx context.Context, tx repository.Repositories, payout *model.Payout) (*model.DoctorWallet, error) {
	at := s.now().UTC()
	if payout.CompletedAt != nil {
		at = *payout.CompletedAt
	}
	w, err := tx.Wallets().SettlePayout(ctx, payout.DoctorID, payout.TotalAmount, at)
	if err != nil {
		return nil, err
	}
	if err := s.addTransaction(ctx, tx, w, model.WalletTransactionPayout, payout.TotalAmount.Neg(), nil, &payout.ID,
		fmt.Sprintf("Payout %s", payout.InvoiceNumber)); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Service) addTransaction(ctx context.Context, tx repository.Repositories, w *model.DoctorWallet, t model.WalletTransactionType, amount money.Amount, entryID, payoutID *uuid.UUID, desc string) error {
	txn := &model.WalletTransaction{
		WalletID:      w.ID,
		DoctorID:      w.DoctorID,
		Type:          t,
		Amount:        amount,
		BalanceAfter:  w.Balance,
		LedgerEntryID: entryID,
		PayoutID:      payoutID,
		Description:   desc,
		CreatedAt:     s.now().UTC(),
	}
	if err := tx.Wallets().AddTransaction(ctx, txn); err != nil {
		return fmt.Errorf("failed to record wallet transaction: %w", err)
	}
	return nil
}
