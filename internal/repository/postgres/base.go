package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/settlement-api/internal/repository"
	"github.com/jwalitptl/settlement-api/pkg/errors"
	"github.com/jwalitptl/settlement-api/pkg/metrics"
)

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// BaseRepository provides common functionality for all repositories
type BaseRepository struct {
	db queryer
}

// Store is the postgres implementation of repository.Store.
type Store struct {
	db      *sqlx.DB
	metrics *metrics.Metrics
	repos
}

var _ repository.Store = (*Store)(nil)

func NewStore(db *sqlx.DB, m *metrics.Metrics) *Store {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Store{db: db, metrics: m, repos: repos{BaseRepository{db: db}}}
}

// WithTx executes a function within a transaction
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Repositories) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.metrics.DatabaseOperations.WithLabelValues("begin", "error").Inc()
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(repos{BaseRepository{db: tx}}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("failed to roll back transaction")
		}
		s.metrics.DatabaseOperations.WithLabelValues("tx", "rollback").Inc()
		return err
	}

	if err := tx.Commit(); err != nil {
		s.metrics.DatabaseOperations.WithLabelValues("tx", "error").Inc()
		return mapError(err, "failed to commit transaction")
	}
	s.metrics.DatabaseOperations.WithLabelValues("tx", "commit").Inc()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

type repos struct {
	base BaseRepository
}

func (r repos) Slots() repository.SlotRepository { return &slotRepository{r.base} }
func (r repos) Appointments() repository.AppointmentRepository {
	return &appointmentRepository{r.base}
}
func (r repos) CommissionConfigs() repository.CommissionConfigRepository {
	return &commissionConfigRepository{r.base}
}
func (r repos) Ledger() repository.LedgerRepository   { return &ledgerRepository{r.base} }
func (r repos) Payouts() repository.PayoutRepository  { return &payoutRepository{r.base} }
func (r repos) Wallets() repository.WalletRepository  { return &walletRepository{r.base} }
func (r repos) Outbox() repository.OutboxRepository   { return &outboxRepository{r.base} }
func (r repos) Audit() repository.AuditRepository     { return &auditRepository{r.base} }

// Postgres error codes the repositories translate.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeRaiseException       = "P0001"
)

// mapError turns driver errors into AppErrors where they carry domain meaning
// and wraps everything else.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.As(err); ok {
		return err
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUniqueViolation:
			return errors.NewConflict("duplicate record", err)
		case codeSerializationFailure:
			return errors.NewConflict("concurrent update, retry the operation", err)
		case codeRaiseException:
			return &errors.AppError{Code: errors.ErrRecordLocked, Message: "record is locked", Err: err}
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func isNoRows(err error) bool {
	return stderrors.Is(err, sql.ErrNoRows)
}

func constraintOf(err error) string {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}
