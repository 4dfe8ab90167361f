// Package app wires the store and services shared by the API and worker
// processes.
package app

import (
	"context"
	"fmt"

	"github.com/jwalitptl/settlement-api/internal/config"
	"github.com/jwalitptl/settlement-api/internal/repository"
	"github.com/jwalitptl/settlement-api/internal/repository/memory"
	"github.com/jwalitptl/settlement-api/internal/repository/postgres"
	"github.com/jwalitptl/settlement-api/internal/service/audit"
	"github.com/jwalitptl/settlement-api/internal/service/booking"
	"github.com/jwalitptl/settlement-api/internal/service/commission"
	"github.com/jwalitptl/settlement-api/internal/service/event"
	"github.com/jwalitptl/settlement-api/internal/service/ledger"
	"github.com/jwalitptl/settlement-api/internal/service/payout"
	"github.com/jwalitptl/settlement-api/internal/service/slot"
	"github.com/jwalitptl/settlement-api/internal/service/wallet"
	"github.com/jwalitptl/settlement-api/pkg/logger"
	"github.com/jwalitptl/settlement-api/pkg/metrics"
	"github.com/jwalitptl/settlement-api/pkg/money"
	"github.com/jwalitptl/settlement-api/pkg/security"
)

type Services struct {
	Audit      *audit.Service
	Events     *event.Service
	Commission *commission.Service
	Slots      *slot.Service
	Wallets    *wallet.Service
	Bookings   *booking.Service
	Ledger     *ledger.Service
	Payouts    *payout.Service
}

// OpenStore connects the configured store and applies the schema when
// migrations are enabled.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, m *metrics.Metrics, log *logger.Logger) (repository.Store, error) {
	if cfg.Driver == "memory" {
		log.Warn("Using in-memory store; data is lost on restart")
		return memory.NewStore(), nil
	}

	db, err := postgres.NewDB(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return postgres.NewStore(db, m), nil
}

func NewServices(store repository.Store, cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*Services, error) {
	var enc security.Encryptor
	if cfg.Security.EncryptionKey != "" {
		var err error
		enc, err = security.NewEncryptorFromPassphrase(cfg.Security.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to init encryptor: %w", err)
		}
	} else {
		log.Warn("No encryption key configured; bank details cannot be stored")
	}

	s := &Services{}
	s.Audit = audit.NewService(store, log)
	s.Events = event.NewService(log)
	s.Commission = commission.NewService(store, s.Audit, money.Amount(cfg.Settlement.RoundingUnit), cfg.Settlement.ConfigCacheTTL, log)
	s.Slots = slot.NewService(store, s.Audit, log)
	s.Wallets = wallet.NewService(store, enc, s.Audit, log)
	s.Bookings = booking.NewService(store, s.Commission, s.Wallets, s.Events, s.Audit, log, m)
	s.Ledger = ledger.NewService(store, s.Events, s.Audit, log, m)
	s.Payouts = payout.NewService(store, s.Ledger, s.Wallets, s.Events, s.Audit, log, m)
	return s, nil
}
