package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/pkg/errors"
)

const commissionConfigColumns = `id, config_type, clinic_id, is_active, online_commission, in_clinic_commission,
	intro_offer, gst_rate, payment_gateway, payout, updated_by, created_at, updated_at`

type commissionConfigRepository struct {
	BaseRepository
}

func (r *commissionConfigRepository) GetGlobal(ctx context.Context) (*model.CommissionConfig, error) {
	query := `SELECT ` + commissionConfigColumns + ` FROM commission_configs WHERE config_type = 'global'`

	var cfg model.CommissionConfig
	if err := r.db.GetContext(ctx, &cfg, query); err != nil {
		if isNoRows(err) {
			return nil, errors.NewNotFound("global commission config", nil)
		}
		return nil, mapError(err, "failed to get global commission config")
	}
	return &cfg, nil
}

func (r *commissionConfigRepository) GetForClinic(ctx context.Context, clinicID uuid.UUID) (*model.CommissionConfig, error) {
	query := `SELECT ` + commissionConfigColumns + ` FROM commission_configs WHERE config_type = 'clinic' AND clinic_id = $1`

	var cfg model.CommissionConfig
	if err := r.db.GetContext(ctx, &cfg, query, clinicID); err != nil {
		if isNoRows(err) {
			return nil, errors.NewNotFound("clinic commission config", nil)
		}
		return nil, mapError(err, "failed to get clinic commission config")
	}
	return &cfg, nil
}

// CreateGlobalIfAbsent relies on the partial unique index over global
// configs, so concurrent first lookups agree on one row.
func (r *commissionConfigRepository) CreateGlobalIfAbsent(ctx context.Context, cfg *model.CommissionConfig) (*model.CommissionConfig, error) {
	query := `
		INSERT INTO commission_configs (
			id, config_type, clinic_id, is_active, online_commission, in_clinic_commission,
			intro_offer, gst_rate, payment_gateway, payout, created_at, updated_at
		) VALUES ($1, 'global', NULL, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT DO NOTHING
	`
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, query,
		cfg.ID,
		cfg.IsActive,
		cfg.OnlineCommission,
		cfg.InClinicCommission,
		cfg.IntroOffer,
		cfg.GSTRate,
		cfg.PaymentGateway,
		cfg.Payout,
		now,
	)
	if err != nil {
		return nil, mapError(err, "failed to create global commission config")
	}
	return r.GetGlobal(ctx)
}

func (r *commissionConfigRepository) Upsert(ctx context.Context, cfg *model.CommissionConfig) error {
	var existing *model.CommissionConfig
	var err error
	if cfg.ConfigType == model.ConfigTypeGlobal {
		existing, err = r.GetGlobal(ctx)
	} else {
		if cfg.ClinicID == nil {
			return errors.NewValidation("clinic config requires a clinic id", nil)
		}
		existing, err = r.GetForClinic(ctx, *cfg.ClinicID)
	}
	if err != nil && !errors.IsNotFound(err) {
		return err
	}

	now := time.Now().UTC()
	cfg.UpdatedAt = now
	if existing != nil {
		cfg.ID = existing.ID
		cfg.CreatedAt = existing.CreatedAt
		query := `
			UPDATE commission_configs
			SET is_active = $2, online_commission = $3, in_clinic_commission = $4, intro_offer = $5,
				gst_rate = $6, payment_gateway = $7, payout = $8, updated_by = $9, updated_at = $10
			WHERE id = $1
		`
		_, err = r.db.ExecContext(ctx, query,
			cfg.ID,
			cfg.IsActive,
			cfg.OnlineCommission,
			cfg.InClinicCommission,
			cfg.IntroOffer,
			cfg.GSTRate,
			cfg.PaymentGateway,
			cfg.Payout,
			cfg.UpdatedBy,
			cfg.UpdatedAt,
		)
		return mapError(err, "failed to update commission config")
	}

	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	cfg.CreatedAt = now
	query := `
		INSERT INTO commission_configs (
			id, config_type, clinic_id, is_active, online_commission, in_clinic_commission,
			intro_offer, gst_rate, payment_gateway, payout, updated_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`
	_, err = r.db.ExecContext(ctx, query,
		cfg.ID,
		cfg.ConfigType,
		cfg.ClinicID,
		cfg.IsActive,
		cfg.OnlineCommission,
		cfg.InClinicCommission,
		cfg.IntroOffer,
		cfg.GSTRate,
		cfg.PaymentGateway,
		cfg.Payout,
		cfg.UpdatedBy,
		cfg.CreatedAt,
	)
	return mapError(err, "failed to create commission config")
}

func (r *commissionConfigRepository) DeleteClinic(ctx context.Context, clinicID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM commission_configs WHERE config_type = 'clinic' AND clinic_id = $1`, clinicID)
	if err != nil {
		return mapError(err, "failed to delete clinic commission config")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.NewNotFound("clinic commission config", nil)
	}
	return nil
}
