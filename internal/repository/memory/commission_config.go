package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/pkg/errors"
)

type commissionConfigRepository struct {
	view
}

func (r commissionConfigRepository) find(configType model.ConfigType, clinicID *uuid.UUID) (model.CommissionConfig, bool) {
	for _, cfg := range r.s.d.configs {
		if cfg.ConfigType != configType {
			continue
		}
		if configType == model.ConfigTypeGlobal {
			return cfg, true
		}
		if cfg.ClinicID != nil && clinicID != nil && *cfg.ClinicID == *clinicID {
			return cfg, true
		}
	}
	return model.CommissionConfig{}, false
}

func (r commissionConfigRepository) GetGlobal(ctx context.Context) (*model.CommissionConfig, error) {
	defer r.lock()()

	cfg, ok := r.find(model.ConfigTypeGlobal, nil)
	if !ok {
		return nil, errors.NewNotFound("global commission config", nil)
	}
	return &cfg, nil
}

func (r commissionConfigRepository) GetForClinic(ctx context.Context, clinicID uuid.UUID) (*model.CommissionConfig, error) {
	defer r.lock()()

	cfg, ok := r.find(model.ConfigTypeClinic, &clinicID)
	if !ok {
		return nil, errors.NewNotFound("clinic commission config", nil)
	}
	return &cfg, nil
}

func (r commissionConfigRepository) CreateGlobalIfAbsent(ctx context.Context, cfg *model.CommissionConfig) (*model.CommissionConfig, error) {
	defer r.lock()()

	if existing, ok := r.find(model.ConfigTypeGlobal, nil); ok {
		return &existing, nil
	}
	stored := *cfg
	stored.ConfigType = model.ConfigTypeGlobal
	stored.ClinicID = nil
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	r.stamp(&stored.CreatedAt)
	stored.UpdatedAt = stored.CreatedAt
	r.s.d.configs[stored.ID] = stored
	return &stored, nil
}

func (r commissionConfigRepository) Upsert(ctx context.Context, cfg *model.CommissionConfig) error {
	defer r.lock()()

	if cfg == nil {
		return errNilRecord("commission config")
	}
	now := r.s.now().UTC()
	if existing, ok := r.find(cfg.ConfigType, cfg.ClinicID); ok {
		cfg.ID = existing.ID
		cfg.CreatedAt = existing.CreatedAt
	} else {
		if cfg.ID == uuid.Nil {
			cfg.ID = uuid.New()
		}
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	r.s.d.configs[cfg.ID] = *cfg
	return nil
}

func (r commissionConfigRepository) DeleteClinic(ctx context.Context, clinicID uuid.UUID) error {
	defer r.lock()()

	cfg, ok := r.find(model.ConfigTypeClinic, &clinicID)
	if !ok {
		return errors.NewNotFound("clinic commission config", nil)
	}
	delete(r.s.d.configs, cfg.ID)
	return nil
}
