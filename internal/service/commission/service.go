package commission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/repository"
	"github.com/jwalitptl/settlement-api/internal/service/audit"
	"github.com/jwalitptl/settlement-api/pkg/errors"
	"github.com/jwalitptl/settlement-api/pkg/event"
	"github.com/jwalitptl/settlement-api/pkg/logger"
	"github.com/jwalitptl/settlement-api/pkg/money"
	"github.com/jwalitptl/settlement-api/pkg/validator"
)

const globalKey = "global"

var hundred = decimal.NewFromInt(100)

// auditedFields are the config fields whose changes are written to the audit trail.
var auditedFields = []string{
	"is_active", "online_commission", "in_clinic_commission", "intro_offer",
	"gst_rate", "payment_gateway", "payout",
}

type Service struct {
	store     repository.Store
	calc      Calculator
	cache     *gocache.Cache
	auditor   *audit.Service
	extractor event.FieldExtractor
	validator validator.Validator
	logger    *logger.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService caches resolved configs for cacheTTL; a non-positive TTL
// disables caching.
func NewService(store repository.Store, auditor *audit.Service, roundingUnit money.Amount, cacheTTL time.Duration, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{
		store:     store,
		calc:      NewCalculator(roundingUnit),
		auditor:   auditor,
		extractor: &event.DefaultFieldExtractor{},
		validator: validator.New(),
		logger:    log,
		now:       time.Now,
	}
	if cacheTTL > 0 {
		s.cache = gocache.New(cacheTTL, 2*cacheTTL)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Calculator() Calculator {
	return s.calc
}

// GetConfigForClinic resolves the config in force for clinicID. An active
// clinic override wins; otherwise the global config is used, created with
// defaults if it does not exist yet.
func (s *Service) GetConfigForClinic(ctx context.Context, clinicID *uuid.UUID) (*model.CommissionConfig, error) {
	key := globalKey
	if clinicID != nil {
		key = clinicID.String()
	}
	if cfg, ok := s.cached(key); ok {
		return cfg, nil
	}

	cfg, err := s.resolve(ctx, s.store, clinicID)
	if err != nil {
		return nil, err
	}
	s.put(key, cfg)
	return copyConfig(cfg), nil
}

func (s *Service) resolve(ctx context.Context, repos repository.Repositories, clinicID *uuid.UUID) (*model.CommissionConfig, error) {
	if clinicID != nil {
		cfg, err := repos.CommissionConfigs().GetForClinic(ctx, *clinicID)
		switch {
		case err == nil && cfg.IsActive:
			return cfg, nil
		case err != nil && !errors.IsNotFound(err):
			return nil, fmt.Errorf("failed to get clinic commission config: %w", err)
		}
	}
	return s.global(ctx, repos)
}

func (s *Service) global(ctx context.Context, repos repository.Repositories) (*model.CommissionConfig, error) {
	cfg, err := repos.CommissionConfigs().GetGlobal(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.IsNotFound(err) {
		return nil, fmt.Errorf("failed to get global commission config: %w", err)
	}

	cfg, err = repos.CommissionConfigs().CreateGlobalIfAbsent(ctx, model.DefaultCommissionConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create default commission config: %w", err)
	}
	s.logger.Info("Created default global commission config", "config_id", cfg.ID.String())
	return cfg, nil
}

// CalculateCommission resolves the config and decides the commission on
// fee. The only read besides the config is the doctor's completed count.
func (s *Service) CalculateCommission(ctx context.Context, fee money.Amount, t model.ConsultationType, clinicID, doctorID *uuid.UUID) (*model.CommissionResult, error) {
	cfg, completed, err := s.inputs(ctx, fee, t, clinicID, doctorID)
	if err != nil {
		return nil, err
	}
	result := s.calc.Commission(cfg, fee, t, completed)
	return &result, nil
}

// CalculateFinancialBreakdown is the single source of every monetary figure
// persisted for a payment.
func (s *Service) CalculateFinancialBreakdown(ctx context.Context, req *model.CalculateRequest) (*model.FinancialBreakdown, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	cfg, completed, err := s.inputs(ctx, req.ConsultationFee, req.ConsultationType, req.ClinicID, req.DoctorID)
	if err != nil {
		return nil, err
	}
	return s.calc.Breakdown(cfg, req.ConsultationFee, req.ConsultationType, completed), nil
}

func (s *Service) inputs(ctx context.Context, fee money.Amount, t model.ConsultationType, clinicID, doctorID *uuid.UUID) (*model.CommissionConfig, *int, error) {
	if fee <= 0 {
		return nil, nil, errors.NewValidation("consultation_fee must be greater than 0", nil)
	}
	if !t.Valid() {
		return nil, nil, errors.NewValidation(fmt.Sprintf("unknown consultation type %q", t), nil)
	}

	cfg, err := s.GetConfigForClinic(ctx, clinicID)
	if err != nil {
		return nil, nil, err
	}

	var completed *int
	if doctorID != nil && cfg.IntroOffer.Enabled {
		n, err := s.store.Ledger().CountCompletedForDoctor(ctx, *doctorID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to count completed entries: %w", err)
		}
		completed = &n
	}
	return cfg, completed, nil
}

// GetGlobalConfig returns the global config, creating it if needed.
func (s *Service) GetGlobalConfig(ctx context.Context) (*model.CommissionConfig, error) {
	return s.GetConfigForClinic(ctx, nil)
}

func (s *Service) UpdateGlobalConfig(ctx context.Context, in *model.CommissionConfigInput, actor *uuid.UUID) (*model.CommissionConfig, error) {
	var updated *model.CommissionConfig
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		current, err := s.global(ctx, tx)
		if err != nil {
			return err
		}
		next := copyConfig(current)
		in.Apply(next)
		// The global config cannot be switched off.
		next.IsActive = true
		if err := s.save(ctx, tx, current, next, actor); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate()
	return updated, nil
}

// GetClinicConfig returns the clinic's own override, or NotFound.
func (s *Service) GetClinicConfig(ctx context.Context, clinicID uuid.UUID) (*model.CommissionConfig, error) {
	return s.store.CommissionConfigs().GetForClinic(ctx, clinicID)
}

// UpdateClinicConfig creates or updates the clinic override. A new override
// starts as a copy of the global config.
func (s *Service) UpdateClinicConfig(ctx context.Context, clinicID uuid.UUID, in *model.CommissionConfigInput, actor *uuid.UUID) (*model.CommissionConfig, error) {
	var updated *model.CommissionConfig
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		current, err := tx.CommissionConfigs().GetForClinic(ctx, clinicID)
		if err != nil && !errors.IsNotFound(err) {
			return err
		}
		var next *model.CommissionConfig
		if current != nil {
			next = copyConfig(current)
		} else {
			global, err := s.global(ctx, tx)
			if err != nil {
				return err
			}
			next = copyConfig(global)
			next.ID = uuid.New()
			next.ConfigType = model.ConfigTypeClinic
			next.ClinicID = &clinicID
			next.IsActive = true
			next.CreatedAt = time.Time{}
		}
		in.Apply(next)
		if err := s.save(ctx, tx, current, next, actor); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate()
	return updated, nil
}

// DeleteClinicConfig removes the override; the clinic falls back to global.
func (s *Service) DeleteClinicConfig(ctx context.Context, clinicID uuid.UUID, actor *uuid.UUID) error {
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		current, err := tx.CommissionConfigs().GetForClinic(ctx, clinicID)
		if err != nil {
			return err
		}
		if err := tx.CommissionConfigs().DeleteClinic(ctx, clinicID); err != nil {
			return err
		}
		_, err = s.auditor.Record(ctx, tx.Audit(), audit.Entry{
			ActorID:    actor,
			Action:     model.AuditActionDelete,
			EntityType: model.AuditEntityCommissionConfig,
			EntityID:   current.ID,
		})
		return err
	})
	if err != nil {
		return err
	}
	s.invalidate()
	return nil
}

func (s *Service) save(ctx context.Context, tx repository.Repositories, current, next *model.CommissionConfig, actor *uuid.UUID) error {
	if err := s.validateConfig(next); err != nil {
		return err
	}
	next.UpdatedBy = actor
	next.UpdatedAt = s.now().UTC()
	if err := tx.CommissionConfigs().Upsert(ctx, next); err != nil {
		return fmt.Errorf("failed to save commission config: %w", err)
	}

	action := model.AuditActionCreate
	var changes interface{} = next
	if current != nil {
		action = model.AuditActionUpdate
		changes = s.extractor.ExtractChanges(current, next, auditedFields)
	}
	_, err := s.auditor.Record(ctx, tx.Audit(), audit.Entry{
		ActorID:    actor,
		Action:     action,
		EntityType: model.AuditEntityCommissionConfig,
		EntityID:   next.ID,
		Changes:    changes,
	})
	return err
}

func (s *Service) validateConfig(cfg *model.CommissionConfig) error {
	if err := s.validator.Validate(cfg); err != nil {
		return err
	}
	for name, rule := range map[string]model.CommissionRule{
		"online_commission":    cfg.OnlineCommission,
		"in_clinic_commission": cfg.InClinicCommission,
	} {
		if err := s.validator.Validate(rule); err != nil {
			return errors.NewValidation(name+": "+err.Error(), err)
		}
		if rule.Rate.IsNegative() {
			return errors.NewValidation(name+" value must not be negative", nil)
		}
		if rule.Type == model.CommissionTypePercentage && rule.Rate.GreaterThan(hundred) {
			return errors.NewValidation(name+" percentage must not exceed 100", nil)
		}
	}
	for name, rate := range map[string]decimal.Decimal{
		"gst_rate":                       cfg.GSTRate,
		"payment_gateway.fee_percentage": cfg.PaymentGateway.FeePercentage,
		"payment_gateway.gst_on_fee":     cfg.PaymentGateway.GSTOnFee,
	} {
		if rate.IsNegative() || rate.GreaterThan(hundred) {
			return errors.NewValidation(name+" must be between 0 and 100", nil)
		}
	}
	if err := s.validator.Validate(cfg.IntroOffer); err != nil {
		return err
	}
	if err := s.validator.Validate(cfg.PaymentGateway); err != nil {
		return err
	}
	return s.validator.Validate(cfg.Payout)
}

func (s *Service) cached(key string) (*model.CommissionConfig, bool) {
	if s.cache == nil {
		return nil, false
	}
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	return copyConfig(v.(*model.CommissionConfig)), true
}

func (s *Service) put(key string, cfg *model.CommissionConfig) {
	if s.cache != nil {
		s.cache.SetDefault(key, copyConfig(cfg))
	}
}

// invalidate drops every entry; clinic keys may hold the global config.
func (s *Service) invalidate() {
	if s.cache != nil {
		s.cache.Flush()
	}
}

func copyConfig(cfg *model.CommissionConfig) *model.CommissionConfig {
	c := *cfg
	if cfg.ClinicID != nil {
		id := *cfg.ClinicID
		c.ClinicID = &id
	}
	return &c
}
