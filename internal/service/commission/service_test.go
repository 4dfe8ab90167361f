package commission

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/repository/memory"
	"github.com/jwalitptl/settlement-api/internal/service/audit"
	"github.com/jwalitptl/settlement-api/pkg/errors"
	"github.com/jwalitptl/settlement-api/pkg/logger"
	"github.com/jwalitptl/settlement-api/pkg/money"
)

func newTestService(t *testing.T, ttl time.Duration) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	auditor := audit.NewService(store, logger.Nop())
	return NewService(store, auditor, money.Rupee, ttl, logger.Nop()), store
}

func percent(v int64) *model.CommissionRule {
	return &model.CommissionRule{Type: model.CommissionTypePercentage, Rate: decimal.NewFromInt(v)}
}

func TestGetConfigForClinic_CreatesGlobalDefaults(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, 0)

	_, err := store.CommissionConfigs().GetGlobal(ctx)
	require.True(t, errors.IsNotFound(err))

	clinic := uuid.New()
	cfg, err := svc.GetConfigForClinic(ctx, &clinic)
	require.NoError(t, err)
	assert.Equal(t, model.ConfigTypeGlobal, cfg.ConfigType)
	assert.True(t, cfg.OnlineCommission.Rate.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 50, cfg.IntroOffer.FreeAppointments)

	again, err := svc.GetGlobalConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, again.ID)
}

func TestClinicOverride(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, time.Minute)
	clinic := uuid.New()
	actor := uuid.New()

	// Warm the cache with the global fallback first.
	before, err := svc.GetConfigForClinic(ctx, &clinic)
	require.NoError(t, err)
	assert.Equal(t, model.ConfigTypeGlobal, before.ConfigType)

	override, err := svc.UpdateClinicConfig(ctx, clinic, &model.CommissionConfigInput{OnlineCommission: percent(15)}, &actor)
	require.NoError(t, err)
	assert.Equal(t, model.ConfigTypeClinic, override.ConfigType)
	assert.Equal(t, &actor, override.UpdatedBy)

	got, err := svc.GetConfigForClinic(ctx, &clinic)
	require.NoError(t, err)
	assert.Equal(t, override.ID, got.ID)
	assert.True(t, got.OnlineCommission.Rate.Equal(decimal.NewFromInt(15)))
	// Untouched fields were copied from global.
	assert.True(t, got.InClinicCommission.Rate.Equal(decimal.NewFromInt(10)))

	inactive := false
	_, err = svc.UpdateClinicConfig(ctx, clinic, &model.CommissionConfigInput{IsActive: &inactive}, &actor)
	require.NoError(t, err)
	got, err = svc.GetConfigForClinic(ctx, &clinic)
	require.NoError(t, err)
	assert.Equal(t, model.ConfigTypeGlobal, got.ConfigType)

	require.NoError(t, svc.DeleteClinicConfig(ctx, clinic, &actor))
	_, err = svc.GetClinicConfig(ctx, clinic)
	assert.True(t, errors.IsNotFound(err))

	trail, err := audit.NewService(svc.store, logger.Nop()).Trail(ctx, model.AuditEntityCommissionConfig, override.ID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, model.AuditActionCreate, trail[0].Action)
	assert.Equal(t, model.AuditActionUpdate, trail[1].Action)
	assert.Contains(t, string(trail[1].Changes), "is_active")
	assert.Equal(t, model.AuditActionDelete, trail[2].Action)
}

func TestUpdateGlobalConfig_InvalidatesCache(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, time.Hour)

	cfg, err := svc.GetGlobalConfig(ctx)
	require.NoError(t, err)
	assert.True(t, cfg.GSTRate.Equal(decimal.NewFromInt(18)))

	gst := decimal.NewFromInt(12)
	_, err = svc.UpdateGlobalConfig(ctx, &model.CommissionConfigInput{GSTRate: &gst}, nil)
	require.NoError(t, err)

	cfg, err = svc.GetGlobalConfig(ctx)
	require.NoError(t, err)
	assert.True(t, cfg.GSTRate.Equal(gst))
}

func TestUpdateConfig_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 0)

	tests := []struct {
		name string
		in   *model.CommissionConfigInput
	}{
		{"percentage above 100", &model.CommissionConfigInput{OnlineCommission: percent(120)}},
		{"negative rate", &model.CommissionConfigInput{InClinicCommission: percent(-1)}},
		{"unknown type", &model.CommissionConfigInput{OnlineCommission: &model.CommissionRule{Type: "tiered", Rate: decimal.NewFromInt(1)}}},
		{"bad cycle", &model.CommissionConfigInput{Payout: &model.PayoutSettings{Cycle: "daily"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdateGlobalConfig(ctx, tt.in, nil)
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err), err.Error())
		})
	}

	// Nothing was written by the rejected updates.
	cfg, err := svc.GetGlobalConfig(ctx)
	require.NoError(t, err)
	assert.True(t, cfg.OnlineCommission.Rate.Equal(decimal.NewFromInt(10)))
}

func TestCalculateFinancialBreakdown_IntroOfferFromLedger(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, 0)
	doctor := uuid.New()

	req := &model.CalculateRequest{
		ConsultationFee:  money.FromRupees(1000),
		ConsultationType: model.ConsultationTypeInClinic,
		DoctorID:         &doctor,
	}
	b, err := svc.CalculateFinancialBreakdown(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, model.IntroOfferFree, b.Commission.IntroOfferType)
	assert.Zero(t, b.Commission.Amount)
	assert.Equal(t, money.FromRupees(1000), b.NetDoctorPayout)
	assert.NotEqual(t, uuid.Nil, b.ConfigID)

	// Without a doctor the standard rule applies.
	b, err = svc.CalculateFinancialBreakdown(ctx, &model.CalculateRequest{
		ConsultationFee:  money.FromRupees(1000),
		ConsultationType: model.ConsultationTypeOnline,
	})
	require.NoError(t, err)
	assert.Equal(t, money.FromRupees(100), b.Commission.Amount)
	assert.Equal(t, money.FromRupees(58), b.NetPlatformRevenue)

	// One completed entry leaves 49 free appointments.
	appt := &model.Appointment{ID: uuid.New(), DoctorID: doctor, PatientID: uuid.New()}
	entry := model.NewPaymentEntry(appt, b, "pay_1", "upi")
	require.NoError(t, store.Ledger().Append(ctx, entry))

	res, err := svc.CalculateCommission(ctx, money.FromRupees(1000), model.ConsultationTypeOnline, nil, &doctor)
	require.NoError(t, err)
	assert.Equal(t, 49, res.AppointmentsRemaining)
}

func TestCalculateFinancialBreakdown_Rejects(t *testing.T) {
	svc, _ := newTestService(t, 0)

	_, err := svc.CalculateFinancialBreakdown(context.Background(), &model.CalculateRequest{ConsultationType: model.ConsultationTypeOnline})
	assert.True(t, errors.IsValidation(err))

	_, err = svc.CalculateCommission(context.Background(), money.FromRupees(10), "home_visit", nil, nil)
	assert.True(t, errors.IsValidation(err))
}
