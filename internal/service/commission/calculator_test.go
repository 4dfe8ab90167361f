package commission

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/pkg/money"
)

func standardConfig() *model.CommissionConfig {
	cfg := model.DefaultCommissionConfig()
	cfg.IntroOffer.Enabled = false
	return cfg
}

func intPtr(n int) *int { return &n }

func TestBreakdown_StandardOnline(t *testing.T) {
	calc := NewCalculator(money.Rupee)
	b := calc.Breakdown(standardConfig(), money.FromRupees(1000), model.ConsultationTypeOnline, nil)

	assert.Equal(t, money.FromRupees(100), b.Commission.Amount)
	assert.Equal(t, model.CommissionTypePercentage, b.Commission.Type)
	assert.Equal(t, money.FromRupees(18), b.GSTOnCommission.Amount)
	assert.Equal(t, money.FromRupees(20), b.GatewayFee.FeeAmount)
	assert.Equal(t, money.FromRupees(4), b.GatewayFee.GSTOnFee)
	assert.Equal(t, money.FromRupees(24), b.GatewayFee.Total)
	assert.Equal(t, money.FromRupees(900), b.NetDoctorPayout)
	assert.Equal(t, money.FromRupees(58), b.NetPlatformRevenue)
	assert.Equal(t, money.FromRupees(18), b.PlatformGSTLiability)
	assert.Equal(t, money.FromRupees(1000), b.TotalPatientPaid)
	assert.True(t, b.Consistent())
}

func TestCommission_IntroOffer(t *testing.T) {
	calc := NewCalculator(money.Rupee)
	cfg := model.DefaultCommissionConfig()
	fee := money.FromRupees(500)

	tests := []struct {
		name      string
		completed *int
		ctype     model.ConsultationType
		wantType  model.IntroOfferType
		wantAmt   money.Amount
		remaining int
	}{
		{"first appointment online", intPtr(0), model.ConsultationTypeOnline, model.IntroOfferFree, 0, 50},
		{"first appointment in clinic", intPtr(0), model.ConsultationTypeInClinic, model.IntroOfferFree, 0, 50},
		{"last free", intPtr(49), model.ConsultationTypeOnline, model.IntroOfferFree, 0, 1},
		{"first reduced", intPtr(50), model.ConsultationTypeOnline, model.IntroOfferReduced, money.FromRupees(25), 100},
		{"last reduced", intPtr(149), model.ConsultationTypeOnline, model.IntroOfferReduced, money.FromRupees(25), 1},
		{"standard", intPtr(150), model.ConsultationTypeOnline, model.IntroOfferNone, money.FromRupees(50), 0},
		{"unknown doctor", nil, model.ConsultationTypeOnline, model.IntroOfferNone, money.FromRupees(50), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calc.Commission(cfg, fee, tt.ctype, tt.completed)
			assert.Equal(t, tt.wantType, got.IntroOfferType)
			assert.Equal(t, tt.wantAmt, got.Amount)
			assert.Equal(t, tt.remaining, got.AppointmentsRemaining)
		})
	}
}

func TestCommission_FlatAndCapped(t *testing.T) {
	calc := NewCalculator(money.Rupee)
	cfg := standardConfig()
	cfg.InClinicCommission = model.CommissionRule{Type: model.CommissionTypeFlat, Rate: decimal.NewFromInt(75)}

	got := calc.Commission(cfg, money.FromRupees(400), model.ConsultationTypeInClinic, nil)
	assert.Equal(t, model.CommissionTypeFlat, got.Type)
	assert.Equal(t, money.FromRupees(75), got.Amount)

	// A flat commission above the fee takes the whole fee, never more.
	got = calc.Commission(cfg, money.FromRupees(50), model.ConsultationTypeInClinic, nil)
	assert.Equal(t, money.FromRupees(50), got.Amount)

	b := calc.Breakdown(cfg, money.FromRupees(50), model.ConsultationTypeInClinic, nil)
	assert.Zero(t, b.NetDoctorPayout)
	assert.True(t, b.Consistent())
}

func TestGatewayFee_FixedComponent(t *testing.T) {
	calc := NewCalculator(money.Rupee)
	gw := model.GatewayFeeModel{
		FeePercentage: decimal.NewFromInt(2),
		GSTOnFee:      decimal.NewFromInt(18),
		FixedFee:      money.FromRupees(3),
	}
	got := calc.GatewayFee(money.FromRupees(1000), gw)
	assert.Equal(t, money.FromRupees(23), got.FeeAmount)
	assert.Equal(t, money.FromRupees(4), got.GSTOnFee)
	assert.Equal(t, money.FromRupees(27), got.Total)
}

func TestBreakdown_MoneyConservation(t *testing.T) {
	rules := []model.CommissionRule{
		{Type: model.CommissionTypePercentage, Rate: decimal.NewFromInt(10)},
		{Type: model.CommissionTypePercentage, Rate: decimal.RequireFromString("12.5")},
		{Type: model.CommissionTypePercentage, Rate: decimal.RequireFromString("33.33")},
		{Type: model.CommissionTypePercentage, Rate: decimal.NewFromInt(100)},
		{Type: model.CommissionTypeFlat, Rate: decimal.NewFromInt(25)},
		{Type: model.CommissionTypeFlat, Rate: decimal.RequireFromString("99.99")},
	}
	for _, unit := range []money.Amount{money.Paisa, money.Rupee} {
		calc := NewCalculator(unit)
		for _, rule := range rules {
			cfg := standardConfig()
			cfg.OnlineCommission = rule
			cfg.InClinicCommission = rule
			for fee := int64(1); fee <= 100000; fee += 11 {
				for _, ct := range []model.ConsultationType{model.ConsultationTypeOnline, model.ConsultationTypeInClinic} {
					b := calc.Breakdown(cfg, money.FromRupees(fee), ct, nil)
					require.Equal(t, b.ConsultationFee, b.NetDoctorPayout+b.Commission.Amount,
						"fee %d rule %v unit %d", fee, rule, unit)
					require.True(t, b.Consistent())
					require.GreaterOrEqual(t, int64(b.NetDoctorPayout), int64(0))
				}
			}
		}
	}
}
