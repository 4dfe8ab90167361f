package commission

import (
	"github.com/shopspring/decimal"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/pkg/money"
)

// Calculator holds the pure settlement math. Every component is rounded
// independently to Unit; the net figures are exact differences of the
// rounded components.
type Calculator struct {
	Unit money.Amount
}

func NewCalculator(unit money.Amount) Calculator {
	if unit <= 0 {
		unit = money.Paisa
	}
	return Calculator{Unit: unit}
}

// Commission decides the platform commission on fee. completed is the
// doctor's count of completed entries, or nil when the doctor is unknown and
// the introductory offer cannot apply. The commission never exceeds the fee.
func (c Calculator) Commission(cfg *model.CommissionConfig, fee money.Amount, t model.ConsultationType, completed *int) model.CommissionResult {
	if offer := cfg.IntroOffer; offer.Enabled && completed != nil {
		n := *completed
		switch {
		case n < offer.FreeAppointments:
			return model.CommissionResult{
				Type:                  model.CommissionTypeFlat,
				Rate:                  decimal.Zero,
				Amount:                0,
				IntroOfferType:        model.IntroOfferFree,
				AppointmentsRemaining: offer.FreeAppointments - n,
			}
		case n < offer.FreeAppointments+offer.ReducedFeeAppointments:
			return model.CommissionResult{
				Type:                  model.CommissionTypeFlat,
				Rate:                  offer.ReducedFeeValue.Decimal(),
				Amount:                capAt(offer.ReducedFeeValue, fee),
				IntroOfferType:        model.IntroOfferReduced,
				AppointmentsRemaining: offer.FreeAppointments + offer.ReducedFeeAppointments - n,
			}
		}
	}

	rule := cfg.RuleFor(t)
	result := model.CommissionResult{Type: rule.Type, Rate: rule.Rate}
	if rule.Type == model.CommissionTypeFlat {
		result.Amount = capAt(money.FromDecimal(rule.Rate), fee)
	} else {
		result.Amount = capAt(money.Percent(fee, rule.Rate, c.Unit), fee)
	}
	return result
}

// GST applies only to the platform commission.
func (c Calculator) GST(commission money.Amount, rate decimal.Decimal) model.GSTComponent {
	return model.GSTComponent{Rate: rate, Amount: money.Percent(commission, rate, c.Unit)}
}

// GatewayFee is what the gateway charges on total, plus GST on that fee.
// It is borne by the platform.
func (c Calculator) GatewayFee(total money.Amount, gw model.GatewayFeeModel) model.GatewayFee {
	fee := money.Percent(total, gw.FeePercentage, c.Unit) + gw.FixedFee
	gst := money.Percent(fee, gw.GSTOnFee, c.Unit)
	return model.GatewayFee{FeeAmount: fee, GSTOnFee: gst, Total: fee + gst}
}

// Breakdown composes commission, GST and gateway fee into every persisted figure.
func (c Calculator) Breakdown(cfg *model.CommissionConfig, fee money.Amount, t model.ConsultationType, completed *int) *model.FinancialBreakdown {
	commission := c.Commission(cfg, fee, t, completed)
	gst := c.GST(commission.Amount, cfg.GSTRate)
	gateway := c.GatewayFee(fee, cfg.PaymentGateway)

	return &model.FinancialBreakdown{
		ConsultationFee:      fee,
		ConsultationType:     t,
		Commission:           commission,
		GSTOnCommission:      gst,
		GatewayFee:           gateway,
		TotalPatientPaid:     fee,
		NetDoctorPayout:      fee - commission.Amount,
		NetPlatformRevenue:   commission.Amount - gst.Amount - gateway.Total,
		PlatformGSTLiability: gst.Amount,
		ConfigID:             cfg.ID,
	}
}

func capAt(a, max money.Amount) money.Amount {
	if a > max {
		return max
	}
	if a < 0 {
		return 0
	}
	return a
}
