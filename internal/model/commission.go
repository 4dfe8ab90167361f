package model

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jwalitptl/settlement-api/pkg/money"
)

type CommissionType string

const (
	CommissionTypePercentage CommissionType = "percentage"
	CommissionTypeFlat       CommissionType = "flat"
)

type ConfigType string

const (
	ConfigTypeGlobal ConfigType = "global"
	ConfigTypeClinic ConfigType = "clinic"
)

type IntroOfferType string

const (
	IntroOfferNone    IntroOfferType = ""
	IntroOfferFree    IntroOfferType = "free"
	IntroOfferReduced IntroOfferType = "reduced"
)

// CommissionRule is the standard commission for one consultation type.
// Rate is a percentage for percentage rules and rupees for flat rules.
type CommissionRule struct {
	Type CommissionType  `json:"type" validate:"required,oneof=percentage flat"`
	Rate decimal.Decimal `json:"value"`
}

func (r CommissionRule) Value() (driver.Value, error) { return jsonValue(r) }
func (r *CommissionRule) Scan(src interface{}) error  { return jsonScan(src, r) }

type IntroOffer struct {
	Enabled                bool         `json:"enabled"`
	FreeAppointments       int          `json:"free_appointments" validate:"min=0"`
	ReducedFeeAppointments int          `json:"reduced_fee_appointments" validate:"min=0"`
	ReducedFeeValue        money.Amount `json:"reduced_fee_value" validate:"min=0"`
}

func (o IntroOffer) Value() (driver.Value, error) { return jsonValue(o) }
func (o *IntroOffer) Scan(src interface{}) error  { return jsonScan(src, o) }

// GatewayFeeModel describes what the payment gateway charges the platform.
type GatewayFeeModel struct {
	FeePercentage decimal.Decimal `json:"fee_percentage"`
	GSTOnFee      decimal.Decimal `json:"gst_on_fee"`
	FixedFee      money.Amount    `json:"fixed_fee" validate:"min=0"`
}

func (g GatewayFeeModel) Value() (driver.Value, error) { return jsonValue(g) }
func (g *GatewayFeeModel) Scan(src interface{}) error  { return jsonScan(src, g) }

type PayoutSettings struct {
	Cycle         PayoutCycle  `json:"cycle" validate:"required,oneof=weekly biweekly monthly"`
	MinimumAmount money.Amount `json:"minimum_amount" validate:"min=0"`
}

func (p PayoutSettings) Value() (driver.Value, error) { return jsonValue(p) }
func (p *PayoutSettings) Scan(src interface{}) error  { return jsonScan(src, p) }

type CommissionConfig struct {
	ID                 uuid.UUID       `json:"id" db:"id"`
	ConfigType         ConfigType      `json:"config_type" db:"config_type"`
	ClinicID           *uuid.UUID      `json:"clinic_id,omitempty" db:"clinic_id"`
	IsActive           bool            `json:"is_active" db:"is_active"`
	OnlineCommission   CommissionRule  `json:"online_commission" db:"online_commission"`
	InClinicCommission CommissionRule  `json:"in_clinic_commission" db:"in_clinic_commission"`
	IntroOffer         IntroOffer      `json:"intro_offer" db:"intro_offer"`
	GSTRate            decimal.Decimal `json:"gst_rate" db:"gst_rate"`
	PaymentGateway     GatewayFeeModel `json:"payment_gateway" db:"payment_gateway"`
	Payout             PayoutSettings  `json:"payout" db:"payout"`
	UpdatedBy          *uuid.UUID      `json:"updated_by,omitempty" db:"updated_by"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// RuleFor returns the standard rule for a consultation type.
func (c *CommissionConfig) RuleFor(t ConsultationType) CommissionRule {
	if t == ConsultationTypeInClinic {
		return c.InClinicCommission
	}
	return c.OnlineCommission
}

// DefaultCommissionConfig is what the global config is created with on first lookup.
func DefaultCommissionConfig() *CommissionConfig {
	return &CommissionConfig{
		ConfigType: ConfigTypeGlobal,
		IsActive:   true,
		OnlineCommission: CommissionRule{
			Type: CommissionTypePercentage,
			Rate: decimal.NewFromInt(10),
		},
		InClinicCommission: CommissionRule{
			Type: CommissionTypePercentage,
			Rate: decimal.NewFromInt(10),
		},
		IntroOffer: IntroOffer{
			Enabled:                true,
			FreeAppointments:       50,
			ReducedFeeAppointments: 100,
			ReducedFeeValue:        money.FromRupees(25),
		},
		GSTRate: decimal.NewFromInt(18),
		PaymentGateway: GatewayFeeModel{
			FeePercentage: decimal.NewFromInt(2),
			GSTOnFee:      decimal.NewFromInt(18),
		},
		Payout: PayoutSettings{
			Cycle: PayoutCycleWeekly,
		},
	}
}

// CommissionConfigInput is the administrator-editable part of a config.
type CommissionConfigInput struct {
	OnlineCommission   *CommissionRule  `json:"online_commission"`
	InClinicCommission *CommissionRule  `json:"in_clinic_commission"`
	IntroOffer         *IntroOffer      `json:"intro_offer"`
	GSTRate            *decimal.Decimal `json:"gst_rate"`
	PaymentGateway     *GatewayFeeModel `json:"payment_gateway"`
	Payout             *PayoutSettings  `json:"payout"`
	IsActive           *bool            `json:"is_active"`
}

// Apply copies the set fields onto cfg.
func (in *CommissionConfigInput) Apply(cfg *CommissionConfig) {
	if in.OnlineCommission != nil {
		cfg.OnlineCommission = *in.OnlineCommission
	}
	if in.InClinicCommission != nil {
		cfg.InClinicCommission = *in.InClinicCommission
	}
	if in.IntroOffer != nil {
		cfg.IntroOffer = *in.IntroOffer
	}
	if in.GSTRate != nil {
		cfg.GSTRate = *in.GSTRate
	}
	if in.PaymentGateway != nil {
		cfg.PaymentGateway = *in.PaymentGateway
	}
	if in.Payout != nil {
		cfg.Payout = *in.Payout
	}
	if in.IsActive != nil {
		cfg.IsActive = *in.IsActive
	}
}

// CommissionResult is the commission decided for one fee.
type CommissionResult struct {
	Type                  CommissionType  `json:"type"`
	Rate                  decimal.Decimal `json:"rate"`
	Amount                money.Amount    `json:"amount"`
	IntroOfferType        IntroOfferType  `json:"intro_offer_type,omitempty"`
	AppointmentsRemaining int             `json:"appointments_remaining,omitempty"`
}

type GSTComponent struct {
	Rate   decimal.Decimal `json:"rate"`
	Amount money.Amount    `json:"amount"`
}

type GatewayFee struct {
	FeeAmount money.Amount `json:"fee_amount"`
	GSTOnFee  money.Amount `json:"gst_on_fee"`
	Total     money.Amount `json:"total_gateway_charge"`
}

// FinancialBreakdown is every monetary figure persisted for one payment.
type FinancialBreakdown struct {
	ConsultationFee      money.Amount     `json:"consultation_fee"`
	ConsultationType     ConsultationType `json:"consultation_type"`
	Commission           CommissionResult `json:"commission"`
	GSTOnCommission      GSTComponent     `json:"gst_on_commission"`
	GatewayFee           GatewayFee       `json:"payment_gateway_fee"`
	TotalPatientPaid     money.Amount     `json:"total_patient_paid"`
	NetDoctorPayout      money.Amount     `json:"net_doctor_payout"`
	NetPlatformRevenue   money.Amount     `json:"net_platform_revenue"`
	PlatformGSTLiability money.Amount     `json:"platform_gst_liability"`
	ConfigID             uuid.UUID        `json:"config_id"`
}

// Consistent checks the identities every breakdown must satisfy.
func (b *FinancialBreakdown) Consistent() bool {
	return b.NetDoctorPayout+b.Commission.Amount == b.ConsultationFee &&
		b.NetPlatformRevenue == b.Commission.Amount-b.GSTOnCommission.Amount-b.GatewayFee.Total &&
		b.PlatformGSTLiability == b.GSTOnCommission.Amount &&
		b.GatewayFee.Total == b.GatewayFee.FeeAmount+b.GatewayFee.GSTOnFee
}

type CalculateRequest struct {
	ConsultationFee  money.Amount     `json:"consultation_fee" binding:"required" validate:"gt=0"`
	ConsultationType ConsultationType `json:"consultation_type" binding:"required" validate:"required,oneof=online in_clinic"`
	ClinicID         *uuid.UUID       `json:"clinic_id"`
	DoctorID         *uuid.UUID       `json:"doctor_id"`
}
