package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/repository/memory"
	"github.com/jwalitptl/settlement-api/internal/service/audit"
	"github.com/jwalitptl/settlement-api/internal/service/commission"
	"github.com/jwalitptl/settlement-api/internal/service/event"
	"github.com/jwalitptl/settlement-api/internal/service/wallet"
	"github.com/jwalitptl/settlement-api/pkg/errors"
	"github.com/jwalitptl/settlement-api/pkg/logger"
	"github.com/jwalitptl/settlement-api/pkg/money"
	"github.com/jwalitptl/settlement-api/pkg/security"
)

type fixture struct {
	svc         *Service
	store       *memory.Store
	commissions *commission.Service
	doctorID    uuid.UUID
	day         time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	log := logger.Nop()
	auditor := audit.NewService(store, log)
	enc, err := security.NewEncryptorFromPassphrase("booking-test")
	require.NoError(t, err)

	commissions := commission.NewService(store, auditor, money.Rupee, 0, log)
	wallets := wallet.NewService(store, enc, auditor, log)
	svc := NewService(store, commissions, wallets, event.NewService(log), auditor, log, nil)

	return &fixture{
		svc:         svc,
		store:       store,
		commissions: commissions,
		doctorID:    uuid.New(),
		day:         model.Day(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)),
	}
}

// disableIntroOffer makes every booking pay the standard commission.
func (f *fixture) disableIntroOffer(t *testing.T) {
	t.Helper()
	_, err := f.commissions.UpdateGlobalConfig(context.Background(), &model.CommissionConfigInput{
		IntroOffer: &model.IntroOffer{Enabled: false},
	}, nil)
	require.NoError(t, err)
}

func (f *fixture) slot(t *testing.T, start string) *model.Slot {
	t.Helper()
	s := &model.Slot{
		DoctorID:        f.doctorID,
		Kind:            model.SlotKindOnline,
		Date:            f.day,
		StartTime:       start,
		EndTime:         start,
		DurationMinutes: 20,
	}
	n, err := f.store.Slots().CreateBatch(context.Background(), []*model.Slot{s})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	return s
}

func (f *fixture) book(t *testing.T, slot *model.Slot, fee money.Amount) *model.Appointment {
	t.Helper()
	res, err := f.svc.Create(context.Background(), &model.CreateBookingRequest{
		PatientID:       uuid.New(),
		SlotID:          slot.ID,
		SlotType:        model.SlotKindOnline,
		ConsultationFee: fee,
	})
	require.NoError(t, err)
	return res.Appointment
}

func confirmReq() *model.ConfirmBookingRequest {
	return &model.ConfirmBookingRequest{PaymentID: "pay_123", PaymentMethod: "upi"}
}

func TestCreate_ReservesSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	slot := f.slot(t, "10:00")

	appt := f.book(t, slot, money.FromRupees(500))
	assert.Equal(t, model.AppointmentStatusPending, appt.Status)
	assert.Equal(t, model.PaymentStatusUnpaid, appt.PaymentStatus)
	assert.Equal(t, model.ConsultationTypeOnline, appt.ConsultationType)
	assert.Equal(t, 1, appt.QueueNumber)
	assert.Equal(t, "10:00", appt.Time)

	got, err := f.store.Slots().Get(ctx, slot.ID)
	require.NoError(t, err)
	assert.True(t, got.IsBooked)
	assert.Equal(t, &appt.ID, got.AppointmentID)

	available, err := f.store.Slots().ListAvailable(ctx, f.doctorID, f.day, nil)
	require.NoError(t, err)
	assert.Empty(t, available)
}

func TestCreate_WrongSlotKind(t *testing.T) {
	f := newFixture(t)
	slot := f.slot(t, "10:00")

	_, err := f.svc.Create(context.Background(), &model.CreateBookingRequest{
		PatientID:       uuid.New(),
		SlotID:          slot.ID,
		SlotType:        model.SlotKindClinic,
		ConsultationFee: money.FromRupees(500),
	})
	assert.True(t, errors.IsConflict(err))
}

func (f *fixture) pricedSlot(t *testing.T, start string, fee money.Amount) *model.Slot {
	t.Helper()
	s := &model.Slot{
		DoctorID:        f.doctorID,
		Kind:            model.SlotKindOnline,
		Date:            f.day,
		StartTime:       start,
		EndTime:         start,
		DurationMinutes: 20,
		ConsultationFee: fee,
	}
	_, err := f.store.Slots().CreateBatch(context.Background(), []*model.Slot{s})
	require.NoError(t, err)
	return s
}

func TestCreate_FeeComesFromPricedSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name    string
		start   string
		fee     money.Amount
		wantErr bool
	}{
		{"fee omitted", "10:00", 0, false},
		{"fee restated", "10:20", money.FromRupees(700), false},
		{"fee overridden", "10:40", money.FromRupees(1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slot := f.pricedSlot(t, tt.start, money.FromRupees(700))
			res, err := f.svc.Create(ctx, &model.CreateBookingRequest{
				PatientID:       uuid.New(),
				SlotID:          slot.ID,
				SlotType:        model.SlotKindOnline,
				ConsultationFee: tt.fee,
			})
			if tt.wantErr {
				assert.True(t, errors.IsValidation(err))
				got, err := f.store.Slots().Get(ctx, slot.ID)
				require.NoError(t, err)
				assert.False(t, got.IsBooked)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, money.FromRupees(700), res.Appointment.ConsultationFee)
		})
	}

	// An unpriced slot needs the fee from the caller.
	unpriced := f.slot(t, "11:00")
	_, err := f.svc.Create(ctx, &model.CreateBookingRequest{
		PatientID: uuid.New(),
		SlotID:    unpriced.ID,
		SlotType:  model.SlotKindOnline,
	})
	assert.True(t, errors.IsValidation(err))
}

func TestCreate_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	slot := f.slot(t, "10:00")

	const attempts = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Create(context.Background(), &model.CreateBookingRequest{
				PatientID:       uuid.New(),
				SlotID:          slot.ID,
				SlotType:        model.SlotKindOnline,
				ConsultationFee: money.FromRupees(500),
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
			} else if errors.IsConflict(err) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, attempts-1, conflicts)
}

func TestCreate_QueueNumbers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := f.book(t, f.slot(t, "10:00"), money.FromRupees(500))
	second := f.book(t, f.slot(t, "10:20"), money.FromRupees(500))
	third := f.book(t, f.slot(t, "10:40"), money.FromRupees(500))
	assert.Equal(t, []int{1, 2, 3}, []int{first.QueueNumber, second.QueueNumber, third.QueueNumber})

	_, err := f.svc.Cancel(ctx, second.ID, nil, &model.CancelBookingRequest{Reason: "changed plans"})
	require.NoError(t, err)

	// Numbers already handed out are never reused.
	fourth := f.book(t, f.slot(t, "11:00"), money.FromRupees(500))
	assert.Equal(t, 4, fourth.QueueNumber)
}

func TestConfirm_FinancialScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.disableIntroOffer(t)
	appt := f.book(t, f.slot(t, "10:00"), money.FromRupees(1000))

	confirmed, entry, err := f.svc.Confirm(ctx, appt.ID, confirmReq())
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusConfirmed, confirmed.Status)
	assert.Equal(t, model.PaymentStatusPaid, confirmed.PaymentStatus)

	assert.Equal(t, money.FromRupees(100), entry.CommissionAmount)
	assert.Equal(t, money.FromRupees(18), entry.GSTAmount)
	assert.Equal(t, money.FromRupees(20), entry.GatewayFeeAmount)
	assert.Equal(t, money.FromRupees(4), entry.GatewayGST)
	assert.Equal(t, money.FromRupees(900), entry.NetDoctorPayout)
	assert.Equal(t, money.FromRupees(58), entry.NetPlatformRevenue)
	assert.Equal(t, model.LedgerStatusCompleted, entry.Status)
	assert.Equal(t, model.EntryPayoutPending, entry.PayoutStatus)

	w, err := f.store.Wallets().GetOrCreate(ctx, f.doctorID)
	require.NoError(t, err)
	assert.Equal(t, money.FromRupees(900), w.Balance)
	assert.Equal(t, money.FromRupees(900), w.PendingAmount)
	assert.Equal(t, money.FromRupees(900), w.TotalEarnings)
}

func TestConfirm_IntroOfferFree(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, f.slot(t, "10:00"), money.FromRupees(1000))

	_, entry, err := f.svc.Confirm(context.Background(), appt.ID, confirmReq())
	require.NoError(t, err)
	assert.Equal(t, money.Amount(0), entry.CommissionAmount)
	assert.Equal(t, model.IntroOfferFree, entry.IntroOfferType)
	assert.Equal(t, money.FromRupees(1000), entry.NetDoctorPayout)
}

func TestConfirm_Twice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := f.book(t, f.slot(t, "10:00"), money.FromRupees(500))

	_, _, err := f.svc.Confirm(ctx, appt.ID, confirmReq())
	require.NoError(t, err)

	_, _, err = f.svc.Confirm(ctx, appt.ID, confirmReq())
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Contains(t, err.Error(), "appointment not found or not pending")

	entries, err := f.store.Ledger().List(ctx, &model.LedgerFilter{DoctorID: &f.doctorID})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestConfirm_Unknown(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.Confirm(context.Background(), uuid.New(), confirmReq())
	assert.True(t, errors.IsNotFound(err))
}

func TestConfirmWithPayment_RollsBackOnMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := f.book(t, f.slot(t, "10:00"), money.FromRupees(500))

	breakdown, err := f.commissions.CalculateFinancialBreakdown(ctx, &model.CalculateRequest{
		ConsultationFee:  money.FromRupees(800),
		ConsultationType: model.ConsultationTypeOnline,
	})
	require.NoError(t, err)

	_, _, err = f.svc.ConfirmWithPayment(ctx, appt.ID, &model.PaymentDetails{
		PaymentID:     "pay_1",
		PaymentMethod: "card",
		Breakdown:     *breakdown,
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	got, err := f.store.Appointments().Get(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusPending, got.Status)

	entries, err := f.store.Ledger().List(ctx, &model.LedgerFilter{DoctorID: &f.doctorID})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConfirmWithPayment_RejectsUnbalancedBreakdown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := f.book(t, f.slot(t, "10:00"), money.FromRupees(500))

	breakdown, err := f.commissions.CalculateFinancialBreakdown(ctx, &model.CalculateRequest{
		ConsultationFee:  money.FromRupees(500),
		ConsultationType: model.ConsultationTypeOnline,
	})
	require.NoError(t, err)
	breakdown.NetDoctorPayout += money.Rupee

	_, _, err = f.svc.ConfirmWithPayment(ctx, appt.ID, &model.PaymentDetails{
		PaymentID:     "pay_1",
		PaymentMethod: "card",
		Breakdown:     *breakdown,
	})
	assert.True(t, errors.IsValidation(err))
}

func TestCancel_PaidAppointmentWritesRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.disableIntroOffer(t)
	slot := f.slot(t, "10:00")
	appt := f.book(t, slot, money.FromRupees(1000))
	_, original, err := f.svc.Confirm(ctx, appt.ID, confirmReq())
	require.NoError(t, err)

	actor := appt.PatientID
	res, err := f.svc.Cancel(ctx, appt.ID, &actor, &model.CancelBookingRequest{Reason: "unwell"})
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCancelled, res.Appointment.Status)
	assert.False(t, res.Slot.IsBooked)
	require.NotNil(t, res.RefundEntry)

	refund := res.RefundEntry
	assert.Equal(t, model.TransactionTypeRefund, refund.TransactionType)
	assert.Equal(t, model.LedgerStatusPendingRefund, refund.Status)
	assert.Equal(t, money.FromRupees(-1000), refund.ConsultationFee)
	assert.Equal(t, money.FromRupees(-900), refund.NetDoctorPayout)
	assert.Equal(t, money.FromRupees(-58), refund.NetPlatformRevenue)
	assert.Equal(t, &original.ID, refund.RefundOfID)

	stored, err := f.store.Ledger().Get(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, original.NetDoctorPayout, stored.NetDoctorPayout)
	assert.Equal(t, model.LedgerStatusCompleted, stored.Status)

	entries, err := f.store.Ledger().List(ctx, &model.LedgerFilter{DoctorID: &f.doctorID})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	available, err := f.store.Slots().ListAvailable(ctx, f.doctorID, f.day, nil)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, slot.ID, available[0].ID)

	w, err := f.store.Wallets().GetOrCreate(ctx, f.doctorID)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(0), w.Balance)
	assert.Equal(t, money.Amount(0), w.PendingAmount)
}

func TestCancel_UnpaidHasNoRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := f.book(t, f.slot(t, "10:00"), money.FromRupees(500))

	res, err := f.svc.Cancel(ctx, appt.ID, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, res.RefundEntry)

	entries, err := f.store.Ledger().List(ctx, &model.LedgerFilter{DoctorID: &f.doctorID})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCancel_Terminal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := f.book(t, f.slot(t, "10:00"), money.FromRupees(500))

	_, err := f.svc.Cancel(ctx, appt.ID, nil, nil)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, appt.ID, nil, nil)
	assert.True(t, errors.IsConflict(err))

	_, err = f.svc.Cancel(ctx, uuid.New(), nil, nil)
	assert.True(t, errors.IsNotFound(err))
}

func TestComplete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := f.book(t, f.slot(t, "10:00"), money.FromRupees(500))

	_, err := f.svc.Complete(ctx, appt.ID, nil)
	assert.True(t, errors.IsConflict(err))

	_, _, err = f.svc.Confirm(ctx, appt.ID, confirmReq())
	require.NoError(t, err)

	done, err := f.svc.Complete(ctx, appt.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCompleted, done.Status)

	_, err = f.svc.Cancel(ctx, appt.ID, nil, nil)
	assert.True(t, errors.IsConflict(err))
}

func TestConfirmCancelRace(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		f := newFixture(t)
		appt := f.book(t, f.slot(t, "10:00"), money.FromRupees(700))

		var wg sync.WaitGroup
		var confirmErr, cancelErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, confirmErr = f.svc.Confirm(ctx, appt.ID, confirmReq())
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = f.svc.Cancel(ctx, appt.ID, nil, nil)
		}()
		wg.Wait()

		require.NoError(t, cancelErr)
		got, err := f.store.Appointments().Get(ctx, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AppointmentStatusCancelled, got.Status)

		totals, err := f.store.Ledger().Totals(ctx, &model.LedgerFilter{DoctorID: &f.doctorID})
		require.NoError(t, err)
		assert.Equal(t, money.Amount(0), totals.NetDoctorPayout)
		if confirmErr == nil {
			assert.Equal(t, 2, totals.Count)
		} else {
			assert.True(t, errors.IsNotFound(confirmErr))
			assert.Equal(t, 0, totals.Count)
		}
	}
}

func TestOperationsAreAudited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := f.book(t, f.slot(t, "10:00"), money.FromRupees(500))
	_, _, err := f.svc.Confirm(ctx, appt.ID, confirmReq())
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, appt.ID, nil, nil)
	require.NoError(t, err)

	logs, err := f.store.Audit().List(ctx, &model.AuditFilter{EntityType: model.AuditEntityAppointment, EntityID: &appt.ID})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, model.AuditActionConfirm, logs[0].Action)
	assert.Equal(t, model.AuditActionCancel, logs[1].Action)
}
