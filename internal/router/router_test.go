package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/settlement-api/internal/app"
	"github.com/jwalitptl/settlement-api/internal/config"
	auditHandler "github.com/jwalitptl/settlement-api/internal/handler/audit"
	bookingHandler "github.com/jwalitptl/settlement-api/internal/handler/booking"
	commissionHandler "github.com/jwalitptl/settlement-api/internal/handler/commission"
	"github.com/jwalitptl/settlement-api/internal/handler/health"
	ledgerHandler "github.com/jwalitptl/settlement-api/internal/handler/ledger"
	payoutHandler "github.com/jwalitptl/settlement-api/internal/handler/payout"
	promHandler "github.com/jwalitptl/settlement-api/internal/handler/prometheus"
	slotHandler "github.com/jwalitptl/settlement-api/internal/handler/slot"
	walletHandler "github.com/jwalitptl/settlement-api/internal/handler/wallet"
	"github.com/jwalitptl/settlement-api/internal/middleware"
	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/repository/memory"
	"github.com/jwalitptl/settlement-api/pkg/auth"
	"github.com/jwalitptl/settlement-api/pkg/logger"
	"github.com/jwalitptl/settlement-api/pkg/metrics"
	"github.com/jwalitptl/settlement-api/pkg/money"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testAPI struct {
	t       *testing.T
	engine  *gin.Engine
	tokens  auth.JWTService
	admin   uuid.UUID
	doctor  uuid.UUID
	patient uuid.UUID
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	cfg := &config.Config{}
	cfg.Settlement.RoundingUnit = 100
	cfg.Security.EncryptionKey = "router-test-key"

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics("test", "api", registry)
	store := memory.NewStore()
	services, err := app.NewServices(store, cfg, logger.Nop(), m)
	require.NoError(t, err)

	tokens := auth.NewJWTService("test-secret", "test")
	r := NewRouter(
		middleware.NewAuthMiddleware(tokens),
		health.NewHandler(store),
		promHandler.New("test", registry),
		RouterConfig{Mode: gin.TestMode, Logger: zerolog.Nop()},
		slotHandler.NewHandler(services.Slots),
		bookingHandler.NewHandler(services.Bookings),
		commissionHandler.NewHandler(services.Commission),
		ledgerHandler.NewHandler(services.Ledger),
		payoutHandler.NewHandler(services.Payouts),
		walletHandler.NewHandler(services.Wallets),
		auditHandler.NewHandler(services.Audit),
	)
	r.Setup()

	return &testAPI{
		t:       t,
		engine:  r.Engine(),
		tokens:  tokens,
		admin:   uuid.New(),
		doctor:  uuid.New(),
		patient: uuid.New(),
	}
}

func (a *testAPI) token(actor uuid.UUID, role string) string {
	tok, err := a.tokens.GenerateAccessToken(actor, role, time.Hour)
	require.NoError(a.t, err)
	return tok
}

func (a *testAPI) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if into != nil {
		require.NoError(t, json.Unmarshal(env.Data, into))
	}
	return env
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodGet, "/api/v1/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = api.do(http.MethodGet, "/api/v1/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = api.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_http_requests_total")
}

func TestRouter_RequiresAuthentication(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodGet, "/api/v1/bookings/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	env := decode(t, w, nil)
	assert.False(t, env.Success)

	w = api.do(http.MethodGet, "/api/v1/bookings/"+uuid.NewString(), "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_AdminRoutesRejectOtherRoles(t *testing.T) {
	api := newTestAPI(t)
	doctorTok := api.token(api.doctor, auth.RoleDoctor)

	for _, path := range []string{
		"/api/v1/commission/config",
		"/api/v1/reports/admin/revenue",
		"/api/v1/audit/verify",
		"/api/v1/payouts",
	} {
		w := api.do(http.MethodGet, path, doctorTok, nil)
		assert.Equal(t, http.StatusForbidden, w.Code, path)
	}
}

func TestRouter_DoctorCannotReadAnotherDoctor(t *testing.T) {
	api := newTestAPI(t)
	doctorTok := api.token(api.doctor, auth.RoleDoctor)
	other := uuid.NewString()

	w := api.do(http.MethodGet, "/api/v1/wallets/"+other, doctorTok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(http.MethodGet, "/api/v1/wallets/"+api.doctor.String(), doctorTok, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_BadInput(t *testing.T) {
	api := newTestAPI(t)
	patientTok := api.token(api.patient, auth.RolePatient)

	w := api.do(http.MethodGet, "/api/v1/bookings/not-a-uuid", patientTok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodGet, "/api/v1/slots/available?doctor_id="+api.doctor.String()+"&date=03/01/2024", patientTok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodPost, "/api/v1/bookings", patientTok, map[string]interface{}{"slot_type": "online"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestRouter_BookingToPayout drives one consultation from slot generation
// to a completed payout.
func TestRouter_BookingToPayout(t *testing.T) {
	api := newTestAPI(t)
	adminTok := api.token(api.admin, auth.RoleAdmin)
	doctorTok := api.token(api.doctor, auth.RoleDoctor)
	patientTok := api.token(api.patient, auth.RolePatient)

	tomorrow := model.Day(time.Now()).AddDate(0, 0, 1).Format(model.DateLayout)
	w := api.do(http.MethodPost, "/api/v1/slots/generate", doctorTok, map[string]interface{}{
		"doctor_id":        api.doctor,
		"kind":             "online",
		"from":             tomorrow,
		"to":               tomorrow,
		"start_time":       "09:00",
		"end_time":         "10:00",
		"duration_minutes": 20,
		"consultation_fee": 1000,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var generated model.GenerateSlotsResult
	decode(t, w, &generated)
	assert.Equal(t, 3, generated.Created)

	w = api.do(http.MethodGet, "/api/v1/slots/available?doctor_id="+api.doctor.String()+"&date="+tomorrow+"&kind=online", patientTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var slots []*model.Slot
	decode(t, w, &slots)
	require.Len(t, slots, 3)
	assert.Equal(t, money.FromRupees(1000), slots[0].ConsultationFee)

	// A patient cannot name their own price.
	w = api.do(http.MethodPost, "/api/v1/bookings", patientTok, map[string]interface{}{
		"patient_id":       api.patient,
		"slot_id":          slots[0].ID,
		"slot_type":        "online",
		"consultation_fee": 1,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(http.MethodPost, "/api/v1/bookings", patientTok, map[string]interface{}{
		"patient_id": api.patient,
		"slot_id":    slots[0].ID,
		"slot_type":  "online",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var booked model.BookingResult
	decode(t, w, &booked)
	assert.Equal(t, money.FromRupees(1000), booked.Appointment.ConsultationFee)
	apptID := booked.Appointment.ID.String()
	assert.Equal(t, 1, booked.Appointment.QueueNumber)

	// The slot is gone from availability.
	w = api.do(http.MethodGet, "/api/v1/slots/available?doctor_id="+api.doctor.String()+"&date="+tomorrow, patientTok, nil)
	decode(t, w, &slots)
	assert.Len(t, slots, 2)

	w = api.do(http.MethodPost, "/api/v1/bookings/"+apptID+"/confirm", patientTok, map[string]interface{}{
		"payment_id":     "pay_123",
		"payment_method": "upi",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var confirmed struct {
		Appointment *model.Appointment `json:"appointment"`
		LedgerEntry *model.LedgerEntry `json:"ledger_entry"`
	}
	decode(t, w, &confirmed)
	require.NotNil(t, confirmed.LedgerEntry)
	assert.Equal(t, model.LedgerStatusCompleted, confirmed.LedgerEntry.Status)

	// A second confirmation is rejected.
	w = api.do(http.MethodPost, "/api/v1/bookings/"+apptID+"/confirm", patientTok, map[string]interface{}{
		"payment_id":     "pay_124",
		"payment_method": "upi",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(http.MethodGet, "/api/v1/ledger/pending/"+api.doctor.String(), doctorTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending model.PendingEarnings
	decode(t, w, &pending)
	assert.Equal(t, confirmed.LedgerEntry.NetDoctorPayout, pending.NetAmount)

	w = api.do(http.MethodGet, "/api/v1/reports/doctor/"+api.doctor.String()+"/export?format=csv", doctorTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.True(t, strings.HasPrefix(w.Body.String(), "entry_id,"))

	w = api.do(http.MethodGet, "/api/v1/reports/doctor/"+api.doctor.String()+"/export?format=xml", doctorTok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	today := model.Day(time.Now()).Format(model.DateLayout)
	w = api.do(http.MethodPost, "/api/v1/payouts", adminTok, map[string]interface{}{
		"doctor_id":    api.doctor,
		"period_start": today,
		"period_end":   today,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p model.Payout
	decode(t, w, &p)
	assert.Equal(t, pending.NetAmount, p.TotalAmount)
	payoutID := p.ID.String()

	w = api.do(http.MethodPut, "/api/v1/payouts/"+payoutID+"/complete", adminTok, map[string]interface{}{"transaction_ref": "utr-1"})
	assert.Equal(t, http.StatusConflict, w.Code)

	for _, step := range []string{"approve", "process"} {
		w = api.do(http.MethodPut, "/api/v1/payouts/"+payoutID+"/"+step, adminTok, nil)
		require.Equal(t, http.StatusOK, w.Code, step+": "+w.Body.String())
	}
	w = api.do(http.MethodPut, "/api/v1/payouts/"+payoutID+"/complete", adminTok, map[string]interface{}{"transaction_ref": "utr-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &p)
	assert.Equal(t, model.PayoutStatusCompleted, p.Status)

	w = api.do(http.MethodGet, "/api/v1/payouts/doctor/"+api.doctor.String(), doctorTok, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Settled entries are locked.
	w = api.do(http.MethodPost, "/api/v1/ledger/"+confirmed.LedgerEntry.ID.String()+"/lock", adminTok, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	env := decode(t, w, nil)
	assert.Equal(t, "record is locked", env.Error.Message)

	w = api.do(http.MethodGet, "/api/v1/wallets/"+api.doctor.String(), doctorTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var wallet model.DoctorWallet
	decode(t, w, &wallet)
	assert.Zero(t, wallet.Balance)
	assert.Equal(t, p.TotalAmount, wallet.TotalPayouts)

	w = api.do(http.MethodGet, "/api/v1/audit/verify", adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var verification model.ChainVerification
	decode(t, w, &verification)
	assert.True(t, verification.Valid)
	assert.Positive(t, verification.Checked)

	w = api.do(http.MethodGet, "/api/v1/audit/appointment/"+apptID, adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var trail []*model.AuditLog
	decode(t, w, &trail)
	assert.NotEmpty(t, trail)
}

func TestRouter_CancelPaidBookingRefunds(t *testing.T) {
	api := newTestAPI(t)
	doctorTok := api.token(api.doctor, auth.RoleDoctor)
	patientTok := api.token(api.patient, auth.RolePatient)

	tomorrow := model.Day(time.Now()).AddDate(0, 0, 1).Format(model.DateLayout)
	w := api.do(http.MethodPost, "/api/v1/slots/generate", doctorTok, map[string]interface{}{
		"doctor_id": api.doctor, "kind": "online", "from": tomorrow, "to": tomorrow,
		"start_time": "09:00", "end_time": "09:20", "duration_minutes": 20, "consultation_fee": 500,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var slots []*model.Slot
	w = api.do(http.MethodGet, "/api/v1/slots/available?doctor_id="+api.doctor.String()+"&date="+tomorrow, patientTok, nil)
	decode(t, w, &slots)
	require.Len(t, slots, 1)

	var booked model.BookingResult
	w = api.do(http.MethodPost, "/api/v1/bookings", patientTok, map[string]interface{}{
		"patient_id": api.patient, "slot_id": slots[0].ID, "slot_type": "online",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	decode(t, w, &booked)
	apptID := booked.Appointment.ID.String()

	w = api.do(http.MethodPost, "/api/v1/bookings/"+apptID+"/confirm", patientTok, map[string]interface{}{
		"payment_id": "pay_1", "payment_method": "card",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = api.do(http.MethodPost, "/api/v1/bookings/"+apptID+"/cancel", patientTok, map[string]interface{}{"reason": "unwell"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var cancelled model.CancellationResult
	decode(t, w, &cancelled)
	require.NotNil(t, cancelled.RefundEntry)
	assert.Equal(t, model.TransactionTypeRefund, cancelled.RefundEntry.TransactionType)
	assert.True(t, cancelled.RefundEntry.NetDoctorPayout < 0)
	assert.False(t, cancelled.Slot.IsBooked)

	w = api.do(http.MethodPost, "/api/v1/bookings/"+apptID+"/cancel", patientTok, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}
