package ledger

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/settlement-api/internal/handler"
	"github.com/jwalitptl/settlement-api/internal/middleware"
	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/service/ledger"
	"github.com/jwalitptl/settlement-api/pkg/auth"
	"github.com/jwalitptl/settlement-api/pkg/errors"
	"github.com/jwalitptl/settlement-api/pkg/httputil"
)

// Handler serves ledger entries and the reports built from them.
type Handler struct {
	service *ledger.Service
	now     func() time.Time
}

func NewHandler(service *ledger.Service) *Handler {
	return &Handler{service: service, now: time.Now}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, am *middleware.AuthMiddleware) {
	entries := r.Group("/ledger")
	{
		entries.GET("/doctor/:doctorId", h.ListForDoctor)
		entries.GET("/pending/:doctorId", h.PendingEarnings)
		entries.GET("/:id", h.Get)
		entries.POST("/:id/lock", am.RequireRole(auth.RoleAdmin), h.Lock)
	}

	reports := r.Group("/reports")
	{
		reports.GET("/doctor/:doctorId", h.DoctorReport)
		reports.GET("/doctor/:doctorId/export", h.ExportDoctorReport)

		admin := reports.Group("/admin", am.RequireRole(auth.RoleAdmin))
		admin.GET("/revenue", h.RevenueReport)
		admin.GET("/export", h.ExportRevenueReport)
	}
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}

	entry, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if !handler.AllowDoctor(c, entry.DoctorID) {
		return
	}
	httputil.RespondWithSuccess(c, entry)
}

func (h *Handler) ListForDoctor(c *gin.Context) {
	doctorID, ok := handler.ParamUUID(c, "doctorId")
	if !ok || !handler.AllowDoctor(c, doctorID) {
		return
	}

	filter := &model.LedgerFilter{DoctorID: &doctorID}
	if raw := c.Query("status"); raw != "" {
		filter.Status = []model.LedgerStatus{model.LedgerStatus(raw)}
	}
	if raw := c.Query("payout_status"); raw != "" {
		filter.PayoutStatus = []model.EntryPayoutStatus{model.EntryPayoutStatus(raw)}
	}
	if raw := c.Query("transaction_type"); raw != "" {
		t := model.TransactionType(raw)
		filter.TransactionType = &t
	}
	if c.Query("from") != "" || c.Query("to") != "" {
		period, ok := handler.QueryPeriod(c, h.now())
		if !ok {
			return
		}
		filter.From, filter.To = &period.Start, &period.End
	}

	entries, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, entries)
}

func (h *Handler) Lock(c *gin.Context) {
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}

	entry, err := h.service.Lock(c.Request.Context(), id, middleware.ActorID(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, entry)
}

func (h *Handler) PendingEarnings(c *gin.Context) {
	doctorID, ok := handler.ParamUUID(c, "doctorId")
	if !ok || !handler.AllowDoctor(c, doctorID) {
		return
	}

	pending, err := h.service.PendingEarnings(c.Request.Context(), doctorID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, pending)
}

func (h *Handler) DoctorReport(c *gin.Context) {
	report, ok := h.doctorReport(c)
	if !ok {
		return
	}
	httputil.RespondWithSuccess(c, report)
}

func (h *Handler) ExportDoctorReport(c *gin.Context) {
	format, err := ledger.ParseFormat(c.Query("format"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	report, ok := h.doctorReport(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := ledger.ExportDoctorReport(&buf, report, format); err != nil {
		httputil.RespondWithError(c, errors.NewInternal(err))
		return
	}
	name := fmt.Sprintf("earnings_%s_%s.%s", report.DoctorID, report.Period.Start.Format(model.DateLayout), format)
	attach(c, name, format, buf.Bytes())
}

func (h *Handler) RevenueReport(c *gin.Context) {
	report, ok := h.revenueReport(c)
	if !ok {
		return
	}
	httputil.RespondWithSuccess(c, report)
}

func (h *Handler) ExportRevenueReport(c *gin.Context) {
	format, err := ledger.ParseFormat(c.Query("format"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	report, ok := h.revenueReport(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := ledger.ExportRevenueReport(&buf, report, format); err != nil {
		httputil.RespondWithError(c, errors.NewInternal(err))
		return
	}
	name := fmt.Sprintf("revenue_%s.%s", report.Period.Start.Format(model.DateLayout), format)
	attach(c, name, format, buf.Bytes())
}

func (h *Handler) doctorReport(c *gin.Context) (*model.DoctorEarningsReport, bool) {
	doctorID, ok := handler.ParamUUID(c, "doctorId")
	if !ok || !handler.AllowDoctor(c, doctorID) {
		return nil, false
	}
	period, ok := handler.QueryPeriod(c, h.now())
	if !ok {
		return nil, false
	}

	report, err := h.service.DoctorReport(c.Request.Context(), doctorID, period)
	if err != nil {
		httputil.RespondWithError(c, err)
		return nil, false
	}
	return report, true
}

func (h *Handler) revenueReport(c *gin.Context) (*model.RevenueReport, bool) {
	period, ok := handler.QueryPeriod(c, h.now())
	if !ok {
		return nil, false
	}

	report, err := h.service.RevenueReport(c.Request.Context(), period)
	if err != nil {
		httputil.RespondWithError(c, err)
		return nil, false
	}
	return report, true
}

func attach(c *gin.Context, name string, format ledger.ExportFormat, body []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, format.ContentType(), body)
}
