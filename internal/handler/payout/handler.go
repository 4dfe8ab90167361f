package payout

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/handler"
	"github.com/jwalitptl/settlement-api/internal/middleware"
	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/service/payout"
	"github.com/jwalitptl/settlement-api/pkg/auth"
	"github.com/jwalitptl/settlement-api/pkg/errors"
	"github.com/jwalitptl/settlement-api/pkg/httputil"
)

type Handler struct {
	service *payout.Service
}

func NewHandler(service *payout.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, am *middleware.AuthMiddleware) {
	payouts := r.Group("/payouts")
	{
		payouts.GET("/doctor/:doctorId", h.ListForDoctor)
		payouts.GET("/:id", h.Get)

		admin := payouts.Group("", am.RequireRole(auth.RoleAdmin))
		admin.POST("", h.Create)
		admin.GET("", h.List)
		admin.PUT("/:id/approve", h.Approve)
		admin.PUT("/:id/process", h.Process)
		admin.PUT("/:id/complete", h.Complete)
		admin.PUT("/:id/fail", h.Fail)
		admin.PUT("/:id/cancel", h.Cancel)
	}
}

type completeRequest struct {
	TransactionRef string `json:"transaction_ref" binding:"required,max=128"`
}

type reasonRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

func (h *Handler) Create(c *gin.Context) {
	var req model.CreatePayoutRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	p, err := h.service.CreatePayoutFromRequest(c.Request.Context(), &req, middleware.ActorID(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if p == nil {
		httputil.RespondWithError(c, errors.NewValidation("no eligible earnings for payout", nil))
		return
	}
	httputil.RespondWithCreated(c, p)
}

func (h *Handler) List(c *gin.Context) {
	filter := &model.PayoutFilter{}
	doctorID, ok := handler.QueryUUID(c, "doctor_id")
	if !ok {
		return
	}
	filter.DoctorID = doctorID
	h.list(c, filter)
}

func (h *Handler) ListForDoctor(c *gin.Context) {
	doctorID, ok := handler.ParamUUID(c, "doctorId")
	if !ok || !handler.AllowDoctor(c, doctorID) {
		return
	}
	h.list(c, &model.PayoutFilter{DoctorID: &doctorID})
}

func (h *Handler) list(c *gin.Context, filter *model.PayoutFilter) {
	if raw := c.Query("status"); raw != "" {
		status := model.PayoutStatus(raw)
		filter.Status = &status
	}
	if c.Query("from") != "" || c.Query("to") != "" {
		period, ok := handler.QueryPeriod(c, time.Now())
		if !ok {
			return
		}
		filter.From, filter.To = &period.Start, &period.End
	}
	page, ok := handler.QueryPagination(c)
	if !ok {
		return
	}

	payouts, total, err := h.service.List(c.Request.Context(), filter, page)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithPagination(c, payouts, page.Page, page.PageSize, total)
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}

	detail, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if !handler.AllowDoctor(c, detail.DoctorID) {
		return
	}
	httputil.RespondWithSuccess(c, detail)
}

func (h *Handler) Approve(c *gin.Context) {
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	h.respond(c)(h.service.Approve(c.Request.Context(), id, middleware.ActorID(c)))
}

func (h *Handler) Process(c *gin.Context) {
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	h.respond(c)(h.service.StartProcessing(c.Request.Context(), id, middleware.ActorID(c)))
}

func (h *Handler) Complete(c *gin.Context) {
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req completeRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	h.respond(c)(h.service.Complete(c.Request.Context(), id, middleware.ActorID(c), req.TransactionRef))
}

func (h *Handler) Fail(c *gin.Context) {
	id, req, ok := h.reason(c)
	if !ok {
		return
	}
	h.respond(c)(h.service.Fail(c.Request.Context(), id, middleware.ActorID(c), req.Reason))
}

func (h *Handler) Cancel(c *gin.Context) {
	id, req, ok := h.reason(c)
	if !ok {
		return
	}
	h.respond(c)(h.service.Cancel(c.Request.Context(), id, middleware.ActorID(c), req.Reason))
}

func (h *Handler) reason(c *gin.Context) (uuid.UUID, reasonRequest, bool) {
	var req reasonRequest
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return id, req, false
	}
	if c.Request.ContentLength != 0 && !handler.BindJSON(c, &req) {
		return id, req, false
	}
	return id, req, true
}

func (h *Handler) respond(c *gin.Context) func(*model.Payout, error) {
	return func(p *model.Payout, err error) {
		if err != nil {
			httputil.RespondWithError(c, err)
			return
		}
		httputil.RespondWithSuccess(c, p)
	}
}
