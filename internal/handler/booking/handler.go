package booking

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/settlement-api/internal/handler"
	"github.com/jwalitptl/settlement-api/internal/middleware"
	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/service/booking"
	"github.com/jwalitptl/settlement-api/pkg/auth"
	"github.com/jwalitptl/settlement-api/pkg/errors"
	"github.com/jwalitptl/settlement-api/pkg/httputil"
)

type Handler struct {
	service *booking.Service
}

func NewHandler(service *booking.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, am *middleware.AuthMiddleware) {
	bookings := r.Group("/bookings")
	{
		bookings.POST("", h.Create)
		bookings.GET("/:id", h.Get)
		bookings.POST("/:id/confirm", h.Confirm)
		bookings.POST("/:id/cancel", h.Cancel)
		bookings.POST("/:id/complete", am.RequireRole(auth.RoleAdmin, auth.RoleDoctor), h.Complete)
	}
}

func (h *Handler) Create(c *gin.Context) {
	var req model.CreateBookingRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	// Patients book at the slot's price.
	if req.ConsultationFee != 0 && c.GetString(middleware.ContextRole) == auth.RolePatient {
		httputil.RespondWithError(c, errors.Forbidden("consultation_fee is set by the slot"))
		return
	}

	result, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, result)
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}

	appt, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, appt)
}

type confirmResponse struct {
	Appointment *model.Appointment `json:"appointment"`
	LedgerEntry *model.LedgerEntry `json:"ledger_entry"`
}

func (h *Handler) Confirm(c *gin.Context) {
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req model.ConfirmBookingRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	appt, entry, err := h.service.Confirm(c.Request.Context(), id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, confirmResponse{Appointment: appt, LedgerEntry: entry})
}

func (h *Handler) Cancel(c *gin.Context) {
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req model.CancelBookingRequest
	// The reason is optional, so an empty body is accepted.
	if c.Request.ContentLength != 0 && !handler.BindJSON(c, &req) {
		return
	}

	result, err := h.service.Cancel(c.Request.Context(), id, middleware.ActorID(c), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, result)
}

func (h *Handler) Complete(c *gin.Context) {
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}

	appt, err := h.service.Complete(c.Request.Context(), id, middleware.ActorID(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, appt)
}
