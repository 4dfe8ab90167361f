package slot

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/handler"
	"github.com/jwalitptl/settlement-api/internal/middleware"
	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/service/slot"
	"github.com/jwalitptl/settlement-api/pkg/auth"
	"github.com/jwalitptl/settlement-api/pkg/errors"
	"github.com/jwalitptl/settlement-api/pkg/httputil"
)

type Handler struct {
	service *slot.Service
}

func NewHandler(service *slot.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, am *middleware.AuthMiddleware) {
	slots := r.Group("/slots")
	{
		slots.GET("/available", h.ListAvailable)

		manage := slots.Group("", am.RequireRole(auth.RoleAdmin, auth.RoleDoctor))
		manage.POST("/generate", h.Generate)
		manage.PUT("/:id/block", h.Block)
		manage.PUT("/:id/unblock", h.Unblock)
	}
}

func (h *Handler) ListAvailable(c *gin.Context) {
	doctorID, err := uuid.Parse(c.Query("doctor_id"))
	if err != nil {
		httputil.RespondWithError(c, errors.NewBadRequest("doctor_id is required", err))
		return
	}
	date, err := model.ParseDay(c.Query("date"))
	if err != nil {
		httputil.RespondWithError(c, errors.NewBadRequest("date must be YYYY-MM-DD", err))
		return
	}
	var kind *model.SlotKind
	if raw := c.Query("kind"); raw != "" {
		k := model.SlotKind(raw)
		kind = &k
	}

	slots, err := h.service.ListAvailable(c.Request.Context(), doctorID, date, kind)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, slots)
}

func (h *Handler) Generate(c *gin.Context) {
	var req model.GenerateSlotsRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	if !handler.AllowDoctor(c, req.DoctorID) {
		return
	}

	result, err := h.service.Generate(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, result)
}

func (h *Handler) Block(c *gin.Context) {
	h.setBlocked(c, true)
}

func (h *Handler) Unblock(c *gin.Context) {
	h.setBlocked(c, false)
}

func (h *Handler) setBlocked(c *gin.Context, blocked bool) {
	id, ok := handler.ParamUUID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	current, err := h.service.Get(ctx, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if !handler.AllowDoctor(c, current.DoctorID) {
		return
	}

	update := h.service.Unblock
	if blocked {
		update = h.service.Block
	}
	s, err := update(ctx, id, middleware.ActorID(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, s)
}
