package commission

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/settlement-api/internal/handler"
	"github.com/jwalitptl/settlement-api/internal/middleware"
	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/service/commission"
	"github.com/jwalitptl/settlement-api/pkg/auth"
	"github.com/jwalitptl/settlement-api/pkg/httputil"
)

type Handler struct {
	service *commission.Service
}

func NewHandler(service *commission.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, am *middleware.AuthMiddleware) {
	commissions := r.Group("/commission")
	{
		commissions.POST("/calculate", h.Calculate)

		config := commissions.Group("/config", am.RequireRole(auth.RoleAdmin))
		config.GET("", h.GetGlobal)
		config.PUT("", h.UpdateGlobal)
		config.GET("/clinic/:clinicId", h.GetClinic)
		config.PUT("/clinic/:clinicId", h.UpdateClinic)
		config.DELETE("/clinic/:clinicId", h.DeleteClinic)
	}
}

func (h *Handler) Calculate(c *gin.Context) {
	var req model.CalculateRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	breakdown, err := h.service.CalculateFinancialBreakdown(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, breakdown)
}

func (h *Handler) GetGlobal(c *gin.Context) {
	cfg, err := h.service.GetGlobalConfig(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, cfg)
}

func (h *Handler) UpdateGlobal(c *gin.Context) {
	var in model.CommissionConfigInput
	if !handler.BindJSON(c, &in) {
		return
	}

	cfg, err := h.service.UpdateGlobalConfig(c.Request.Context(), &in, middleware.ActorID(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, cfg)
}

func (h *Handler) GetClinic(c *gin.Context) {
	clinicID, ok := handler.ParamUUID(c, "clinicId")
	if !ok {
		return
	}

	cfg, err := h.service.GetClinicConfig(c.Request.Context(), clinicID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, cfg)
}

func (h *Handler) UpdateClinic(c *gin.Context) {
	clinicID, ok := handler.ParamUUID(c, "clinicId")
	if !ok {
		return
	}
	var in model.CommissionConfigInput
	if !handler.BindJSON(c, &in) {
		return
	}

	cfg, err := h.service.UpdateClinicConfig(c.Request.Context(), clinicID, &in, middleware.ActorID(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, cfg)
}

func (h *Handler) DeleteClinic(c *gin.Context) {
	clinicID, ok := handler.ParamUUID(c, "clinicId")
	if !ok {
		return
	}

	if err := h.service.DeleteClinicConfig(c.Request.Context(), clinicID, middleware.ActorID(c)); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
