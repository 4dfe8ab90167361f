package audit

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/settlement-api/internal/handler"
	"github.com/jwalitptl/settlement-api/internal/middleware"
	"github.com/jwalitptl/settlement-api/internal/service/audit"
	"github.com/jwalitptl/settlement-api/pkg/auth"
	"github.com/jwalitptl/settlement-api/pkg/errors"
	"github.com/jwalitptl/settlement-api/pkg/httputil"
)

type Handler struct {
	service *audit.Service
}

func NewHandler(service *audit.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, am *middleware.AuthMiddleware) {
	logs := r.Group("/audit", am.RequireRole(auth.RoleAdmin))
	{
		logs.GET("/verify", h.Verify)
		logs.GET("/:entityType/:entityId", h.Trail)
	}
}

// Verify walks the hash chain between the from and to sequence numbers.
// Zero bounds cover the whole chain.
func (h *Handler) Verify(c *gin.Context) {
	from, err := querySeq(c, "from")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	to, err := querySeq(c, "to")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	result, err := h.service.Verify(c.Request.Context(), from, to)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, result)
}

func (h *Handler) Trail(c *gin.Context) {
	entityID, ok := handler.ParamUUID(c, "entityId")
	if !ok {
		return
	}

	logs, err := h.service.Trail(c.Request.Context(), c.Param("entityType"), entityID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, logs)
}

func querySeq(c *gin.Context, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.NewBadRequest("invalid "+name, err)
	}
	return n, nil
}
