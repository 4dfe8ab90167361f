package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/middleware"
	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/pkg/errors"
	"github.com/jwalitptl/settlement-api/pkg/httputil"
)

// Routes is implemented by every resource handler. Admin-only routes are
// mounted behind the auth middleware's role check.
type Routes interface {
	RegisterRoutes(r *gin.RouterGroup, auth *middleware.AuthMiddleware)
}

// ParamUUID parses a path parameter and writes a 400 when it is malformed.
func ParamUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		httputil.RespondWithError(c, errors.NewBadRequest("invalid "+name, err))
		return uuid.Nil, false
	}
	return id, true
}

// QueryUUID parses an optional query parameter.
func QueryUUID(c *gin.Context, name string) (*uuid.UUID, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		httputil.RespondWithError(c, errors.NewBadRequest("invalid "+name, err))
		return nil, false
	}
	return &id, true
}

// BindJSON decodes the body into v. Binding tag failures become 400s;
// validate tags are checked by the services.
func BindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		httputil.RespondWithError(c, errors.NewBadRequest("invalid request body: "+err.Error(), err))
		return false
	}
	return true
}

// QueryPeriod reads from/to as inclusive calendar days. Missing bounds
// default to the last 30 days ending today.
func QueryPeriod(c *gin.Context, now time.Time) (model.Period, bool) {
	end := model.Day(now).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -30)

	if raw := c.Query("from"); raw != "" {
		t, err := model.ParseDay(raw)
		if err != nil {
			httputil.RespondWithError(c, errors.NewBadRequest("invalid from date", err))
			return model.Period{}, false
		}
		start = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := model.ParseDay(raw)
		if err != nil {
			httputil.RespondWithError(c, errors.NewBadRequest("invalid to date", err))
			return model.Period{}, false
		}
		end = t.AddDate(0, 0, 1)
	}
	return model.Period{Start: start, End: end}, true
}

// QueryPagination binds page and page_size.
func QueryPagination(c *gin.Context) (model.Pagination, bool) {
	var p model.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		httputil.RespondWithError(c, errors.NewBadRequest("invalid pagination", err))
		return p, false
	}
	return p.Normalize(), true
}

// AllowDoctor lets admins through and restricts everyone else to their
// own doctor records.
func AllowDoctor(c *gin.Context, doctorID uuid.UUID) bool {
	if middleware.IsAdmin(c) {
		return true
	}
	if actor := middleware.ActorID(c); actor != nil && *actor == doctorID {
		return true
	}
	httputil.RespondWithError(c, errors.Forbidden("access to another doctor's records is not allowed"))
	return false
}
