package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/settlement-api/internal/middleware"
	"github.com/jwalitptl/settlement-api/pkg/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testContext(target string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, target, nil)
	return c, w
}

func TestQueryPeriod(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

	c, _ := testContext("/?from=2024-03-01&to=2024-03-31")
	p, ok := QueryPeriod(c, now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), p.Start)
	// The to day is included.
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), p.End)

	c, _ = testContext("/")
	p, ok = QueryPeriod(c, now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), p.End)
	assert.Equal(t, time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC), p.Start)

	c, w := testContext("/?from=15-03-2024")
	_, ok = QueryPeriod(c, now)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParamUUID(t *testing.T) {
	id := uuid.New()
	c, _ := testContext("/")
	c.Params = gin.Params{{Key: "id", Value: id.String()}}
	got, ok := ParamUUID(c, "id")
	require.True(t, ok)
	assert.Equal(t, id, got)

	c, w := testContext("/")
	c.Params = gin.Params{{Key: "id", Value: "nope"}}
	_, ok = ParamUUID(c, "id")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid id")
}

func TestQueryPagination(t *testing.T) {
	c, _ := testContext("/?page=3&page_size=500")
	p, ok := QueryPagination(c)
	require.True(t, ok)
	assert.Equal(t, 3, p.Page)
	assert.Equal(t, 100, p.PageSize)

	c, w := testContext("/?page=abc")
	_, ok = QueryPagination(c)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAllowDoctor(t *testing.T) {
	doctor := uuid.New()

	c, _ := testContext("/")
	c.Set(middleware.ContextActorID, doctor.String())
	c.Set(middleware.ContextRole, auth.RoleDoctor)
	assert.True(t, AllowDoctor(c, doctor))

	c, w := testContext("/")
	c.Set(middleware.ContextActorID, doctor.String())
	c.Set(middleware.ContextRole, auth.RoleDoctor)
	assert.False(t, AllowDoctor(c, uuid.New()))
	assert.Equal(t, http.StatusForbidden, w.Code)

	c, _ = testContext("/")
	c.Set(middleware.ContextActorID, uuid.NewString())
	c.Set(middleware.ContextRole, auth.RoleAdmin)
	assert.True(t, AllowDoctor(c, doctor))
}
