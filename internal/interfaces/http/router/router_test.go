package router

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func ok(body string) gin.HandlerFunc {
	return func(c *gin.Context) { c.String(http.StatusOK, body) }
}

func TestRouter_MountsGroupsUnderVersion(t *testing.T) {
	engine := gin.New()
	NewRouter(engine, WithAPIVersion("v2")).
		Register(NewDomainGroup("/orders").GET("/events", ok("list")).POST("/events", ok("publish"))).
		Register(NewDomainGroup("/admin/blocked-users").GET("", ok("all")).DELETE("/:email", ok("unblocked"))).
		Setup()

	tests := []struct {
		method, target, want string
	}{
		{http.MethodGet, "/api/v2/orders/events", "list"},
		{http.MethodPost, "/api/v2/orders/events", "publish"},
		{http.MethodGet, "/api/v2/admin/blocked-users", "all"},
		{http.MethodDelete, "/api/v2/admin/blocked-users/a@b.c", "unblocked"},
	}
	for _, tt := range tests {
		w := serve(engine, tt.method, tt.target, "")
		assert.Equal(t, http.StatusOK, w.Code, "%s %s", tt.method, tt.target)
		assert.Equal(t, tt.want, w.Body.String())
	}
	assert.Equal(t, http.StatusNotFound, serve(engine, http.MethodGet, "/api/v1/orders/events", "").Code)
}

func TestRouter_MiddlewareOnlyGuardsTheAPI(t *testing.T) {
	engine := gin.New()
	engine.GET("/health", ok("up"))
	NewRouter(engine).
		Use(func(c *gin.Context) { c.AbortWithStatus(http.StatusTeapot) }).
		Register(NewDomainGroup("/system").GET("/info", ok("info"))).
		Setup()

	assert.Equal(t, http.StatusTeapot, serve(engine, http.MethodGet, "/api/v1/system/info", "").Code)
	assert.Equal(t, http.StatusOK, serve(engine, http.MethodGet, "/health", "").Code)
}
