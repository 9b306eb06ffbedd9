package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/fluxpay/internal/tenant"
)

// tenantEcho собирает маршрут, возвращающий тенанта из context.
func tenantEcho(cfg TenantConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Tenant(cfg))
	router.GET("/echo", func(c *gin.Context) {
		id, err := tenant.Require(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tenant": id})
	})
	return router
}

func TestTenant_HeaderPropagated(t *testing.T) {
	router := tenantEcho(TenantConfig{Enforce: true})

	req := httptest.NewRequest(http.MethodGet, "/echo", nil)
	req.Header.Set(tenant.Header, "tnt_acme")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tnt_acme")
}

func TestTenant_EnforceMissingHeader(t *testing.T) {
	router := tenantEcho(TenantConfig{Enforce: true})

	req := httptest.NewRequest(http.MethodGet, "/echo", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "TNT_001")
}

func TestTenant_DefaultWhenNotEnforced(t *testing.T) {
	router := tenantEcho(TenantConfig{Enforce: false})

	req := httptest.NewRequest(http.MethodGet, "/echo", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), DefaultTenant)
}
