// Package middleware содержит HTTP middleware движка: тенант,
// идемпотентность, трассировка, CORS и заголовки безопасности.
package middleware

import (
	"github.com/gin-gonic/gin"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/tenant"
)

// DefaultTenant используется при выключенном контроле тенантов,
// когда запрос пришёл без заголовка X-Tenant-Id.
const DefaultTenant = "default"

// TenantConfig — настройки привязки тенанта.
type TenantConfig struct {
	// Enforce — требовать заголовок X-Tenant-Id в каждом запросе.
	Enforce bool
}

// Tenant извлекает X-Tenant-Id и кладёт тенанта в context запроса.
// При включённом контроле запрос без заголовка отклоняется с TNT_001.
func Tenant(cfg TenantConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(tenant.Header)

		if tenantID == "" {
			if cfg.Enforce {
				abortWithError(c, domain.ErrTenantMissing)
				return
			}
			tenantID = DefaultTenant
		}

		ctx := tenant.WithTenant(c.Request.Context(), tenantID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
