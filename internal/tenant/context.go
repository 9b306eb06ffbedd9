// Package tenant реализует сквозную передачу тенанта через context.
// Тенант привязывается на входе операции и читается репозиториями
// и издателями событий перед любым побочным эффектом.
package tenant

import (
	"context"
	"strings"

	"example.com/fluxpay/internal/domain"
)

// Header — HTTP-заголовок с идентификатором тенанта.
const Header = "X-Tenant-Id"

// ctxKey — приватный тип ключа context для избежания коллизий.
type ctxKey struct{}

// WithTenant привязывает тенант к context.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, tenantID)
}

// FromContext извлекает тенант из context.
func FromContext(ctx context.Context) (string, bool) {
	tenantID, ok := ctx.Value(ctxKey{}).(string)
	if !ok || strings.TrimSpace(tenantID) == "" {
		return "", false
	}
	return tenantID, true
}

// Require извлекает тенант из context или возвращает TNT_001.
// Вызывается каждой операцией с побочными эффектами до их выполнения.
func Require(ctx context.Context) (string, error) {
	tenantID, ok := FromContext(ctx)
	if !ok {
		return "", domain.ErrTenantMissing
	}
	return tenantID, nil
}
