package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/fluxpay/internal/domain"
)

func TestWithTenant(t *testing.T) {
	ctx := WithTenant(context.Background(), "tenant-a")

	tenantID, ok := FromContext(ctx)

	require.True(t, ok)
	assert.Equal(t, "tenant-a", tenantID)
}

func TestFromContext_Empty(t *testing.T) {
	t.Run("context без тенанта", func(t *testing.T) {
		_, ok := FromContext(context.Background())
		assert.False(t, ok)
	})

	t.Run("пустая строка не считается тенантом", func(t *testing.T) {
		ctx := WithTenant(context.Background(), "  ")
		_, ok := FromContext(ctx)
		assert.False(t, ok)
	})
}

func TestRequire(t *testing.T) {
	t.Run("возвращает тенант", func(t *testing.T) {
		ctx := WithTenant(context.Background(), "tenant-a")

		tenantID, err := Require(ctx)

		require.NoError(t, err)
		assert.Equal(t, "tenant-a", tenantID)
	})

	t.Run("TNT_001 без тенанта", func(t *testing.T) {
		_, err := Require(context.Background())

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrTenantMissing)
		assert.Equal(t, domain.CodeTenantMissing, domain.CodeOf(err))
	})
}
