package handler

import (
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/saga"
	"example.com/fluxpay/internal/webhook"
)

// newWebhookRouter собирает маршрутизатор с реальным сервисом подписок
// поверх мокового репозитория.
func newWebhookRouter(repo *mockSubscriptionRepo) *gin.Engine {
	deps := newRouterDeps()
	orchestrator := saga.NewOrchestrator(newMemSagaRepo(), saga.NewRegistry(), saga.DefaultConfig())

	return NewRouter(RouterConfig{
		Orders:        NewOrderHandler(deps.orders, deps.payments, orchestrator),
		Payments:      NewPaymentHandler(deps.payments),
		Refunds:       NewRefundHandler(deps.refunds),
		Webhooks:      NewWebhookHandler(webhook.NewSubscriptionService(repo)),
		EnforceTenant: true,
	})
}

func TestWebhookHandler_Create_ReturnsSecretOnce(t *testing.T) {
	repo := new(mockSubscriptionRepo)
	router := newWebhookRouter(repo)

	repo.On("Create", mock.Anything, mock.MatchedBy(func(sub *domain.WebhookSubscription) bool {
		return sub.TenantID == testTenant && sub.EventType == "payment.confirmed"
	})).Return(nil)

	rec, env := doRequest(t, router, http.MethodPost, "/api/v1/webhooks/subscriptions", map[string]any{
		"eventType": "payment.confirmed",
		"targetUrl": "https://merchant.example.com/hooks",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, env.IsSuccess)

	var resp subscriptionResponse
	decodeResult(t, env, &resp)
	assert.Equal(t, "payment.confirmed", resp.EventType)
	assert.True(t, resp.Active)
	// Сгенерированный секрет отдаётся единственный раз.
	assert.True(t, strings.HasPrefix(resp.Secret, "whsec_"))
}

func TestWebhookHandler_Create_ClientSecretKept(t *testing.T) {
	repo := new(mockSubscriptionRepo)
	router := newWebhookRouter(repo)

	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	rec, env := doRequest(t, router, http.MethodPost, "/api/v1/webhooks/subscriptions", map[string]any{
		"eventType": "*",
		"targetUrl": "https://merchant.example.com/hooks",
		"secret":    "whsec_client_supplied",
	})

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp subscriptionResponse
	decodeResult(t, env, &resp)
	assert.Equal(t, "whsec_client_supplied", resp.Secret)
}

func TestWebhookHandler_Create_InvalidURL(t *testing.T) {
	repo := new(mockSubscriptionRepo)
	router := newWebhookRouter(repo)

	rec, env := doRequest(t, router, http.MethodPost, "/api/v1/webhooks/subscriptions", map[string]any{
		"eventType": "payment.confirmed",
		"targetUrl": "не-урл",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VAL_001", env.Code)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestWebhookHandler_List_OmitsSecret(t *testing.T) {
	repo := new(mockSubscriptionRepo)
	router := newWebhookRouter(repo)

	sub, err := domain.NewWebhookSubscription(testTenant, "payment.confirmed", "https://merchant.example.com/hooks", "whsec_hidden")
	require.NoError(t, err)

	repo.On("List", mock.Anything).Return([]*domain.WebhookSubscription{sub}, nil)

	rec, env := doRequest(t, router, http.MethodGet, "/api/v1/webhooks/subscriptions", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp []subscriptionResponse
	decodeResult(t, env, &resp)
	require.Len(t, resp, 1)
	assert.Equal(t, sub.ID, resp[0].SubscriptionID)
	assert.Empty(t, resp[0].Secret, "секрет не должен возвращаться при листинге")
}
