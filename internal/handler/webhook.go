package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/fluxpay/internal/webhook"
)

// WebhookHandler обрабатывает запросы подписок на вебхуки.
type WebhookHandler struct {
	subscriptions *webhook.SubscriptionService
}

// NewWebhookHandler создаёт обработчик подписок.
func NewWebhookHandler(subscriptions *webhook.SubscriptionService) *WebhookHandler {
	return &WebhookHandler{subscriptions: subscriptions}
}

// createSubscriptionRequest — запрос регистрации подписки.
// secret опционален: пустой секрет генерируется сервером.
type createSubscriptionRequest struct {
	EventType string `json:"eventType" binding:"required"`
	TargetURL string `json:"targetUrl" binding:"required,url"`
	Secret    string `json:"secret"`
}

// Create обрабатывает POST /api/v1/webhooks/subscriptions.
// Секрет возвращается только в этом ответе.
func (h *WebhookHandler) Create(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	sub, err := h.subscriptions.Register(c.Request.Context(), req.EventType, req.TargetURL, req.Secret)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusCreated, toSubscriptionResponse(sub, true))
}

// List обрабатывает GET /api/v1/webhooks/subscriptions.
func (h *WebhookHandler) List(c *gin.Context) {
	subs, err := h.subscriptions.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toSubscriptionResponse(sub, false))
	}

	respond(c, http.StatusOK, out)
}
