package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/service"
)

// PaymentHandler обрабатывает запросы платежей.
type PaymentHandler struct {
	payments service.PaymentService
}

// NewPaymentHandler создаёт обработчик платежей.
func NewPaymentHandler(payments service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// createPaymentRequest — запрос создания платежа.
// amount опционален: без него платёж создаётся на сумму заказа.
type createPaymentRequest struct {
	OrderID string        `json:"orderId" binding:"required"`
	Amount  *domain.Money `json:"amount"`
}

// Create обрабатывает POST /api/v1/payments.
func (h *PaymentHandler) Create(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	amount := domain.Money{}
	if req.Amount != nil {
		amount = *req.Amount
	}

	payment, err := h.payments.CreatePayment(c.Request.Context(), req.OrderID, amount)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusCreated, toPaymentResponse(payment))
}

// Get обрабатывает GET /api/v1/payments/:id.
func (h *PaymentHandler) Get(c *gin.Context) {
	payment, err := h.payments.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, toPaymentResponse(payment))
}

// approvePaymentRequest — запрос авторизации платежа.
type approvePaymentRequest struct {
	Method string `json:"method" binding:"required"`
}

// Approve обрабатывает POST /api/v1/payments/:id/approve.
func (h *PaymentHandler) Approve(c *gin.Context) {
	var req approvePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	payment, err := h.payments.RequestApproval(c.Request.Context(), c.Param("id"), domain.PaymentMethod(req.Method))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, toPaymentResponse(payment))
}

// Confirm обрабатывает POST /api/v1/payments/:id/confirm.
func (h *PaymentHandler) Confirm(c *gin.Context) {
	payment, err := h.payments.ConfirmPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, toPaymentResponse(payment))
}
