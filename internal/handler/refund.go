package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/service"
)

// RefundHandler обрабатывает запросы возвратов.
type RefundHandler struct {
	refunds service.RefundService
}

// NewRefundHandler создаёт обработчик возвратов.
func NewRefundHandler(refunds service.RefundService) *RefundHandler {
	return &RefundHandler{refunds: refunds}
}

// createRefundRequest — запрос создания возврата.
type createRefundRequest struct {
	PaymentID string       `json:"paymentId" binding:"required"`
	Amount    domain.Money `json:"amount" binding:"required"`
	Reason    string       `json:"reason"`
}

// Create обрабатывает POST /api/v1/refunds.
func (h *RefundHandler) Create(c *gin.Context) {
	var req createRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	refund, err := h.refunds.CreateRefund(c.Request.Context(), req.PaymentID, req.Amount, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusCreated, toRefundResponse(refund))
}

// Get обрабатывает GET /api/v1/refunds/:id.
func (h *RefundHandler) Get(c *gin.Context) {
	refund, err := h.refunds.GetRefund(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, toRefundResponse(refund))
}

// ListByPayment обрабатывает GET /api/v1/payments/:id/refunds.
func (h *RefundHandler) ListByPayment(c *gin.Context) {
	refunds, err := h.refunds.ListRefunds(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]refundResponse, 0, len(refunds))
	for _, refund := range refunds {
		out = append(out, toRefundResponse(refund))
	}

	respond(c, http.StatusOK, out)
}
