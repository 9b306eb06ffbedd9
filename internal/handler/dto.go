package handler

import (
	"time"

	"example.com/fluxpay/internal/domain"
)

// =============================================================================
// Ответы API
// =============================================================================

// orderItemResponse — позиция заказа в ответе API.
type orderItemResponse struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
}

// orderResponse — заказ в ответе API.
type orderResponse struct {
	OrderID     string              `json:"orderId"`
	UserID      string              `json:"userId"`
	Status      string              `json:"status"`
	TotalAmount string              `json:"totalAmount"`
	Currency    string              `json:"currency"`
	Items       []orderItemResponse `json:"items"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	PaidAt      *time.Time          `json:"paidAt,omitempty"`
}

// toOrderResponse конвертирует заказ в ответ API.
func toOrderResponse(o *domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.LineItems))
	for i := range o.LineItems {
		items = append(items, orderItemResponse{
			ProductID:   o.LineItems[i].ProductID,
			ProductName: o.LineItems[i].ProductName,
			Quantity:    o.LineItems[i].Quantity,
			UnitPrice:   o.LineItems[i].UnitPrice.AmountString(),
		})
	}

	return orderResponse{
		OrderID:     o.ID,
		UserID:      o.UserID,
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount.AmountString(),
		Currency:    string(o.TotalAmount.Currency),
		Items:       items,
		Metadata:    o.Metadata,
		CreatedAt:   o.CreatedAt,
		PaidAt:      o.PaidAt,
	}
}

// paymentResponse — платёж в ответе API.
type paymentResponse struct {
	PaymentID       string     `json:"paymentId"`
	OrderID         string     `json:"orderId"`
	Amount          string     `json:"amount"`
	Currency        string     `json:"currency"`
	Status          string     `json:"status"`
	Method          *string    `json:"method,omitempty"`
	PGTransactionID *string    `json:"pgTransactionId,omitempty"`
	FailureReason   *string    `json:"failureReason,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	ApprovedAt      *time.Time `json:"approvedAt,omitempty"`
	ConfirmedAt     *time.Time `json:"confirmedAt,omitempty"`
}

// toPaymentResponse конвертирует платёж в ответ API.
func toPaymentResponse(p *domain.Payment) paymentResponse {
	resp := paymentResponse{
		PaymentID:       p.ID,
		OrderID:         p.OrderID,
		Amount:          p.Amount.AmountString(),
		Currency:        string(p.Amount.Currency),
		Status:          string(p.Status),
		PGTransactionID: p.PGTransactionID,
		FailureReason:   p.FailureReason,
		CreatedAt:       p.CreatedAt,
		ApprovedAt:      p.ApprovedAt,
		ConfirmedAt:     p.ConfirmedAt,
	}

	if p.Method != nil {
		method := string(*p.Method)
		resp.Method = &method
	}

	return resp
}

// refundResponse — возврат в ответе API.
type refundResponse struct {
	RefundID     string     `json:"refundId"`
	PaymentID    string     `json:"paymentId"`
	Amount       string     `json:"amount"`
	Currency     string     `json:"currency"`
	Status       string     `json:"status"`
	Reason       *string    `json:"reason,omitempty"`
	PGRefundID   *string    `json:"pgRefundId,omitempty"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	RequestedAt  time.Time  `json:"requestedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// toRefundResponse конвертирует возврат в ответ API.
func toRefundResponse(r *domain.Refund) refundResponse {
	return refundResponse{
		RefundID:     r.ID,
		PaymentID:    r.PaymentID,
		Amount:       r.Amount.AmountString(),
		Currency:     string(r.Amount.Currency),
		Status:       string(r.Status),
		Reason:       r.Reason,
		PGRefundID:   r.PGRefundID,
		ErrorMessage: r.ErrorMessage,
		RequestedAt:  r.RequestedAt,
		CompletedAt:  r.CompletedAt,
	}
}

// subscriptionResponse — подписка на вебхуки в ответе API.
// Secret заполняется только в ответе на регистрацию.
type subscriptionResponse struct {
	SubscriptionID string    `json:"subscriptionId"`
	EventType      string    `json:"eventType"`
	TargetURL      string    `json:"targetUrl"`
	Active         bool      `json:"active"`
	Secret         string    `json:"secret,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// toSubscriptionResponse конвертирует подписку в ответ API.
func toSubscriptionResponse(s *domain.WebhookSubscription, includeSecret bool) subscriptionResponse {
	resp := subscriptionResponse{
		SubscriptionID: s.ID,
		EventType:      s.EventType,
		TargetURL:      s.TargetURL,
		Active:         s.Active,
		CreatedAt:      s.CreatedAt,
	}

	if includeSecret {
		resp.Secret = s.Secret
	}

	return resp
}
