package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Типы доменных событий (короткая форма, без префикса com.fluxpay).
const (
	EventOrderCreated          = "order.created"
	EventPaymentApproved       = "payment.approved"
	EventPaymentConfirmed      = "payment.confirmed"
	EventPaymentFailed         = "payment.failed"
	EventRefundRequested       = "refund.requested"
	EventRefundCompleted       = "refund.completed"
	EventRefundFailed          = "refund.failed"
	EventCreditDeducted        = "credit.deducted"
	EventCreditRefunded        = "credit.refunded"
	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionExpired   = "subscription.expired"
)

// Типы агрегатов для маршрутизации и партиционирования.
const (
	AggregateOrder   = "order"
	AggregatePayment = "payment"
	AggregateRefund  = "refund"
)

// EventSource — значение поля source во всех событиях движка.
const EventSource = "fluxpay-engine"

// eventTypePrefix — префикс полного типа события CloudEvents.
const eventTypePrefix = "com.fluxpay."

// CloudEventType возвращает полный тип события ("com.fluxpay.payment.confirmed").
func CloudEventType(eventType string) string {
	return eventTypePrefix + eventType
}

// ShortEventType убирает префикс com.fluxpay из полного типа события.
func ShortEventType(cloudEventType string) string {
	if len(cloudEventType) > len(eventTypePrefix) && cloudEventType[:len(eventTypePrefix)] == eventTypePrefix {
		return cloudEventType[len(eventTypePrefix):]
	}
	return cloudEventType
}

// =============================================================================
// CloudEvent — конверт события (CloudEvents 1.0)
// =============================================================================

// CloudEvent — конверт события по спецификации CloudEvents 1.0.
// Один и тот же JSON уходит в брокер и в вебхуки подписчикам.
type CloudEvent struct {
	SpecVersion     string          `json:"specversion"`
	Source          string          `json:"source"`
	Type            string          `json:"type"`
	ID              string          `json:"id"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	TenantID        string          `json:"tenantid"`
	Data            json.RawMessage `json:"data"`
}

// NewCloudEvent создаёт конверт для события с указанным коротким типом.
// data сериализуется в JSON и помещается в поле data.
func NewCloudEvent(tenantID, eventType string, data any) (*CloudEvent, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &CloudEvent{
		SpecVersion:     "1.0",
		Source:          EventSource,
		Type:            CloudEventType(eventType),
		ID:              uuid.NewString(),
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		TenantID:        tenantID,
		Data:            payload,
	}, nil
}

// ShortType возвращает короткий тип события без префикса.
func (e *CloudEvent) ShortType() string {
	return ShortEventType(e.Type)
}

// =============================================================================
// Полезные нагрузки событий
// =============================================================================

// OrderEventData — данные событий order.*.
type OrderEventData struct {
	OrderID  string `json:"orderId"`
	UserID   string `json:"userId"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// NewOrderEventData собирает полезную нагрузку из заказа.
func NewOrderEventData(o *Order) OrderEventData {
	return OrderEventData{
		OrderID:  o.ID,
		UserID:   o.UserID,
		Amount:   o.TotalAmount.AmountString(),
		Currency: string(o.TotalAmount.Currency),
		Status:   string(o.Status),
	}
}

// PaymentEventData — данные событий payment.*.
type PaymentEventData struct {
	PaymentID       string `json:"paymentId"`
	OrderID         string `json:"orderId"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	Status          string `json:"status"`
	PGTransactionID string `json:"pgTransactionId,omitempty"`
	FailureReason   string `json:"failureReason,omitempty"`
}

// NewPaymentEventData собирает полезную нагрузку из платежа.
func NewPaymentEventData(p *Payment) PaymentEventData {
	data := PaymentEventData{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		Amount:    p.Amount.AmountString(),
		Currency:  string(p.Amount.Currency),
		Status:    string(p.Status),
	}

	if p.PGTransactionID != nil {
		data.PGTransactionID = *p.PGTransactionID
	}

	if p.FailureReason != nil {
		data.FailureReason = *p.FailureReason
	}

	return data
}

// RefundEventData — данные событий refund.*.
type RefundEventData struct {
	RefundID     string `json:"refundId"`
	PaymentID    string `json:"paymentId"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	PGRefundID   string `json:"pgRefundId,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// NewRefundEventData собирает полезную нагрузку из возврата.
func NewRefundEventData(r *Refund) RefundEventData {
	data := RefundEventData{
		RefundID:  r.ID,
		PaymentID: r.PaymentID,
		Amount:    r.Amount.AmountString(),
		Currency:  string(r.Amount.Currency),
		Status:    string(r.Status),
	}

	if r.PGRefundID != nil {
		data.PGRefundID = *r.PGRefundID
	}

	if r.ErrorMessage != nil {
		data.ErrorMessage = *r.ErrorMessage
	}

	return data
}
