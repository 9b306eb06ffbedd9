package pgclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/pkg/circuitbreaker"
	"example.com/fluxpay/pkg/logger"
	"example.com/fluxpay/pkg/metrics"
)

const (
	// defaultTimeout — таймаут HTTP-запроса к шлюзу по умолчанию.
	defaultTimeout = 10 * time.Second

	// maxResponseBytes ограничивает размер читаемого тела ответа шлюза.
	maxResponseBytes = 1 << 20
)

// Config — настройки HTTP-клиента шлюза.
type Config struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

// HTTPClient — клиент шлюза поверх его HTTP API.
// Запросы идут через circuit breaker: при серии транспортных сбоев
// клиент перестаёт ходить в шлюз и сразу отвечает отказом.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	auth    string
	breaker *circuitbreaker.Breaker
}

// NewHTTPClient создаёт клиента платёжного шлюза.
func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	logger.Info().
		Str("base_url", cfg.BaseURL).
		Dur("timeout", cfg.Timeout).
		Msg("Инициализирован клиент платёжного шлюза")

	return &HTTPClient{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		auth:    "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.SecretKey+":")),
		breaker: circuitbreaker.New("pg"),
	}
}

// Close освобождает простаивающие соединения клиента.
func (c *HTTPClient) Close() {
	c.client.CloseIdleConnections()
}

// =============================================================================
// DTO HTTP API шлюза
// =============================================================================

type approvalRequest struct {
	OrderID  string `json:"orderId"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Method   string `json:"method"`
}

type confirmRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
}

type cancelRequest struct {
	PaymentKey string `json:"paymentKey"`
	Reason     string `json:"reason"`
}

// gatewayResponse — общий формат ответа шлюза на все операции.
type gatewayResponse struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId"`
	PaymentKey    string `json:"paymentKey,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
}

// =============================================================================
// Методы клиента
// =============================================================================

// RequestApproval запрашивает одобрение оплаты заказа.
func (c *HTTPClient) RequestApproval(ctx context.Context, orderID string, amount domain.Money, method domain.PaymentMethod) *ApprovalResult {
	resp, err := c.post(ctx, "approve", "/v1/payments/approve", approvalRequest{
		OrderID:  orderID,
		Amount:   amount.AmountString(),
		Currency: string(amount.Currency),
		Method:   string(method),
	})
	if err != nil {
		return &ApprovalResult{ErrorMessage: transportMessage(err)}
	}

	return &ApprovalResult{
		Success:       resp.Success,
		TransactionID: resp.TransactionID,
		PaymentKey:    resp.PaymentKey,
		ErrorMessage:  resp.ErrorMessage,
	}
}

// ConfirmPayment подтверждает одобренный платёж по его paymentKey.
func (c *HTTPClient) ConfirmPayment(ctx context.Context, paymentKey, orderID string, amount domain.Money) *ConfirmResult {
	resp, err := c.post(ctx, "confirm", "/v1/payments/confirm", confirmRequest{
		PaymentKey: paymentKey,
		OrderID:    orderID,
		Amount:     amount.AmountString(),
		Currency:   string(amount.Currency),
	})
	if err != nil {
		return &ConfirmResult{ErrorMessage: transportMessage(err)}
	}

	return &ConfirmResult{
		Success:       resp.Success,
		TransactionID: resp.TransactionID,
		ErrorMessage:  resp.ErrorMessage,
	}
}

// CancelPayment отменяет подтверждённый платёж.
func (c *HTTPClient) CancelPayment(ctx context.Context, paymentKey, reason string) *CancelResult {
	resp, err := c.post(ctx, "cancel", "/v1/payments/cancel", cancelRequest{
		PaymentKey: paymentKey,
		Reason:     reason,
	})
	if err != nil {
		return &CancelResult{ErrorMessage: transportMessage(err)}
	}

	return &CancelResult{
		Success:       resp.Success,
		TransactionID: resp.TransactionID,
		ErrorMessage:  resp.ErrorMessage,
	}
}

// =============================================================================
// Транспорт
// =============================================================================

// post выполняет запрос к шлюзу через circuit breaker.
// Отказ шлюза по бизнес-причине (распарсенный ответ с success=false)
// ошибкой не считается и breaker не открывает.
func (c *HTTPClient) post(ctx context.Context, operation, path string, body any) (*gatewayResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		metrics.PGRequestsTotal.WithLabelValues(operation, "error").Inc()
		return nil, err
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.send(ctx, path, payload)
	})
	if err != nil {
		metrics.PGRequestsTotal.WithLabelValues(operation, "error").Inc()
		logger.Ctx(ctx).Warn().
			Err(err).
			Str("operation", operation).
			Msg("Запрос к платёжному шлюзу не удался")
		return nil, err
	}

	resp := result.(*gatewayResponse)
	if resp.Success {
		metrics.PGRequestsTotal.WithLabelValues(operation, "success").Inc()
	} else {
		metrics.PGRequestsTotal.WithLabelValues(operation, "declined").Inc()
	}

	return resp, nil
}

func (c *HTTPClient) send(ctx context.Context, path string, payload []byte) (*gatewayResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.auth)

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("шлюз вернул статус %d", httpResp.StatusCode)
	}

	var resp gatewayResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("некорректный ответ шлюза: %w", err)
	}

	// Отказ со статусом 4xx без текста сохраняет хотя бы код ответа.
	if !resp.Success && resp.ErrorMessage == "" {
		resp.ErrorMessage = fmt.Sprintf("шлюз отклонил запрос со статусом %d", httpResp.StatusCode)
	}

	return &resp, nil
}

// transportMessage переводит транспортную ошибку в диагностику для ErrorMessage.
func transportMessage(err error) string {
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		return "платёжный шлюз временно недоступен: circuit breaker открыт"
	case errors.Is(err, context.DeadlineExceeded):
		return "таймаут запроса к платёжному шлюзу"
	default:
		return "ошибка связи с платёжным шлюзом: " + err.Error()
	}
}
