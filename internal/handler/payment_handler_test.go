package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/fluxpay/internal/domain"
)

func TestPaymentHandler_Create(t *testing.T) {
	deps := newRouterDeps()
	router := newTestRouter(deps)

	order := testOrder(t)
	payment := testPayment(t, order)
	deps.payments.On("CreatePayment", matchTenantCtx(), order.ID, mustMoney(t, "150.00", "USD")).
		Return(payment, nil)

	rec, env := doRequest(t, router, http.MethodPost, "/api/v1/payments", map[string]any{
		"orderId": order.ID,
		"amount":  map[string]any{"amount": "150.00", "currency": "USD"},
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, env.IsSuccess)

	var resp paymentResponse
	decodeResult(t, env, &resp)
	assert.Equal(t, payment.ID, resp.PaymentID)
	assert.Equal(t, "150.00", resp.Amount)
	assert.Equal(t, "READY", resp.Status)
}

func TestPaymentHandler_Create_AmountOptional(t *testing.T) {
	deps := newRouterDeps()
	router := newTestRouter(deps)

	order := testOrder(t)
	payment := testPayment(t, order)
	// Без amount сервис получает нулевую сумму и берёт сумму заказа.
	deps.payments.On("CreatePayment", mock.Anything, order.ID, domain.Money{}).
		Return(payment, nil)

	rec, _ := doRequest(t, router, http.MethodPost, "/api/v1/payments", map[string]any{
		"orderId": order.ID,
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	deps.payments.AssertExpectations(t)
}

func TestPaymentHandler_Create_MissingOrderID(t *testing.T) {
	deps := newRouterDeps()
	router := newTestRouter(deps)

	rec, env := doRequest(t, router, http.MethodPost, "/api/v1/payments", map[string]any{
		"amount": map[string]any{"amount": "150.00", "currency": "USD"},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VAL_001", env.Code)
}

func TestPaymentHandler_Create_OrderAlreadyProcessed(t *testing.T) {
	deps := newRouterDeps()
	router := newTestRouter(deps)

	deps.payments.On("CreatePayment", mock.Anything, "ord_1", domain.Money{}).
		Return(nil, domain.ErrOrderAlreadyProcessed)

	rec, env := doRequest(t, router, http.MethodPost, "/api/v1/payments", map[string]any{
		"orderId": "ord_1",
	})

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, env.IsSuccess)
	assert.Equal(t, "ORD_002", env.Code)
}

func TestPaymentHandler_Get(t *testing.T) {
	deps := newRouterDeps()
	router := newTestRouter(deps)

	order := testOrder(t)
	payment := testPayment(t, order)
	deps.payments.On("GetPayment", matchTenantCtx(), payment.ID).Return(payment, nil)

	rec, env := doRequest(t, router, http.MethodGet, "/api/v1/payments/"+payment.ID, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp paymentResponse
	decodeResult(t, env, &resp)
	assert.Equal(t, payment.ID, resp.PaymentID)
}

func TestPaymentHandler_Get_NotFound(t *testing.T) {
	deps := newRouterDeps()
	router := newTestRouter(deps)

	deps.payments.On("GetPayment", mock.Anything, "pay_missing").
		Return(nil, domain.ErrPaymentNotFound)

	rec, env := doRequest(t, router, http.MethodGet, "/api/v1/payments/pay_missing", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "PAY_001", env.Code)
}

func TestPaymentHandler_Approve(t *testing.T) {
	deps := newRouterDeps()
	router := newTestRouter(deps)

	order := testOrder(t)
	payment := testPayment(t, order)
	require.NoError(t, payment.StartProcessing(domain.PaymentMethodCard))
	require.NoError(t, payment.Approve("toss_tx_1", "toss_pk_1"))

	deps.payments.On("RequestApproval", matchTenantCtx(), payment.ID, domain.PaymentMethodCard).
		Return(payment, nil)

	rec, env := doRequest(t, router, http.MethodPost, "/api/v1/payments/"+payment.ID+"/approve", map[string]any{
		"method": "CARD",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp paymentResponse
	decodeResult(t, env, &resp)
	assert.Equal(t, "APPROVED", resp.Status)
	require.NotNil(t, resp.Method)
	assert.Equal(t, "CARD", *resp.Method)
	require.NotNil(t, resp.PGTransactionID)
	assert.Equal(t, "toss_tx_1", *resp.PGTransactionID)
}

func TestPaymentHandler_Approve_MissingMethod(t *testing.T) {
	deps := newRouterDeps()
	router := newTestRouter(deps)

	rec, env := doRequest(t, router, http.MethodPost, "/api/v1/payments/pay_1/approve", map[string]any{})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VAL_001", env.Code)
	deps.payments.AssertNotCalled(t, "RequestApproval", mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentHandler_Approve_GatewayDeclined(t *testing.T) {
	deps := newRouterDeps()
	router := newTestRouter(deps)

	deps.payments.On("RequestApproval", mock.Anything, "pay_1", domain.PaymentMethodCard).
		Return(nil, domain.ErrPGApprovalFailed)

	rec, env := doRequest(t, router, http.MethodPost, "/api/v1/payments/pay_1/approve", map[string]any{
		"method": "CARD",
	})

	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "PAY_004", env.Code)
}

func TestPaymentHandler_Confirm(t *testing.T) {
	deps := newRouterDeps()
	router := newTestRouter(deps)

	order := testOrder(t)
	payment := testPayment(t, order)
	require.NoError(t, payment.StartProcessing(domain.PaymentMethodCard))
	require.NoError(t, payment.Approve("toss_tx_1", "toss_pk_1"))
	require.NoError(t, payment.Confirm())

	deps.payments.On("ConfirmPayment", matchTenantCtx(), payment.ID).Return(payment, nil)

	rec, env := doRequest(t, router, http.MethodPost, "/api/v1/payments/"+payment.ID+"/confirm", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp paymentResponse
	decodeResult(t, env, &resp)
	assert.Equal(t, "CONFIRMED", resp.Status)
	assert.NotNil(t, resp.ConfirmedAt)
}

func TestPaymentHandler_Confirm_WrongState(t *testing.T) {
	deps := newRouterDeps()
	router := newTestRouter(deps)

	deps.payments.On("ConfirmPayment", mock.Anything, "pay_1").
		Return(nil, domain.ErrPaymentInvalidTransition)

	rec, env := doRequest(t, router, http.MethodPost, "/api/v1/payments/pay_1/confirm", nil)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "PAY_003", env.Code)
}
