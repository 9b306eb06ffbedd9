package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/saga"
	"example.com/fluxpay/internal/tenant"
)

const testTenant = "tnt_test"

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Моки сервисов
// =============================================================================

type mockOrderService struct {
	mock.Mock
}

func (m *mockOrderService) CreateOrder(ctx context.Context, userID string, currency domain.Currency, items []domain.LineItem, metadata map[string]any) (*domain.Order, error) {
	args := m.Called(ctx, userID, currency, items, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *mockOrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *mockOrderService) ListOrders(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Order), args.Error(1)
}

func (m *mockOrderService) CancelOrder(ctx context.Context, orderID string) error {
	return m.Called(ctx, orderID).Error(0)
}

type mockPaymentService struct {
	mock.Mock
}

func (m *mockPaymentService) CreatePayment(ctx context.Context, orderID string, amount domain.Money) (*domain.Payment, error) {
	args := m.Called(ctx, orderID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *mockPaymentService) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *mockPaymentService) GetPaymentByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *mockPaymentService) RequestApproval(ctx context.Context, paymentID string, method domain.PaymentMethod) (*domain.Payment, error) {
	args := m.Called(ctx, paymentID, method)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *mockPaymentService) ConfirmPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *mockPaymentService) FailPayment(ctx context.Context, paymentID, reason string) (*domain.Payment, error) {
	args := m.Called(ctx, paymentID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

type mockRefundService struct {
	mock.Mock
}

func (m *mockRefundService) CreateRefund(ctx context.Context, paymentID string, amount domain.Money, reason string) (*domain.Refund, error) {
	args := m.Called(ctx, paymentID, amount, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Refund), args.Error(1)
}

func (m *mockRefundService) GetRefund(ctx context.Context, refundID string) (*domain.Refund, error) {
	args := m.Called(ctx, refundID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Refund), args.Error(1)
}

func (m *mockRefundService) ListRefunds(ctx context.Context, paymentID string) ([]*domain.Refund, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Refund), args.Error(1)
}

type mockSubscriptionRepo struct {
	mock.Mock
}

func (m *mockSubscriptionRepo) Create(ctx context.Context, sub *domain.WebhookSubscription) error {
	return m.Called(ctx, sub).Error(0)
}

func (m *mockSubscriptionRepo) List(ctx context.Context) ([]*domain.WebhookSubscription, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.WebhookSubscription), args.Error(1)
}

func (m *mockSubscriptionRepo) ListActiveForEvent(ctx context.Context, tenantID, eventType string) ([]*domain.WebhookSubscription, error) {
	args := m.Called(ctx, tenantID, eventType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.WebhookSubscription), args.Error(1)
}

func (m *mockSubscriptionRepo) GetSecret(ctx context.Context, subscriptionID string) (string, error) {
	args := m.Called(ctx, subscriptionID)
	return args.String(0), args.Error(1)
}

// =============================================================================
// Хранилище саг в памяти
// =============================================================================

type memSagaRepo struct {
	mu     sync.Mutex
	byID   map[string]*saga.Instance
	byCorr map[string]string
	steps  map[string][]*saga.StepRecord
}

func newMemSagaRepo() *memSagaRepo {
	return &memSagaRepo{
		byID:   make(map[string]*saga.Instance),
		byCorr: make(map[string]string),
		steps:  make(map[string][]*saga.StepRecord),
	}
}

func (r *memSagaRepo) Create(_ context.Context, inst *saga.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := inst.TenantID + "/" + inst.CorrelationID
	if _, ok := r.byCorr[key]; ok {
		return saga.ErrDuplicateCorrelation
	}
	cp := *inst
	r.byID[inst.ID] = &cp
	r.byCorr[key] = inst.ID
	return nil
}

func (r *memSagaRepo) Update(_ context.Context, inst *saga.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *inst
	r.byID[inst.ID] = &cp
	return nil
}

func (r *memSagaRepo) GetByID(_ context.Context, id string) (*saga.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.byID[id]
	if !ok {
		return nil, saga.ErrSagaNotFound
	}
	cp := *inst
	return &cp, nil
}

func (r *memSagaRepo) GetByCorrelationID(ctx context.Context, correlationID string) (*saga.Instance, error) {
	r.mu.Lock()
	id, ok := r.byCorr[testTenant+"/"+correlationID]
	r.mu.Unlock()
	if !ok {
		return nil, saga.ErrSagaNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *memSagaRepo) SaveStep(_ context.Context, rec *saga.StepRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.steps[rec.SagaID] {
		if existing.Index == rec.Index {
			cp := *rec
			r.steps[rec.SagaID][i] = &cp
			return nil
		}
	}
	cp := *rec
	r.steps[rec.SagaID] = append(r.steps[rec.SagaID], &cp)
	return nil
}

func (r *memSagaRepo) GetSteps(_ context.Context, sagaID string) ([]*saga.StepRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*saga.StepRecord(nil), r.steps[sagaID]...), nil
}

func (r *memSagaRepo) ListStuck(_ context.Context, _ time.Time, _ int) ([]*saga.Instance, error) {
	return nil, nil
}

func (r *memSagaRepo) Claim(_ context.Context, _, _ string, _ time.Time) (bool, error) {
	return true, nil
}

// =============================================================================
// Фикстуры и помощники
// =============================================================================

func mustMoney(t *testing.T, amount, currency string) domain.Money {
	t.Helper()
	m, err := domain.NewMoneyFromString(amount, domain.Currency(currency))
	require.NoError(t, err)
	return m
}

func testLineItems(t *testing.T) []domain.LineItem {
	t.Helper()
	return []domain.LineItem{
		{ProductID: "prod_1", ProductName: "Тариф Pro", Quantity: 1, UnitPrice: mustMoney(t, "100.00", "USD")},
		{ProductID: "prod_2", ProductName: "Доп. место", Quantity: 2, UnitPrice: mustMoney(t, "25.00", "USD")},
	}
}

func testOrder(t *testing.T) *domain.Order {
	t.Helper()
	order, err := domain.NewOrder(testTenant, "user_1", domain.CurrencyUSD, testLineItems(t), map[string]any{"channel": "web"})
	require.NoError(t, err)
	return order
}

func testPayment(t *testing.T, order *domain.Order) *domain.Payment {
	t.Helper()
	payment, err := domain.NewPayment(testTenant, order.ID, order.TotalAmount)
	require.NoError(t, err)
	return payment
}

func testRefund(t *testing.T, paymentID string) *domain.Refund {
	t.Helper()
	refund, err := domain.NewRefund(testTenant, paymentID, mustMoney(t, "50.00", "USD"), "передумал")
	require.NoError(t, err)
	return refund
}

// testEnvelope — конверт ответа API с сырым результатом.
type testEnvelope struct {
	IsSuccess bool            `json:"isSuccess"`
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	Result    json.RawMessage `json:"result"`
}

// routerDeps — моки, из которых собирается тестовый маршрутизатор.
type routerDeps struct {
	orders       *mockOrderService
	payments     *mockPaymentService
	refunds      *mockRefundService
	orchestrator *saga.Orchestrator
}

func newRouterDeps() *routerDeps {
	return &routerDeps{
		orders:   new(mockOrderService),
		payments: new(mockPaymentService),
		refunds:  new(mockRefundService),
	}
}

// newTestRouter собирает маршрутизатор без защиты идемпотентности:
// она покрыта тестами middleware отдельно.
func newTestRouter(deps *routerDeps) *gin.Engine {
	orchestrator := deps.orchestrator
	if orchestrator == nil {
		orchestrator = saga.NewOrchestrator(newMemSagaRepo(), saga.NewRegistry(), saga.DefaultConfig())
	}

	return NewRouter(RouterConfig{
		Orders:        NewOrderHandler(deps.orders, deps.payments, orchestrator),
		Payments:      NewPaymentHandler(deps.payments),
		Refunds:       NewRefundHandler(deps.refunds),
		Webhooks:      NewWebhookHandler(nil),
		EnforceTenant: true,
	})
}

// doRequest выполняет запрос с заголовком тенанта и разбирает конверт.
func doRequest(t *testing.T, router *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, *testEnvelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(tenant.Header, testTenant)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	env := &testEnvelope{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), env), "тело ответа: %s", rec.Body.String())
	}

	return rec, env
}

func decodeResult(t *testing.T, env *testEnvelope, out any) {
	t.Helper()
	require.NotNil(t, env.Result)
	require.NoError(t, json.Unmarshal(env.Result, out))
}

// matchTenantCtx проверяет, что в context запроса попал тестовый тенант.
func matchTenantCtx() any {
	return mock.MatchedBy(func(ctx context.Context) bool {
		id, err := tenant.Require(ctx)
		return err == nil && id == testTenant
	})
}
