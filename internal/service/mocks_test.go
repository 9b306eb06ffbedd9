// Вспомогательные фейки и моки для тестов пакета service.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/pgclient"
	"example.com/fluxpay/internal/tenant"
)

// testTenant — тенант всех тестов пакета.
const testTenant = "tnt_test"

// tenantCtx возвращает context с тестовым тенантом.
func tenantCtx() context.Context {
	return tenant.WithTenant(context.Background(), testTenant)
}

// fakeTx выполняет функцию без реальной транзакции.
type fakeTx struct{}

func (fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// recordingEvents собирает события, записанные сервисами в outbox.
type recordingEvents struct {
	mu     sync.Mutex
	events []*domain.CloudEvent
	keys   []string
}

func (r *recordingEvents) Append(_ context.Context, _, aggregateID string, event *domain.CloudEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.keys = append(r.keys, aggregateID)
	return nil
}

// aggregateIDs возвращает ключи партиционирования записанных событий по порядку.
func (r *recordingEvents) aggregateIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.keys))
	out = append(out, r.keys...)
	return out
}

// types возвращает короткие типы записанных событий по порядку.
func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.ShortType())
	}
	return out
}

// =============================================================================
// Моки репозиториев
// =============================================================================

// mockOrderRepo — мок repository.OrderRepository.
type mockOrderRepo struct {
	mock.Mock
}

func (m *mockOrderRepo) Create(ctx context.Context, order *domain.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *mockOrderRepo) GetByID(ctx context.Context, orderID string) (*domain.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *mockOrderRepo) List(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Order), args.Error(1)
}

func (m *mockOrderRepo) Update(ctx context.Context, order *domain.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

// mockPaymentRepo — мок repository.PaymentRepository.
type mockPaymentRepo struct {
	mock.Mock
}

func (m *mockPaymentRepo) Create(ctx context.Context, payment *domain.Payment) error {
	args := m.Called(ctx, payment)
	return args.Error(0)
}

func (m *mockPaymentRepo) GetByID(ctx context.Context, paymentID string) (*domain.Payment, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *mockPaymentRepo) GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *mockPaymentRepo) Update(ctx context.Context, payment *domain.Payment) error {
	args := m.Called(ctx, payment)
	return args.Error(0)
}

func (m *mockPaymentRepo) ListStuckProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payment, error) {
	args := m.Called(ctx, olderThan, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Payment), args.Error(1)
}

// mockRefundRepo — мок repository.RefundRepository.
type mockRefundRepo struct {
	mock.Mock
}

func (m *mockRefundRepo) Create(ctx context.Context, refund *domain.Refund) error {
	args := m.Called(ctx, refund)
	return args.Error(0)
}

func (m *mockRefundRepo) GetByID(ctx context.Context, refundID string) (*domain.Refund, error) {
	args := m.Called(ctx, refundID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Refund), args.Error(1)
}

func (m *mockRefundRepo) ListByPaymentID(ctx context.Context, paymentID string) ([]*domain.Refund, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Refund), args.Error(1)
}

func (m *mockRefundRepo) Update(ctx context.Context, refund *domain.Refund) error {
	args := m.Called(ctx, refund)
	return args.Error(0)
}

func (m *mockRefundRepo) SumCompleted(ctx context.Context, paymentID string, currency domain.Currency) (domain.Money, error) {
	args := m.Called(ctx, paymentID, currency)
	return args.Get(0).(domain.Money), args.Error(1)
}

func (m *mockRefundRepo) SumActive(ctx context.Context, paymentID string, currency domain.Currency) (domain.Money, error) {
	args := m.Called(ctx, paymentID, currency)
	return args.Get(0).(domain.Money), args.Error(1)
}

func (m *mockRefundRepo) CountActive(ctx context.Context, paymentID string) (int64, error) {
	args := m.Called(ctx, paymentID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRefundRepo) ListRequested(ctx context.Context, limit int) ([]*domain.Refund, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Refund), args.Error(1)
}

// =============================================================================
// Мок платёжного шлюза
// =============================================================================

// mockGateway — мок pgclient.Client.
type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) RequestApproval(ctx context.Context, orderID string, amount domain.Money, method domain.PaymentMethod) *pgclient.ApprovalResult {
	args := m.Called(ctx, orderID, amount, method)
	return args.Get(0).(*pgclient.ApprovalResult)
}

func (m *mockGateway) ConfirmPayment(ctx context.Context, paymentKey, orderID string, amount domain.Money) *pgclient.ConfirmResult {
	args := m.Called(ctx, paymentKey, orderID, amount)
	return args.Get(0).(*pgclient.ConfirmResult)
}

func (m *mockGateway) CancelPayment(ctx context.Context, paymentKey, reason string) *pgclient.CancelResult {
	args := m.Called(ctx, paymentKey, reason)
	return args.Get(0).(*pgclient.CancelResult)
}

// =============================================================================
// Фабрики тестовых сущностей
// =============================================================================

// mustMoney создаёт Money из строки, падая при ошибке.
func mustMoney(amount string, currency domain.Currency) domain.Money {
	m, err := domain.NewMoneyFromString(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// testLineItems возвращает позиции на сумму 150.00 USD.
func testLineItems() []domain.LineItem {
	return []domain.LineItem{
		{
			ProductID:   "prod-1",
			ProductName: "Подписка Pro",
			Quantity:    1,
			UnitPrice:   mustMoney("100.00", domain.CurrencyUSD),
		},
		{
			ProductID:   "prod-2",
			ProductName: "Доп. место",
			Quantity:    2,
			UnitPrice:   mustMoney("25.00", domain.CurrencyUSD),
		},
	}
}

// testOrder возвращает заказ PENDING на 150.00 USD.
func testOrder() *domain.Order {
	order, err := domain.NewOrder(testTenant, "user-1", domain.CurrencyUSD, testLineItems(), nil)
	if err != nil {
		panic(err)
	}
	return order
}

// testPayment возвращает платёж READY для заказа.
func testPayment(order *domain.Order) *domain.Payment {
	payment, err := domain.NewPayment(testTenant, order.ID, order.TotalAmount)
	if err != nil {
		panic(err)
	}
	return payment
}

// confirmedPayment возвращает платёж, доведённый до CONFIRMED.
func confirmedPayment(order *domain.Order) *domain.Payment {
	payment := testPayment(order)
	mustDo(payment.StartProcessing(domain.PaymentMethodCard))
	mustDo(payment.Approve("toss_tx_1", "toss_pk_1"))
	mustDo(payment.Confirm())
	return payment
}

func mustDo(err error) {
	if err != nil {
		panic(err)
	}
}
