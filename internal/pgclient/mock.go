package pgclient

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/pkg/logger"
)

// MockClient — детерминированная эмуляция платёжного шлюза для локальной
// разработки и стендов без реального PG.
//
// Правила эмуляции:
//   - суммы, целая часть которых оканчивается на 99, отклоняются
//     при одобрении и подтверждении;
//   - остальные операции успешны, идентификаторы генерируются
//     с префиксами toss_tx_ / toss_pk_ / toss_cancel_.
type MockClient struct{}

// NewMockClient создаёт эмулятор шлюза.
func NewMockClient() *MockClient {
	logger.Info().Msg("Платёжный шлюз работает в режиме эмуляции")
	return &MockClient{}
}

// RequestApproval одобряет оплату, кроме сумм с целой частью на 99.
func (m *MockClient) RequestApproval(_ context.Context, _ string, amount domain.Money, _ domain.PaymentMethod) *ApprovalResult {
	if isDeclineAmount(amount) {
		return &ApprovalResult{ErrorMessage: "эмулятор шлюза отклонил одобрение суммы " + amount.String()}
	}

	return &ApprovalResult{
		Success:       true,
		TransactionID: mockID("toss_tx_"),
		PaymentKey:    mockID("toss_pk_"),
	}
}

// ConfirmPayment подтверждает платёж с непустым paymentKey.
func (m *MockClient) ConfirmPayment(_ context.Context, paymentKey, _ string, amount domain.Money) *ConfirmResult {
	if paymentKey == "" {
		return &ConfirmResult{ErrorMessage: "эмулятор шлюза: пустой paymentKey"}
	}
	if isDeclineAmount(amount) {
		return &ConfirmResult{ErrorMessage: "эмулятор шлюза отклонил подтверждение суммы " + amount.String()}
	}

	return &ConfirmResult{
		Success:       true,
		TransactionID: mockID("toss_tx_"),
	}
}

// CancelPayment отменяет платёж с непустым paymentKey.
func (m *MockClient) CancelPayment(_ context.Context, paymentKey, _ string) *CancelResult {
	if paymentKey == "" {
		return &CancelResult{ErrorMessage: "эмулятор шлюза: пустой paymentKey"}
	}

	return &CancelResult{
		Success:       true,
		TransactionID: mockID("toss_cancel_"),
	}
}

// isDeclineAmount возвращает true для сумм, которые эмулятор отклоняет.
func isDeclineAmount(amount domain.Money) bool {
	whole, _, _ := strings.Cut(amount.AmountString(), ".")
	return strings.HasSuffix(whole, "99")
}

func mockID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
