package pgclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/fluxpay/internal/domain"
)

func mustMoney(t *testing.T, amount int64, currency domain.Currency) domain.Money {
	t.Helper()

	m, err := domain.NewMoneyFromInt(amount, currency)
	require.NoError(t, err)
	return m
}

func newTestClient(baseURL string, timeout time.Duration) *HTTPClient {
	return NewHTTPClient(Config{
		BaseURL:   baseURL,
		SecretKey: "test_sk_secret",
		Timeout:   timeout,
	})
}

func TestHTTPClient_RequestApproval(t *testing.T) {
	t.Run("успешное одобрение", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/payments/approve", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Basic "))

			var req map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "order-1", req["orderId"])
			assert.Equal(t, "20000", req["amount"])
			assert.Equal(t, "KRW", req["currency"])
			assert.Equal(t, "CARD", req["method"])

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"success":true,"transactionId":"toss_tx_abc","paymentKey":"toss_pk_abc"}`))
		}))
		defer srv.Close()

		client := newTestClient(srv.URL, time.Second)
		result := client.RequestApproval(context.Background(), "order-1", mustMoney(t, 20000, domain.CurrencyKRW), domain.PaymentMethodCard)

		assert.True(t, result.Success)
		assert.Equal(t, "toss_tx_abc", result.TransactionID)
		assert.Equal(t, "toss_pk_abc", result.PaymentKey)
		assert.Empty(t, result.ErrorMessage)
	})

	t.Run("отказ шлюза", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			_, _ = w.Write([]byte(`{"success":false,"errorMessage":"Недостаточно средств"}`))
		}))
		defer srv.Close()

		client := newTestClient(srv.URL, time.Second)
		result := client.RequestApproval(context.Background(), "order-1", mustMoney(t, 20000, domain.CurrencyKRW), domain.PaymentMethodCard)

		assert.False(t, result.Success)
		assert.Equal(t, "Недостаточно средств", result.ErrorMessage)
		assert.Empty(t, result.TransactionID)
	})

	t.Run("отказ без текста получает код ответа", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"success":false}`))
		}))
		defer srv.Close()

		client := newTestClient(srv.URL, time.Second)
		result := client.RequestApproval(context.Background(), "order-1", mustMoney(t, 20000, domain.CurrencyKRW), domain.PaymentMethodCard)

		assert.False(t, result.Success)
		assert.Contains(t, result.ErrorMessage, "400")
	})

	t.Run("ошибка 5xx не считается отказом шлюза", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		client := newTestClient(srv.URL, time.Second)
		result := client.RequestApproval(context.Background(), "order-1", mustMoney(t, 20000, domain.CurrencyKRW), domain.PaymentMethodCard)

		assert.False(t, result.Success)
		assert.Contains(t, result.ErrorMessage, "500")
	})

	t.Run("шлюз недоступен", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		client := newTestClient(srv.URL, time.Second)
		result := client.RequestApproval(context.Background(), "order-1", mustMoney(t, 20000, domain.CurrencyKRW), domain.PaymentMethodCard)

		assert.False(t, result.Success)
		assert.NotEmpty(t, result.ErrorMessage)
	})

	t.Run("таймаут запроса", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer srv.Close()

		client := newTestClient(srv.URL, 50*time.Millisecond)
		result := client.RequestApproval(context.Background(), "order-1", mustMoney(t, 20000, domain.CurrencyKRW), domain.PaymentMethodCard)

		assert.False(t, result.Success)
		assert.Contains(t, result.ErrorMessage, "таймаут")
	})
}

func TestHTTPClient_ConfirmPayment(t *testing.T) {
	t.Run("успешное подтверждение", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/payments/confirm", r.URL.Path)

			var req map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "toss_pk_abc", req["paymentKey"])
			assert.Equal(t, "order-1", req["orderId"])
			assert.Equal(t, "20000", req["amount"])
			assert.Equal(t, "KRW", req["currency"])

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"success":true,"transactionId":"toss_tx_confirm"}`))
		}))
		defer srv.Close()

		client := newTestClient(srv.URL, time.Second)
		result := client.ConfirmPayment(context.Background(), "toss_pk_abc", "order-1", mustMoney(t, 20000, domain.CurrencyKRW))

		assert.True(t, result.Success)
		assert.Equal(t, "toss_tx_confirm", result.TransactionID)
	})

	t.Run("отказ подтверждения", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"success":false,"errorMessage":"Сумма не совпадает с одобренной"}`))
		}))
		defer srv.Close()

		client := newTestClient(srv.URL, time.Second)
		result := client.ConfirmPayment(context.Background(), "toss_pk_abc", "order-1", mustMoney(t, 30000, domain.CurrencyKRW))

		assert.False(t, result.Success)
		assert.Equal(t, "Сумма не совпадает с одобренной", result.ErrorMessage)
	})
}

func TestHTTPClient_CancelPayment(t *testing.T) {
	t.Run("успешная отмена", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/payments/cancel", r.URL.Path)

			var req map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "toss_pk_abc", req["paymentKey"])
			assert.Equal(t, "Возврат по запросу клиента", req["reason"])

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"success":true,"transactionId":"toss_cancel_1"}`))
		}))
		defer srv.Close()

		client := newTestClient(srv.URL, time.Second)
		result := client.CancelPayment(context.Background(), "toss_pk_abc", "Возврат по запросу клиента")

		assert.True(t, result.Success)
		assert.Equal(t, "toss_cancel_1", result.TransactionID)
	})

	t.Run("некорректный JSON в ответе", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>gateway error</html>`))
		}))
		defer srv.Close()

		client := newTestClient(srv.URL, time.Second)
		result := client.CancelPayment(context.Background(), "toss_pk_abc", "Возврат")

		assert.False(t, result.Success)
		assert.NotEmpty(t, result.ErrorMessage)
	})
}

func TestHTTPClient_CircuitBreaker(t *testing.T) {
	t.Run("открывается после серии транспортных сбоев", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		client := newTestClient(srv.URL, time.Second)
		money := mustMoney(t, 20000, domain.CurrencyKRW)

		for i := 0; i < 5; i++ {
			result := client.RequestApproval(context.Background(), "order-1", money, domain.PaymentMethodCard)
			assert.False(t, result.Success)
		}
		require.EqualValues(t, 5, hits.Load())

		result := client.RequestApproval(context.Background(), "order-1", money, domain.PaymentMethodCard)
		assert.False(t, result.Success)
		assert.Contains(t, result.ErrorMessage, "временно недоступен")
		assert.EqualValues(t, 5, hits.Load(), "открытый breaker не пропускает запросы к шлюзу")
	})

	t.Run("отказы шлюза breaker не открывают", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			_, _ = w.Write([]byte(`{"success":false,"errorMessage":"Карта заблокирована"}`))
		}))
		defer srv.Close()

		client := newTestClient(srv.URL, time.Second)
		money := mustMoney(t, 20000, domain.CurrencyKRW)

		for i := 0; i < 8; i++ {
			result := client.RequestApproval(context.Background(), "order-1", money, domain.PaymentMethodCard)
			assert.False(t, result.Success)
			assert.Equal(t, "Карта заблокирована", result.ErrorMessage)
		}

		assert.EqualValues(t, 8, hits.Load(), "все запросы дошли до шлюза")
	})
}

func TestMockClient(t *testing.T) {
	ctx := context.Background()
	client := NewMockClient()

	t.Run("одобрение обычной суммы", func(t *testing.T) {
		result := client.RequestApproval(ctx, "order-1", mustMoney(t, 20000, domain.CurrencyKRW), domain.PaymentMethodCard)

		require.True(t, result.Success)
		assert.True(t, strings.HasPrefix(result.TransactionID, "toss_tx_"))
		assert.True(t, strings.HasPrefix(result.PaymentKey, "toss_pk_"))
	})

	t.Run("отказ суммы с целой частью на 99", func(t *testing.T) {
		result := client.RequestApproval(ctx, "order-1", mustMoney(t, 1099, domain.CurrencyKRW), domain.PaymentMethodCard)

		assert.False(t, result.Success)
		assert.NotEmpty(t, result.ErrorMessage)
	})

	t.Run("дробная часть на отказ не влияет", func(t *testing.T) {
		m, err := domain.NewMoneyFromString("100.99", domain.CurrencyUSD)
		require.NoError(t, err)

		result := client.RequestApproval(ctx, "order-1", m, domain.PaymentMethodCard)

		assert.True(t, result.Success)
	})

	t.Run("подтверждение", func(t *testing.T) {
		result := client.ConfirmPayment(ctx, "toss_pk_abc", "order-1", mustMoney(t, 20000, domain.CurrencyKRW))

		require.True(t, result.Success)
		assert.True(t, strings.HasPrefix(result.TransactionID, "toss_tx_"))
	})

	t.Run("подтверждение без paymentKey", func(t *testing.T) {
		result := client.ConfirmPayment(ctx, "", "order-1", mustMoney(t, 20000, domain.CurrencyKRW))

		assert.False(t, result.Success)
	})

	t.Run("отмена", func(t *testing.T) {
		result := client.CancelPayment(ctx, "toss_pk_abc", "Возврат средств")

		require.True(t, result.Success)
		assert.True(t, strings.HasPrefix(result.TransactionID, "toss_cancel_"))
	})

	t.Run("отмена без paymentKey", func(t *testing.T) {
		result := client.CancelPayment(ctx, "", "Возврат средств")

		assert.False(t, result.Success)
	})
}
