// Package webhook реализует доставку событий подписчикам по HTTP.
//
// После публикации события в брокер публикатор outbox ставит по одной
// доставке на каждую подходящую подписку. Планировщик забирает готовые
// доставки и раздаёт их пулу воркеров; неудачные попытки повторяются
// с экспоненциальной задержкой и джиттером. Каждый запрос подписан
// HMAC-SHA256 секретом подписки.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"math/rand"
	"strconv"
	"time"
)

// HTTP-заголовки исходящей доставки.
const (
	// HeaderTimestamp — unix-время подписи в секундах.
	HeaderTimestamp = "X-FluxPay-Timestamp"

	// HeaderSignature — Base64 от HMAC-SHA256(timestamp + "." + payload).
	HeaderSignature = "X-FluxPay-Signature"

	// HeaderEventID — ID события CloudEvents, ключ дедупликации подписчика.
	HeaderEventID = "X-FluxPay-Event-Id"

	// HeaderEventType — короткий тип события (payment.confirmed).
	HeaderEventType = "X-FluxPay-Event-Type"
)

// Sign подписывает полезную нагрузку секретом подписки.
// Подписывается строка timestamp + "." + payload, что защищает
// от replay-атак со старой подписью.
func Sign(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify проверяет подпись за константное время.
// Используется подписчиками и тестами на приёмной стороне.
func Verify(secret, timestamp string, payload []byte, signature string) bool {
	expected, err := base64.StdEncoding.DecodeString(Sign(secret, timestamp, payload))
	if err != nil {
		return false
	}
	actual, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, actual)
}

// Timestamp возвращает метку времени подписи для момента t.
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// Backoff возвращает задержку перед попыткой retryCount+1:
// min(maxBackoff, base·2^retryCount) плюс равномерный джиттер до 10%.
func Backoff(base, maxBackoff time.Duration, retryCount int) time.Duration {
	delay := base << retryCount
	if delay > maxBackoff || delay <= 0 {
		delay = maxBackoff
	}

	jitter := time.Duration(rand.Int63n(int64(delay)/10 + 1))
	return delay + jitter
}
