// Package idempotency реализует двухслойную защиту от повторной обработки
// запросов: Redis служит быстрым слоем, Postgres — авторитетным хранилищем.
// Повторная доставка одной и той же команды возвращает сохранённый ответ
// вместо повторного выполнения.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// DefaultTTL — срок жизни записи идемпотентности по умолчанию.
const DefaultTTL = 24 * time.Hour

// State — состояние записи идемпотентности.
type State string

const (
	// StateLocked — запрос выполняется, ответа ещё нет.
	StateLocked State = "LOCKED"

	// StateStored — ответ сохранён и отдаётся при повторе.
	StateStored State = "STORED"
)

// Outcome — исход проверки ключа идемпотентности.
type Outcome string

const (
	// OutcomeMiss — ключ свободен, замок взят, можно выполнять запрос.
	OutcomeMiss Outcome = "MISS"

	// OutcomeHit — ответ уже сохранён, возвращаем его без выполнения.
	OutcomeHit Outcome = "HIT"

	// OutcomeConflict — тот же ключ пришёл с другим телом запроса.
	OutcomeConflict Outcome = "CONFLICT"

	// OutcomeProcessing — первый запрос с этим ключом ещё выполняется.
	OutcomeProcessing Outcome = "PROCESSING"
)

// Result — результат захвата ключа идемпотентности.
// Response и HTTPStatus заполнены только при OutcomeHit.
type Result struct {
	Outcome    Outcome
	HTTPStatus int
	Response   []byte
}

// Entry — запись идемпотентности, общая для кеша и хранилища.
type Entry struct {
	State       State           `json:"state"`
	PayloadHash string          `json:"payloadHash"`
	HTTPStatus  int             `json:"httpStatus,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
}

// resultFromEntry интерпретирует существующую запись относительно
// хеша тела текущего запроса.
func resultFromEntry(e *Entry, payloadHash string) *Result {
	switch {
	case e.State == StateLocked:
		return &Result{Outcome: OutcomeProcessing}
	case e.PayloadHash != payloadHash:
		return &Result{Outcome: OutcomeConflict}
	default:
		return &Result{
			Outcome:    OutcomeHit,
			HTTPStatus: e.HTTPStatus,
			Response:   e.Response,
		}
	}
}

// HashPayload возвращает hex-представление SHA-256 от тела запроса.
// Пустое тело хешируется как пустая строка байт.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
