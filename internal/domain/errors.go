package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Ошибки значимых объектов (Money, версии строк).
var (
	// ErrInvalidCurrency — валюта не поддерживается движком.
	ErrInvalidCurrency = errors.New("неподдерживаемая валюта")

	// ErrNegativeAmount — отрицательная сумма недопустима.
	ErrNegativeAmount = errors.New("сумма не может быть отрицательной")

	// ErrCurrencyMismatch — операция над суммами разных валют.
	ErrCurrencyMismatch = errors.New("валюты не совпадают")

	// ErrVersionConflict — конкурентное обновление строки (optimistic lock).
	// Сервисы транслируют его в ошибку недопустимого перехода для своего агрегата.
	ErrVersionConflict = errors.New("конфликт версий при обновлении")
)

// Code — стабильный код ошибки, возвращаемый клиентам.
type Code string

const (
	// Заказы.
	CodeOrderNotFound   Code = "ORD_001"
	CodeOrderProcessed  Code = "ORD_002"
	CodeOrderTransition Code = "ORD_003"

	// Платежи и возвраты.
	CodePaymentNotFound   Code = "PAY_001"
	CodePaymentExists     Code = "PAY_002"
	CodePaymentTransition Code = "PAY_003"
	CodePGApprovalFailed  Code = "PAY_004"
	CodePGConfirmFailed   Code = "PAY_005"
	CodeRefundNotFound    Code = "PAY_006"
	CodeRefundExceeded    Code = "PAY_007"
	CodeRefundExpired     Code = "PAY_008"
	CodeRefundLimit       Code = "PAY_009"
	CodeRefundState       Code = "PAY_010"

	// Валидация и идемпотентность.
	CodeValidation          Code = "VAL_001"
	CodeIdempotencyMissing  Code = "VAL_002"
	CodeIdempotencyInvalid  Code = "VAL_003"
	CodeIdempotencyConflict Code = "VAL_004"
	CodeIdempotencyInFlight Code = "VAL_005"
	CodeWebhookSignature    Code = "VAL_006"

	// Тенант.
	CodeTenantMissing Code = "TNT_001"
	CodeTenantUnknown Code = "TNT_002"

	// Системные.
	CodeInternal        Code = "SYS_001"
	CodeUnavailable     Code = "SYS_002"
	CodeUpstreamTimeout Code = "SYS_003"
)

// Error — доменная ошибка со стабильным кодом и HTTP-статусом.
type Error struct {
	Code    Code
	Status  int
	Message string
	cause   error
}

// Error возвращает текст ошибки.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap возвращает обёрнутую причину.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is сравнивает ошибки по коду, чтобы errors.Is работал с производными копиями.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithMessage возвращает копию ошибки с другим сообщением.
func (e *Error) WithMessage(format string, args ...any) *Error {
	clone := *e
	clone.Message = fmt.Sprintf(format, args...)
	return &clone
}

// WithCause возвращает копию ошибки с обёрнутой причиной.
func (e *Error) WithCause(cause error) *Error {
	clone := *e
	clone.cause = cause
	return &clone
}

// Стабильные доменные ошибки с кодами.
var (
	ErrOrderNotFound          = &Error{Code: CodeOrderNotFound, Status: http.StatusNotFound, Message: "заказ не найден"}
	ErrOrderAlreadyProcessed  = &Error{Code: CodeOrderProcessed, Status: http.StatusConflict, Message: "заказ уже обработан"}
	ErrOrderInvalidTransition = &Error{Code: CodeOrderTransition, Status: http.StatusConflict, Message: "недопустимый переход состояния заказа"}

	ErrPaymentNotFound          = &Error{Code: CodePaymentNotFound, Status: http.StatusNotFound, Message: "платёж не найден"}
	ErrPaymentAlreadyExists     = &Error{Code: CodePaymentExists, Status: http.StatusConflict, Message: "платёж для заказа уже существует"}
	ErrPaymentInvalidTransition = &Error{Code: CodePaymentTransition, Status: http.StatusConflict, Message: "недопустимый переход состояния платежа"}
	ErrPGApprovalFailed         = &Error{Code: CodePGApprovalFailed, Status: http.StatusBadGateway, Message: "платёжный шлюз отклонил авторизацию"}
	ErrPGConfirmFailed          = &Error{Code: CodePGConfirmFailed, Status: http.StatusBadGateway, Message: "платёжный шлюз отклонил подтверждение"}

	ErrRefundNotFound       = &Error{Code: CodeRefundNotFound, Status: http.StatusNotFound, Message: "возврат не найден"}
	ErrRefundAmountExceeded = &Error{Code: CodeRefundExceeded, Status: http.StatusUnprocessableEntity, Message: "сумма возврата превышает остаток платежа"}
	ErrRefundPeriodExpired  = &Error{Code: CodeRefundExpired, Status: http.StatusUnprocessableEntity, Message: "период возврата истёк"}
	ErrRefundLimitReached   = &Error{Code: CodeRefundLimit, Status: http.StatusUnprocessableEntity, Message: "превышен лимит частичных возвратов"}
	ErrInvalidRefundState   = &Error{Code: CodeRefundState, Status: http.StatusConflict, Message: "возврат возможен только для подтверждённого платежа"}

	ErrValidation              = &Error{Code: CodeValidation, Status: http.StatusBadRequest, Message: "некорректный запрос"}
	ErrIdempotencyKeyMissing   = &Error{Code: CodeIdempotencyMissing, Status: http.StatusBadRequest, Message: "отсутствует заголовок X-Idempotency-Key"}
	ErrIdempotencyKeyInvalid   = &Error{Code: CodeIdempotencyInvalid, Status: http.StatusBadRequest, Message: "X-Idempotency-Key должен быть UUID"}
	ErrIdempotencyConflict     = &Error{Code: CodeIdempotencyConflict, Status: http.StatusUnprocessableEntity, Message: "ключ идемпотентности использован с другим телом запроса"}
	ErrIdempotencyProcessing   = &Error{Code: CodeIdempotencyInFlight, Status: http.StatusConflict, Message: "запрос с этим ключом ещё обрабатывается, повторите позже"}
	ErrWebhookSignatureInvalid = &Error{Code: CodeWebhookSignature, Status: http.StatusUnauthorized, Message: "некорректная подпись вебхука"}

	ErrTenantMissing = &Error{Code: CodeTenantMissing, Status: http.StatusBadRequest, Message: "отсутствует заголовок X-Tenant-Id"}
	ErrTenantUnknown = &Error{Code: CodeTenantUnknown, Status: http.StatusForbidden, Message: "неизвестный тенант"}

	ErrInternal        = &Error{Code: CodeInternal, Status: http.StatusInternalServerError, Message: "внутренняя ошибка"}
	ErrUnavailable     = &Error{Code: CodeUnavailable, Status: http.StatusServiceUnavailable, Message: "сервис временно недоступен"}
	ErrUpstreamTimeout = &Error{Code: CodeUpstreamTimeout, Status: http.StatusGatewayTimeout, Message: "таймаут внешнего сервиса"}
)

// CodeOf возвращает стабильный код ошибки или SYS_001 для неизвестных ошибок.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// StatusOf возвращает HTTP-статус ошибки или 500 для неизвестных ошибок.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}
