// Package handler содержит HTTP обработчики REST API движка.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/pkg/logger"
)

// successCode — код конверта для успешных ответов.
const successCode = "OK"

// Envelope — единый формат ответа API.
type Envelope struct {
	IsSuccess bool   `json:"isSuccess"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Result    any    `json:"result"`
}

// respond отправляет успешный ответ с результатом.
func respond(c *gin.Context, status int, result any) {
	c.JSON(status, Envelope{
		IsSuccess: true,
		Code:      successCode,
		Message:   "success",
		Result:    result,
	})
}

// respondError отправляет ошибку со стабильным кодом.
// Неизвестные ошибки сводятся к SYS_001 без утечки деталей клиенту.
func respondError(c *gin.Context, err error) {
	status := domain.StatusOf(err)
	code := domain.CodeOf(err)

	message := "внутренняя ошибка"
	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}

	log := logger.FromContext(c.Request.Context())
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("code", string(code)).Msg("Ошибка обработки запроса")
	} else {
		log.Warn().Err(err).Str("code", string(code)).Msg("Запрос отклонён")
	}

	c.JSON(status, Envelope{
		IsSuccess: false,
		Code:      string(code),
		Message:   message,
		Result:    nil,
	})
}

// respondBindError отправляет ошибку привязки тела запроса как VAL_001.
func respondBindError(c *gin.Context, err error) {
	respondError(c, domain.ErrValidation.WithMessage("некорректное тело запроса").WithCause(err))
}
