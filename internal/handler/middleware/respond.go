package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"

	"example.com/fluxpay/internal/domain"
)

// abortWithError прерывает запрос конвертом ошибки.
// Формат совпадает с конвертом пакета handler.
func abortWithError(c *gin.Context, err error) {
	message := "внутренняя ошибка"

	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}

	c.AbortWithStatusJSON(domain.StatusOf(err), gin.H{
		"isSuccess": false,
		"code":      string(domain.CodeOf(err)),
		"message":   message,
		"result":    nil,
	})
}
