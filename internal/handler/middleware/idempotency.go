package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/idempotency"
	"example.com/fluxpay/pkg/logger"
)

// HeaderIdempotencyKey — заголовок ключа идемпотентности команд.
const HeaderIdempotencyKey = "X-Idempotency-Key"

// Idempotency защищает команды от повторной обработки.
//
// Ключ обязателен и должен быть UUID. Исходы захвата:
// HIT — сохранённый ответ отдаётся без выполнения обработчика;
// CONFLICT — тот же ключ с другим телом, 422; PROCESSING — первый
// запрос ещё выполняется, 409; MISS — обработчик выполняется, его
// ответ сохраняется для повторов. Ошибочный ответ снимает замок,
// чтобы клиент мог повторить команду с тем же ключом.
func Idempotency(guard *idempotency.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			abortWithError(c, domain.ErrIdempotencyKeyMissing)
			return
		}
		if _, err := uuid.Parse(key); err != nil {
			abortWithError(c, domain.ErrIdempotencyKeyInvalid)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			abortWithError(c, domain.ErrValidation.WithMessage("не удалось прочитать тело запроса"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		ctx := c.Request.Context()
		endpoint := c.FullPath()
		payloadHash := idempotency.HashPayload(body)

		res, err := guard.AcquireLock(ctx, endpoint, key, payloadHash)
		if err != nil {
			abortWithError(c, err)
			return
		}

		switch res.Outcome {
		case idempotency.OutcomeHit:
			c.Data(res.HTTPStatus, "application/json", res.Response)
			c.Abort()
			return
		case idempotency.OutcomeConflict:
			abortWithError(c, domain.ErrIdempotencyConflict)
			return
		case idempotency.OutcomeProcessing:
			abortWithError(c, domain.ErrIdempotencyProcessing)
			return
		}

		// MISS: выполняем обработчик, перехватывая его ответ
		capture := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = capture

		c.Next()

		log := logger.FromContext(ctx)
		status := capture.Status()

		if status >= http.StatusOK && status < http.StatusMultipleChoices {
			if err := guard.Store(ctx, endpoint, key, payloadHash, status, capture.body.Bytes()); err != nil {
				log.Error().Err(err).
					Str("endpoint", endpoint).
					Msg("Не удалось сохранить ответ идемпотентности")
			}
			return
		}

		if err := guard.ReleaseLock(ctx, endpoint, key); err != nil {
			log.Warn().Err(err).
				Str("endpoint", endpoint).
				Msg("Не удалось снять замок идемпотентности")
		}
	}
}

// captureWriter копирует тело ответа для сохранения в хранилище идемпотентности.
type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(p []byte) (int, error) {
	w.body.Write(p)
	return w.ResponseWriter.Write(p)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
