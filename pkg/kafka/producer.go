package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/fluxpay/pkg/logger"
	"example.com/fluxpay/pkg/metrics"
)

// Producer публикует сообщения в Kafka.
// Singleton на процесс: kafka.Writer потокобезопасен и батчит записи сам.
type Producer struct {
	writer *kafka.Writer
	cfg    Config
}

// NewProducer создаёт Producer.
// Balancer Hash обязателен: ключ сообщения (aggregateId) определяет партицию,
// что даёт порядок событий в рамках одного агрегата.
func NewProducer(cfg Config) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("не указаны брокеры Kafka")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Msg("Создан Kafka Producer")

	return &Producer{writer: writer, cfg: cfg}, nil
}

// SendMessage отправляет сообщение, дополняя заголовки trace_id,
// correlation_id и timestamp из контекста.
func (p *Producer) SendMessage(ctx context.Context, msg *Message) error {
	if msg.Headers == nil {
		msg.Headers = make(map[string]string)
	}

	if traceID := TraceIDFromContext(ctx); traceID != "" {
		msg.Headers[HeaderTraceID] = traceID
	}
	if correlationID := CorrelationIDFromContext(ctx); correlationID != "" {
		msg.Headers[HeaderCorrelationID] = correlationID
	}
	if _, ok := msg.Headers[HeaderTimestamp]; !ok {
		msg.Headers[HeaderTimestamp] = time.Now().UTC().Format(time.RFC3339Nano)
	}

	if err := p.writer.WriteMessages(ctx, toKafkaMessage(msg)); err != nil {
		return fmt.Errorf("ошибка отправки сообщения в топик %s: %w", msg.Topic, err)
	}

	metrics.KafkaMessagesProduced.WithLabelValues(msg.Topic).Inc()
	return nil
}

// Close закрывает Producer.
func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия producer: %w", err)
	}
	return nil
}
