// Package kafka предоставляет обёртку над segmentio/kafka-go: producer
// для публикации доменных событий из outbox и создание топиков при старте.
package kafka

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/fluxpay/pkg/logger"
)

// Топики движка.
const (
	// TopicEvents — основной топик доменных событий (CloudEvents 1.0).
	// Ключ сообщения = aggregateId, что гарантирует порядок в рамках агрегата.
	TopicEvents = "fluxpay.events"

	// DLQPrefix — префикс DLQ топиков. Полное имя: fluxpay.events.dlq.<event-type>.
	DLQPrefix = "fluxpay.events.dlq"
)

// Заголовки сообщений.
const (
	HeaderEventID       = "event-id"
	HeaderEventType     = "event-type"
	HeaderTenantID      = "tenant-id"
	HeaderTraceID       = "trace_id"
	HeaderCorrelationID = "correlation_id"
	HeaderTimestamp     = "timestamp"
)

// Config содержит настройки подключения к Kafka.
type Config struct {
	Brokers []string
}

// Message — сообщение брокера, независимое от транспортной библиотеки.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Time      time.Time
}

// DLQTopic возвращает имя DLQ топика для типа события.
// Точки в типе события сохраняются: payment.confirmed → fluxpay.events.dlq.payment.confirmed.
func DLQTopic(eventType string) string {
	if eventType == "" {
		return DLQPrefix
	}
	return DLQPrefix + "." + eventType
}

// toKafkaMessage конвертирует Message в kafka.Message.
func toKafkaMessage(msg *Message) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return kafka.Message{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
		Time:    msg.Time,
	}
}

// TraceIDFromContext извлекает trace_id из контекста.
func TraceIDFromContext(ctx context.Context) string {
	return logger.TraceIDFromContext(ctx)
}

// CorrelationIDFromContext извлекает correlation_id из контекста.
func CorrelationIDFromContext(ctx context.Context) string {
	return logger.CorrelationIDFromContext(ctx)
}

// EnsureTopics создаёт топики, если они не существуют.
// Ошибки "topic already exists" игнорируются брокером.
func EnsureTopics(brokers []string, topics []string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("не указаны брокеры Kafka")
	}

	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("ошибка подключения к Kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("ошибка получения контроллера Kafka: %w", err)
	}

	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("ошибка подключения к контроллеру Kafka: %w", err)
	}
	defer controllerConn.Close()

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, topic := range topics {
		configs = append(configs, kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     3,
			ReplicationFactor: 1,
		})
	}

	if err := controllerConn.CreateTopics(configs...); err != nil {
		return fmt.Errorf("ошибка создания топиков: %w", err)
	}

	logger.Info().Strs("topics", topics).Msg("Топики Kafka проверены")
	return nil
}

// DefaultTopics возвращает топики, создаваемые при старте движка.
func DefaultTopics() []string {
	return []string{TopicEvents}
}
