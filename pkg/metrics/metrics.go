package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/fluxpay/pkg/logger"
)

// ============================================================
// Метрики Prometheus
// ============================================================

var (
	// HTTPRequestsTotal — счётчик HTTP запросов.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxpay_http_requests_total",
			Help: "Общее количество HTTP запросов",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration — длительность HTTP запросов.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fluxpay_http_request_duration_seconds",
			Help:    "Длительность HTTP запросов в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// PaymentsTotal — счётчик платежей по статусам.
	PaymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxpay_payments_total",
			Help: "Общее количество платежей по статусам",
		},
		[]string{"status"},
	)

	// RefundsTotal — счётчик возвратов по статусам.
	RefundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxpay_refunds_total",
			Help: "Общее количество возвратов по статусам",
		},
		[]string{"status"},
	)

	// SagaTotal — счётчик саг по итоговым статусам.
	SagaTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxpay_saga_total",
			Help: "Общее количество саг по итоговым статусам",
		},
		[]string{"name", "status"},
	)

	// SagaDuration — длительность выполнения саг.
	SagaDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fluxpay_saga_duration_seconds",
			Help:    "Длительность выполнения саг в секундах",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"name"},
	)

	// SagaCompensationsTotal — счётчик компенсаций по шагам.
	SagaCompensationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxpay_saga_compensations_total",
			Help: "Общее количество компенсаций по шагам саги",
		},
		[]string{"name", "step"},
	)

	// OutboxPublishedTotal — счётчик опубликованных событий outbox.
	OutboxPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxpay_outbox_published_total",
			Help: "Общее количество событий outbox по результату публикации",
		},
		[]string{"result"},
	)

	// OutboxPendingGauge — количество событий outbox в ожидании.
	OutboxPendingGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fluxpay_outbox_pending",
			Help: "Текущее количество неопубликованных событий outbox",
		},
	)

	// OutboxPublishDuration — длительность публикации батча outbox.
	OutboxPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fluxpay_outbox_publish_duration_seconds",
			Help:    "Длительность публикации батча outbox в секундах",
			Buckets: prometheus.DefBuckets,
		},
	)

	// IdempotencyChecksTotal — счётчик проверок идемпотентности по исходам.
	IdempotencyChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxpay_idempotency_checks_total",
			Help: "Общее количество проверок идемпотентности по исходам",
		},
		[]string{"outcome"},
	)

	// WebhookDeliveriesTotal — счётчик доставок вебхуков.
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxpay_webhook_deliveries_total",
			Help: "Общее количество доставок вебхуков по результату",
		},
		[]string{"result"},
	)

	// WebhookDeliveryDuration — длительность доставки вебхука.
	WebhookDeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fluxpay_webhook_delivery_duration_seconds",
			Help:    "Длительность HTTP доставки вебхука в секундах",
			Buckets: prometheus.DefBuckets,
		},
	)

	// KafkaMessagesProduced — счётчик отправленных сообщений Kafka.
	KafkaMessagesProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxpay_kafka_messages_produced_total",
			Help: "Общее количество отправленных сообщений Kafka",
		},
		[]string{"topic"},
	)

	// PGRequestsTotal — счётчик обращений к платёжному шлюзу.
	PGRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxpay_pg_requests_total",
			Help: "Общее количество обращений к платёжному шлюзу",
		},
		[]string{"operation", "result"},
	)

	// CircuitBreakerState — состояние circuit breaker (0=closed, 1=half-open, 2=open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fluxpay_circuit_breaker_state",
			Help: "Состояние circuit breaker: 0=closed, 1=half-open, 2=open",
		},
		[]string{"name"},
	)
)

// ============================================================
// HTTP сервер метрик
// ============================================================

// Server — HTTP сервер для экспорта метрик Prometheus.
type Server struct {
	server         *http.Server
	port           int
	readinessCheck func(ctx context.Context) error
}

// Option — опция конфигурации Server.
type Option func(*Server)

// WithReadinessCheck задаёт проверку готовности для /readyz.
func WithReadinessCheck(check func(ctx context.Context) error) Option {
	return func(s *Server) {
		s.readinessCheck = check
	}
}

// NewServer создаёт сервер метрик на указанном порту.
func NewServer(port int, opts ...Option) *Server {
	s := &Server{port: port}

	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReadiness)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Start запускает сервер метрик. Блокирует выполнение.
func (s *Server) Start() error {
	logger.Info().
		Int("port", s.port).
		Msg("Запуск сервера метрик")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ошибка сервера метрик: %w", err)
	}

	return nil
}

// Shutdown останавливает сервер метрик.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info().Msg("Остановка сервера метрик")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.readinessCheck == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.readinessCheck(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not ready"}`))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// ============================================================
// Gin middleware
// ============================================================

// GinMetricsMiddleware собирает метрики HTTP запросов для Gin.
func GinMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
