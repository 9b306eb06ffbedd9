// FluxPay Engine — движок платежей и биллинга.
// REST API поверх саги заказ+платёж, транзакционный outbox с публикацией
// в Kafka, доставка вебхуков подписчикам и фоновые воркеры возвратов.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/fluxpay/internal/handler"
	"example.com/fluxpay/internal/idempotency"
	"example.com/fluxpay/internal/outbox"
	"example.com/fluxpay/internal/pgclient"
	"example.com/fluxpay/internal/repository"
	"example.com/fluxpay/internal/saga"
	"example.com/fluxpay/internal/service"
	"example.com/fluxpay/internal/webhook"
	"example.com/fluxpay/pkg/config"
	"example.com/fluxpay/pkg/db"
	"example.com/fluxpay/pkg/healthcheck"
	"example.com/fluxpay/pkg/kafka"
	"example.com/fluxpay/pkg/logger"
	"example.com/fluxpay/pkg/metrics"
	"example.com/fluxpay/pkg/tracing"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Инициализируем логгер
	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: cfg.App.LogPretty,
	})

	log := logger.With().Str("service", cfg.App.Name).Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Int("port", cfg.HTTP.Port).
		Msg("Запуск FluxPay Engine")

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Трассировка (опционально)
	if cfg.Jaeger.Enabled {
		shutdownTracer, err := tracing.InitTracer(ctx, cfg.App.Name, cfg.Jaeger.OTLPEndpoint())
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка инициализации трассировки")
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := shutdownTracer(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Ошибка остановки трассировки")
			}
		}()
		log.Info().Str("endpoint", cfg.Jaeger.OTLPEndpoint()).Msg("Трассировка включена")
	}

	// Подключаемся к PostgreSQL
	gormDB, err := db.ConnectPostgres(cfg.Postgres, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к PostgreSQL")
	}
	log.Info().Msg("Подключение к PostgreSQL установлено")

	// Подключаемся к Redis
	redisClient := db.ConnectRedis(cfg.Redis)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к Redis")
	}
	log.Info().Msg("Подключение к Redis установлено")

	// Создаём топики Kafka и producer
	if err := kafka.EnsureTopics(cfg.Kafka.Brokers, kafka.DefaultTopics()); err != nil {
		log.Fatal().Err(err).Msg("Ошибка создания топиков Kafka")
	}

	producer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка создания Kafka producer")
	}

	// Репозитории и транзакционный менеджер
	txManager := repository.NewTxManager(gormDB)
	orderRepo := repository.NewOrderRepository(gormDB)
	paymentRepo := repository.NewPaymentRepository(gormDB)
	refundRepo := repository.NewRefundRepository(gormDB)

	// Outbox: writer пишет события в транзакциях сервисов,
	// publisher доставляет их в Kafka и ставит вебхук-доставки
	outboxWriter := outbox.NewWriter(gormDB)
	outboxRepo := outbox.NewRepository(gormDB)

	deliveryRepo := webhook.NewDeliveryRepository(gormDB)
	subscriptionRepo := webhook.NewSubscriptionRepository(gormDB)
	enqueuer := webhook.NewEnqueuer(deliveryRepo, subscriptionRepo, cfg.Webhook.MaxRetries)

	publisher := outbox.NewPublisher(outboxRepo, producer, enqueuer, outbox.PublisherConfig{
		PollInterval:  cfg.Outbox.PollInterval,
		BatchSize:     cfg.Outbox.BatchSize,
		MaxRetries:    cfg.Outbox.MaxRetries,
		ClaimTimeout:  cfg.Outbox.ClaimTimeout,
		RetentionDays: cfg.Outbox.RetentionDays,
	})

	// Платёжный шлюз
	var gateway pgclient.Client
	if cfg.PG.Mock {
		gateway = pgclient.NewMockClient()
		log.Warn().Msg("Платёжный шлюз работает в mock режиме")
	} else {
		gateway = pgclient.NewHTTPClient(pgclient.Config{
			BaseURL:   cfg.PG.BaseURL,
			SecretKey: cfg.PG.SecretKey,
			Timeout:   cfg.PG.Timeout,
		})
	}

	// Бизнес-сервисы
	orderService := service.NewOrderService(txManager, orderRepo, outboxWriter)
	paymentService := service.NewPaymentService(txManager, paymentRepo, orderRepo, outboxWriter, gateway)
	refundService := service.NewRefundService(txManager, refundRepo, paymentRepo, outboxWriter, service.RefundPolicy{
		PeriodDays:        cfg.Refund.PeriodDays,
		MaxPartialRefunds: cfg.Refund.MaxPartialRefunds,
	})
	subscriptionService := webhook.NewSubscriptionService(subscriptionRepo)

	// Сага заказ+платёж и её recovery
	sagaRepo := saga.NewRepository(gormDB)
	sagaRegistry := saga.NewRegistry()
	if err := service.RegisterPaymentSaga(sagaRegistry, orderService, paymentService); err != nil {
		log.Fatal().Err(err).Msg("Ошибка регистрации платёжной саги")
	}

	orchestrator := saga.NewOrchestrator(sagaRepo, sagaRegistry, saga.Config{
		Timeout:                cfg.Saga.Timeout,
		StepTimeout:            cfg.Saga.StepTimeout,
		CompensationMaxRetries: cfg.Saga.CompensationRetries,
		CompensationRetryDelay: cfg.Saga.CompensationDelay,
		LeaseDuration:          cfg.Saga.LeaseDuration,
	})

	recoveryWorker := saga.NewRecoveryWorker(sagaRepo, orchestrator, saga.RecoveryConfig{
		PollInterval:   cfg.Saga.RecoveryInterval,
		StuckThreshold: cfg.Saga.RecoveryStuckAfter,
		LeaseDuration:  cfg.Saga.LeaseDuration,
	})

	// Идемпотентность: Redis кеш + Postgres как источник истины
	idempotencyStore := idempotency.NewPostgresStore(gormDB)
	guard := idempotency.NewGuard(idempotency.NewRedisCache(redisClient), idempotencyStore, cfg.Idempotency.TTL)
	sweeper := idempotency.NewSweeper(idempotencyStore, cfg.Idempotency.SweepInterval)

	// Доставка вебхуков
	deliverer := webhook.NewDeliverer(deliveryRepo, subscriptionRepo, webhook.DelivererConfig{
		BaseBackoff: cfg.Webhook.BaseBackoff,
		MaxBackoff:  cfg.Webhook.MaxBackoff,
		HTTPTimeout: cfg.Webhook.HTTPTimeout,
	})
	webhookScheduler := webhook.NewScheduler(deliveryRepo, deliverer, webhook.SchedulerConfig{
		PollInterval: cfg.Webhook.PollInterval,
		Workers:      cfg.Webhook.Workers,
	})

	// Фоновые воркеры платежей и возвратов
	refundProcessor := service.NewRefundProcessor(txManager, refundRepo, paymentRepo, outboxWriter, gateway, service.RefundProcessorConfig{
		Interval: cfg.Refund.ProcessInterval,
	})
	paymentWatchdog := service.NewPaymentWatchdog(txManager, paymentRepo, outboxWriter, service.PaymentWatchdogConfig{})

	// Проверка готовности для /readyz
	readiness := healthcheck.Composite(
		func(ctx context.Context) error { return healthcheck.CheckPostgres(ctx, gormDB) },
		func(ctx context.Context) error { return healthcheck.CheckRedis(ctx, redisClient) },
	)

	// HTTP слой
	router := handler.NewRouter(handler.RouterConfig{
		AppName:        cfg.App.Name,
		Orders:         handler.NewOrderHandler(orderService, paymentService, orchestrator),
		Payments:       handler.NewPaymentHandler(paymentService),
		Refunds:        handler.NewRefundHandler(refundService),
		Webhooks:       handler.NewWebhookHandler(subscriptionService),
		Guard:          guard,
		EnforceTenant:  cfg.Tenant.Enabled,
		ReadinessCheck: readiness,
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	// Metrics сервер (опционально)
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port, metrics.WithReadinessCheck(readiness))
		go func() {
			log.Info().Int("port", cfg.Metrics.Port).Msg("Metrics сервер запущен")
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Ошибка Metrics сервера")
			}
		}()
	}

	// Запускаем фоновые воркеры
	var wg sync.WaitGroup
	runWorker := func(name string, run func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
			log.Info().Str("worker", name).Msg("Воркер остановлен")
		}()
	}

	runWorker("outbox-publisher", publisher.Run)
	runWorker("saga-recovery", recoveryWorker.Run)
	runWorker("idempotency-sweeper", sweeper.Run)
	runWorker("webhook-scheduler", webhookScheduler.Run)
	runWorker("refund-processor", refundProcessor.Run)
	runWorker("payment-watchdog", paymentWatchdog.Run)

	// Запускаем HTTP сервер
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP сервер запущен")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Ошибка HTTP сервера")
		}
	}()

	// Ожидаем сигнал завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем движок...")

	// Останавливаем приём запросов, затем воркеры
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки HTTP сервера")
	}

	cancel()
	wg.Wait()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Metrics сервера")
		}
	}

	if err := producer.Close(); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия Kafka producer")
	}

	if err := redisClient.Close(); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия Redis")
	}

	if sqlDB, err := gormDB.DB(); err == nil && sqlDB != nil {
		if err := sqlDB.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия PostgreSQL")
		}
	}

	log.Info().Msg("FluxPay Engine остановлен")
}
