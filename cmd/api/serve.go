package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rinha-payment-gateway/internal/breaker"
	"rinha-payment-gateway/internal/cache"
	"rinha-payment-gateway/internal/clock"
	"rinha-payment-gateway/internal/config"
	"rinha-payment-gateway/internal/domain"
	"rinha-payment-gateway/internal/events"
	"rinha-payment-gateway/internal/gateway"
	"rinha-payment-gateway/internal/handler"
	"rinha-payment-gateway/internal/payment"
	"rinha-payment-gateway/internal/queue"
	"rinha-payment-gateway/internal/repository"
	"rinha-payment-gateway/internal/usecase"
	"rinha-payment-gateway/internal/worker"
)

const (
	shutdownTimeout = 10 * time.Second
	drainTimeout    = 15 * time.Second
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Sobe a API, os workers e o monitor de saúde",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()
			return serve(cfg, log)
		},
	}
}

func serve(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.InstanceID == "" {
		host, _ := os.Hostname()
		cfg.InstanceID = host + "-" + uuid.NewString()[:8]
	}
	log = log.With(zap.String("instance", cfg.InstanceID))

	log.Info("iniciando gateway de pagamentos",
		zap.String("version", Version),
		zap.String("port", cfg.Port),
		zap.String("default", config.MaskPassword(cfg.DefaultProcessorURL)),
		zap.String("fallback", config.MaskPassword(cfg.FallbackProcessorURL)),
		zap.String("storage", cfg.Storage))

	clk := clock.System{}

	repo, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	var redisCache *cache.RedisCache
	if cfg.RedisURL != "" {
		log.Info("conectando ao redis", zap.String("redis", config.MaskPassword(cfg.RedisURL)))
		redisCache, err = cache.NewRedisCache(ctx, cfg.RedisURL, cfg.InstanceID, log.With(zap.String("component", "redis")))
		if err != nil {
			return err
		}
		defer redisCache.Close()
	}

	// registrado depois do Close do redis para parar as goroutines antes dele
	bg := newBackground()
	defer bg.Stop()

	summaryOpts := []cache.Option{
		cache.WithTTL(cfg.SummaryCacheTTL),
		cache.WithClock(clk),
		cache.WithLogger(log.With(zap.String("component", "summary_cache"))),
	}
	if redisCache != nil {
		summaryOpts = append(summaryOpts, cache.WithInvalidationBus(redisCache))
	}
	summary := cache.NewSummaryCache(repo, summaryOpts...)
	if redisCache != nil {
		bg.Go(summary.RunBroadcaster)
		bg.Go(func(ctx context.Context) {
			if err := redisCache.SubscribeInvalidations(ctx, summary.InvalidateLocal); err != nil && ctx.Err() == nil {
				log.Error("assinatura de invalidações encerrada", zap.Error(err))
			}
		})
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		if err := events.EnsureTopic(ctx, cfg.KafkaBrokers, cfg.KafkaTopic); err != nil {
			log.Warn("não foi possível garantir o tópico kafka", zap.String("topic", cfg.KafkaTopic), zap.Error(err))
		}
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log.With(zap.String("component", "kafka")))
	}
	defer publisher.Close()

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		RecoveryWindow:   cfg.BreakerRecoveryWindow,
	}, clk, log.With(zap.String("component", "circuit_breaker")))

	client := payment.NewClient(payment.Config{
		Processors: map[string]payment.ProcessorConfig{
			domain.ProcessorDefault:  {URL: cfg.DefaultProcessorURL, Timeout: cfg.DefaultTimeout},
			domain.ProcessorFallback: {URL: cfg.FallbackProcessorURL, Timeout: cfg.FallbackTimeout},
		},
		HealthTimeout: cfg.HealthTimeout,
		Token:         cfg.ProcessorToken,
	}, nil, log.With(zap.String("component", "payment_client")))

	uc := usecase.NewPaymentUseCase(client, repo, breakers, publisher, clk, log.With(zap.String("component", "routing")))

	q := queue.New(cfg.QueueCapacity, clk, log.With(zap.String("component", "queue")))

	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	pool := worker.NewPool(q, uc,
		worker.WithWorkers(cfg.WorkerCount),
		worker.WithClock(clk),
		worker.WithLogger(log.With(zap.String("component", "worker"))),
		worker.OnSuccess(func(domain.PaymentResult) { summary.Invalidate() }))
	pool.Start(workCtx)

	var store gateway.StatusStore
	if redisCache != nil {
		store = redisCache
	}
	monitor := gateway.NewHealthMonitor(client, store, cfg.HealthCheckInterval, clk, log.With(zap.String("component", "health_monitor")))
	monitor.Start(bg.ctx)
	defer monitor.Stop()

	bg.Go(summary.Warmup)

	gin.SetMode(gin.ReleaseMode)
	h := handler.New(q, summary, repo, breakers, monitor, cfg.EnqueueTimeout, log.With(zap.String("component", "http")))
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.NewRouter(h, log.With(zap.String("component", "http"))),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("servidor HTTP iniciado", zap.String("addr", srv.Addr), zap.Int("workers", pool.Workers()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("sinal de parada recebido, encerrando")
	case err := <-serverErr:
		if err != nil {
			log.Error("erro no servidor HTTP", zap.Error(err))
			cancelWork()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("erro ao encerrar servidor HTTP", zap.Error(err))
	}

	drain(q, pool, cancelWork, log)
	log.Info("gateway encerrado", zap.Any("queue", q.Metrics()))
	return nil
}

// drain fecha a fila e espera os workers esvaziarem; depois do prazo, cancela o processamento
func drain(q *queue.Queue, pool *worker.Pool, cancelWork context.CancelFunc, log *zap.Logger) {
	q.Close()

	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		log.Warn("prazo de drenagem esgotado, cancelando workers", zap.Int("pending", q.Len()))
		cancelWork()
		<-done
	}
}

func openRepository(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.PaymentRepository, func(), error) {
	if cfg.Storage == config.StorageMemory {
		log.Warn("usando armazenamento em memória, os pagamentos não sobrevivem a reinícios")
		return repository.NewMemoryPaymentRepository(), func() {}, nil
	}

	if err := repository.Migrate(cfg.DatabaseURL, log); err != nil {
		return nil, nil, err
	}
	db, err := repository.OpenDatabase(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return nil, nil, err
	}
	log.Info("banco de dados conectado", zap.String("database", config.MaskPassword(cfg.DatabaseURL)))

	closeDB := func() {
		if err := db.Close(); err != nil {
			log.Warn("erro ao fechar banco", zap.Error(err))
		}
	}
	return repository.NewPostgresPaymentRepository(db, log.With(zap.String("component", "repository"))), closeDB, nil
}
