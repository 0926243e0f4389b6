package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lyb88999/gns/internal/api"
	"github.com/lyb88999/gns/internal/api/handler"
	apimw "github.com/lyb88999/gns/internal/api/middleware"
	"github.com/lyb88999/gns/internal/config"
	"github.com/lyb88999/gns/internal/db"
	"github.com/lyb88999/gns/internal/domain"
	"github.com/lyb88999/gns/internal/metrics"
	"github.com/lyb88999/gns/internal/provider"
	"github.com/lyb88999/gns/internal/queue"
	"github.com/lyb88999/gns/internal/quota"
	"github.com/lyb88999/gns/internal/ratelimiter"
	"github.com/lyb88999/gns/internal/registry"
	"github.com/lyb88999/gns/internal/repository"
	"github.com/lyb88999/gns/internal/service"
	"github.com/lyb88999/gns/internal/status"
	"github.com/lyb88999/gns/internal/worker"
)

func main() {
	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("invalid log level", zap.String("log_level", cfg.LogLevel), zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()
	health := handler.NewHealthHandler()

	// ---- storage ----
	var (
		taskRepo  repository.TaskRepository
		jobRepo   repository.JobRepository
		tokenRepo repository.TokenRepository
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		logger.Info("database migrations applied")

		taskRepo = repository.NewPgTaskRepository(pool)
		jobRepo = repository.NewPgJobRepository(pool)
		tokenRepo = repository.NewPgTokenRepository(pool)
		health.AddCheck("postgres", pool.Ping)
	} else {
		logger.Warn("DATABASE_URL not set, state is kept in memory and lost on restart")
		taskRepo = repository.NewMemoryTaskRepository()
		jobRepo = repository.NewMemoryJobRepository()
		tokenRepo = repository.NewMemoryTokenRepository()
	}

	var counter quota.Counter = quota.NewMemoryCounter()
	if cfg.RedisURL != "" {
		rdb, err := quota.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		counter = quota.NewRedisCounter(rdb)
		health.AddCheck("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	// ---- core dependencies ----
	promReg := prometheus.NewRegistry()
	var m *metrics.Metrics
	q := queue.New(
		queue.WithCapacity(cfg.QueueCapacity),
		queue.WithAgingThreshold(cfg.AgingThreshold),
		queue.WithPromotionHook(func(from, to domain.Priority) { m.OnPromotion(from, to) }),
	)
	m = metrics.New(promReg, q.Depths)

	reg := registry.New(taskRepo, logger.Named("registry"))
	if err := reg.Warm(ctx); err != nil {
		logger.Fatal("failed to load tasks", zap.Error(err))
	}
	store := status.NewStore(jobRepo)
	quotas := quota.NewLimiter(counter, cfg.Location(), logger.Named("quota"))

	svc := service.NewNotificationService(reg, store, q, quotas, service.Config{
		MaxAttempts: cfg.MaxAttempts,
		MaxWait:     cfg.MaxWait,
	}, logger.Named("service"))
	svc.OnSubmitted(func(p domain.Priority) { m.JobsSubmitted.WithLabelValues(string(p)).Inc() })
	svc.OnRejected(func(err error) {
		_, code := handler.ClassifyError(err)
		m.JobsRejected.WithLabelValues(code).Inc()
	})

	gateway := buildGateway(cfg, logger.Named("gateway"))

	// ---- workers ----
	// Context for all background goroutines; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	reaper := worker.NewReaper(store, q, worker.ReaperConfig{
		Interval:       cfg.ReaperInterval,
		StaleThreshold: cfg.StaleThreshold,
		MaxAttempts:    cfg.MaxAttempts,
	}, logger.Named("reaper"))
	if _, err := reaper.Recover(ctx); err != nil {
		logger.Error("failed to recover unfinished jobs", zap.Error(err))
	}

	workers := worker.NewPool(cfg.Workers, worker.Deps{
		Queue:    q,
		Store:    store,
		Registry: reg,
		Gateway:  gateway,
		Limiter:  ratelimiter.New(cfg.ChannelRateLimit),
		Backoff: worker.Backoff{
			Initial:    cfg.RetryBaseDelay,
			Max:        cfg.RetryMaxDelay,
			Multiplier: 2,
			Jitter:     0.1,
		},
		Logger: logger.Named("worker"),
		Hooks:  m.WorkerHooks(),
	})
	workers.Start(workerCtx)

	retryW := worker.NewRetryWorker(store, q, cfg.RetryInterval, logger.Named("retry"))
	go retryW.Run(workerCtx)

	go reaper.Run(workerCtx)

	schedulerW := worker.NewSchedulerWorker(reg, svc, cfg.Location(), logger.Named("scheduler"))
	schedulerDone := make(chan struct{})
	go func() {
		schedulerW.Run(workerCtx)
		close(schedulerDone)
	}()

	// ---- HTTP server ----
	if len(cfg.APITokens) == 0 {
		logger.Warn("no GNS_API_TOKENS configured, only tokens stored in the database are accepted")
	}
	router := api.NewRouter(api.Deps{
		Service:   svc,
		Registry:  reg,
		Queue:     q,
		Workers:   workers.Size(),
		Auth:      apimw.NewAuthenticator(cfg.APITokens, tokenRepo, logger.Named("auth")),
		RateLimit: ratelimiter.NewKeyed(cfg.APIRateLimit, cfg.APIRateBurst, 10*time.Minute),
		Health:    health,
		Gatherer:  promReg,
		Logger:    logger.Named("http"),
	})
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.Int("workers", workers.Size()),
			zap.Bool("postgres", cfg.DatabaseURL != ""),
			zap.Bool("redis", cfg.RedisURL != ""),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Signal all workers to stop taking new queue items.
	cancelWorkers()

	// 3. Wait for in-flight deliveries and cron submissions to finish.
	workers.Wait()
	<-schedulerDone

	logger.Info("server stopped cleanly", zap.Int("queued_jobs_left", q.Len()))
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(strings.ToLower(level))
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if lvl.Level() == zap.DebugLevel {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = lvl
	return zcfg.Build()
}

// buildGateway registers a deliverer for every channel that has credentials.
// With SandboxChannels, unconfigured channels record messages in memory
// instead of failing.
func buildGateway(cfg *config.Config, logger *zap.Logger) *provider.Gateway {
	g := provider.NewGateway(cfg.DeliveryTimeout, logger)
	g.Register(domain.ChannelWebhook, provider.NewWebhookDeliverer(cfg.DeliveryTimeout))

	if cfg.SMSGatewayURL != "" {
		g.Register(domain.ChannelSMS, provider.NewSMSDeliverer(cfg.SMSGatewayURL, cfg.SMSAPIKey, cfg.DeliveryTimeout))
	} else if cfg.SandboxChannels {
		g.Register(domain.ChannelSMS, provider.NewMemoryDeliverer())
		logger.Warn("sms channel runs in sandbox mode")
	}

	email, err := provider.NewEmailDeliverer(provider.EmailConfig{
		ServerToken:  cfg.PostmarkServerToken,
		AccountToken: cfg.PostmarkAccountToken,
		From:         cfg.EmailFrom,
		Subject:      cfg.EmailSubject,
	})
	switch {
	case err == nil:
		g.Register(domain.ChannelEmail, email)
	case cfg.SandboxChannels:
		g.Register(domain.ChannelEmail, provider.NewMemoryDeliverer())
		logger.Warn("email channel runs in sandbox mode")
	default:
		logger.Info("email channel disabled", zap.Error(err))
	}

	channels := make([]string, 0, 3)
	for _, ch := range g.Channels() {
		channels = append(channels, string(ch))
	}
	logger.Info("delivery channels ready", zap.Strings("channels", channels))
	return g
}
