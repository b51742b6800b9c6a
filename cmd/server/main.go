package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/shopmart/internal/config"
	"github.com/example/shopmart/internal/database"
	"github.com/example/shopmart/internal/handlers"
	"github.com/example/shopmart/internal/logger"
	"github.com/example/shopmart/internal/ratelimit"
	"github.com/example/shopmart/internal/repository/postgres"
	"github.com/example/shopmart/internal/routes"
	"github.com/example/shopmart/internal/scheduler"
	"github.com/example/shopmart/internal/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	db, err := database.Connect(cfg.DatabaseURL, database.Options{
		LogSQL:       !cfg.IsProduction(),
		MaxOpenConns: 20,
		MaxIdleConns: 5,
		ConnMaxLife:  time.Hour,
	}, log)
	if err != nil {
		log.Fatal("connect database failed", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Warn("close database failed", zap.Error(err))
		}
	}()
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("database handle unavailable", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := services.NewMetrics(registry)

	users := postgres.NewUserRepository(db)
	otpService := services.NewOTPService(
		postgres.NewOTPRepository(db),
		services.OTPConfig{TTL: cfg.OTPTTL, Length: cfg.OTPLength},
		newMailer(cfg, log),
		log,
		metrics,
	)
	loyaltyService := services.NewLoyaltyService(
		postgres.NewLoyaltyRepository(db),
		services.LoyaltyConfig{
			RewardPercent: cfg.LoyaltyRewardPercent,
			RedeemStep:    cfg.LoyaltyRedeemStep,
			RedeemValue:   cfg.LoyaltyRedeemValue,
		},
		log,
		metrics,
	)
	couponService := services.NewCouponService(postgres.NewCouponRepository(db), log, metrics)
	checkoutService := services.NewCheckoutService(postgres.NewOrderRepository(db), couponService, loyaltyService, log)

	limiter, closeLimiter := newLimiter(cfg, log)
	defer closeLimiter()

	cronRunner := scheduler.New(scheduler.Deps{
		OTPCleanup:     otpService,
		OTPCleanupSpec: cfg.OTPCleanupSpec,
	}, log)
	cronRunner.Start()
	defer func() {
		stopCtx := cronRunner.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(2 * time.Second):
		}
	}()

	app := fiber.New(fiber.Config{
		AppName:      "ShopMart Backend",
		ErrorHandler: handlers.NewErrorHandler(log),
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())

	routes.Register(app, routes.Deps{
		Config:   cfg,
		Logger:   log,
		Users:    users,
		OTP:      otpService,
		Loyalty:  loyaltyService,
		Coupons:  couponService,
		Checkout: checkoutService,
		Limiter:  limiter,
		DB:       sqlDB,
		Gatherer: registry,
	})

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- app.Listen(":" + cfg.AppPort)
	}()

	log.Info("server started", zap.String("port", cfg.AppPort), zap.String("env", cfg.AppEnv))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErrCh:
		if err != nil {
			log.Error("server exited unexpectedly", zap.Error(err))
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("shutdown server failed", zap.Error(err))
	}
}

func newMailer(cfg *config.Config, log *zap.Logger) services.Mailer {
	if cfg.SMTPHost == "" {
		log.Warn("SMTP_HOST not set, one-time codes will only be logged")
		return services.NewLogMailer(log)
	}
	return services.NewSMTPMailer(services.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Pass:     cfg.SMTPPass,
		From:     cfg.MailFrom,
		FromName: cfg.MailFromName,
	})
}

// newLimiter prefers Redis so limits hold across instances. Without
// REDIS_URL, or when Redis is unreachable at boot, each process keeps its own
// buckets.
func newLimiter(cfg *config.Config, log *zap.Logger) (ratelimit.Limiter, func()) {
	rule := ratelimit.Rule{Limit: cfg.OTPRequestLimit, Window: cfg.OTPRequestWindow}
	noop := func() {}

	if cfg.RedisURL == "" {
		return ratelimit.NewMemoryLimiter(rule), noop
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Warn("invalid REDIS_URL, using in-memory otp throttle", zap.Error(err))
		return ratelimit.NewMemoryLimiter(rule), noop
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable, using in-memory otp throttle", zap.Error(err))
		_ = client.Close()
		return ratelimit.NewMemoryLimiter(rule), noop
	}

	return ratelimit.NewRedisLimiter(client, rule, "otp"), func() { _ = client.Close() }
}
