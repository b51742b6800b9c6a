// Command otp-cleanup deletes expired one-time codes once and exits. It is
// meant for an external scheduler when the in-process cron is disabled.
package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/example/shopmart/internal/config"
	"github.com/example/shopmart/internal/database"
	"github.com/example/shopmart/internal/logger"
	"github.com/example/shopmart/internal/repository/postgres"
	"github.com/example/shopmart/internal/services"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	db, err := database.Connect(cfg.DatabaseURL, database.Options{MaxOpenConns: 2}, log)
	if err != nil {
		log.Error("connect database failed", zap.Error(err))
		os.Exit(1)
	}
	defer func() { _ = database.Close(db) }()

	otpService := services.NewOTPService(
		postgres.NewOTPRepository(db),
		services.OTPConfig{TTL: cfg.OTPTTL, Length: cfg.OTPLength},
		nil,
		log,
		nil,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// CleanupExpired logs the count. A failed sweep is retried on the next run.
	if _, err := otpService.CleanupExpired(ctx); err != nil {
		log.Error("otp cleanup failed", zap.Error(err))
	}
}
