package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoad_ReadsEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("OTP_TTL_MINUTES", "10")
	t.Setenv("OTP_REQUEST_LIMIT", "2")
	t.Setenv("LOYALTY_REWARD_PERCENT", "7.5")
	t.Setenv("LOYALTY_REDEEM_VALUE", "not-a-number")
	t.Setenv("ADMIN_EMAILS", " Boss@ShopMart.test, ,ops@shopmart.test")

	cfg := Load()

	if cfg.AppPort != "9090" || cfg.JWTSecret != "s3cret" {
		t.Fatalf("unexpected basics: %+v", cfg)
	}
	if cfg.OTPTTL != 10*time.Minute {
		t.Fatalf("expected 10m OTP TTL, got %s", cfg.OTPTTL)
	}
	if cfg.OTPLength != 6 || cfg.OTPRequestLimit != 2 || cfg.OTPRequestWindow != 15*time.Minute {
		t.Fatalf("unexpected otp settings: length=%d limit=%d window=%s", cfg.OTPLength, cfg.OTPRequestLimit, cfg.OTPRequestWindow)
	}
	if !cfg.LoyaltyRewardPercent.Equal(decimal.RequireFromString("7.5")) {
		t.Fatalf("expected reward percent 7.5, got %s", cfg.LoyaltyRewardPercent)
	}
	if !cfg.LoyaltyRedeemValue.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected invalid redeem value to fall back to 1.00, got %s", cfg.LoyaltyRedeemValue)
	}
	if len(cfg.AdminEmails) != 2 {
		t.Fatalf("expected 2 admin emails, got %v", cfg.AdminEmails)
	}
	if !cfg.IsAdminEmail("boss@shopmart.test") || !cfg.IsAdminEmail(" OPS@shopmart.test ") {
		t.Fatalf("expected admin emails to match case-insensitively")
	}
	if cfg.IsAdminEmail("customer@shopmart.test") {
		t.Fatalf("expected non-listed email not to be admin")
	}
	if cfg.IsProduction() {
		t.Fatalf("expected development environment by default")
	}
}
