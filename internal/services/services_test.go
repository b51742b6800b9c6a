package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/example/shopmart/internal/models"
	"github.com/example/shopmart/internal/repository/memory"
)

// fakeClock is a settable time source shared by services under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingMailer keeps every message it was asked to send.
type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

type sentMail struct {
	To, Subject, Body string
}

func (m *recordingMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *recordingMailer) Last() (sentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMail{}, false
	}
	return m.sent[len(m.sent)-1], true
}

type testEnv struct {
	store    *memory.Store
	clock    *fakeClock
	metrics  *Metrics
	registry *prometheus.Registry
	mailer   *recordingMailer
	otp      *OTPService
	loyalty  *LoyaltyService
	coupons  *CouponService
	checkout *CheckoutService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := newFakeClock()
	store := memory.NewStore().WithClock(clock.Now)
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	logger := zaptest.NewLogger(t)
	mailer := &recordingMailer{}

	otp := NewOTPService(store.OTPCodes(), OTPConfig{TTL: 5 * time.Minute, Length: 6}, mailer, logger, metrics)
	otp.WithClock(clock.Now)

	loyalty := NewLoyaltyService(store.Loyalty(), DefaultLoyaltyConfig(), logger, metrics)
	coupons := NewCouponService(store.Coupons(), logger, metrics)
	checkout := NewCheckoutService(store.Orders(), coupons, loyalty, logger)
	checkout.WithClock(clock.Now)

	return &testEnv{
		store:    store,
		clock:    clock,
		metrics:  metrics,
		registry: registry,
		mailer:   mailer,
		otp:      otp,
		loyalty:  loyalty,
		coupons:  coupons,
		checkout: checkout,
	}
}

// seedOrder stores a pending order with the given total for userID.
func (e *testEnv) seedOrder(t *testing.T, userID uuid.UUID, total string) *models.Order {
	t.Helper()

	amount := decimal.RequireFromString(total)
	order := &models.Order{
		UserID:      userID,
		OrderNumber: "T-" + uuid.NewString()[:8],
		Status:      models.OrderStatusPending,
		PlacedAt:    e.clock.Now(),
		Subtotal:    amount,
		TotalAmount: amount,
		Currency:    "USD",
	}
	if err := e.store.Orders().Create(context.Background(), order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

// seedPoints credits userID through the adjustment path.
func (e *testEnv) seedPoints(t *testing.T, userID uuid.UUID, points int64) {
	t.Helper()

	if _, err := e.loyalty.AdjustPoints(context.Background(), userID, points, "seed"); err != nil {
		t.Fatalf("seed points: %v", err)
	}
}

func (e *testEnv) seedCoupon(t *testing.T, in CouponInput) *models.Coupon {
	t.Helper()

	coupon, err := e.coupons.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("seed coupon: %v", err)
	}
	return coupon
}

func intPtr(v int) *int { return &v }

func timePtr(v time.Time) *time.Time { return &v }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
