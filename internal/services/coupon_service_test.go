package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/example/shopmart/internal/models"
)

func TestCheckCoupon_RuleOrder(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	base := func() models.Coupon {
		return models.Coupon{
			Code:            "SPRING",
			DiscountPercent: 10,
			MinOrderAmount:  dec("50"),
			IsActive:        true,
		}
	}

	cases := []struct {
		name     string
		mutate   func(c *models.Coupon)
		subtotal string
		want     error
	}{
		{"valid", func(c *models.Coupon) {}, "60", nil},
		{"inactive beats everything", func(c *models.Coupon) {
			c.IsActive = false
			c.StartsAt = &future
			c.UsageLimit = intPtr(1)
			c.UsedCount = 1
		}, "10", ErrCouponInactive},
		{"not yet valid", func(c *models.Coupon) { c.StartsAt = &future }, "60", ErrCouponNotYetValid},
		{"not yet valid beats minimum", func(c *models.Coupon) { c.StartsAt = &future }, "10", ErrCouponNotYetValid},
		{"expired", func(c *models.Coupon) { c.EndsAt = &past }, "60", ErrCouponExpired},
		{"ends_at inclusive", func(c *models.Coupon) { c.EndsAt = timePtr(now) }, "60", nil},
		{"starts_at inclusive", func(c *models.Coupon) { c.StartsAt = timePtr(now) }, "60", nil},
		{"exhausted", func(c *models.Coupon) {
			c.UsageLimit = intPtr(3)
			c.UsedCount = 3
		}, "60", ErrCouponExhausted},
		{"exhausted beats minimum", func(c *models.Coupon) {
			c.UsageLimit = intPtr(1)
			c.UsedCount = 1
		}, "10", ErrCouponExhausted},
		{"unlimited", func(c *models.Coupon) { c.UsedCount = 10000 }, "60", nil},
		{"below minimum", func(c *models.Coupon) {}, "49.99", ErrOrderBelowMinimum},
		{"minimum inclusive", func(c *models.Coupon) {}, "50", nil},
	}

	for _, tc := range cases {
		coupon := base()
		tc.mutate(&coupon)
		err := CheckCoupon(&coupon, dec(tc.subtotal), now)
		if tc.want == nil && err != nil {
			t.Fatalf("%s: expected valid coupon, got %v", tc.name, err)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestDiscountFor_RoundsToCents(t *testing.T) {
	cases := []struct {
		subtotal string
		percent  int
		want     string
	}{
		{"100", 10, "10"},
		{"33.33", 15, "5"},
		{"19.99", 7, "1.4"},
		{"80", 100, "80"},
		{"0", 10, "0"},
	}
	for _, tc := range cases {
		if got := DiscountFor(dec(tc.subtotal), tc.percent); !got.Equal(dec(tc.want)) {
			t.Fatalf("DiscountFor(%s, %d) = %s, want %s", tc.subtotal, tc.percent, got, tc.want)
		}
	}
}

func TestValidate_LooksUpCaseInsensitively(t *testing.T) {
	env := newTestEnv(t)
	env.seedCoupon(t, CouponInput{Code: "save10", DiscountPercent: 10, MinOrderAmount: dec("0"), IsActive: true})

	quote, err := env.coupons.Validate(context.Background(), "  Save10 ", dec("120"), env.clock.Now())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if quote.Coupon.Code != "SAVE10" || quote.DiscountPercent != 10 || !quote.DiscountAmount.Equal(dec("12")) {
		t.Fatalf("unexpected quote %+v", quote)
	}
}

func TestValidate_NotFound(t *testing.T) {
	env := newTestEnv(t)

	for _, code := range []string{"", "   ", "MISSING"} {
		if _, err := env.coupons.Validate(context.Background(), code, dec("10"), env.clock.Now()); !errors.Is(err, ErrCouponNotFound) {
			t.Fatalf("Validate(%q): expected ErrCouponNotFound, got %v", code, err)
		}
	}
}

func TestValidate_DoesNotConsumeUsage(t *testing.T) {
	env := newTestEnv(t)
	coupon := env.seedCoupon(t, CouponInput{Code: "ONCE", DiscountPercent: 5, MinOrderAmount: dec("0"), IsActive: true, UsageLimit: intPtr(1)})

	for i := 0; i < 3; i++ {
		if _, err := env.coupons.Validate(context.Background(), "ONCE", dec("10"), env.clock.Now()); err != nil {
			t.Fatalf("Validate #%d: %v", i+1, err)
		}
	}

	stored, err := env.coupons.Get(context.Background(), coupon.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.UsedCount != 0 {
		t.Fatalf("expected used_count 0 after validation only, got %d", stored.UsedCount)
	}
}

func TestApplyToOrder_IncrementsAndStamps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	coupon := env.seedCoupon(t, CouponInput{Code: "TWENTY", DiscountPercent: 20, MinOrderAmount: dec("10"), IsActive: true, UsageLimit: intPtr(5)})
	order := env.seedOrder(t, uuid.New(), "75.00")

	quote, err := env.coupons.ApplyToOrder(ctx, coupon.ID, order.ID, order.Subtotal)
	if err != nil {
		t.Fatalf("ApplyToOrder: %v", err)
	}
	if quote.Coupon.UsedCount != 1 || !quote.DiscountAmount.Equal(dec("15")) {
		t.Fatalf("unexpected quote %+v", quote)
	}

	stored, err := env.store.Orders().FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.CouponID == nil || *stored.CouponID != coupon.ID {
		t.Fatalf("expected order to reference the coupon")
	}
	if stored.CouponDiscountPercent != 20 || !stored.CouponDiscountAmount.Equal(dec("15")) {
		t.Fatalf("unexpected coupon stamp %d / %s", stored.CouponDiscountPercent, stored.CouponDiscountAmount)
	}

	if _, err := env.coupons.ApplyToOrder(ctx, coupon.ID, order.ID, order.Subtotal); !errors.Is(err, ErrCouponApplied) {
		t.Fatalf("expected ErrCouponApplied on second application, got %v", err)
	}
	again, err := env.coupons.Get(ctx, coupon.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again.UsedCount != 1 {
		t.Fatalf("expected used_count to stay at 1, got %d", again.UsedCount)
	}
}

func TestApplyToOrder_RevalidatesUnderLock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	coupon := env.seedCoupon(t, CouponInput{
		Code:            "SHORT",
		DiscountPercent: 10,
		MinOrderAmount:  dec("0"),
		IsActive:        true,
		EndsAt:          timePtr(env.clock.Now().Add(time.Hour)),
	})
	order := env.seedOrder(t, uuid.New(), "40.00")

	env.clock.Advance(2 * time.Hour)
	if _, err := env.coupons.ApplyToOrder(ctx, coupon.ID, order.ID, order.Subtotal); !errors.Is(err, ErrCouponExpired) {
		t.Fatalf("expected ErrCouponExpired, got %v", err)
	}

	stored, err := env.store.Orders().FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.CouponID != nil {
		t.Fatalf("expected failed application to leave the order untouched")
	}
}

func TestApplyToOrder_LastRedemptionRace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	coupon := env.seedCoupon(t, CouponInput{Code: "LAST1", DiscountPercent: 50, MinOrderAmount: dec("0"), IsActive: true, UsageLimit: intPtr(1)})

	first := env.seedOrder(t, uuid.New(), "30.00")
	second := env.seedOrder(t, uuid.New(), "30.00")

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, order := range []*models.Order{first, second} {
		wg.Add(1)
		go func(order *models.Order) {
			defer wg.Done()
			_, err := env.coupons.ApplyToOrder(ctx, coupon.ID, order.ID, order.Subtotal)
			results <- err
		}(order)
	}
	wg.Wait()
	close(results)

	successes, exhausted := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrCouponExhausted):
			exhausted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || exhausted != 1 {
		t.Fatalf("expected one success and one ErrCouponExhausted, got %d/%d", successes, exhausted)
	}

	stored, err := env.coupons.Get(ctx, coupon.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.UsedCount != 1 {
		t.Fatalf("expected used_count 1, got %d", stored.UsedCount)
	}

	if got := testutil.ToFloat64(env.metrics.CouponRedemptions.WithLabelValues("applied")); got != 1 {
		t.Fatalf("expected 1 applied redemption metric, got %v", got)
	}
	if got := testutil.ToFloat64(env.metrics.CouponRedemptions.WithLabelValues("exhausted")); got != 1 {
		t.Fatalf("expected 1 exhausted redemption metric, got %v", got)
	}
}

func TestReleaseFromOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	coupon := env.seedCoupon(t, CouponInput{Code: "UNDO", DiscountPercent: 10, MinOrderAmount: dec("0"), IsActive: true, UsageLimit: intPtr(1)})
	order := env.seedOrder(t, uuid.New(), "30.00")

	if _, err := env.coupons.ApplyToOrder(ctx, coupon.ID, order.ID, order.Subtotal); err != nil {
		t.Fatalf("ApplyToOrder: %v", err)
	}
	if err := env.coupons.ReleaseFromOrder(ctx, coupon.ID, order.ID); err != nil {
		t.Fatalf("ReleaseFromOrder: %v", err)
	}

	stored, err := env.coupons.Get(ctx, coupon.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.UsedCount != 0 {
		t.Fatalf("expected used_count back to 0, got %d", stored.UsedCount)
	}
	if err := env.coupons.ReleaseFromOrder(ctx, coupon.ID, order.ID); !errors.Is(err, ErrCouponNotFound) {
		t.Fatalf("expected second release to report ErrCouponNotFound, got %v", err)
	}
}

func TestCouponAdmin_ValidatesInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := env.clock.Now()

	cases := []struct {
		name string
		in   CouponInput
	}{
		{"short code", CouponInput{Code: "AB", DiscountPercent: 10}},
		{"bad characters", CouponInput{Code: "SAVE 10", DiscountPercent: 10}},
		{"zero percent", CouponInput{Code: "ZERO", DiscountPercent: 0}},
		{"over 100 percent", CouponInput{Code: "HUGE", DiscountPercent: 101}},
		{"negative minimum", CouponInput{Code: "NEG", DiscountPercent: 10, MinOrderAmount: dec("-1")}},
		{"window inverted", CouponInput{Code: "WINDOW", DiscountPercent: 10, StartsAt: timePtr(now), EndsAt: timePtr(now.Add(-time.Hour))}},
		{"zero usage limit", CouponInput{Code: "LIMIT", DiscountPercent: 10, UsageLimit: intPtr(0)}},
	}
	for _, tc := range cases {
		if _, err := env.coupons.Create(ctx, tc.in); !errors.Is(err, ErrInvalidCoupon) {
			t.Fatalf("%s: expected ErrInvalidCoupon, got %v", tc.name, err)
		}
	}
}

func TestCouponAdmin_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	coupon := env.seedCoupon(t, CouponInput{Code: "vip", DiscountPercent: 15, MinOrderAmount: dec("20"), IsActive: true})
	if coupon.Code != "VIP" {
		t.Fatalf("expected stored code VIP, got %s", coupon.Code)
	}

	if _, err := env.coupons.Create(ctx, CouponInput{Code: "Vip", DiscountPercent: 5, IsActive: true}); !errors.Is(err, ErrCouponCodeTaken) {
		t.Fatalf("expected ErrCouponCodeTaken, got %v", err)
	}

	updated, err := env.coupons.Update(ctx, coupon.ID, CouponInput{Code: "VIP", DiscountPercent: 25, MinOrderAmount: dec("0"), IsActive: true, UsageLimit: intPtr(10)})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.DiscountPercent != 25 || updated.UsageLimit == nil || *updated.UsageLimit != 10 {
		t.Fatalf("unexpected coupon after update %+v", updated)
	}

	deactivated, err := env.coupons.Deactivate(ctx, coupon.ID)
	if err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if deactivated.IsActive {
		t.Fatalf("expected coupon to be inactive")
	}
	if _, err := env.coupons.Validate(ctx, "VIP", dec("100"), env.clock.Now()); !errors.Is(err, ErrCouponInactive) {
		t.Fatalf("expected ErrCouponInactive after deactivation, got %v", err)
	}

	items, total, err := env.coupons.List(ctx, 0, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("expected 1 coupon, got total=%d len=%d", total, len(items))
	}

	if _, err := env.coupons.Get(ctx, uuid.New()); !errors.Is(err, ErrCouponNotFound) {
		t.Fatalf("expected ErrCouponNotFound, got %v", err)
	}
}
