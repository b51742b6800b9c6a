//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	testcontainers "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/example/shopmart/internal/database"
	"github.com/example/shopmart/internal/models"
	"github.com/example/shopmart/internal/repository"
)

var errLimitReached = errors.New("limit reached")

func TestCouponRedeem_RespectsUsageLimitUnderContention(t *testing.T) {
	db := startPostgresForTest(t)
	ctx := context.Background()
	coupons := NewCouponRepository(db)

	limit := 3
	coupon := &models.Coupon{Code: "race3", DiscountPercent: 10, IsActive: true, UsageLimit: &limit, MinOrderAmount: decimal.Zero}
	if err := coupons.Create(ctx, coupon); err != nil {
		t.Fatalf("create coupon: %v", err)
	}
	if coupon.Code != "RACE3" {
		t.Fatalf("expected code to be stored upper-case, got %q", coupon.Code)
	}

	user := createUser(t, db, "race@shopmart.test")
	const workers = 10
	orders := make([]uuid.UUID, workers)
	for i := range orders {
		orders[i] = createOrder(t, db, user.ID, i)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(orderID uuid.UUID) {
			defer wg.Done()
			_, err := coupons.Redeem(ctx, coupon.ID, orderID, func(c *models.Coupon) (repository.CouponStamp, error) {
				if c.Exhausted() {
					return repository.CouponStamp{}, errLimitReached
				}
				return repository.CouponStamp{Percent: c.DiscountPercent, Amount: decimal.NewFromInt(10)}, nil
			})
			errCh <- err
		}(orders[i])
	}
	wg.Wait()
	close(errCh)

	succeeded, rejected := 0, 0
	for err := range errCh {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, errLimitReached):
			rejected++
		default:
			t.Fatalf("unexpected redeem error: %v", err)
		}
	}
	if succeeded != limit || rejected != workers-limit {
		t.Fatalf("expected %d redemptions and %d rejections, got %d and %d", limit, workers-limit, succeeded, rejected)
	}

	got, err := coupons.FindByID(ctx, coupon.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.UsedCount != limit {
		t.Fatalf("expected used_count=%d, got %d", limit, got.UsedCount)
	}
}

func TestCouponRedeem_SecondCouponOnOrderConflicts(t *testing.T) {
	db := startPostgresForTest(t)
	ctx := context.Background()
	coupons := NewCouponRepository(db)

	coupon := &models.Coupon{Code: "ONCE", DiscountPercent: 5, IsActive: true}
	if err := coupons.Create(ctx, coupon); err != nil {
		t.Fatalf("create coupon: %v", err)
	}
	orderID := createOrder(t, db, createUser(t, db, "once@shopmart.test").ID, 0)

	allow := func(c *models.Coupon) (repository.CouponStamp, error) {
		return repository.CouponStamp{Percent: c.DiscountPercent, Amount: decimal.NewFromInt(1)}, nil
	}
	if _, err := coupons.Redeem(ctx, coupon.ID, orderID, allow); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if _, err := coupons.Redeem(ctx, coupon.ID, orderID, allow); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, _ := coupons.FindByID(ctx, coupon.ID)
	if got.UsedCount != 1 {
		t.Fatalf("expected rolled-back second redeem to leave used_count=1, got %d", got.UsedCount)
	}

	if err := coupons.Release(ctx, coupon.ID, orderID); err != nil {
		t.Fatalf("release: %v", err)
	}
	got, _ = coupons.FindByID(ctx, coupon.ID)
	if got.UsedCount != 0 {
		t.Fatalf("expected release to restore used_count, got %d", got.UsedCount)
	}

	if err := coupons.Create(ctx, &models.Coupon{Code: "once", DiscountPercent: 5}); !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for case-insensitive code clash, got %v", err)
	}
}

func TestOTPConsume_SingleWinner(t *testing.T) {
	db := startPostgresForTest(t)
	ctx := context.Background()
	otps := NewOTPRepository(db)
	now := time.Now().UTC()

	code := &models.OtpCode{Email: "otp@shopmart.test", Code: "123456", Purpose: models.OTPPurposeLogin, ExpiresAt: now.Add(5 * time.Minute)}
	if err := otps.Create(ctx, code); err != nil {
		t.Fatalf("create code: %v", err)
	}

	const workers = 10
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := otps.Consume(ctx, code.Email, code.Purpose, code.Code, now)
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)

	succeeded := 0
	for err := range errCh {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, repository.ErrNotFound):
		default:
			t.Fatalf("unexpected consume error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one successful consume, got %d", succeeded)
	}

	expired := &models.OtpCode{Email: "old@shopmart.test", Code: "654321", Purpose: models.OTPPurposeGeneral, ExpiresAt: now.Add(-time.Minute)}
	if err := otps.Create(ctx, expired); err != nil {
		t.Fatalf("create expired code: %v", err)
	}
	if _, err := otps.Consume(ctx, expired.Email, expired.Purpose, expired.Code, now); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected expired code to be rejected, got %v", err)
	}

	deleted, err := otps.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 expired code deleted, got %d", deleted)
	}
}

func TestLoyaltyApply_NoOverdraftUnderContention(t *testing.T) {
	db := startPostgresForTest(t)
	ctx := context.Background()
	loyalty := NewLoyaltyRepository(db)
	user := createUser(t, db, "points@shopmart.test")

	if _, err := loyalty.Apply(ctx, repository.LedgerEntry{
		UserID: user.ID, Type: models.LoyaltyAdjusted, Points: 500, Description: "seed",
	}, nil); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	insufficient := errors.New("insufficient")
	const workers = 10
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := loyalty.Apply(ctx, repository.LedgerEntry{
				UserID: user.ID, Type: models.LoyaltyRedeemed, Points: -100, Description: "spend",
			}, func(b *models.LoyaltyPoint) error {
				if b.Points < 100 {
					return insufficient
				}
				return nil
			})
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)

	succeeded := 0
	for err := range errCh {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, insufficient):
		default:
			t.Fatalf("unexpected apply error: %v", err)
		}
	}
	if succeeded != 5 {
		t.Fatalf("expected 5 successful debits, got %d", succeeded)
	}

	balance, err := loyalty.FindBalance(ctx, user.ID)
	if err != nil {
		t.Fatalf("FindBalance: %v", err)
	}
	if balance.Points != 0 || balance.TotalEarned != 500 || balance.TotalRedeemed != 500 {
		t.Fatalf("unexpected balance %+v", balance)
	}

	history, err := loyalty.ListTransactions(ctx, user.ID, 100)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(history) != 6 {
		t.Fatalf("expected 6 ledger rows, got %d", len(history))
	}
}

func TestLoyaltyApply_StampsOrderOnce(t *testing.T) {
	db := startPostgresForTest(t)
	ctx := context.Background()
	loyalty := NewLoyaltyRepository(db)
	orders := NewOrderRepository(db)
	user := createUser(t, db, "stamp@shopmart.test")
	orderID := createOrder(t, db, user.ID, 0)

	entry := repository.LedgerEntry{
		UserID: user.ID, OrderID: &orderID, Type: models.LoyaltyEarned, Points: 7,
		OrderAmount: decimal.NewFromInt(140), Stamp: repository.StampPointsEarned,
	}
	if _, err := loyalty.Apply(ctx, entry, nil); err != nil {
		t.Fatalf("first award: %v", err)
	}
	if _, err := loyalty.Apply(ctx, entry, nil); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict on second award, got %v", err)
	}

	order, err := orders.FindByID(ctx, orderID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if order.LoyaltyPointsEarned != 7 {
		t.Fatalf("expected order stamped with 7 points, got %d", order.LoyaltyPointsEarned)
	}

	balance, _ := loyalty.FindBalance(ctx, user.ID)
	if balance.Points != 7 {
		t.Fatalf("expected rolled-back second award to leave 7 points, got %d", balance.Points)
	}
}

func TestUserRepository_EmailIsUnique(t *testing.T) {
	db := startPostgresForTest(t)
	ctx := context.Background()
	users := NewUserRepository(db)

	createUser(t, db, "dup@shopmart.test")
	err := users.Create(ctx, &models.User{Name: "Again", Email: "dup@shopmart.test", PasswordHash: "x"})
	if !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	if _, err := users.FindByEmail(ctx, "missing@shopmart.test"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func createUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()
	user := &models.User{Name: "Test", Email: email, PasswordHash: "hash"}
	if err := NewUserRepository(db).Create(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func createOrder(t *testing.T, db *gorm.DB, userID uuid.UUID, n int) uuid.UUID {
	t.Helper()
	order := &models.Order{
		UserID:      userID,
		OrderNumber: fmt.Sprintf("SM-TEST-%s-%d", userID.String()[:8], n),
		Status:      models.OrderStatusPending,
		PlacedAt:    time.Now(),
		Subtotal:    decimal.NewFromInt(100),
		TotalAmount: decimal.NewFromInt(100),
		Currency:    "USD",
	}
	if err := NewOrderRepository(db).Create(context.Background(), order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order.ID
}

func startPostgresForTest(t *testing.T) *gorm.DB {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "shopmart_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("skipping test because docker/testcontainers is unavailable: %v", err)
	}

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("container mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://postgres:postgres@%s:%s/shopmart_test?sslmode=disable", host, port.Port())
	db, err := database.Connect(dsn, database.Options{MaxOpenConns: 20}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close(db)
	})
	return db
}
