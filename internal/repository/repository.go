package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/shopmart/internal/models"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a guarded write found the row already in the target state.
	ErrConflict = errors.New("repository: conflict")
	// ErrDuplicate indicates a unique constraint rejected the write.
	ErrDuplicate = errors.New("repository: duplicate")
)

// UserRepository persists accounts.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
}

// OTPRepository persists one-time codes.
type OTPRepository interface {
	Create(ctx context.Context, code *models.OtpCode) error
	// ExpireActive ends the validity of every active code for (email, purpose).
	ExpireActive(ctx context.Context, email string, purpose models.OTPPurpose, now time.Time) (int64, error)
	// Consume atomically marks the matching active code as used. It returns
	// ErrNotFound when no unused, unexpired row carries the code.
	Consume(ctx context.Context, email string, purpose models.OTPPurpose, code string, now time.Time) (*models.OtpCode, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// OrderStamp selects which loyalty columns of the referenced order a ledger
// entry writes.
type OrderStamp int

const (
	StampNone OrderStamp = iota
	StampPointsEarned
	StampPointsUsed
)

// LedgerEntry describes one balance mutation and its audit row.
type LedgerEntry struct {
	UserID      uuid.UUID
	OrderID     *uuid.UUID
	Type        models.LoyaltyTransactionType
	Points      int64
	OrderAmount decimal.Decimal
	Description string
	Stamp       OrderStamp
	Discount    decimal.Decimal
}

// LoyaltyRepository persists balances and the append-only ledger.
type LoyaltyRepository interface {
	FindBalance(ctx context.Context, userID uuid.UUID) (*models.LoyaltyPoint, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.LoyaltyTransaction, error)
	// Apply locks the user's balance, runs check against it, then applies the
	// entry, appends the ledger row and stamps the order in one transaction.
	// A missing balance is created when entry.Points is positive; check sees a
	// zero balance otherwise. Any error rolls everything back.
	Apply(ctx context.Context, entry LedgerEntry, check func(balance *models.LoyaltyPoint) error) (*models.LoyaltyPoint, error)
}

// CouponStamp is what a successful redemption records on the order.
type CouponStamp struct {
	Percent int
	Amount  decimal.Decimal
}

// CouponRepository persists coupons and their redemption counters.
type CouponRepository interface {
	Create(ctx context.Context, coupon *models.Coupon) error
	Update(ctx context.Context, coupon *models.Coupon) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Coupon, error)
	FindByCode(ctx context.Context, code string) (*models.Coupon, error)
	List(ctx context.Context, offset, limit int) ([]models.Coupon, int64, error)
	// Redeem locks the coupon row, runs check, increments used_count and
	// records the stamp on the order in one transaction.
	Redeem(ctx context.Context, couponID, orderID uuid.UUID, check func(coupon *models.Coupon) (CouponStamp, error)) (*models.Coupon, error)
	// Release reverses a redemption recorded on the order.
	Release(ctx context.Context, couponID, orderID uuid.UUID) error
}

// OrderRepository persists orders and their items.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindForUser(ctx context.Context, id, userID uuid.UUID) (*models.Order, error)
	ListForUser(ctx context.Context, userID uuid.UUID, status string, offset, limit int) ([]models.Order, int64, error)
	// SetStatus locks the order and hands its current status to allow. The new
	// status is stored only when allow is nil or returns nil. It returns the
	// previous status.
	SetStatus(ctx context.Context, id uuid.UUID, status string, allow func(previous string) error) (string, error)
	SetTotal(ctx context.Context, id uuid.UUID, total decimal.Decimal) error
}

// ApplyTo mutates the balance by the entry's signed delta. Credits raise
// TotalEarned and debits raise TotalRedeemed so Points stays their difference.
func (e LedgerEntry) ApplyTo(balance *models.LoyaltyPoint) {
	balance.Points += e.Points
	if e.Points > 0 {
		balance.TotalEarned += e.Points
	} else {
		balance.TotalRedeemed -= e.Points
	}
}
