package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/shopmart/internal/models"
	"github.com/example/shopmart/internal/repository"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

var hundred = decimal.NewFromInt(100)

// LoyaltyConfig holds the reward and redemption rates.
type LoyaltyConfig struct {
	// RewardPercent of the order total is credited as points.
	RewardPercent decimal.Decimal
	// RedeemStep is both the minimum redemption and the increment.
	RedeemStep int64
	// RedeemValue is the currency amount one RedeemStep is worth.
	RedeemValue decimal.Decimal
}

// DefaultLoyaltyConfig is 5% back, redeemable in blocks of 100 points worth 1.00 each.
func DefaultLoyaltyConfig() LoyaltyConfig {
	return LoyaltyConfig{
		RewardPercent: decimal.NewFromInt(5),
		RedeemStep:    100,
		RedeemValue:   decimal.NewFromInt(1),
	}
}

// CalculatePoints returns floor(amount × percent / 100). Non-positive amounts earn nothing.
func CalculatePoints(amount, percent decimal.Decimal) int64 {
	if !amount.IsPositive() || !percent.IsPositive() {
		return 0
	}
	return amount.Mul(percent).Div(hundred).Floor().IntPart()
}

// CalculateDiscount converts whole redemption steps into a currency amount.
func CalculateDiscount(points, step int64, value decimal.Decimal) decimal.Decimal {
	if points <= 0 || step <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(points / step).Mul(value)
}

// LoyaltyService maintains point balances and their ledger.
type LoyaltyService struct {
	repo    repository.LoyaltyRepository
	cfg     LoyaltyConfig
	logger  *zap.Logger
	metrics *Metrics
}

func NewLoyaltyService(repo repository.LoyaltyRepository, cfg LoyaltyConfig, logger *zap.Logger, metrics *Metrics) *LoyaltyService {
	if cfg.RedeemStep <= 0 {
		cfg.RedeemStep = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoyaltyService{repo: repo, cfg: cfg, logger: logger, metrics: metrics}
}

// Balance is a read-only view of a user's points.
type Balance struct {
	UserID          uuid.UUID       `json:"user_id"`
	Points          int64           `json:"points"`
	TotalEarned     int64           `json:"total_earned"`
	TotalRedeemed   int64           `json:"total_redeemed"`
	RedeemableValue decimal.Decimal `json:"redeemable_value"`
}

// AwardResult reports a credit made for a completed order.
type AwardResult struct {
	PointsEarned int64   `json:"points_earned"`
	Balance      Balance `json:"balance"`
}

// RedemptionQuote is the outcome of a dry-run redemption.
type RedemptionQuote struct {
	Points          int64           `json:"points"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	RemainingPoints int64           `json:"remaining_points"`
}

// TransactionRecord is one flattened ledger entry.
type TransactionRecord struct {
	ID          uuid.UUID                     `json:"id"`
	Type        models.LoyaltyTransactionType `json:"type"`
	Points      int64                         `json:"points"`
	OrderID     *uuid.UUID                    `json:"order_id,omitempty"`
	OrderAmount decimal.Decimal               `json:"order_amount"`
	Description string                        `json:"description"`
	CreatedAt   time.Time                     `json:"created_at"`
}

// AwardPoints credits the reward for order to its owner and stamps the order.
// Orders too small to earn a point leave the ledger untouched.
func (s *LoyaltyService) AwardPoints(ctx context.Context, userID uuid.UUID, order *models.Order) (*AwardResult, error) {
	if order.UserID != userID {
		return nil, ErrOrderNotOwned
	}

	points := CalculatePoints(order.TotalAmount, s.cfg.RewardPercent)
	if points == 0 {
		balance, err := s.GetBalance(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &AwardResult{Balance: *balance}, nil
	}

	orderID := order.ID
	updated, err := s.repo.Apply(ctx, repository.LedgerEntry{
		UserID:      userID,
		OrderID:     &orderID,
		Type:        models.LoyaltyEarned,
		Points:      points,
		OrderAmount: order.TotalAmount,
		Description: fmt.Sprintf("Earned %d points for order %s", points, order.OrderNumber),
		Stamp:       repository.StampPointsEarned,
	}, nil)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrPointsAlreadyAwarded
		}
		return nil, fmt.Errorf("award points: %w", err)
	}

	order.LoyaltyPointsEarned = points
	s.metrics.loyaltyMoved(string(models.LoyaltyEarned), points)
	s.logger.Info("loyalty points awarded",
		zap.String("user_id", userID.String()),
		zap.String("order_id", order.ID.String()),
		zap.Int64("points", points),
	)
	return &AwardResult{PointsEarned: points, Balance: s.view(updated)}, nil
}

// RedeemPoints previews a redemption without touching the balance.
func (s *LoyaltyService) RedeemPoints(ctx context.Context, userID uuid.UUID, points int64) (*RedemptionQuote, error) {
	if err := s.ValidateRedemption(points); err != nil {
		return nil, err
	}

	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance.Points < points {
		return nil, ErrInsufficientPoints
	}

	return &RedemptionQuote{
		Points:          points,
		DiscountAmount:  s.DiscountFor(points),
		RemainingPoints: balance.Points - points,
	}, nil
}

// ApplyPointsToOrder spends points under the balance lock. When order is
// non-nil the spend is stamped on it; a second spend for the same order fails
// with ErrPointsAlreadyApplied.
func (s *LoyaltyService) ApplyPointsToOrder(ctx context.Context, userID uuid.UUID, order *models.Order, points int64) (*RedemptionQuote, error) {
	if err := s.ValidateRedemption(points); err != nil {
		return nil, err
	}
	if order != nil && order.UserID != userID {
		return nil, ErrOrderNotOwned
	}

	discount := s.DiscountFor(points)
	entry := repository.LedgerEntry{
		UserID:      userID,
		Type:        models.LoyaltyRedeemed,
		Points:      -points,
		Description: fmt.Sprintf("Redeemed %d points for %s discount", points, discount.StringFixed(2)),
		Discount:    discount,
	}
	if order != nil {
		orderID := order.ID
		entry.OrderID = &orderID
		entry.OrderAmount = order.Subtotal
		entry.Stamp = repository.StampPointsUsed
	}

	updated, err := s.repo.Apply(ctx, entry, func(balance *models.LoyaltyPoint) error {
		if balance.Points < points {
			return ErrInsufficientPoints
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientPoints):
			return nil, err
		case errors.Is(err, repository.ErrConflict):
			return nil, ErrPointsAlreadyApplied
		}
		return nil, fmt.Errorf("apply points: %w", err)
	}

	if order != nil {
		order.LoyaltyPointsUsed = points
		order.DiscountFromPoints = discount
	}
	s.metrics.loyaltyMoved(string(models.LoyaltyRedeemed), points)
	return &RedemptionQuote{
		Points:          points,
		DiscountAmount:  discount,
		RemainingPoints: updated.Points,
	}, nil
}

// AdjustPoints records a manual correction. Debits may not overdraw the balance.
func (s *LoyaltyService) AdjustPoints(ctx context.Context, userID uuid.UUID, delta int64, description string) (*Balance, error) {
	if delta == 0 {
		return nil, fmt.Errorf("%w: delta must be non-zero", ErrInvalidAdjustment)
	}
	if description == "" {
		description = fmt.Sprintf("Manual adjustment of %+d points", delta)
	}

	updated, err := s.repo.Apply(ctx, repository.LedgerEntry{
		UserID:      userID,
		Type:        models.LoyaltyAdjusted,
		Points:      delta,
		Description: description,
	}, func(balance *models.LoyaltyPoint) error {
		if balance.Points+delta < 0 {
			return ErrInsufficientPoints
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientPoints) {
			return nil, err
		}
		return nil, fmt.Errorf("adjust points: %w", err)
	}

	s.metrics.loyaltyMoved(string(models.LoyaltyAdjusted), delta)
	view := s.view(updated)
	return &view, nil
}

// RefundPoints credits back points that were spent on an order which then
// failed to go through. The credit is an adjustment row tied to the order.
func (s *LoyaltyService) RefundPoints(ctx context.Context, userID, orderID uuid.UUID, points int64) (*Balance, error) {
	if points <= 0 {
		return nil, fmt.Errorf("%w: refund must be positive", ErrInvalidAdjustment)
	}

	updated, err := s.repo.Apply(ctx, repository.LedgerEntry{
		UserID:      userID,
		OrderID:     &orderID,
		Type:        models.LoyaltyAdjusted,
		Points:      points,
		Description: fmt.Sprintf("Refunded %d points from cancelled order", points),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("refund points: %w", err)
	}

	s.metrics.loyaltyMoved(string(models.LoyaltyAdjusted), points)
	view := s.view(updated)
	return &view, nil
}

// GetBalance returns the user's balance, or zeroes when none exists. It never
// creates a balance row.
func (s *LoyaltyService) GetBalance(ctx context.Context, userID uuid.UUID) (*Balance, error) {
	balance, err := s.repo.FindBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &Balance{UserID: userID, RedeemableValue: decimal.Zero}, nil
		}
		return nil, fmt.Errorf("find balance: %w", err)
	}
	view := s.view(balance)
	return &view, nil
}

// GetTransactionHistory returns up to limit entries, newest first. limit is
// clamped to 1..100; non-positive values use 20.
func (s *LoyaltyService) GetTransactionHistory(ctx context.Context, userID uuid.UUID, limit int) ([]TransactionRecord, error) {
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}

	items, err := s.repo.ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list loyalty transactions: %w", err)
	}

	records := make([]TransactionRecord, 0, len(items))
	for _, item := range items {
		records = append(records, TransactionRecord{
			ID:          item.ID,
			Type:        item.Type,
			Points:      item.Points,
			OrderID:     item.OrderID,
			OrderAmount: item.OrderAmount,
			Description: item.Description,
			CreatedAt:   item.CreatedAt,
		})
	}
	return records, nil
}

// ValidateRedemption checks the minimum first, so 50 points is below minimum
// rather than a bad increment.
func (s *LoyaltyService) ValidateRedemption(points int64) error {
	if points < s.cfg.RedeemStep {
		return ErrBelowMinimumRedemption
	}
	if points%s.cfg.RedeemStep != 0 {
		return ErrInvalidRedemptionIncrement
	}
	return nil
}

// DiscountFor is the currency value of points at the configured rate.
func (s *LoyaltyService) DiscountFor(points int64) decimal.Decimal {
	return CalculateDiscount(points, s.cfg.RedeemStep, s.cfg.RedeemValue)
}

func (s *LoyaltyService) view(balance *models.LoyaltyPoint) Balance {
	return Balance{
		UserID:          balance.UserID,
		Points:          balance.Points,
		TotalEarned:     balance.TotalEarned,
		TotalRedeemed:   balance.TotalRedeemed,
		RedeemableValue: s.DiscountFor(balance.Points),
	}
}
