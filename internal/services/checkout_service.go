package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/shopmart/internal/models"
	"github.com/example/shopmart/internal/repository"
)

const orderNumberAttempts = 3

// CheckoutItem is one requested order line.
type CheckoutItem struct {
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// CheckoutInput describes an order being placed.
type CheckoutInput struct {
	UserID         uuid.UUID
	Items          []CheckoutItem
	CouponCode     string
	PointsToRedeem int64
	Currency       string
	Notes          string
}

// CheckoutService places orders and drives them through their statuses,
// calling into the coupon and loyalty rule sets along the way.
type CheckoutService struct {
	orders  repository.OrderRepository
	coupons *CouponService
	loyalty *LoyaltyService
	logger  *zap.Logger
	now     func() time.Time
}

func NewCheckoutService(orders repository.OrderRepository, coupons *CouponService, loyalty *LoyaltyService, logger *zap.Logger) *CheckoutService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckoutService{
		orders:  orders,
		coupons: coupons,
		loyalty: loyalty,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock overrides the clock used for placed_at and coupon windows.
func (s *CheckoutService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
		s.coupons.WithClock(clock)
	}
}

// PlaceOrder validates the coupon and points up front, creates the order and
// then redeems both. A failure after the order exists cancels it, releases the
// coupon and credits back any points already spent.
func (s *CheckoutService) PlaceOrder(ctx context.Context, in CheckoutInput) (*models.Order, error) {
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrInvalidOrder)
	}
	if in.PointsToRedeem < 0 {
		return nil, fmt.Errorf("%w: points_to_redeem cannot be negative", ErrInvalidOrder)
	}

	now := s.now()
	order := &models.Order{
		UserID:             in.UserID,
		Status:             models.OrderStatusPending,
		PlacedAt:           now,
		Currency:           strings.ToUpper(strings.TrimSpace(in.Currency)),
		Notes:              in.Notes,
		DiscountFromPoints: decimal.Zero,
	}
	if order.Currency == "" {
		order.Currency = "USD"
	}

	subtotal := decimal.Zero
	for i, item := range in.Items {
		name := strings.TrimSpace(item.ProductName)
		if name == "" || item.Quantity <= 0 || item.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: item %d needs a name, positive quantity and non-negative price", ErrInvalidOrder, i+1)
		}
		line := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).Round(2)
		subtotal = subtotal.Add(line)
		order.Items = append(order.Items, models.OrderItem{
			ProductName: name,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   line,
		})
	}
	order.Subtotal = subtotal
	order.TotalAmount = subtotal
	order.CouponDiscountAmount = decimal.Zero

	var quote *CouponQuote
	if strings.TrimSpace(in.CouponCode) != "" {
		q, err := s.coupons.Validate(ctx, in.CouponCode, subtotal, now)
		if err != nil {
			return nil, err
		}
		quote = q
	}

	if in.PointsToRedeem > 0 {
		preview, err := s.loyalty.RedeemPoints(ctx, in.UserID, in.PointsToRedeem)
		if err != nil {
			return nil, err
		}
		remaining := subtotal
		if quote != nil {
			remaining = remaining.Sub(quote.DiscountAmount)
		}
		if preview.DiscountAmount.GreaterThan(remaining) {
			return nil, ErrPointsExceedTotal
		}
	}

	if err := s.create(ctx, order); err != nil {
		return nil, err
	}

	couponDiscount := decimal.Zero
	if quote != nil {
		applied, err := s.coupons.ApplyToOrder(ctx, quote.Coupon.ID, order.ID, subtotal)
		if err != nil {
			s.abort(ctx, order, nil, 0)
			return nil, err
		}
		couponDiscount = applied.DiscountAmount
		order.CouponID = &applied.Coupon.ID
		order.CouponDiscountPercent = applied.DiscountPercent
		order.CouponDiscountAmount = applied.DiscountAmount
	}

	pointsDiscount := decimal.Zero
	if in.PointsToRedeem > 0 {
		redeemed, err := s.loyalty.ApplyPointsToOrder(ctx, in.UserID, order, in.PointsToRedeem)
		if err != nil {
			s.abort(ctx, order, order.CouponID, 0)
			return nil, err
		}
		pointsDiscount = redeemed.DiscountAmount
	}

	total := subtotal.Sub(couponDiscount).Sub(pointsDiscount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	if err := s.orders.SetTotal(ctx, order.ID, total); err != nil {
		s.abort(ctx, order, order.CouponID, order.LoyaltyPointsUsed)
		return nil, fmt.Errorf("set order total: %w", err)
	}
	order.TotalAmount = total

	s.logger.Info("order placed",
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.String("subtotal", subtotal.StringFixed(2)),
		zap.String("total", total.StringFixed(2)),
		zap.Int64("points_used", in.PointsToRedeem),
	)
	return order, nil
}

// UpdateStatus moves an order to status. Completing an order credits its
// loyalty reward; a reward that was already credited is not an error.
func (s *CheckoutService) UpdateStatus(ctx context.Context, orderID uuid.UUID, status string) (*models.Order, error) {
	if !validOrderStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("find order: %w", err)
	}

	// The snapshot above may be stale; the transition is decided under the row lock.
	previous, err := s.orders.SetStatus(ctx, orderID, status, func(previous string) error {
		if previous != status && isTerminalStatus(previous) {
			return fmt.Errorf("%w: order is already %s", ErrInvalidStatus, previous)
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidStatus):
			return nil, err
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("set order status: %w", err)
	}
	order.Status = status

	if previous != status {
		s.logger.Info("order status changed",
			zap.String("order_id", order.ID.String()),
			zap.String("from", previous),
			zap.String("to", status),
		)
	}

	if status == models.OrderStatusCompleted {
		if _, err := s.loyalty.AwardPoints(ctx, order.UserID, order); err != nil {
			if !errors.Is(err, ErrPointsAlreadyAwarded) {
				return nil, err
			}
			s.logger.Debug("loyalty points already awarded", zap.String("order_id", order.ID.String()))
		}
	}
	return order, nil
}

// GetOrder returns one of the user's orders.
func (s *CheckoutService) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.FindForUser(ctx, orderID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("find order: %w", err)
	}
	return order, nil
}

// ListOrders returns a page of the user's orders, newest first.
func (s *CheckoutService) ListOrders(ctx context.Context, userID uuid.UUID, status string, offset, limit int) ([]models.Order, int64, error) {
	orders, total, err := s.orders.ListForUser(ctx, userID, status, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	return orders, total, nil
}

func (s *CheckoutService) create(ctx context.Context, order *models.Order) error {
	var err error
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		order.OrderNumber = fmt.Sprintf("SM-%d", s.now().UnixNano()%1000000000+int64(attempt))
		if err = s.orders.Create(ctx, order); err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			break
		}
	}
	return fmt.Errorf("create order: %w", err)
}

// abort cancels a half-placed order, releasing couponID and crediting back
// refund points when set. Cleanup failures are logged since the caller is
// already returning the original error.
func (s *CheckoutService) abort(ctx context.Context, order *models.Order, couponID *uuid.UUID, refund int64) {
	if refund > 0 {
		if _, err := s.loyalty.RefundPoints(ctx, order.UserID, order.ID, refund); err != nil {
			s.logger.Error("refund points after failed checkout",
				zap.String("order_id", order.ID.String()),
				zap.Int64("points", refund),
				zap.Error(err),
			)
		} else {
			order.LoyaltyPointsUsed = 0
			order.DiscountFromPoints = decimal.Zero
		}
	}
	if couponID != nil {
		if err := s.coupons.ReleaseFromOrder(ctx, *couponID, order.ID); err != nil {
			s.logger.Error("release coupon after failed checkout",
				zap.String("order_id", order.ID.String()),
				zap.Error(err),
			)
		}
		order.CouponID = nil
		order.CouponDiscountPercent = 0
		order.CouponDiscountAmount = decimal.Zero
	}
	if _, err := s.orders.SetStatus(ctx, order.ID, models.OrderStatusCancelled, nil); err != nil {
		s.logger.Error("cancel failed order",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
		return
	}
	order.Status = models.OrderStatusCancelled
}

func validOrderStatus(status string) bool {
	switch status {
	case models.OrderStatusPending, models.OrderStatusProcessing,
		models.OrderStatusCompleted, models.OrderStatusCancelled:
		return true
	}
	return false
}

func isTerminalStatus(status string) bool {
	return status == models.OrderStatusCompleted || status == models.OrderStatusCancelled
}
