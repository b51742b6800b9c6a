package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/shopmart/internal/models"
	"github.com/example/shopmart/internal/repository"
)

var couponCodePattern = regexp.MustCompile(`^[A-Z0-9_-]{3,32}$`)

// CheckCoupon runs the validation rules against an already loaded coupon.
// The first failing rule wins: active flag, start, end, usage, minimum.
// ends_at is inclusive.
func CheckCoupon(c *models.Coupon, subtotal decimal.Decimal, now time.Time) error {
	switch {
	case !c.IsActive:
		return ErrCouponInactive
	case c.StartsAt != nil && now.Before(*c.StartsAt):
		return ErrCouponNotYetValid
	case c.EndsAt != nil && now.After(*c.EndsAt):
		return ErrCouponExpired
	case c.Exhausted():
		return ErrCouponExhausted
	case subtotal.LessThan(c.MinOrderAmount):
		return ErrOrderBelowMinimum
	}
	return nil
}

// DiscountFor returns subtotal × percent / 100 rounded to cents.
func DiscountFor(subtotal decimal.Decimal, percent int) decimal.Decimal {
	if percent <= 0 || !subtotal.IsPositive() {
		return decimal.Zero
	}
	return subtotal.Mul(decimal.NewFromInt(int64(percent))).Div(hundred).Round(2)
}

// CouponQuote is the result of a successful validation.
type CouponQuote struct {
	Coupon          *models.Coupon  `json:"coupon"`
	DiscountPercent int             `json:"discount_percent"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
}

// CouponInput carries the editable coupon fields.
type CouponInput struct {
	Code            string
	DiscountPercent int
	MinOrderAmount  decimal.Decimal
	StartsAt        *time.Time
	EndsAt          *time.Time
	IsActive        bool
	UsageLimit      *int
}

// CouponService validates and redeems discount coupons.
type CouponService struct {
	repo    repository.CouponRepository
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

func NewCouponService(repo repository.CouponRepository, logger *zap.Logger, metrics *Metrics) *CouponService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CouponService{repo: repo, logger: logger, metrics: metrics, now: time.Now}
}

// WithClock overrides the clock used by ApplyToOrder.
func (s *CouponService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Now returns the service clock reading.
func (s *CouponService) Now() time.Time {
	return s.now()
}

// Validate looks the code up and checks it against subtotal at now. It never
// mutates the coupon.
func (s *CouponService) Validate(ctx context.Context, code string, subtotal decimal.Decimal, now time.Time) (*CouponQuote, error) {
	code = normalizeCouponCode(code)
	if code == "" {
		return nil, ErrCouponNotFound
	}

	coupon, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("find coupon: %w", err)
	}

	if err := CheckCoupon(coupon, subtotal, now); err != nil {
		return nil, err
	}

	return &CouponQuote{
		Coupon:          coupon,
		DiscountPercent: coupon.DiscountPercent,
		DiscountAmount:  DiscountFor(subtotal, coupon.DiscountPercent),
	}, nil
}

// ApplyToOrder re-validates the coupon under its row lock, bumps used_count
// and stamps the order, all in one transaction. Concurrent callers racing for
// the last redemption see exactly one success.
func (s *CouponService) ApplyToOrder(ctx context.Context, couponID, orderID uuid.UUID, subtotal decimal.Decimal) (*CouponQuote, error) {
	now := s.now()
	var stamp repository.CouponStamp

	coupon, err := s.repo.Redeem(ctx, couponID, orderID, func(c *models.Coupon) (repository.CouponStamp, error) {
		if err := CheckCoupon(c, subtotal, now); err != nil {
			return repository.CouponStamp{}, err
		}
		stamp = repository.CouponStamp{
			Percent: c.DiscountPercent,
			Amount:  DiscountFor(subtotal, c.DiscountPercent),
		}
		return stamp, nil
	})
	if err != nil {
		s.metrics.couponRedeemed(redemptionResult(err))
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrCouponNotFound
		case errors.Is(err, repository.ErrConflict):
			return nil, ErrCouponApplied
		case isCouponRuleError(err):
			return nil, err
		}
		return nil, fmt.Errorf("redeem coupon: %w", err)
	}

	s.metrics.couponRedeemed("applied")
	s.logger.Info("coupon applied",
		zap.String("code", coupon.Code),
		zap.String("order_id", orderID.String()),
		zap.Int("used_count", coupon.UsedCount),
	)
	return &CouponQuote{
		Coupon:          coupon,
		DiscountPercent: stamp.Percent,
		DiscountAmount:  stamp.Amount,
	}, nil
}

// ReleaseFromOrder undoes ApplyToOrder for an order whose checkout failed.
func (s *CouponService) ReleaseFromOrder(ctx context.Context, couponID, orderID uuid.UUID) error {
	if err := s.repo.Release(ctx, couponID, orderID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrCouponNotFound
		}
		return fmt.Errorf("release coupon: %w", err)
	}
	s.metrics.couponRedeemed("released")
	return nil
}

// Create stores a new coupon.
func (s *CouponService) Create(ctx context.Context, in CouponInput) (*models.Coupon, error) {
	if err := validateCouponInput(&in); err != nil {
		return nil, err
	}

	coupon := &models.Coupon{
		Code:            in.Code,
		DiscountPercent: in.DiscountPercent,
		MinOrderAmount:  in.MinOrderAmount,
		StartsAt:        in.StartsAt,
		EndsAt:          in.EndsAt,
		IsActive:        in.IsActive,
		UsageLimit:      in.UsageLimit,
	}
	if err := s.repo.Create(ctx, coupon); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrCouponCodeTaken
		}
		return nil, fmt.Errorf("create coupon: %w", err)
	}
	return coupon, nil
}

// Update replaces the editable fields of an existing coupon. used_count is
// left alone.
func (s *CouponService) Update(ctx context.Context, id uuid.UUID, in CouponInput) (*models.Coupon, error) {
	if err := validateCouponInput(&in); err != nil {
		return nil, err
	}

	coupon, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.UsageLimit != nil && *in.UsageLimit < coupon.UsedCount {
		return nil, fmt.Errorf("%w: usage_limit below used_count %d", ErrInvalidCoupon, coupon.UsedCount)
	}

	coupon.Code = in.Code
	coupon.DiscountPercent = in.DiscountPercent
	coupon.MinOrderAmount = in.MinOrderAmount
	coupon.StartsAt = in.StartsAt
	coupon.EndsAt = in.EndsAt
	coupon.IsActive = in.IsActive
	coupon.UsageLimit = in.UsageLimit

	if err := s.repo.Update(ctx, coupon); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return nil, ErrCouponCodeTaken
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("update coupon: %w", err)
	}
	return coupon, nil
}

// Deactivate switches the coupon off without deleting its history.
func (s *CouponService) Deactivate(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	coupon, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !coupon.IsActive {
		return coupon, nil
	}
	coupon.IsActive = false
	if err := s.repo.Update(ctx, coupon); err != nil {
		return nil, fmt.Errorf("deactivate coupon: %w", err)
	}
	return coupon, nil
}

func (s *CouponService) Get(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	coupon, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("find coupon: %w", err)
	}
	return coupon, nil
}

func (s *CouponService) List(ctx context.Context, offset, limit int) ([]models.Coupon, int64, error) {
	coupons, total, err := s.repo.List(ctx, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list coupons: %w", err)
	}
	return coupons, total, nil
}

func validateCouponInput(in *CouponInput) error {
	in.Code = normalizeCouponCode(in.Code)
	switch {
	case !couponCodePattern.MatchString(in.Code):
		return fmt.Errorf("%w: code must be 3-32 letters, digits, '-' or '_'", ErrInvalidCoupon)
	case in.DiscountPercent < 1 || in.DiscountPercent > 100:
		return fmt.Errorf("%w: discount_percent must be between 1 and 100", ErrInvalidCoupon)
	case in.MinOrderAmount.IsNegative():
		return fmt.Errorf("%w: min_order_amount cannot be negative", ErrInvalidCoupon)
	case in.StartsAt != nil && in.EndsAt != nil && !in.EndsAt.After(*in.StartsAt):
		return fmt.Errorf("%w: ends_at must be after starts_at", ErrInvalidCoupon)
	case in.UsageLimit != nil && *in.UsageLimit < 1:
		return fmt.Errorf("%w: usage_limit must be at least 1", ErrInvalidCoupon)
	}
	return nil
}

func normalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func isCouponRuleError(err error) bool {
	for _, target := range []error{
		ErrCouponInactive,
		ErrCouponNotYetValid,
		ErrCouponExpired,
		ErrCouponExhausted,
		ErrOrderBelowMinimum,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func redemptionResult(err error) string {
	switch {
	case errors.Is(err, ErrCouponExhausted):
		return "exhausted"
	case errors.Is(err, repository.ErrConflict):
		return "duplicate"
	case isCouponRuleError(err):
		return "rejected"
	}
	return "error"
}
