package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/shopmart/internal/middleware"
	"github.com/example/shopmart/internal/repository"
	"github.com/example/shopmart/internal/services"
	"github.com/example/shopmart/internal/utils"
)

// AdminHandler manages admin-only endpoints.
type AdminHandler struct {
	users    repository.UserRepository
	coupons  *services.CouponService
	loyalty  *services.LoyaltyService
	checkout *services.CheckoutService
	logger   *zap.Logger
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(
	users repository.UserRepository,
	coupons *services.CouponService,
	loyalty *services.LoyaltyService,
	checkout *services.CheckoutService,
	logger *zap.Logger,
) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{
		users:    users,
		coupons:  coupons,
		loyalty:  loyalty,
		checkout: checkout,
		logger:   logger,
	}
}

type couponRequest struct {
	Code            string          `json:"code"`
	DiscountPercent int             `json:"discount_percent"`
	MinOrderAmount  decimal.Decimal `json:"min_order_amount"`
	StartsAt        *time.Time      `json:"starts_at"`
	EndsAt          *time.Time      `json:"ends_at"`
	IsActive        *bool           `json:"is_active"`
	UsageLimit      *int            `json:"usage_limit"`
}

func (r couponRequest) input() services.CouponInput {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return services.CouponInput{
		Code:            r.Code,
		DiscountPercent: r.DiscountPercent,
		MinOrderAmount:  r.MinOrderAmount,
		StartsAt:        r.StartsAt,
		EndsAt:          r.EndsAt,
		IsActive:        active,
		UsageLimit:      r.UsageLimit,
	}
}

// ListCoupons returns coupons with pagination.
func (h *AdminHandler) ListCoupons(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	coupons, total, err := h.coupons.List(c.UserContext(), pg.Offset, pg.Limit)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       coupons,
		"pagination": pg.Meta(total),
	})
}

// GetCoupon returns one coupon including its used_count.
func (h *AdminHandler) GetCoupon(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	coupon, err := h.coupons.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": coupon})
}

// CreateCoupon stores a new coupon. is_active defaults to true.
func (h *AdminHandler) CreateCoupon(c *fiber.Ctx) error {
	var req couponRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	coupon, err := h.coupons.Create(c.UserContext(), req.input())
	if err != nil {
		return err
	}

	h.logger.Info("coupon created", zap.String("code", coupon.Code), zap.String("by", h.actor(c)))
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": coupon})
}

// UpdateCoupon replaces a coupon's editable fields.
func (h *AdminHandler) UpdateCoupon(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var req couponRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	coupon, err := h.coupons.Update(c.UserContext(), id, req.input())
	if err != nil {
		return err
	}

	h.logger.Info("coupon updated", zap.String("code", coupon.Code), zap.String("by", h.actor(c)))
	return c.JSON(fiber.Map{"success": true, "data": coupon})
}

// DeactivateCoupon switches a coupon off. Coupons are never hard-deleted.
func (h *AdminHandler) DeactivateCoupon(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	coupon, err := h.coupons.Deactivate(c.UserContext(), id)
	if err != nil {
		return err
	}

	h.logger.Info("coupon deactivated", zap.String("code", coupon.Code), zap.String("by", h.actor(c)))
	return c.JSON(fiber.Map{"success": true, "data": coupon})
}

type orderStatusRequest struct {
	Status string `json:"status"`
}

// UpdateOrderStatus moves an order through its lifecycle. Completion credits
// the owner's loyalty reward.
func (h *AdminHandler) UpdateOrderStatus(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var req orderStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	order, err := h.checkout.UpdateStatus(c.UserContext(), id, req.Status)
	if err != nil {
		return err
	}

	h.logger.Info("order status changed",
		zap.String("order_id", order.ID.String()),
		zap.String("status", order.Status),
		zap.String("by", h.actor(c)),
	)
	return c.JSON(fiber.Map{"success": true, "data": order})
}

type adjustPointsRequest struct {
	Delta       int64  `json:"delta"`
	Description string `json:"description"`
}

// AdjustPoints applies a manual credit or debit to a user's balance.
func (h *AdminHandler) AdjustPoints(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var req adjustPointsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if _, err := h.users.FindByID(c.UserContext(), userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "user not found")
		}
		return err
	}

	balance, err := h.loyalty.AdjustPoints(c.UserContext(), userID, req.Delta, req.Description)
	if err != nil {
		return err
	}

	h.logger.Info("loyalty points adjusted",
		zap.String("user_id", userID.String()),
		zap.Int64("delta", req.Delta),
		zap.String("by", h.actor(c)),
	)
	return c.JSON(fiber.Map{"success": true, "data": balance})
}

func (h *AdminHandler) actor(c *fiber.Ctx) string {
	if id, ok := middleware.GetCurrentUserID(c); ok {
		return id.String()
	}
	return ""
}
