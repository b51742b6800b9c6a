package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/example/shopmart/internal/services"
)

// CouponHandler serves the customer-facing coupon check.
type CouponHandler struct {
	coupons *services.CouponService
}

// NewCouponHandler constructs CouponHandler.
func NewCouponHandler(coupons *services.CouponService) *CouponHandler {
	return &CouponHandler{coupons: coupons}
}

type validateCouponRequest struct {
	Code     string          `json:"code"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// Validate quotes the discount a code would give on subtotal. Nothing is
// reserved; the usage counter only moves at checkout.
func (h *CouponHandler) Validate(c *fiber.Ctx) error {
	var req validateCouponRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Subtotal.IsNegative() {
		return fiber.NewError(fiber.StatusBadRequest, "subtotal cannot be negative")
	}

	quote, err := h.coupons.Validate(c.UserContext(), req.Code, req.Subtotal, h.coupons.Now())
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": quote})
}
