package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/shopmart/internal/services"
	"github.com/example/shopmart/internal/utils"
)

type errorCase struct {
	target error
	status int
	code   string
}

// errorCases maps rule-set failures onto HTTP responses. Order matters only
// for errors that wrap one another.
var errorCases = []errorCase{
	{services.ErrInvalidOrExpiredCode, fiber.StatusBadRequest, "invalid_or_expired_code"},
	{services.ErrInvalidOTPRequest, fiber.StatusBadRequest, "invalid_otp_request"},

	{services.ErrBelowMinimumRedemption, fiber.StatusUnprocessableEntity, "below_minimum_redemption"},
	{services.ErrInvalidRedemptionIncrement, fiber.StatusUnprocessableEntity, "invalid_redemption_increment"},
	{services.ErrInsufficientPoints, fiber.StatusUnprocessableEntity, "insufficient_points"},
	{services.ErrPointsAlreadyAwarded, fiber.StatusConflict, "points_already_awarded"},
	{services.ErrPointsAlreadyApplied, fiber.StatusConflict, "points_already_applied"},
	{services.ErrInvalidAdjustment, fiber.StatusBadRequest, "invalid_adjustment"},
	{services.ErrOrderNotOwned, fiber.StatusForbidden, "order_not_owned"},

	{services.ErrCouponNotFound, fiber.StatusNotFound, "coupon_not_found"},
	{services.ErrCouponInactive, fiber.StatusUnprocessableEntity, "coupon_inactive"},
	{services.ErrCouponNotYetValid, fiber.StatusUnprocessableEntity, "coupon_not_yet_valid"},
	{services.ErrCouponExpired, fiber.StatusUnprocessableEntity, "coupon_expired"},
	{services.ErrCouponExhausted, fiber.StatusUnprocessableEntity, "coupon_exhausted"},
	{services.ErrOrderBelowMinimum, fiber.StatusUnprocessableEntity, "order_below_minimum"},
	{services.ErrCouponApplied, fiber.StatusConflict, "coupon_already_applied"},
	{services.ErrInvalidCoupon, fiber.StatusBadRequest, "invalid_coupon"},
	{services.ErrCouponCodeTaken, fiber.StatusConflict, "coupon_code_taken"},

	{services.ErrInvalidOrder, fiber.StatusBadRequest, "invalid_order"},
	{services.ErrOrderNotFound, fiber.StatusNotFound, "order_not_found"},
	{services.ErrPointsExceedTotal, fiber.StatusUnprocessableEntity, "points_exceed_total"},
	{services.ErrInvalidStatus, fiber.StatusBadRequest, "invalid_status"},

	{utils.ErrWeakPassword, fiber.StatusBadRequest, "weak_password"},
}

// NewErrorHandler renders every error as {"success": false, "error": ..., "code": ...}.
// Unknown errors become a 500 and are logged; their text never reaches the client.
func NewErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		for _, ec := range errorCases {
			if errors.Is(err, ec.target) {
				return c.Status(ec.status).JSON(fiber.Map{
					"success": false,
					"error":   err.Error(),
					"code":    ec.code,
				})
			}
		}

		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{
				"success": false,
				"error":   fe.Message,
			})
		}

		logger.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "internal server error",
		})
	}
}
