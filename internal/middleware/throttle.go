package middleware

import (
	"math"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/shopmart/internal/logger"
	"github.com/example/shopmart/internal/models"
	"github.com/example/shopmart/internal/ratelimit"
)

type otpRequestBody struct {
	Email   string            `json:"email" form:"email"`
	Purpose models.OTPPurpose `json:"purpose" form:"purpose"`
}

// OTPThrottle limits code requests per (purpose, email). When purpose is empty
// it is read from the body and defaults to general. Requests without an email
// are passed on for the handler to reject. Limiter failures let the request
// through.
func OTPThrottle(limiter ratelimit.Limiter, purpose models.OTPPurpose, log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if limiter == nil {
			return c.Next()
		}

		// Parsed the way the handlers parse it, so every body they accept is keyed.
		var body otpRequestBody
		_ = c.BodyParser(&body)

		email := strings.ToLower(strings.TrimSpace(body.Email))
		if email == "" {
			return c.Next()
		}

		p := purpose
		if p == "" {
			p = body.Purpose
		}
		if p == "" {
			p = models.OTPPurposeGeneral
		}

		decision, err := limiter.Allow(c.UserContext(), string(p)+":"+email)
		if err != nil {
			log.Warn("otp throttle check failed",
				zap.String("email", logger.MaskEmail(email)),
				zap.String("purpose", string(p)),
				zap.Error(err),
			)
			return c.Next()
		}

		if decision.Limit > 0 {
			c.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			c.Set("X-RateLimit-Remaining", strconv.Itoa(max(decision.Remaining, 0)))
			c.Set("X-RateLimit-Reset", strconv.FormatInt(decision.Reset.Unix(), 10))
		}

		if !decision.Allowed {
			seconds := max(int(math.Ceil(decision.RetryAfter.Seconds())), 0)
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(seconds))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success":     false,
				"error":       "too many code requests, try again later",
				"code":        "otp_rate_limited",
				"retry_after": seconds,
			})
		}

		return c.Next()
	}
}
