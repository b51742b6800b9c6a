package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/shopmart/internal/models"
	"github.com/example/shopmart/internal/repository"
	"github.com/example/shopmart/internal/services"
	"github.com/example/shopmart/internal/utils"
)

// PasswordResetHandler manages forgot-password endpoints. The flow is two
// codes: a mailed password_reset code, then a reset_token code handed back by
// Verify and spent by Reset.
type PasswordResetHandler struct {
	users  repository.UserRepository
	otp    *services.OTPService
	logger *zap.Logger
}

// NewPasswordResetHandler constructs a PasswordResetHandler.
func NewPasswordResetHandler(users repository.UserRepository, otp *services.OTPService, logger *zap.Logger) *PasswordResetHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PasswordResetHandler{users: users, otp: otp, logger: logger}
}

type forgotPasswordRequest struct {
	Email string `json:"email" form:"email"`
}

// ForgotPassword mails a password_reset code. Unknown emails get the same
// response.
func (h *PasswordResetHandler) ForgotPassword(c *fiber.Ctx) error {
	var req forgotPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if req.Email == "" {
		return fiber.NewError(fiber.StatusBadRequest, "email is required")
	}

	user, err := h.users.FindByEmail(c.UserContext(), req.Email)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return err
	default:
		code, err := h.otp.Issue(c.UserContext(), services.IssueInput{
			Email:   user.Email,
			UserID:  &user.ID,
			Purpose: models.OTPPurposePasswordReset,
		})
		if err != nil {
			return err
		}
		if err := h.otp.Deliver(c.UserContext(), code); err != nil {
			h.logger.Warn("password reset code not delivered", zap.String("user_id", user.ID.String()), zap.Error(err))
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"message": "if the account exists, a reset code has been sent"},
	})
}

// VerifyResetCode spends the mailed code and returns a short-lived reset token.
func (h *PasswordResetHandler) VerifyResetCode(c *fiber.Ctx) error {
	var req codeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if req.Email == "" || req.Code == "" {
		return fiber.NewError(fiber.StatusBadRequest, "email and code are required")
	}

	consumed, err := h.otp.Verify(c.UserContext(), req.Email, models.OTPPurposePasswordReset, req.Code)
	if err != nil {
		return err
	}

	token, err := h.otp.Issue(c.UserContext(), services.IssueInput{
		Email:   consumed.Email,
		UserID:  consumed.UserID,
		Purpose: models.OTPPurposeResetToken,
	})
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"verified":    true,
			"reset_token": token.Code,
			"expires_at":  token.ExpiresAt,
		},
	})
}

type resetPasswordRequest struct {
	Email       string `json:"email" form:"email"`
	ResetToken  string `json:"reset_token" form:"reset_token"`
	NewPassword string `json:"new_password" form:"new_password"`
}

// ResetPassword spends the reset token and stores the new password hash.
func (h *PasswordResetHandler) ResetPassword(c *fiber.Ctx) error {
	var req resetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if req.Email == "" || req.ResetToken == "" || req.NewPassword == "" {
		return fiber.NewError(fiber.StatusBadRequest, "email, reset_token and new_password are required")
	}

	// Reject a weak password before the token is spent so the user can retry.
	if err := utils.ValidatePassword(req.NewPassword); err != nil {
		return err
	}

	if _, err := h.otp.Verify(c.UserContext(), req.Email, models.OTPPurposeResetToken, req.ResetToken); err != nil {
		return err
	}

	user, err := h.users.FindByEmail(c.UserContext(), req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return services.ErrInvalidOrExpiredCode
		}
		return err
	}

	hash, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	if err := h.users.UpdatePassword(c.UserContext(), user.ID, hash); err != nil {
		return err
	}

	h.logger.Info("password reset", zap.String("user_id", user.ID.String()))

	return c.JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"message": "password updated successfully"},
	})
}
