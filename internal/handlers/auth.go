package handlers

import (
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/shopmart/internal/config"
	"github.com/example/shopmart/internal/logger"
	"github.com/example/shopmart/internal/models"
	"github.com/example/shopmart/internal/repository"
	"github.com/example/shopmart/internal/services"
	"github.com/example/shopmart/internal/utils"
)

// AuthHandler bundles dependencies for authentication endpoints.
type AuthHandler struct {
	users  repository.UserRepository
	otp    *services.OTPService
	cfg    *config.Config
	logger *zap.Logger
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(users repository.UserRepository, otp *services.OTPService, cfg *config.Config, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{users: users, otp: otp, cfg: cfg, logger: logger}
}

type registerRequest struct {
	Name     string `json:"name" form:"name"`
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Register creates an unverified account and mails a verification code.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	email, ok := parseEmail(req.Email)
	if !ok || strings.TrimSpace(req.Name) == "" || req.Password == "" {
		return fiber.NewError(fiber.StatusBadRequest, "name, valid email and password are required")
	}

	passwordHash, err := utils.HashPassword(req.Password)
	if err != nil {
		return err
	}

	user := models.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        email,
		PasswordHash: passwordHash,
		IsAdmin:      h.cfg.IsAdminEmail(email),
	}
	if err := h.users.Create(c.UserContext(), &user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return fiber.NewError(fiber.StatusConflict, "user already exists")
		}
		return err
	}

	if err := h.sendCode(c, user.Email, &user.ID, models.OTPPurposeGeneral); err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"user":               user,
			"verification_sent":  true,
			"code_expires_in_ms": h.otp.TTL().Milliseconds(),
		},
	})
}

type codeRequest struct {
	Email string `json:"email" form:"email"`
	Code  string `json:"code" form:"code"`
}

// VerifyEmail consumes a general-purpose code and marks the account verified.
func (h *AuthHandler) VerifyEmail(c *fiber.Ctx) error {
	var req codeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if _, err := h.otp.Verify(c.UserContext(), req.Email, models.OTPPurposeGeneral, req.Code); err != nil {
		return err
	}

	user, err := h.users.FindByEmail(c.UserContext(), req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return services.ErrInvalidOrExpiredCode
		}
		return err
	}

	now := time.Now()
	if err := h.users.MarkVerified(c.UserContext(), user.ID, now); err != nil {
		return err
	}
	if user.EmailVerifiedAt == nil {
		user.EmailVerifiedAt = &now
	}

	return h.respondWithToken(c, user)
}

type loginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Login checks the password and mails a login code. The token is only
// handed out by LoginVerify.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	user, err := h.users.FindByEmail(c.UserContext(), req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
		}
		return err
	}

	if !utils.CheckPassword(user.PasswordHash, req.Password) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
	}
	if !user.IsVerified() {
		return fiber.NewError(fiber.StatusForbidden, "email not verified")
	}

	if err := h.sendCode(c, user.Email, &user.ID, models.OTPPurposeLogin); err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"otp_required":       true,
			"code_expires_in_ms": h.otp.TTL().Milliseconds(),
		},
	})
}

// LoginVerify exchanges a login code for an access token.
func (h *AuthHandler) LoginVerify(c *fiber.Ctx) error {
	var req codeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if _, err := h.otp.Verify(c.UserContext(), req.Email, models.OTPPurposeLogin, req.Code); err != nil {
		return err
	}

	user, err := h.users.FindByEmail(c.UserContext(), req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return services.ErrInvalidOrExpiredCode
		}
		return err
	}

	return h.respondWithToken(c, user)
}

type resendRequest struct {
	Email   string            `json:"email" form:"email"`
	Purpose models.OTPPurpose `json:"purpose" form:"purpose"`
}

// ResendOTP reissues a general or login code. The response does not reveal
// whether the account exists.
func (h *AuthHandler) ResendOTP(c *fiber.Ctx) error {
	var req resendRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Purpose == "" {
		req.Purpose = models.OTPPurposeGeneral
	}
	if req.Purpose != models.OTPPurposeGeneral && req.Purpose != models.OTPPurposeLogin {
		return fiber.NewError(fiber.StatusBadRequest, "purpose must be general or login")
	}

	user, err := h.users.FindByEmail(c.UserContext(), req.Email)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return err
	case req.Purpose == models.OTPPurposeGeneral && user.IsVerified():
	case req.Purpose == models.OTPPurposeLogin && !user.IsVerified():
	default:
		if err := h.sendCode(c, user.Email, &user.ID, req.Purpose); err != nil {
			return err
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"message": "if the account exists, a new code has been sent"},
	})
}

// sendCode issues and mails a code. Delivery failures are logged only; the
// user can ask for a resend.
func (h *AuthHandler) sendCode(c *fiber.Ctx, email string, userID *uuid.UUID, purpose models.OTPPurpose) error {
	code, err := h.otp.Issue(c.UserContext(), services.IssueInput{Email: email, UserID: userID, Purpose: purpose})
	if err != nil {
		return err
	}
	if err := h.otp.Deliver(c.UserContext(), code); err != nil {
		h.logger.Warn("otp not delivered",
			zap.String("email", logger.MaskEmail(email)),
			zap.String("purpose", string(purpose)),
			zap.Error(err),
		)
	}
	return nil
}

func (h *AuthHandler) respondWithToken(c *fiber.Ctx, user *models.User) error {
	token, err := utils.GenerateToken(h.cfg.JWTSecret, user.ID, h.cfg.TokenExpires)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to generate token")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"user":  user,
			"token": token,
		},
	})
}

func parseEmail(raw string) (string, bool) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Name != "" {
		return "", false
	}
	return strings.ToLower(addr.Address), true
}
