package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/example/shopmart/internal/middleware"
	"github.com/example/shopmart/internal/repository"
	"github.com/example/shopmart/internal/services"
)

// ProfileHandler manages user profile endpoints.
type ProfileHandler struct {
	users   repository.UserRepository
	loyalty *services.LoyaltyService
}

// NewProfileHandler constructs ProfileHandler.
func NewProfileHandler(users repository.UserRepository, loyalty *services.LoyaltyService) *ProfileHandler {
	return &ProfileHandler{users: users, loyalty: loyalty}
}

// GetProfile returns the authenticated user together with their points balance.
func (h *ProfileHandler) GetProfile(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	user, err := h.users.FindByID(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "user not found")
		}
		return err
	}

	balance, err := h.loyalty.GetBalance(c.UserContext(), userID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"id":                user.ID,
			"name":              user.Name,
			"email":             user.Email,
			"email_verified_at": user.EmailVerifiedAt,
			"is_admin":          user.IsAdmin,
			"created_at":        user.CreatedAt,
			"loyalty":           balance,
		},
	})
}
