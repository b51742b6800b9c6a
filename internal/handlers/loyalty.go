package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/shopmart/internal/middleware"
	"github.com/example/shopmart/internal/services"
)

// LoyaltyHandler exposes the caller's points balance and ledger.
type LoyaltyHandler struct {
	loyalty *services.LoyaltyService
}

// NewLoyaltyHandler constructs LoyaltyHandler.
func NewLoyaltyHandler(loyalty *services.LoyaltyService) *LoyaltyHandler {
	return &LoyaltyHandler{loyalty: loyalty}
}

// GetBalance returns the authenticated user's balance.
func (h *LoyaltyHandler) GetBalance(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	balance, err := h.loyalty.GetBalance(c.UserContext(), userID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": balance})
}

// GetTransactions returns the newest ledger entries, ?limit bounded to 100.
func (h *LoyaltyHandler) GetTransactions(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	records, err := h.loyalty.GetTransactionHistory(c.UserContext(), userID, c.QueryInt("limit", 0))
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": records})
}

type redeemPreviewRequest struct {
	Points int64 `json:"points"`
}

// PreviewRedemption quotes a redemption without touching the balance.
func (h *LoyaltyHandler) PreviewRedemption(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req redeemPreviewRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	quote, err := h.loyalty.RedeemPoints(c.UserContext(), userID, req.Points)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": quote})
}
