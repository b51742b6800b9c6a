package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/shopmart/internal/config"
	"github.com/example/shopmart/internal/handlers"
	"github.com/example/shopmart/internal/middleware"
	"github.com/example/shopmart/internal/models"
	"github.com/example/shopmart/internal/ratelimit"
	"github.com/example/shopmart/internal/repository"
	"github.com/example/shopmart/internal/services"
)

// Deps carries everything the HTTP layer needs. DB and Gatherer are optional.
type Deps struct {
	Config   *config.Config
	Logger   *zap.Logger
	Users    repository.UserRepository
	OTP      *services.OTPService
	Loyalty  *services.LoyaltyService
	Coupons  *services.CouponService
	Checkout *services.CheckoutService
	Limiter  ratelimit.Limiter
	DB       handlers.Pinger
	Gatherer prometheus.Gatherer
}

// Register wires up all HTTP routes.
func Register(app *fiber.App, d Deps) {
	authHandler := handlers.NewAuthHandler(d.Users, d.OTP, d.Config, d.Logger)
	resetHandler := handlers.NewPasswordResetHandler(d.Users, d.OTP, d.Logger)
	loyaltyHandler := handlers.NewLoyaltyHandler(d.Loyalty)
	couponHandler := handlers.NewCouponHandler(d.Coupons)
	orderHandler := handlers.NewOrderHandler(d.Checkout)
	profileHandler := handlers.NewProfileHandler(d.Users, d.Loyalty)
	adminHandler := handlers.NewAdminHandler(d.Users, d.Coupons, d.Loyalty, d.Checkout, d.Logger)

	app.Get("/healthz", handlers.Health(d.DB))
	if d.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api")

	throttle := func(purpose models.OTPPurpose) fiber.Handler {
		return middleware.OTPThrottle(d.Limiter, purpose, d.Logger)
	}

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/register", throttle(models.OTPPurposeGeneral), authHandler.Register)
	auth.Post("/verify-email", authHandler.VerifyEmail)
	auth.Post("/login", throttle(models.OTPPurposeLogin), authHandler.Login)
	auth.Post("/login/verify", authHandler.LoginVerify)
	auth.Post("/otp/resend", throttle(""), authHandler.ResendOTP)

	password := auth.Group("/password")
	password.Post("/forgot", throttle(models.OTPPurposePasswordReset), resetHandler.ForgotPassword)
	password.Post("/verify", resetHandler.VerifyResetCode)
	password.Post("/reset", resetHandler.ResetPassword)

	// Protected routes
	protected := api.Group("", middleware.AuthMiddleware(d.Config))

	protected.Get("/profile", profileHandler.GetProfile)

	protected.Get("/loyalty/balance", loyaltyHandler.GetBalance)
	protected.Get("/loyalty/transactions", loyaltyHandler.GetTransactions)
	protected.Post("/loyalty/redeem/preview", loyaltyHandler.PreviewRedemption)

	protected.Post("/coupons/validate", couponHandler.Validate)

	protected.Post("/orders", orderHandler.CreateOrder)
	protected.Get("/orders", orderHandler.ListOrders)
	protected.Get("/orders/:id", orderHandler.GetOrder)

	// Admin routes
	admin := protected.Group("/admin", middleware.AdminOnly(d.Users))

	admin.Get("/coupons", adminHandler.ListCoupons)
	admin.Post("/coupons", adminHandler.CreateCoupon)
	admin.Get("/coupons/:id", adminHandler.GetCoupon)
	admin.Put("/coupons/:id", adminHandler.UpdateCoupon)
	admin.Delete("/coupons/:id", adminHandler.DeactivateCoupon)

	admin.Put("/orders/:id/status", adminHandler.UpdateOrderStatus)

	admin.Post("/users/:id/loyalty/adjust", adminHandler.AdjustPoints)
}
