package services

import "errors"

// OTP lifecycle failures. Every verification failure collapses into
// ErrInvalidOrExpiredCode so callers cannot tell a wrong code from a used or
// expired one.
var (
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	ErrInvalidOTPRequest    = errors.New("invalid otp request")
)

// Loyalty ledger failures.
var (
	ErrBelowMinimumRedemption     = errors.New("points below minimum redemption")
	ErrInvalidRedemptionIncrement = errors.New("points must be redeemed in fixed increments")
	ErrInsufficientPoints         = errors.New("insufficient points")
	ErrPointsAlreadyAwarded       = errors.New("points already awarded for order")
	ErrPointsAlreadyApplied       = errors.New("points already applied to order")
	ErrInvalidAdjustment          = errors.New("invalid points adjustment")
	ErrOrderNotOwned              = errors.New("order belongs to another user")
)

// Coupon failures, listed in the order Validate checks them.
var (
	ErrCouponNotFound    = errors.New("coupon not found")
	ErrCouponInactive    = errors.New("coupon is inactive")
	ErrCouponNotYetValid = errors.New("coupon is not yet valid")
	ErrCouponExpired     = errors.New("coupon has expired")
	ErrCouponExhausted   = errors.New("coupon usage limit reached")
	ErrOrderBelowMinimum = errors.New("order below coupon minimum")
	ErrCouponApplied     = errors.New("order already has a coupon")
	ErrInvalidCoupon     = errors.New("invalid coupon")
	ErrCouponCodeTaken   = errors.New("coupon code already exists")
)

// Checkout failures.
var (
	ErrInvalidOrder      = errors.New("invalid order")
	ErrOrderNotFound     = errors.New("order not found")
	ErrPointsExceedTotal = errors.New("points discount exceeds order total")
	ErrInvalidStatus     = errors.New("invalid order status")
)
