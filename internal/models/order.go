package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order statuses.
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
)

type Order struct {
	BaseModel
	UserID      uuid.UUID       `gorm:"type:uuid;index" json:"user_id"`
	User        *User           `json:"user,omitempty"`
	OrderNumber string          `gorm:"uniqueIndex" json:"order_number"`
	Status      string          `json:"status"`
	PlacedAt    time.Time       `json:"placed_at"`
	Subtotal    decimal.Decimal `gorm:"type:numeric(12,2)" json:"subtotal"`
	TotalAmount decimal.Decimal `gorm:"type:numeric(12,2)" json:"total_amount"`
	Currency    string          `json:"currency"`
	Notes       string          `json:"notes"`

	LoyaltyPointsUsed   int64           `json:"loyalty_points_used"`
	LoyaltyPointsEarned int64           `json:"loyalty_points_earned"`
	DiscountFromPoints  decimal.Decimal `gorm:"type:numeric(12,2);default:0" json:"discount_from_points"`

	CouponID              *uuid.UUID      `gorm:"type:uuid" json:"coupon_id"`
	CouponDiscountPercent int             `json:"coupon_discount_percent"`
	CouponDiscountAmount  decimal.Decimal `gorm:"type:numeric(12,2);default:0" json:"coupon_discount_amount"`

	Items []OrderItem `json:"items,omitempty"`
}

type OrderItem struct {
	BaseModel
	OrderID     uuid.UUID       `gorm:"type:uuid;index" json:"order_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(12,2)" json:"unit_price"`
	LineTotal   decimal.Decimal `gorm:"type:numeric(12,2)" json:"line_total"`
}
