package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Coupon grants a percentage discount inside an optional activity window.
// Nil StartsAt/EndsAt leave that side of the window open, nil UsageLimit
// means unlimited.
type Coupon struct {
	BaseModel
	Code            string          `gorm:"uniqueIndex" json:"code"`
	DiscountPercent int             `json:"discount_percent"`
	MinOrderAmount  decimal.Decimal `gorm:"type:numeric(12,2);default:0" json:"min_order_amount"`
	StartsAt        *time.Time      `json:"starts_at"`
	EndsAt          *time.Time      `json:"ends_at"`
	IsActive        bool            `json:"is_active"`
	UsageLimit      *int            `json:"usage_limit"`
	UsedCount       int             `json:"used_count"`
}

// Exhausted reports whether a limited coupon has no redemptions left.
func (c *Coupon) Exhausted() bool {
	return c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit
}
