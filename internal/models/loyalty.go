package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LoyaltyPoint is the running balance of a user. Points always equal
// TotalEarned minus TotalRedeemed.
type LoyaltyPoint struct {
	BaseModel
	UserID        uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"user_id"`
	Points        int64     `json:"points"`
	TotalEarned   int64     `json:"total_earned"`
	TotalRedeemed int64     `json:"total_redeemed"`
}

// LoyaltyTransactionType classifies ledger entries.
type LoyaltyTransactionType string

const (
	LoyaltyEarned   LoyaltyTransactionType = "earned"
	LoyaltyRedeemed LoyaltyTransactionType = "redeemed"
	LoyaltyExpired  LoyaltyTransactionType = "expired"
	LoyaltyAdjusted LoyaltyTransactionType = "adjusted"
)

// LoyaltyTransaction is an append-only ledger entry. Points is a signed delta.
type LoyaltyTransaction struct {
	BaseModel
	UserID      uuid.UUID              `gorm:"type:uuid;index" json:"user_id"`
	OrderID     *uuid.UUID             `gorm:"type:uuid;index" json:"order_id"`
	Type        LoyaltyTransactionType `gorm:"type:varchar(16)" json:"type"`
	Points      int64                  `json:"points"`
	OrderAmount decimal.Decimal        `gorm:"type:numeric(12,2);default:0" json:"order_amount"`
	Description string                 `json:"description"`
}
