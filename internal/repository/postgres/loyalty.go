package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/shopmart/internal/models"
	"github.com/example/shopmart/internal/repository"
)

type LoyaltyRepository struct {
	db *gorm.DB
}

func NewLoyaltyRepository(db *gorm.DB) *LoyaltyRepository {
	return &LoyaltyRepository{db: db}
}

var _ repository.LoyaltyRepository = (*LoyaltyRepository)(nil)

func (r *LoyaltyRepository) FindBalance(ctx context.Context, userID uuid.UUID) (*models.LoyaltyPoint, error) {
	var balance models.LoyaltyPoint
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error; err != nil {
		return nil, translate(err)
	}
	return &balance, nil
}

func (r *LoyaltyRepository) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.LoyaltyTransaction, error) {
	var items []models.LoyaltyTransaction
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *LoyaltyRepository) Apply(ctx context.Context, entry repository.LedgerEntry, check func(*models.LoyaltyPoint) error) (*models.LoyaltyPoint, error) {
	var balance models.LoyaltyPoint
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if entry.Points > 0 {
			seed := models.LoyaltyPoint{UserID: entry.UserID}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}},
				DoNothing: true,
			}).Create(&seed).Error; err != nil {
				return err
			}
		}

		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", entry.UserID).
			First(&balance).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			balance = models.LoyaltyPoint{UserID: entry.UserID}
		case err != nil:
			return err
		}

		if check != nil {
			if err := check(&balance); err != nil {
				return err
			}
		}

		entry.ApplyTo(&balance)
		if balance.ID == uuid.Nil {
			if err := tx.Create(&balance).Error; err != nil {
				return err
			}
		} else if err := tx.Model(&models.LoyaltyPoint{}).
			Where("id = ?", balance.ID).
			Updates(map[string]any{
				"points":         balance.Points,
				"total_earned":   balance.TotalEarned,
				"total_redeemed": balance.TotalRedeemed,
			}).Error; err != nil {
			return err
		}

		record := models.LoyaltyTransaction{
			UserID:      entry.UserID,
			OrderID:     entry.OrderID,
			Type:        entry.Type,
			Points:      entry.Points,
			OrderAmount: entry.OrderAmount,
			Description: entry.Description,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}

		return stampOrder(tx, entry)
	})
	if err != nil {
		return nil, translate(err)
	}
	return &balance, nil
}

// stampOrder writes the loyalty columns once per order; a second stamp of the
// same kind affects no rows and is reported as a conflict.
func stampOrder(tx *gorm.DB, entry repository.LedgerEntry) error {
	if entry.Stamp == repository.StampNone {
		return nil
	}
	if entry.OrderID == nil {
		return fmt.Errorf("ledger stamp %d without order", entry.Stamp)
	}

	var res *gorm.DB
	switch entry.Stamp {
	case repository.StampPointsEarned:
		res = tx.Model(&models.Order{}).
			Where("id = ? AND loyalty_points_earned = 0", *entry.OrderID).
			Update("loyalty_points_earned", entry.Points)
	case repository.StampPointsUsed:
		res = tx.Model(&models.Order{}).
			Where("id = ? AND loyalty_points_used = 0", *entry.OrderID).
			Updates(map[string]any{
				"loyalty_points_used":  -entry.Points,
				"discount_from_points": entry.Discount,
			})
	default:
		return fmt.Errorf("unknown ledger stamp %d", entry.Stamp)
	}
	return ensureAffected(res, repository.ErrConflict)
}
