package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/shopmart/internal/models"
	"github.com/example/shopmart/internal/repository"
)

type OTPRepository struct {
	db *gorm.DB
}

func NewOTPRepository(db *gorm.DB) *OTPRepository {
	return &OTPRepository{db: db}
}

var _ repository.OTPRepository = (*OTPRepository)(nil)

func (r *OTPRepository) Create(ctx context.Context, code *models.OtpCode) error {
	return translate(r.db.WithContext(ctx).Create(code).Error)
}

func (r *OTPRepository) ExpireActive(ctx context.Context, email string, purpose models.OTPPurpose, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.OtpCode{}).
		Where("email = ? AND purpose = ? AND used_at IS NULL AND expires_at > ?", email, purpose, now).
		Update("expires_at", now)
	return res.RowsAffected, translate(res.Error)
}

func (r *OTPRepository) Consume(ctx context.Context, email string, purpose models.OTPPurpose, code string, now time.Time) (*models.OtpCode, error) {
	var consumed models.OtpCode
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// A concurrent consumer blocks on the lock and then re-checks used_at,
		// so only one of them sees the row.
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("email = ? AND purpose = ? AND code = ? AND used_at IS NULL AND expires_at > ?", email, purpose, code, now).
			Order("created_at desc").
			First(&consumed).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.OtpCode{}).
			Where("id = ?", consumed.ID).
			Update("used_at", now).Error; err != nil {
			return err
		}
		consumed.UsedAt = &now
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return &consumed, nil
}

func (r *OTPRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.OtpCode{})
	return res.RowsAffected, translate(res.Error)
}
