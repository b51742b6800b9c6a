package postgres

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/shopmart/internal/models"
	"github.com/example/shopmart/internal/repository"
)

type CouponRepository struct {
	db *gorm.DB
}

func NewCouponRepository(db *gorm.DB) *CouponRepository {
	return &CouponRepository{db: db}
}

var _ repository.CouponRepository = (*CouponRepository)(nil)

func (r *CouponRepository) Create(ctx context.Context, coupon *models.Coupon) error {
	coupon.Code = normalizeCode(coupon.Code)
	return translate(r.db.WithContext(ctx).Create(coupon).Error)
}

func (r *CouponRepository) Update(ctx context.Context, coupon *models.Coupon) error {
	coupon.Code = normalizeCode(coupon.Code)
	res := r.db.WithContext(ctx).Model(&models.Coupon{}).
		Where("id = ?", coupon.ID).
		Updates(map[string]any{
			"code":             coupon.Code,
			"discount_percent": coupon.DiscountPercent,
			"min_order_amount": coupon.MinOrderAmount,
			"starts_at":        coupon.StartsAt,
			"ends_at":          coupon.EndsAt,
			"is_active":        coupon.IsActive,
			"usage_limit":      coupon.UsageLimit,
		})
	return ensureAffected(res, repository.ErrNotFound)
}

func (r *CouponRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	var coupon models.Coupon
	if err := r.db.WithContext(ctx).First(&coupon, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &coupon, nil
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	if err := r.db.WithContext(ctx).Where("code = ?", normalizeCode(code)).First(&coupon).Error; err != nil {
		return nil, translate(err)
	}
	return &coupon, nil
}

func (r *CouponRepository) List(ctx context.Context, offset, limit int) ([]models.Coupon, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Coupon{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var coupons []models.Coupon
	if err := query.Order("created_at desc").
		Limit(limit).Offset(offset).
		Find(&coupons).Error; err != nil {
		return nil, 0, err
	}
	return coupons, total, nil
}

func (r *CouponRepository) Redeem(ctx context.Context, couponID, orderID uuid.UUID, check func(*models.Coupon) (repository.CouponStamp, error)) (*models.Coupon, error) {
	var coupon models.Coupon
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Simultaneous checkouts queue on this lock, so the limit check below
		// always sees the latest used_count.
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&coupon, "id = ?", couponID).Error; err != nil {
			return err
		}

		stamp, err := check(&coupon)
		if err != nil {
			return err
		}

		if err := tx.Model(&models.Coupon{}).
			Where("id = ?", coupon.ID).
			UpdateColumn("used_count", gorm.Expr("used_count + 1")).Error; err != nil {
			return err
		}
		coupon.UsedCount++

		res := tx.Model(&models.Order{}).
			Where("id = ? AND coupon_id IS NULL", orderID).
			Updates(map[string]any{
				"coupon_id":               coupon.ID,
				"coupon_discount_percent": stamp.Percent,
				"coupon_discount_amount":  stamp.Amount,
			})
		return ensureAffected(res, repository.ErrConflict)
	})
	if err != nil {
		return nil, translate(err)
	}
	return &coupon, nil
}

func (r *CouponRepository) Release(ctx context.Context, couponID, orderID uuid.UUID) error {
	return translate(r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Order{}).
			Where("id = ? AND coupon_id = ?", orderID, couponID).
			Updates(map[string]any{
				"coupon_id":               nil,
				"coupon_discount_percent": 0,
				"coupon_discount_amount":  0,
			})
		if err := ensureAffected(res, repository.ErrNotFound); err != nil {
			return err
		}

		return tx.Model(&models.Coupon{}).
			Where("id = ? AND used_count > 0", couponID).
			UpdateColumn("used_count", gorm.Expr("used_count - 1")).Error
	}))
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
