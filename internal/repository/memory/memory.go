// Package memory implements the repository contracts in process memory. A
// single mutex plays the role of the database row locks, so every guarded
// operation is serialized exactly like its Postgres counterpart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/shopmart/internal/models"
	"github.com/example/shopmart/internal/repository"
)

// Store holds every table. Use the accessor methods to obtain repositories.
type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	users    map[uuid.UUID]models.User
	otps     []models.OtpCode
	balances map[uuid.UUID]models.LoyaltyPoint
	ledger   []models.LoyaltyTransaction
	coupons  map[uuid.UUID]models.Coupon
	orders   map[uuid.UUID]models.Order
}

func NewStore() *Store {
	return &Store{
		now:      time.Now,
		users:    make(map[uuid.UUID]models.User),
		balances: make(map[uuid.UUID]models.LoyaltyPoint),
		coupons:  make(map[uuid.UUID]models.Coupon),
		orders:   make(map[uuid.UUID]models.Order),
	}
}

// WithClock overrides the clock used for created_at/updated_at stamps.
func (s *Store) WithClock(clock func() time.Time) *Store {
	if clock != nil {
		s.now = clock
	}
	return s
}

func (s *Store) Users() *UserRepository      { return &UserRepository{s} }
func (s *Store) OTPCodes() *OTPRepository    { return &OTPRepository{s} }
func (s *Store) Loyalty() *LoyaltyRepository { return &LoyaltyRepository{s} }
func (s *Store) Coupons() *CouponRepository  { return &CouponRepository{s} }
func (s *Store) Orders() *OrderRepository    { return &OrderRepository{s} }

func (s *Store) stamp(base *models.BaseModel) {
	now := s.now()
	base.EnsureID()
	if base.CreatedAt.IsZero() {
		base.CreatedAt = now
	}
	base.UpdatedAt = now
}

// UserRepository is the in-memory repository.UserRepository.
type UserRepository struct{ s *Store }

var _ repository.UserRepository = (*UserRepository)(nil)

func (r *UserRepository) Create(_ context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	for _, existing := range r.s.users {
		if existing.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	r.s.stamp(&user.BaseModel)
	r.s.users[user.ID] = *user
	return nil
}

func (r *UserRepository) FindByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	user, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &user, nil
}

func (r *UserRepository) FindByEmail(_ context.Context, email string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for _, user := range r.s.users {
		if user.Email == email {
			return &user, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *UserRepository) MarkVerified(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	user, ok := r.s.users[id]
	if !ok {
		return nil
	}
	if user.EmailVerifiedAt == nil {
		user.EmailVerifiedAt = &at
		r.s.users[id] = user
	}
	return nil
}

func (r *UserRepository) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	user, ok := r.s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.PasswordHash = hash
	r.s.users[id] = user
	return nil
}

// OTPRepository is the in-memory repository.OTPRepository.
type OTPRepository struct{ s *Store }

var _ repository.OTPRepository = (*OTPRepository)(nil)

func (r *OTPRepository) Create(_ context.Context, code *models.OtpCode) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.stamp(&code.BaseModel)
	r.s.otps = append(r.s.otps, *code)
	return nil
}

func (r *OTPRepository) ExpireActive(_ context.Context, email string, purpose models.OTPPurpose, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for i := range r.s.otps {
		code := &r.s.otps[i]
		if code.Email == email && code.Purpose == purpose && code.IsActive(now) {
			code.ExpiresAt = now
			n++
		}
	}
	return n, nil
}

func (r *OTPRepository) Consume(_ context.Context, email string, purpose models.OTPPurpose, code string, now time.Time) (*models.OtpCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for i := len(r.s.otps) - 1; i >= 0; i-- {
		row := &r.s.otps[i]
		if row.Email != email || row.Purpose != purpose || row.Code != code || !row.IsActive(now) {
			continue
		}
		used := now
		row.UsedAt = &used
		out := *row
		return &out, nil
	}
	return nil, repository.ErrNotFound
}

func (r *OTPRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	kept := r.s.otps[:0]
	var deleted int64
	for _, row := range r.s.otps {
		if row.ExpiresAt.Before(now) {
			deleted++
			continue
		}
		kept = append(kept, row)
	}
	r.s.otps = kept
	return deleted, nil
}

// All returns a copy of every stored code, oldest first.
func (r *OTPRepository) All() []models.OtpCode {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return append([]models.OtpCode(nil), r.s.otps...)
}

// LoyaltyRepository is the in-memory repository.LoyaltyRepository.
type LoyaltyRepository struct{ s *Store }

var _ repository.LoyaltyRepository = (*LoyaltyRepository)(nil)

func (r *LoyaltyRepository) FindBalance(_ context.Context, userID uuid.UUID) (*models.LoyaltyPoint, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	balance, ok := r.s.balances[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &balance, nil
}

func (r *LoyaltyRepository) ListTransactions(_ context.Context, userID uuid.UUID, limit int) ([]models.LoyaltyTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []models.LoyaltyTransaction
	for i := len(r.s.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if r.s.ledger[i].UserID == userID {
			out = append(out, r.s.ledger[i])
		}
	}
	return out, nil
}

func (r *LoyaltyRepository) Apply(_ context.Context, entry repository.LedgerEntry, check func(*models.LoyaltyPoint) error) (*models.LoyaltyPoint, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	balance, ok := r.s.balances[entry.UserID]
	if !ok {
		balance = models.LoyaltyPoint{UserID: entry.UserID}
	}

	if check != nil {
		snapshot := balance
		if err := check(&snapshot); err != nil {
			return nil, err
		}
	}

	var order models.Order
	if entry.Stamp != repository.StampNone {
		if entry.OrderID == nil {
			return nil, fmt.Errorf("ledger stamp %d without order", entry.Stamp)
		}
		order, ok = r.s.orders[*entry.OrderID]
		if !ok {
			return nil, repository.ErrConflict
		}
		switch entry.Stamp {
		case repository.StampPointsEarned:
			if order.LoyaltyPointsEarned != 0 {
				return nil, repository.ErrConflict
			}
			order.LoyaltyPointsEarned = entry.Points
		case repository.StampPointsUsed:
			if order.LoyaltyPointsUsed != 0 {
				return nil, repository.ErrConflict
			}
			order.LoyaltyPointsUsed = -entry.Points
			order.DiscountFromPoints = entry.Discount
		}
	}

	entry.ApplyTo(&balance)
	r.s.stamp(&balance.BaseModel)
	r.s.balances[entry.UserID] = balance

	record := models.LoyaltyTransaction{
		UserID:      entry.UserID,
		OrderID:     entry.OrderID,
		Type:        entry.Type,
		Points:      entry.Points,
		OrderAmount: entry.OrderAmount,
		Description: entry.Description,
	}
	r.s.stamp(&record.BaseModel)
	r.s.ledger = append(r.s.ledger, record)

	if entry.Stamp != repository.StampNone {
		r.s.orders[order.ID] = order
	}

	out := balance
	return &out, nil
}

// CouponRepository is the in-memory repository.CouponRepository.
type CouponRepository struct{ s *Store }

var _ repository.CouponRepository = (*CouponRepository)(nil)

func (r *CouponRepository) Create(_ context.Context, coupon *models.Coupon) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	coupon.Code = strings.ToUpper(strings.TrimSpace(coupon.Code))
	for _, existing := range r.s.coupons {
		if existing.Code == coupon.Code {
			return repository.ErrDuplicate
		}
	}
	r.s.stamp(&coupon.BaseModel)
	r.s.coupons[coupon.ID] = *coupon
	return nil
}

func (r *CouponRepository) Update(_ context.Context, coupon *models.Coupon) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.coupons[coupon.ID]
	if !ok {
		return repository.ErrNotFound
	}
	coupon.Code = strings.ToUpper(strings.TrimSpace(coupon.Code))
	for id, other := range r.s.coupons {
		if id != coupon.ID && other.Code == coupon.Code {
			return repository.ErrDuplicate
		}
	}
	existing.Code = coupon.Code
	existing.DiscountPercent = coupon.DiscountPercent
	existing.MinOrderAmount = coupon.MinOrderAmount
	existing.StartsAt = coupon.StartsAt
	existing.EndsAt = coupon.EndsAt
	existing.IsActive = coupon.IsActive
	existing.UsageLimit = coupon.UsageLimit
	r.s.stamp(&existing.BaseModel)
	r.s.coupons[coupon.ID] = existing
	return nil
}

func (r *CouponRepository) FindByID(_ context.Context, id uuid.UUID) (*models.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	coupon, ok := r.s.coupons[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &coupon, nil
}

func (r *CouponRepository) FindByCode(_ context.Context, code string) (*models.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	code = strings.ToUpper(strings.TrimSpace(code))
	for _, coupon := range r.s.coupons {
		if coupon.Code == code {
			return &coupon, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *CouponRepository) List(_ context.Context, offset, limit int) ([]models.Coupon, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	all := make([]models.Coupon, 0, len(r.s.coupons))
	for _, coupon := range r.s.coupons {
		all = append(all, coupon)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *CouponRepository) Redeem(_ context.Context, couponID, orderID uuid.UUID, check func(*models.Coupon) (repository.CouponStamp, error)) (*models.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	coupon, ok := r.s.coupons[couponID]
	if !ok {
		return nil, repository.ErrNotFound
	}

	snapshot := coupon
	stamp, err := check(&snapshot)
	if err != nil {
		return nil, err
	}

	order, ok := r.s.orders[orderID]
	if !ok || order.CouponID != nil {
		return nil, repository.ErrConflict
	}

	coupon.UsedCount++
	r.s.coupons[couponID] = coupon

	id := coupon.ID
	order.CouponID = &id
	order.CouponDiscountPercent = stamp.Percent
	order.CouponDiscountAmount = stamp.Amount
	r.s.orders[orderID] = order

	out := coupon
	return &out, nil
}

func (r *CouponRepository) Release(_ context.Context, couponID, orderID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	order, ok := r.s.orders[orderID]
	if !ok || order.CouponID == nil || *order.CouponID != couponID {
		return repository.ErrNotFound
	}
	order.CouponID = nil
	order.CouponDiscountPercent = 0
	order.CouponDiscountAmount = decimal.Zero
	r.s.orders[orderID] = order

	if coupon, ok := r.s.coupons[couponID]; ok && coupon.UsedCount > 0 {
		coupon.UsedCount--
		r.s.coupons[couponID] = coupon
	}
	return nil
}

// OrderRepository is the in-memory repository.OrderRepository.
type OrderRepository struct{ s *Store }

var _ repository.OrderRepository = (*OrderRepository)(nil)

func (r *OrderRepository) Create(_ context.Context, order *models.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.orders {
		if existing.OrderNumber == order.OrderNumber {
			return repository.ErrDuplicate
		}
	}
	r.s.stamp(&order.BaseModel)
	for i := range order.Items {
		r.s.stamp(&order.Items[i].BaseModel)
		order.Items[i].OrderID = order.ID
	}
	stored := *order
	stored.Items = append([]models.OrderItem(nil), order.Items...)
	r.s.orders[order.ID] = stored
	return nil
}

func (r *OrderRepository) FindByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	order, ok := r.s.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &order, nil
}

func (r *OrderRepository) FindForUser(ctx context.Context, id, userID uuid.UUID) (*models.Order, error) {
	order, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return order, nil
}

func (r *OrderRepository) ListForUser(_ context.Context, userID uuid.UUID, status string, offset, limit int) ([]models.Order, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var all []models.Order
	for _, order := range r.s.orders {
		if order.UserID != userID || (status != "" && order.Status != status) {
			continue
		}
		all = append(all, order)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].PlacedAt.After(all[j].PlacedAt) })

	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *OrderRepository) SetStatus(_ context.Context, id uuid.UUID, status string, allow func(string) error) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	order, ok := r.s.orders[id]
	if !ok {
		return "", repository.ErrNotFound
	}
	previous := order.Status
	if allow != nil {
		if err := allow(previous); err != nil {
			return previous, err
		}
	}
	order.Status = status
	r.s.orders[id] = order
	return previous, nil
}

func (r *OrderRepository) SetTotal(_ context.Context, id uuid.UUID, total decimal.Decimal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	order, ok := r.s.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	order.TotalAmount = total
	r.s.orders[id] = order
	return nil
}
