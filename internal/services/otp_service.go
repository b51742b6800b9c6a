package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/shopmart/internal/logger"
	"github.com/example/shopmart/internal/models"
	"github.com/example/shopmart/internal/repository"
)

// Code lengths accepted by NewOTPService; others are clamped into range.
const (
	MinOTPLength = 4
	MaxOTPLength = 10
)

// OTPConfig controls code shape and lifetime.
type OTPConfig struct {
	TTL    time.Duration
	Length int
}

// OTPService issues, verifies and purges one-time codes.
type OTPService struct {
	repo    repository.OTPRepository
	cfg     OTPConfig
	mailer  Mailer
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
	random  io.Reader
}

// NewOTPService constructs an OTPService. A zero TTL defaults to five minutes
// and a zero length to six digits. Other lengths are clamped to
// MinOTPLength..MaxOTPLength.
func NewOTPService(repo repository.OTPRepository, cfg OTPConfig, mailer Mailer, logger *zap.Logger, metrics *Metrics) *OTPService {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	switch {
	case cfg.Length <= 0:
		cfg.Length = 6
	case cfg.Length < MinOTPLength:
		cfg.Length = MinOTPLength
	case cfg.Length > MaxOTPLength:
		cfg.Length = MaxOTPLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OTPService{
		repo:    repo,
		cfg:     cfg,
		mailer:  mailer,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		random:  rand.Reader,
	}
}

// WithClock overrides the internal clock, used in tests.
func (s *OTPService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// TTL returns the configured code lifetime.
func (s *OTPService) TTL() time.Duration {
	return s.cfg.TTL
}

// IssueInput identifies the owner and flow a code is issued for.
type IssueInput struct {
	Email   string
	UserID  *uuid.UUID
	Purpose models.OTPPurpose
}

// Issue supersedes the owner's active code for the purpose and stores a fresh one.
func (s *OTPService) Issue(ctx context.Context, in IssueInput) (*models.OtpCode, error) {
	email := normalizeEmail(in.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidOTPRequest)
	}
	if !in.Purpose.Valid() {
		return nil, fmt.Errorf("%w: unknown purpose %q", ErrInvalidOTPRequest, in.Purpose)
	}

	value, err := s.generateCode()
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}

	now := s.now()
	if _, err := s.repo.ExpireActive(ctx, email, in.Purpose, now); err != nil {
		return nil, fmt.Errorf("expire previous otp: %w", err)
	}

	code := &models.OtpCode{
		UserID:    in.UserID,
		Email:     email,
		Code:      value,
		Purpose:   in.Purpose,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	if err := s.repo.Create(ctx, code); err != nil {
		return nil, fmt.Errorf("store otp: %w", err)
	}

	s.metrics.otpIssued(string(in.Purpose))
	s.logger.Info("otp issued",
		zap.String("email", logger.MaskEmail(email)),
		zap.String("purpose", string(in.Purpose)),
		zap.Time("expires_at", code.ExpiresAt),
	)
	return code, nil
}

// Verify consumes the active code matching submitted. Wrong, used and expired
// codes all yield ErrInvalidOrExpiredCode.
func (s *OTPService) Verify(ctx context.Context, email string, purpose models.OTPPurpose, submitted string) (*models.OtpCode, error) {
	email = normalizeEmail(email)
	submitted = strings.TrimSpace(submitted)

	if email == "" || !purpose.Valid() || !s.wellFormed(submitted) {
		s.metrics.otpVerified(string(purpose), false)
		return nil, ErrInvalidOrExpiredCode
	}

	code, err := s.repo.Consume(ctx, email, purpose, submitted, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.metrics.otpVerified(string(purpose), false)
			return nil, ErrInvalidOrExpiredCode
		}
		return nil, fmt.Errorf("consume otp: %w", err)
	}

	s.metrics.otpVerified(string(purpose), true)
	return code, nil
}

// CleanupExpired deletes every code whose expiry has passed and reports how
// many rows went away. Used codes that have not expired yet are kept.
func (s *OTPService) CleanupExpired(ctx context.Context) (int64, error) {
	deleted, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired otp: %w", err)
	}
	s.metrics.otpCleaned(deleted)
	s.logger.Info("expired otp codes removed", zap.Int64("deleted", deleted))
	return deleted, nil
}

// Deliver mails the code to its owner.
func (s *OTPService) Deliver(ctx context.Context, code *models.OtpCode) error {
	if s.mailer == nil {
		return errors.New("otp mailer not configured")
	}
	subject, body := OTPMessage(code.Purpose, code.Code, s.cfg.TTL)
	if err := s.mailer.Send(ctx, code.Email, subject, body); err != nil {
		s.logger.Warn("otp delivery failed",
			zap.String("email", logger.MaskEmail(code.Email)),
			zap.String("purpose", string(code.Purpose)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Run satisfies the scheduler job contract.
func (s *OTPService) Run(ctx context.Context) error {
	_, err := s.CleanupExpired(ctx)
	return err
}

func (s *OTPService) generateCode() (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(s.cfg.Length)), nil)
	n, err := rand.Int(s.random, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*s", s.cfg.Length, n.String()), nil
}

func (s *OTPService) wellFormed(code string) bool {
	if len(code) != s.cfg.Length {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
