package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered customer or back-office operator.
type User struct {
	BaseModel
	Name            string     `json:"name"`
	Email           string     `gorm:"uniqueIndex" json:"email"`
	PasswordHash    string     `json:"-"`
	EmailVerifiedAt *time.Time `json:"email_verified_at"`
	IsAdmin         bool       `json:"is_admin"`
	Orders          []Order    `json:"orders,omitempty"`
}

// IsVerified reports whether the user confirmed their email address.
func (u *User) IsVerified() bool {
	return u.EmailVerifiedAt != nil
}

// OTPPurpose scopes a one-time code to the flow that requested it.
type OTPPurpose string

const (
	OTPPurposeLogin         OTPPurpose = "login"
	OTPPurposePasswordReset OTPPurpose = "password_reset"
	OTPPurposeGeneral       OTPPurpose = "general"
	OTPPurposeResetToken    OTPPurpose = "reset_token"
)

// Valid reports whether p is one of the known purposes.
func (p OTPPurpose) Valid() bool {
	switch p {
	case OTPPurposeLogin, OTPPurposePasswordReset, OTPPurposeGeneral, OTPPurposeResetToken:
		return true
	}
	return false
}

// OtpCode keeps track of one-time codes sent to users. The email column is the
// owner key so codes can be issued before the account exists.
type OtpCode struct {
	BaseModel
	UserID    *uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	Email     string     `gorm:"index:idx_otp_owner_purpose" json:"email"`
	Code      string     `json:"-"`
	Purpose   OTPPurpose `gorm:"type:varchar(32);index:idx_otp_owner_purpose" json:"purpose"`
	ExpiresAt time.Time  `gorm:"index" json:"expires_at"`
	UsedAt    *time.Time `json:"used_at"`
}

// IsActive reports whether the code is unused and not yet expired at now.
func (o *OtpCode) IsActive(now time.Time) bool {
	return o.UsedAt == nil && now.Before(o.ExpiresAt)
}
