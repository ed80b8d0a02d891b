package models

import (
	"time"
)

// DeliveryValidationSession binds a scanned QR to an OTP challenge.
// Only hashes are stored: the raw session token goes back to the client
// once and is compared via its hash on every later call.
type DeliveryValidationSession struct {
	ID               string    `gorm:"primaryKey;type:uuid" json:"id"`
	QrID             string    `gorm:"index;not null" json:"qrId"`
	SessionTokenHash string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	OtpHash          string    `gorm:"type:varchar(64);not null" json:"-"`
	OtpSalt          string    `gorm:"type:varchar(64);not null" json:"-"`
	OtpVerified      bool      `gorm:"default:false" json:"otpVerified"`
	Invalidated      bool      `gorm:"default:false" json:"-"`
	ExpiresAt        time.Time `gorm:"not null;index" json:"expiresAt"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (DeliveryValidationSession) TableName() string {
	return "delivery_validation_sessions"
}

// IsLive reports whether the session can still authorize OTP-gated calls
func (s *DeliveryValidationSession) IsLive(now time.Time) bool {
	return !s.Invalidated && now.Before(s.ExpiresAt)
}

// OTP attempt kinds
const (
	OtpAttemptIssue  = "issue"
	OtpAttemptVerify = "verify"
)

// DeliveryOtpAttempt is the persisted attempt history backing the rolling
// rate-limit window. Handlers are stateless, so in-memory counters would
// not survive restarts or multiple nodes.
type DeliveryOtpAttempt struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	QrID      string    `gorm:"index:idx_attempt_window;not null" json:"qrId"`
	Kind      string    `gorm:"index:idx_attempt_window;type:varchar(10);not null" json:"kind"`
	CreatedAt time.Time `gorm:"index:idx_attempt_window" json:"createdAt"`
}

// TableName specifies the table name
func (DeliveryOtpAttempt) TableName() string {
	return "delivery_otp_attempts"
}
