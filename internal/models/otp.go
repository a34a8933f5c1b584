package models

import "time"

// OTPToken is a one-time password issued for a password reset. At most one
// un-used, un-expired token exists per user; issuing a new one invalidates
// the rest.
type OTPToken struct {
	ID          string    `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"user_id"`
	Token       string    `db:"token" json:"-"`
	ExpiresAt   time.Time `db:"expires_at" json:"expires_at"`
	Attempts    int       `db:"attempts" json:"attempts"`
	MaxAttempts int       `db:"max_attempts" json:"max_attempts"`
	Used        bool      `db:"used" json:"used"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ResetAttempt is an append-only record driving rate limiting over a
// sliding one-hour window.
type ResetAttempt struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	IPAddress string    `db:"ip_address" json:"ip_address"`
	Success   bool      `db:"success" json:"success"`
	UserAgent string    `db:"user_agent" json:"user_agent"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// OTPRequest initiates a password reset.
type OTPRequest struct {
	Email     string `json:"email" validate:"required,email"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// OTPVerifyRequest validates a code without consuming it.
type OTPVerifyRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,len=6,numeric"`
}

// OTPConfirmRequest completes the reset with a new password.
type OTPConfirmRequest struct {
	Email              string `json:"email" validate:"required,email"`
	OTP                string `json:"otp" validate:"required,len=6,numeric"`
	NewPassword        string `json:"new_password" validate:"required,min=8"`
	NewPasswordConfirm string `json:"new_password_confirm" validate:"required,eqfield=NewPassword"`
}
