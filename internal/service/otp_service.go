package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/edupoint/slms-api/internal/models"
	appErrors "github.com/edupoint/slms-api/pkg/errors"
	"github.com/edupoint/slms-api/pkg/mailer"
)

type otpRepository interface {
	Issue(ctx context.Context, token *models.OTPToken) error
	FindActiveByUser(ctx context.Context, userID string) (*models.OTPToken, error)
	IncrementAttempts(ctx context.Context, id string) (int, error)
	MarkUsed(ctx context.Context, id string) error
	RecordAttempt(ctx context.Context, attempt *models.ResetAttempt) error
	CountSuccessByEmailSince(ctx context.Context, email string, since time.Time) (int, error)
	CountByIPSince(ctx context.Context, ip string, since time.Time) (int, error)
}

type otpUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// OTPConfig bounds the password reset flow.
type OTPConfig struct {
	Expiry            time.Duration
	MaxAttempts       int
	MaxPerEmailHourly int
	MaxPerIPHourly    int
}

// OTPService implements the three-step password reset: issue, verify,
// confirm. Request and verify are enumeration-resistant: their responses
// and log shapes are identical whether the account exists, is ineligible
// or is rate limited by email.
type OTPService struct {
	otps      otpRepository
	users     otpUserRepository
	mail      mailer.Mailer
	validator *validator.Validate
	logger    *zap.Logger
	config    OTPConfig
}

// NewOTPService constructs the service.
func NewOTPService(otps otpRepository, users otpUserRepository, mail mailer.Mailer, validate *validator.Validate, logger *zap.Logger, config OTPConfig) *OTPService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.Expiry <= 0 {
		config.Expiry = 10 * time.Minute
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.MaxPerEmailHourly <= 0 {
		config.MaxPerEmailHourly = 3
	}
	if config.MaxPerIPHourly <= 0 {
		config.MaxPerIPHourly = 6
	}
	return &OTPService{otps: otps, users: users, mail: mail, validator: validate, logger: logger, config: config}
}

// Request issues a reset code when the email maps to an eligible account.
// The return value is nil for unknown and ineligible emails alike; only the
// IP rate limit surfaces an error, since it reveals nothing about accounts.
func (s *OTPService) Request(ctx context.Context, req models.OTPRequest, allowedRoles ...models.UserRole) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reset payload")
	}

	hourAgo := time.Now().UTC().Add(-time.Hour)
	ipCount, err := s.otps.CountByIPSince(ctx, req.IP, hourAgo)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "rate limit check failed")
	}
	if ipCount >= s.config.MaxPerIPHourly {
		return appErrors.Clone(appErrors.ErrRateLimited, "too many reset requests from this address")
	}

	issued := s.tryIssue(ctx, req, allowedRoles)

	if err := s.otps.RecordAttempt(ctx, &models.ResetAttempt{
		Email:     req.Email,
		IPAddress: req.IP,
		Success:   issued,
		UserAgent: req.UserAgent,
	}); err != nil {
		s.logger.Error("failed to record reset attempt", zap.Error(err))
	}
	// One log shape for every outcome below the rate limiter.
	s.logger.Info("password reset request processed", zap.String("ip", req.IP))
	return nil
}

func (s *OTPService) tryIssue(ctx context.Context, req models.OTPRequest, allowedRoles []models.UserRole) bool {
	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Error("failed to load account for reset", zap.Error(err))
		}
		return false
	}
	if !user.Active || !roleAllowed(user.Role, allowedRoles) {
		return false
	}

	hourAgo := time.Now().UTC().Add(-time.Hour)
	emailCount, err := s.otps.CountSuccessByEmailSince(ctx, req.Email, hourAgo)
	if err != nil {
		s.logger.Error("email rate limit check failed", zap.Error(err))
		return false
	}
	if emailCount >= s.config.MaxPerEmailHourly {
		return false
	}

	code, err := generateOTP()
	if err != nil {
		s.logger.Error("failed to generate reset code", zap.Error(err))
		return false
	}
	token := &models.OTPToken{
		UserID:      user.ID,
		Token:       code,
		ExpiresAt:   time.Now().UTC().Add(s.config.Expiry),
		MaxAttempts: s.config.MaxAttempts,
	}
	if err := s.otps.Issue(ctx, token); err != nil {
		s.logger.Error("failed to persist reset code", zap.Error(err))
		return false
	}

	if err := s.mail.Send(ctx, mailer.Message{
		ToName:  user.FullName,
		ToEmail: user.Email,
		Subject: "Password Reset Code",
		TextBody: fmt.Sprintf("Your password reset code is %s. It expires in %d minutes.",
			code, int(s.config.Expiry.Minutes())),
	}); err != nil {
		s.logger.Error("failed to send reset code", zap.Error(err))
	}

	userID := user.ID
	if err := s.users.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionOTPIssued,
		Resource:   "auth",
		ResourceID: &userID,
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record otp audit log", zap.Error(err))
	}
	return true
}

// Verify validates a code without consuming it. The attempts counter is
// persistent across calls.
func (s *OTPService) Verify(ctx context.Context, req models.OTPVerifyRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verify payload")
	}
	_, err := s.check(ctx, req.Email, req.OTP)
	return err
}

// check runs the shared verification logic and returns the live token on
// success.
func (s *OTPService) check(ctx context.Context, email, code string) (*models.OTPToken, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrOTPInvalid, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}

	token, err := s.otps.FindActiveByUser(ctx, user.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrOTPInvalid, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reset code")
	}

	if token.Attempts >= token.MaxAttempts {
		return nil, appErrors.Clone(appErrors.ErrOTPExceeded, "")
	}
	if time.Now().UTC().After(token.ExpiresAt) {
		return nil, appErrors.Clone(appErrors.ErrOTPExpired, "")
	}

	attempts, err := s.otps.IncrementAttempts(ctx, token.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to track attempt")
	}
	token.Attempts = attempts

	if token.Token != code {
		return nil, appErrors.Clone(appErrors.ErrOTPInvalid, "")
	}
	return token, nil
}

// Confirm completes the reset: re-verifies the code, applies the strength
// rules, rewrites the hash, consumes the token and notifies the account.
func (s *OTPService) Confirm(ctx context.Context, req models.OTPConfirmRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid confirm payload")
	}
	if err := checkPasswordStrength(req.NewPassword); err != nil {
		return err
	}

	token, err := s.check(ctx, req.Email, req.OTP)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	if err := s.users.UpdatePassword(ctx, token.UserID, string(hash), time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}
	if err := s.otps.MarkUsed(ctx, token.ID); err != nil {
		s.logger.Error("failed to consume reset code", zap.String("token_id", token.ID), zap.Error(err))
	}
	if err := s.users.RevokeUserRefreshTokens(ctx, token.UserID); err != nil {
		s.logger.Warn("failed to revoke sessions after reset", zap.Error(err))
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err == nil {
		if err := s.mail.Send(ctx, mailer.Message{
			ToName:   user.FullName,
			ToEmail:  user.Email,
			Subject:  "Password Changed",
			TextBody: "Your password was just changed. If this was not you, contact the administration immediately.",
		}); err != nil {
			s.logger.Warn("failed to send reset confirmation", zap.Error(err))
		}
	}

	userID := token.UserID
	if err := s.users.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionPasswordReset,
		Resource:   "auth",
		ResourceID: &userID,
	}); err != nil {
		s.logger.Warn("failed to record reset audit log", zap.Error(err))
	}
	return nil
}

func roleAllowed(role models.UserRole, allowed []models.UserRole) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, r := range allowed {
		if role == r {
			return true
		}
	}
	return false
}

func checkPasswordStrength(password string) error {
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return appErrors.WithField(appErrors.Clone(appErrors.ErrValidation,
			"password must contain at least one letter and one digit"), "new_password")
	}
	return nil
}

func generateOTP() (string, error) {
	max := big.NewInt(1000000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
