package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/edupoint/slms-api/internal/models"
	appErrors "github.com/edupoint/slms-api/pkg/errors"
)

type mockOTPRepo struct {
	tokens   map[string]*models.OTPToken
	attempts []models.ResetAttempt
}

func newMockOTPRepo() *mockOTPRepo {
	return &mockOTPRepo{tokens: make(map[string]*models.OTPToken)}
}

func (m *mockOTPRepo) Issue(ctx context.Context, token *models.OTPToken) error {
	for _, existing := range m.tokens {
		if existing.UserID == token.UserID {
			existing.Used = true
		}
	}
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	token.CreatedAt = time.Now().UTC()
	copied := *token
	m.tokens[token.ID] = &copied
	return nil
}

func (m *mockOTPRepo) FindActiveByUser(ctx context.Context, userID string) (*models.OTPToken, error) {
	var latest *models.OTPToken
	for _, token := range m.tokens {
		if token.UserID != userID || token.Used {
			continue
		}
		if latest == nil || token.CreatedAt.After(latest.CreatedAt) {
			latest = token
		}
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	copied := *latest
	return &copied, nil
}

func (m *mockOTPRepo) IncrementAttempts(ctx context.Context, id string) (int, error) {
	token, ok := m.tokens[id]
	if !ok {
		return 0, sql.ErrNoRows
	}
	token.Attempts++
	return token.Attempts, nil
}

func (m *mockOTPRepo) MarkUsed(ctx context.Context, id string) error {
	token, ok := m.tokens[id]
	if !ok {
		return sql.ErrNoRows
	}
	token.Used = true
	return nil
}

func (m *mockOTPRepo) RecordAttempt(ctx context.Context, attempt *models.ResetAttempt) error {
	attempt.CreatedAt = time.Now().UTC()
	m.attempts = append(m.attempts, *attempt)
	return nil
}

func (m *mockOTPRepo) CountSuccessByEmailSince(ctx context.Context, email string, since time.Time) (int, error) {
	count := 0
	for _, attempt := range m.attempts {
		if attempt.Email == email && attempt.Success && !attempt.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *mockOTPRepo) CountByIPSince(ctx context.Context, ip string, since time.Time) (int, error) {
	count := 0
	for _, attempt := range m.attempts {
		if attempt.IPAddress == ip && !attempt.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

type mockOTPUsers struct {
	users     map[string]*models.User
	passwords map[string]string
	revoked   []string
	audits    []models.AuditLog
}

func newMockOTPUsers(users ...*models.User) *mockOTPUsers {
	m := &mockOTPUsers{users: make(map[string]*models.User), passwords: make(map[string]string)}
	for _, user := range users {
		m.users[user.Email] = user
	}
	return m
}

func (m *mockOTPUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	user, ok := m.users[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (m *mockOTPUsers) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	m.passwords[id] = passwordHash
	return nil
}

func (m *mockOTPUsers) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	m.revoked = append(m.revoked, userID)
	return nil
}

func (m *mockOTPUsers) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.audits = append(m.audits, *log)
	return nil
}

func student() *models.User {
	return &models.User{
		ID:       "s1",
		Email:    "john@example.com",
		FullName: "John Doe",
		Role:     models.RoleStudent,
		Active:   true,
	}
}

func newOTPFixture(users ...*models.User) (*OTPService, *mockOTPRepo, *mockOTPUsers, *flakyMailer) {
	repo := newMockOTPRepo()
	accounts := newMockOTPUsers(users...)
	mail := &flakyMailer{}
	svc := NewOTPService(repo, accounts, mail, nil, zap.NewNop(), OTPConfig{})
	return svc, repo, accounts, mail
}

func request() models.OTPRequest {
	return models.OTPRequest{Email: "john@example.com", IP: "10.0.0.1", UserAgent: "test"}
}

// issuedCode digs the live code out of the repository. Production callers
// only ever see it by email.
func issuedCode(t *testing.T, repo *mockOTPRepo, userID string) string {
	t.Helper()
	token, err := repo.FindActiveByUser(context.Background(), userID)
	require.NoError(t, err)
	return token.Token
}

func TestOTPResetLifecycle(t *testing.T) {
	svc, repo, accounts, mail := newOTPFixture(student())
	ctx := context.Background()

	require.NoError(t, svc.Request(ctx, request(), models.RoleStudent))
	require.Len(t, mail.sent, 1)
	assert.Equal(t, "john@example.com", mail.sent[0].ToEmail)
	code := issuedCode(t, repo, "s1")
	require.Len(t, code, 6)

	// Wrong code burns one attempt.
	err := svc.Verify(ctx, models.OTPVerifyRequest{Email: "john@example.com", OTP: wrongCode(code)})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrOTPInvalid.Code, appErrors.FromError(err).Code)

	// Correct code verifies without consuming.
	require.NoError(t, svc.Verify(ctx, models.OTPVerifyRequest{Email: "john@example.com", OTP: code}))

	require.NoError(t, svc.Confirm(ctx, models.OTPConfirmRequest{
		Email:              "john@example.com",
		OTP:                code,
		NewPassword:        "abcd1234",
		NewPasswordConfirm: "abcd1234",
	}))

	hash := accounts.passwords["s1"]
	require.NotEmpty(t, hash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("abcd1234")))
	assert.Contains(t, accounts.revoked, "s1")
	require.Len(t, mail.sent, 2)
	assert.Equal(t, "Password Changed", mail.sent[1].Subject)

	// The token is consumed; re-verifying fails.
	err = svc.Verify(ctx, models.OTPVerifyRequest{Email: "john@example.com", OTP: code})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrOTPInvalid.Code, appErrors.FromError(err).Code)
}

func TestOTPAttemptsExhaustTheToken(t *testing.T) {
	svc, repo, _, _ := newOTPFixture(student())
	ctx := context.Background()

	require.NoError(t, svc.Request(ctx, request(), models.RoleStudent))
	code := issuedCode(t, repo, "s1")
	bad := wrongCode(code)

	for i := 0; i < 3; i++ {
		err := svc.Verify(ctx, models.OTPVerifyRequest{Email: "john@example.com", OTP: bad})
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrOTPInvalid.Code, appErrors.FromError(err).Code)
	}

	// Three failures burn the token; even the right code reports exceeded.
	err := svc.Verify(ctx, models.OTPVerifyRequest{Email: "john@example.com", OTP: code})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrOTPExceeded.Code, appErrors.FromError(err).Code)
}

func TestOTPExhaustionOnFinalAttemptReportsExceeded(t *testing.T) {
	svc, repo, _, _ := newOTPFixture(student())
	ctx := context.Background()

	require.NoError(t, svc.Request(ctx, request(), models.RoleStudent))
	code := issuedCode(t, repo, "s1")
	bad := wrongCode(code)

	// Two misses, then the right code on the final allowed attempt.
	for i := 0; i < 2; i++ {
		require.Error(t, svc.Verify(ctx, models.OTPVerifyRequest{Email: "john@example.com", OTP: bad}))
	}
	require.NoError(t, svc.Verify(ctx, models.OTPVerifyRequest{Email: "john@example.com", OTP: code}))

	// The budget is spent, so the follow-up names the real reason.
	err := svc.Confirm(ctx, models.OTPConfirmRequest{
		Email:              "john@example.com",
		OTP:                code,
		NewPassword:        "abcd1234",
		NewPasswordConfirm: "abcd1234",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrOTPExceeded.Code, appErrors.FromError(err).Code)
}

func TestOTPExpiry(t *testing.T) {
	svc, repo, _, _ := newOTPFixture(student())
	ctx := context.Background()

	require.NoError(t, svc.Request(ctx, request(), models.RoleStudent))
	token, err := repo.FindActiveByUser(ctx, "s1")
	require.NoError(t, err)
	repo.tokens[token.ID].ExpiresAt = time.Now().UTC().Add(-time.Minute)

	err = svc.Verify(ctx, models.OTPVerifyRequest{Email: "john@example.com", OTP: token.Token})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrOTPExpired.Code, appErrors.FromError(err).Code)
}

func TestOTPReissueInvalidatesPrevious(t *testing.T) {
	svc, repo, _, _ := newOTPFixture(student())
	ctx := context.Background()

	require.NoError(t, svc.Request(ctx, request(), models.RoleStudent))
	first := issuedCode(t, repo, "s1")

	require.NoError(t, svc.Request(ctx, request(), models.RoleStudent))
	second := issuedCode(t, repo, "s1")

	if first != second {
		err := svc.Verify(ctx, models.OTPVerifyRequest{Email: "john@example.com", OTP: first})
		require.Error(t, err)
	}
	require.NoError(t, svc.Verify(ctx, models.OTPVerifyRequest{Email: "john@example.com", OTP: second}))
}

func TestOTPRequestHidesUnknownAccounts(t *testing.T) {
	svc, repo, _, mail := newOTPFixture(student())
	ctx := context.Background()

	req := request()
	req.Email = "ghost@example.com"
	require.NoError(t, svc.Request(ctx, req, models.RoleStudent))
	assert.Empty(t, mail.sent)
	require.Len(t, repo.attempts, 1)
	assert.False(t, repo.attempts[0].Success)
}

func TestOTPRequestHidesIneligibleRole(t *testing.T) {
	svc, _, _, mail := newOTPFixture(student())
	ctx := context.Background()

	// A student asking through the staff surface looks like a miss.
	require.NoError(t, svc.Request(ctx, request(), models.RoleSuperAdmin, models.RoleAdmin))
	assert.Empty(t, mail.sent)
}

func TestOTPRequestHidesInactiveAccount(t *testing.T) {
	inactive := student()
	inactive.Active = false
	svc, _, _, mail := newOTPFixture(inactive)

	require.NoError(t, svc.Request(context.Background(), request(), models.RoleStudent))
	assert.Empty(t, mail.sent)
}

func TestOTPEmailRateLimitIsSilent(t *testing.T) {
	svc, repo, _, mail := newOTPFixture(student())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		req := request()
		req.IP = "10.0.0.2" // stay below the IP limit
		if i%2 == 0 {
			req.IP = "10.0.0.3"
		}
		require.NoError(t, svc.Request(ctx, req, models.RoleStudent))
	}
	require.Len(t, mail.sent, 3)

	// The fourth issue within the hour is silently refused.
	req := request()
	req.IP = "10.0.0.4"
	require.NoError(t, svc.Request(ctx, req, models.RoleStudent))
	assert.Len(t, mail.sent, 3)
	require.Len(t, repo.attempts, 4)
	assert.False(t, repo.attempts[3].Success)
}

func TestOTPIPRateLimitSurfaces(t *testing.T) {
	svc, _, _, _ := newOTPFixture(student())
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		req := request()
		req.Email = "ghost@example.com" // misses still count against the IP
		require.NoError(t, svc.Request(ctx, req, models.RoleStudent))
	}

	err := svc.Request(ctx, request(), models.RoleStudent)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRateLimited.Code, appErrors.FromError(err).Code)
}

func TestOTPConfirmRejectsWeakPassword(t *testing.T) {
	svc, repo, _, _ := newOTPFixture(student())
	ctx := context.Background()

	require.NoError(t, svc.Request(ctx, request(), models.RoleStudent))
	code := issuedCode(t, repo, "s1")

	err := svc.Confirm(ctx, models.OTPConfirmRequest{
		Email:              "john@example.com",
		OTP:                code,
		NewPassword:        "abcdefgh",
		NewPasswordConfirm: "abcdefgh",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	// A rejected password never touches the attempts counter.
	token, err := repo.FindActiveByUser(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, token.Attempts)
}

func TestOTPConfirmRejectsMismatch(t *testing.T) {
	svc, repo, _, _ := newOTPFixture(student())
	ctx := context.Background()

	require.NoError(t, svc.Request(ctx, request(), models.RoleStudent))
	code := issuedCode(t, repo, "s1")

	err := svc.Confirm(ctx, models.OTPConfirmRequest{
		Email:              "john@example.com",
		OTP:                code,
		NewPassword:        "abcd1234",
		NewPasswordConfirm: "abcd1235",
	})
	require.Error(t, err)
}

// wrongCode returns a six-digit code guaranteed to differ from the input.
func wrongCode(code string) string {
	if code == "000000" {
		return "000001"
	}
	return "000000"
}
