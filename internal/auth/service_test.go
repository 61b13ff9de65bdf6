package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"investtrack/internal/core"
	"investtrack/internal/store/memory"
)

func TestOTPFlow(t *testing.T) {
	svc := NewService(memory.New(), "test-secret", time.Minute)
	ctx := context.Background()

	otp, err := svc.RequestOTP("Trader@Example.com")
	require.NoError(t, err)
	require.Len(t, otp.Code, 6)
	assert.Equal(t, "trader@example.com", otp.Email)

	pair, user, err := svc.VerifyOTP(ctx, "trader@example.com", otp.Code)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "trader@example.com", user.Email)

	// Codes are single-use.
	_, _, err = svc.VerifyOTP(ctx, "trader@example.com", otp.Code)
	assert.ErrorIs(t, err, core.ErrInvalidOTP)
}

func TestVerifyOTPRejectsWrongOrExpiredCode(t *testing.T) {
	svc := NewService(memory.New(), "test-secret", time.Minute)
	ctx := context.Background()

	otp, err := svc.RequestOTP("a@b.com")
	require.NoError(t, err)

	_, _, err = svc.VerifyOTP(ctx, "a@b.com", "000000")
	assert.ErrorIs(t, err, core.ErrInvalidOTP)

	// Wrong code does not consume the entry; the right one still works.
	_, _, err = svc.VerifyOTP(ctx, "a@b.com", otp.Code)
	require.NoError(t, err)

	// Expired codes fail.
	expired := NewService(memory.New(), "test-secret", -time.Minute)
	otp2, err := expired.RequestOTP("c@d.com")
	require.NoError(t, err)
	_, _, err = expired.VerifyOTP(ctx, "c@d.com", otp2.Code)
	assert.ErrorIs(t, err, core.ErrInvalidOTP)
}

func TestAuthenticateAndRefresh(t *testing.T) {
	svc := NewService(memory.New(), "test-secret", time.Minute)
	ctx := context.Background()

	otp, err := svc.RequestOTP("a@b.com")
	require.NoError(t, err)
	pair, user, err := svc.VerifyOTP(ctx, "a@b.com", otp.Code)
	require.NoError(t, err)

	userID, email, err := svc.Authenticate(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)
	assert.Equal(t, "a@b.com", email)

	// A refresh token is not an access token.
	_, _, err = svc.Authenticate(pair.RefreshToken)
	assert.ErrorIs(t, err, core.ErrInvalidToken)

	rotated, err := svc.Refresh(pair.RefreshToken)
	require.NoError(t, err)
	gotID, _, err := svc.Authenticate(rotated.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, gotID)

	// An access token cannot refresh.
	_, err = svc.Refresh(pair.AccessToken)
	assert.ErrorIs(t, err, core.ErrInvalidToken)

	// Garbage and wrong-secret tokens are rejected.
	_, _, err = svc.Authenticate("garbage")
	assert.ErrorIs(t, err, core.ErrInvalidToken)

	other := NewService(memory.New(), "other-secret", time.Minute)
	_, _, err = other.Authenticate(pair.AccessToken)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}
