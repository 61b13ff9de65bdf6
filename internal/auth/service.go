// Package auth issues one-time login codes and JWT token pairs. OTP state
// lives inside the Service, scoped to the serving process; there are no
// package-level registries.
package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"investtrack/internal/core"
	"investtrack/internal/store"
)

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 30 * 24 * time.Hour
)

type Claims struct {
	Email string `json:"email"`
	Type  string `json:"type,omitempty"` // "refresh" on refresh tokens
	jwt.RegisteredClaims
}

type OTP struct {
	Email     string
	Code      string
	ExpiresAt time.Time
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

type Service struct {
	users  store.UserStore
	secret []byte
	otpTTL time.Duration

	mu   sync.Mutex
	otps map[string]OTP // keyed by email
}

func NewService(users store.UserStore, jwtSecret string, otpTTL time.Duration) *Service {
	if otpTTL <= 0 {
		otpTTL = 10 * time.Minute
	}
	return &Service{
		users:  users,
		secret: []byte(jwtSecret),
		otpTTL: otpTTL,
		otps:   make(map[string]OTP),
	}
}

// RequestOTP issues a 6-digit code for the email, replacing any previous one.
func (s *Service) RequestOTP(email string) (OTP, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return OTP{}, fmt.Errorf("email %q: %w", email, core.ErrInvalidOTP)
	}

	code, err := sixDigitCode()
	if err != nil {
		return OTP{}, fmt.Errorf("generate otp: %w", err)
	}
	entry := OTP{Email: email, Code: code, ExpiresAt: time.Now().Add(s.otpTTL)}

	s.mu.Lock()
	s.otps[email] = entry
	s.mu.Unlock()
	return entry, nil
}

// VerifyOTP consumes the code, seeds the user and returns a token pair.
// Codes are single-use: a successful match deletes the entry, so the same
// code cannot log in twice. A failed match leaves the entry in place until
// it expires or is replaced.
func (s *Service) VerifyOTP(ctx context.Context, email, code string) (TokenPair, core.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	s.mu.Lock()
	entry, ok := s.otps[email]
	if ok && entry.Code == code && time.Now().Before(entry.ExpiresAt) {
		delete(s.otps, email)
	} else {
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		return TokenPair{}, core.User{}, core.ErrInvalidOTP
	}

	user, err := s.users.FindOrCreateUser(ctx, email)
	if err != nil {
		return TokenPair{}, core.User{}, fmt.Errorf("seed user: %w", err)
	}

	pair, err := s.issuePair(user.ID, user.Email)
	if err != nil {
		return TokenPair{}, core.User{}, err
	}
	return pair, user, nil
}

// Refresh verifies a refresh token and rotates the pair.
func (s *Service) Refresh(token string) (TokenPair, error) {
	claims, err := s.parse(token)
	if err != nil {
		return TokenPair{}, err
	}
	if claims.Type != "refresh" {
		return TokenPair{}, core.ErrInvalidToken
	}
	return s.issuePair(claims.Subject, claims.Email)
}

// Authenticate validates an access token and returns the caller's user id.
func (s *Service) Authenticate(token string) (userID, email string, err error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", "", err
	}
	if claims.Type == "refresh" {
		return "", "", core.ErrInvalidToken
	}
	return claims.Subject, claims.Email, nil
}

func (s *Service) issuePair(userID, email string) (TokenPair, error) {
	access, err := s.sign(userID, email, "", accessTokenTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.sign(userID, email, "refresh", refreshTokenTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *Service) sign(userID, email, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Email: email,
		Type:  tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Service) parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, core.ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, core.ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, core.ErrInvalidToken
	}
	return claims, nil
}

func sixDigitCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
