package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// TTL bounds for issued tokens, in days.
const (
	MinTTLDays = 1
	MaxTTLDays = 365
)

// tokenPrefix makes issued tokens recognizable in logs and configs.
const tokenPrefix = "eg_"

// Sentinel errors for authentication and validation.
var (
	// ErrInvalidCredentials is returned on unknown username or OTP mismatch.
	ErrInvalidCredentials = errors.New("invalid username or OTP token")

	// ErrInvalidTTL is returned when the requested lifetime is out of range.
	ErrInvalidTTL = errors.New("token lifetime must be between 1 and 365 days")

	// ErrMissingToken is returned when no token accompanies a request.
	ErrMissingToken = errors.New("missing long-term token")

	// ErrUnknownToken is returned for tokens not present in the store.
	ErrUnknownToken = errors.New("unknown long-term token")

	// ErrTokenExpired is returned once for an expired token; the token is
	// evicted, so later validations see ErrUnknownToken.
	ErrTokenExpired = errors.New("token expired, please re-authenticate")
)

// Identity is the authenticated principal behind a valid token.
type Identity struct {
	Username string
}

// Service is the auth gate: it issues tokens from one-time credentials and
// validates them on every request.
//
// Token lifecycle: Issued -> Valid -> (Expired | Revoked). Expiry is
// detected lazily on validation; an expired token is deleted from the store
// at that moment and the deletion persisted.
type Service struct {
	store  *FileStore
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates the auth gate over a file store.
func NewService(store *FileStore, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger, now: time.Now}, nil
}

// newToken generates a 256-bit random token.
func newToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return tokenPrefix + hex.EncodeToString(raw), nil
}

// Authenticate exchanges a one-time credential for a long-lived token.
// Credentials are checked before the TTL is validated.
func (s *Service) Authenticate(username, otpToken string, ttlDays int) (string, time.Time, error) {
	cred, ok := s.store.lookupCredential(username)
	if !ok || subtle.ConstantTimeCompare([]byte(cred.OTP), []byte(otpToken)) != 1 {
		s.logger.Warn("authentication rejected", zap.String("username", username))
		return "", time.Time{}, ErrInvalidCredentials
	}

	if ttlDays < MinTTLDays || ttlDays > MaxTTLDays {
		return "", time.Time{}, fmt.Errorf("%w: got %d", ErrInvalidTTL, ttlDays)
	}

	token, err := newToken()
	if err != nil {
		return "", time.Time{}, err
	}

	expiry := s.now().Add(time.Duration(ttlDays) * 24 * time.Hour)
	if err := s.store.putToken(token, TokenRecord{Username: username, Expiry: expiry}); err != nil {
		return "", time.Time{}, fmt.Errorf("persisting token: %w", err)
	}

	s.logger.Info("token issued",
		zap.String("username", username),
		zap.Int("ttl_days", ttlDays),
		zap.Time("expiry", expiry),
	)
	return token, expiry, nil
}

// Validate checks a token and returns the identity behind it.
//
// An expired token is evicted from the store before the error is returned,
// so the same token fails with ErrUnknownToken from then on.
func (s *Service) Validate(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	rec, ok := s.store.getToken(token)
	if !ok {
		return Identity{}, ErrUnknownToken
	}

	if s.now().After(rec.Expiry) {
		if err := s.store.deleteToken(token); err != nil {
			s.logger.Error("evicting expired token failed", zap.Error(err))
		}
		s.logger.Info("expired token evicted", zap.String("username", rec.Username))
		return Identity{}, ErrTokenExpired
	}

	return Identity{Username: rec.Username}, nil
}
