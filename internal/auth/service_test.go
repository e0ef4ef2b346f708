package auth

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (*Service, *FileStore) {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "store.json"), map[string]Credential{
		"alice": {OTP: "otp-secret"},
	})
	require.NoError(t, err)
	svc, err := NewService(store, zap.NewNop())
	require.NoError(t, err)
	return svc, store
}

func TestAuthenticate(t *testing.T) {
	t.Run("issues a token for valid credentials", func(t *testing.T) {
		svc, _ := newTestService(t)

		token, expiry, err := svc.Authenticate("alice", "otp-secret", 30)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(token, "eg_"))
		assert.Len(t, token, len("eg_")+64)
		assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), expiry, time.Minute)
	})

	t.Run("rejects unknown user and wrong OTP", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, _, err := svc.Authenticate("mallory", "otp-secret", 30)
		assert.ErrorIs(t, err, ErrInvalidCredentials)

		_, _, err = svc.Authenticate("alice", "wrong", 30)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("ttl boundaries", func(t *testing.T) {
		svc, _ := newTestService(t)

		for _, ttl := range []int{0, 366, -1} {
			_, _, err := svc.Authenticate("alice", "otp-secret", ttl)
			assert.ErrorIs(t, err, ErrInvalidTTL, "ttl %d", ttl)
		}
		for _, ttl := range []int{1, 365} {
			_, _, err := svc.Authenticate("alice", "otp-secret", ttl)
			assert.NoError(t, err, "ttl %d", ttl)
		}
	})

	t.Run("credential check precedes ttl check", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, _, err := svc.Authenticate("mallory", "x", 0)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestValidate(t *testing.T) {
	t.Run("valid token returns identity", func(t *testing.T) {
		svc, _ := newTestService(t)
		token, _, err := svc.Authenticate("alice", "otp-secret", 1)
		require.NoError(t, err)

		identity, err := svc.Validate(token)
		require.NoError(t, err)
		assert.Equal(t, "alice", identity.Username)
	})

	t.Run("missing and unknown tokens", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.Validate("")
		assert.ErrorIs(t, err, ErrMissingToken)

		_, err = svc.Validate("eg_nonsense")
		assert.ErrorIs(t, err, ErrUnknownToken)
	})

	t.Run("expired token is evicted lazily", func(t *testing.T) {
		svc, store := newTestService(t)
		token, _, err := svc.Authenticate("alice", "otp-secret", 1)
		require.NoError(t, err)

		svc.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

		_, err = svc.Validate(token)
		assert.ErrorIs(t, err, ErrTokenExpired)
		assert.Equal(t, 0, store.TokenCount())

		// Post-eviction the token is simply unknown.
		_, err = svc.Validate(token)
		assert.ErrorIs(t, err, ErrUnknownToken)
	})
}

func TestFileStorePersistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")

	store, err := NewFileStore(path, map[string]Credential{"alice": {OTP: "s"}})
	require.NoError(t, err)
	svc, err := NewService(store, zap.NewNop())
	require.NoError(t, err)

	token, _, err := svc.Authenticate("alice", "s", 7)
	require.NoError(t, err)

	// A fresh store reading the same file sees the issued token and the
	// seeded user; the seed argument is ignored once the file exists.
	reloaded, err := NewFileStore(path, nil)
	require.NoError(t, err)
	svc2, err := NewService(reloaded, zap.NewNop())
	require.NoError(t, err)

	identity, err := svc2.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.Username)

	_, _, err = svc2.Authenticate("alice", "s", 1)
	assert.NoError(t, err)
}

func TestConcurrentAuthentication(t *testing.T) {
	svc, store := newTestService(t)

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _, err := svc.Authenticate("alice", "otp-secret", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Serialized read-modify-write: no issued token is lost.
	assert.Equal(t, n, store.TokenCount())
}

func TestAuthenticateFailedPersistLeavesNoToken(t *testing.T) {
	// a store path in a missing directory loads fine (nothing on disk yet)
	// but cannot be written
	store, err := NewFileStore(filepath.Join(t.TempDir(), "missing", "store.json"),
		map[string]Credential{"admin": {OTP: "hunter2"}})
	require.NoError(t, err)

	svc, err := NewService(store, zap.NewNop())
	require.NoError(t, err)

	token, _, err := svc.Authenticate("admin", "hunter2", 30)
	require.Error(t, err)
	assert.Empty(t, token)
	assert.Equal(t, 0, store.TokenCount())
}
