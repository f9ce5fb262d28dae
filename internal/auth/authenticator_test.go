package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconcore/core/internal/domain"
)

type fakeStore struct {
	mu       sync.Mutex
	byToken  map[string]*Key
	lastUsed map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{byToken: make(map[string]*Key), lastUsed: make(map[string]time.Time)}
}

func (f *fakeStore) CreateAPIKey(ctx context.Context, key Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key
	f.byToken[key.ShortToken] = &k
	return nil
}

func (f *fakeStore) GetAPIKeyByShortToken(ctx context.Context, shortToken string) (*Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.byToken[shortToken]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (f *fakeStore) UpdateAPIKeyLastUsed(ctx context.Context, id string, usedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUsed[id] = usedAt
	return nil
}

func issueKey(t *testing.T, store Store, expiresAt *time.Time) string {
	t.Helper()
	fullKey, err := CreateAPIKey(context.Background(), store, "sk", "recon", "v1", "test key", expiresAt)
	require.NoError(t, err)
	return fullKey
}

func TestAuthenticator_ValidateAPIKey_Success(t *testing.T) {
	store := newFakeStore()
	fullKey := issueKey(t, store, nil)

	a := NewAuthenticator(context.Background(), store)
	defer a.Shutdown(context.Background())

	cred, err := a.ValidateAPIKey(context.Background(), fullKey)
	require.NoError(t, err)
	assert.NotEmpty(t, cred.ID)
	assert.Equal(t, "test key", cred.Name)
}

func TestAuthenticator_ValidateAPIKey_UnknownKey(t *testing.T) {
	store := newFakeStore()
	a := NewAuthenticator(context.Background(), store)
	defer a.Shutdown(context.Background())

	unknown, err := GenerateKey("sk", "recon", "v1")
	require.NoError(t, err)

	_, err = a.ValidateAPIKey(context.Background(), unknown.FullKey)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestAuthenticator_ValidateAPIKey_MalformedKey(t *testing.T) {
	store := newFakeStore()
	a := NewAuthenticator(context.Background(), store)
	defer a.Shutdown(context.Background())

	_, err := a.ValidateAPIKey(context.Background(), "garbage")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestAuthenticator_ValidateAPIKey_WrongSecret(t *testing.T) {
	store := newFakeStore()
	fullKey := issueKey(t, store, nil)

	parts, err := ParseKey(fullKey)
	require.NoError(t, err)

	tampered := parts.KeyType + "-" + parts.Service + "-" + parts.Version + "-" + parts.ShortToken + "-" + uuid.NewString()

	a := NewAuthenticator(context.Background(), store)
	defer a.Shutdown(context.Background())

	_, err = a.ValidateAPIKey(context.Background(), tampered)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestAuthenticator_ValidateAPIKey_Expired(t *testing.T) {
	store := newFakeStore()
	past := time.Now().UTC().Add(-time.Hour)
	fullKey := issueKey(t, store, &past)

	a := NewAuthenticator(context.Background(), store)
	defer a.Shutdown(context.Background())

	_, err := a.ValidateAPIKey(context.Background(), fullKey)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSessionExpired))
}

func TestAuthenticator_ValidateAPIKey_Inactive(t *testing.T) {
	store := newFakeStore()
	fullKey := issueKey(t, store, nil)

	parts, err := ParseKey(fullKey)
	require.NoError(t, err)
	store.mu.Lock()
	store.byToken[parts.ShortToken].IsActive = false
	store.mu.Unlock()

	a := NewAuthenticator(context.Background(), store)
	defer a.Shutdown(context.Background())

	_, err = a.ValidateAPIKey(context.Background(), fullKey)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestAuthenticator_ValidateAPIKey_QueuesLastUsedUpdate(t *testing.T) {
	store := newFakeStore()
	fullKey := issueKey(t, store, nil)

	a := NewAuthenticator(context.Background(), store)

	cred, err := a.ValidateAPIKey(context.Background(), fullKey)
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(shutdownCtx))

	store.mu.Lock()
	_, recorded := store.lastUsed[cred.ID]
	store.mu.Unlock()
	assert.True(t, recorded)
}
