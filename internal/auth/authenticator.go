package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reconcore/core/internal/domain"
	"github.com/reconcore/core/internal/http/middleware"
)

// Key is one issued API key row.
type Key struct {
	ID             string
	KeyType        string
	Service        string
	Version        string
	ShortToken     string
	LongSecretHash string
	Name           string
	IsActive       bool
	CreatedAt      time.Time
	ExpiresAt      *time.Time
	LastUsedAt     *time.Time
}

// Store is the persistence the Authenticator depends on.
type Store interface {
	CreateAPIKey(ctx context.Context, key Key) error
	GetAPIKeyByShortToken(ctx context.Context, shortToken string) (*Key, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id string, usedAt time.Time) error
}

type lastUsedUpdate struct {
	keyID string
	at    time.Time
}

// Authenticator validates "Authorization: Bearer" API keys against Store,
// satisfying internal/http/middleware.Authenticator. last_used_at writes are
// queued and applied by a background worker so the hot validation path never
// blocks on them.
type Authenticator struct {
	store           Store
	appCtx          context.Context
	lastUsedUpdates chan lastUsedUpdate
	shutdownChan    chan struct{}
	wg              sync.WaitGroup
}

// NewAuthenticator constructs an Authenticator and starts its background
// last_used_at worker. ctx should be the application's root context.
func NewAuthenticator(ctx context.Context, store Store) *Authenticator {
	a := &Authenticator{
		store:           store,
		appCtx:          ctx,
		lastUsedUpdates: make(chan lastUsedUpdate, 1000),
		shutdownChan:    make(chan struct{}),
	}
	a.wg.Add(1)
	go a.processLastUsedUpdates()
	return a
}

// ValidateAPIKey implements middleware.Authenticator. It returns
// domain.ErrSessionExpired for an expired key, domain.ErrUnauthorized for
// any other rejection.
func (a *Authenticator) ValidateAPIKey(ctx context.Context, apiKey string) (middleware.Credential, error) {
	keyParts, err := ParseKey(apiKey)
	if err != nil {
		return middleware.Credential{}, fmt.Errorf("%w: malformed key", domain.ErrUnauthorized)
	}

	key, err := a.store.GetAPIKeyByShortToken(ctx, keyParts.ShortToken)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return middleware.Credential{}, fmt.Errorf("%w: unknown key", domain.ErrUnauthorized)
		}
		return middleware.Credential{}, fmt.Errorf("lookup api key: %w", err)
	}

	if !key.IsActive {
		return middleware.Credential{}, fmt.Errorf("%w: key revoked", domain.ErrUnauthorized)
	}

	providedHash := hashSecret(keyParts.LongSecret)
	if subtle.ConstantTimeCompare([]byte(key.LongSecretHash), []byte(providedHash)) != 1 {
		slog.WarnContext(ctx, "api key secret mismatch", "key_prefix", maskKey(apiKey))
		return middleware.Credential{}, fmt.Errorf("%w: invalid secret", domain.ErrUnauthorized)
	}

	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now().UTC()) {
		return middleware.Credential{}, fmt.Errorf("%w: key expired", domain.ErrSessionExpired)
	}

	select {
	case a.lastUsedUpdates <- lastUsedUpdate{keyID: key.ID, at: time.Now().UTC()}:
	default:
		slog.WarnContext(ctx, "dropped last_used_at update, queue full", "key_id", key.ID)
	}

	return middleware.Credential{ID: key.ID, Name: key.Name}, nil
}

func (a *Authenticator) processLastUsedUpdates() {
	defer a.wg.Done()
	apply := func(u lastUsedUpdate) {
		ctx, cancel := context.WithTimeout(a.appCtx, 5*time.Second)
		defer cancel()
		if err := a.store.UpdateAPIKeyLastUsed(ctx, u.keyID, u.at); err != nil {
			slog.WarnContext(ctx, "failed to update api key last_used_at", "key_id", u.keyID, "error", err)
		}
	}

	for {
		select {
		case u := <-a.lastUsedUpdates:
			apply(u)
		case <-a.shutdownChan:
			for {
				select {
				case u := <-a.lastUsedUpdates:
					apply(u)
				default:
					return
				}
			}
		}
	}
}

// Shutdown signals the background worker to drain and stop, respecting ctx's deadline.
func (a *Authenticator) Shutdown(ctx context.Context) error {
	close(a.shutdownChan)

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

// CreateAPIKey generates, hashes, and persists a new key, returning the
// full plaintext key (shown to the caller only once).
func CreateAPIKey(ctx context.Context, store Store, keyType, service, version, name string, expiresAt *time.Time) (string, error) {
	parts, err := GenerateKey(keyType, service, version)
	if err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}

	key := Key{
		ID:             uuid.NewString(),
		KeyType:        parts.KeyType,
		Service:        parts.Service,
		Version:        parts.Version,
		ShortToken:     parts.ShortToken,
		LongSecretHash: hashSecret(parts.LongSecret),
		Name:           name,
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
		ExpiresAt:      expiresAt,
	}

	if err := store.CreateAPIKey(ctx, key); err != nil {
		return "", fmt.Errorf("create api key: %w", err)
	}
	return parts.FullKey, nil
}
