// Package auth stores and loads the per-user Instagram credential the
// ingestion run acts with.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNoCredential is returned when a run is requested for a user that has
// neither an auth code nor a stored credential.
var ErrNoCredential = errors.New("no credential available for user")

// Credential is a user's long-lived Instagram access token.
type Credential struct {
	AccessToken     string    `json:"accessToken"`
	ExpiresAt       time.Time `json:"expiresAt"`
	InstagramUserID string    `json:"instagramUserId,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// NeedsRefresh reports whether the token expires within window of now.
// A zero ExpiresAt means the expiry is unknown and no refresh is attempted.
func (c *Credential) NeedsRefresh(now time.Time, window time.Duration) bool {
	if c == nil || c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(window).Before(c.ExpiresAt)
}

// Expired reports whether the token is past its expiry.
func (c *Credential) Expired(now time.Time) bool {
	return c != nil && !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Store persists credentials keyed by the Instagram user id.
// Get returns (nil, nil) when no credential is stored; deleting a missing
// credential is not an error.
type Store interface {
	Get(ctx context.Context, userID string) (*Credential, error)
	Put(ctx context.Context, userID string, cred *Credential) error
	Delete(ctx context.Context, userID string) error
}

// MemoryStore is an in-process Store for the local CLI and tests.
type MemoryStore struct {
	mu    sync.Mutex
	creds map[string]Credential
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]Credential)}
}

func (m *MemoryStore) Get(_ context.Context, userID string) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.creds[userID]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

func (m *MemoryStore) Put(_ context.Context, userID string, cred *Credential) error {
	if cred == nil {
		return fmt.Errorf("put credential: nil credential")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[userID] = *cred
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, userID)
	return nil
}
