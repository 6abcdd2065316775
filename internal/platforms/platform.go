package platforms

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"example.com/backstage/services/fulfillment/internal/models"
)

var (
	// ErrAuthFailed indicates credentials were rejected even after a refresh
	ErrAuthFailed = errors.New("platforms: authentication failed")
	// ErrRequestFailed indicates the platform rejected or failed a request
	ErrRequestFailed = errors.New("platforms: platform request failed")
	// ErrInvalidResponse indicates an unparseable platform response
	ErrInvalidResponse = errors.New("platforms: invalid platform response")
	// ErrWrongRawOrder indicates a raw order was handed to the wrong adapter
	ErrWrongRawOrder = errors.New("platforms: raw order belongs to a different platform")
)

// maxResponseSize is the maximum allowed platform API response size (10MB)
const maxResponseSize = 10 * 1024 * 1024

// RawOrder is a platform-specific order payload produced by an adapter's
// fetch step. Platform field names never leak past the adapter's Normalize.
type RawOrder interface {
	Platform() string
	OrderID() string
}

// Adapter is the per-platform contract: authenticate, fetch raw orders since
// a timestamp, and map each raw order into the canonical model. Fetch errors
// abort the platform's sync; Normalize errors are per-order and are handled
// by the orchestrator.
type Adapter interface {
	Platform() string
	FetchOrdersSince(ctx context.Context, since time.Time) ([]RawOrder, error)
	Normalize(raw RawOrder) (*models.Order, error)
}

// Credential is an explicit token value owned by the caller. Adapters never
// keep a mutable token on themselves; refreshed credentials flow back through
// the CredentialStore so concurrent calls share one source of truth.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Stale reports whether the access token is missing or within a minute of
// expiry and should be refreshed before use.
func (c Credential) Stale(now time.Time) bool {
	if c.AccessToken == "" {
		return true
	}
	if c.ExpiresAt.IsZero() {
		return false
	}
	return now.After(c.ExpiresAt.Add(-time.Minute))
}

// CredentialStore persists refreshed credentials between calls and runs
type CredentialStore interface {
	Load(ctx context.Context, platform string) (Credential, bool, error)
	Save(ctx context.Context, platform string, cred Credential) error
}

// MemoryCredentialStore is an in-process CredentialStore used when Redis is
// unavailable and in tests
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

// NewMemoryCredentialStore creates an empty in-memory credential store
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: make(map[string]Credential)}
}

// Load returns the stored credential for a platform
func (s *MemoryCredentialStore) Load(_ context.Context, platform string) (Credential, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[platform]
	return cred, ok, nil
}

// Save stores the credential for a platform
func (s *MemoryCredentialStore) Save(_ context.Context, platform string, cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[platform] = cred
	return nil
}
