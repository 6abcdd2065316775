package platforms

import (
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/backstage/services/fulfillment/config"
)

func TestNewPKCEPair(t *testing.T) {
	pair, err := NewPKCEPair()
	require.NoError(t, err)
	require.NotEmpty(t, pair.Verifier)

	// Challenge must be the base64url-encoded SHA-256 of the verifier
	sum := sha256.Sum256([]byte(pair.Verifier))
	require.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), pair.Challenge)

	// Each pair is unique
	other, err := NewPKCEPair()
	require.NoError(t, err)
	require.NotEqual(t, pair.Verifier, other.Verifier)
}

func TestEtsyAuthorizeURL(t *testing.T) {
	adapter := NewEtsyAdapter(config.EtsyConfig{ClientID: "client-1"}, NewMemoryCredentialStore())

	pair, err := NewPKCEPair()
	require.NoError(t, err)

	raw := adapter.AuthorizeURL("https://example.com/callback", "state-1", pair)
	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "www.etsy.com", parsed.Host)

	query := parsed.Query()
	require.Equal(t, "code", query.Get("response_type"))
	require.Equal(t, "client-1", query.Get("client_id"))
	require.Equal(t, "https://example.com/callback", query.Get("redirect_uri"))
	require.Equal(t, "state-1", query.Get("state"))
	require.Equal(t, pair.Challenge, query.Get("code_challenge"))
	require.Equal(t, "S256", query.Get("code_challenge_method"))
}
