package platforms

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"net/url"

	"github.com/pkg/errors"
)

// etsyAuthorizeURL is the Etsy OAuth consent page
const etsyAuthorizeURL = "https://www.etsy.com/oauth/connect"

// etsyScopes are the API scopes the sync needs: reading receipts and
// transactions for the connected shop
const etsyScopes = "transactions_r email_r"

// PKCEPair is a Proof Key for Code Exchange verifier/challenge pair used by
// the one-time Etsy authorization flow. The refresh path in this service
// never needs it, but the bootstrap helper that seeds the first refresh
// token does.
type PKCEPair struct {
	Verifier  string
	Challenge string
}

// NewPKCEPair generates a random code verifier and its S256 challenge
func NewPKCEPair() (PKCEPair, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return PKCEPair{}, errors.Wrap(err, "failed to generate PKCE verifier")
	}

	verifier := base64.RawURLEncoding.EncodeToString(buf)
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	return PKCEPair{Verifier: verifier, Challenge: challenge}, nil
}

// AuthorizeURL builds the Etsy consent URL for the one-time authorization
// that seeds the first refresh token. The caller must hold on to the pair's
// verifier for the code exchange and to the state for callback validation.
func (a *EtsyAdapter) AuthorizeURL(redirectURI, state string, pair PKCEPair) string {
	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", a.cfg.ClientID)
	query.Set("redirect_uri", redirectURI)
	query.Set("scope", etsyScopes)
	query.Set("state", state)
	query.Set("code_challenge", pair.Challenge)
	query.Set("code_challenge_method", "S256")
	return etsyAuthorizeURL + "?" + query.Encode()
}
