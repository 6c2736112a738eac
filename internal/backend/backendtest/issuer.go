package backendtest

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

const audienceAuthenticated = "authenticated"

// issuer mints and verifies access tokens the way the backend's auth API
// does: RS256, subject is the user id.
type issuer struct {
	iss     string
	private jwk.Key
	public  jwk.Key
}

func newIssuer(iss string) (*issuer, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate rsa key: %w", err)
	}
	private, err := jwk.Import(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to convert rsa key to jwk: %w", err)
	}
	public, err := private.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get public key from jwk: %w", err)
	}
	thumbprint, err := public.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to get thumbprint from public key: %w", err)
	}
	keyID := fmt.Sprintf("%x", thumbprint)
	private.Set(jwk.KeyIDKey, keyID)
	public.Set(jwk.KeyIDKey, keyID)

	return &issuer{iss: iss, private: private, public: public}, nil
}

func (i *issuer) issue(userID, email string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	tok, err := jwt.NewBuilder().
		Issuer(i.iss).
		Subject(userID).
		Audience([]string{audienceAuthenticated}).
		Expiration(exp).
		IssuedAt(now).
		JwtID(uuid.NewString()).
		Claim("email", email).
		Claim("role", audienceAuthenticated).
		Build()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to build token: %w", err)
	}
	b, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256(), i.private))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return string(b), exp, nil
}

// verify returns the subject of a valid, unexpired token.
func (i *issuer) verify(bearerToken string, now time.Time) (string, bool) {
	tok, err := jwt.ParseString(bearerToken,
		jwt.WithKey(jwa.RS256(), i.public),
		jwt.WithValidate(false))
	if err != nil {
		return "", false
	}
	if exp, ok := tok.Expiration(); !ok || !now.Before(exp) {
		return "", false
	}
	sub, ok := tok.Subject()
	return sub, ok
}
