// Package session holds the session issued by the backend's identity API and
// everything needed to carry it across requests in cookies.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const deprecatedEncodingPrefix = "base64-"

var (
	ErrMalformed          = errors.New("malformed session")
	ErrDeprecatedEncoding = errors.New("session cookie uses a deprecated encoding")
)

// Session mirrors the JSON document returned by the backend's token endpoint.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email,omitempty"`
	Role         string         `json:"role,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// Nickname returns the nickname the identity provider put in the user
// metadata, if any.
func (u *User) Nickname() string {
	for _, key := range []string{"nickname", "name", "full_name"} {
		if s, ok := u.UserMetadata[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// HasTokens reports whether s carries both tokens needed to resume it.
func (s *Session) HasTokens() bool {
	return s != nil && s.AccessToken != "" && s.RefreshToken != ""
}

func (s *Session) Expiry() time.Time {
	if s.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(s.ExpiresAt, 0)
}

// ExpiresWithin reports whether the access token expires before now+margin.
// A session without a known expiry never does.
func (s *Session) ExpiresWithin(now time.Time, margin time.Duration) bool {
	exp := s.Expiry()
	return !exp.IsZero() && !now.Add(margin).Before(exp)
}

func (s *Session) Token() *oauth2.Token {
	tokenType := s.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    tokenType,
		RefreshToken: s.RefreshToken,
		Expiry:       s.Expiry(),
		ExpiresIn:    s.ExpiresIn,
	}
}

// Encode serializes s into its canonical JSON form.
func Encode(s *Session) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}
	return string(b), nil
}

// Decode parses a serialized session. Values written by older releases with a
// base64 prefix are rejected with ErrDeprecatedEncoding.
func Decode(serialized string) (*Session, error) {
	if strings.HasPrefix(serialized, deprecatedEncodingPrefix) {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, ErrDeprecatedEncoding)
	}
	var s Session
	if err := json.Unmarshal([]byte(serialized), &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return &s, nil
}
