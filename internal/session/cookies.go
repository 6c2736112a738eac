package session

import (
	"net/http"
	"strings"

	"github.com/matheuscscp/praise-prison/internal/constants"
)

// DefaultCookieMaxAge matches the lifetime the backend SDK gives its cookies
// (400 days); the refresh token bounds the real lifetime.
const DefaultCookieMaxAge = 400 * 24 * 60 * 60

// CookieOptions is the attribute set shared by every session cookie. The
// cookies are readable by page script, so HttpOnly is always off.
type CookieOptions struct {
	Secure bool
	MaxAge int
}

func (o CookieOptions) Cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   o.MaxAge,
		HttpOnly: false,
		Secure:   o.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Apply forces the session attribute set onto c, keeping its name, value and
// lifetime.
func (o CookieOptions) Apply(c *http.Cookie) *http.Cookie {
	out := o.Cookie(c.Name, c.Value)
	out.MaxAge = c.MaxAge
	out.Expires = c.Expires
	return out
}

func Expired(name string) *http.Cookie {
	return &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	}
}

func IsDeletion(c *http.Cookie) bool {
	return c.MaxAge < 0
}

// IsAuthCookie reports whether name belongs to the backend's auth state.
func IsAuthCookie(name string) bool {
	return strings.HasPrefix(name, constants.AuthCookiePrefix)
}

// IsSessionCookie reports whether name carries a session (or a chunk of one),
// as opposed to the PKCE verifier or an unrelated cookie.
func IsSessionCookie(name string) bool {
	base := BaseName(name)
	return strings.Contains(base, constants.AuthTokenMarker) &&
		!strings.HasSuffix(base, constants.CodeVerifierSuffix)
}

// ParseCookieString splits a Cookie header (or a browser's document.cookie)
// into cookies. Pairs without '=' are skipped; values are kept verbatim.
func ParseCookieString(s string) []*http.Cookie {
	var cookies []*http.Cookie
	for part := range strings.SplitSeq(s, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		cookies = append(cookies, &http.Cookie{Name: name, Value: value})
	}
	return cookies
}

func formatCookieHeader(cookies []*http.Cookie) string {
	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		pairs = append(pairs, (&http.Cookie{Name: c.Name, Value: c.Value}).String())
	}
	return strings.Join(pairs, "; ")
}
