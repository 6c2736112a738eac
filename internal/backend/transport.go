package backend

import (
	"net/http"
)

const headerAPIKey = "apikey"

// apiKeyTransport adds the project's public key to every request, which the
// backend gateway requires regardless of the bearer token.
type apiKeyTransport struct {
	key  string
	base http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set(headerAPIKey, t.key)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(r)
}
