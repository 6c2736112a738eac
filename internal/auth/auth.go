// Package auth builds backend clients bound to one execution context.
package auth

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/matheuscscp/praise-prison/internal/backend"
	"github.com/matheuscscp/praise-prison/internal/config"
	"github.com/matheuscscp/praise-prison/internal/provider"
	"github.com/matheuscscp/praise-prison/internal/session"
)

// Client is the subset of the backend client the application depends on.
type Client interface {
	SignInWithOAuth(p provider.Interface, redirectTo string) (string, error)
	ExchangeCodeForSession(ctx context.Context, code string) (*session.Session, error)
	GetSession(ctx context.Context) (*session.Session, error)
	GetUser(ctx context.Context) (*session.User, error)
	SetSession(ctx context.Context, accessToken, refreshToken string) (*session.Session, error)
	RefreshSession(ctx context.Context) (*session.Session, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(l backend.Listener) func()
	TokenSource(ctx context.Context) oauth2.TokenSource
	HTTPClient(ctx context.Context) *http.Client
}

// Factory returns a client whose cookie reads and writes go to store. Every
// request or page run gets its own client; none is shared.
type Factory func(store session.CookieStore) (Client, error)

// NewFactory configures clients that persist the session in cookies and
// refresh it automatically. They never look for an authorization code in the
// URL: the callback handler and the hydrator handle that explicitly.
func NewFactory(conf *config.Config, httpClient *http.Client) Factory {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: conf.Backend.Timeout}
	}
	return func(store session.CookieStore) (Client, error) {
		c, err := backend.New(backend.Options{
			URL:     conf.Backend.URL,
			AnonKey: conf.Backend.AnonKey,
			Storage: &session.CookieStorage{
				Store: store,
				Options: session.CookieOptions{
					Secure: conf.App.Production,
					MaxAge: session.DefaultCookieMaxAge,
				},
				ChunkSize: conf.Session.ChunkSize,
			},
			StorageKey:       conf.Backend.StorageKey(),
			PersistSession:   true,
			AutoRefreshToken: true,
			RefreshMargin:    conf.Session.RefreshMargin,
			HTTPClient:       httpClient,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create backend client: %w", err)
		}
		return c, nil
	}
}
