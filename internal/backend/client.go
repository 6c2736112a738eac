// Package backend is a client for the hosted backend's identity API. It keeps
// the current session in a pluggable storage, refreshes it before it
// expires and notifies listeners of every change.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/matheuscscp/praise-prison/internal/constants"
	"github.com/matheuscscp/praise-prison/internal/logging"
	"github.com/matheuscscp/praise-prison/internal/provider"
	"github.com/matheuscscp/praise-prison/internal/session"
)

const (
	pathAuthorize = "/auth/v1/authorize"
	pathToken     = "/auth/v1/token"
	pathUser      = "/auth/v1/user"
	pathLogout    = "/auth/v1/logout"

	grantTypePKCE         = "pkce"
	grantTypeRefreshToken = "refresh_token"

	codeChallengeMethodS256 = "s256"

	defaultRefreshMargin = time.Minute
)

type Options struct {
	URL     string
	AnonKey string

	// Storage holds the serialized session under StorageKey and the PKCE
	// verifier under StorageKey + "-code-verifier".
	Storage    session.Storage
	StorageKey string

	PersistSession   bool
	AutoRefreshToken bool

	// RefreshMargin is how close to expiry a session is refreshed when
	// AutoRefreshToken is set.
	RefreshMargin time.Duration

	HTTPClient *http.Client
	Now        func() time.Time
}

type Client struct {
	opts       Options
	baseURL    string
	httpClient *http.Client

	mu        sync.Mutex
	current   *session.Session
	listeners map[int]Listener
	nextID    int
}

func New(opts Options) (*Client, error) {
	u, err := url.Parse(opts.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid backend url '%s'", opts.URL)
	}
	if opts.AnonKey == "" {
		return nil, fmt.Errorf("backend anon key is required")
	}
	if opts.Storage == nil {
		opts.Storage = session.NewMemoryStorage()
	}
	if opts.StorageKey == "" {
		opts.StorageKey = constants.AuthCookiePrefix + constants.DefaultProjectRef + constants.AuthTokenMarker
	}
	if opts.RefreshMargin <= 0 {
		opts.RefreshMargin = defaultRefreshMargin
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	base := http.DefaultClient
	if opts.HTTPClient != nil {
		base = opts.HTTPClient
	}
	httpClient := *base
	httpClient.Transport = &apiKeyTransport{key: opts.AnonKey, base: base.Transport}

	return &Client{
		opts:       opts,
		baseURL:    strings.TrimRight(opts.URL, "/"),
		httpClient: &httpClient,
		listeners:  make(map[int]Listener),
	}, nil
}

func (c *Client) verifierKey() string {
	return c.opts.StorageKey + constants.CodeVerifierSuffix
}

// SignInWithOAuth starts a PKCE flow with the given identity provider and
// returns the URL the browser must visit. The verifier is kept in storage
// until ExchangeCodeForSession consumes it.
func (c *Client) SignInWithOAuth(p provider.Interface, redirectTo string) (string, error) {
	verifier := oauth2.GenerateVerifier()
	c.opts.Storage.SetItem(c.verifierKey(), verifier)

	conf := &oauth2.Config{
		Endpoint: oauth2.Endpoint{AuthURL: c.baseURL + pathAuthorize},
	}
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("provider", p.Name()),
		oauth2.SetAuthURLParam("redirect_to", redirectTo),
		oauth2.SetAuthURLParam("code_challenge", oauth2.S256ChallengeFromVerifier(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", codeChallengeMethodS256),
	}
	if scopes := p.Scopes(); len(scopes) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("scopes", strings.Join(scopes, " ")))
	}
	return conf.AuthCodeURL("", opts...), nil
}

func (c *Client) ExchangeCodeForSession(ctx context.Context, code string) (*session.Session, error) {
	verifier, ok := c.opts.Storage.GetItem(c.verifierKey())
	if !ok || verifier == "" {
		return nil, ErrCodeVerifierMissing
	}

	var s session.Session
	err := c.do(ctx, http.MethodPost, pathToken, url.Values{"grant_type": {grantTypePKCE}}, "", map[string]string{
		"auth_code":     code,
		"code_verifier": verifier,
	}, &s)
	c.opts.Storage.RemoveItem(c.verifierKey())
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for session: %w", err)
	}
	c.normalize(&s)
	c.emit(ctx, EventSignedIn, &s)
	return &s, nil
}

// GetSession returns the current session, or nil when there is none. With
// AutoRefreshToken set, a session about to expire is refreshed first.
func (c *Client) GetSession(ctx context.Context) (*session.Session, error) {
	s, err := c.load()
	if err != nil || s == nil {
		return nil, err
	}
	if c.opts.AutoRefreshToken && s.ExpiresWithin(c.opts.Now(), c.opts.RefreshMargin) {
		return c.refresh(ctx, s.RefreshToken)
	}
	return s, nil
}

// GetUser validates the current access token against the backend, which
// also forces a refresh of a session about to expire.
func (c *Client) GetUser(ctx context.Context) (*session.User, error) {
	s, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrSessionMissing
	}
	return c.fetchUser(ctx, s.AccessToken)
}

func (c *Client) RefreshSession(ctx context.Context) (*session.Session, error) {
	s, err := c.load()
	if err != nil {
		return nil, err
	}
	if s == nil || s.RefreshToken == "" {
		return nil, ErrSessionMissing
	}
	return c.refresh(ctx, s.RefreshToken)
}

// SetSession adopts a token pair obtained elsewhere. An access token that is
// expired or about to be is exchanged through the refresh token instead.
func (c *Client) SetSession(ctx context.Context, accessToken, refreshToken string) (*session.Session, error) {
	if accessToken == "" || refreshToken == "" {
		return nil, ErrSessionMissing
	}
	exp, err := tokenExpiry(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	now := c.opts.Now()
	if !now.Add(c.opts.RefreshMargin).Before(exp) {
		return c.refresh(ctx, refreshToken)
	}

	user, err := c.fetchUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	s := &session.Session{
		AccessToken:  accessToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(exp.Sub(now).Seconds()),
		ExpiresAt:    exp.Unix(),
		RefreshToken: refreshToken,
		User:         *user,
	}
	c.emit(ctx, EventSignedIn, s)
	return s, nil
}

// SignOut revokes the session at the backend and forgets it locally. The
// local state is cleared even when the backend call fails.
func (c *Client) SignOut(ctx context.Context) error {
	s, _ := c.load()
	var err error
	if s != nil && s.AccessToken != "" {
		err = c.do(ctx, http.MethodPost, pathLogout, url.Values{"scope": {"global"}}, s.AccessToken, nil, nil)
		if IsStatus(err, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound) {
			err = nil
		}
	}
	c.opts.Storage.RemoveItem(c.verifierKey())
	c.emit(ctx, EventSignedOut, nil)
	if err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

// TokenSource returns a token source for calls to the row API. Without a
// session, requests are made with the anon key.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	s, err := c.GetSession(ctx)
	if err != nil || s == nil {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.opts.AnonKey, TokenType: "bearer"})
	}
	return oauth2.ReuseTokenSource(s.Token(), &refreshingTokenSource{ctx: ctx, c: c})
}

// HTTPClient returns an HTTP client authenticated for the row API.
func (c *Client) HTTPClient(ctx context.Context) *http.Client {
	client := *c.httpClient
	client.Transport = &oauth2.Transport{
		Source: c.TokenSource(ctx),
		Base:   c.httpClient.Transport,
	}
	return &client
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

type refreshingTokenSource struct {
	ctx context.Context
	c   *Client
}

func (r *refreshingTokenSource) Token() (*oauth2.Token, error) {
	s, err := r.c.RefreshSession(r.ctx)
	if err != nil {
		return nil, err
	}
	return s.Token(), nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*session.Session, error) {
	var s session.Session
	err := c.do(ctx, http.MethodPost, pathToken, url.Values{"grant_type": {grantTypeRefreshToken}}, "", map[string]string{
		"refresh_token": refreshToken,
	}, &s)
	if err != nil {
		if IsStatus(err, http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden) {
			c.emit(ctx, EventSignedOut, nil)
		}
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	c.normalize(&s)
	c.emit(ctx, EventTokenRefreshed, &s)
	return &s, nil
}

func (c *Client) fetchUser(ctx context.Context, accessToken string) (*session.User, error) {
	var u session.User
	if err := c.do(ctx, http.MethodGet, pathUser, nil, accessToken, nil, &u); err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// load returns the in-memory session, falling back to storage.
func (c *Client) load() (*session.Session, error) {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s != nil {
		return s, nil
	}
	if !c.opts.PersistSession {
		return nil, nil
	}

	serialized, ok := c.opts.Storage.GetItem(c.opts.StorageKey)
	if !ok {
		return nil, nil
	}
	s, err := session.Decode(serialized)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if !s.HasTokens() {
		return nil, fmt.Errorf("%w: missing tokens", ErrInvalidSession)
	}
	if s.ExpiresAt == 0 {
		if exp, err := tokenExpiry(s.AccessToken); err == nil {
			s.ExpiresAt = exp.Unix()
		}
	}

	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
	return s, nil
}

func (c *Client) normalize(s *session.Session) {
	if s.TokenType == "" {
		s.TokenType = "bearer"
	}
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = c.opts.Now().Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
	}
}

func tokenExpiry(accessToken string) (time.Time, error) {
	tok, err := jwt.ParseInsecure([]byte(accessToken))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse access token: %w", err)
	}
	exp, ok := tok.Expiration()
	if !ok {
		return time.Time{}, errors.New("access token has no expiration")
	}
	return exp, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, bearer string, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body *bytes.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if bearer == "" {
		bearer = c.opts.AnonKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := CheckResponse(resp); err != nil {
		logging.FromContext(ctx).WithFields(logrus.Fields{
			"backend": logrus.Fields{
				"method": method,
				"path":   path,
				"status": resp.StatusCode,
			},
		}).Debug("backend request failed")
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
