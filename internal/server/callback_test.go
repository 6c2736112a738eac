package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	. "github.com/onsi/gomega"
	"golang.org/x/oauth2"

	"github.com/matheuscscp/praise-prison/internal/backend"
	"github.com/matheuscscp/praise-prison/internal/backend/backendtest"
	"github.com/matheuscscp/praise-prison/internal/config"
	"github.com/matheuscscp/praise-prison/internal/session"
)

func TestCallback(t *testing.T) {
	exchanged := &session.Session{
		AccessToken:  "access",
		TokenType:    "bearer",
		ExpiresIn:    3600,
		RefreshToken: "refresh",
		User:         session.User{ID: "u1", Email: "inmate@example.com"},
	}
	bigSession := *exchanged
	bigSession.User.UserMetadata = map[string]any{"bio": strings.Repeat("칭찬", 1000)}

	tests := []struct {
		name             string
		target           string
		production       bool
		exchange         func(ctx context.Context, code string) (*session.Session, error)
		expectedLocation string
		expectedResult   string
		expectedSession  *session.Session
		expectedChunks   int
	}{
		{
			name:             "missing code",
			target:           "/auth/callback",
			expectedLocation: "/auth/auth-code-error",
			expectedResult:   "missing_code",
		},
		{
			name:   "exchange failure",
			target: "/auth/callback?code=expired-code",
			exchange: func(context.Context, string) (*session.Session, error) {
				return nil, fmt.Errorf("failed to exchange code for session: %w", &backend.APIError{
					Status:  http.StatusNotFound,
					Code:    "flow_state_not_found",
					Message: "invalid flow state, no valid flow state found",
				})
			},
			expectedLocation: "/auth/auth-code-error?error=invalid+flow+state%2C+no+valid+flow+state+found",
			expectedResult:   "exchange_error",
		},
		{
			name:   "missing verifier",
			target: "/auth/callback?code=valid-code",
			exchange: func(context.Context, string) (*session.Session, error) {
				return nil, backend.ErrCodeVerifierMissing
			},
			expectedLocation: "/auth/auth-code-error?error=" + url.QueryEscape(backend.ErrCodeVerifierMissing.Error()),
			expectedResult:   "exchange_error",
		},
		{
			name:   "client sets no cookie",
			target: "/auth/callback?code=valid-code",
			exchange: func(_ context.Context, code string) (*session.Session, error) {
				if code != "valid-code" {
					return nil, fmt.Errorf("unexpected code %s", code)
				}
				return exchanged, nil
			},
			expectedLocation: "/dashboard",
			expectedResult:   "fallback_cookie",
			expectedSession:  exchanged,
			expectedChunks:   1,
		},
		{
			name:       "client sets no cookie in production",
			target:     "/auth/callback?code=valid-code",
			production: true,
			exchange: func(context.Context, string) (*session.Session, error) {
				return exchanged, nil
			},
			expectedLocation: "/dashboard",
			expectedResult:   "fallback_cookie",
			expectedSession:  exchanged,
			expectedChunks:   1,
		},
		{
			name:   "oversized fallback cookie is chunked",
			target: "/auth/callback?code=valid-code",
			exchange: func(context.Context, string) (*session.Session, error) {
				return &bigSession, nil
			},
			expectedLocation: "/dashboard",
			expectedResult:   "fallback_cookie",
			expectedSession:  &bigSession,
			expectedChunks:   -1,
		},
		{
			name:   "next is honored",
			target: "/auth/callback?code=valid-code&next=" + url.QueryEscape("/praise/123"),
			exchange: func(context.Context, string) (*session.Session, error) {
				return exchanged, nil
			},
			expectedLocation: "/praise/123",
			expectedResult:   "fallback_cookie",
			expectedSession:  exchanged,
			expectedChunks:   1,
		},
		{
			name:   "foreign next is replaced",
			target: "/auth/callback?code=valid-code&next=" + url.QueryEscape("//evil.example.com"),
			exchange: func(context.Context, string) (*session.Session, error) {
				return exchanged, nil
			},
			expectedLocation: "/dashboard",
			expectedResult:   "fallback_cookie",
			expectedSession:  exchanged,
			expectedChunks:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)

			conf := newTestConfig(t, "https://xyz.example.co", func(c *config.Config) {
				c.App.Production = tt.production
			})
			h := newTestHandler(t, conf, fakeFactory(&fakeClient{exchange: tt.exchange}))

			resp := h.do(httptest.NewRequest(http.MethodGet, tt.target, nil))

			g.Expect(resp.StatusCode).To(Equal(http.StatusTemporaryRedirect))
			g.Expect(resp.Header.Get("Location")).To(Equal(tt.expectedLocation))
			g.Expect(readBody(t, resp)).To(BeEmpty())
			g.Expect(h.counter(t, "praise_prison_callback_total", tt.expectedResult)).To(Equal(1.0))

			cookies := resp.Cookies()
			if tt.expectedSession == nil {
				g.Expect(cookies).To(BeEmpty())
				return
			}

			g.Expect(conf.Backend.StorageKey()).To(Equal("sb-xyz-auth-token"))
			switch tt.expectedChunks {
			case 1:
				g.Expect(cookies).To(HaveLen(1))
				g.Expect(cookies[0].Name).To(Equal("sb-xyz-auth-token"))
			default:
				g.Expect(len(cookies)).To(BeNumerically(">", 1))
				for i, c := range cookies {
					g.Expect(c.Name).To(Equal(fmt.Sprintf("sb-xyz-auth-token.%d", i)))
					g.Expect(len(c.Value)).To(BeNumerically("<=", conf.Session.ChunkSize))
				}
			}
			for _, c := range cookies {
				g.Expect(c.MaxAge).To(Equal(3600))
				g.Expect(c.Path).To(Equal("/"))
				g.Expect(c.HttpOnly).To(BeFalse())
				g.Expect(c.SameSite).To(Equal(http.SameSiteLaxMode))
				g.Expect(c.Secure).To(Equal(tt.production))
			}

			raw, ok := session.Join("sb-xyz-auth-token", cookies)
			g.Expect(ok).To(BeTrue())
			serialized, err := session.DecodeCookieValue(raw)
			g.Expect(err).NotTo(HaveOccurred())
			s, err := session.Decode(serialized)
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(s).To(Equal(tt.expectedSession))
		})
	}
}

func TestSignInFlow(t *testing.T) {
	g := NewWithT(t)

	srv := backendtest.New(t)
	u := srv.AddUser("inmate@example.com", "감자")
	srv.AddProfile(u.ID, "감자")
	srv.AddPraise(backendtest.Praise{ReceiverID: u.ID, Keyword: "배려심", Message: "담요를 챙겨주셔서 따뜻했어요."})
	srv.AuthorizeAs(u.ID)

	conf := newTestConfig(t, srv.URL)
	h := newTestHandler(t, conf, nil)
	storageKey := conf.Backend.StorageKey()
	verifierKey := storageKey + "-code-verifier"

	// Login start wipes leftovers and stores the PKCE verifier.
	req := httptest.NewRequest(http.MethodGet, "/auth/login?next="+url.QueryEscape("/dashboard"), nil)
	req.AddCookie(&http.Cookie{Name: "sb-old-auth-token", Value: "stale"})
	resp := h.do(req)
	g.Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))

	authorizeURL, err := url.Parse(resp.Header.Get("Location"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(authorizeURL.Path).To(Equal("/auth/v1/authorize"))
	q := authorizeURL.Query()
	g.Expect(q.Get("provider")).To(Equal("kakao"))
	g.Expect(q.Get("code_challenge_method")).To(Equal("s256"))
	g.Expect(q.Get("redirect_to")).To(Equal("http://example.com/auth/callback?next=%2Fdashboard"))

	cookies := cookiesByName(resp.Cookies())
	g.Expect(cookies).To(HaveKey("sb-old-auth-token"))
	g.Expect(cookies["sb-old-auth-token"].MaxAge).To(BeNumerically("<", 0))
	g.Expect(cookies).To(HaveKey(verifierKey))
	verifier := cookies[verifierKey]
	g.Expect(verifier.Value).To(HaveLen(43))
	g.Expect(oauth2.S256ChallengeFromVerifier(verifier.Value)).To(Equal(q.Get("code_challenge")))

	// The backend sends the browser back with a code.
	noFollow := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	authorizeReq, err := http.NewRequest(http.MethodGet, authorizeURL.String(), nil)
	g.Expect(err).NotTo(HaveOccurred())
	authorizeReq.Header.Set("apikey", backendtest.AnonKey)
	authorizeResp, err := noFollow.Do(authorizeReq)
	g.Expect(err).NotTo(HaveOccurred())
	authorizeResp.Body.Close()
	g.Expect(authorizeResp.StatusCode).To(Equal(http.StatusFound))
	callbackURL, err := url.Parse(authorizeResp.Header.Get("Location"))
	g.Expect(err).NotTo(HaveOccurred())

	// The callback exchanges the code and persists the session.
	req = httptest.NewRequest(http.MethodGet, callbackURL.RequestURI(), nil)
	req.AddCookie(&http.Cookie{Name: verifierKey, Value: verifier.Value})
	resp = h.do(req)
	g.Expect(resp.StatusCode).To(Equal(http.StatusTemporaryRedirect))
	g.Expect(resp.Header.Get("Location")).To(Equal("/dashboard"))
	g.Expect(readBody(t, resp)).To(BeEmpty())
	g.Expect(h.counter(t, "praise_prison_callback_total", "success")).To(Equal(1.0))

	cookies = cookiesByName(resp.Cookies())
	g.Expect(cookies).To(HaveKey(verifierKey))
	g.Expect(cookies[verifierKey].MaxAge).To(BeNumerically("<", 0))
	g.Expect(cookies).To(HaveKey(storageKey))
	sessionCookie := cookies[storageKey]
	g.Expect(sessionCookie.MaxAge).To(Equal(session.DefaultCookieMaxAge))
	g.Expect(sessionCookie.HttpOnly).To(BeFalse())
	g.Expect(sessionCookie.SameSite).To(Equal(http.SameSiteLaxMode))

	// The very next request finds the session.
	req = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: storageKey, Value: sessionCookie.Value})
	resp = h.do(req)
	g.Expect(resp.StatusCode).To(Equal(http.StatusOK))
	body := readBody(t, resp)
	g.Expect(body).To(ContainSubstring("감자"))
	g.Expect(body).To(ContainSubstring("#배려심"))
	g.Expect(body).To(ContainSubstring("http://example.com/praise/" + u.ID))
	g.Expect(h.counter(t, "praise_prison_hydration_total", "session")).To(Equal(1.0))
}

func TestSignOut(t *testing.T) {
	g := NewWithT(t)

	srv := backendtest.New(t)
	u := srv.AddUser("inmate@example.com", "")
	conf := newTestConfig(t, srv.URL)
	h := newTestHandler(t, conf, nil)

	req := withCookies(httptest.NewRequest(http.MethodPost, "/auth/signout", nil),
		sessionCookies(t, conf, srv.IssueSession(u.ID))...)
	resp := h.do(req)

	g.Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
	g.Expect(resp.Header.Get("Location")).To(Equal("/"))
	g.Expect(srv.Requests(http.MethodPost, "/auth/v1/logout")).To(Equal(1))
	cookies := cookiesByName(resp.Cookies())
	g.Expect(cookies).To(HaveKey(conf.Backend.StorageKey()))
	g.Expect(cookies[conf.Backend.StorageKey()].MaxAge).To(BeNumerically("<", 0))
}

func TestAuthCodeErrorPage(t *testing.T) {
	g := NewWithT(t)

	h := newTestHandler(t, newTestConfig(t, "https://xyz.example.co"), fakeFactory(&fakeClient{}))

	resp := h.do(httptest.NewRequest(http.MethodGet, "/auth/auth-code-error?error="+url.QueryEscape("invalid flow state"), nil))
	g.Expect(resp.StatusCode).To(Equal(http.StatusOK))
	body := readBody(t, resp)
	g.Expect(body).To(ContainSubstring("로그인 실패!"))
	g.Expect(body).To(ContainSubstring("invalid flow state"))
}
