package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/matheuscscp/praise-prison/internal/auth"
	"github.com/matheuscscp/praise-prison/internal/backend"
	"github.com/matheuscscp/praise-prison/internal/backend/backendtest"
	"github.com/matheuscscp/praise-prison/internal/config"
	"github.com/matheuscscp/praise-prison/internal/metrics"
	"github.com/matheuscscp/praise-prison/internal/provider/kakao"
	"github.com/matheuscscp/praise-prison/internal/session"
)

func newTestConfig(t *testing.T, backendURL string, mutate ...func(c *config.Config)) *config.Config {
	t.Helper()
	conf := &config.Config{}
	if backendURL != "" {
		conf.Backend = config.BackendConfig{URL: backendURL, AnonKey: backendtest.AnonKey}
	}
	for _, m := range mutate {
		m(conf)
	}
	if err := conf.ValidateAndInitialize(); err != nil {
		t.Fatalf("invalid config: %v", err)
	}
	return conf
}

type testHandler struct {
	http.Handler
	reg *prometheus.Registry
}

// newTestHandler builds the full handler stack. A nil factory uses real
// clients talking to the configured backend.
func newTestHandler(t *testing.T, conf *config.Config, newClient auth.Factory) *testHandler {
	t.Helper()
	if newClient == nil {
		newClient = auth.NewFactory(conf, nil)
	}
	reg := prometheus.NewRegistry()
	m := metrics.NewCollector(reg)
	api, err := newAPI(conf, kakao.Provider{}, newClient, restStores(conf), m, time.Now)
	if err != nil {
		t.Fatalf("failed to create api: %v", err)
	}
	return &testHandler{
		Handler: newServer(conf, api, m, reg).Handler,
		reg:     reg,
	}
}

func (h *testHandler) do(req *http.Request) *http.Response {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Result()
}

// counter returns the value of a counter, matching its only label when label
// is not empty.
func (h *testHandler) counter(t *testing.T, name, label string) float64 {
	t.Helper()
	families, err := h.reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label == "" || (len(m.GetLabel()) == 1 && m.GetLabel()[0].GetValue() == label) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func cookiesByName(cookies []*http.Cookie) map[string]*http.Cookie {
	out := make(map[string]*http.Cookie, len(cookies))
	for _, c := range cookies {
		out[c.Name] = c
	}
	return out
}

// sessionCookies encodes s the way the auth client persists it.
func sessionCookies(t *testing.T, conf *config.Config, s *session.Session) []*http.Cookie {
	t.Helper()
	serialized, err := session.Encode(s)
	if err != nil {
		t.Fatalf("failed to encode session: %v", err)
	}
	var cookies []*http.Cookie
	for _, c := range session.Split(conf.Backend.StorageKey(), session.EncodeCookieValue(serialized), conf.Session.ChunkSize) {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return cookies
}

func withCookies(req *http.Request, cookies ...*http.Cookie) *http.Request {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return string(b)
}

// fakeClient implements the parts of auth.Client a test needs. Calling any
// other method panics.
type fakeClient struct {
	auth.Client

	exchange   func(ctx context.Context, code string) (*session.Session, error)
	getSession func(ctx context.Context) (*session.Session, error)
	getUser    func(ctx context.Context) (*session.User, error)
}

func (f *fakeClient) ExchangeCodeForSession(ctx context.Context, code string) (*session.Session, error) {
	return f.exchange(ctx, code)
}

func (f *fakeClient) GetSession(ctx context.Context) (*session.Session, error) {
	if f.getSession == nil {
		return nil, nil
	}
	return f.getSession(ctx)
}

func (f *fakeClient) GetUser(ctx context.Context) (*session.User, error) {
	if f.getUser == nil {
		return nil, backend.ErrSessionMissing
	}
	return f.getUser(ctx)
}

func (f *fakeClient) SetSession(context.Context, string, string) (*session.Session, error) {
	return nil, backend.ErrSessionMissing
}

func (f *fakeClient) RefreshSession(context.Context) (*session.Session, error) {
	return nil, backend.ErrSessionMissing
}

func (f *fakeClient) OnAuthStateChange(backend.Listener) func() {
	return func() {}
}

func (f *fakeClient) HTTPClient(context.Context) *http.Client {
	return http.DefaultClient
}

func fakeFactory(f *fakeClient) auth.Factory {
	return func(session.CookieStore) (auth.Client, error) {
		return f, nil
	}
}
