package server

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/matheuscscp/praise-prison/internal/backend/backendtest"
	"github.com/matheuscscp/praise-prison/internal/config"
	"github.com/matheuscscp/praise-prison/internal/constants"
	"github.com/matheuscscp/praise-prison/internal/metrics"
)

func TestSubmitLimiter(t *testing.T) {
	g := NewWithT(t)

	// One submission per 30s, bursts of two.
	l := newSubmitLimiter(2, 2)
	now := time.Unix(1700000000, 0)

	ok, _ := l.allow("a", now)
	g.Expect(ok).To(BeTrue())
	ok, _ = l.allow("a", now)
	g.Expect(ok).To(BeTrue())
	ok, wait := l.allow("a", now)
	g.Expect(ok).To(BeFalse())
	g.Expect(wait).To(BeNumerically("~", 30*time.Second, time.Millisecond))

	// A rejected attempt does not consume a token.
	ok, wait = l.allow("a", now.Add(20*time.Second))
	g.Expect(ok).To(BeFalse())
	g.Expect(wait).To(BeNumerically("~", 10*time.Second, time.Millisecond))
	ok, _ = l.allow("a", now.Add(31*time.Second))
	g.Expect(ok).To(BeTrue())

	ok, _ = l.allow("b", now)
	g.Expect(ok).To(BeTrue())
	g.Expect(l.size()).To(Equal(2))

	// Idle clients are swept.
	ok, _ = l.allow("c", now.Add(time.Hour))
	g.Expect(ok).To(BeTrue())
	g.Expect(l.size()).To(Equal(1))
}

func TestClientAddr(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		expected   string
	}{
		{
			name:       "peer address",
			remoteAddr: "192.0.2.1:1234",
			expected:   "192.0.2.1",
		},
		{
			name:       "first forwarded hop",
			remoteAddr: "10.0.0.1:1234",
			forwarded:  "203.0.113.7, 10.0.0.1",
			expected:   "203.0.113.7",
		},
		{
			name:       "empty forwarded hop",
			remoteAddr: "10.0.0.1:1234",
			forwarded:  " , 10.0.0.1",
			expected:   "10.0.0.1",
		},
		{
			name:       "address without port",
			remoteAddr: "pipe",
			expected:   "pipe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			g.Expect(clientAddr(req)).To(Equal(tt.expected))
		})
	}
}

func TestPraiseSubmit_RateLimited(t *testing.T) {
	g := NewWithT(t)

	srv := backendtest.New(t)
	receiver := srv.AddUser("receiver@example.com", "")
	conf := newTestConfig(t, srv.URL, func(c *config.Config) {
		c.Session.SubmitPerMinute = 1
		c.Session.SubmitBurst = 1
	})
	h := newTestHandler(t, conf, nil)

	post := func(addr, message string, cookies ...*http.Cookie) *http.Response {
		form := url.Values{"keyword": {"정리왕"}, "message": {message}}
		req := httptest.NewRequest(http.MethodPost, "/praise/"+receiver.ID, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.RemoteAddr = addr
		return h.do(withCookies(req, cookies...))
	}
	submit := func(addr string) *http.Response {
		return post(addr, "항상 책상을 깨끗하게 정리해요.")
	}

	// Rejected submissions do not use up the burst.
	resp := post("192.0.2.1:1000", "짧음")
	g.Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	cooldown := &http.Cookie{Name: constants.SubmitCooldownCookie, Value: strconv.FormatInt(time.Now().UnixMilli(), 10)}
	resp = post("192.0.2.1:1000", "항상 책상을 깨끗하게 정리해요.", cooldown)
	g.Expect(resp.StatusCode).To(Equal(http.StatusTooManyRequests))
	g.Expect(resp.Header.Get("Retry-After")).To(BeEmpty())

	resp = submit("192.0.2.1:1000")
	g.Expect(resp.StatusCode).To(Equal(http.StatusOK))

	// Dropping the cooldown cookie does not help.
	resp = submit("192.0.2.1:2000")
	g.Expect(resp.StatusCode).To(Equal(http.StatusTooManyRequests))
	g.Expect(resp.Header.Get("Retry-After")).NotTo(BeEmpty())
	g.Expect(readBody(t, resp)).To(ContainSubstring("요청이 너무 많습니다"))
	g.Expect(h.counter(t, "praise_prison_praise_submissions_total", metrics.SubmissionLimited)).To(Equal(1.0))

	resp = submit("192.0.2.2:1000")
	g.Expect(resp.StatusCode).To(Equal(http.StatusOK))

	g.Expect(srv.Praises()).To(HaveLen(2))
}
