package session

import (
	"net/http"
	"strings"
	"sync"
)

// CookieStore is the cookie context a backend client reads from and writes
// to. Writes are applied in order; a cookie with a negative MaxAge deletes.
type CookieStore interface {
	GetAll() []*http.Cookie
	SetAll(cookies []*http.Cookie)
}

// jar tracks the cookies visible to the current request together with the
// writes made so far, deduplicated by name.
type jar struct {
	mu      sync.Mutex
	current []*http.Cookie
	written []*http.Cookie
}

func newJar(cookies []*http.Cookie) *jar {
	current := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		current = upsert(current, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return &jar{current: current}
}

func (j *jar) getAll() []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*http.Cookie, len(j.current))
	for i, c := range j.current {
		cc := *c
		out[i] = &cc
	}
	return out
}

func (j *jar) setAll(cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.apply(cookies)
}

// apply must be called with j.mu held.
func (j *jar) apply(cookies []*http.Cookie) {
	for _, c := range cookies {
		cc := *c
		j.written = upsert(j.written, &cc)
		if IsDeletion(c) {
			j.current = remove(j.current, c.Name)
		} else {
			j.current = upsert(j.current, &http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
}

func (j *jar) writes() []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	written := make([]*http.Cookie, len(j.written))
	copy(written, j.written)
	return written
}

func upsert(cookies []*http.Cookie, c *http.Cookie) []*http.Cookie {
	for i, existing := range cookies {
		if existing.Name == c.Name {
			cookies[i] = c
			return cookies
		}
	}
	return append(cookies, c)
}

func remove(cookies []*http.Cookie, name string) []*http.Cookie {
	out := cookies[:0]
	for _, c := range cookies {
		if c.Name != name {
			out = append(out, c)
		}
	}
	return out
}

// RequestStore binds cookie operations to one request/response pair. Every
// write is reflected on the request's Cookie header, so handlers further down
// the chain see it, and on the response's Set-Cookie headers.
type RequestStore struct {
	w   http.ResponseWriter
	r   *http.Request
	jar *jar

	// closed is guarded by jar.mu.
	closed bool
}

func NewRequestStore(w http.ResponseWriter, r *http.Request) *RequestStore {
	return &RequestStore{
		w:   w,
		r:   r,
		jar: newJar(r.Cookies()),
	}
}

func (s *RequestStore) GetAll() []*http.Cookie {
	return s.jar.getAll()
}

// SetAll applies cookies to the request and the response. Writes after Close
// are dropped.
func (s *RequestStore) SetAll(cookies []*http.Cookie) {
	s.jar.mu.Lock()
	defer s.jar.mu.Unlock()
	if s.closed {
		return
	}
	s.jar.apply(cookies)

	if len(s.jar.current) == 0 {
		s.r.Header.Del("Cookie")
	} else {
		s.r.Header.Set("Cookie", formatCookieHeader(s.jar.current))
	}

	h := s.w.Header()
	names := make(map[string]struct{}, len(s.jar.written))
	for _, c := range s.jar.written {
		names[c.Name] = struct{}{}
	}
	var kept []string
	for _, line := range h.Values("Set-Cookie") {
		name, _, _ := strings.Cut(line, "=")
		if _, ok := names[strings.TrimSpace(name)]; !ok {
			kept = append(kept, line)
		}
	}
	h.Del("Set-Cookie")
	for _, line := range kept {
		h.Add("Set-Cookie", line)
	}
	for _, c := range s.jar.written {
		if v := c.String(); v != "" {
			h.Add("Set-Cookie", v)
		}
	}
}

// Close detaches the store from the request and the response. Clients bound
// to it may outlive the work they were started for, and their later writes
// must not race with the handler writing the response.
func (s *RequestStore) Close() {
	s.jar.mu.Lock()
	defer s.jar.mu.Unlock()
	s.closed = true
}

// CaptureStore reads the request's cookies but only records writes, leaving
// it to the caller to decide what reaches the response.
type CaptureStore struct {
	jar *jar
}

func NewCaptureStore(r *http.Request) *CaptureStore {
	return &CaptureStore{jar: newJar(r.Cookies())}
}

func (s *CaptureStore) GetAll() []*http.Cookie {
	return s.jar.getAll()
}

func (s *CaptureStore) SetAll(cookies []*http.Cookie) {
	s.jar.setAll(cookies)
}

// Captured returns every write made so far, one entry per cookie name, in
// the order the names were first written.
func (s *CaptureStore) Captured() []*http.Cookie {
	written := s.jar.writes()
	out := make([]*http.Cookie, len(written))
	for i, c := range written {
		cc := *c
		out[i] = &cc
	}
	return out
}

// ExpireMatching deletes every cookie in store whose name satisfies match
// and returns the deleted names.
func ExpireMatching(store CookieStore, match func(name string) bool) []string {
	var names []string
	var expired []*http.Cookie
	for _, c := range store.GetAll() {
		if match(c.Name) {
			names = append(names, c.Name)
			expired = append(expired, Expired(c.Name))
		}
	}
	if len(expired) > 0 {
		store.SetAll(expired)
	}
	return names
}
