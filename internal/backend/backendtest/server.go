// Package backendtest runs an in-process fake of the backend's auth and row
// APIs for tests.
package backendtest

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/matheuscscp/praise-prison/internal/session"
)

const (
	AnonKey = "test-anon-key"

	// CallerAnon is the row API caller recorded for requests made with the
	// anon key.
	CallerAnon = "anon"

	DefaultTokenTTL = time.Hour

	mediaTypeSingleObject = "application/vnd.pgrst.object+json"
)

type User struct {
	ID       string
	Email    string
	Nickname string
}

// Praise is a row of the praises table as the row API returns it.
type Praise struct {
	ID         string    `json:"id"`
	ReceiverID string    `json:"receiver_id"`
	SenderID   *string   `json:"sender_id"`
	SenderName *string   `json:"sender_name"`
	Keyword    string    `json:"keyword"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

type codeGrant struct {
	userID    string
	challenge string
}

type failure struct {
	status  int
	code    string
	message string
}

type Server struct {
	*httptest.Server

	// TokenTTL is the lifetime of minted access tokens.
	TokenTTL time.Duration
	// ProfileDelay delays profile reads, honoring request cancellation.
	ProfileDelay time.Duration
	Now          func() time.Time

	issuer *issuer

	mu            sync.Mutex
	users         map[string]*User
	profiles      map[string]string
	codes         map[string]codeGrant
	refreshTokens map[string]string
	praises       []Praise
	authorizeAs   string
	exchangeFail  *failure
	insertFail    *failure
	requests      map[string]int
	rowCallers    map[string][]string
}

// New starts a fake backend that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		TokenTTL:      DefaultTokenTTL,
		Now:           time.Now,
		users:         make(map[string]*User),
		profiles:      make(map[string]string),
		codes:         make(map[string]codeGrant),
		refreshTokens: make(map[string]string),
		requests:      make(map[string]int),
		rowCallers:    make(map[string][]string),
	}

	r := chi.NewRouter()
	r.Use(s.countRequests, s.requireAPIKey)
	r.Get("/auth/v1/authorize", s.handleAuthorize)
	r.Post("/auth/v1/token", s.handleToken)
	r.Get("/auth/v1/user", s.handleUser)
	r.Post("/auth/v1/logout", s.handleLogout)
	r.Get("/rest/v1/praises", s.handleListPraises)
	r.Post("/rest/v1/praises", s.handleInsertPraise)
	r.Get("/rest/v1/users", s.handleGetProfile)
	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)

	iss, err := newIssuer(s.URL + "/auth/v1")
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}
	s.issuer = iss
	return s
}

// AddUser registers an auth user. Its profile row is not created.
func (s *Server) AddUser(email, nickname string) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &User{ID: uuid.NewString(), Email: email, Nickname: nickname}
	s.users[u.ID] = u
	return *u
}

func (s *Server) AddProfile(userID, nickname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[userID] = nickname
}

// AuthorizeAs selects the user the authorize endpoint signs in.
func (s *Server) AuthorizeAs(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorizeAs = userID
}

// IssueCode returns an authorization code for userID. An empty challenge
// accepts any verifier.
func (s *Server) IssueCode(userID, challenge string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := randomString()
	s.codes[code] = codeGrant{userID: userID, challenge: challenge}
	return code
}

// IssueSession mints a session for userID as if it had signed in.
func (s *Server) IssueSession(userID string) *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.newSession(userID)
	if err != nil {
		panic(err)
	}
	return sess
}

// IssueExpiredSession mints a session whose access token already expired.
func (s *Server) IssueExpiredSession(userID string) *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[userID]
	now := s.Now()
	token, exp, err := s.issuer.issue(u.ID, u.Email, now.Add(-2*s.TokenTTL), s.TokenTTL)
	if err != nil {
		panic(err)
	}
	refresh := randomString()
	s.refreshTokens[refresh] = u.ID
	return &session.Session{
		AccessToken:  token,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.TokenTTL.Seconds()),
		ExpiresAt:    exp.Unix(),
		RefreshToken: refresh,
		User:         s.sessionUser(u),
	}
}

func (s *Server) FailExchange(status int, code, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchangeFail = &failure{status, code, message}
}

func (s *Server) FailInsert(status int, code, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertFail = &failure{status, code, message}
}

func (s *Server) AddPraise(p Praise) Praise {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.Now()
	}
	s.praises = append(s.praises, p)
	return p
}

func (s *Server) Praises() []Praise {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Praise, len(s.praises))
	copy(out, s.praises)
	return out
}

// Requests returns how many requests hit method and path.
func (s *Server) Requests(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[method+" "+path]
}

// RowCallers returns, in order, the user each row API request to method and
// path was authenticated as, or CallerAnon.
func (s *Server) RowCallers(method, path string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.rowCallers[method+" "+path]...)
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		caller := ""
		if strings.HasPrefix(r.URL.Path, "/rest/") {
			var ok bool
			if caller, ok = s.authenticate(r); !ok {
				caller = CallerAnon
			}
		}
		s.mu.Lock()
		s.requests[key]++
		if caller != "" {
			s.rowCallers[key] = append(s.rowCallers[key], caller)
		}
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Browsers reach the authorize endpoint through a plain redirect.
		if r.URL.Path != "/auth/v1/authorize" && r.Header.Get("apikey") != AnonKey {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "No API key found in request"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirectTo, err := url.Parse(q.Get("redirect_to"))
	if err != nil || q.Get("provider") == "" || q.Get("code_challenge") == "" {
		writeAuthError(w, http.StatusBadRequest, "validation_failed", "invalid authorize request")
		return
	}

	s.mu.Lock()
	userID := s.authorizeAs
	s.mu.Unlock()
	if userID == "" {
		writeAuthError(w, http.StatusBadRequest, "validation_failed", "no user to authorize")
		return
	}

	code := s.IssueCode(userID, q.Get("code_challenge"))
	rq := redirectTo.Query()
	rq.Set("code", code)
	redirectTo.RawQuery = rq.Encode()
	w.Header().Set("Location", redirectTo.String())
	w.WriteHeader(http.StatusFound)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AuthCode     string `json:"auth_code"`
		CodeVerifier string `json:"code_verifier"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAuthError(w, http.StatusBadRequest, "bad_json", "could not parse request body as JSON")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var userID string
	switch r.URL.Query().Get("grant_type") {
	case "pkce":
		if f := s.exchangeFail; f != nil {
			writeAuthError(w, f.status, f.code, f.message)
			return
		}
		grant, ok := s.codes[body.AuthCode]
		if !ok {
			writeAuthError(w, http.StatusNotFound, "flow_state_not_found", "invalid flow state, no valid flow state found")
			return
		}
		if grant.challenge != "" && oauth2.S256ChallengeFromVerifier(body.CodeVerifier) != grant.challenge {
			writeAuthError(w, http.StatusBadRequest, "bad_code_verifier", "code challenge does not match previously saved code verifier")
			return
		}
		delete(s.codes, body.AuthCode)
		userID = grant.userID
	case "refresh_token":
		id, ok := s.refreshTokens[body.RefreshToken]
		if !ok {
			writeAuthError(w, http.StatusBadRequest, "refresh_token_not_found", "Invalid Refresh Token: Refresh Token Not Found")
			return
		}
		delete(s.refreshTokens, body.RefreshToken)
		userID = id
	default:
		writeAuthError(w, http.StatusBadRequest, "validation_failed", "unsupported grant type")
		return
	}

	sess, err := s.newSession(userID)
	if err != nil {
		writeAuthError(w, http.StatusInternalServerError, "unexpected_failure", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(r)
	if !ok {
		writeAuthError(w, http.StatusForbidden, "bad_jwt", "invalid JWT: unable to parse or verify signature")
		return
	}
	s.mu.Lock()
	u, ok := s.users[userID]
	var su session.User
	if ok {
		su = s.sessionUser(u)
	}
	s.mu.Unlock()
	if !ok {
		writeAuthError(w, http.StatusNotFound, "user_not_found", "User from sub claim in JWT does not exist")
		return
	}
	writeJSON(w, http.StatusOK, su)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(r)
	if !ok {
		writeAuthError(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT")
		return
	}
	s.mu.Lock()
	for token, id := range s.refreshTokens {
		if id == userID {
			delete(s.refreshTokens, token)
		}
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPraises(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	receiverID, byReceiver := eqFilter(q, "receiver_id")
	senderID, bySender := eqFilter(q, "sender_id")
	embedReceiver := strings.Contains(q.Get("select"), "users!receiver_id")

	s.mu.Lock()
	var rows []map[string]any
	for _, p := range s.praises {
		if byReceiver && p.ReceiverID != receiverID {
			continue
		}
		if bySender && (p.SenderID == nil || *p.SenderID != senderID) {
			continue
		}
		row := map[string]any{
			"id":          p.ID,
			"receiver_id": p.ReceiverID,
			"sender_id":   p.SenderID,
			"sender_name": p.SenderName,
			"keyword":     p.Keyword,
			"message":     p.Message,
			"created_at":  p.CreatedAt,
		}
		if embedReceiver {
			if nickname, ok := s.profiles[p.ReceiverID]; ok {
				row["users"] = map[string]any{"nickname": nickname}
			} else {
				row["users"] = nil
			}
		}
		rows = append(rows, row)
	}
	s.mu.Unlock()

	if q.Get("order") == "created_at.desc" {
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i]["created_at"].(time.Time).After(rows[j]["created_at"].(time.Time))
		})
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleInsertPraise(w http.ResponseWriter, r *http.Request) {
	var p Praise
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeRowError(w, http.StatusBadRequest, "PGRST102", "Empty or invalid json")
		return
	}
	s.mu.Lock()
	f := s.insertFail
	s.mu.Unlock()
	if f != nil {
		writeRowError(w, f.status, f.code, f.message)
		return
	}
	if p.ReceiverID == "" || p.Keyword == "" || p.Message == "" {
		writeRowError(w, http.StatusBadRequest, "23502", "null value violates not-null constraint")
		return
	}
	p.ID = ""
	p.CreatedAt = time.Time{}
	p = s.AddPraise(p)
	if strings.Contains(r.Header.Get("Prefer"), "return=representation") {
		writeJSON(w, http.StatusCreated, []Praise{p})
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	if s.ProfileDelay > 0 {
		select {
		case <-time.After(s.ProfileDelay):
		case <-r.Context().Done():
			return
		}
	}

	id, _ := eqFilter(r.URL.Query(), "id")
	s.mu.Lock()
	nickname, ok := s.profiles[id]
	s.mu.Unlock()

	single := strings.Contains(r.Header.Get("Accept"), mediaTypeSingleObject)
	switch {
	case ok && single:
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "nickname": nickname})
	case ok:
		writeJSON(w, http.StatusOK, []map[string]any{{"id": id, "nickname": nickname}})
	case single:
		writeJSON(w, http.StatusNotAcceptable, map[string]any{
			"code":    "PGRST116",
			"message": "JSON object requested, multiple (or no) rows returned",
			"details": "The result contains 0 rows",
			"hint":    nil,
		})
	default:
		writeJSON(w, http.StatusOK, []map[string]any{})
	}
}

func (s *Server) authenticate(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return "", false
	}
	return s.issuer.verify(token, s.Now())
}

// newSession must be called with s.mu held.
func (s *Server) newSession(userID string) (*session.Session, error) {
	u, ok := s.users[userID]
	if !ok {
		u = &User{ID: userID}
		s.users[userID] = u
	}
	token, exp, err := s.issuer.issue(u.ID, u.Email, s.Now(), s.TokenTTL)
	if err != nil {
		return nil, err
	}
	refresh := randomString()
	s.refreshTokens[refresh] = u.ID
	return &session.Session{
		AccessToken:  token,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.TokenTTL.Seconds()),
		ExpiresAt:    exp.Unix(),
		RefreshToken: refresh,
		User:         s.sessionUser(u),
	}, nil
}

func (s *Server) sessionUser(u *User) session.User {
	su := session.User{ID: u.ID, Email: u.Email, Role: audienceAuthenticated}
	if u.Nickname != "" {
		su.UserMetadata = map[string]any{"nickname": u.Nickname}
	}
	return su
}

func eqFilter(q url.Values, column string) (string, bool) {
	return strings.CutPrefix(q.Get(column), "eq.")
}

func writeAuthError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"code": status, "error_code": code, "msg": msg})
}

func writeRowError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"code": code, "message": msg, "details": nil, "hint": nil})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func randomString() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
