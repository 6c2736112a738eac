package server

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/matheuscscp/praise-prison/internal/constants"
	"github.com/matheuscscp/praise-prison/internal/logging"
	"github.com/matheuscscp/praise-prison/internal/metrics"
	"github.com/matheuscscp/praise-prison/internal/session"
)

// handleLogin starts the OAuth flow. Leftover auth state of earlier attempts
// is wiped first so that the callback starts from a clean slate.
func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	l := logging.FromRequest(r)

	store := session.NewRequestStore(w, r)
	wipeAuthCookies(r, store)

	client, err := a.newClient(store)
	if err != nil {
		l.WithError(err).Error("failed to create auth client")
		redirect(w, a.conf.App.LoginPath, http.StatusSeeOther)
		return
	}

	q := url.Values{}
	q.Set(constants.QueryParamNext, nextPath(a.conf, r))
	redirectTo := fmt.Sprintf("%s%s?%s", origin(a.conf, r), constants.PathAuthCallback, q.Encode())

	authURL, err := client.SignInWithOAuth(a.provider, redirectTo)
	if err != nil {
		l.WithError(err).Error("failed to start oauth sign in")
		redirectToCodeError(w, err.Error())
		return
	}
	redirect(w, authURL, http.StatusSeeOther)
}

// handleCallback exchanges the authorization code for a session and makes
// sure the session reaches the browser as cookies before redirecting.
func (a *api) handleCallback(w http.ResponseWriter, r *http.Request) {
	l := logging.FromRequest(r)

	code := authorizationCode(r)
	if code == "" {
		a.metrics.RecordCallback(metrics.CallbackMissingCode)
		l.Warn("callback without authorization code")
		redirect(w, constants.PathAuthCodeError, http.StatusTemporaryRedirect)
		return
	}
	next := nextPath(a.conf, r)

	capture := session.NewCaptureStore(r)
	client, err := a.newClient(capture)
	if err != nil {
		a.metrics.RecordCallback(metrics.CallbackExchangeError)
		l.WithError(err).Error("failed to create auth client")
		redirectToCodeError(w, err.Error())
		return
	}

	s, err := client.ExchangeCodeForSession(r.Context(), code)
	if err != nil {
		a.metrics.RecordCallback(metrics.CallbackExchangeError)
		l.WithError(err).Error("failed to exchange authorization code for session")
		redirectToCodeError(w, failureReason(err))
		return
	}

	cookies := capture.Captured()
	result := metrics.CallbackSuccess
	storageKey := a.conf.Backend.StorageKey()
	if !hasSessionCookie(cookies, storageKey) {
		fallback, err := a.fallbackCookies(storageKey, s)
		if err != nil {
			a.metrics.RecordCallback(metrics.CallbackExchangeError)
			l.WithError(err).Error("failed to build fallback session cookie")
			redirectToCodeError(w, err.Error())
			return
		}
		cookies = append(cookies, fallback...)
		result = metrics.CallbackFallbackCookie
		l.WithField("chunks", len(fallback)).Warn("auth client set no session cookie, wrote fallback cookie")
	}

	opts := session.CookieOptions{Secure: a.conf.App.Production}
	for _, c := range cookies {
		http.SetCookie(w, opts.Apply(c))
	}

	a.metrics.RecordCallback(result)
	l.WithFields(logrus.Fields{"userID": s.User.ID, "next": next}).Info("user signed in")
	redirect(w, next, http.StatusTemporaryRedirect)
}

// fallbackCookies encodes s the way the auth client stores sessions, chunked
// when it does not fit one cookie. The cookies live as long as the access
// token.
func (a *api) fallbackCookies(storageKey string, s *session.Session) ([]*http.Cookie, error) {
	serialized, err := session.Encode(s)
	if err != nil {
		return nil, err
	}
	opts := session.CookieOptions{Secure: a.conf.App.Production, MaxAge: int(s.ExpiresIn)}
	chunks := session.Split(storageKey, session.EncodeCookieValue(serialized), a.conf.Session.ChunkSize)
	cookies := make([]*http.Cookie, 0, len(chunks))
	for _, c := range chunks {
		cookies = append(cookies, opts.Cookie(c.Name, c.Value))
	}
	return cookies, nil
}

func hasSessionCookie(cookies []*http.Cookie, storageKey string) bool {
	for _, c := range cookies {
		if !session.IsDeletion(c) && c.Value != "" && session.BelongsTo(storageKey, c.Name) {
			return true
		}
	}
	return false
}

func redirectToCodeError(w http.ResponseWriter, reason string) {
	q := url.Values{}
	q.Set(constants.QueryParamError, reason)
	redirect(w, fmt.Sprintf("%s?%s", constants.PathAuthCodeError, q.Encode()), http.StatusTemporaryRedirect)
}

func (a *api) handleSignOut(w http.ResponseWriter, r *http.Request) {
	l := logging.FromRequest(r)

	store := session.NewRequestStore(w, r)
	if client, err := a.newClient(store); err != nil {
		l.WithError(err).Error("failed to create auth client")
	} else if err := client.SignOut(r.Context()); err != nil {
		l.WithError(err).Warn("failed to sign out at the backend")
	}
	wipeAuthCookies(r, store)

	redirect(w, constants.PathLanding, http.StatusSeeOther)
}

func (a *api) handleAuthCodeError(w http.ResponseWriter, r *http.Request) {
	a.render(w, r, http.StatusOK, pageError, &errorPage{
		Emoji:   "😱",
		Title:   "로그인 실패!",
		Message: "인증 코드를 교환하는 과정에서 문제가 발생했습니다.\n다시 시도해 주세요.",
		Detail:  r.URL.Query().Get(constants.QueryParamError),
		Action:  "다시 로그인 하러 가기",
	})
}
