package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/matheuscscp/praise-prison/internal/backend"
	"github.com/matheuscscp/praise-prison/internal/config"
	"github.com/matheuscscp/praise-prison/internal/constants"
	"github.com/matheuscscp/praise-prison/internal/logging"
	"github.com/matheuscscp/praise-prison/internal/session"
)

// origin is the public base URL the browser sees.
func origin(conf *config.Config, r *http.Request) string {
	if conf.App.PublicURL != "" {
		return conf.App.PublicURL
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, r.Host)
}

func authorizationCode(r *http.Request) string {
	return r.URL.Query().Get(constants.QueryParamAuthorizationCode)
}

// nextPath returns the requested post-login path, or the dashboard when it is
// absent or not allowed.
func nextPath(conf *config.Config, r *http.Request) string {
	next := r.URL.Query().Get(constants.QueryParamNext)
	if next == "" || !conf.App.ValidateNextPath(next) {
		return constants.PathDashboard
	}
	return next
}

func loginURL(next string) string {
	q := url.Values{}
	q.Set(constants.QueryParamNext, next)
	return fmt.Sprintf("%s?%s", constants.PathAuthLogin, q.Encode())
}

func praiseURL(userID string) string {
	return constants.PathPraisePrefix + userID
}

// redirect answers with a bare Location header. Unlike http.Redirect it never
// writes a body.
func redirect(w http.ResponseWriter, location string, status int) {
	w.Header().Set("Location", location)
	w.WriteHeader(status)
}

// failureReason is the message shown to the user for a backend failure.
func failureReason(err error) string {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

// wipeAuthCookies deletes every auth cookie on the request and the response
// and returns how many were deleted.
func wipeAuthCookies(r *http.Request, store session.CookieStore) int {
	names := session.ExpireMatching(store, session.IsAuthCookie)
	if len(names) > 0 {
		logging.FromRequest(r).WithField("cookies", names).Debug("auth cookies deleted")
	}
	return len(names)
}

func providerLabel(name string) string {
	switch name {
	case constants.ProviderKakao:
		return "카카오로 3초 만에 로그인"
	default:
		return fmt.Sprintf("%s(으)로 로그인", strings.ToUpper(name[:1])+name[1:])
	}
}
