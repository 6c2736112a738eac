package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"runtime/debug"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/matheuscscp/praise-prison/internal/backend"
	"github.com/matheuscscp/praise-prison/internal/logging"
	"github.com/matheuscscp/praise-prison/internal/session"
)

var (
	sessionRefreshSkipPrefixes = []string{pathStatic, "/_image", "/favicon.ico"}
	imageExtensions            = map[string]struct{}{
		".svg":  {},
		".png":  {},
		".jpg":  {},
		".jpeg": {},
		".gif":  {},
		".webp": {},
	}
)

// refreshesSession reports whether the session refresh middleware applies to
// a path. Static assets and images never carry session semantics.
func refreshesSession(p string) bool {
	for _, prefix := range sessionRefreshSkipPrefixes {
		if strings.HasPrefix(p, prefix) {
			return false
		}
	}
	_, image := imageExtensions[strings.ToLower(path.Ext(p))]
	return !image
}

// refreshSession revalidates the session of every page request against the
// backend. Rotated tokens are written onto the request, for the handlers
// below, and onto the response. A session that cannot be revalidated has all
// of its auth cookies deleted so that the request goes on unauthenticated.
func (a *api) refreshSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !refreshesSession(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		l := logging.FromRequest(r)
		store := session.NewRequestStore(w, r)

		if !a.conf.Backend.Configured() {
			loginPath := a.conf.App.LoginPath
			if r.URL.Path == loginPath || strings.HasPrefix(r.URL.Path, loginPath+"/") {
				next.ServeHTTP(w, r)
				return
			}
			l.Error("backend url or anon key is missing, redirecting to login")
			wipeAuthCookies(r, store)
			redirect(w, loginPath, http.StatusTemporaryRedirect)
			return
		}

		err := a.revalidate(r.Context(), store)
		switch {
		case err == nil:
		case errors.Is(err, backend.ErrSessionMissing):
			l.Debug("request has no session")
		default:
			deleted := wipeAuthCookies(r, store)
			a.metrics.RecordCookieCleanup(deleted)
			l.WithError(err).WithFields(logrus.Fields{"deletedCookies": deleted}).
				Warn("failed to refresh session, continuing unauthenticated")
		}

		next.ServeHTTP(w, r)
	})
}

func (a *api) revalidate(ctx context.Context, store session.CookieStore) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("session refresh panicked: %v", rec)
		}
	}()
	client, err := a.newClient(store)
	if err != nil {
		return err
	}
	_, err = client.GetUser(ctx)
	return err
}

func (a *api) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.FromRequest(r).WithFields(logrus.Fields{
					"panic": fmt.Sprint(rec),
					"stack": string(debug.Stack()),
				}).Error("panic recovered")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
