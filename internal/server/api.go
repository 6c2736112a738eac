package server

import (
	"context"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/matheuscscp/praise-prison/internal/auth"
	"github.com/matheuscscp/praise-prison/internal/config"
	"github.com/matheuscscp/praise-prison/internal/constants"
	"github.com/matheuscscp/praise-prison/internal/hydrate"
	"github.com/matheuscscp/praise-prison/internal/metrics"
	"github.com/matheuscscp/praise-prison/internal/provider"
	"github.com/matheuscscp/praise-prison/internal/store"
)

const (
	pathStatic      = "/static/"
	paramUserID     = "userID"
	queryParamGuest = "guest"
)

// storeFactory gives a page access to the praise rows with the permissions of
// the client's current session.
type storeFactory func(ctx context.Context, client auth.Client) store.Store

func restStores(conf *config.Config) storeFactory {
	return func(ctx context.Context, client auth.Client) store.Store {
		return store.NewREST(conf.Backend.URL, client.HTTPClient(ctx))
	}
}

type api struct {
	conf      *config.Config
	provider  provider.Interface
	newClient auth.Factory
	newStore  storeFactory
	hydrator  *hydrate.Hydrator
	metrics   *metrics.Collector
	limiter   *submitLimiter
	pages     map[string]*template.Template
	now       func() time.Time
}

func newAPI(conf *config.Config, p provider.Interface, newClient auth.Factory,
	newStore storeFactory, m *metrics.Collector, nowFunc func() time.Time) (http.Handler, error) {

	pages, err := parsePages()
	if err != nil {
		return nil, err
	}
	a := &api{
		conf:      conf,
		provider:  p,
		newClient: newClient,
		newStore:  newStore,
		hydrator:  hydrate.New(conf.Session, m),
		metrics:   m,
		limiter:   newSubmitLimiter(conf.Session.SubmitPerMinute, conf.Session.SubmitBurst),
		pages:     pages,
		now:       nowFunc,
	}

	r := chi.NewRouter()
	r.Use(a.recoverPanics)
	r.Use(a.refreshSession)

	r.Handle(pathStatic+"*", http.StripPrefix(pathStatic, http.FileServerFS(staticFS())))

	r.Get(constants.PathLanding, a.handleLanding)
	if conf.App.LoginPath != constants.PathLanding {
		r.Get(conf.App.LoginPath, a.handleLanding)
	}
	r.Get(constants.PathAuthLogin, a.handleLogin)
	r.Get(constants.PathAuthCallback, a.handleCallback)
	r.Post(constants.PathAuthSignOut, a.handleSignOut)
	r.Get(constants.PathAuthCodeError, a.handleAuthCodeError)
	r.Get(constants.PathDashboard, a.handleDashboard)
	r.Get(constants.PathPraisePrefix+"{"+paramUserID+"}", a.handlePraiseForm)
	r.Post(constants.PathPraisePrefix+"{"+paramUserID+"}", a.handlePraiseSubmit)

	return r, nil
}
