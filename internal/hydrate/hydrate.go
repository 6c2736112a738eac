// Package hydrate re-establishes the session of a protected page from
// whatever state survived the sign-in round trip, then looks up the user's
// profile.
package hydrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/matheuscscp/praise-prison/internal/auth"
	"github.com/matheuscscp/praise-prison/internal/backend"
	"github.com/matheuscscp/praise-prison/internal/config"
	"github.com/matheuscscp/praise-prison/internal/constants"
	"github.com/matheuscscp/praise-prison/internal/deadline"
	"github.com/matheuscscp/praise-prison/internal/logging"
	"github.com/matheuscscp/praise-prison/internal/metrics"
	"github.com/matheuscscp/praise-prison/internal/session"
	"github.com/matheuscscp/praise-prison/internal/store"
)

type Outcome string

const (
	Authenticated   Outcome = "authenticated"
	Unauthenticated Outcome = "unauthenticated"
	TimedOut        Outcome = "timeout"
)

const strategyAuthEvent = "auth_event"

type Result struct {
	Outcome Outcome
	// Strategy names the step that established the session.
	Strategy string
	User     *session.User
	// Nickname is the profile nickname, or a placeholder when the profile
	// could not be loaded.
	Nickname     string
	ProfileFound bool
}

// Env is what one hydration run works with. It is built per page request.
type Env struct {
	Client auth.Client
	// Cookies is the raw cookie string visible to the page.
	Cookies  string
	Profiles ProfileSource
}

type ProfileSource interface {
	Profile(ctx context.Context, userID string) (*store.Profile, error)
}

// ProfileFunc adapts a function to ProfileSource.
type ProfileFunc func(ctx context.Context, userID string) (*store.Profile, error)

func (f ProfileFunc) Profile(ctx context.Context, userID string) (*store.Profile, error) {
	return f(ctx, userID)
}

// errNoSession marks a strategy that ran cleanly but found nothing.
var errNoSession = errors.New("no session")

// Strategy is one way of recovering the session. Strategies are tried in
// order and the first one returning a user wins.
type Strategy struct {
	Name string
	Run  func(ctx context.Context, env *Env) (*session.User, error)
}

type Hydrator struct {
	conf       config.SessionConfig
	metrics    *metrics.Collector
	strategies []Strategy
	sleep      func(ctx context.Context, d time.Duration)
}

func New(conf config.SessionConfig, m *metrics.Collector) *Hydrator {
	return &Hydrator{
		conf:       conf,
		metrics:    m,
		strategies: DefaultStrategies(),
		sleep:      sleep,
	}
}

// DefaultStrategies is the recovery chain: the client's own session, the
// session cookie parsed by hand, the current user, and a last-resort refresh.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "session", Run: fromSession},
		{Name: "cookie", Run: fromCookie},
		{Name: "user", Run: fromUser},
		{Name: "refresh", Run: fromRefresh},
	}
}

// Run hydrates the session. It never fails: errors degrade to
// Unauthenticated, and a chain that does not settle within the hydration
// timeout yields TimedOut.
func (h *Hydrator) Run(ctx context.Context, env *Env) *Result {
	l := logging.FromContext(ctx)

	established := make(chan *session.Session, 1)
	unsubscribe := env.Client.OnAuthStateChange(func(_ context.Context, event backend.Event, s *session.Session) {
		if s == nil || event == backend.EventSignedOut {
			return
		}
		select {
		case established <- s:
		default:
		}
	})
	defer unsubscribe()

	res, err := deadline.Do(ctx, h.conf.HydrationTimeout, func(ctx context.Context) (*Result, error) {
		return h.runChain(ctx, env, established), nil
	})
	if errors.Is(err, deadline.ErrTimeout) {
		l.WithField("timeout", h.conf.HydrationTimeout.String()).Warn("session hydration timed out")
		h.metrics.RecordHydration(metrics.HydrationTimeout)
		return &Result{Outcome: TimedOut}
	}
	if err != nil {
		l.WithError(err).Warn("session hydration aborted")
		h.metrics.RecordHydration(metrics.HydrationUnauthenticated)
		return &Result{Outcome: Unauthenticated}
	}

	if res.Outcome != Authenticated {
		h.metrics.RecordHydration(metrics.HydrationUnauthenticated)
		return res
	}
	h.metrics.RecordHydration(res.Strategy)
	res.Nickname, res.ProfileFound = h.enrich(ctx, env.Profiles, res.User.ID)
	return res
}

func (h *Hydrator) runChain(ctx context.Context, env *Env, established <-chan *session.Session) *Result {
	l := logging.FromContext(ctx)
	for _, s := range h.strategies {
		if ctx.Err() != nil {
			return &Result{Outcome: Unauthenticated}
		}
		user, err := h.runStrategy(ctx, env, s)
		if err == nil && user != nil && user.ID != "" {
			l.WithField("strategy", s.Name).Debug("session hydrated")
			return &Result{Outcome: Authenticated, Strategy: s.Name, User: user}
		}

		sl := l.WithField("strategy", s.Name)
		switch {
		case err == nil, errors.Is(err, errNoSession), errors.Is(err, backend.ErrSessionMissing):
			sl.Debug("no session from strategy")
		case errors.Is(err, session.ErrMalformed):
			sl.WithError(err).Warn("session cookie could not be parsed, it might be an old session format")
		default:
			sl.WithError(err).Info("session recovery step failed")
		}

		select {
		case sess := <-established:
			if sess.User.ID != "" {
				return &Result{Outcome: Authenticated, Strategy: strategyAuthEvent, User: &sess.User}
			}
		default:
		}
	}
	return &Result{Outcome: Unauthenticated}
}

// runStrategy bounds one step by the step timeout and turns a panic into an
// error.
func (h *Hydrator) runStrategy(ctx context.Context, env *Env, s Strategy) (*session.User, error) {
	return deadline.Do(ctx, h.conf.StepTimeout, func(ctx context.Context) (u *session.User, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("strategy %s panicked: %v", s.Name, r)
			}
		}()
		return s.Run(ctx, env)
	})
}

// enrich looks up the profile nickname. Timeouts and errors are retried up
// to the configured attempts with a backoff in between; a missing row ends
// the lookup at once. Failures leave the placeholder nickname.
func (h *Hydrator) enrich(ctx context.Context, profiles ProfileSource, userID string) (string, bool) {
	if profiles == nil {
		return constants.NicknamePlaceholder, false
	}
	l := logging.FromContext(ctx).WithField("userID", userID)

	for attempt := 1; attempt <= h.conf.ProfileAttempts; attempt++ {
		p, err := deadline.Do(ctx, h.conf.ProfileTimeout, func(ctx context.Context) (*store.Profile, error) {
			return profiles.Profile(ctx, userID)
		})
		al := l.WithField("attempt", attempt)
		switch {
		case err == nil && p != nil && p.Nickname != "":
			h.metrics.RecordProfileLookup(metrics.ProfileFound)
			return p.Nickname, true
		case err == nil:
			h.metrics.RecordProfileLookup(metrics.ProfileFound)
			return constants.NicknamePlaceholder, true
		case errors.Is(err, store.ErrNotFound):
			h.metrics.RecordProfileLookup(metrics.ProfileNotFound)
			al.Info("profile not created yet")
			return constants.NicknamePlaceholder, false
		case errors.Is(err, deadline.ErrTimeout):
			h.metrics.RecordProfileLookup(metrics.ProfileTimeout)
			al.Debug("profile lookup timed out")
		default:
			h.metrics.RecordProfileLookup(metrics.ProfileError)
			al.WithError(err).Debug("profile lookup failed")
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < h.conf.ProfileAttempts {
			h.sleep(ctx, h.conf.ProfileBackoff)
		}
	}

	l.WithFields(logrus.Fields{"attempts": h.conf.ProfileAttempts}).Warn("profile lookup gave up, using placeholder nickname")
	return constants.NicknamePlaceholder, false
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
