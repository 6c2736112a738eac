package server

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/matheuscscp/praise-prison/internal/backend"
	"github.com/matheuscscp/praise-prison/internal/constants"
	"github.com/matheuscscp/praise-prison/internal/hydrate"
	"github.com/matheuscscp/praise-prison/internal/logging"
	"github.com/matheuscscp/praise-prison/internal/metrics"
	"github.com/matheuscscp/praise-prison/internal/praise"
	"github.com/matheuscscp/praise-prison/internal/session"
	"github.com/matheuscscp/praise-prison/internal/store"
)

const (
	praiseDateLayout = "2006. 1. 2."
	msgRateLimited   = "⛔ 요청이 너무 많습니다.\n잠시 후 다시 시도해주세요."
)

func (a *api) handleLanding(w http.ResponseWriter, r *http.Request) {
	l := logging.FromRequest(r)

	page := &landingPage{
		Configured: a.conf.Backend.Configured(),
		LoginURL:   loginURL(nextPath(a.conf, r)),
		LoginLabel: providerLabel(a.provider.Name()),
	}
	if !page.Configured {
		a.render(w, r, http.StatusOK, pageLanding, page)
		return
	}

	client, err := a.newClient(session.NewRequestStore(w, r))
	if err != nil {
		l.WithError(err).Error("failed to create auth client")
		a.render(w, r, http.StatusOK, pageLanding, page)
		return
	}
	s, err := client.GetSession(r.Context())
	if err != nil {
		l.WithError(err).Debug("no usable session on landing page")
	}
	if s != nil {
		redirect(w, constants.PathDashboard, http.StatusSeeOther)
		return
	}
	a.render(w, r, http.StatusOK, pageLanding, page)
}

func (a *api) handleDashboard(w http.ResponseWriter, r *http.Request) {
	l := logging.FromRequest(r)
	ctx := r.Context()

	hydrationStore := session.NewRequestStore(w, r)
	hydrationClient, err := a.newClient(hydrationStore)
	if err != nil {
		l.WithError(err).Error("failed to create auth client")
		redirect(w, constants.PathLanding, http.StatusSeeOther)
		return
	}

	// The row API client is built per lookup, so that it carries whatever
	// session the chain established by then.
	res := a.hydrator.Run(ctx, &hydrate.Env{
		Client:  hydrationClient,
		Cookies: r.Header.Get("Cookie"),
		Profiles: hydrate.ProfileFunc(func(ctx context.Context, userID string) (*store.Profile, error) {
			return a.newStore(ctx, hydrationClient).Profile(ctx, userID)
		}),
	})
	// Steps abandoned by a timeout may still try to write cookies.
	hydrationStore.Close()

	switch res.Outcome {
	case hydrate.TimedOut:
		a.render(w, r, http.StatusOK, pageError, &errorPage{
			Emoji:   "⚠️",
			Title:   "세션 오류",
			Message: constants.SessionLoadFailed,
			Action:  "메인으로 돌아가기",
		})
		return
	case hydrate.Unauthenticated:
		redirect(w, constants.PathLanding, http.StatusSeeOther)
		return
	}

	// The hydrated session was persisted onto the request's cookies.
	client, err := a.newClient(session.NewRequestStore(w, r))
	if err != nil {
		l.WithError(err).Error("failed to create auth client")
		redirect(w, constants.PathLanding, http.StatusSeeOther)
		return
	}
	st := a.newStore(ctx, client)

	userID := res.User.ID
	var received, sent []store.Praise
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		received, err = st.Received(gctx, userID)
		return
	})
	g.Go(func() (err error) {
		sent, err = st.Sent(gctx, userID)
		return
	})
	loadErr := g.Wait()
	if loadErr != nil {
		l.WithError(loadErr).WithField("userID", userID).Error("failed to load praises")
	}

	page := &dashboardPage{
		Nickname:   res.Nickname,
		ShareLink:  origin(a.conf, r) + praiseURL(userID),
		Keywords:   praise.Keywords(received),
		Received:   rows(received, false),
		Sent:       rows(sent, true),
		LoadFailed: loadErr != nil,
	}
	l.WithFields(logrus.Fields{
		"userID":   userID,
		"strategy": res.Strategy,
		"received": len(received),
		"sent":     len(sent),
	}).Debug("dashboard loaded")
	a.render(w, r, http.StatusOK, pageDashboard, page)
}

func rows(praises []store.Praise, withReceiver bool) []praiseRow {
	out := make([]praiseRow, 0, len(praises))
	for _, p := range praises {
		row := praiseRow{
			Keyword: p.Keyword,
			Message: p.Message,
			When:    p.CreatedAt.Local().Format(praiseDateLayout),
		}
		if withReceiver {
			row.To = constants.UnknownReceiverNickname
			if p.ReceiverNickname != nil && *p.ReceiverNickname != "" {
				row.To = *p.ReceiverNickname
			}
		}
		out = append(out, row)
	}
	return out
}

// praiseContext is what both praise handlers need to know about the request.
type praiseContext struct {
	receiverID string
	viewer     *session.User
	store      store.Store
	page       *praisePage
}

// loadPraiseContext validates the receiver and identifies the viewer. It
// responds and returns nil when the request cannot go on.
func (a *api) loadPraiseContext(w http.ResponseWriter, r *http.Request) *praiseContext {
	l := logging.FromRequest(r)
	ctx := r.Context()

	receiverID := chi.URLParam(r, paramUserID)
	if _, err := uuid.Parse(receiverID); err != nil {
		http.NotFound(w, r)
		return nil
	}

	client, err := a.newClient(session.NewRequestStore(w, r))
	if err != nil {
		l.WithError(err).Error("failed to create auth client")
		redirect(w, constants.PathLanding, http.StatusSeeOther)
		return nil
	}
	viewer, err := client.GetUser(ctx)
	if err != nil {
		if !errors.Is(err, backend.ErrSessionMissing) {
			l.WithError(err).Debug("failed to identify praise page viewer")
		}
		viewer = nil
	}

	st := a.newStore(ctx, client)
	nickname := constants.NicknamePlaceholder
	switch p, err := st.Profile(ctx, receiverID); {
	case err == nil && p.Nickname != "":
		nickname = p.Nickname
	case err != nil && !errors.Is(err, store.ErrNotFound):
		l.WithError(err).WithField("receiverID", receiverID).Warn("failed to look up receiver profile")
	}

	return &praiseContext{
		receiverID: receiverID,
		viewer:     viewer,
		store:      st,
		page: &praisePage{
			Step:             praiseStepForm,
			ReceiverNickname: nickname,
			FormURL:          praiseURL(receiverID),
			LoginURL:         loginURL(praiseURL(receiverID)),
			LoginLabel:       providerLabel(a.provider.Name()),
			GuestURL:         praiseURL(receiverID) + "?" + queryParamGuest + "=1",
			MinKeywordLen:    praise.MinKeywordLen,
			MaxKeywordLen:    praise.MaxKeywordLen,
			MinMessageLen:    praise.MinMessageLen,
			MaxMessageLen:    praise.MaxMessageLen,
		},
	}
}

func (a *api) handlePraiseForm(w http.ResponseWriter, r *http.Request) {
	pc := a.loadPraiseContext(w, r)
	if pc == nil {
		return
	}
	switch {
	case pc.viewer != nil && pc.viewer.ID == pc.receiverID:
		pc.page.Step = praiseStepOwn
	case pc.viewer == nil && r.URL.Query().Get(queryParamGuest) == "":
		pc.page.Step = praiseStepGuest
	}
	a.render(w, r, http.StatusOK, pagePraise, pc.page)
}

func (a *api) handlePraiseSubmit(w http.ResponseWriter, r *http.Request) {
	pc := a.loadPraiseContext(w, r)
	if pc == nil {
		return
	}
	l := logging.FromRequest(r).WithField("receiverID", pc.receiverID)

	if pc.viewer != nil && pc.viewer.ID == pc.receiverID {
		pc.page.Step = praiseStepOwn
		a.render(w, r, http.StatusOK, pagePraise, pc.page)
		return
	}

	if err := r.ParseForm(); err != nil {
		l.WithError(err).Error("failed to parse form")
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	pc.page.Keyword = r.PostFormValue("keyword")
	pc.page.Message = r.PostFormValue("message")

	now := a.now()
	var lastSubmit string
	if c, err := r.Cookie(constants.SubmitCooldownCookie); err == nil {
		lastSubmit = c.Value
	}
	if err := praise.CheckCooldown(lastSubmit, now, a.conf.Session.SubmitCooldown); err != nil {
		a.metrics.RecordSubmission(metrics.SubmissionCooldown)
		pc.page.Alert = err.Error()
		a.render(w, r, http.StatusTooManyRequests, pagePraise, pc.page)
		return
	}

	np, err := praise.NewPraise(pc.receiverID, pc.page.Keyword, pc.page.Message, pc.viewer)
	if err != nil {
		a.metrics.RecordSubmission(metrics.SubmissionInvalid)
		pc.page.Alert = err.Error()
		a.render(w, r, http.StatusBadRequest, pagePraise, pc.page)
		return
	}

	// Only submissions that would be stored count against the limit.
	if ok, wait := a.limiter.allow(clientAddr(r), now); !ok {
		a.metrics.RecordSubmission(metrics.SubmissionLimited)
		l.WithField("client", clientAddr(r)).Warn("praise submission rate limited")
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		pc.page.Alert = msgRateLimited
		a.render(w, r, http.StatusTooManyRequests, pagePraise, pc.page)
		return
	}

	if err := pc.store.Insert(r.Context(), np); err != nil {
		a.metrics.RecordSubmission(metrics.SubmissionError)
		l.WithError(err).Error("failed to insert praise")
		pc.page.Alert = "칭찬 전송에 실패했습니다: " + failureReason(err)
		a.render(w, r, http.StatusBadGateway, pagePraise, pc.page)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     constants.SubmitCooldownCookie,
		Value:    praise.CooldownValue(now),
		Path:     "/",
		MaxAge:   int(a.conf.Session.SubmitCooldown / time.Second),
		SameSite: http.SameSiteLaxMode,
		Secure:   a.conf.App.Production,
	})
	a.metrics.RecordSubmission(metrics.SubmissionSuccess)
	l.WithField("anonymous", np.SenderID == nil).Info("praise submitted")

	pc.page.Step = praiseStepDone
	a.render(w, r, http.StatusOK, pagePraise, pc.page)
}
