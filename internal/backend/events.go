package backend

import (
	"context"

	"github.com/matheuscscp/praise-prison/internal/logging"
	"github.com/matheuscscp/praise-prison/internal/session"
)

type Event string

const (
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

// Listener is notified after the client's session changed. s is nil for
// EventSignedOut.
type Listener func(ctx context.Context, event Event, s *session.Session)

// OnAuthStateChange registers l and returns a function that removes it.
func (c *Client) OnAuthStateChange(l Listener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// emit records s as the current session, persists it and then notifies
// listeners outside the lock.
func (c *Client) emit(ctx context.Context, event Event, s *session.Session) {
	c.mu.Lock()
	c.current = s
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	c.persist(ctx, s)

	logging.FromContext(ctx).WithField("event", event).Debug("auth state changed")
	for _, l := range listeners {
		l(ctx, event, s)
	}
}

func (c *Client) persist(ctx context.Context, s *session.Session) {
	if !c.opts.PersistSession {
		return
	}
	if s == nil {
		c.opts.Storage.RemoveItem(c.opts.StorageKey)
		return
	}
	serialized, err := session.Encode(s)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Error("failed to persist session")
		return
	}
	c.opts.Storage.SetItem(c.opts.StorageKey, serialized)
}
