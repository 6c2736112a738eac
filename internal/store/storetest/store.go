// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matheuscscp/praise-prison/internal/store"
)

// Store keeps rows in memory, guarded by a mutex.
type Store struct {
	// Now stamps inserted praises.
	Now func() time.Time

	mu            sync.Mutex
	praises       []store.Praise
	profiles      map[string]string
	beforeProfile func(ctx context.Context) error
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		Now:      time.Now,
		profiles: make(map[string]string),
	}
}

func (s *Store) SetProfile(userID, nickname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[userID] = nickname
}

// OnProfile installs a hook that runs before every profile lookup. A hook
// error is returned in place of the lookup result.
func (s *Store) OnProfile(hook func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeProfile = hook
}

func (s *Store) Received(_ context.Context, receiverID string) ([]store.Praise, error) {
	return s.list(false, func(p *store.Praise) bool { return p.ReceiverID == receiverID }), nil
}

func (s *Store) Sent(_ context.Context, senderID string) ([]store.Praise, error) {
	return s.list(true, func(p *store.Praise) bool { return p.SenderID != nil && *p.SenderID == senderID }), nil
}

func (s *Store) Insert(_ context.Context, np *store.NewPraise) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.praises = append(s.praises, store.Praise{
		ID:         uuid.NewString(),
		ReceiverID: np.ReceiverID,
		SenderID:   np.SenderID,
		SenderName: np.SenderName,
		Keyword:    np.Keyword,
		Message:    np.Message,
		CreatedAt:  s.Now(),
	})
	return nil
}

func (s *Store) Profile(ctx context.Context, userID string) (*store.Profile, error) {
	s.mu.Lock()
	hook := s.beforeProfile
	s.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	nickname, ok := s.profiles[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &store.Profile{ID: userID, Nickname: nickname}, nil
}

func (s *Store) list(withReceiver bool, match func(p *store.Praise) bool) []store.Praise {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.Praise
	for i := range s.praises {
		p := s.praises[i]
		if !match(&p) {
			continue
		}
		if nickname, ok := s.profiles[p.ReceiverID]; ok && withReceiver {
			p.ReceiverNickname = &nickname
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
