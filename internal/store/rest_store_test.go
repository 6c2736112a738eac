package store_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/matheuscscp/praise-prison/internal/backend"
	"github.com/matheuscscp/praise-prison/internal/backend/backendtest"
	"github.com/matheuscscp/praise-prison/internal/session"
	"github.com/matheuscscp/praise-prison/internal/store"
)

func ptr(s string) *string { return &s }

func newRESTStore(t *testing.T, srv *backendtest.Server) store.Store {
	t.Helper()
	c, err := backend.New(backend.Options{
		URL:     srv.URL,
		AnonKey: backendtest.AnonKey,
		Storage: session.NewMemoryStorage(),
	})
	if err != nil {
		t.Fatalf("failed to create backend client: %v", err)
	}
	return store.NewREST(srv.URL, c.HTTPClient(context.Background()))
}

func TestREST_ReceivedAndSent(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()

	srv := backendtest.New(t)
	srv.AddProfile("receiver", "받는사람")
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	srv.AddPraise(backendtest.Praise{ReceiverID: "receiver", Keyword: "#성실", Message: "older praise", CreatedAt: base})
	srv.AddPraise(backendtest.Praise{ReceiverID: "receiver", SenderID: ptr("sender"), Keyword: "#친절", Message: "newer praise", CreatedAt: base.Add(time.Hour)})
	srv.AddPraise(backendtest.Praise{ReceiverID: "nobody", SenderID: ptr("sender"), Keyword: "#용기", Message: "to nobody", CreatedAt: base.Add(2 * time.Hour)})

	s := newRESTStore(t, srv)

	received, err := s.Received(ctx, "receiver")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(received).To(HaveLen(2))
	g.Expect(received[0].Keyword).To(Equal("#친절"))
	g.Expect(received[0].SenderID).To(Equal(ptr("sender")))
	g.Expect(received[1].SenderID).To(BeNil())
	g.Expect(received[1].CreatedAt.Equal(base)).To(BeTrue())

	sent, err := s.Sent(ctx, "sender")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(sent).To(HaveLen(2))
	g.Expect(sent[0].ReceiverID).To(Equal("nobody"))
	g.Expect(sent[0].ReceiverNickname).To(BeNil())
	g.Expect(sent[1].ReceiverNickname).To(Equal(ptr("받는사람")))

	empty, err := s.Received(ctx, "nobody-else")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(empty).To(BeEmpty())
}

func TestREST_Insert(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		g := NewWithT(t)
		srv := backendtest.New(t)
		s := newRESTStore(t, srv)

		err := s.Insert(context.Background(), &store.NewPraise{
			ReceiverID: "receiver",
			Keyword:    "#성실",
			Message:    "you are always on time",
		})
		g.Expect(err).NotTo(HaveOccurred())

		praises := srv.Praises()
		g.Expect(praises).To(HaveLen(1))
		g.Expect(praises[0].ReceiverID).To(Equal("receiver"))
		g.Expect(praises[0].SenderID).To(BeNil())
		g.Expect(praises[0].SenderName).To(BeNil())
	})

	t.Run("rejected", func(t *testing.T) {
		g := NewWithT(t)
		srv := backendtest.New(t)
		srv.FailInsert(http.StatusForbidden, "42501", "new row violates row-level security policy")
		s := newRESTStore(t, srv)

		err := s.Insert(context.Background(), &store.NewPraise{ReceiverID: "r", Keyword: "#k", Message: "message body"})
		g.Expect(err).To(MatchError(ContainSubstring("new row violates row-level security policy")))
		g.Expect(backend.IsStatus(err, http.StatusForbidden)).To(BeTrue())
	})
}

func TestREST_Profile(t *testing.T) {
	tests := []struct {
		name        string
		profiles    map[string]string
		expected    *store.Profile
		expectedErr error
	}{
		{
			name:     "found",
			profiles: map[string]string{"u": "nick"},
			expected: &store.Profile{ID: "u", Nickname: "nick"},
		},
		{
			name:        "no row yet",
			expectedErr: store.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			srv := backendtest.New(t)
			for id, nickname := range tt.profiles {
				srv.AddProfile(id, nickname)
			}
			s := newRESTStore(t, srv)

			p, err := s.Profile(context.Background(), "u")
			if tt.expectedErr != nil {
				g.Expect(err).To(MatchError(tt.expectedErr))
				g.Expect(p).To(BeNil())
				return
			}
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(p).To(Equal(tt.expected))
		})
	}
}
