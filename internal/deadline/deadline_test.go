package deadline

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

func TestDo(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name     string
		timeout  time.Duration
		fn       func(context.Context) (string, error)
		expected string
		err      error
	}{
		{
			name:     "returns the result",
			timeout:  time.Second,
			fn:       func(context.Context) (string, error) { return "ok", nil },
			expected: "ok",
		},
		{
			name:    "returns the error",
			timeout: time.Second,
			fn:      func(context.Context) (string, error) { return "", errBoom },
			err:     errBoom,
		},
		{
			name:    "times out a call that ignores its context",
			timeout: 20 * time.Millisecond,
			fn: func(context.Context) (string, error) {
				time.Sleep(time.Second)
				return "late", nil
			},
			err: ErrTimeout,
		},
		{
			name:    "times out a call that honors its context",
			timeout: 20 * time.Millisecond,
			fn: func(ctx context.Context) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			},
			err: ErrTimeout,
		},
		{
			name:     "no timeout",
			timeout:  0,
			fn:       func(context.Context) (string, error) { return "ok", nil },
			expected: "ok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)

			start := time.Now()
			v, err := Do(context.Background(), tt.timeout, tt.fn)
			if tt.err != nil {
				g.Expect(err).To(MatchError(tt.err))
			} else {
				g.Expect(err).NotTo(HaveOccurred())
			}
			g.Expect(v).To(Equal(tt.expected))
			g.Expect(time.Since(start)).To(BeNumerically("<", 500*time.Millisecond))
		})
	}
}

func TestDo_ParentCancelled(t *testing.T) {
	g := NewWithT(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, time.Second, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	g.Expect(err).To(MatchError(context.Canceled))
}
