package hydrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheuscscp/praise-prison/internal/session"
)

func fromSession(ctx context.Context, env *Env) (*session.User, error) {
	s, err := env.Client.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errNoSession
	}
	return &s.User, nil
}

// fromCookie parses every session cookie visible to the page and adopts the
// first one carrying both tokens.
func fromCookie(ctx context.Context, env *Env) (*session.User, error) {
	cookies := session.ParseCookieString(env.Cookies)

	var bases []string
	seen := make(map[string]struct{})
	for _, c := range cookies {
		if !session.IsSessionCookie(c.Name) {
			continue
		}
		base := session.BaseName(c.Name)
		if _, ok := seen[base]; ok {
			continue
		}
		seen[base] = struct{}{}
		bases = append(bases, base)
	}

	var errs []error
	for _, base := range bases {
		raw, ok := session.Join(base, cookies)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: incomplete chunks for cookie %s", session.ErrMalformed, base))
			continue
		}
		serialized, err := session.DecodeCookieValue(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("cookie %s: %w", base, err))
			continue
		}
		s, err := session.Decode(serialized)
		if err != nil {
			errs = append(errs, fmt.Errorf("cookie %s: %w", base, err))
			continue
		}
		if !s.HasTokens() {
			continue
		}
		established, err := env.Client.SetSession(ctx, s.AccessToken, s.RefreshToken)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to set session from cookie %s: %w", base, err))
			continue
		}
		return &established.User, nil
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, errNoSession
}

func fromUser(ctx context.Context, env *Env) (*session.User, error) {
	return env.Client.GetUser(ctx)
}

func fromRefresh(ctx context.Context, env *Env) (*session.User, error) {
	s, err := env.Client.RefreshSession(ctx)
	if err != nil {
		return nil, err
	}
	return &s.User, nil
}
