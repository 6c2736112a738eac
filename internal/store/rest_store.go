package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/matheuscscp/praise-prison/internal/backend"
)

const (
	pathPraises = "/rest/v1/praises"
	pathUsers   = "/rest/v1/users"

	mediaTypeSingleObject = "application/vnd.pgrst.object+json"

	codeNoRows = "PGRST116"
)

// restStore talks to the backend's PostgREST row API. The HTTP client carries
// the caller's credentials, so row-level security applies.
type restStore struct {
	baseURL string
	client  *http.Client
}

func NewREST(baseURL string, client *http.Client) Store {
	return &restStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (r *restStore) Received(ctx context.Context, receiverID string) ([]Praise, error) {
	var praises []Praise
	q := url.Values{
		"select":      {"*"},
		"receiver_id": {"eq." + receiverID},
		"order":       {"created_at.desc"},
	}
	if err := r.get(ctx, pathPraises, q, false, &praises); err != nil {
		return nil, fmt.Errorf("failed to list received praises: %w", err)
	}
	return praises, nil
}

func (r *restStore) Sent(ctx context.Context, senderID string) ([]Praise, error) {
	var rows []struct {
		Praise
		Users *struct {
			Nickname *string `json:"nickname"`
		} `json:"users"`
	}
	q := url.Values{
		"select":    {"*,users!receiver_id(nickname)"},
		"sender_id": {"eq." + senderID},
		"order":     {"created_at.desc"},
	}
	if err := r.get(ctx, pathPraises, q, false, &rows); err != nil {
		return nil, fmt.Errorf("failed to list sent praises: %w", err)
	}
	praises := make([]Praise, 0, len(rows))
	for _, row := range rows {
		p := row.Praise
		if row.Users != nil {
			p.ReceiverNickname = row.Users.Nickname
		}
		praises = append(praises, p)
	}
	return praises, nil
}

func (r *restStore) Insert(ctx context.Context, p *NewPraise) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal praise: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+pathPraises, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to insert praise: %w", err)
	}
	defer resp.Body.Close()
	if err := backend.CheckResponse(resp); err != nil {
		return fmt.Errorf("failed to insert praise: %w", err)
	}
	return nil
}

func (r *restStore) Profile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	q := url.Values{
		"select": {"id,nickname"},
		"id":     {"eq." + userID},
	}
	err := r.get(ctx, pathUsers, q, true, &p)
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && (apiErr.Code == codeNoRows || apiErr.Status == http.StatusNotAcceptable) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

func (r *restStore) get(ctx context.Context, path string, q url.Values, single bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if single {
		req.Header.Set("Accept", mediaTypeSingleObject)
	} else {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := backend.CheckResponse(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
