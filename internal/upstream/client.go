package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"mogakjak-gateway/internal/models"
)

var errMissingMembers = errors.New("no members field in response")

// StatusError is a non-2xx answer from the backend API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: status %d: %s", e.StatusCode, e.Body)
}

// Client calls the backend REST API.
type Client struct {
	base string
	http *http.Client
}

// NewClient builds a client for base (e.g. https://api.example.com/api).
// A nil httpClient gets a traced client with a 10s timeout.
func NewClient(base string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{base: strings.TrimRight(base, "/"), http: httpClient}
}

// GetGroupMembers returns the member list of groupID. A bare array, a
// {"members": [...]} object and either of those under "data" are accepted.
// Any other shape is an error so that callers never reconcile against an
// empty list by accident.
func (c *Client) GetGroupMembers(ctx context.Context, token, groupID string) ([]models.GroupMember, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, token, "/groups/"+url.PathEscape(groupID)+"/members", &raw); err != nil {
		return nil, err
	}
	members, err := decodeMembers(raw, true)
	if err != nil {
		return nil, fmt.Errorf("upstream: decode group members: %w", err)
	}
	return members, nil
}

func decodeMembers(raw json.RawMessage, unwrap bool) ([]models.GroupMember, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var out []models.GroupMember
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
		return out, nil
	}

	var wrapped struct {
		Members *[]models.GroupMember `json:"members"`
		Data    json.RawMessage       `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	switch {
	case wrapped.Members != nil:
		return *wrapped.Members, nil
	case unwrap && len(wrapped.Data) > 0:
		return decodeMembers(wrapped.Data, false)
	}
	return nil, errMissingMembers
}

func (c *Client) getJSON(ctx context.Context, token, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upstream: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("upstream: decode %s: %w", path, err)
	}
	return nil
}
