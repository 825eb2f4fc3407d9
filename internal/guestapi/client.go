// Package guestapi talks to a remote guest directory over its REST API.
package guestapi

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

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"

	"github.com/AlexTLDR/irl/internal/irl"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrGuestExists = errors.New("member is already a guest of this location")
)

// StatusError is returned for any non-2xx response not mapped to a sentinel
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

type Client struct {
	baseURL *url.URL
	http    *http.Client
	log     zerolog.Logger
	backoff func() retry.Backoff
}

type Option func(*Client)

// WithHTTPClient replaces the underlying http client. A bearer token set with
// New is ignored in that case.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBackoff sets the retry policy of read requests
func WithBackoff(fn func() retry.Backoff) Option {
	return func(c *Client) { c.backoff = fn }
}

// New creates a client for the API rooted at baseURL (e.g. https://directory/api/v1).
// When token is set every request carries it as a bearer token.
func New(baseURL, token string, logger zerolog.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse directory api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("directory api url must be http(s): %q", baseURL)
	}

	hc := &http.Client{Timeout: 15 * time.Second}
	if token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, hc)
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
		hc.Timeout = 15 * time.Second
	}

	c := &Client{
		baseURL: u,
		http:    hc,
		log:     logger.With().Str("component", "guestapi").Logger(),
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GuestsByLocation fetches the guest list of a location
func (c *Client) GuestsByLocation(ctx context.Context, q irl.GuestQuery) (*irl.GuestList, error) {
	params := url.Values{}
	if q.Type != "" {
		params.Set("type", string(q.Type))
	}
	if q.EventSlug != "" {
		params.Set("eventSlug", q.EventSlug)
	}
	if q.MemberUID != "" {
		params.Set("memberUid", q.MemberUID)
	}

	var list irl.GuestList
	if err := c.get(ctx, locationPath(q.LocationUID, "guests"), params, &list); err != nil {
		return nil, fmt.Errorf("failed to get guests: %w", err)
	}

	// the list payload does not carry the member's own record
	if list.CurrentGuest == nil {
		list.CurrentGuest = irl.FindGuest(list.Guests, q.MemberUID)
		list.IsUserGoing = list.CurrentGuest != nil
	}
	return &list, nil
}

func (c *Client) CreateGuest(ctx context.Context, locationUID string, g irl.Guest) error {
	if err := c.send(ctx, http.MethodPost, locationPath(locationUID, "guests"), g, nil); err != nil {
		return fmt.Errorf("failed to create guest: %w", err)
	}
	return nil
}

func (c *Client) EditGuest(ctx context.Context, locationUID, memberUID string, g irl.Guest) error {
	p := locationPath(locationUID, "guests") + "/" + url.PathEscape(memberUID)
	if err := c.send(ctx, http.MethodPut, p, g, nil); err != nil {
		return fmt.Errorf("failed to edit guest: %w", err)
	}
	return nil
}

type deleteRequest struct {
	MembersAndEvents []irl.MemberEvents `json:"membersAndEvents"`
}

func (c *Client) DeleteGuests(ctx context.Context, locationUID string, membersAndEvents []irl.MemberEvents) error {
	body := deleteRequest{MembersAndEvents: membersAndEvents}
	if err := c.send(ctx, http.MethodDelete, locationPath(locationUID, "guests"), body, nil); err != nil {
		return fmt.Errorf("failed to delete guests: %w", err)
	}
	return nil
}

// Subscription returns the member's subscription to an entity, or nil when none exists
func (c *Client) Subscription(ctx context.Context, memberUID, entityUID string) (*irl.Subscription, error) {
	params := url.Values{"memberUid": {memberUID}, "entityUid": {entityUID}}

	var subs []irl.Subscription
	if err := c.get(ctx, "/member-subscriptions", params, &subs); err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if len(subs) == 0 {
		return nil, nil
	}
	return &subs[0], nil
}

func (c *Client) CreateSubscription(ctx context.Context, s irl.Subscription) (*irl.Subscription, error) {
	var out irl.Subscription
	if err := c.send(ctx, http.MethodPost, "/member-subscriptions", s, &out); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return &out, nil
}

type subscriptionUpdate struct {
	IsActive bool `json:"isActive"`
}

func (c *Client) UpdateSubscription(ctx context.Context, uid string, isActive bool) (*irl.Subscription, error) {
	var out irl.Subscription
	p := "/member-subscriptions/" + url.PathEscape(uid)
	if err := c.send(ctx, http.MethodPut, p, subscriptionUpdate{IsActive: isActive}, &out); err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	return &out, nil
}

func (c *Client) Followers(ctx context.Context, entityUID string) ([]irl.Subscription, error) {
	var subs []irl.Subscription
	if err := c.get(ctx, locationPath(entityUID, "followers"), nil, &subs); err != nil {
		return nil, fmt.Errorf("failed to get followers: %w", err)
	}
	return subs, nil
}

func locationPath(locationUID, tail string) string {
	return "/irl/locations/" + url.PathEscape(locationUID) + "/" + tail
}

// get retries transport errors and 5xx responses. Mutations never go through here.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	return retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		err := c.do(ctx, http.MethodGet, path, params, nil, out)
		var se *StatusError
		if errors.As(err, &se) && se.Code < http.StatusInternalServerError {
			return err
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			c.log.Debug().Err(err).Str("path", path).Msg("retrying read")
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Client) send(ctx context.Context, method, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return c.do(ctx, method, path, nil, data, out)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body []byte, out any) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawQuery = params.Encode()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		return ErrGuestExists
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
