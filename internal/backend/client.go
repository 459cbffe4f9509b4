package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/cartsync/internal/cart"
)

// maxResponseBytes bounds how much of a response body the client reads.
const maxResponseBytes = 1 << 20

// StatusError is a non-2xx response the client could not interpret.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

type response struct {
	status int
	body   []byte
}

// Client talks to a cart server over HTTP. It implements engine.Backend and
// engine.Fetcher.
//
// All calls go through one circuit breaker; server errors and transport
// failures count against it, rejections and 4xx responses do not.
// Concurrent Fetch calls for the same cart share one request.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[response]
	group   singleflight.Group
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	http     *http.Client
	settings gobreaker.Settings
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cfg *clientConfig) {
		cfg.http = c
	}
}

// WithBreakerSettings replaces the circuit breaker settings. Name is kept
// if left empty.
func WithBreakerSettings(s gobreaker.Settings) ClientOption {
	return func(cfg *clientConfig) {
		name := cfg.settings.Name
		cfg.settings = s
		if cfg.settings.Name == "" {
			cfg.settings.Name = name
		}
	}
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	cfg := clientConfig{
		http: &http.Client{Timeout: 10 * time.Second},
		settings: gobreaker.Settings{
			Name:        "cart-backend",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.settings.OnStateChange == nil {
		cfg.settings.OnStateChange = func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    cfg.http,
		breaker: gobreaker.NewCircuitBreaker[response](cfg.settings),
	}
}

// Apply posts the request to /cart. A rejection is returned as a Failure
// outcome with a nil error; a 400 is reported the same way so a malformed
// request is never retried as if the network failed.
func (c *Client) Apply(ctx context.Context, req cart.Request) (cart.Outcome, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return cart.Outcome{}, fmt.Errorf("encode request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/cart", body)
	if err != nil {
		return cart.Outcome{}, err
	}

	switch resp.status {
	case http.StatusOK:
		var out cart.Outcome
		if err := json.Unmarshal(resp.body, &out); err != nil {
			return cart.Outcome{}, fmt.Errorf("decode outcome: %w", err)
		}
		return out, nil
	case http.StatusBadRequest:
		var out cart.Outcome
		if err := json.Unmarshal(resp.body, &out); err != nil || len(out.Errors) == 0 {
			return cart.Failure(cart.FieldError{Message: strings.TrimSpace(string(resp.body)), Code: cart.CodeInvalid}), nil
		}
		return out, nil
	default:
		return cart.Outcome{}, &StatusError{Status: resp.status, Body: string(resp.body)}
	}
}

// Fetch loads /cart/{id}. A 404 is reported as ErrNotFound.
//
// Concurrent fetches of one cart share a single request. The shared request
// ignores cancellation of whichever caller started it; each caller stops
// waiting when its own ctx is done.
func (c *Client) Fetch(ctx context.Context, cartID string) (*cart.Cart, error) {
	flight := context.WithoutCancel(ctx)
	ch := c.group.DoChan(cartID, func() (any, error) {
		resp, err := c.do(flight, http.MethodGet, "/cart/"+url.PathEscape(cartID), nil)
		if err != nil {
			return nil, err
		}
		switch resp.status {
		case http.StatusOK:
			var out cart.Outcome
			if err := json.Unmarshal(resp.body, &out); err != nil {
				return nil, fmt.Errorf("decode cart: %w", err)
			}
			if out.Cart == nil {
				return nil, errors.New("decode cart: response has no cart")
			}
			return out.Cart, nil
		case http.StatusNotFound:
			return nil, ErrNotFound
		default:
			return nil, &StatusError{Status: resp.status, Body: string(resp.body)}
		}
	})

	var r singleflight.Result
	select {
	case r = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.Err != nil {
		return nil, r.Err
	}
	if r.Shared {
		slog.Debug("fetch shared", "cart_id", cartID)
	}
	// Callers sharing a flight must not share the cart.
	return r.Val.(*cart.Cart).Clone(), nil
}

// State returns the circuit breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (response, error) {
	return c.breaker.Execute(func() (response, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
		if err != nil {
			return response{}, fmt.Errorf("build request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return response{}, fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return response{}, fmt.Errorf("read response: %w", err)
		}
		r := response{status: resp.StatusCode, body: data}
		if resp.StatusCode >= 500 {
			return r, &StatusError{Status: resp.StatusCode, Body: string(data)}
		}
		return r, nil
	})
}
