package mapapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// Client is a BTC Map integration API client.
type Client struct {
	// apiKey is sent as a Bearer token when set.
	apiKey string

	// baseURL is the base URL for API requests.
	baseURL string

	// healthTimeout bounds the health probe.
	healthTimeout time.Duration

	// httpClient is the HTTP client for making requests.
	httpClient *http.Client

	// limiter throttles outgoing requests. Nil when unlimited.
	limiter *rate.Limiter

	// source is the value of the source tag.
	source string

	// timeout bounds each create/update call.
	timeout time.Duration
}

// APIKeyConfigured reports whether the client authenticates its requests.
func (c *Client) APIKeyConfigured() bool {
	return c.apiKey != ""
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateEstablishment adds a new node to the map and returns its map ID.
func (c *Client) CreateEstablishment(ctx context.Context, establishment *Establishment) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s/establishments", c.baseURL)

	var result createResponse
	if err := c.doRequest(ctx, http.MethodPost, reqURL, establishment, &result); err != nil {
		return "", fmt.Errorf("creating establishment: %w", err)
	}
	if result.Data.ID == "" {
		return "", errors.New("creating establishment: response has no id")
	}

	return string(result.Data.ID), nil
}

// Health probes the service. Any transport failure or non-2xx status is an error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s/health", c.baseURL)

	var health Health
	if err := c.doRequest(ctx, http.MethodGet, reqURL, nil, &health); err != nil {
		return nil, fmt.Errorf("checking health: %w", err)
	}

	return &health, nil
}

// Source returns the source tag value used for payloads.
func (c *Client) Source() string {
	return c.source
}

// UpdateEstablishment replaces the map node identified by mapID.
func (c *Client) UpdateEstablishment(ctx context.Context, mapID string, establishment *Establishment) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s/establishments/%s", c.baseURL, url.PathEscape(mapID))

	if err := c.doRequest(ctx, http.MethodPut, reqURL, establishment, nil); err != nil {
		return fmt.Errorf("updating establishment %s: %w", mapID, err)
	}

	return nil
}

// doRequest executes an HTTP request with JSON encoding.
func (c *Client) doRequest(ctx context.Context, method string, reqURL string, body any, result any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
			apiErr.Message = errResp.Error
		}
		return apiErr
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}

// NewClient creates a new map API client.
func NewClient(opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	var limiter *rate.Limiter
	if o.rateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.rateLimit), 1)
	}

	return &Client{
		apiKey:        o.apiKey,
		baseURL:       o.baseURL,
		healthTimeout: o.healthTimeout,
		httpClient:    httpClient,
		limiter:       limiter,
		source:        o.source,
		timeout:       o.timeout,
	}, nil
}
