package mapapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultSource is the value of the source tag on every pushed establishment.
const DefaultSource = "Aqui aceita Bitcoin?"

// Option configures optional Client settings.
type Option func(*options) error

// options holds optional configuration for creating a Client.
type options struct {
	// apiKey is sent as a Bearer token when set.
	apiKey string

	// baseURL is the base URL for API requests.
	baseURL string

	// healthTimeout bounds the health probe.
	healthTimeout time.Duration

	// httpClient is a custom HTTP client.
	httpClient *http.Client

	// rateLimit is the maximum requests per second. Zero disables limiting.
	rateLimit float64

	// source is the value of the source tag.
	source string

	// timeout bounds each create/update call.
	timeout time.Duration
}

// WithAPIKey sets the API key sent as a Bearer token.
func WithAPIKey(apiKey string) Option {
	return func(o *options) error {
		apiKey = strings.TrimSpace(apiKey)
		if apiKey == "" {
			return fmt.Errorf("API key cannot be empty")
		}
		o.apiKey = apiKey
		return nil
	}
}

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(o *options) error {
		baseURL = strings.TrimSpace(baseURL)
		if baseURL == "" {
			return fmt.Errorf("base URL cannot be empty")
		}
		o.baseURL = strings.TrimRight(baseURL, "/")
		return nil
	}
}

// WithHealthTimeout sets the health probe timeout.
func WithHealthTimeout(timeout time.Duration) Option {
	return func(o *options) error {
		if timeout <= 0 {
			return fmt.Errorf("health timeout must be positive, got %v", timeout)
		}
		o.healthTimeout = timeout
		return nil
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) error {
		if httpClient == nil {
			return fmt.Errorf("HTTP client cannot be nil")
		}
		o.httpClient = httpClient
		return nil
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(perSecond float64) Option {
	return func(o *options) error {
		if perSecond < 0 {
			return fmt.Errorf("rate limit cannot be negative, got %v", perSecond)
		}
		o.rateLimit = perSecond
		return nil
	}
}

// WithSource overrides the source tag value.
func WithSource(source string) Option {
	return func(o *options) error {
		source = strings.TrimSpace(source)
		if source == "" {
			return fmt.Errorf("source cannot be empty")
		}
		o.source = source
		return nil
	}
}

// WithTimeout sets the timeout of each create/update call.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", timeout)
		}
		o.timeout = timeout
		return nil
	}
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() *options {
	return &options{
		baseURL:       "http://localhost:5000",
		healthTimeout: 5 * time.Second,
		source:        DefaultSource,
		timeout:       30 * time.Second,
	}
}
