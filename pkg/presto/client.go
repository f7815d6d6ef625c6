package presto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/iddaa-lens/statsync/pkg/logger"
	"github.com/iddaa-lens/statsync/pkg/metrics"
)

// ProviderName is the credential provider key for this client
const ProviderName = "presto"

const maxBodyBytes = 8 << 20

// RateLimitError represents a rate limit error from the API
type RateLimitError struct {
	StatusCode int
	RetryAfter string
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter != "" {
		return fmt.Sprintf("rate limit exceeded (status %d), retry after: %s", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded (status %d): %s", e.StatusCode, e.Message)
}

// APIError is any other non-2xx answer. Message never includes the request's
// Authorization header; response bodies are trimmed.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// Unauthorized reports whether the provider rejected the credentials
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Config holds configuration for the provider client
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	RequestsPerMin int
	// Transport overrides the HTTP transport, mostly for tests
	Transport http.RoundTripper
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "https://gameday-api.prestosports.com/api",
		Timeout:        30 * time.Second,
		RequestsPerMin: 60,
	}
}

// Client talks to the Presto stats API. Calls go through a token bucket and
// a circuit breaker shared by every tenant.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	rateLimiter *RateLimiter
	breaker     *gobreaker.CircuitBreaker
	logger      *logger.Logger
}

// NewClient creates a new provider client
func NewClient(config *Config, log *logger.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.RequestsPerMin <= 0 {
		config.RequestsPerMin = 60
	}
	if log == nil {
		log = logger.New("presto-client")
	}

	breakerName := "presto-api"
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		// 4xx answers mean the provider is up; only transport and 5xx failures count
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < 500
			}
			var rlErr *RateLimitError
			return errors.As(err, &rlErr) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("action", "circuit_breaker_transition").
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Provider circuit breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &Client{
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: config.Transport,
		},
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		rateLimiter: NewRateLimiter(config.RequestsPerMin),
		breaker:     breaker,
		logger:      log,
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}

// request describes one provider call
type request struct {
	method      string
	endpoint    string
	metricName  string
	accessToken string
	params      map[string]string
	body        any
	accept      string
}

// do executes req and returns the raw body of a 2xx response
func (c *Client) do(ctx context.Context, req request) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.send(ctx, req)
	})
	if err != nil {
		outcome := "failure"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = "rejected"
		}
		metrics.ProviderRequests.WithLabelValues(req.metricName, outcome).Inc()
		return nil, err
	}

	metrics.ProviderRequests.WithLabelValues(req.metricName, "success").Inc()
	return result.([]byte), nil
}

func (c *Client) send(ctx context.Context, req request) ([]byte, error) {
	u, err := url.Parse(c.baseURL + req.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint URL: %w", err)
	}
	if len(req.params) > 0 {
		query := u.Query()
		for key, value := range req.params {
			query.Set(key, value)
		}
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		raw, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = strings.NewReader(string(raw))
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	accept := req.accept
	if accept == "" {
		accept = "application/json"
	}
	httpReq.Header.Set("Accept", accept)
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.accessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.accessToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.LogAPICall(req.method, req.endpoint, 0, time.Since(start), err)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	var callErr error
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		callErr = &RateLimitError{
			StatusCode: resp.StatusCode,
			RetryAfter: resp.Header.Get("Retry-After"),
			Message:    "provider request limit exceeded",
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		callErr = &APIError{StatusCode: resp.StatusCode, Message: errorMessage(payload, resp.StatusCode)}
	case readErr != nil:
		callErr = fmt.Errorf("failed to read response: %w", readErr)
	}

	// endpoint only; query strings may carry identifiers we do not want in logs
	c.logger.LogAPICall(req.method, req.endpoint, resp.StatusCode, time.Since(start), callErr)
	if callErr != nil {
		return nil, callErr
	}
	return payload, nil
}

// errorMessage pulls a human message out of an error body
func errorMessage(payload []byte, status int) string {
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(payload, &envelope) == nil {
		if envelope.Message != "" {
			return envelope.Message
		}
		if envelope.Error != "" {
			return envelope.Error
		}
	}
	if text := strings.TrimSpace(string(payload)); text != "" {
		if len(text) > 200 {
			text = text[:200]
		}
		return text
	}
	return fmt.Sprintf("API returned status %d", status)
}

// RateLimiter implements simple rate limiting
type RateLimiter struct {
	tokens   chan struct{}
	interval time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	rl := &RateLimiter{
		tokens:   make(chan struct{}, requestsPerMinute),
		interval: time.Minute / time.Duration(requestsPerMinute),
	}

	for i := 0; i < requestsPerMinute; i++ {
		rl.tokens <- struct{}{}
	}

	return rl
}

// Wait blocks until a request can be made
func (rl *RateLimiter) Wait(ctx context.Context) error {
	select {
	case <-rl.tokens:
		go func() {
			time.Sleep(rl.interval)
			select {
			case rl.tokens <- struct{}{}:
			default:
			}
		}()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
