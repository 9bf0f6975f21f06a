package connector

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nchat/core/internal/circuitbreaker"
)

// HTTPConnector is the generic REST adapter: configure a base URL and
// optional bearer credentials, dispatch arbitrary requests through the
// configured retry policy and rate limiter, itself guarded by a circuit
// breaker so a connector whose calls keep failing stops taking traffic
// instead of retrying into a downed upstream on every caller. Modeled
// directly on internal/marketplace/connectors.go's "conn-http-rest"
// catalog entry.
type HTTPConnector struct {
	mu          sync.Mutex
	baseURL     string
	client      *http.Client
	creds       Credentials
	connected   bool
	retryPolicy RetryPolicy
	limiter     *RateLimiter
	breaker     *circuitbreaker.CircuitBreaker
	metrics     Metrics
}

// NewHTTPConnector creates an unconnected HTTPConnector with the given
// retry and rate-limit policies. Each connector instance gets its own
// circuit breaker, matching the registry's one-Connector-per-
// installation rule.
func NewHTTPConnector(retry RetryPolicy, limiter *RateLimiter) *HTTPConnector {
	return &HTTPConnector{
		client:      &http.Client{Timeout: 30 * time.Second},
		retryPolicy: retry,
		limiter:     limiter,
		breaker:     circuitbreaker.New(circuitbreaker.DefaultConfig("http-connector")),
	}
}

func (c *HTTPConnector) Connect(config Config, creds Credentials) error {
	baseURL, _ := config["base_url"].(string)
	if baseURL == "" {
		return fmt.Errorf("connector: http connector requires config key base_url")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = baseURL
	c.creds = creds
	c.connected = true
	return nil
}

func (c *HTTPConnector) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

func (c *HTTPConnector) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *HTTPConnector) HealthCheck() (HealthCheckResult, error) {
	c.mu.Lock()
	baseURL := c.baseURL
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		return HealthCheckResult{}, fmt.Errorf("connector: not connected")
	}

	start := time.Now()
	resp, err := c.client.Get(baseURL)
	elapsed := time.Since(start)
	if err != nil {
		return HealthCheckResult{}, fmt.Errorf("connector: health check request: %w", err)
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode < 500
	return HealthCheckResult{
		Healthy:        healthy,
		ResponseTimeMs: elapsed.Milliseconds(),
		Message:        fmt.Sprintf("HTTP %d", resp.StatusCode),
		CheckedAt:      time.Now(),
	}, nil
}

// Call executes an HTTP request through the connector's circuit
// breaker, retry policy, and rate limiter, recording metrics. The rate
// limiter is consulted first; an open breaker then fails the call
// immediately without touching the network.
func (c *HTTPConnector) Call(method, path string) (*http.Response, error) {
	if c.limiter != nil && !c.limiter.Allow() {
		return nil, fmt.Errorf("connector: rate limit exceeded")
	}

	var resp *http.Response
	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.retryPolicy.Execute(func() error {
			req, reqErr := http.NewRequest(method, c.baseURL+path, nil)
			if reqErr != nil {
				return reqErr
			}
			if c.creds.AccessToken != "" {
				req.Header.Set("Authorization", "Bearer "+c.creds.AccessToken)
			}
			r, callErr := c.client.Do(req)
			if callErr != nil {
				return callErr
			}
			if r.StatusCode == http.StatusUnauthorized || r.StatusCode == http.StatusForbidden {
				r.Body.Close()
				return fmt.Errorf("%w: status %d", ErrAuthNonRetryable, r.StatusCode)
			}
			resp = r
			return nil
		})
	})

	c.mu.Lock()
	c.metrics.TotalCalls++
	if err != nil {
		c.metrics.FailedCalls++
	}
	c.metrics.LastCallAt = time.Now()
	latency := float64(time.Since(start).Milliseconds())
	n := float64(c.metrics.TotalCalls)
	c.metrics.AvgLatencyMs = c.metrics.AvgLatencyMs + (latency-c.metrics.AvgLatencyMs)/n
	c.mu.Unlock()

	return resp, err
}

func (c *HTTPConnector) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *HTTPConnector) GetCatalogEntry() CatalogEntry {
	return HTTPCatalogEntry
}

// BreakerState reports the connector's circuit breaker state, so a
// caller (or the health monitor) can distinguish "down" from
// "deliberately not being called right now".
func (c *HTTPConnector) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

// HTTPCatalogEntry is the built-in catalog listing for the generic
// HTTP/REST connector.
var HTTPCatalogEntry = CatalogEntry{
	ID:          "conn-http-rest",
	Name:        "HTTP/REST (Generic)",
	Description: "Universal REST API connector with configurable auth, headers, and retry policy.",
	Icon:        "http",
	Category:    CategoryCustom,
	Capabilities: []string{"read", "write"},
	SyncDirections: []string{"outbound"},
	Actions: []CatalogAction{
		{ID: "http_get", Label: "GET", Description: "Execute a GET request", Parameters: []ActionParameter{{Name: "path", Type: "string", Required: true}}},
		{ID: "http_post", Label: "POST", Description: "Execute a POST request", Parameters: []ActionParameter{{Name: "path", Type: "string", Required: true}, {Name: "body", Type: "object"}}},
	},
	RequiredConfig: []string{"base_url"},
	RequiresOAuth:  false,
	Version:        "1.0.0",
}

// SlackCatalogEntry is the built-in catalog listing for a Slack-style
// messaging connector (reference entry only; no live Slack client is
// wired, per spec.md's "concrete HTTP connectors for third-party SaaS"
// non-goal).
var SlackCatalogEntry = CatalogEntry{
	ID:          "conn-slack",
	Name:        "Slack",
	Description: "Team messaging via OAuth bot token.",
	Icon:        "slack",
	Category:    CategoryCommunication,
	Capabilities: []string{"write"},
	SyncDirections: []string{"outbound"},
	Actions: []CatalogAction{
		{ID: "send_message", Label: "Send Message", Description: "Send a message to a channel", Parameters: []ActionParameter{{Name: "channel", Type: "string", Required: true}, {Name: "text", Type: "string", Required: true}}},
	},
	RequiredConfig: []string{"bot_token"},
	RequiresOAuth:  true,
	OAuthScopes:    []string{"chat:write"},
	Version:        "1.0.0",
}
