package connector

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nchat/core/internal/circuitbreaker"
)

func TestRateLimiter_AllowsUpToMaxThenBlocks(t *testing.T) {
	rl := NewRateLimiter(2, 60_000)
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())
}

func TestRetryPolicy_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	policy := RetryPolicy{MaxAttempts: 3, InitialDelayMs: 1, MaxDelayMs: 5, BackoffMultiplier: 2}

	err := policy.Execute(func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryPolicy_DoesNotRetryAuthErrors(t *testing.T) {
	attempts := 0
	policy := RetryPolicy{MaxAttempts: 5, InitialDelayMs: 1, MaxDelayMs: 5, BackoffMultiplier: 2}

	err := policy.Execute(func() error {
		attempts++
		return ErrAuthNonRetryable
	})

	assert.ErrorIs(t, err, ErrAuthNonRetryable)
	assert.Equal(t, 1, attempts)
}

func TestHTTPConnector_ConnectHealthCheckDisconnect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	conn := NewHTTPConnector(DefaultRetryPolicy(), NewRateLimiter(100, 60_000))
	require.NoError(t, conn.Connect(Config{"base_url": server.URL}, Credentials{AccessToken: "tok"}))
	assert.True(t, conn.IsConnected())

	res, err := conn.HealthCheck()
	require.NoError(t, err)
	assert.True(t, res.Healthy)

	require.NoError(t, conn.Disconnect())
	assert.False(t, conn.IsConnected())
}

func TestHTTPConnector_CallTracksMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	conn := NewHTTPConnector(DefaultRetryPolicy(), NewRateLimiter(100, 60_000))
	require.NoError(t, conn.Connect(Config{"base_url": server.URL}, Credentials{}))

	_, err := conn.Call(http.MethodGet, "/resource")
	require.NoError(t, err)

	metrics := conn.GetMetrics()
	assert.Equal(t, int64(1), metrics.TotalCalls)
	assert.Equal(t, int64(0), metrics.FailedCalls)
}

func TestHTTPConnector_Call_AuthErrorNonRetryable(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	conn := NewHTTPConnector(RetryPolicy{MaxAttempts: 3, InitialDelayMs: 1, MaxDelayMs: 5, BackoffMultiplier: 2}, NewRateLimiter(100, 60_000))
	require.NoError(t, conn.Connect(Config{"base_url": server.URL}, Credentials{}))

	_, err := conn.Call(http.MethodGet, "/resource")
	assert.ErrorIs(t, err, ErrAuthNonRetryable)
	assert.Equal(t, 1, calls)
}

func TestHTTPConnector_CatalogEntry(t *testing.T) {
	conn := NewHTTPConnector(DefaultRetryPolicy(), nil)
	entry := conn.GetCatalogEntry()
	assert.Equal(t, "conn-http-rest", entry.ID)
}

func TestHTTPConnector_Call_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	baseURL := server.URL
	server.Close() // closed before use: every call below hits a refused connection

	conn := NewHTTPConnector(RetryPolicy{MaxAttempts: 1, InitialDelayMs: 1, MaxDelayMs: 1, BackoffMultiplier: 2}, NewRateLimiter(100, 60_000))
	require.NoError(t, conn.Connect(Config{"base_url": baseURL}, Credentials{}))

	for i := 0; i < 5; i++ {
		_, err := conn.Call(http.MethodGet, "/resource")
		assert.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateOpen, conn.BreakerState())

	_, err := conn.Call(http.MethodGet, "/resource")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
}
