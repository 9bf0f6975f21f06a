// Package health implements periodic liveness checking for connectors:
// one goroutine-driven ticker per installation, a bounded result
// history, and a consecutive-failure auto-disable callback. Grounded
// on internal/circuitbreaker.Manager's registry-of-named-state shape
// (one mutex guarding a map, Get/Remove/List-style accessors) and the
// bounded in-memory latency/error tracking idiom the teacher's
// monitoring subsystem used in place of an external TSDB.
package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nchat/core/internal/connector"
)

const historySize = 20

// maxConsecutiveFailures and checkIntervalMs defaults, per spec.
const (
	DefaultMaxConsecutiveFailures = 3
	DefaultCheckIntervalMs        = 60_000
)

// OnAutoDisable is invoked exactly once, with a reason naming the
// failure count and the latest check message, when an installation's
// consecutiveFailures reaches the configured threshold. Monitoring for
// that installation stops immediately afterward.
type OnAutoDisable func(id string, reason string)

type monitorState struct {
	conn                connector.Connector
	history             []connector.HealthCheckResult
	consecutiveFailures int
	stopCh              chan struct{}
	stopped             bool
}

// Monitor runs periodic health checks for a set of installations,
// identified by opaque string IDs. All state lives under a single
// mutex, the same coarse-lock-per-store idiom used throughout this
// module.
type Monitor struct {
	mu                     sync.Mutex
	states                 map[string]*monitorState
	maxConsecutiveFailures int
	checkIntervalMs        int64
	onAutoDisable          OnAutoDisable
	metrics                *Metrics
	now                    func() time.Time
}

// NewMonitor creates a Monitor with the given thresholds. onAutoDisable
// is wired once at construction to break the registry<->monitor
// dependency cycle: the monitor never imports the registry, it only
// calls back into it. Metrics are registered against a private
// registry so repeated construction never collides with the global
// default registerer.
func NewMonitor(maxConsecutiveFailures int, checkIntervalMs int64, onAutoDisable OnAutoDisable) *Monitor {
	if maxConsecutiveFailures <= 0 {
		maxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if checkIntervalMs <= 0 {
		checkIntervalMs = DefaultCheckIntervalMs
	}
	return &Monitor{
		states:                 make(map[string]*monitorState),
		maxConsecutiveFailures: maxConsecutiveFailures,
		checkIntervalMs:        checkIntervalMs,
		onAutoDisable:          onAutoDisable,
		metrics:                NewMetrics(prometheus.NewRegistry()),
		now:                    time.Now,
	}
}

// StartMonitoring begins periodic checks for id against conn: an
// immediate check runs synchronously before this call returns, then a
// ticker goroutine takes over at checkIntervalMs. Calling
// StartMonitoring again for an id already being monitored stops the
// previous goroutine first, so this is idempotent in effect (the
// latest connector wins).
func (m *Monitor) StartMonitoring(id string, conn connector.Connector) {
	m.StopMonitoring(id)

	st := &monitorState{
		conn:    conn,
		history: make([]connector.HealthCheckResult, 0, historySize),
		stopCh:  make(chan struct{}),
	}

	m.mu.Lock()
	m.states[id] = st
	m.mu.Unlock()

	disabled := m.runCheck(id, st)
	if disabled {
		return
	}

	go m.loop(id, st)
}

func (m *Monitor) loop(id string, st *monitorState) {
	ticker := time.NewTicker(time.Duration(m.checkIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-st.stopCh:
			return
		case <-ticker.C:
			if m.runCheck(id, st) {
				return
			}
		}
	}
}

// runCheck executes one health check for id and returns true if the
// installation was just auto-disabled (monitoring has stopped).
func (m *Monitor) runCheck(id string, st *monitorState) bool {
	start := m.now()
	result, err := st.conn.HealthCheck()
	checkedAt := m.now()
	latency := checkedAt.Sub(start).Seconds()

	m.mu.Lock()
	if st.stopped {
		m.mu.Unlock()
		return true
	}

	if err != nil || !result.Healthy {
		st.consecutiveFailures++
		if err != nil {
			result = connector.HealthCheckResult{
				Healthy:   false,
				Message:   err.Error(),
				CheckedAt: checkedAt,
			}
		}
	} else {
		st.consecutiveFailures = 0
	}
	result.ConsecutiveFailures = st.consecutiveFailures
	result.CheckedAt = checkedAt

	st.history = append(st.history, result)
	if len(st.history) > historySize {
		st.history = st.history[len(st.history)-historySize:]
	}

	shouldDisable := st.consecutiveFailures >= m.maxConsecutiveFailures
	if shouldDisable {
		st.stopped = true
		close(st.stopCh)
		delete(m.states, id)
	}
	failures := st.consecutiveFailures
	message := result.Message
	healthy := result.Healthy
	m.mu.Unlock()

	m.metrics.record(id, healthy, latency, failures)

	if shouldDisable {
		m.metrics.recordAutoDisable(id)
		if m.onAutoDisable != nil {
			m.onAutoDisable(id, fmt.Sprintf("%d consecutive failures: %s", failures, message))
		}
	}
	return shouldDisable
}

// StopMonitoring stops checks for id, if any are running. It is a
// no-op if id is not currently monitored.
func (m *Monitor) StopMonitoring(id string) {
	m.mu.Lock()
	st, ok := m.states[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.states, id)
	if st.stopped {
		m.mu.Unlock()
		return
	}
	st.stopped = true
	close(st.stopCh)
	m.mu.Unlock()
}

// StopAll stops every currently monitored installation.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.StopMonitoring(id)
	}
}

// IsMonitoring reports whether id currently has an active ticker.
func (m *Monitor) IsMonitoring(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	return ok && !st.stopped
}

// History returns a copy of the bounded result history for id, oldest
// first. Returns nil if id is unknown.
func (m *Monitor) History(id string) []connector.HealthCheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		return nil
	}
	out := make([]connector.HealthCheckResult, len(st.history))
	copy(out, st.history)
	return out
}
