// Package health provides a rate-limited connectivity gate for the remote
// document store.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// DefaultProbeInterval is the minimum time between two liveness probes.
const DefaultProbeInterval = 5 * time.Second

// ErrConnectionUnavailable is returned by WithConnectionCheck when the last
// probe reported the store as unreachable. It is not a terminal failure:
// callers are expected to requeue their work and try again later.
var ErrConnectionUnavailable = errors.New("connection unavailable")

// ProbeFunc performs a liveness check against the remote store.
type ProbeFunc func(ctx context.Context) error

// Recorder receives the outcome of every executed probe.
type Recorder interface {
	RecordProbe(ctx context.Context, connected bool)
}

// ConnectionState is a point-in-time view of the monitor.
type ConnectionState struct {
	IsConnected   bool      `json:"isConnected"`
	LastCheckedAt time.Time `json:"lastCheckedAt"`
	CheckInFlight bool      `json:"checkInFlight"`
}

// Monitor rate-limits liveness probes and caches their result. Concurrent
// callers never trigger duplicate probes: while a probe is in flight, or
// within the probe interval, they observe the last resolved state.
type Monitor struct {
	mu       sync.Mutex // Protects state
	state    ConnectionState
	clock    clock.PassiveClock
	interval time.Duration
	recorder Recorder
}

// Option is a functional option for configuring the Monitor
type Option func(*Monitor)

// WithClock overrides the time source
func WithClock(c clock.PassiveClock) Option {
	return func(m *Monitor) {
		m.clock = c
	}
}

// WithInterval overrides the probe interval
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithRecorder sets the probe recorder
func WithRecorder(r Recorder) Option {
	return func(m *Monitor) {
		m.recorder = r
	}
}

// NewMonitor creates a Monitor. The store is assumed reachable until the
// first probe says otherwise.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		state:    ConnectionState{IsConnected: true},
		clock:    clock.RealClock{},
		interval: DefaultProbeInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns a copy of the current connection state.
func (m *Monitor) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CheckConnection reports whether the store is reachable, running probe at
// most once per interval.
func (m *Monitor) CheckConnection(ctx context.Context, probe ProbeFunc) bool {
	m.mu.Lock()
	if m.state.CheckInFlight {
		connected := m.state.IsConnected
		m.mu.Unlock()
		return connected
	}
	if !m.state.LastCheckedAt.IsZero() && m.clock.Since(m.state.LastCheckedAt) < m.interval {
		connected := m.state.IsConnected
		m.mu.Unlock()
		return connected
	}
	m.state.CheckInFlight = true
	m.mu.Unlock()

	connected := false
	defer func() {
		m.mu.Lock()
		m.state.IsConnected = connected
		m.state.LastCheckedAt = m.clock.Now()
		m.state.CheckInFlight = false
		m.mu.Unlock()

		if m.recorder != nil {
			m.recorder.RecordProbe(ctx, connected)
		}
	}()

	if err := runProbe(ctx, probe); err != nil {
		slog.WarnContext(ctx, "Document store connection check failed", "error", err)
		return false
	}
	connected = true
	return true
}

// WithConnectionCheck runs op only if CheckConnection reports the store as
// reachable, and fails with ErrConnectionUnavailable otherwise.
func (m *Monitor) WithConnectionCheck(ctx context.Context, probe ProbeFunc, op func(ctx context.Context) error) error {
	if !m.CheckConnection(ctx, probe) {
		return ErrConnectionUnavailable
	}
	return op(ctx)
}

// runProbe invokes probe, converting a panic into an error so that the
// in-flight flag is always cleared.
func runProbe(ctx context.Context, probe ProbeFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return probe(ctx)
}
