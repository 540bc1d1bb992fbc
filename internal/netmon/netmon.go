// Package netmon tracks backend reachability.
//
// A Monitor probes the backend on an interval and reports online/offline
// edges to subscribers: a notification fires when the state changes, not
// on every probe. The daemon uses the offline-to-online edge to drain the
// sync queue immediately instead of waiting out its poll interval.
//
// The state can also be forced with SetOnline, for tests and for callers
// that learn about connectivity from somewhere else.
package netmon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Defaults for the probe loop.
const (
	DefaultInterval     = 30 * time.Second
	DefaultProbeTimeout = 5 * time.Second
)

// Pinger is the probe target, satisfied by remote.Backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Event is one state change.
type Event struct {
	Online bool
	At     time.Time
}

// Monitor watches one backend. Start it at most once.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *log.Logger

	mu      sync.Mutex
	online  bool
	subs    []chan Event
	stopped bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// Config holds monitor construction options.
type Config struct {
	Pinger Pinger

	// Interval between probes. Defaults to DefaultInterval.
	Interval time.Duration

	// ProbeTimeout bounds a single probe. Defaults to DefaultProbeTimeout.
	ProbeTimeout time.Duration

	// AssumeOnline is the state reported before the first probe lands.
	// The default, offline, means the first successful probe fires an
	// online edge and kicks off a drain.
	AssumeOnline bool

	// Logger defaults to stderr with a "[netmon] " prefix.
	Logger *log.Logger
}

// New creates a monitor. Call Start to begin probing.
func New(cfg Config) (*Monitor, error) {
	if cfg.Pinger == nil {
		return nil, fmt.Errorf("pinger is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}

	return &Monitor{
		pinger:   cfg.Pinger,
		interval: cfg.Interval,
		timeout:  cfg.ProbeTimeout,
		logger:   cfg.Logger,
		online:   cfg.AssumeOnline,
		stop:     make(chan struct{}),
	}, nil
}

// Start launches the probe loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Stop halts probing and closes every subscription channel.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	close(m.stop)
	m.wg.Wait()

	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.CheckNow(context.Background())
		}
	}
}

// Online returns the last known state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// CheckNow probes immediately, outside the regular interval, and returns
// the resulting state.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.pinger.Ping(ctx)
	if err != nil {
		m.setState(false, err)
		return false
	}
	m.setState(true, nil)
	return true
}

// SetOnline forces the state, firing an edge if it changed.
func (m *Monitor) SetOnline(online bool) {
	m.setState(online, nil)
}

// Subscribe returns a channel of state changes. The channel is buffered;
// a subscriber that stops reading misses events rather than blocking the
// monitor. Stop closes it. Subscriptions last the monitor's lifetime.
func (m *Monitor) Subscribe() <-chan Event {
	ch := make(chan Event, 8)
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		close(ch)
		return ch
	}
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

func (m *Monitor) setState(online bool, cause error) {
	m.mu.Lock()
	if m.stopped || m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]chan Event, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	switch {
	case online:
		m.logger.Printf("backend reachable")
	case cause != nil:
		m.logger.Printf("backend unreachable: %v", cause)
	default:
		m.logger.Printf("backend marked offline")
	}

	ev := Event{Online: online, At: time.Now().UTC()}
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
