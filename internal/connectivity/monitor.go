// Package connectivity tracks whether the collection endpoint is reachable and
// turns reachability and application-lifecycle transitions into sync triggers.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Probe answers "does a usable route to the endpoint exist right now".
type Probe interface {
	Online(ctx context.Context) bool
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context) bool

func (f ProbeFunc) Online(ctx context.Context) bool { return f(ctx) }

// Lifecycle states pushed by platform bindings.
type Lifecycle int

const (
	Foreground Lifecycle = iota
	Background
)

// Monitor keeps a single online flag current and schedules sync attempts on
// recovery. Platform bindings feed it through NotifyNetworkChange and
// NotifyLifecycle; it never polls on its own after the initial probe.
type Monitor struct {
	probe  Probe
	settle time.Duration
	onSync func()
	log    zerolog.Logger

	mu          sync.Mutex
	online      bool
	foreground  bool
	closed      bool
	settleTimer *time.Timer
}

// Options configures a Monitor.
type Options struct {
	Probe Probe
	// SettleDelay guards against acting on a connection the instant it is
	// reported up, before routes actually work.
	SettleDelay time.Duration
	// OnSync is invoked (on the monitor's own goroutine) whenever a sync
	// attempt should happen.
	OnSync func()
	Logger zerolog.Logger
}

// New builds a monitor and initializes the online flag with one probe.
func New(ctx context.Context, opts Options) *Monitor {
	settle := opts.SettleDelay
	if settle == 0 {
		settle = 2 * time.Second
	}
	m := &Monitor{
		probe:      opts.Probe,
		settle:     settle,
		onSync:     opts.OnSync,
		log:        opts.Logger.With().Str("component", "connectivity").Logger(),
		foreground: true,
	}
	if m.probe != nil {
		m.online = m.probe.Online(ctx)
	}
	m.log.Debug().Bool("online", m.online).Msg("monitor initialized")
	return m
}

// Online reports the current reachability flag.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// NotifyNetworkChange records a reachability transition. A false→true flip
// schedules a sync after the settle delay; flapping back offline before the
// delay elapses cancels the pending attempt.
func (m *Monitor) NotifyNetworkChange(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	was := m.online
	m.online = online

	if !online {
		m.stopSettleLocked()
		if was {
			m.log.Info().Msg("network lost")
		}
		return
	}
	if was {
		return
	}
	m.log.Info().Dur("settle", m.settle).Msg("network recovered, sync scheduled")
	m.stopSettleLocked()
	m.settleTimer = time.AfterFunc(m.settle, m.fireSync)
}

// NotifyLifecycle records a foreground/background transition. Returning to
// foreground while online triggers an immediate sync: background execution may
// have been suspended and the queue drifted.
func (m *Monitor) NotifyLifecycle(state Lifecycle) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	wasForeground := m.foreground
	m.foreground = state == Foreground
	online := m.online
	m.mu.Unlock()

	if state == Foreground && !wasForeground && online {
		m.log.Debug().Msg("foregrounded while online, syncing")
		m.fireSync()
	}
}

// Close tears the monitor down. After Close no callback fires again.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.stopSettleLocked()
}

func (m *Monitor) stopSettleLocked() {
	if m.settleTimer != nil {
		m.settleTimer.Stop()
		m.settleTimer = nil
	}
}

func (m *Monitor) fireSync() {
	m.mu.Lock()
	if m.closed || m.onSync == nil {
		m.mu.Unlock()
		return
	}
	fn := m.onSync
	m.mu.Unlock()
	fn()
}
