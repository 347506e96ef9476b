// Package netmon watches network availability and fires a callback on the
// disconnected-to-connected transition.
package netmon

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Probe reports whether the network currently looks usable.
type Probe func(ctx context.Context) bool

// Monitor polls a connectivity probe. The onAvailable callback runs on
// every offline-to-online transition, including the first successful probe.
type Monitor struct {
	probe       Probe
	interval    time.Duration
	onAvailable func()
	online      atomic.Bool
	seeded      atomic.Bool
}

// New creates a monitor. onAvailable may be nil.
func New(probe Probe, interval time.Duration, onAvailable func()) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		probe:       probe,
		interval:    interval,
		onAvailable: onAvailable,
	}
}

// Online returns the last observed connectivity state. Before the first
// probe completes it optimistically reports true so startup triggers are
// not swallowed.
func (m *Monitor) Online() bool {
	if !m.seeded.Load() {
		return true
	}
	return m.online.Load()
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	now := m.probe(ctx)
	wasSeeded := m.seeded.Swap(true)
	was := m.online.Swap(now)

	if now && (!was || !wasSeeded) {
		logrus.Info("Network available, triggering immediate sync")
		if m.onAvailable != nil {
			m.onAvailable()
		}
	}
	if !now && was {
		logrus.Info("Network disconnected")
	}
}

// DialProbe returns a probe that attempts a TCP connection to addr.
func DialProbe(addr string, timeout time.Duration) Probe {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return func(ctx context.Context) bool {
		dialer := net.Dialer{Timeout: timeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}
}
