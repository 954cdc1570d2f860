package netstatus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/offsync/internal/bus"
)

// Source feeds environment connectivity events into a Monitor.
type Source interface {
	Start(ctx context.Context, report func(Status)) error
	Stop() error
}

// Monitor is the single source of truth for connectivity. Listeners see
// every transition in the order reported.
type Monitor struct {
	log *zap.Logger
	bus *bus.Bus

	// deliverMu serializes state changes with their delivery so that all
	// listeners observe the same order. Listeners must not call Report or
	// Subscribe synchronously.
	deliverMu sync.Mutex
	mu        sync.RWMutex
	current   Status
	destroyed bool

	listeners bus.Listeners[Status]
	sources   []Source
}

// NewMonitor creates a monitor starting from initial. A nil bus or
// logger is allowed.
func NewMonitor(initial Status, b *bus.Bus, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Monitor{log: log, bus: b, current: initial}
	m.listeners.OnPanic = func(r any) {
		log.Error("network listener panicked", zap.Any("panic", r))
	}
	return m
}

// Subscribe registers fn. It is called once immediately with the current
// status, then on every transition.
func (m *Monitor) Subscribe(fn func(Status)) (unsubscribe func()) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	unsubscribe = m.listeners.Add(fn)
	m.callOne(fn, m.Status())
	return unsubscribe
}

func (m *Monitor) callOne(fn func(Status), s Status) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("network listener panicked", zap.Any("panic", r))
		}
	}()
	fn(s)
}

// Report applies an environment event. A status identical to the current
// one is not re-delivered.
func (m *Monitor) Report(s Status) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	if m.destroyed || s == m.current {
		m.mu.Unlock()
		return
	}
	prev := m.current
	m.current = s
	m.mu.Unlock()

	if prev.IsOnline != s.IsOnline {
		if s.IsOnline {
			m.log.Info("connection restored", zap.Stringer("status", s))
		} else {
			m.log.Info("connection lost")
		}
	} else {
		m.log.Debug("connection changed", zap.Stringer("status", s))
	}
	m.bus.Emit(bus.KindNetworkChange, s)
	m.listeners.Notify(s)
}

// SetOnline reports a bare connectivity change, keeping the quality hints
// of the current status when going online.
func (m *Monitor) SetOnline(online bool) {
	s := m.Status()
	if !online {
		s = Status{}
	}
	s.IsOnline = online
	m.Report(s)
}

// Status returns a copy of the current status.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsOnline reports current connectivity.
func (m *Monitor) IsOnline() bool { return m.Status().IsOnline }

// IsHighQuality reports whether the link is online and either 4g or of
// unknown quality.
func (m *Monitor) IsHighQuality() bool {
	s := m.Status()
	if !s.IsOnline {
		return false
	}
	return s.EffectiveType == "" || s.EffectiveType == Type4G
}

// IsDataSaver reports whether the environment asked for reduced data use.
func (m *Monitor) IsDataSaver() bool { return m.Status().SaveData }

// Attach starts src and routes its events into the monitor. Attached
// sources are stopped by Destroy.
func (m *Monitor) Attach(ctx context.Context, src Source) error {
	if err := src.Start(ctx, m.Report); err != nil {
		return err
	}
	m.mu.Lock()
	m.sources = append(m.sources, src)
	m.mu.Unlock()
	return nil
}

// Destroy stops every attached source and drops all listeners. Later
// reports are ignored.
func (m *Monitor) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	sources := m.sources
	m.sources = nil
	m.mu.Unlock()

	for _, src := range sources {
		if err := src.Stop(); err != nil {
			m.log.Warn("stop network source", zap.Error(err))
		}
	}
	m.listeners.Reset()
}
