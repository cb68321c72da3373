package content

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/smartcopy-pro/smartcopy/internal/link"
)

// Readiness is the monitor's verdict for one user action.
type Readiness int

const (
	// Ready means the context was valid.
	Ready Readiness = iota
	// Recovered means the context was invalid and bounded reconnection
	// succeeded; the action proceeds.
	Recovered
	// Deferred means reconnection failed this time but the runtime answers
	// probes again; the action is skipped and the liveness probe resumes
	// normal operation.
	Deferred
	// Skipped means the runtime is still unreachable; the action is skipped.
	Skipped
)

func (r Readiness) String() string {
	switch r {
	case Ready:
		return "ready"
	case Recovered:
		return "recovered"
	case Deferred:
		return "deferred"
	case Skipped:
		return "skipped"
	}
	return "unknown"
}

// Proceed reports whether the action should run.
func (r Readiness) Proceed() bool {
	return r == Ready || r == Recovered
}

// Monitor watches whether this context can still reach the background.
type Monitor struct {
	link *link.Manager
	log  logrus.FieldLogger
}

// NewMonitor creates a Monitor over l.
func NewMonitor(l *link.Manager, log logrus.FieldLogger) *Monitor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Monitor{link: l, log: log.WithField("component", "monitor")}
}

// Probe reports whether the runtime answers. It never fails.
func (m *Monitor) Probe(ctx context.Context) bool {
	return m.link.Probe(ctx)
}

// Valid reports the context validity flag.
func (m *Monitor) Valid() bool {
	return m.link.Valid()
}

// Check runs before every user action. An invalid context gets one round
// of bounded reconnection.
func (m *Monitor) Check(ctx context.Context) Readiness {
	if m.link.Valid() {
		return Ready
	}
	if err := m.link.Reconnect(ctx); err == nil {
		m.log.Info("context recovered")
		return Recovered
	}
	if m.Probe(ctx) {
		return Deferred
	}
	return Skipped
}
