// Package link keeps a client context connected to the background.
//
// A Manager moves between DISCONNECTED, CONNECTING and CONNECTED. Losing the
// channel schedules exactly one retry after a fixed delay, and every failed
// retry schedules the next, so a long-lived context keeps trying until it is
// closed. Reconnect is the bounded path used when a user action finds the
// context invalid.
package link

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartcopy-pro/smartcopy/internal/errors"
	"github.com/smartcopy-pro/smartcopy/internal/message"
	"github.com/smartcopy-pro/smartcopy/internal/runtime"
)

// State is the connection state of a Manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	}
	return "UNKNOWN"
}

const (
	DefaultReconnectDelay   = 1000 * time.Millisecond
	DefaultLivenessInterval = 2000 * time.Millisecond
	DefaultMaxAttempts      = 3
)

// Options configures a Manager. Zero values take the defaults above.
type Options struct {
	// Name identifies the context to the background (a tab or "popup").
	Name string

	ReconnectDelay   time.Duration
	LivenessInterval time.Duration
	MaxAttempts      int

	// Handler receives messages the background sends over the channel.
	Handler message.Handler

	Log logrus.FieldLogger
}

// Manager owns one context's channel to the background.
type Manager struct {
	rt   runtime.Runtime
	opts Options
	log  logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	state State
	ch    runtime.Channel
	valid bool
	retry *time.Timer
}

// New creates a Manager in DISCONNECTED. Nothing happens until Start or
// Connect.
func New(rt runtime.Runtime, opts Options) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.LivenessInterval <= 0 {
		opts.LivenessInterval = DefaultLivenessInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Handler == nil {
		opts.Handler = message.Unhandled{}
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		rt:     rt,
		opts:   opts,
		log:    log.WithFields(logrus.Fields{"component": "link", "name": opts.Name}),
		ctx:    ctx,
		cancel: cancel,
		valid:  true,
	}
}

// Start connects and runs the liveness probe until Close or until ctx is
// done.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			m.Close()
		case <-m.ctx.Done():
		}
	}()

	_ = m.Connect(m.ctx)

	m.wg.Add(1)
	go m.liveness()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Valid reports the context validity flag.
func (m *Manager) Valid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.valid
}

// MarkInvalid records that the runtime looked unreachable.
func (m *Manager) MarkInvalid() {
	m.mu.Lock()
	m.valid = false
	m.mu.Unlock()
}

// Probe checks the runtime. It never returns an error or panics.
func (m *Manager) Probe(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("panic", r).Warn("runtime probe panicked")
			ok = false
		}
	}()
	return m.rt.Probe(ctx) == nil
}

// Connect tries once to open a channel. On failure the manager goes to
// DISCONNECTED and one retry is scheduled after the reconnect delay.
func (m *Manager) Connect(ctx context.Context) error {
	err := m.connectOnce(ctx)
	if err != nil {
		m.scheduleRetry()
	}
	return err
}

// Reconnect makes up to MaxAttempts connection attempts, waiting the
// reconnect delay between them, and then gives up. It schedules nothing.
func (m *Manager) Reconnect(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		if err = m.connectOnce(ctx); err == nil {
			return nil
		}
		m.log.WithError(err).WithField("attempt", attempt).Debug("reconnect attempt failed")
		if attempt == m.opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.ctx.Done():
			return m.ctx.Err()
		case <-time.After(m.opts.ReconnectDelay):
		}
	}
	m.log.WithField("attempts", m.opts.MaxAttempts).Info("reconnect abandoned")
	return errors.NewUnreachable(err)
}

func (m *Manager) connectOnce(ctx context.Context) error {
	if err := m.ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	connected := m.state == Connected && m.ch != nil
	if !connected {
		m.state = Connecting
	}
	m.mu.Unlock()

	if !m.Probe(ctx) {
		if connected {
			m.MarkInvalid()
		} else {
			m.setDisconnected(false)
		}
		return errors.NewContextInvalidated(nil)
	}
	if connected {
		m.mu.Lock()
		m.valid = true
		m.mu.Unlock()
		return nil
	}

	ch, err := m.rt.Connect(ctx, m.opts.Name)
	if err != nil {
		m.setDisconnected(false)
		return err
	}

	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		ch.Close()
		return m.ctx.Err()
	}
	if m.ch != nil {
		// A concurrent attempt won.
		m.mu.Unlock()
		ch.Close()
		return nil
	}
	m.ch = ch
	m.state = Connected
	m.valid = true
	m.wg.Add(1)
	m.mu.Unlock()

	m.log.WithField("channel", ch.ID()).Debug("connected")
	go m.pump(ch)
	return nil
}

// pump delivers inbound messages until ch closes, then handles the
// disconnect.
func (m *Manager) pump(ch runtime.Channel) {
	defer m.wg.Done()
	for {
		select {
		case msg := <-ch.Messages():
			ctx := runtime.WithSender(m.ctx, "background")
			resp := message.Dispatch(ctx, m.opts.Handler, msg)
			if err := resp.Err(); err != nil {
				m.log.WithError(err).WithField("type", msg.Type()).Debug("inbound message not handled")
			}
		case <-ch.Done():
			m.dropChannel(ch)
			return
		case <-m.ctx.Done():
			return
		}
	}
}

// dropChannel moves to DISCONNECTED if ch is still the current channel and
// schedules one retry. Validity is left to the retry's probe; a closed
// channel alone does not mean the runtime is gone.
func (m *Manager) dropChannel(ch runtime.Channel) {
	m.mu.Lock()
	if m.ch != ch {
		m.mu.Unlock()
		return
	}
	m.ch = nil
	m.state = Disconnected
	m.mu.Unlock()

	ch.Close()
	m.log.WithField("channel", ch.ID()).Debug("disconnected")
	m.scheduleRetry()
}

func (m *Manager) setDisconnected(valid bool) {
	m.mu.Lock()
	m.state = Disconnected
	m.valid = valid
	m.mu.Unlock()
}

// scheduleRetry arms the single pending retry timer if none is armed.
func (m *Manager) scheduleRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retry != nil || m.ctx.Err() != nil {
		return
	}
	m.retry = time.AfterFunc(m.opts.ReconnectDelay, func() {
		m.mu.Lock()
		m.retry = nil
		m.mu.Unlock()
		_ = m.Connect(m.ctx)
	})
}

// liveness re-connects once the runtime answers again after the context
// was marked invalid, even if no retry is pending.
func (m *Manager) liveness() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
		}
		if m.Valid() {
			continue
		}
		if m.Probe(m.ctx) {
			m.log.Debug("runtime reachable again")
			_ = m.Connect(m.ctx)
		}
	}
}

// Send posts m over the channel when connected, otherwise over the ambient
// one-shot path. A failed channel send drops the channel and schedules a
// retry.
func (m *Manager) Send(ctx context.Context, msg message.Message) error {
	m.mu.Lock()
	ch := m.ch
	m.mu.Unlock()

	if ch != nil {
		err := ch.Send(ctx, msg)
		if err == nil {
			return nil
		}
		m.dropChannel(ch)
		return err
	}

	_, err := m.Request(ctx, msg)
	return err
}

// Request sends m on the one-shot path and returns the response. A
// transient failure marks the context invalid and schedules a connect.
func (m *Manager) Request(ctx context.Context, msg message.Message) (message.Response, error) {
	resp, err := m.rt.SendMessage(ctx, msg)
	if err != nil {
		if errors.Transient(err) {
			m.MarkInvalid()
			m.scheduleRetry()
		}
		return message.Response{}, err
	}
	return resp, nil
}

// Close stops all retries and the liveness probe and closes the channel.
func (m *Manager) Close() error {
	m.cancel()

	m.mu.Lock()
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	ch := m.ch
	m.ch = nil
	m.state = Disconnected
	m.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	m.wg.Wait()
	return nil
}
