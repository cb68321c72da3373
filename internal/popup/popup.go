// Package popup is the short-lived settings and history panel.
package popup

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartcopy-pro/smartcopy/internal/errors"
	"github.com/smartcopy-pro/smartcopy/internal/history"
	"github.com/smartcopy-pro/smartcopy/internal/link"
	"github.com/smartcopy-pro/smartcopy/internal/message"
	"github.com/smartcopy-pro/smartcopy/internal/runtime"
	"github.com/smartcopy-pro/smartcopy/internal/settings"
)

// HistoryLimit is how many entries the panel shows.
const HistoryLimit = 10

// Name is the channel name the popup connects with.
const Name = "popup"

// Store is what the popup needs from the settings store.
type Store interface {
	settings.ReadWriter
	Subscribe(fn func(settings.Delta)) func()
}

// State is everything the panel shows.
type State struct {
	Enabled       bool             `json:"enabled"`
	PrivacyFilter bool             `json:"privacyFilter"`
	AutoPaste     bool             `json:"autoPaste"`
	AIFeatures    bool             `json:"aiFeatures"`
	History       []settings.Entry `json:"history"`
}

// TogglesDisabled reports whether the secondary toggles are greyed out.
func (s State) TogglesDisabled() bool {
	return !s.Enabled
}

// View renders the panel.
type View interface {
	Render(State)
}

// Popup is one open panel. It re-renders on setting changes and on
// historyUpdate, whether that arrives on its channel or as a one-shot
// notification.
type Popup struct {
	message.Unhandled

	store    Store
	listener runtime.Listener
	view     View
	history  *history.Buffer
	link     *link.Manager
	log      logrus.FieldLogger

	mu          sync.Mutex
	stopListen  func()
	unsubscribe func()
}

// Options tunes the popup's link.
type Options struct {
	ReconnectDelay   time.Duration
	LivenessInterval time.Duration
	Log              logrus.FieldLogger
}

// New creates a closed popup. listener may be nil.
func New(store Store, rt runtime.Runtime, listener runtime.Listener, view View, opts Options) *Popup {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	p := &Popup{
		store:    store,
		listener: listener,
		view:     view,
		history:  history.New(store),
		log:      log.WithField("component", "popup"),
	}
	p.link = link.New(rt, link.Options{
		Name:             Name,
		ReconnectDelay:   opts.ReconnectDelay,
		LivenessInterval: opts.LivenessInterval,
		Handler:          p,
		Log:              log,
	})
	return p
}

// Open renders the current state, connects, and starts listening.
func (p *Popup) Open(ctx context.Context) error {
	p.mu.Lock()
	p.unsubscribe = p.store.Subscribe(p.onChange)
	p.mu.Unlock()

	if err := p.Refresh(ctx); err != nil {
		return err
	}

	p.link.Start(ctx)

	if p.listener != nil {
		stop, err := p.listener.Listen(ctx, p.onNotify)
		if err != nil {
			p.log.WithError(err).Debug("one-shot listener unavailable")
		} else {
			p.mu.Lock()
			p.stopListen = stop
			p.mu.Unlock()
		}
	}
	return nil
}

// Close tears the popup down, which also closes its channel.
func (p *Popup) Close() error {
	p.mu.Lock()
	stop, unsubscribe := p.stopListen, p.unsubscribe
	p.stopListen, p.unsubscribe = nil, nil
	p.mu.Unlock()

	if stop != nil {
		stop()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	return p.link.Close()
}

// Load reads the panel state.
func (p *Popup) Load(ctx context.Context) (State, error) {
	return LoadState(ctx, p.store)
}

// LoadState reads the panel state from store.
func LoadState(ctx context.Context, store settings.ReadWriter) (State, error) {
	r, err := store.Read(ctx)
	if err != nil {
		return State{}, err
	}
	entries := r.History
	if len(entries) > HistoryLimit {
		entries = entries[:HistoryLimit]
	}
	return State{
		Enabled:       r.Enabled,
		PrivacyFilter: r.PrivacyFilter,
		AutoPaste:     r.AutoPaste,
		AIFeatures:    r.AIFeatures,
		History:       entries,
	}, nil
}

// Refresh re-reads and re-renders.
func (p *Popup) Refresh(ctx context.Context) error {
	state, err := p.Load(ctx)
	if err != nil {
		return err
	}
	p.view.Render(state)
	return nil
}

// SetToggle writes one toggle. key is one of the four boolean keys.
func (p *Popup) SetToggle(ctx context.Context, key string, value bool) error {
	return SetToggle(ctx, p.store, key, value)
}

// SetToggle writes one of the four boolean toggles to store.
func SetToggle(ctx context.Context, store settings.ReadWriter, key string, value bool) error {
	var patch settings.Patch
	switch key {
	case settings.KeyEnabled:
		patch.Enabled = &value
	case settings.KeyPrivacyFilter:
		patch.PrivacyFilter = &value
	case settings.KeyAutoPaste:
		patch.AutoPaste = &value
	case settings.KeyAIFeatures:
		patch.AIFeatures = &value
	default:
		return errors.NewInvalidRequest("unknown toggle: " + key)
	}
	return store.Write(ctx, patch)
}

// ClearHistory empties the history and re-renders.
func (p *Popup) ClearHistory(ctx context.Context) error {
	if err := p.history.Clear(ctx); err != nil {
		return err
	}
	return p.Refresh(ctx)
}

func (p *Popup) HistoryUpdate(ctx context.Context) (message.Response, error) {
	if err := p.Refresh(ctx); err != nil {
		return message.Response{}, err
	}
	return message.Succeeded(true), nil
}

func (p *Popup) ToggleExtension(ctx context.Context) (message.Response, error) {
	state, err := p.Load(ctx)
	if err != nil {
		return message.Response{}, err
	}
	p.view.Render(state)
	return message.Enabled(state.Enabled), nil
}

func (p *Popup) onNotify(m message.Message) {
	resp := message.Dispatch(context.Background(), p, m)
	if err := resp.Err(); err != nil {
		p.log.WithError(err).WithField("type", m.Type()).Debug("notification ignored")
	}
}

// onChange re-renders when a toggle changes. History changes arrive as
// historyUpdate messages.
func (p *Popup) onChange(d settings.Delta) {
	if !d.Has(settings.KeyEnabled) && !d.Has(settings.KeyPrivacyFilter) &&
		!d.Has(settings.KeyAutoPaste) && !d.Has(settings.KeyAIFeatures) {
		return
	}
	if err := p.Refresh(context.Background()); err != nil {
		p.log.WithError(err).Warn("refresh after settings change failed")
	}
}
