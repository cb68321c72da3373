package runtime

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/smartcopy-pro/smartcopy/internal/errors"
	"github.com/smartcopy-pro/smartcopy/internal/message"
)

// Hub is the background side of the runtime. It answers one-shot messages
// with a Handler, hands newly attached channels to the connect callback,
// and fans one-shot notifications out to listeners.
//
// Invalidate simulates the extension being reloaded underneath its
// clients: every attached channel closes and every call fails with
// CONTEXT_INVALIDATED until Restore.
type Hub struct {
	log logrus.FieldLogger

	mu        sync.RWMutex
	handler   message.Handler
	onConnect func(Channel)
	channels  map[string]Channel
	invalid   bool

	listenMu  sync.RWMutex
	listeners map[int]func(message.Message)
	nextID    int
}

// NewHub creates a Hub with no handler. Calls fail with UNREACHABLE until
// SetHandler is called.
func NewHub(log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		log:       log.WithField("component", "hub"),
		channels:  make(map[string]Channel),
		listeners: make(map[int]func(message.Message)),
	}
}

// SetHandler installs the background message handler.
func (h *Hub) SetHandler(handler message.Handler) {
	h.mu.Lock()
	h.handler = handler
	h.mu.Unlock()
}

// OnConnect installs the callback that receives the background end of
// every new channel.
func (h *Hub) OnConnect(fn func(Channel)) {
	h.mu.Lock()
	h.onConnect = fn
	h.mu.Unlock()
}

// Probe reports whether the background is reachable.
func (h *Hub) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.availableLocked()
}

func (h *Hub) availableLocked() error {
	if h.invalid {
		return errors.NewContextInvalidated(nil)
	}
	if h.handler == nil {
		return errors.NewUnreachable(nil)
	}
	return nil
}

// Handle answers a one-shot message.
func (h *Hub) Handle(ctx context.Context, m message.Message) (message.Response, error) {
	h.mu.RLock()
	handler := h.handler
	err := h.availableLocked()
	h.mu.RUnlock()
	if err != nil {
		return message.Response{}, err
	}
	return message.Dispatch(ctx, handler, m), nil
}

// Attach registers the background end of a channel and passes it to the
// connect callback. The channel is dropped from the hub once it closes.
func (h *Hub) Attach(ch Channel) error {
	h.mu.Lock()
	if err := h.availableLocked(); err != nil {
		h.mu.Unlock()
		return err
	}
	h.channels[ch.ID()] = ch
	onConnect := h.onConnect
	h.mu.Unlock()

	go func() {
		<-ch.Done()
		h.mu.Lock()
		delete(h.channels, ch.ID())
		h.mu.Unlock()
	}()

	h.log.WithFields(logrus.Fields{"channel": ch.ID(), "name": ch.Name()}).Debug("channel attached")
	if onConnect != nil {
		onConnect(ch)
	}
	return nil
}

// Connect opens an in-process channel. It is the Runtime side of Attach.
func (h *Hub) Connect(ctx context.Context, name string) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, background := Pipe(ulid.Make().String(), name)
	if err := h.Attach(background); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// SendMessage is the in-process one-shot path.
func (h *Hub) SendMessage(ctx context.Context, m message.Message) (message.Response, error) {
	if err := ctx.Err(); err != nil {
		return message.Response{}, err
	}
	return h.Handle(ctx, m)
}

// Listen registers fn for one-shot notifications.
func (h *Hub) Listen(ctx context.Context, fn func(message.Message)) (func(), error) {
	if err := h.Probe(ctx); err != nil {
		return nil, err
	}
	h.listenMu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	h.listenMu.Unlock()

	return func() {
		h.listenMu.Lock()
		delete(h.listeners, id)
		h.listenMu.Unlock()
	}, nil
}

// Notify delivers m to every listener. With no listener it fails with
// UNREACHABLE, the way a runtime message with no receiving end does.
func (h *Hub) Notify(ctx context.Context, m message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.listenMu.RLock()
	fns := make([]func(message.Message), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.listenMu.RUnlock()

	if len(fns) == 0 {
		return errors.NewUnreachable(nil)
	}
	for _, fn := range fns {
		fn(m)
	}
	return nil
}

// Invalidate closes every attached channel and fails all calls until Restore.
func (h *Hub) Invalidate() {
	h.mu.Lock()
	h.invalid = true
	channels := make([]Channel, 0, len(h.channels))
	for _, ch := range h.channels {
		channels = append(channels, ch)
	}
	h.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
	}
	h.log.Info("runtime invalidated")
}

// Restore makes the hub reachable again after Invalidate.
func (h *Hub) Restore() {
	h.mu.Lock()
	h.invalid = false
	h.mu.Unlock()
	h.log.Info("runtime restored")
}

// Channels returns the number of attached channels.
func (h *Hub) Channels() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}
