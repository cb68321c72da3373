// Package broadcast fans background events out to every live channel.
package broadcast

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/smartcopy-pro/smartcopy/internal/errors"
	"github.com/smartcopy-pro/smartcopy/internal/message"
	"github.com/smartcopy-pro/smartcopy/internal/runtime"
)

// Notifier delivers one-shot notifications to listeners that do not hold a
// channel. runtime.Hub implements it.
type Notifier interface {
	Notify(ctx context.Context, m message.Message) error
}

// Coordinator tracks the live channels on the background side.
//
// A failed send is taken as proof the channel is dead: it is evicted and
// never retried. The owning context's link manager reconnects with a fresh
// channel. There is no replay; a context that connects after a broadcast
// re-reads the store instead.
type Coordinator struct {
	notifier Notifier
	handler  message.Handler
	log      logrus.FieldLogger

	mu       sync.Mutex
	channels map[string]runtime.Channel
}

// New creates a Coordinator. notifier and handler may be nil. Messages a
// context sends over its channel are dispatched to handler.
func New(notifier Notifier, handler message.Handler, log logrus.FieldLogger) *Coordinator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Coordinator{
		notifier: notifier,
		handler:  handler,
		log:      log.WithField("component", "broadcast"),
		channels: make(map[string]runtime.Channel),
	}
}

// Add registers ch until it closes or a send to it fails.
func (c *Coordinator) Add(ch runtime.Channel) {
	c.mu.Lock()
	c.channels[ch.ID()] = ch
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"channel": ch.ID(), "name": ch.Name()}).Debug("channel added")
	go c.serve(ch)
}

// serve dispatches inbound messages and removes ch once it is done.
func (c *Coordinator) serve(ch runtime.Channel) {
	ctx := runtime.WithSender(context.Background(), ch.Name())
	for {
		select {
		case msg := <-ch.Messages():
			if c.handler == nil {
				continue
			}
			resp := message.Dispatch(ctx, c.handler, msg)
			if err := resp.Err(); err != nil {
				c.log.WithError(err).WithField("type", msg.Type()).Warn("channel message failed")
			}
		case <-ch.Done():
			c.Remove(ch.ID())
			return
		}
	}
}

// Remove drops the channel with id and closes it.
func (c *Coordinator) Remove(id string) {
	c.mu.Lock()
	ch, ok := c.channels[id]
	delete(c.channels, id)
	c.mu.Unlock()

	if ok {
		ch.Close()
		c.log.WithField("channel", id).Debug("channel removed")
	}
}

// Live returns the IDs of every live channel, sorted.
func (c *Coordinator) Live() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.channels))
	for id := range c.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Broadcast sends m once to every channel live right now and evicts the
// ones that fail. It then makes one best-effort notification to one-shot
// listeners; having none is normal. Returns the number of channels
// that accepted m.
func (c *Coordinator) Broadcast(ctx context.Context, m message.Message) int {
	c.mu.Lock()
	snapshot := make([]runtime.Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		snapshot = append(snapshot, ch)
	}
	c.mu.Unlock()

	delivered := 0
	var dead []string
	for _, ch := range snapshot {
		if err := ch.Send(ctx, m); err != nil {
			c.log.WithError(err).WithField("channel", ch.ID()).Debug("evicting channel after failed send")
			dead = append(dead, ch.ID())
			continue
		}
		delivered++
	}
	for _, id := range dead {
		c.Remove(id)
	}

	if c.notifier != nil {
		if err := c.notifier.Notify(ctx, m); err != nil {
			c.log.WithError(err).Debug("no one-shot listener")
		}
	}
	return delivered
}

// SendTo sends m to the first live channel named name. A failed send
// evicts the channel. With no such channel it fails with UNREACHABLE.
func (c *Coordinator) SendTo(ctx context.Context, name string, m message.Message) error {
	c.mu.Lock()
	var target runtime.Channel
	for _, ch := range c.channels {
		if ch.Name() == name {
			target = ch
			break
		}
	}
	c.mu.Unlock()

	if target == nil {
		return errors.NewUnreachable(nil)
	}
	if err := target.Send(ctx, m); err != nil {
		c.Remove(target.ID())
		return err
	}
	return nil
}
