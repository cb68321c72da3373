// Package transport carries the runtime between processes: one-shot
// messages over HTTP and channels over WebSocket.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/smartcopy-pro/smartcopy/internal/errors"
	"github.com/smartcopy-pro/smartcopy/internal/message"
)

const (
	writeTimeout = 5 * time.Second
	inboxSize    = 32
)

// wsChannel is a runtime.Channel over one WebSocket connection. Each
// WebSocket text message is one encoded message.
type wsChannel struct {
	id   string
	name string
	conn *websocket.Conn
	log  logrus.FieldLogger

	writeMu sync.Mutex
	in      chan message.Message
	once    sync.Once
	done    chan struct{}
}

func newWSChannel(id, name string, conn *websocket.Conn, log logrus.FieldLogger) *wsChannel {
	ch := &wsChannel{
		id:   id,
		name: name,
		conn: conn,
		log:  log.WithFields(logrus.Fields{"channel": id, "name": name}),
		in:   make(chan message.Message, inboxSize),
		done: make(chan struct{}),
	}
	go ch.readLoop()
	return ch
}

func (c *wsChannel) ID() string   { return c.id }
func (c *wsChannel) Name() string { return c.name }

func (c *wsChannel) readLoop() {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		m, err := message.Decode(data)
		if err != nil {
			c.log.WithError(err).Warn("dropping malformed frame")
			continue
		}
		select {
		case c.in <- m:
		case <-c.done:
			return
		}
	}
}

func (c *wsChannel) Send(ctx context.Context, m message.Message) error {
	select {
	case <-c.done:
		return errors.NewChannelClosed(c.id)
	default:
	}
	data, err := message.Encode(m)
	if err != nil {
		return errors.NewInternal(err)
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.Close()
		return &errors.Error{
			Code:    errors.ErrChannelClosed,
			Status:  410,
			Message: "channel write failed",
			Details: map[string]any{"channel_id": c.id},
			Cause:   err,
		}
	}
	return nil
}

func (c *wsChannel) Messages() <-chan message.Message { return c.in }
func (c *wsChannel) Done() <-chan struct{}            { return c.done }

func (c *wsChannel) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.conn.Close()
	})
	return nil
}
