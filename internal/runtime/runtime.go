// Package runtime is the abstraction a client context uses to reach the
// background context, plus the background-side Hub that serves it.
package runtime

import (
	"context"

	"github.com/smartcopy-pro/smartcopy/internal/message"
)

// Runtime is a client context's handle on the background.
//
// Implementations classify every failure as a structured error kind
// (CONTEXT_INVALIDATED, UNREACHABLE, CHANNEL_CLOSED) so callers never
// look at error text.
type Runtime interface {
	// Probe is a cheap reachability check.
	Probe(ctx context.Context) error

	// Connect opens a fresh duplex channel named name.
	Connect(ctx context.Context, name string) (Channel, error)

	// SendMessage is the ambient one-shot request/response path.
	SendMessage(ctx context.Context, m message.Message) (message.Response, error)
}

// Listener receives one-shot notifications that are not sent over a
// channel, the way a popup listens for runtime messages.
type Listener interface {
	Listen(ctx context.Context, fn func(message.Message)) (func(), error)
}

// Channel is one end of a duplex link between a client context and the
// background. A closed channel is never reopened.
type Channel interface {
	ID() string
	Name() string

	// Send delivers m to the other end. It fails with CHANNEL_CLOSED once
	// either side has closed.
	Send(ctx context.Context, m message.Message) error

	// Messages yields what the other end sent. It is never closed; select
	// on Done as well.
	Messages() <-chan message.Message

	// Done is closed when either end closes.
	Done() <-chan struct{}

	Close() error
}

type senderKey struct{}

// WithSender records the name of the channel or context a message came from.
func WithSender(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, senderKey{}, name)
}

// SenderFrom returns the name stored by WithSender, or "".
func SenderFrom(ctx context.Context) string {
	name, _ := ctx.Value(senderKey{}).(string)
	return name
}
