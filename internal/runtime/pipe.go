package runtime

import (
	"context"
	"sync"

	"github.com/smartcopy-pro/smartcopy/internal/errors"
	"github.com/smartcopy-pro/smartcopy/internal/message"
)

const pipeBuffer = 32

// pipe is the shared state of an in-process channel pair.
type pipe struct {
	id   string
	name string

	once sync.Once
	done chan struct{}
}

func (p *pipe) close() {
	p.once.Do(func() { close(p.done) })
}

// pipeEnd is one side of a pipe.
type pipeEnd struct {
	*pipe
	in   chan message.Message
	peer *pipeEnd
}

// Pipe returns the two connected ends of a new in-process channel.
func Pipe(id, name string) (Channel, Channel) {
	p := &pipe{id: id, name: name, done: make(chan struct{})}
	a := &pipeEnd{pipe: p, in: make(chan message.Message, pipeBuffer)}
	b := &pipeEnd{pipe: p, in: make(chan message.Message, pipeBuffer)}
	a.peer, b.peer = b, a
	return a, b
}

func (e *pipeEnd) ID() string   { return e.id }
func (e *pipeEnd) Name() string { return e.name }

func (e *pipeEnd) Send(ctx context.Context, m message.Message) error {
	select {
	case <-e.done:
		return errors.NewChannelClosed(e.id)
	default:
	}
	select {
	case e.peer.in <- m:
		return nil
	case <-e.done:
		return errors.NewChannelClosed(e.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *pipeEnd) Messages() <-chan message.Message { return e.in }
func (e *pipeEnd) Done() <-chan struct{}            { return e.done }

func (e *pipeEnd) Close() error {
	e.close()
	return nil
}
