package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smartcopy-pro/smartcopy/internal/errors"
	"github.com/smartcopy-pro/smartcopy/internal/message"
	"github.com/smartcopy-pro/smartcopy/internal/runtime"
)

// fakeChannel records sends and can be told to fail them.
type fakeChannel struct {
	id, name string
	fail     bool

	mu    sync.Mutex
	sent  []message.Message
	calls int

	in   chan message.Message
	once sync.Once
	done chan struct{}
}

func newFakeChannel(id string, fail bool) *fakeChannel {
	return &fakeChannel{
		id:   id,
		name: "tab-" + id,
		fail: fail,
		in:   make(chan message.Message),
		done: make(chan struct{}),
	}
}

func (f *fakeChannel) ID() string   { return f.id }
func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(ctx context.Context, m message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return errors.NewChannelClosed(f.id)
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeChannel) Messages() <-chan message.Message { return f.in }
func (f *fakeChannel) Done() <-chan struct{}            { return f.done }

func (f *fakeChannel) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeChannel) stats() (sent, calls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent), f.calls
}

type fakeNotifier struct {
	mu    sync.Mutex
	count int
	err   error
}

func (n *fakeNotifier) Notify(ctx context.Context, m message.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
	return n.err
}

func TestBroadcast_EvictsFailedChannel(t *testing.T) {
	ctx := context.Background()
	c := New(nil, nil, nil)

	a := newFakeChannel("A", false)
	b := newFakeChannel("B", true)
	c.Add(a)
	c.Add(b)
	require.Equal(t, []string{"A", "B"}, c.Live())

	require.Equal(t, 1, c.Broadcast(ctx, message.HistoryUpdate{}))
	require.Equal(t, []string{"A"}, c.Live())

	require.Equal(t, 1, c.Broadcast(ctx, message.HistoryUpdate{}))

	aSent, _ := a.stats()
	_, bCalls := b.stats()
	require.Equal(t, 2, aSent)
	require.Equal(t, 1, bCalls, "evicted channel is never retried")

	select {
	case <-b.Done():
	default:
		t.Fatal("evicted channel was not closed")
	}
}

func TestBroadcast_NotifiesOneShotListeners(t *testing.T) {
	n := &fakeNotifier{err: errors.NewUnreachable(nil)}
	c := New(n, nil, nil)

	// No channels and no listener is not an error
	require.Equal(t, 0, c.Broadcast(context.Background(), message.HistoryUpdate{}))
	require.Equal(t, 1, n.count)
}

func TestCoordinator_RemovesClosedChannel(t *testing.T) {
	c := New(nil, nil, nil)
	a := newFakeChannel("A", false)
	c.Add(a)

	a.Close()
	require.Eventually(t, func() bool { return len(c.Live()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestSendTo(t *testing.T) {
	ctx := context.Background()
	c := New(nil, nil, nil)
	a := newFakeChannel("A", false)
	b := newFakeChannel("B", true)
	c.Add(a)
	c.Add(b)

	require.NoError(t, c.SendTo(ctx, "tab-A", message.ToggleExtension{}))
	sent, _ := a.stats()
	require.Equal(t, 1, sent)

	err := c.SendTo(ctx, "tab-B", message.ToggleExtension{})
	require.True(t, errors.Is(err, errors.ErrChannelClosed))
	require.Equal(t, []string{"A"}, c.Live())

	err = c.SendTo(ctx, "tab-Z", message.ToggleExtension{})
	require.True(t, errors.Is(err, errors.ErrUnreachable))
}

type copyHandler struct {
	message.Unhandled
	mu     sync.Mutex
	sender string
	text   string
}

func (h *copyHandler) CopyText(ctx context.Context, m message.CopyText) (message.Response, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sender = runtime.SenderFrom(ctx)
	h.text = m.Text
	return message.Succeeded(true), nil
}

func TestCoordinator_DispatchesInboundWithSender(t *testing.T) {
	h := &copyHandler{}
	c := New(nil, h, nil)

	client, background := runtime.Pipe("id-1", "tab-9")
	c.Add(background)

	require.NoError(t, client.Send(context.Background(), message.CopyText{Text: "hello"}))
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.text == "hello"
	}, time.Second, 5*time.Millisecond)
	h.mu.Lock()
	require.Equal(t, "tab-9", h.sender)
	h.mu.Unlock()
}
