package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smartcopy-pro/smartcopy/internal/errors"
	"github.com/smartcopy-pro/smartcopy/internal/message"
	"github.com/smartcopy-pro/smartcopy/internal/runtime"
)

type testHandler struct {
	message.Unhandled

	mu     sync.Mutex
	sender string
}

func (h *testHandler) GetState(ctx context.Context) (message.Response, error) {
	h.mu.Lock()
	h.sender = runtime.SenderFrom(ctx)
	h.mu.Unlock()
	return message.Enabled(true), nil
}

func newTestServer(t *testing.T) (*runtime.Hub, *testHandler, *httptest.Server) {
	t.Helper()
	hub := runtime.NewHub(nil)
	h := &testHandler{}
	hub.SetHandler(h)

	mux := http.NewServeMux()
	NewServer(hub, nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return hub, h, srv
}

func TestClient_ProbeAndSendMessage(t *testing.T) {
	ctx := context.Background()
	_, h, srv := newTestServer(t)
	c := NewClient(srv.URL, "tab-3", nil)

	require.NoError(t, c.Probe(ctx))

	resp, err := c.SendMessage(ctx, message.GetState{})
	require.NoError(t, err)
	require.True(t, *resp.IsEnabled)
	h.mu.Lock()
	require.Equal(t, "tab-3", h.sender)
	h.mu.Unlock()

	resp, err = c.SendMessage(ctx, message.Unknown{Name: "bogus"})
	require.NoError(t, err)
	require.Equal(t, "Unknown message type", resp.Error)
	require.Equal(t, errors.ErrUnknownMessage, resp.Code)
}

func TestClient_InvalidatedRuntime(t *testing.T) {
	ctx := context.Background()
	hub, _, srv := newTestServer(t)
	c := NewClient(srv.URL, "tab-3", nil)

	hub.Invalidate()

	err := c.Probe(ctx)
	require.True(t, errors.Is(err, errors.ErrContextInvalidated))

	_, err = c.SendMessage(ctx, message.GetState{})
	require.True(t, errors.Is(err, errors.ErrContextInvalidated))

	_, err = c.Connect(ctx, "tab-3")
	require.True(t, errors.Is(err, errors.ErrContextInvalidated))
}

func TestClient_Unreachable(t *testing.T) {
	_, _, srv := newTestServer(t)
	url := srv.URL
	srv.Close()

	c := NewClient(url, "tab-3", nil)
	err := c.Probe(context.Background())
	require.True(t, errors.Is(err, errors.ErrUnreachable))
	require.True(t, errors.Transient(err))
}

func TestClient_ChannelRoundTrip(t *testing.T) {
	ctx := context.Background()
	hub, _, srv := newTestServer(t)

	attached := make(chan runtime.Channel, 1)
	hub.OnConnect(func(ch runtime.Channel) { attached <- ch })

	c := NewClient(srv.URL, "tab-3", nil)
	client, err := c.Connect(ctx, "tab-3")
	require.NoError(t, err)
	defer client.Close()

	var background runtime.Channel
	select {
	case background = <-attached:
	case <-time.After(2 * time.Second):
		t.Fatal("channel never attached")
	}
	require.Equal(t, client.ID(), background.ID())
	require.Equal(t, "tab-3", background.Name())

	require.NoError(t, background.Send(ctx, message.HistoryUpdate{}))
	select {
	case m := <-client.Messages():
		require.Equal(t, message.HistoryUpdate{}, m)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered to client")
	}

	require.NoError(t, client.Send(ctx, message.CopyText{Text: "over the wire"}))
	select {
	case m := <-background.Messages():
		require.Equal(t, message.CopyText{Text: "over the wire"}, m)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered to background")
	}

	// Invalidating the runtime closes the client end too
	hub.Invalidate()
	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client channel not closed")
	}
	err = client.Send(ctx, message.HistoryUpdate{})
	require.True(t, errors.Is(err, errors.ErrChannelClosed))
}

func TestClient_Listen(t *testing.T) {
	ctx := context.Background()
	hub, _, srv := newTestServer(t)
	c := NewClient(srv.URL, "popup", nil)

	got := make(chan message.Message, 1)
	stop, err := c.Listen(ctx, func(m message.Message) { got <- m })
	require.NoError(t, err)
	defer stop()

	// The listener registers after the upgrade completes
	require.Eventually(t, func() bool {
		return hub.Notify(ctx, message.HistoryUpdate{}) == nil
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case m := <-got:
		require.Equal(t, message.HistoryUpdate{}, m)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not received")
	}
}

func TestServer_MalformedMessage(t *testing.T) {
	_, _, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/message", "application/json", http.NoBody)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	err = decodeError(resp)
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}
