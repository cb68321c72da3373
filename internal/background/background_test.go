package background

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smartcopy-pro/smartcopy/internal/db"
	"github.com/smartcopy-pro/smartcopy/internal/errors"
	"github.com/smartcopy-pro/smartcopy/internal/message"
	"github.com/smartcopy-pro/smartcopy/internal/runtime"
	"github.com/smartcopy-pro/smartcopy/internal/settings"
)

// fakeInjector attaches a fresh pipe for the tab, the way re-injecting a
// content context opens a new channel.
type fakeInjector struct {
	hub *runtime.Hub
	err error

	mu       sync.Mutex
	injected []string
	clients  []runtime.Channel
}

func (f *fakeInjector) Inject(ctx context.Context, tab string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.injected = append(f.injected, tab)
	if f.err != nil {
		return f.err
	}
	ch, err := f.hub.Connect(ctx, tab)
	if err != nil {
		return err
	}
	f.clients = append(f.clients, ch)
	return nil
}

func newTestService(t *testing.T, injector Injector) (*Service, *settings.Store, *runtime.Hub) {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	store, err := settings.NewStore(context.Background(), database, nil)
	require.NoError(t, err)
	hub := runtime.NewHub(nil)
	if f, ok := injector.(*fakeInjector); ok {
		f.hub = hub
	}
	svc := New(store, hub, injector, nil)
	t.Cleanup(svc.Close)
	return svc, store, hub
}

// receive waits for the next message on ch.
func receive(t *testing.T, ch runtime.Channel) message.Message {
	t.Helper()
	select {
	case m := <-ch.Messages():
		return m
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestGetStateAndToggleState(t *testing.T) {
	ctx := context.Background()
	svc, _, hub := newTestService(t, nil)

	resp, err := hub.SendMessage(ctx, message.GetState{})
	require.NoError(t, err)
	require.True(t, *resp.IsEnabled)

	resp, err = hub.SendMessage(ctx, message.ToggleState{})
	require.NoError(t, err)
	require.False(t, *resp.IsEnabled)

	next, err := svc.Command(ctx, settings.CommandToggleExtension)
	require.NoError(t, err)
	require.True(t, next)
}

func TestUnknownMessage(t *testing.T) {
	_, _, hub := newTestService(t, nil)

	resp, err := hub.SendMessage(context.Background(), message.Unknown{Name: "reloadEverything"})
	require.NoError(t, err)
	require.Equal(t, "Unknown message type", resp.Error)
	require.Equal(t, errors.ErrUnknownMessage, resp.Code)
}

func TestHistoryChangeBroadcastOnce(t *testing.T) {
	ctx := context.Background()
	_, store, hub := newTestService(t, nil)

	ch, err := hub.Connect(ctx, "tab-1")
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, store.Write(ctx, settings.HistoryPatch([]settings.Entry{{Text: "x"}})))
	require.Equal(t, message.HistoryUpdate{}, receive(t, ch))

	// The writer's historyUpdate finds nothing new and is not rebroadcast.
	require.NoError(t, ch.Send(ctx, message.HistoryUpdate{}))
	select {
	case m := <-ch.Messages():
		t.Fatalf("unexpected second broadcast: %v", m.Type())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEnabledChangeBroadcastsToggleExtension(t *testing.T) {
	ctx := context.Background()
	svc, _, hub := newTestService(t, nil)

	ch, err := hub.Connect(ctx, "tab-1")
	require.NoError(t, err)
	defer ch.Close()

	_, err = svc.Command(ctx, settings.CommandToggleExtension)
	require.NoError(t, err)
	require.Equal(t, message.ToggleExtension{}, receive(t, ch))
}

func TestCopyText_RecordsAndConfirms(t *testing.T) {
	ctx := context.Background()
	_, store, hub := newTestService(t, nil)

	ch, err := hub.Connect(ctx, "tab-2")
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Send(ctx, message.CopyText{Text: "from the page"}))

	// historyUpdate from the store change and copySuccess to the sender
	got := map[message.Type]bool{}
	got[receive(t, ch).Type()] = true
	got[receive(t, ch).Type()] = true
	require.True(t, got[message.TypeHistoryUpdate])
	require.True(t, got[message.TypeCopySuccess])

	r, err := store.Read(ctx)
	require.NoError(t, err)
	require.Len(t, r.History, 1)
	require.Equal(t, "from the page", r.History[0].Text)
}

func TestCopyText_EmptyText(t *testing.T) {
	_, _, hub := newTestService(t, nil)

	resp, err := hub.SendMessage(context.Background(), message.CopyText{})
	require.NoError(t, err)
	require.Equal(t, errors.ErrInvalidRequest, resp.Code)
}

func TestOnTabUpdated(t *testing.T) {
	ctx := context.Background()
	svc, _, hub := newTestService(t, nil)

	ch, err := hub.Connect(ctx, "tab-3")
	require.NoError(t, err)
	defer ch.Close()

	// Still loading, then a non-web page: nothing sent.
	svc.OnTabUpdated(ctx, Tab{Name: "tab-3", URL: "https://example.com", Status: "loading"})
	svc.OnTabUpdated(ctx, Tab{Name: "tab-3", URL: "file:///tmp/x", Status: "complete"})
	svc.OnTabUpdated(ctx, Tab{Name: "tab-3", URL: "https://example.com", Status: "complete"})

	require.Equal(t, message.TabUpdated{}, receive(t, ch))
	select {
	case m := <-ch.Messages():
		t.Fatalf("unexpected message: %v", m.Type())
	case <-time.After(50 * time.Millisecond):
	}

	// No content context for the tab: ignored.
	svc.OnTabUpdated(ctx, Tab{Name: "tab-missing", URL: "https://example.com", Status: "complete"})
}

func TestOnActionClicked(t *testing.T) {
	ctx := context.Background()
	tab := Tab{Name: "tab-4", URL: "https://example.com"}

	t.Run("connected tab", func(t *testing.T) {
		inj := &fakeInjector{}
		svc, _, hub := newTestService(t, inj)
		ch, err := hub.Connect(ctx, tab.Name)
		require.NoError(t, err)
		defer ch.Close()

		require.True(t, svc.OnActionClicked(ctx, tab))
		require.Equal(t, message.ToggleExtension{}, receive(t, ch))
		require.Empty(t, inj.injected)
	})

	t.Run("injects then retries once", func(t *testing.T) {
		inj := &fakeInjector{}
		svc, _, _ := newTestService(t, inj)

		require.True(t, svc.OnActionClicked(ctx, tab))
		require.Equal(t, []string{tab.Name}, inj.injected)
		require.Equal(t, message.ToggleExtension{}, receive(t, inj.clients[0]))
	})

	t.Run("injection fails", func(t *testing.T) {
		inj := &fakeInjector{err: stderrors.New("tab closed")}
		svc, _, _ := newTestService(t, inj)

		require.False(t, svc.OnActionClicked(ctx, tab))
		require.Len(t, inj.injected, 1)
	})

	t.Run("no injector", func(t *testing.T) {
		svc, _, _ := newTestService(t, nil)
		require.False(t, svc.OnActionClicked(ctx, tab))
	})

	t.Run("restricted page", func(t *testing.T) {
		inj := &fakeInjector{}
		svc, _, _ := newTestService(t, inj)
		require.False(t, svc.OnActionClicked(ctx, Tab{Name: "tab-5", URL: "chrome://settings"}))
		require.Empty(t, inj.injected)
	})
}

func TestInstall(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t, nil)

	require.NoError(t, svc.Install(ctx))
	n, err := store.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, settings.Defaults(), n)
}
