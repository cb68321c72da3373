// Package background is the long-lived background context: it answers
// one-shot messages, runs keyboard commands, and keeps every connected
// context informed of changes through the broadcast coordinator.
package background

import (
	"context"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/smartcopy-pro/smartcopy/internal/broadcast"
	"github.com/smartcopy-pro/smartcopy/internal/errors"
	"github.com/smartcopy-pro/smartcopy/internal/history"
	"github.com/smartcopy-pro/smartcopy/internal/message"
	"github.com/smartcopy-pro/smartcopy/internal/runtime"
	"github.com/smartcopy-pro/smartcopy/internal/settings"
)

// Injector re-creates the content context of a tab whose channel is gone,
// the way an extension re-injects its content script.
type Injector interface {
	Inject(ctx context.Context, tab string) error
}

// Tab describes a page as the background sees it. Name is the name its
// content context connects with.
type Tab struct {
	Name   string
	URL    string
	Status string
}

// Service is the background message handler.
type Service struct {
	message.Unhandled

	store    *settings.Store
	history  *history.Buffer
	coord    *broadcast.Coordinator
	injector Injector
	log      logrus.FieldLogger

	unsubscribe func()
}

// New wires a Service onto hub: one-shot messages go to the Service and new
// channels join the coordinator.
func New(store *settings.Store, hub *runtime.Hub, injector Injector, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Service{
		store:    store,
		history:  history.New(store),
		injector: injector,
		log:      log.WithField("component", "background"),
	}
	s.coord = broadcast.New(hub, s, log)
	hub.SetHandler(s)
	hub.OnConnect(s.coord.Add)
	s.unsubscribe = store.Subscribe(s.onChange)
	return s
}

// Coordinator returns the broadcast coordinator.
func (s *Service) Coordinator() *broadcast.Coordinator { return s.coord }

// Close stops listening for store changes.
func (s *Service) Close() {
	s.unsubscribe()
}

// onChange turns store deltas into broadcasts. Every history transition is
// announced exactly once, whichever context or process wrote it.
func (s *Service) onChange(d settings.Delta) {
	ctx := context.Background()
	if d.Has(settings.KeyHistory) {
		n := s.coord.Broadcast(ctx, message.HistoryUpdate{})
		s.log.WithField("delivered", n).Debug("history update broadcast")
	}
	if d.Has(settings.KeyEnabled) {
		s.coord.Broadcast(ctx, message.ToggleExtension{})
	}
}

// Install seeds default settings on first run.
func (s *Service) Install(ctx context.Context) error {
	_, err := s.store.Install(ctx)
	return err
}

// Command runs a keyboard-shortcut command.
func (s *Service) Command(ctx context.Context, cmd settings.Command) (bool, error) {
	next, err := settings.Toggle(ctx, s.store, cmd)
	if err != nil {
		return false, err
	}
	s.log.WithFields(logrus.Fields{"command": cmd, "value": next}).Info("command applied")
	return next, nil
}

func (s *Service) GetState(ctx context.Context) (message.Response, error) {
	r, err := s.store.Read(ctx, settings.KeyEnabled)
	if err != nil {
		return message.Response{}, err
	}
	return message.Enabled(r.Enabled), nil
}

func (s *Service) ToggleState(ctx context.Context) (message.Response, error) {
	next, err := settings.Toggle(ctx, s.store, settings.CommandToggleExtension)
	if err != nil {
		return message.Response{}, err
	}
	return message.Enabled(next), nil
}

// HistoryUpdate is sent by a context that just wrote the history. The
// store is re-read so the change is broadcast now rather than on the next
// watch tick; an already-seen change is not broadcast twice.
func (s *Service) HistoryUpdate(ctx context.Context) (message.Response, error) {
	if err := s.store.Refresh(ctx); err != nil {
		return message.Response{}, err
	}
	return message.Succeeded(true), nil
}

// CopyText records text for the sending context and confirms with
// copySuccess. Failing to reach the sender is logged, not returned.
func (s *Service) CopyText(ctx context.Context, m message.CopyText) (message.Response, error) {
	if m.Text == "" {
		return message.Response{}, errors.NewInvalidRequest("text is required")
	}
	if _, err := s.history.Record(ctx, m.Text, ""); err != nil {
		return message.Response{}, err
	}

	if sender := runtime.SenderFrom(ctx); sender != "" {
		if err := s.coord.SendTo(ctx, sender, message.CopySuccess{}); err != nil {
			s.log.WithError(err).WithField("tab", sender).Info("could not notify content context")
		}
	}
	return message.Succeeded(true), nil
}

// OnTabUpdated tells a tab's content context its page finished loading.
// Errors are ignored; the tab may have no content context.
func (s *Service) OnTabUpdated(ctx context.Context, tab Tab) {
	if tab.Status != "complete" || !isWebURL(tab.URL) {
		return
	}
	if err := s.coord.SendTo(ctx, tab.Name, message.TabUpdated{}); err != nil {
		s.log.WithError(err).WithField("tab", tab.Name).Debug("tabUpdated not delivered")
	}
}

// OnActionClicked handles the toolbar button: toggleExtension goes to the
// tab, and if that fails the content context is injected and the message
// sent once more. Returns whether the tab got the message.
func (s *Service) OnActionClicked(ctx context.Context, tab Tab) bool {
	if !isWebURL(tab.URL) {
		return false
	}
	if err := s.coord.SendTo(ctx, tab.Name, message.ToggleExtension{}); err == nil {
		return true
	}
	if s.injector == nil {
		return false
	}
	if err := s.injector.Inject(ctx, tab.Name); err != nil {
		s.log.WithError(err).WithField("tab", tab.Name).Debug("content injection failed")
		return false
	}
	if err := s.coord.SendTo(ctx, tab.Name, message.ToggleExtension{}); err != nil {
		s.log.WithError(err).WithField("tab", tab.Name).Debug("toggleExtension failed after injection")
		return false
	}
	return true
}

func isWebURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
