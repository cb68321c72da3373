// Package content is the per-page context: it turns text selections into
// clipboard copies and history entries, and keeps a link to the
// background.
package content

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smartcopy-pro/smartcopy/internal/ai"
	"github.com/smartcopy-pro/smartcopy/internal/errors"
	"github.com/smartcopy-pro/smartcopy/internal/history"
	"github.com/smartcopy-pro/smartcopy/internal/link"
	"github.com/smartcopy-pro/smartcopy/internal/message"
	"github.com/smartcopy-pro/smartcopy/internal/runtime"
)

// Clipboard is the system clipboard.
type Clipboard interface {
	Write(ctx context.Context, text string) error
}

// Paster pastes copied text into the focused field when auto-paste is on.
type Paster interface {
	Paste(ctx context.Context, text string) error
}

// Presenter is the page UI. It only receives events.
type Presenter interface {
	Copied(text string)
	Blocked(pattern string)
	Failed(err error)
	AIResult(feature ai.Feature, result string)
}

// SensitiveFilter reports the first sensitive pattern text matches.
type SensitiveFilter interface {
	Match(text string) (string, bool)
}

// Outcome is what happened to one selection.
type Outcome string

const (
	OutcomeCopied      Outcome = "copied"
	OutcomeDisabled    Outcome = "disabled"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeEmpty       Outcome = "empty"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeNotReadable Outcome = "not_readable"
	OutcomeBlocked     Outcome = "blocked"
	OutcomeFailed      Outcome = "failed"
)

// Options configures a Context. Store, Runtime, Filter and Clipboard are
// required.
type Options struct {
	// Name identifies the context to the background. Empty gets a
	// generated "content-<uuid>" name.
	Name string

	Store     Store
	Runtime   runtime.Runtime
	Filter    SensitiveFilter
	Clipboard Clipboard
	Presenter Presenter
	Paster    Paster
	AI        ai.Processor

	ReconnectDelay   time.Duration
	LivenessInterval time.Duration
	MaxAttempts      int

	Log logrus.FieldLogger
}

// Context is one content context.
type Context struct {
	message.Unhandled

	name    string
	opts    Options
	cfg     *Config
	link    *link.Manager
	monitor *Monitor
	history *history.Buffer
	log     logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	lastSelected string
}

// New loads the settings and builds the context. Call Start to connect.
func New(ctx context.Context, opts Options) (*Context, error) {
	if opts.Store == nil || opts.Runtime == nil || opts.Filter == nil || opts.Clipboard == nil {
		return nil, errors.NewInvalidRequest("content context requires store, runtime, filter and clipboard")
	}
	if opts.Name == "" {
		opts.Name = "content-" + uuid.NewString()
	}
	if opts.Presenter == nil {
		opts.Presenter = nopPresenter{}
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("context", opts.Name)

	cfg, err := LoadConfig(ctx, opts.Store)
	if err != nil {
		return nil, err
	}

	c := &Context{
		name:    opts.Name,
		opts:    opts,
		cfg:     cfg,
		history: history.New(opts.Store),
		log:     log.WithField("component", "content"),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.link = link.New(opts.Runtime, link.Options{
		Name:             opts.Name,
		ReconnectDelay:   opts.ReconnectDelay,
		LivenessInterval: opts.LivenessInterval,
		MaxAttempts:      opts.MaxAttempts,
		Handler:          c,
		Log:              log,
	})
	c.monitor = NewMonitor(c.link, log)
	return c, nil
}

// Name returns the context name.
func (c *Context) Name() string { return c.name }

// Config returns the context's settings view.
func (c *Context) Config() *Config { return c.cfg }

// Link returns the link manager.
func (c *Context) Link() *link.Manager { return c.link }

// Monitor returns the validity monitor.
func (c *Context) Monitor() *Monitor { return c.monitor }

// Start connects to the background and starts the liveness probe.
func (c *Context) Start(ctx context.Context) {
	c.link.Start(ctx)
}

// Close cancels pending AI work, closes the link and stops following the
// store.
func (c *Context) Close() error {
	c.cancel()
	c.wg.Wait()
	err := c.link.Close()
	c.cfg.Close()
	return err
}

// Wait blocks until background AI work started by Select finishes.
func (c *Context) Wait() {
	c.wg.Wait()
}

// Select handles a text selection. A nil error does not mean the text was
// copied; the Outcome says what happened. Errors are returned only for
// failures the user is shown.
func (c *Context) Select(ctx context.Context, selected string) (Outcome, error) {
	cfg := c.cfg.Snapshot()
	if !cfg.Enabled {
		return OutcomeDisabled, nil
	}

	if r := c.monitor.Check(ctx); !r.Proceed() {
		c.log.WithField("readiness", r).Debug("selection skipped")
		return OutcomeSkipped, nil
	}

	text := strings.TrimSpace(selected)
	if text == "" {
		return OutcomeEmpty, nil
	}
	c.mu.Lock()
	if text == c.lastSelected {
		c.mu.Unlock()
		return OutcomeDuplicate, nil
	}
	c.lastSelected = text
	c.mu.Unlock()

	if !HumanReadable(text) {
		return OutcomeNotReadable, nil
	}

	if cfg.PrivacyFilter {
		if pattern, found := c.opts.Filter.Match(text); found {
			c.log.WithField("pattern", pattern).Info("copy blocked by privacy filter")
			c.opts.Presenter.Blocked(pattern)
			return OutcomeBlocked, errors.NewSensitiveData()
		}
	}

	if err := c.copy(ctx, text, ""); err != nil {
		return OutcomeFailed, err
	}

	if cfg.AutoPaste && c.opts.Paster != nil {
		if err := c.opts.Paster.Paste(ctx, text); err != nil {
			c.log.WithError(err).Warn("auto-paste failed")
		}
	}

	if cfg.AIFeatures && c.opts.AI != nil {
		for _, feature := range enabledFeatures(cfg.AISettings.Summarize, cfg.AISettings.Translate, cfg.AISettings.Sentiment) {
			c.wg.Add(1)
			go func(feature ai.Feature) {
				defer c.wg.Done()
				_, _ = c.RunAI(c.ctx, feature, text)
			}(feature)
		}
	}
	return OutcomeCopied, nil
}

// copy writes text to the clipboard, records it and announces the history
// change.
func (c *Context) copy(ctx context.Context, text, source string) error {
	if err := c.opts.Clipboard.Write(ctx, text); err != nil {
		if errors.Transient(err) {
			c.link.MarkInvalid()
			_ = c.link.Connect(ctx)
		}
		err = errors.NewClipboardFailure(err)
		c.opts.Presenter.Failed(err)
		return err
	}

	if _, err := c.history.Record(ctx, text, source); err != nil {
		c.log.WithError(err).Warn("history append failed")
	} else if err := c.link.Send(ctx, message.HistoryUpdate{}); err != nil {
		c.log.WithError(err).Debug("historyUpdate not delivered")
	}

	c.opts.Presenter.Copied(text)
	return nil
}

// RunAI sends text through one AI feature and copies the result as a
// history entry tagged with the feature. Backend failures are shown once
// and not retried.
func (c *Context) RunAI(ctx context.Context, feature ai.Feature, text string) (string, error) {
	if c.opts.AI == nil {
		return "", errors.NewBackendFailure(string(feature), 0, nil)
	}
	language := c.cfg.Snapshot().Language
	result, err := c.opts.AI.Process(ctx, feature, text, language)
	if err != nil {
		c.log.WithError(err).WithField("feature", feature).Warn("ai feature failed")
		c.opts.Presenter.Failed(err)
		return "", err
	}
	c.opts.Presenter.AIResult(feature, result)
	if err := c.copy(ctx, result, string(feature)); err != nil {
		return "", err
	}
	return result, nil
}

func enabledFeatures(summarize, translate, sentiment bool) []ai.Feature {
	var out []ai.Feature
	if summarize {
		out = append(out, ai.Summarize)
	}
	if translate {
		out = append(out, ai.Translate)
	}
	if sentiment {
		out = append(out, ai.Sentiment)
	}
	return out
}

// ToggleExtension answers with the current enabled flag.
func (c *Context) ToggleExtension(context.Context) (message.Response, error) {
	return message.Enabled(c.cfg.Snapshot().Enabled), nil
}

// TabUpdated forgets the last selection after a page load.
func (c *Context) TabUpdated(context.Context) (message.Response, error) {
	c.mu.Lock()
	c.lastSelected = ""
	c.mu.Unlock()
	return message.Succeeded(true), nil
}

func (c *Context) HistoryUpdate(context.Context) (message.Response, error) {
	return message.Succeeded(true), nil
}

func (c *Context) CopySuccess(context.Context) (message.Response, error) {
	c.log.Debug("background confirmed copy")
	return message.Response{}, nil
}

type nopPresenter struct{}

func (nopPresenter) Copied(string)               {}
func (nopPresenter) Blocked(string)              {}
func (nopPresenter) Failed(error)                {}
func (nopPresenter) AIResult(ai.Feature, string) {}
