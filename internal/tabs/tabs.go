// Package tabs hosts the content contexts of the pages the daemon knows
// about. It is the background's injector: a tab whose context is gone gets
// a fresh one.
package tabs

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/smartcopy-pro/smartcopy/internal/ai"
	"github.com/smartcopy-pro/smartcopy/internal/config"
	"github.com/smartcopy-pro/smartcopy/internal/content"
	"github.com/smartcopy-pro/smartcopy/internal/errors"
	"github.com/smartcopy-pro/smartcopy/internal/runtime"
)

// Options configures a Pool. Store, Runtime and Filter are required.
type Options struct {
	Store     content.Store
	Runtime   runtime.Runtime
	Filter    content.SensitiveFilter
	Clipboard *Clipboard
	AI        ai.Processor
	Config    *config.Config
	Log       logrus.FieldLogger
}

// Pool owns one content context per tab name.
type Pool struct {
	opts Options
	log  logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	tabs map[string]*content.Context
}

// NewPool creates an empty pool.
func NewPool(opts Options) *Pool {
	if opts.Clipboard == nil {
		opts.Clipboard = &Clipboard{}
	}
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		opts:   opts,
		log:    log.WithField("component", "tabs"),
		ctx:    ctx,
		cancel: cancel,
		tabs:   make(map[string]*content.Context),
	}
}

// Clipboard returns the clipboard shared by every tab.
func (p *Pool) Clipboard() *Clipboard { return p.opts.Clipboard }

// Inject replaces the tab's content context with a new, connected one.
func (p *Pool) Inject(ctx context.Context, name string) error {
	_, err := p.inject(ctx, name)
	return err
}

func (p *Pool) inject(ctx context.Context, name string) (*content.Context, error) {
	if name == "" {
		return nil, errors.NewInvalidRequest("tab name is required")
	}
	if err := p.ctx.Err(); err != nil {
		return nil, errors.NewContextInvalidated(err)
	}

	c, err := content.New(ctx, content.Options{
		Name:             name,
		Store:            p.opts.Store,
		Runtime:          p.opts.Runtime,
		Filter:           p.opts.Filter,
		Clipboard:        p.opts.Clipboard,
		Presenter:        logPresenter{log: p.log.WithField("tab", name)},
		AI:               p.opts.AI,
		ReconnectDelay:   p.opts.Config.ReconnectDelay(),
		LivenessInterval: p.opts.Config.LivenessInterval(),
		MaxAttempts:      p.opts.Config.MaxReconnectAttempts,
		Log:              p.log,
	})
	if err != nil {
		return nil, err
	}
	c.Start(p.ctx)

	p.mu.Lock()
	old := p.tabs[name]
	p.tabs[name] = c
	p.mu.Unlock()

	if old != nil {
		old.Close()
	}
	p.log.WithField("tab", name).Debug("content context injected")
	return c, nil
}

// Get returns the tab's content context.
func (p *Pool) Get(name string) (*content.Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.tabs[name]
	return c, ok
}

// Select runs a selection on the tab, injecting its context first if the
// tab has none.
func (p *Pool) Select(ctx context.Context, name, text string) (content.Outcome, error) {
	c, ok := p.Get(name)
	if !ok {
		var err error
		if c, err = p.inject(ctx, name); err != nil {
			return content.OutcomeFailed, err
		}
	}
	return c.Select(ctx, text)
}

// Remove closes the tab's content context.
func (p *Pool) Remove(name string) {
	p.mu.Lock()
	c, ok := p.tabs[name]
	delete(p.tabs, name)
	p.mu.Unlock()
	if ok {
		c.Close()
	}
}

// Names returns the open tabs, sorted.
func (p *Pool) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.tabs))
	for name := range p.tabs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every tab.
func (p *Pool) Close() {
	p.cancel()
	p.mu.Lock()
	tabs := p.tabs
	p.tabs = make(map[string]*content.Context)
	p.mu.Unlock()
	for _, c := range tabs {
		c.Close()
	}
}

// Clipboard is the daemon's clipboard: the last text any tab copied.
type Clipboard struct {
	mu     sync.Mutex
	text   string
	writes int
}

func (c *Clipboard) Write(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.text = text
	c.writes++
	c.mu.Unlock()
	return nil
}

// Read returns the clipboard text and how many writes it has seen.
func (c *Clipboard) Read() (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text, c.writes
}

// logPresenter shows page feedback as log lines.
type logPresenter struct {
	log logrus.FieldLogger
}

func (p logPresenter) Copied(text string) {
	p.log.WithField("chars", len(text)).Info("copied")
}

func (p logPresenter) Blocked(pattern string) {
	p.log.WithField("pattern", pattern).Info("copy blocked: sensitive data")
}

func (p logPresenter) Failed(err error) {
	p.log.WithError(err).Warn("copy failed")
}

func (p logPresenter) AIResult(feature ai.Feature, result string) {
	p.log.WithFields(logrus.Fields{"feature": feature, "chars": len(result)}).Info("ai result ready")
}
