package content

import (
	"context"
	"sync"

	"github.com/smartcopy-pro/smartcopy/internal/settings"
)

// Store is what a content context needs from the settings store.
type Store interface {
	settings.ReadWriter
	Subscribe(fn func(settings.Delta)) func()
}

// Config is a context's view of the settings record. It is loaded once and
// then kept current by the store subscription, so every reader in the
// context sees the same values.
type Config struct {
	mu  sync.RWMutex
	rec settings.Record

	unsubscribe func()
}

// LoadConfig reads the record and subscribes to its changes.
func LoadConfig(ctx context.Context, store Store) (*Config, error) {
	c := &Config{rec: settings.Defaults()}
	// Subscribe first so a write landing during the read is not missed.
	c.unsubscribe = store.Subscribe(c.apply)

	rec, err := store.Read(ctx)
	if err != nil {
		c.unsubscribe()
		return nil, err
	}
	c.mu.Lock()
	c.rec = rec
	c.mu.Unlock()
	return c, nil
}

func (c *Config) apply(d settings.Delta) {
	c.mu.Lock()
	d.Apply(&c.rec)
	c.mu.Unlock()
}

// Snapshot returns the current values.
func (c *Config) Snapshot() settings.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec := c.rec
	rec.History = append([]settings.Entry(nil), c.rec.History...)
	return rec
}

// Close stops following the store.
func (c *Config) Close() {
	c.unsubscribe()
}
