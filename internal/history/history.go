// Package history is the capped, most-recent-first list of captured copies
// kept in the settings record.
package history

import (
	"context"
	"time"

	"github.com/smartcopy-pro/smartcopy/internal/settings"
)

// Capacity is the most entries the history ever holds.
const Capacity = 50

// Entry is one captured copy.
type Entry = settings.Entry

// Buffer layers ring-buffer operations on the settings record.
//
// Append is a read-modify-write with no transaction around it. Two contexts
// appending at the same moment can each read the same history and the later
// write drops the other's entry. At most one entry is lost per race.
type Buffer struct {
	store settings.ReadWriter
	now   func() time.Time
}

// New returns a Buffer over store.
func New(store settings.ReadWriter) *Buffer {
	return &Buffer{store: store, now: time.Now}
}

// Append puts e at the front and drops whatever falls past Capacity.
func (b *Buffer) Append(ctx context.Context, e Entry) error {
	r, err := b.store.Read(ctx, settings.KeyHistory)
	if err != nil {
		return err
	}
	next := make([]Entry, 0, min(len(r.History)+1, Capacity))
	next = append(next, e)
	for _, old := range r.History {
		if len(next) == Capacity {
			break
		}
		next = append(next, old)
	}
	return b.store.Write(ctx, settings.HistoryPatch(next))
}

// Record appends text stamped with the current time. source names the AI
// feature that produced text and is empty for plain copies.
func (b *Buffer) Record(ctx context.Context, text, source string) (Entry, error) {
	e := Entry{
		Text:      text,
		Timestamp: b.now().UnixMilli(),
		Source:    source,
	}
	if err := b.Append(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Clear empties the history.
func (b *Buffer) Clear(ctx context.Context) error {
	return b.store.Write(ctx, settings.HistoryPatch(nil))
}

// List returns up to limit entries, newest first. limit <= 0 returns all.
func (b *Buffer) List(ctx context.Context, limit int) ([]Entry, error) {
	r, err := b.store.Read(ctx, settings.KeyHistory)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit >= len(r.History) {
		return r.History, nil
	}
	return r.History[:limit], nil
}
