package settings

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartcopy-pro/smartcopy/internal/db"
	"github.com/smartcopy-pro/smartcopy/internal/errors"
)

// Store is the SQLite-backed settings record with change notification.
//
// Every process opening the same database shares one record. A write in any
// process reaches subscribers in every process: local writes are diffed
// immediately, foreign writes are picked up by Watch through data_version.
// There is no transaction around read-modify-write sequences; concurrent
// writers are last-write-wins per field.
type Store struct {
	db  *sql.DB
	log logrus.FieldLogger

	// mu serializes refreshes from diff through delivery, so each
	// transition is reported once and subscribers see deltas in the order
	// the snapshots were taken.
	mu   sync.Mutex
	last map[string]json.RawMessage

	subsMu sync.RWMutex
	subs   map[int]func(Delta)
	nextID int
}

// NewStore creates a Store and takes the initial snapshot.
func NewStore(ctx context.Context, database *sql.DB, log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Store{
		db:   database,
		log:  log.WithField("component", "settings"),
		subs: make(map[int]func(Delta)),
	}
	snapshot, err := db.GetValues(ctx, database, nil)
	if err != nil {
		return nil, err
	}
	s.last = snapshot
	return s, nil
}

// Read returns the record with stored values for keys and defaults for
// everything else. With no keys, every field is read. A stored value that
// fails to decode is treated as absent.
func (s *Store) Read(ctx context.Context, keys ...string) (Record, error) {
	stored, err := db.GetValues(ctx, s.db, keys)
	if err != nil {
		return Defaults(), err
	}
	return s.overlay(stored), nil
}

// overlay applies stored values onto the defaults one field at a time.
func (s *Store) overlay(stored map[string]json.RawMessage) Record {
	fields := defaultFields()
	record, _ := decodeRecord(fields)
	for key, value := range stored {
		if _, known := fields[key]; !known {
			continue
		}
		candidate := copyFields(fields)
		candidate[key] = value
		next, err := decodeRecord(candidate)
		if err != nil {
			s.log.WithError(err).WithField("key", key).Warn("ignoring undecodable stored value")
			continue
		}
		fields = candidate
		record = next
	}
	return record
}

// Write merges p into the persisted record. It returns after the write is
// committed; subscribers have been notified of the local change by then.
func (s *Store) Write(ctx context.Context, p Patch) error {
	values, err := p.fields()
	if err != nil {
		return errors.NewInternal(err)
	}
	if len(values) == 0 {
		return nil
	}
	if err := db.PutValues(ctx, s.db, values); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

// Install seeds the defaults on first run. Returns true if it wrote anything.
func (s *Store) Install(ctx context.Context) (bool, error) {
	n, err := db.CountKeys(ctx, s.db)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	d := Defaults()
	err = s.Write(ctx, Patch{
		Enabled:       &d.Enabled,
		PrivacyFilter: &d.PrivacyFilter,
		AutoPaste:     &d.AutoPaste,
		AIFeatures:    &d.AIFeatures,
		AISettings:    &d.AISettings,
		Language:      &d.Language,
	})
	if err != nil {
		return false, err
	}
	s.log.Info("installed default settings")
	return true, nil
}

// Reset deletes every stored value, returning the record to its defaults.
func (s *Store) Reset(ctx context.Context) error {
	if err := db.DeleteAll(ctx, s.db); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

// Subscribe registers fn for every change. The returned func unregisters it.
// fn runs on the refreshing goroutine with deliveries serialized; it must not
// write to the store.
func (s *Store) Subscribe(fn func(Delta)) func() {
	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

// Refresh re-reads the stored record and notifies subscribers of any
// difference from the previous snapshot.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Read under the lock: a snapshot taken before a concurrent refresh
	// must not be diffed after it.
	current, err := db.GetValues(ctx, s.db, nil)
	if err != nil {
		return err
	}
	delta := diff(s.last, current)
	s.last = current

	if len(delta) > 0 {
		s.notify(delta)
	}
	return nil
}

// Watch polls for commits from other connections or processes until ctx is
// done. It holds one dedicated connection that is never written through.
func (s *Store) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.NewInvalidRequest("watch interval must be positive")
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer conn.Close()

	version, err := db.DataVersion(ctx, conn)
	if err != nil {
		return err
	}
	// Catch commits that landed between NewStore and the first version read.
	if err := s.Refresh(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		v, err := db.DataVersion(ctx, conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.WithError(err).Warn("data_version check failed")
			continue
		}
		if v == version {
			continue
		}
		version = v
		if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Warn("refresh after foreign write failed")
		}
	}
}

func (s *Store) notify(delta Delta) {
	s.subsMu.RLock()
	fns := make([]func(Delta), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.RUnlock()

	for _, fn := range fns {
		fn(delta)
	}
}

// diff compares two stored snapshots by effective value: a missing key
// counts as its default.
func diff(prev, next map[string]json.RawMessage) Delta {
	defaults := defaultFields()
	delta := Delta{}
	for _, key := range AllKeys {
		oldValue := effective(prev, defaults, key)
		newValue := effective(next, defaults, key)
		if !jsonEqual(oldValue, newValue) {
			delta[key] = Change{OldValue: oldValue, NewValue: newValue}
		}
	}
	return delta
}

func effective(stored, defaults map[string]json.RawMessage, key string) json.RawMessage {
	if v, ok := stored[key]; ok {
		return v
	}
	return defaults[key]
}

func jsonEqual(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return false
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

func copyFields(in map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
