// Package settings is the persisted, process-wide settings record shared by
// every context: the background daemon, content contexts and the popup.
package settings

import (
	"encoding/json"
)

// Storage keys. These match the field names the extension persists.
const (
	KeyEnabled       = "enabled"
	KeyPrivacyFilter = "privacyFilter"
	KeyAutoPaste     = "autoPaste"
	KeyAIFeatures    = "aiFeatures"
	KeyAISettings    = "aiSettings"
	KeyLanguage      = "language"
	KeyHistory       = "history"
)

// AllKeys lists every field of the record.
var AllKeys = []string{
	KeyEnabled, KeyPrivacyFilter, KeyAutoPaste, KeyAIFeatures,
	KeyAISettings, KeyLanguage, KeyHistory,
}

// DefaultLanguage is the translation target used until the user picks one.
const DefaultLanguage = "es"

// AISettings holds the per-feature sub-toggles. They only matter while
// Record.AIFeatures is true.
type AISettings struct {
	Summarize bool `json:"summarize"`
	Translate bool `json:"translate"`
	Sentiment bool `json:"sentiment"`
}

// Entry is one captured copy. Source names the AI feature that produced
// the text and is empty for plain copies.
type Entry struct {
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Source    string `json:"source,omitempty"`
}

// Record is the full settings record.
type Record struct {
	Enabled       bool       `json:"enabled"`
	PrivacyFilter bool       `json:"privacyFilter"`
	AutoPaste     bool       `json:"autoPaste"`
	AIFeatures    bool       `json:"aiFeatures"`
	AISettings    AISettings `json:"aiSettings"`
	Language      string     `json:"language"`
	History       []Entry    `json:"history"`
}

// Defaults returns the record a fresh install starts with.
func Defaults() Record {
	return Record{
		Enabled:       true,
		PrivacyFilter: true,
		AutoPaste:     false,
		AIFeatures:    false,
		AISettings: AISettings{
			Summarize: true,
			Translate: true,
			Sentiment: true,
		},
		Language: DefaultLanguage,
		History:  []Entry{},
	}
}

// Patch is a partial record. Nil fields are left untouched by Write.
type Patch struct {
	Enabled       *bool       `json:"enabled,omitempty"`
	PrivacyFilter *bool       `json:"privacyFilter,omitempty"`
	AutoPaste     *bool       `json:"autoPaste,omitempty"`
	AIFeatures    *bool       `json:"aiFeatures,omitempty"`
	AISettings    *AISettings `json:"aiSettings,omitempty"`
	Language      *string     `json:"language,omitempty"`
	History       *[]Entry    `json:"history,omitempty"`
}

// Bool returns a pointer to b, for building patches.
func Bool(b bool) *bool { return &b }

// String returns a pointer to s, for building patches.
func String(s string) *string { return &s }

// HistoryPatch returns a patch that replaces the history field.
func HistoryPatch(entries []Entry) Patch {
	if entries == nil {
		entries = []Entry{}
	}
	return Patch{History: &entries}
}

// fields encodes the non-nil fields of p as raw JSON values keyed by storage key.
func (p Patch) fields() (map[string]json.RawMessage, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage)
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Change is the before/after value of one field.
type Change struct {
	OldValue json.RawMessage `json:"oldValue"`
	NewValue json.RawMessage `json:"newValue"`
}

// Delta maps storage keys to their change.
type Delta map[string]Change

// Has reports whether key changed.
func (d Delta) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// Apply writes every new value in d onto r. Values that fail to decode
// leave the field untouched.
func (d Delta) Apply(r *Record) {
	current, err := encodeRecord(*r)
	if err != nil {
		return
	}
	for key, change := range d {
		current[key] = change.NewValue
	}
	next, err := decodeRecord(current)
	if err != nil {
		return
	}
	*r = next
}

// defaultFields is Defaults() encoded by storage key.
func defaultFields() map[string]json.RawMessage {
	fields, err := encodeRecord(Defaults())
	if err != nil {
		panic(err)
	}
	return fields
}

func encodeRecord(r Record) (map[string]json.RawMessage, error) {
	if r.History == nil {
		r.History = []Entry{}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage)
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeRecord(fields map[string]json.RawMessage) (Record, error) {
	b, err := json.Marshal(fields)
	if err != nil {
		return Record{}, err
	}
	r := Record{}
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, err
	}
	if r.History == nil {
		r.History = []Entry{}
	}
	return r, nil
}
