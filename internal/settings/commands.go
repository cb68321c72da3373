package settings

import (
	"context"

	"github.com/smartcopy-pro/smartcopy/internal/errors"
)

// Command is a keyboard-shortcut command. Each flips exactly one toggle.
type Command string

const (
	CommandToggleExtension Command = "toggle-extension"
	CommandTogglePrivacy   Command = "toggle-privacy"
	CommandToggleAutoPaste Command = "toggle-auto-paste"
	CommandToggleAI        Command = "toggle-ai"
)

// Commands lists every known command.
var Commands = []Command{
	CommandToggleExtension, CommandTogglePrivacy, CommandToggleAutoPaste, CommandToggleAI,
}

// Key returns the storage key the command flips, or "" for unknown commands.
func (c Command) Key() string {
	switch c {
	case CommandToggleExtension:
		return KeyEnabled
	case CommandTogglePrivacy:
		return KeyPrivacyFilter
	case CommandToggleAutoPaste:
		return KeyAutoPaste
	case CommandToggleAI:
		return KeyAIFeatures
	}
	return ""
}

// ReadWriter is the subset of Store the toggles need.
type ReadWriter interface {
	Read(ctx context.Context, keys ...string) (Record, error)
	Write(ctx context.Context, p Patch) error
}

// Toggle flips the field behind cmd and persists only that field.
// Returns the new value.
func Toggle(ctx context.Context, store ReadWriter, cmd Command) (bool, error) {
	key := cmd.Key()
	if key == "" {
		return false, errors.NewInvalidRequest("unknown command: " + string(cmd))
	}

	r, err := store.Read(ctx, key)
	if err != nil {
		return false, err
	}

	var next bool
	var p Patch
	switch key {
	case KeyEnabled:
		next = !r.Enabled
		p.Enabled = &next
	case KeyPrivacyFilter:
		next = !r.PrivacyFilter
		p.PrivacyFilter = &next
	case KeyAutoPaste:
		next = !r.AutoPaste
		p.AutoPaste = &next
	case KeyAIFeatures:
		next = !r.AIFeatures
		p.AIFeatures = &next
	}

	if err := store.Write(ctx, p); err != nil {
		return false, err
	}
	return next, nil
}
