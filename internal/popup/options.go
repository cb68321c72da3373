package popup

import (
	"context"

	"github.com/smartcopy-pro/smartcopy/internal/settings"
)

// Form is the options page: all four toggles saved together.
type Form struct {
	Enabled       bool `json:"enabled"`
	PrivacyFilter bool `json:"privacyFilter"`
	AutoPaste     bool `json:"autoPaste"`
	AIFeatures    bool `json:"aiFeatures"`
}

// LoadForm reads the options page values.
func LoadForm(ctx context.Context, store settings.ReadWriter) (Form, error) {
	r, err := store.Read(ctx, settings.KeyEnabled, settings.KeyPrivacyFilter, settings.KeyAutoPaste, settings.KeyAIFeatures)
	if err != nil {
		return Form{}, err
	}
	return Form{
		Enabled:       r.Enabled,
		PrivacyFilter: r.PrivacyFilter,
		AutoPaste:     r.AutoPaste,
		AIFeatures:    r.AIFeatures,
	}, nil
}

// SaveForm writes all four toggles in one write.
func SaveForm(ctx context.Context, store settings.ReadWriter, f Form) error {
	return store.Write(ctx, settings.Patch{
		Enabled:       &f.Enabled,
		PrivacyFilter: &f.PrivacyFilter,
		AutoPaste:     &f.AutoPaste,
		AIFeatures:    &f.AIFeatures,
	})
}
