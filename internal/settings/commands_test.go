package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// patchRecorder wraps a Store and keeps every patch written through it.
type patchRecorder struct {
	*Store
	patches []Patch
}

func (p *patchRecorder) Write(ctx context.Context, patch Patch) error {
	p.patches = append(p.patches, patch)
	return p.Store.Write(ctx, patch)
}

func TestToggle_PrivacyFlipsOnlyPrivacy(t *testing.T) {
	ctx := context.Background()
	rec := &patchRecorder{Store: newTestStore(t)}

	before, err := rec.Read(ctx)
	require.NoError(t, err)

	next, err := Toggle(ctx, rec, CommandTogglePrivacy)
	require.NoError(t, err)
	require.Equal(t, !before.PrivacyFilter, next)

	require.Len(t, rec.patches, 1)
	fields, err := rec.patches[0].fields()
	require.NoError(t, err)
	require.Len(t, fields, 1)
	require.Contains(t, fields, KeyPrivacyFilter)

	after, err := rec.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, !before.PrivacyFilter, after.PrivacyFilter)
	require.Equal(t, before.Enabled, after.Enabled)
	require.Equal(t, before.AutoPaste, after.AutoPaste)
	require.Equal(t, before.AIFeatures, after.AIFeatures)
}

func TestToggle_EachCommand(t *testing.T) {
	tests := []struct {
		cmd  Command
		get  func(Record) bool
		want bool
	}{
		{CommandToggleExtension, func(r Record) bool { return r.Enabled }, false},
		{CommandTogglePrivacy, func(r Record) bool { return r.PrivacyFilter }, false},
		{CommandToggleAutoPaste, func(r Record) bool { return r.AutoPaste }, true},
		{CommandToggleAI, func(r Record) bool { return r.AIFeatures }, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.cmd), func(t *testing.T) {
			ctx := context.Background()
			s := newTestStore(t)

			got, err := Toggle(ctx, s, tt.cmd)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)

			r, err := s.Read(ctx)
			require.NoError(t, err)
			require.Equal(t, tt.want, tt.get(r))

			// Toggling twice restores the original value
			got, err = Toggle(ctx, s, tt.cmd)
			require.NoError(t, err)
			require.Equal(t, !tt.want, got)
		})
	}
}

func TestToggle_UnknownCommand(t *testing.T) {
	s := newTestStore(t)

	_, err := Toggle(context.Background(), s, Command("toggle-everything"))
	require.Error(t, err)
}
