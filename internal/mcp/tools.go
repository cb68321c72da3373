package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/smartcopy-pro/smartcopy/internal/settings"
)

var settingsGetToolDef = mcp.NewTool("settings_get",
	mcp.WithDescription("Read the Smart Copy settings: the four toggles, AI sub-settings, translation language and history size."),
)

var settingsSetToolDef = mcp.NewTool("settings_set",
	mcp.WithDescription("Write one or more settings. Omitted fields are left unchanged. History cannot be written here."),
	mcp.WithBoolean(settings.KeyEnabled, mcp.Description("Master switch")),
	mcp.WithBoolean(settings.KeyPrivacyFilter, mcp.Description("Block copies that look like sensitive data")),
	mcp.WithBoolean(settings.KeyAutoPaste, mcp.Description("Paste into the focused field after copying")),
	mcp.WithBoolean(settings.KeyAIFeatures, mcp.Description("Run enabled AI features on each copy")),
	mcp.WithString(settings.KeyLanguage, mcp.Description("Translation target language code, e.g. \"es\"")),
	mcp.WithObject(settings.KeyAISettings,
		mcp.Description("AI sub-toggles; all three are written together"),
		mcp.Properties(map[string]any{
			"summarize": map[string]any{"type": "boolean"},
			"translate": map[string]any{"type": "boolean"},
			"sentiment": map[string]any{"type": "boolean"},
		}),
	),
)

var settingsToggleToolDef = mcp.NewTool("settings_toggle",
	mcp.WithDescription("Run a keyboard-shortcut command. Flips exactly one toggle and returns its new value."),
	mcp.WithString("command",
		mcp.Required(),
		mcp.Description("Command to run"),
		mcp.Enum(commandNames()...),
	),
)

var historyListToolDef = mcp.NewTool("history_list",
	mcp.WithDescription("List copy history, newest first."),
	mcp.WithNumber("limit", mcp.Description("Maximum entries to return (default: all, at most 50 are kept)")),
)

var historyClearToolDef = mcp.NewTool("history_clear",
	mcp.WithDescription("Delete every history entry."),
)

func commandNames() []string {
	names := make([]string, 0, len(settings.Commands))
	for _, c := range settings.Commands {
		names = append(names, string(c))
	}
	return names
}
