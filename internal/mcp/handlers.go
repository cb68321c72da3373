package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/smartcopy-pro/smartcopy/internal/errors"
	"github.com/smartcopy-pro/smartcopy/internal/history"
	"github.com/smartcopy-pro/smartcopy/internal/settings"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	store   *settings.Store
	history *history.Buffer
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(store *settings.Store) *Handlers {
	return &Handlers{store: store, history: history.New(store)}
}

// SettingsSetRequest represents the arguments for settings_set.
type SettingsSetRequest struct {
	settings.Patch
}

// SettingsToggleRequest represents the arguments for settings_toggle.
type SettingsToggleRequest struct {
	Command string `json:"command"`
}

// HistoryListRequest represents the arguments for history_list.
type HistoryListRequest struct {
	Limit int `json:"limit,omitempty"`
}

// SettingsOutput is the settings record without the history entries.
type SettingsOutput struct {
	Enabled       bool                `json:"enabled"`
	PrivacyFilter bool                `json:"privacyFilter"`
	AutoPaste     bool                `json:"autoPaste"`
	AIFeatures    bool                `json:"aiFeatures"`
	AISettings    settings.AISettings `json:"aiSettings"`
	Language      string              `json:"language"`
	HistoryCount  int                 `json:"historyCount"`
}

// HistoryListOutput is the result of history_list.
type HistoryListOutput struct {
	Items []settings.Entry `json:"items"`
	Total int              `json:"total"`
}

// HandleSettingsGet handles the settings_get tool.
func (h *Handlers) HandleSettingsGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := h.readSettings(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleSettingsSet handles the settings_set tool.
func (h *Handlers) HandleSettingsSet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, ok := req.GetArguments()[settings.KeyHistory]; ok {
		return errorResult(errors.NewInvalidRequest("history cannot be set; use history_clear")), nil
	}
	in, err := decode[SettingsSetRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if in.Language != nil && *in.Language == "" {
		return errorResult(errors.NewInvalidRequest("language must not be empty")), nil
	}

	if err := h.store.Write(ctx, in.Patch); err != nil {
		return errorResult(err), nil
	}
	out, err := h.readSettings(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleSettingsToggle handles the settings_toggle tool.
func (h *Handlers) HandleSettingsToggle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	in, err := decode[SettingsToggleRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if in.Command == "" {
		return errorResult(errors.NewInvalidRequest("command is required")), nil
	}

	cmd := settings.Command(in.Command)
	value, err := settings.Toggle(ctx, h.store, cmd)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{
		"command": cmd,
		"key":     cmd.Key(),
		"value":   value,
	})
}

// HandleHistoryList handles the history_list tool.
func (h *Handlers) HandleHistoryList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	in, err := decode[HistoryListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if in.Limit < 0 {
		return errorResult(errors.NewInvalidRequest("limit must not be negative")), nil
	}

	all, err := h.history.List(ctx, 0)
	if err != nil {
		return errorResult(err), nil
	}
	items := all
	if in.Limit > 0 && in.Limit < len(all) {
		items = all[:in.Limit]
	}
	return successResult(HistoryListOutput{Items: items, Total: len(all)})
}

// HandleHistoryClear handles the history_clear tool.
func (h *Handlers) HandleHistoryClear(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	before, err := h.history.List(ctx, 0)
	if err != nil {
		return errorResult(err), nil
	}
	if err := h.history.Clear(ctx); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"cleared": len(before)})
}

func (h *Handlers) readSettings(ctx context.Context) (SettingsOutput, error) {
	r, err := h.store.Read(ctx)
	if err != nil {
		return SettingsOutput{}, err
	}
	return SettingsOutput{
		Enabled:       r.Enabled,
		PrivacyFilter: r.PrivacyFilter,
		AutoPaste:     r.AutoPaste,
		AIFeatures:    r.AIFeatures,
		AISettings:    r.AISettings,
		Language:      r.Language,
		HistoryCount:  len(r.History),
	}, nil
}

// errorResult creates an MCP error result from any error.
// Uses IsError: true to signal failure to MCP clients.
// Returns structured JSON with code, message, and status.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if sErr, ok := err.(*errors.Error); ok {
		errorObj := map[string]any{
			"code":    sErr.Code,
			"message": sErr.Message,
			"status":  sErr.Status,
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if sErr.Code != errors.ErrInternal && sErr.Details != nil {
			errorObj["details"] = sErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
