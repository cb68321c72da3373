package web

import (
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/smartcopy-pro/smartcopy/internal/background"
	"github.com/smartcopy-pro/smartcopy/internal/config"
	"github.com/smartcopy-pro/smartcopy/internal/errors"
	"github.com/smartcopy-pro/smartcopy/internal/history"
	"github.com/smartcopy-pro/smartcopy/internal/popup"
	"github.com/smartcopy-pro/smartcopy/internal/settings"
	"github.com/smartcopy-pro/smartcopy/internal/tabs"
)

// Handlers contains HTTP route handlers for the pages and tab events.
type Handlers struct {
	store    *settings.Store
	svc      *background.Service
	tabs     *tabs.Pool
	cfg      *config.Config
	renderer *Renderer
	log      logrus.FieldLogger
}

// HandlePopup handles GET /popup: toggles plus the newest history entries.
func (h *Handlers) HandlePopup(w http.ResponseWriter, r *http.Request) {
	state, err := popup.LoadState(r.Context(), h.store)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, state)
		return
	}

	var open []string
	if h.tabs != nil {
		open = h.tabs.Names()
	}
	h.renderer.renderPage(w, r, "popup", PopupPageData{
		PageData: PageData{
			Title:   "Smart Copy Pro",
			Version: h.renderer.version,
			Nav:     "popup",
		},
		State:        state,
		Entries:      entryViews(state.History),
		Tabs:         open,
		AIConfigured: h.cfg != nil && h.cfg.AIBaseURL != "",
	})
}

// HandleSetToggle handles POST /popup/toggles/{key}. The form value
// "value" is the new setting; without it the toggle flips.
func (h *Handlers) HandleSetToggle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}
	key := r.PathValue("key")

	var value bool
	if raw := r.FormValue("value"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest("value must be true or false"))
			return
		}
		value = v
	} else {
		state, err := popup.LoadState(r.Context(), h.store)
		if err != nil {
			h.renderer.renderError(w, r, err)
			return
		}
		current, ok := toggleValue(state, key)
		if !ok {
			h.renderer.renderError(w, r, errors.NewInvalidRequest("unknown toggle: "+key))
			return
		}
		value = !current
	}

	if err := popup.SetToggle(r.Context(), h.store, key, value); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{"key": key, "value": value})
		return
	}
	http.Redirect(w, r, "/popup", http.StatusSeeOther)
}

// HandleClearHistory handles POST /popup/history/clear.
func (h *Handlers) HandleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := history.New(h.store).Clear(r.Context()); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{"cleared": true})
		return
	}
	http.Redirect(w, r, "/popup", http.StatusSeeOther)
}

// HandleOptions handles GET /options.
func (h *Handlers) HandleOptions(w http.ResponseWriter, r *http.Request) {
	form, err := popup.LoadForm(r.Context(), h.store)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.renderOptions(w, r, form, r.URL.Query().Get("saved") == "true")
}

// HandleSaveOptions handles POST /options. Unchecked boxes are absent from
// the form and save as false.
func (h *Handlers) HandleSaveOptions(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}
	form := popup.Form{
		Enabled:       parseBoolForm(r, settings.KeyEnabled),
		PrivacyFilter: parseBoolForm(r, settings.KeyPrivacyFilter),
		AutoPaste:     parseBoolForm(r, settings.KeyAutoPaste),
		AIFeatures:    parseBoolForm(r, settings.KeyAIFeatures),
	}
	if err := popup.SaveForm(r.Context(), h.store, form); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, form)
		return
	}
	http.Redirect(w, r, "/options?saved=true", http.StatusSeeOther)
}

func (h *Handlers) renderOptions(w http.ResponseWriter, r *http.Request, form popup.Form, saved bool) {
	h.renderer.renderPage(w, r, "options", OptionsPageData{
		PageData: PageData{
			Title:   "Options",
			Version: h.renderer.version,
			Nav:     "options",
		},
		Form:  form,
		Saved: saved,
	})
}

// HandleCommand handles POST /commands/{command}, the keyboard shortcuts.
func (h *Handlers) HandleCommand(w http.ResponseWriter, r *http.Request) {
	cmd := settings.Command(r.PathValue("command"))
	value, err := h.svc.Command(r.Context(), cmd)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"command": cmd, "value": value})
}

// HandleTabUpdated handles POST /tabs/{name}/updated with form fields url
// and status.
func (h *Handlers) HandleTabUpdated(w http.ResponseWriter, r *http.Request) {
	tab, err := parseTab(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.svc.OnTabUpdated(r.Context(), tab)
	w.WriteHeader(http.StatusNoContent)
}

// HandleAction handles POST /tabs/{name}/action, the toolbar button.
func (h *Handlers) HandleAction(w http.ResponseWriter, r *http.Request) {
	tab, err := parseTab(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	delivered := h.svc.OnActionClicked(r.Context(), tab)
	renderJSON(w, http.StatusOK, map[string]any{"tab": tab.Name, "delivered": delivered})
}

// HandleSelect handles POST /tabs/{name}/select: the form field text is run
// through the tab's content context as a selection.
func (h *Handlers) HandleSelect(w http.ResponseWriter, r *http.Request) {
	if h.tabs == nil {
		h.renderer.renderError(w, r, errors.NewUnreachable(nil))
		return
	}
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}
	name := r.PathValue("name")
	outcome, err := h.tabs.Select(r.Context(), name, r.FormValue("text"))
	if err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{"tab": name, "outcome": outcome}).Debug("selection failed")
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"tab": name, "outcome": outcome})
}

// HandleClipboard handles GET /clipboard.
func (h *Handlers) HandleClipboard(w http.ResponseWriter, r *http.Request) {
	if h.tabs == nil {
		renderJSON(w, http.StatusOK, map[string]any{"text": "", "writes": 0})
		return
	}
	text, writes := h.tabs.Clipboard().Read()
	renderJSON(w, http.StatusOK, map[string]any{"text": text, "writes": writes})
}

func parseTab(r *http.Request) (background.Tab, error) {
	if err := r.ParseForm(); err != nil {
		return background.Tab{}, errors.NewInvalidRequest("invalid form data")
	}
	name := r.PathValue("name")
	if name == "" {
		return background.Tab{}, errors.NewInvalidRequest("tab name is required")
	}
	return background.Tab{
		Name:   name,
		URL:    r.FormValue("url"),
		Status: r.FormValue("status"),
	}, nil
}

// parseBoolForm parses a checkbox form field.
func parseBoolForm(r *http.Request, name string) bool {
	s := r.FormValue(name)
	return s == "true" || s == "1" || s == "on"
}

func toggleValue(s popup.State, key string) (bool, bool) {
	switch key {
	case settings.KeyEnabled:
		return s.Enabled, true
	case settings.KeyPrivacyFilter:
		return s.PrivacyFilter, true
	case settings.KeyAutoPaste:
		return s.AutoPaste, true
	case settings.KeyAIFeatures:
		return s.AIFeatures, true
	}
	return false, false
}
