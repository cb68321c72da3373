package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartcopy-pro/smartcopy/internal/background"
	"github.com/smartcopy-pro/smartcopy/internal/config"
	"github.com/smartcopy-pro/smartcopy/internal/db"
	"github.com/smartcopy-pro/smartcopy/internal/history"
	"github.com/smartcopy-pro/smartcopy/internal/popup"
	"github.com/smartcopy-pro/smartcopy/internal/runtime"
	"github.com/smartcopy-pro/smartcopy/internal/settings"
	"github.com/smartcopy-pro/smartcopy/internal/transport"
)

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// runCLI runs the app with args and returns what it wrote to stdout.
func runCLI(t *testing.T, database *sql.DB, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	app := newCLIApp(database, cfg, quietLogger())

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := app.Run(append([]string{"smartcopy"}, args...))

	w.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	os.Stdout = oldStdout

	return buf.String(), err
}

func TestCLIToggle(t *testing.T) {
	database := setupTestDB(t)

	out, err := runCLI(t, database, nil, "toggle", "toggle-auto-paste")
	if err != nil {
		t.Fatalf("toggle failed: %v", err)
	}

	var result struct {
		Command string `json:"command"`
		Key     string `json:"key"`
		Value   bool   `json:"value"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if result.Key != settings.KeyAutoPaste || !result.Value {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestCLIToggle_Errors(t *testing.T) {
	database := setupTestDB(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"toggle", "toggle-everything"}, "INVALID_REQUEST"},
		{"missing command", []string{"toggle"}, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, database, nil, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want %s", err.Error(), tt.want)
			}
		})
	}
}

func TestCLIState(t *testing.T) {
	database := setupTestDB(t)
	store, err := settings.NewStore(context.Background(), database, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	buf := history.New(store)
	for i := 0; i < 12; i++ {
		if _, err := buf.Record(context.Background(), "entry", ""); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	out, err := runCLI(t, database, nil, "state")
	if err != nil {
		t.Fatalf("state failed: %v", err)
	}
	var state struct {
		Enabled bool             `json:"enabled"`
		History []settings.Entry `json:"history"`
	}
	if err := json.Unmarshal([]byte(out), &state); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if !state.Enabled {
		t.Error("expected enabled")
	}
	if len(state.History) != 10 {
		t.Errorf("history len = %d, want 10", len(state.History))
	}
}

func TestCLIHistory(t *testing.T) {
	database := setupTestDB(t)
	store, err := settings.NewStore(context.Background(), database, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	buf := history.New(store)
	for _, text := range []string{"a", "b", "c"} {
		if _, err := buf.Record(context.Background(), text, ""); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	out, err := runCLI(t, database, nil, "history", "list", "--limit=2")
	if err != nil {
		t.Fatalf("history list failed: %v", err)
	}
	var entries []settings.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if len(entries) != 2 || entries[0].Text != "c" {
		t.Errorf("unexpected entries: %+v", entries)
	}

	if _, err := runCLI(t, database, nil, "history", "clear"); err != nil {
		t.Fatalf("history clear failed: %v", err)
	}

	out, err = runCLI(t, database, nil, "history", "list")
	if err != nil {
		t.Fatalf("history list failed: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("expected empty list, got %s", out)
	}

	if _, err := runCLI(t, database, nil, "history", "list", "--limit=-1"); err == nil {
		t.Error("expected error for negative limit")
	}
}

func TestCLISettings(t *testing.T) {
	database := setupTestDB(t)

	out, err := runCLI(t, database, nil, "settings", "set", "--privacy-filter=false", "--language=de")
	if err != nil {
		t.Fatalf("settings set failed: %v", err)
	}
	var r settings.Record
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if r.PrivacyFilter || r.Language != "de" {
		t.Errorf("unexpected record: %+v", r)
	}
	if !r.Enabled {
		t.Error("enabled must be untouched")
	}

	out, err = runCLI(t, database, nil, "settings", "get")
	if err != nil {
		t.Fatalf("settings get failed: %v", err)
	}
	r = settings.Record{}
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if r.Language != "de" {
		t.Errorf("language = %q, want de", r.Language)
	}

	if _, err := runCLI(t, database, nil, "settings", "reset"); err != nil {
		t.Fatalf("settings reset failed: %v", err)
	}
	out, _ = runCLI(t, database, nil, "settings", "get")
	r = settings.Record{}
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if !r.PrivacyFilter || r.Language != settings.DefaultLanguage {
		t.Errorf("expected defaults after reset, got %+v", r)
	}

	if _, err := runCLI(t, database, nil, "settings", "set", "--language= "); err == nil {
		t.Error("expected error for empty language")
	}
}

func TestCLISelect(t *testing.T) {
	database := setupTestDB(t)

	// A daemon sharing the database, reachable over HTTP.
	store, err := settings.NewStore(context.Background(), database, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	hub := runtime.NewHub(quietLogger())
	svc := background.New(store, hub, nil, quietLogger())
	defer svc.Close()
	mux := http.NewServeMux()
	transport.NewServer(hub, quietLogger()).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out, err := runCLI(t, database, nil, "select", "--server="+srv.URL, "--tab=tab-1", "hello", "world")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	var result struct {
		Tab     string `json:"tab"`
		Outcome string `json:"outcome"`
		Copied  string `json:"copied"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if result.Outcome != "copied" || result.Copied != "hello world" || result.Tab != "tab-1" {
		t.Errorf("unexpected result: %+v", result)
	}

	r, err := store.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(r.History) != 1 || r.History[0].Text != "hello world" {
		t.Errorf("unexpected history: %+v", r.History)
	}
}

func TestCLISelect_Blocked(t *testing.T) {
	database := setupTestDB(t)

	hub := runtime.NewHub(quietLogger())
	store, err := settings.NewStore(context.Background(), database, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	svc := background.New(store, hub, nil, quietLogger())
	defer svc.Close()
	mux := http.NewServeMux()
	transport.NewServer(hub, quietLogger()).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err = runCLI(t, database, nil, "select", "--server="+srv.URL, "jane@example.com")
	if err == nil || !strings.Contains(err.Error(), "SENSITIVE_DATA") {
		t.Fatalf("expected SENSITIVE_DATA error, got %v", err)
	}
}

func TestCLISelect_RequiresText(t *testing.T) {
	database := setupTestDB(t)

	oldStdin := os.Stdin
	stdinR, stdinW, _ := os.Pipe()
	os.Stdin = stdinR
	stdinW.Close()
	defer func() { os.Stdin = oldStdin }()

	_, err := runCLI(t, database, nil, "select", "--server=http://127.0.0.1:1")
	if err == nil || !strings.Contains(err.Error(), "INVALID_REQUEST") {
		t.Fatalf("expected INVALID_REQUEST, got %v", err)
	}
}

func TestCLIPopup(t *testing.T) {
	database := setupTestDB(t)

	store, err := settings.NewStore(context.Background(), database, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	hub := runtime.NewHub(quietLogger())
	svc := background.New(store, hub, nil, quietLogger())
	defer svc.Close()
	mux := http.NewServeMux()
	transport.NewServer(hub, quietLogger()).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// Keep copying until the popup has re-rendered from a historyUpdate.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := history.New(store)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case <-time.After(20 * time.Millisecond):
			}
			_, _ = buf.Record(context.Background(), fmt.Sprintf("entry %d", i), "")
		}
	}()

	out, err := runCLI(t, database, nil, "popup", "--server="+srv.URL, "--count=2", "--for=5s")
	close(stop)
	wg.Wait()
	if err != nil {
		t.Fatalf("popup failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 renders, got %d\nOutput: %s", len(lines), out)
	}
	var last popup.State
	if err := json.Unmarshal([]byte(lines[1]), &last); err != nil {
		t.Fatalf("failed to parse render: %v\nOutput: %s", err, out)
	}
	if !last.Enabled || len(last.History) == 0 {
		t.Errorf("unexpected render: %+v", last)
	}
}

func TestCLIPopup_NegativeCount(t *testing.T) {
	database := setupTestDB(t)

	_, err := runCLI(t, database, nil, "popup", "--server=http://127.0.0.1:1", "--count=-1")
	if err == nil || !strings.Contains(err.Error(), "INVALID_REQUEST") {
		t.Fatalf("expected INVALID_REQUEST, got %v", err)
	}
}

func TestWithDefaultCommand(t *testing.T) {
	got := withDefaultCommand([]string{"smartcopy"})
	if len(got) != 2 || got[1] != "serve" {
		t.Errorf("expected serve to be added, got %v", got)
	}

	args := []string{"smartcopy", "state"}
	if got := withDefaultCommand(args); len(got) != 2 || got[1] != "state" {
		t.Errorf("expected args unchanged, got %v", got)
	}
}

// TestIsCLIMode tests the isCLIMode function.
func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{name: "no args", args: []string{"smartcopy"}, expected: false},
		{name: "serve command", args: []string{"smartcopy", "serve"}, expected: true},
		{name: "toggle command", args: []string{"smartcopy", "toggle"}, expected: true},
		{name: "mcp command", args: []string{"smartcopy", "mcp"}, expected: true},
		{name: "popup command", args: []string{"smartcopy", "popup"}, expected: true},
		{name: "help flag", args: []string{"smartcopy", "--help"}, expected: true},
		{name: "short version flag", args: []string{"smartcopy", "-v"}, expected: true},
		{name: "unknown arg defaults to MCP", args: []string{"smartcopy", "--unknown"}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			if result := isCLIMode(); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

// TestIsHelpOrVersion tests the isHelpOrVersion function.
func TestIsHelpOrVersion(t *testing.T) {
	tests := []struct {
		args     []string
		expected bool
	}{
		{[]string{"smartcopy"}, false},
		{[]string{"smartcopy", "help"}, true},
		{[]string{"smartcopy", "--version"}, true},
		{[]string{"smartcopy", "state"}, false},
	}

	for _, tt := range tests {
		oldArgs := os.Args
		os.Args = tt.args
		result := isHelpOrVersion()
		os.Args = oldArgs
		if result != tt.expected {
			t.Errorf("isHelpOrVersion(%v) = %v, want %v", tt.args, result, tt.expected)
		}
	}
}

func TestNewLogger(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LogLevel = "debug"
	cfg.LogFormat = "json"

	var buf bytes.Buffer
	log := newLogger(cfg, &buf)
	if log.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %v, want debug", log.GetLevel())
	}
	log.WithField("component", "test").Debug("hello")
	if !strings.Contains(buf.String(), `"component":"test"`) {
		t.Errorf("expected JSON log line, got %q", buf.String())
	}

	cfg.LogLevel = "loud"
	log = newLogger(cfg, io.Discard)
	if log.GetLevel() != logrus.InfoLevel {
		t.Errorf("level = %v, want info fallback", log.GetLevel())
	}
}

// feedStdin replaces os.Stdin with a pipe carrying input.
func feedStdin(t *testing.T, input string) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	os.Stdin = r
	go func(w *os.File) {
		_, _ = w.WriteString(input)
		w.Close()
	}(w)
}

func TestReadStdin_Limit(t *testing.T) {
	oldStdin := os.Stdin
	defer func() { os.Stdin = oldStdin }()

	feedStdin(t, "  0123456789  ")
	if _, err := readStdin(5); err == nil {
		t.Error("expected error for oversized stdin")
	}

	feedStdin(t, "  short  ")
	got, err := readStdin(100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "short" {
		t.Errorf("got %q, want short", got)
	}
}
