package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/smartcopy-pro/smartcopy/internal/ai"
	"github.com/smartcopy-pro/smartcopy/internal/background"
	"github.com/smartcopy-pro/smartcopy/internal/config"
	"github.com/smartcopy-pro/smartcopy/internal/content"
	"github.com/smartcopy-pro/smartcopy/internal/errors"
	"github.com/smartcopy-pro/smartcopy/internal/filter"
	"github.com/smartcopy-pro/smartcopy/internal/history"
	"github.com/smartcopy-pro/smartcopy/internal/popup"
	"github.com/smartcopy-pro/smartcopy/internal/runtime"
	"github.com/smartcopy-pro/smartcopy/internal/settings"
	"github.com/smartcopy-pro/smartcopy/internal/tabs"
	"github.com/smartcopy-pro/smartcopy/internal/transport"
	"github.com/smartcopy-pro/smartcopy/internal/web"
)

// maxStdinBytes caps how much selected text is read from stdin.
const maxStdinBytes = 1 << 20

// newCLIApp creates the CLI application with all commands.
func newCLIApp(db *sql.DB, cfg *config.Config, log logrus.FieldLogger) *cli.App {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	app := &cli.App{
		Name:    "smartcopy",
		Usage:   "Copy selections, keep a history, and sync settings across contexts",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(db, cfg, log),
			mcpCmd(db, log),
			stateCmd(db, log),
			toggleCmd(db, log),
			historyCmd(db, log),
			settingsCmd(db, log),
			selectCmd(db, cfg, log),
			popupCmd(db, cfg, log),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// openStore opens the settings store over db.
func openStore(ctx context.Context, db *sql.DB, log logrus.FieldLogger) (*settings.Store, error) {
	if db == nil {
		return nil, errors.NewInternal(fmt.Errorf("database not initialized"))
	}
	return settings.NewStore(ctx, db, log)
}

// aiProcessor returns the AI client, or nil when no backend is configured.
func aiProcessor(cfg *config.Config) ai.Processor {
	client := ai.NewClient(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AITimeout())
	if !client.Configured() {
		return nil
	}
	return client
}

// serveCmd creates the serve command: the background daemon.
func serveCmd(db *sql.DB, cfg *config.Config, log logrus.FieldLogger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the background daemon (runtime transport, popup and options pages)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Interface to listen on (default from config)"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Port to listen on (default from config)"},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			bind, port := cfg.Bind, cfg.Port
			if c.IsSet("bind") {
				bind = c.String("bind")
			}
			if c.IsSet("port") {
				port = c.Int("port")
			}

			store, err := openStore(ctx, db, log)
			if err != nil {
				return outputError(err)
			}
			if _, err := store.Install(ctx); err != nil {
				return outputError(err)
			}

			hub := runtime.NewHub(log)
			pool := tabs.NewPool(tabs.Options{
				Store:   store,
				Runtime: hub,
				Filter:  filter.New(cfg.ExtraSensitivePatterns, log),
				AI:      aiProcessor(cfg),
				Config:  cfg,
				Log:     log,
			})
			defer pool.Close()

			svc := background.New(store, hub, pool, log)
			defer svc.Close()

			go func() {
				if err := store.Watch(ctx, cfg.StoreWatchInterval()); err != nil {
					log.WithError(err).Error("settings watch stopped")
				}
			}()

			srv := web.NewServer(web.Deps{
				Store:      store,
				Background: svc,
				Tabs:       pool,
				Transport:  transport.NewServer(hub, log),
				Config:     cfg,
				Log:        log,
			}, Version, bind, port)

			if err := web.Run(ctx, srv, log); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(db *sql.DB, log logrus.FieldLogger) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve settings and history tools over MCP (stdio)",
		Action: func(c *cli.Context) error {
			if err := runMCP(db, log); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// stateCmd creates the state command.
func stateCmd(db *sql.DB, log logrus.FieldLogger) *cli.Command {
	return &cli.Command{
		Name:  "state",
		Usage: "Show the toggles and the newest history entries, as the popup does",
		Action: func(c *cli.Context) error {
			store, err := openStore(c.Context, db, log)
			if err != nil {
				return outputError(err)
			}
			state, err := popup.LoadState(c.Context, store)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(state)
		},
	}
}

// toggleCmd creates the toggle command.
func toggleCmd(db *sql.DB, log logrus.FieldLogger) *cli.Command {
	names := make([]string, 0, len(settings.Commands))
	for _, cmd := range settings.Commands {
		names = append(names, string(cmd))
	}
	return &cli.Command{
		Name:      "toggle",
		Usage:     "Run a keyboard-shortcut command",
		ArgsUsage: "<" + strings.Join(names, "|") + ">",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("exactly one command is required"))
			}
			store, err := openStore(c.Context, db, log)
			if err != nil {
				return outputError(err)
			}
			cmd := settings.Command(c.Args().First())
			value, err := settings.Toggle(c.Context, store, cmd)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"command": cmd, "key": cmd.Key(), "value": value})
		},
	}
}

// historyCmd creates the history command with its subcommands.
func historyCmd(db *sql.DB, log logrus.FieldLogger) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List or clear the copy history",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List entries, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum entries (0 = all)"},
				},
				Action: func(c *cli.Context) error {
					if c.Int("limit") < 0 {
						return outputError(errors.NewInvalidRequest("limit must not be negative"))
					}
					store, err := openStore(c.Context, db, log)
					if err != nil {
						return outputError(err)
					}
					entries, err := history.New(store).List(c.Context, c.Int("limit"))
					if err != nil {
						return outputError(err)
					}
					return outputJSON(entries)
				},
			},
			{
				Name:  "clear",
				Usage: "Delete every entry",
				Action: func(c *cli.Context) error {
					store, err := openStore(c.Context, db, log)
					if err != nil {
						return outputError(err)
					}
					if err := history.New(store).Clear(c.Context); err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]any{"cleared": true})
				},
			},
		},
	}
}

// settingsCmd creates the settings command with its subcommands.
func settingsCmd(db *sql.DB, log logrus.FieldLogger) *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Read, write or reset settings",
		Subcommands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Print the full settings record",
				Action: func(c *cli.Context) error {
					store, err := openStore(c.Context, db, log)
					if err != nil {
						return outputError(err)
					}
					r, err := store.Read(c.Context)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(r)
				},
			},
			{
				Name:  "set",
				Usage: "Write the given settings; others are left unchanged",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "enabled", Usage: "Master switch"},
					&cli.BoolFlag{Name: "privacy-filter", Usage: "Block sensitive-looking copies"},
					&cli.BoolFlag{Name: "auto-paste", Usage: "Paste after copying"},
					&cli.BoolFlag{Name: "ai-features", Usage: "Run AI features on copies"},
					&cli.StringFlag{Name: "language", Usage: "Translation target language"},
				},
				Action: func(c *cli.Context) error {
					var p settings.Patch
					if c.IsSet("enabled") {
						p.Enabled = settings.Bool(c.Bool("enabled"))
					}
					if c.IsSet("privacy-filter") {
						p.PrivacyFilter = settings.Bool(c.Bool("privacy-filter"))
					}
					if c.IsSet("auto-paste") {
						p.AutoPaste = settings.Bool(c.Bool("auto-paste"))
					}
					if c.IsSet("ai-features") {
						p.AIFeatures = settings.Bool(c.Bool("ai-features"))
					}
					if c.IsSet("language") {
						lang := strings.TrimSpace(c.String("language"))
						if lang == "" {
							return outputError(errors.NewInvalidRequest("language must not be empty"))
						}
						p.Language = &lang
					}

					store, err := openStore(c.Context, db, log)
					if err != nil {
						return outputError(err)
					}
					if err := store.Write(c.Context, p); err != nil {
						return outputError(err)
					}
					r, err := store.Read(c.Context)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(r)
				},
			},
			{
				Name:  "reset",
				Usage: "Return every setting to its default and clear the history",
				Action: func(c *cli.Context) error {
					store, err := openStore(c.Context, db, log)
					if err != nil {
						return outputError(err)
					}
					if err := store.Reset(c.Context); err != nil {
						return outputError(err)
					}
					return outputJSON(settings.Defaults())
				},
			},
		},
	}
}

// selectCmd creates the select command: one selection through a content
// context connected to a running daemon.
func selectCmd(db *sql.DB, cfg *config.Config, log logrus.FieldLogger) *cli.Command {
	return &cli.Command{
		Name:      "select",
		Usage:     "Run a text selection through a content context (reads text from args or stdin)",
		ArgsUsage: "[text]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Aliases: []string{"s"}, Usage: "Daemon URL (default from config bind/port)"},
			&cli.StringFlag{Name: "tab", Aliases: []string{"t"}, Usage: "Context name (default: generated)"},
		},
		Action: func(c *cli.Context) error {
			text := strings.Join(c.Args().Slice(), " ")
			if text == "" && stdinHasData() {
				data, err := readStdin(maxStdinBytes)
				if err != nil {
					return outputError(err)
				}
				text = data
			}
			if strings.TrimSpace(text) == "" {
				return outputError(errors.NewInvalidRequest("selected text is required"))
			}

			server := c.String("server")
			if server == "" {
				server = fmt.Sprintf("http://%s:%d", cfg.Bind, cfg.Port)
			}

			store, err := openStore(c.Context, db, log)
			if err != nil {
				return outputError(err)
			}

			name := c.String("tab")
			if name == "" {
				name = "cli-" + uuid.NewString()
			}

			clip := &tabs.Clipboard{}
			cc, err := content.New(c.Context, content.Options{
				Name:             name,
				Store:            store,
				Runtime:          transport.NewClient(server, name, log),
				Filter:           filter.New(cfg.ExtraSensitivePatterns, log),
				Clipboard:        clip,
				AI:               aiProcessor(cfg),
				ReconnectDelay:   cfg.ReconnectDelay(),
				LivenessInterval: cfg.LivenessInterval(),
				MaxAttempts:      cfg.MaxReconnectAttempts,
				Log:              log,
			})
			if err != nil {
				return outputError(err)
			}
			defer cc.Close()

			cc.Start(c.Context)
			outcome, err := cc.Select(c.Context, text)
			cc.Wait()
			if err != nil {
				return outputError(err)
			}

			copied, _ := clip.Read()
			return outputJSON(map[string]any{
				"tab":     cc.Name(),
				"outcome": outcome,
				"copied":  copied,
			})
		},
	}
}

// lineView prints one JSON line per render and closes done after limit
// renders (0 = never).
type lineView struct {
	mu    sync.Mutex
	enc   *json.Encoder
	count int
	limit int
	done  chan struct{}
}

func newLineView(w io.Writer, limit int) *lineView {
	return &lineView{enc: json.NewEncoder(w), limit: limit, done: make(chan struct{})}
}

func (v *lineView) Render(s popup.State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.limit > 0 && v.count >= v.limit {
		return
	}
	_ = v.enc.Encode(s)
	v.count++
	if v.count == v.limit {
		close(v.done)
	}
}

// popupCmd creates the popup command: an open panel connected to a running
// daemon, printing its state every time it re-renders.
func popupCmd(db *sql.DB, cfg *config.Config, log logrus.FieldLogger) *cli.Command {
	return &cli.Command{
		Name:  "popup",
		Usage: "Open the popup against a running daemon and print each render as a JSON line",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Aliases: []string{"s"}, Usage: "Daemon URL (default from config bind/port)"},
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Usage: "Exit after this many renders (0 = until interrupted)"},
			&cli.DurationFlag{Name: "for", Usage: "Exit after this long (0 = until interrupted)"},
		},
		Action: func(c *cli.Context) error {
			if c.Int("count") < 0 || c.Duration("for") < 0 {
				return outputError(errors.NewInvalidRequest("count and for must not be negative"))
			}
			server := c.String("server")
			if server == "" {
				server = fmt.Sprintf("http://%s:%d", cfg.Bind, cfg.Port)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if d := c.Duration("for"); d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			store, err := openStore(ctx, db, log)
			if err != nil {
				return outputError(err)
			}

			view := newLineView(os.Stdout, c.Int("count"))
			client := transport.NewClient(server, popup.Name, log)
			p := popup.New(store, client, client, view, popup.Options{
				ReconnectDelay:   cfg.ReconnectDelay(),
				LivenessInterval: cfg.LivenessInterval(),
				Log:              log,
			})
			if err := p.Open(ctx); err != nil {
				return outputError(err)
			}
			defer p.Close()

			select {
			case <-ctx.Done():
			case <-view.done:
			}
			return nil
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if sErr, ok := err.(*errors.Error); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", sErr.Code, sErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads at most limit bytes from stdin.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if int64(len(data)) > limit {
		return "", errors.NewInvalidRequest(fmt.Sprintf("stdin exceeds %d bytes", limit))
	}
	return strings.TrimSpace(string(data)), nil
}
