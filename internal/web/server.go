package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartcopy-pro/smartcopy/internal/background"
	"github.com/smartcopy-pro/smartcopy/internal/config"
	"github.com/smartcopy-pro/smartcopy/internal/settings"
	"github.com/smartcopy-pro/smartcopy/internal/tabs"
	"github.com/smartcopy-pro/smartcopy/internal/transport"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Deps are the daemon components the web server exposes.
type Deps struct {
	Store      *settings.Store
	Background *background.Service
	Tabs       *tabs.Pool
	Transport  *transport.Server
	Config     *config.Config
	Log        logrus.FieldLogger
}

// NewServer creates the HTTP server for the daemon: the runtime transport,
// the popup and options pages, and the tab event endpoints.
func NewServer(deps Deps, version, bind string, port int) *http.Server {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	// Create sub-FS for templates (strip "templates/" prefix)
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		log.Fatalf("failed to create template sub-FS: %v", err)
	}

	// Create sub-FS for static files (strip "static/" prefix)
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		log.Fatalf("failed to create static sub-FS: %v", err)
	}

	h := &Handlers{
		store:    deps.Store,
		svc:      deps.Background,
		tabs:     deps.Tabs,
		cfg:      deps.Config,
		renderer: NewRenderer(templateSub, version, log),
		log:      log.WithField("component", "web"),
	}

	mux := http.NewServeMux()
	if deps.Transport != nil {
		deps.Transport.Register(mux)
	}

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/popup", http.StatusFound)
	})
	mux.HandleFunc("GET /popup", h.HandlePopup)
	mux.HandleFunc("POST /popup/toggles/{key}", h.HandleSetToggle)
	mux.HandleFunc("POST /popup/history/clear", h.HandleClearHistory)
	mux.HandleFunc("GET /options", h.HandleOptions)
	mux.HandleFunc("POST /options", h.HandleSaveOptions)
	mux.HandleFunc("POST /commands/{command}", h.HandleCommand)
	mux.HandleFunc("POST /tabs/{name}/updated", h.HandleTabUpdated)
	mux.HandleFunc("POST /tabs/{name}/action", h.HandleAction)
	mux.HandleFunc("POST /tabs/{name}/select", h.HandleSelect)
	mux.HandleFunc("GET /clipboard", h.HandleClipboard)

	// Static file server
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	// Wrap with security headers
	handler := securityHeaders(mux)

	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", bind, port),
		Handler: handler,
	}
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and shuts it down gracefully on SIGINT/SIGTERM
// or when ctx is done.
func Run(ctx context.Context, srv *http.Server, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Infof("smartcopy daemon running at http://%s", srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
