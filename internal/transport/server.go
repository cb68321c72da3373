package transport

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/smartcopy-pro/smartcopy/internal/errors"
	"github.com/smartcopy-pro/smartcopy/internal/message"
	"github.com/smartcopy-pro/smartcopy/internal/runtime"
)

const (
	// ChannelHeader carries the server-assigned channel ID on the upgrade response.
	ChannelHeader = "X-Smartcopy-Channel"

	// ContextHeader names the sending context on one-shot requests.
	ContextHeader = "X-Smartcopy-Context"

	// RequestIDHeader correlates a one-shot request in logs.
	RequestIDHeader = "X-Request-Id"

	maxBodyBytes = 1 << 20
)

// Server exposes a Hub over HTTP and WebSocket.
type Server struct {
	hub      *runtime.Hub
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

// NewServer creates a Server for hub.
func NewServer(hub *runtime.Hub, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients are local processes, not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log.WithField("component", "transport"),
	}
}

// Register mounts the runtime routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.HandleHealth)
	mux.HandleFunc("POST /message", s.HandleMessage)
	mux.HandleFunc("GET /connect", s.HandleConnect)
	mux.HandleFunc("GET /listen", s.HandleListen)
}

// HandleHealth handles GET /healthz, the runtime probe.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.Probe(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleMessage handles POST /message, the one-shot path.
func (s *Server) HandleMessage(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, errors.NewInvalidRequest("failed to read body"))
		return
	}
	m, err := message.Decode(data)
	if err != nil {
		writeError(w, err)
		return
	}

	log := s.log.WithFields(logrus.Fields{
		"type":       m.Type(),
		"request_id": r.Header.Get(RequestIDHeader),
	})

	ctx := runtime.WithSender(r.Context(), r.Header.Get(ContextHeader))
	resp, err := s.hub.Handle(ctx, m)
	if err != nil {
		log.WithError(err).Debug("one-shot message refused")
		writeError(w, err)
		return
	}
	log.Debug("one-shot message handled")
	writeJSON(w, http.StatusOK, resp)
}

// HandleConnect handles GET /connect?name=..., opening a channel.
func (s *Server) HandleConnect(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, errors.NewInvalidRequest("name is required"))
		return
	}
	if err := s.hub.Probe(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	id := ulid.Make().String()
	header := http.Header{}
	header.Set(ChannelHeader, id)
	conn, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	ch := newWSChannel(id, name, conn, s.log)
	if err := s.hub.Attach(ch); err != nil {
		s.log.WithError(err).Debug("channel refused")
		ch.Close()
	}
}

// HandleListen handles GET /listen, a WebSocket that receives one-shot
// notifications until the client goes away.
func (s *Server) HandleListen(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.Probe(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	ch := newWSChannel(ulid.Make().String(), "listener", conn, s.log)
	stop, err := s.hub.Listen(r.Context(), func(m message.Message) {
		if err := ch.Send(r.Context(), m); err != nil {
			s.log.WithError(err).Debug("listener write failed")
		}
	})
	if err != nil {
		ch.Close()
		return
	}
	<-ch.Done()
	stop()
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Status  int    `json:"status"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	var sErr *errors.Error
	if !stderrors.As(err, &sErr) {
		sErr = errors.NewInternal(err)
	}
	status := sErr.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	var body errorBody
	body.Error.Code = string(sErr.Code)
	body.Error.Message = sErr.Message
	body.Error.Status = status
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
