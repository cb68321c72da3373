package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/smartcopy-pro/smartcopy/internal/errors"
	"github.com/smartcopy-pro/smartcopy/internal/message"
	"github.com/smartcopy-pro/smartcopy/internal/runtime"
)

// Client reaches a background daemon over HTTP and WebSocket. It
// implements runtime.Runtime and runtime.Listener.
type Client struct {
	baseURL string
	name    string
	http    *http.Client
	dialer  *websocket.Dialer
	log     logrus.FieldLogger
}

// NewClient creates a Client for the daemon at baseURL
// (http://host:port). name identifies the calling context on one-shot
// requests.
func NewClient(baseURL, name string, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		name:    name,
		http:    &http.Client{},
		dialer:  websocket.DefaultDialer,
		log:     log.WithField("component", "transport-client"),
	}
}

// Probe checks GET /healthz.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.NewUnreachable(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return nil
}

// SendMessage posts m to /message.
func (c *Client) SendMessage(ctx context.Context, m message.Message) (message.Response, error) {
	data, err := message.Encode(m)
	if err != nil {
		return message.Response{}, errors.NewInternal(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/message", bytes.NewReader(data))
	if err != nil {
		return message.Response{}, errors.NewInternal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ContextHeader, c.name)
	req.Header.Set(RequestIDHeader, uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return message.Response{}, errors.NewUnreachable(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return message.Response{}, decodeError(resp)
	}

	var out message.Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&out); err != nil {
		return message.Response{}, errors.NewInternal(err)
	}
	return out, nil
}

// Connect opens a channel over GET /connect.
func (c *Client) Connect(ctx context.Context, name string) (runtime.Channel, error) {
	u := c.wsURL("/connect") + "?name=" + url.QueryEscape(name)
	conn, resp, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, errors.NewUnreachable(err)
	}
	id := resp.Header.Get(ChannelHeader)
	if id == "" {
		id = uuid.NewString()
	}
	return newWSChannel(id, name, conn, c.log), nil
}

// Listen subscribes fn to one-shot notifications over GET /listen.
func (c *Client) Listen(ctx context.Context, fn func(message.Message)) (func(), error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.wsURL("/listen"), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, errors.NewUnreachable(err)
	}

	ch := newWSChannel(uuid.NewString(), "listener", conn, c.log)
	go func() {
		for {
			select {
			case m := <-ch.Messages():
				fn(m)
			case <-ch.Done():
				return
			}
		}
	}()
	return func() { ch.Close() }, nil
}

func (c *Client) wsURL(path string) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + path
}

// decodeError rebuilds the structured error from an error response.
func decodeError(resp *http.Response) error {
	var body errorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err := json.Unmarshal(data, &body); err != nil || body.Error.Code == "" {
		if resp.StatusCode == http.StatusGone {
			return errors.NewContextInvalidated(nil)
		}
		return errors.NewUnreachable(nil)
	}
	return &errors.Error{
		Code:    errors.ErrorCode(body.Error.Code),
		Status:  resp.StatusCode,
		Message: body.Error.Message,
	}
}
