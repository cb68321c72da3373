// Package ai is the client for the remote text-processing backend that
// powers summarize, translate and sentiment.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smartcopy-pro/smartcopy/internal/errors"
)

// Feature names one backend operation. It is also the history entry source
// for text the feature produced.
type Feature string

const (
	Summarize Feature = "summarize"
	Translate Feature = "translate"
	Sentiment Feature = "sentiment"
)

// Features lists every feature in menu order.
var Features = []Feature{Summarize, Translate, Sentiment}

// maxResponseBytes caps how much of a backend response is read.
const maxResponseBytes = 1 << 20

// Processor turns selected text into a feature result.
type Processor interface {
	Process(ctx context.Context, feature Feature, text, language string) (string, error)
}

// Client calls POST {baseURL}/{feature} with {"text", "language"} and reads
// {"result"} back.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

// NewClient creates a Client. timeout 0 means no deadline beyond ctx.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		http:    &http.Client{},
	}
}

// Configured reports whether a backend URL is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

type request struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

type response struct {
	Result string `json:"result"`
}

// Process runs feature over text. Any non-2xx status or transport failure
// is a BACKEND_FAILURE. There is no retry.
func (c *Client) Process(ctx context.Context, feature Feature, text, language string) (string, error) {
	if !c.Configured() {
		return "", errors.NewBackendFailure(string(feature), 0, fmt.Errorf("ai backend not configured"))
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(request{Text: text, Language: language})
	if err != nil {
		return "", errors.NewInternal(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+string(feature), bytes.NewReader(body))
	if err != nil {
		return "", errors.NewBackendFailure(string(feature), 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.NewBackendFailure(string(feature), 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return "", errors.NewBackendFailure(string(feature), resp.StatusCode, nil)
	}

	var out response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return "", errors.NewBackendFailure(string(feature), resp.StatusCode, err)
	}
	return out.Result, nil
}
