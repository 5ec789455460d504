// Package openai proxies chat completion, audio transcription and realtime
// SDP negotiation to the OpenAI REST API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/narrahq/narra/internal/retry"
)

const (
	defaultBaseURL       = "https://api.openai.com"
	DefaultChatModel     = "gpt-4o-mini"
	DefaultRealtimeModel = "gpt-4o-realtime-preview-2024-12-17"
)

// TranscriptionModels is the fallback order for transcription.
var TranscriptionModels = []string{"gpt-4o-transcribe", "gpt-4o-mini-transcribe", "whisper-1"}

// APIError is a non-2xx response from OpenAI.
type APIError struct {
	Op         string
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai %s: status %d: %s", e.Op, e.StatusCode, strings.TrimSpace(string(e.Body)))
}

// Detail returns the upstream body as JSON when possible.
func (e *APIError) Detail() any {
	var v any
	if json.Unmarshal(e.Body, &v) == nil {
		return v
	}
	return string(e.Body)
}

type Client struct {
	apiKey       string
	project      string
	organization string
	baseURL      string
	httpClient   *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithBaseURL(u string) Option {
	return func(cl *Client) {
		cl.baseURL = strings.TrimRight(u, "/")
	}
}

// WithScope sets the optional project and organization headers.
func WithScope(project, organization string) Option {
	return func(cl *Client) {
		cl.project = project
		cl.organization = organization
	}
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Configured() bool {
	return c.apiKey != ""
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.project != "" {
		req.Header.Set("OpenAI-Project", c.project)
	}
	if c.organization != "" {
		req.Header.Set("OpenAI-Organization", c.organization)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, op string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("openai %s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Body: raw}
	}
	return raw, nil
}

// ChatRequest is a chat completion. Messages are forwarded as sent so roles
// and fields this package does not know about reach the API intact.
type ChatRequest struct {
	Model       string            `json:"model"`
	Messages    []json.RawMessage `json:"messages"`
	Temperature *float64          `json:"temperature,omitempty"`
	MaxTokens   *int              `json:"max_tokens,omitempty"`
}

// Chat runs a chat completion and returns the raw upstream JSON.
func (c *Client) Chat(ctx context.Context, cr ChatRequest) (json.RawMessage, error) {
	if cr.Model == "" {
		cr.Model = DefaultChatModel
	}
	body, err := json.Marshal(cr)
	if err != nil {
		return nil, fmt.Errorf("openai chat: marshal: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/chat/completions", bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, fmt.Errorf("openai chat: create request: %w", err)
	}
	raw, err := c.send(req, "chat")
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

type Audio struct {
	Data     []byte
	Filename string
	MimeType string
	Language string
	Prompt   string
}

type Transcription struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

// Transcribe tries each of TranscriptionModels in order, moving on only when
// the upstream rejects the model itself.
func (c *Client) Transcribe(ctx context.Context, a Audio) (*Transcription, error) {
	strategies := make([]retry.Strategy[*Transcription], 0, len(TranscriptionModels))
	for _, model := range TranscriptionModels {
		strategies = append(strategies, retry.Strategy[*Transcription]{
			Name: model,
			Run: func(ctx context.Context) (*Transcription, error) {
				return c.transcribeWith(ctx, model, a)
			},
		})
	}
	t, _, err := retry.Ordered(ctx, ModelRejected, strategies...)
	return t, err
}

func (c *Client) transcribeWith(ctx context.Context, model string, a Audio) (*Transcription, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	filename := a.Filename
	if filename == "" {
		filename = "audio" + extensionFor(a.MimeType)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, strings.ReplaceAll(filename, `"`, "")))
	mimeType := a.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("openai transcribe: %w", err)
	}
	if _, err := part.Write(a.Data); err != nil {
		return nil, fmt.Errorf("openai transcribe: %w", err)
	}
	fields := map[string]string{"model": model, "response_format": "json", "language": a.Language, "prompt": a.Prompt}
	for _, k := range []string{"model", "response_format", "language", "prompt"} {
		if fields[k] == "" {
			continue
		}
		if err := mw.WriteField(k, fields[k]); err != nil {
			return nil, fmt.Errorf("openai transcribe: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("openai transcribe: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/audio/transcriptions", &buf, mw.FormDataContentType())
	if err != nil {
		return nil, fmt.Errorf("openai transcribe: create request: %w", err)
	}
	raw, err := c.send(req, "transcribe "+model)
	if err != nil {
		return nil, err
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("openai transcribe: decode: %w", err)
	}
	return &Transcription{Text: out.Text, Model: model}, nil
}

// ModelRejected reports whether err is the upstream refusing the requested
// model, as opposed to a bad payload, auth failure or network error.
func ModelRejected(err error) bool {
	apiErr, ok := err.(*APIError)
	if !ok {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusNotFound:
		return true
	case http.StatusBadRequest, http.StatusForbidden:
		return strings.Contains(strings.ToLower(string(apiErr.Body)), "model")
	}
	return false
}

func extensionFor(mimeType string) string {
	mt, _, _ := strings.Cut(mimeType, ";")
	switch strings.TrimSpace(mt) {
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	}
	return ".webm"
}

// RealtimeSDP posts a WebRTC SDP offer and returns the SDP answer.
func (c *Client) RealtimeSDP(ctx context.Context, offer, model string) (string, error) {
	if model == "" {
		model = DefaultRealtimeModel
	}
	path := "/v1/realtime?model=" + url.QueryEscape(model)
	req, err := c.newRequest(ctx, http.MethodPost, path, strings.NewReader(offer), "application/sdp")
	if err != nil {
		return "", fmt.Errorf("openai realtime: create request: %w", err)
	}
	raw, err := c.send(req, "realtime")
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
