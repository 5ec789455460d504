package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/narrahq/narra/internal/config"
	"github.com/narrahq/narra/internal/decode"
	"github.com/narrahq/narra/internal/openai"
	"github.com/narrahq/narra/internal/respond"
)

const (
	maxAudioSize = 25 << 20
	maxSDPSize   = 64 << 10
)

var (
	chatSchema = decode.MustCompile("chat.json", `{
		"type": "object",
		"required": ["messages"],
		"properties": {
			"messages": {"type": "array"},
			"model": {"type": "string"},
			"temperature": {"type": "number"},
			"max_tokens": {"type": "integer"}
		}
	}`)
	transcribeSchema = decode.MustCompile("transcribe.json", `{
		"type": "object",
		"required": ["audio"],
		"properties": {
			"audio": {"type": "string", "minLength": 1},
			"mimeType": {"type": "string"},
			"language": {"type": "string", "maxLength": 8},
			"prompt": {"type": "string", "maxLength": 2000}
		}
	}`)
)

// AIHandler proxies chat, transcription and realtime session setup to OpenAI.
type AIHandler struct {
	base
	openai *openai.Client
}

func NewAIHandler(cfg config.Config, oc *openai.Client, logger *slog.Logger) *AIHandler {
	return &AIHandler{base: base{cfg: cfg, logger: logger}, openai: oc}
}

type chatRequest struct {
	Messages    []json.RawMessage `json:"messages"`
	Model       string            `json:"model"`
	Temperature *float64          `json:"temperature"`
	MaxTokens   *int              `json:"max_tokens"`
}

// Chat forwards a chat completion and returns the upstream body unchanged.
func (h *AIHandler) Chat(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w, config.OpenAIAPIKey) {
		return
	}
	var req chatRequest
	if err := chatSchema.Decode(r, &req); err != nil {
		respond.Error(w, err)
		return
	}

	raw, err := h.openai.Chat(r.Context(), openai.ChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		h.fail(w, r, upstream("OpenAI request failed", err))
		return
	}
	respond.JSON(w, http.StatusOK, raw)
}

type transcribeRequest struct {
	Audio    string `json:"audio"`
	MimeType string `json:"mimeType"`
	Language string `json:"language"`
	Prompt   string `json:"prompt"`
}

// Transcribe accepts audio as a multipart upload or as base64 JSON and
// returns the text along with the model that produced it.
func (h *AIHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w, config.OpenAIAPIKey) {
		return
	}
	audio, err := readAudio(w, r)
	if err != nil {
		respond.Error(w, err)
		return
	}

	t, err := h.openai.Transcribe(r.Context(), *audio)
	if err != nil {
		h.fail(w, r, upstream("Transcription failed", err))
		return
	}
	h.logger.Info("transcribed audio", "model", t.Model, "bytes", len(audio.Data))
	respond.OK(w, map[string]any{"text": t.Text, "model": t.Model})
}

func readAudio(w http.ResponseWriter, r *http.Request) (*openai.Audio, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, maxAudioSize)
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			return nil, respond.BadRequest("Invalid multipart body")
		}
		f, fh, err := r.FormFile("file")
		if err != nil {
			return nil, respond.BadRequest("Audio file is required")
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, respond.BadRequest("Could not read audio file")
		}
		if len(data) == 0 {
			return nil, respond.BadRequest("Audio file is empty")
		}
		return &openai.Audio{
			Data:     data,
			Filename: fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Language: r.FormValue("language"),
			Prompt:   r.FormValue("prompt"),
		}, nil
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxAudioSize*4/3+1024))
	if err != nil {
		return nil, respond.BadRequest("Invalid or missing request body")
	}
	var req transcribeRequest
	if err := transcribeSchema.DecodeBytes(raw, &req); err != nil {
		return nil, err
	}
	data, err := decodeAudio(req.Audio)
	if err != nil {
		return nil, respond.BadRequest("Audio must be base64 encoded")
	}
	return &openai.Audio{Data: data, MimeType: req.MimeType, Language: req.Language, Prompt: req.Prompt}, nil
}

// decodeAudio accepts plain base64 or a data URL.
func decodeAudio(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 {
			return nil, errors.New("malformed data url")
		}
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty audio")
	}
	return data, nil
}

// RealtimeSession relays a WebRTC SDP offer and returns the raw SDP answer.
func (h *AIHandler) RealtimeSession(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w, config.OpenAIAPIKey) {
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxSDPSize))
	if err != nil || !strings.HasPrefix(strings.TrimSpace(string(raw)), "v=") {
		respond.Error(w, respond.BadRequest("SDP offer is required"))
		return
	}

	answer, err := h.openai.RealtimeSDP(r.Context(), string(raw), r.URL.Query().Get("model"))
	if err != nil {
		h.fail(w, r, upstream("Failed to create realtime session", err))
		return
	}
	w.Header().Set("Content-Type", "application/sdp")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, answer)
}
