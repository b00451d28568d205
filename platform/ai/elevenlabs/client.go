// Package elevenlabs is a minimal HTTP client for ElevenLabs text-to-speech
// and speech-to-text. Errors carry apperr kinds; retries are the caller's job.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"leadengine/platform/ai"
	"leadengine/platform/apperr"
	"leadengine/platform/config"
)

const (
	ttsModel     = "eleven_v3"
	sttModel     = "scribe_v2"
	outputFormat = "mp3_44100_128"

	opSynthesize = "elevenlabs.synthesize"
	opTranscribe = "elevenlabs.transcribe"
)

type Client struct {
	baseURL string
	apiKey  string
	voiceID string
	http    *http.Client
}

// NewClient returns nil when voice is not configured.
func NewClient(cfg config.VoiceConfig) *Client {
	if !cfg.IsVoiceEnabled() {
		return nil
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.GetElevenLabsBaseURL(), "/"),
		apiKey:  cfg.GetElevenLabsAPIKey(),
		voiceID: cfg.GetElevenLabsVoiceID(),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

type ttsRequest struct {
	Text         string `json:"text"`
	ModelID      string `json:"model_id"`
	LanguageCode string `json:"language_code,omitempty"`
}

// Synthesize renders text as MP3 audio.
func (c *Client) Synthesize(ctx context.Context, text, language string) ([]byte, string, error) {
	body, err := json.Marshal(ttsRequest{Text: text, ModelID: ttsModel, LanguageCode: language})
	if err != nil {
		return nil, "", apperr.Permanent("marshal tts request", err).WithOp(opSynthesize)
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s", c.baseURL, url.PathEscape(c.voiceID), outputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", apperr.Permanent("build tts request", err).WithOp(opSynthesize)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.apiKey)

	audio, err := c.do(req, opSynthesize)
	if err != nil {
		return nil, "", err
	}
	if len(audio) == 0 {
		return nil, "", apperr.Transient("empty audio", nil).WithOp(opSynthesize)
	}
	return audio, "audio/mpeg", nil
}

// Transcribe converts audio to text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, fileName string) (string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("model_id", sttModel); err != nil {
		return "", apperr.Permanent("build stt form", err).WithOp(opTranscribe)
	}
	part, err := form.CreateFormFile("file", fileName)
	if err != nil {
		return "", apperr.Permanent("build stt form", err).WithOp(opTranscribe)
	}
	if _, err := part.Write(audio); err != nil {
		return "", apperr.Permanent("build stt form", err).WithOp(opTranscribe)
	}
	if err := form.Close(); err != nil {
		return "", apperr.Permanent("build stt form", err).WithOp(opTranscribe)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/speech-to-text", &buf)
	if err != nil {
		return "", apperr.Permanent("build stt request", err).WithOp(opTranscribe)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("xi-api-key", c.apiKey)

	raw, err := c.do(req, opTranscribe)
	if err != nil {
		return "", err
	}
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", apperr.Transient("decode stt response", err).WithOp(opTranscribe)
	}
	return strings.TrimSpace(parsed.Text), nil
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, ai.ClassifyTransport(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 25<<20))
	if err != nil {
		return nil, apperr.Transient("read response", err).WithOp(op)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, ai.ClassifyStatus(op, resp.StatusCode, string(data))
	}
	return data, nil
}
