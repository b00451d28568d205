// Package whatsapp is the HTTP gateway client used as the outbound transport.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"leadengine/internal/dispatch"
	"leadengine/platform/ai"
	"leadengine/platform/apperr"
	"leadengine/platform/config"
	"leadengine/platform/logger"
	"leadengine/platform/phone"
)

// defaultFloodWait is used when a 429 carries no usable wait hint.
const defaultFloodWait = 30 * time.Second

type Client struct {
	baseURL  string
	apiKey   string
	deviceID string
	http     *http.Client
	log      *logger.Logger
	now      func() time.Time
}

type messageRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type gatewayResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Results struct {
		MessageID string `json:"message_id"`
	} `json:"results"`
	FloodWait  json.Number `json:"flood_wait"`
	RetryAfter json.Number `json:"retry_after"`
}

func NewClient(cfg config.TransportConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.GetWhatsAppURL(), "/"),
		apiKey:   cfg.GetWhatsAppKey(),
		deviceID: cfg.GetWhatsAppDeviceID(),
		http:     &http.Client{Timeout: 30 * time.Second},
		log:      log,
		now:      time.Now,
	}
}

// Send delivers one text or voice message to the chat identified by leadID.
func (c *Client) Send(ctx context.Context, leadID string, content dispatch.Content) (dispatch.Ack, error) {
	recipient := recipientFor(leadID)

	var (
		req *http.Request
		err error
	)
	if content.IsVoice() {
		req, err = c.audioRequest(ctx, recipient, content)
	} else {
		req, err = c.textRequest(ctx, recipient, content.Text)
	}
	if err != nil {
		return dispatch.Ack{}, apperr.Permanent("build gateway request", err).WithOp("whatsapp.send")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return dispatch.Ack{}, ai.ClassifyTransport("whatsapp.send", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var body gatewayResponse
	_ = json.Unmarshal(data, &body)

	if resp.StatusCode >= http.StatusBadRequest {
		return dispatch.Ack{}, c.classify(resp, body, string(data))
	}

	c.log.Debug("whatsapp: message sent", "lead_id", leadID, "voice", content.IsVoice())
	return dispatch.Ack{MessageID: body.Results.MessageID, SentAt: c.now()}, nil
}

func (c *Client) textRequest(ctx context.Context, recipient, text string) (*http.Request, error) {
	payload, err := json.Marshal(messageRequest{Phone: recipient, Message: text})
	if err != nil {
		return nil, fmt.Errorf("marshal whatsapp payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send/message", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	return req, nil
}

func (c *Client) audioRequest(ctx context.Context, recipient string, content dispatch.Content) (*http.Request, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("phone", recipient); err != nil {
		return nil, err
	}
	part, err := w.CreateFormFile("audio", "voice"+audioExtension(content.AudioMIME))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content.Audio); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send/audio", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.authorize(req)
	return req, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", formatAuthHeader(c.apiKey))
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-Id", c.deviceID)
	}
}

func (c *Client) classify(resp *http.Response, body gatewayResponse, raw string) error {
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return apperr.FlowControl(c.floodWait(resp, body)).WithOp("whatsapp.send")
	case http.StatusForbidden, http.StatusGone:
		reason := body.Message
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return apperr.Permanent(reason, fmt.Errorf("%w: status %d", dispatch.ErrRecipientGone, resp.StatusCode)).WithOp("whatsapp.send")
	}
	return ai.ClassifyStatus("whatsapp.send", resp.StatusCode, raw)
}

// floodWait prefers the Retry-After header, then the body hints.
func (c *Client) floodWait(resp *http.Response, body gatewayResponse) time.Duration {
	if wait, ok := ai.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now()); ok {
		return wait
	}
	for _, hint := range []json.Number{body.FloodWait, body.RetryAfter} {
		if secs, err := strconv.ParseFloat(hint.String(), 64); err == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return defaultFloodWait
}

// recipientFor keeps chat ids (user@server, groups) as-is and strips the
// plus sign from phone numbers.
func recipientFor(leadID string) string {
	if strings.Contains(leadID, "@") {
		return leadID
	}
	return strings.TrimPrefix(phone.NormalizeE164(leadID), "+")
}

func audioExtension(mime string) string {
	switch mime {
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	}
	return ".ogg"
}

func formatAuthHeader(apiKey string) string {
	if strings.HasPrefix(strings.ToLower(apiKey), "basic ") {
		return apiKey
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(apiKey))
	return "Basic " + encoded
}
