// Package anthropic adapts the Anthropic Messages API to the ADK model.LLM interface.
package anthropic

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"leadengine/platform/ai"
	"leadengine/platform/apperr"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

const (
	opGenerate = "anthropic.generate"
	apiVersion = "2023-06-01"

	defaultMaxTokens = 1024
)

// Config for the Messages API.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Model implements model.LLM over the Messages API. It never retries; the
// caller owns the retry policy and reads the apperr kind of each failure.
type Model struct {
	config Config
	client *http.Client
}

func NewModel(cfg Config) *Model {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Model{
		config: cfg,
		client: &http.Client{Timeout: 90 * time.Second},
	}
}

func (m *Model) Name() string {
	return m.config.Model
}

func (m *Model) GenerateContent(ctx context.Context, req *model.LLMRequest, stream bool) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		resp, err := m.generate(ctx, req)
		yield(resp, err)
	}
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int32     `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature *float32  `json:"temperature,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (m *Model) generate(ctx context.Context, req *model.LLMRequest) (*model.LLMResponse, error) {
	if req == nil {
		return nil, apperr.Permanent("empty request", nil).WithOp(opGenerate)
	}
	if m.config.APIKey == "" {
		return nil, apperr.Permanent("api key not configured", nil).WithOp(opGenerate)
	}

	body := messagesRequest{
		Model:     m.config.Model,
		MaxTokens: defaultMaxTokens,
		Messages:  convertMessages(req.Contents),
	}
	if cfg := req.Config; cfg != nil {
		if cfg.SystemInstruction != nil {
			body.System = joinText(cfg.SystemInstruction)
		}
		if cfg.MaxOutputTokens > 0 {
			body.MaxTokens = cfg.MaxOutputTokens
		}
		body.Temperature = cfg.Temperature
	}
	if len(body.Messages) == 0 {
		return nil, apperr.Permanent("no messages to send", nil).WithOp(opGenerate)
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, apperr.Permanent("marshal request", err).WithOp(opGenerate)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.BaseURL+"/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, apperr.Permanent("build request", err).WithOp(opGenerate)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", m.config.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, ai.ClassifyTransport(opGenerate, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.Transient("read response", err).WithOp(opGenerate)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ai.ClassifyStatus(opGenerate, resp.StatusCode, string(raw))
	}

	var parsed messagesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apperr.Transient("parse response", err).WithOp(opGenerate)
	}
	if parsed.Error != nil {
		if parsed.Error.Type == "overloaded_error" || parsed.Error.Type == "rate_limit_error" {
			return nil, apperr.Transient(parsed.Error.Message, nil).WithOp(opGenerate)
		}
		return nil, apperr.Permanent(parsed.Error.Message, nil).WithOp(opGenerate)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	out := strings.TrimSpace(text.String())
	if out == "" {
		return nil, apperr.Transient("no completion returned", nil).WithOp(opGenerate)
	}

	return &model.LLMResponse{
		Content: genai.NewContentFromText(out, genai.RoleModel),
	}, nil
}

// convertMessages maps genai contents to Messages API turns, merging
// consecutive same-role contents since the API requires alternation.
func convertMessages(contents []*genai.Content) []message {
	out := make([]message, 0, len(contents))
	for _, content := range contents {
		if content == nil {
			continue
		}
		role := "user"
		if content.Role == genai.RoleModel {
			role = "assistant"
		}
		blocks := convertParts(content.Parts)
		if len(blocks) == 0 {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			continue
		}
		out = append(out, message{Role: role, Content: blocks})
	}
	// The API rejects a conversation that opens with the assistant.
	if len(out) > 0 && out[0].Role == "assistant" {
		out = append([]message{{Role: "user", Content: []contentBlock{{Type: "text", Text: "(conversation start)"}}}}, out...)
	}
	return out
}

func convertParts(parts []*genai.Part) []contentBlock {
	blocks := make([]contentBlock, 0, len(parts))
	for _, part := range parts {
		if part == nil {
			continue
		}
		if part.InlineData != nil {
			blocks = append(blocks, contentBlock{
				Type: "image",
				Source: &imageSource{
					Type:      "base64",
					MediaType: part.InlineData.MIMEType,
					Data:      base64.StdEncoding.EncodeToString(part.InlineData.Data),
				},
			})
			continue
		}
		if strings.TrimSpace(part.Text) != "" {
			blocks = append(blocks, contentBlock{Type: "text", Text: part.Text})
		}
	}
	return blocks
}

func joinText(content *genai.Content) string {
	var b strings.Builder
	for _, part := range content.Parts {
		if part == nil || strings.TrimSpace(part.Text) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(part.Text)
	}
	return b.String()
}
