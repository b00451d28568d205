// Package agent produces reply text for leads on top of an ADK model.LLM,
// retrying transient provider failures with exponential backoff.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"leadengine/internal/leads/domain"
	"leadengine/platform/apperr"
	"leadengine/platform/config"
	"leadengine/platform/logger"
	"leadengine/platform/metrics"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

const (
	replyWindow    = 20
	followUpWindow = 6
	pushWindow     = 10
	stickerWindow  = 6

	visionAttempts = 2
	maxJitter      = time.Second
)

// MarketSource supplies an optional market summary for the system prompt.
type MarketSource interface {
	Summary(ctx context.Context) string
}

// Generator wraps one provider with the retry policy.
type Generator struct {
	llm         model.LLM
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration

	market  MarketSource
	log     *logger.Logger
	metrics *metrics.Metrics

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
	now    func() time.Time
}

// Option customises a Generator.
type Option func(*Generator)

// WithMarket adds market context to reply prompts.
func WithMarket(m MarketSource) Option {
	return func(g *Generator) { g.market = m }
}

// WithMetrics records attempts and durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// WithSleep replaces the backoff sleep. Tests use it to record delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Generator) { g.sleep = fn }
}

// WithJitter replaces the random jitter source.
func WithJitter(fn func() time.Duration) Option {
	return func(g *Generator) { g.jitter = fn }
}

// New builds a generator for llm using the configured attempt budget.
func New(llm model.LLM, cfg config.GenerationConfig, log *logger.Logger, opts ...Option) *Generator {
	g := &Generator{
		llm:         llm,
		maxAttempts: max(cfg.GetGenerationMaxAttempts(), 1),
		baseDelay:   cfg.GetGenerationBaseDelay(),
		timeout:     cfg.GetGenerationTimeout(),
		log:         log,
		sleep:       sleepContext,
		jitter:      func() time.Duration { return rand.N(maxJitter) },
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Generate produces one reply. Permanent provider errors are returned as is;
// exhausting the attempt budget on transient errors returns an error
// matching ErrUnavailable.
func (g *Generator) Generate(ctx context.Context, req Request) (Reply, error) {
	start := time.Now()
	if g.metrics != nil {
		defer g.metrics.ObserveSince(g.metrics.GenerationDuration, start)
	}

	lastInbound := lastCounterpartyText(req.History)
	lang, confident := req.Language, true
	if lang == "" {
		lang, confident = g.DetectLanguage(ctx, req.LeadID, lastInbound)
	}

	attempts := g.maxAttempts
	if req.Kind == KindVision {
		attempts = visionAttempts
	}
	raw, n, err := g.withRetry(ctx, req.LeadID, g.buildRequest(ctx, req, lang), attempts)
	if err != nil {
		return Reply{Language: lang, Attempts: n}, err
	}

	p := parseMarkers(raw, g.now())
	if len(p.problems) > 0 {
		g.log.Warn("agent: application block rejected", "lead_id", req.LeadID, "problems", strings.Join(p.problems, ", "))
	}
	if p.text == "" {
		return Reply{Language: lang, Attempts: n}, apperr.Wrap(apperr.KindTransient, "reply was empty after markers", ErrUnavailable)
	}
	reply := Reply{
		Text:              p.text,
		Language:          lang,
		LanguageConfident: confident,
		Signals:           p.signals,
		Application:       p.application,
		Attempts:          n,
	}
	if req.Kind == KindReply && domain.DetectCallAcceptance(lastInbound) && !reply.HasSignal(domain.SignalCallAccept) {
		reply.Signals = append(reply.Signals, domain.Signal{Name: domain.SignalCallAccept, Confidence: 1})
	}
	return reply, nil
}

// withRetry calls the provider up to attempts times. The delay before retry
// i (0-based) is baseDelay*2^i plus jitter.
func (g *Generator) withRetry(ctx context.Context, leadID string, req *model.LLMRequest, attempts int) (string, int, error) {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		text, err := g.call(ctx, req)
		g.countAttempt(err)
		if err == nil {
			return text, attempt + 1, nil
		}
		lastErr = err
		if !apperr.Retryable(err) {
			g.log.Error("agent: permanent generation failure", "lead_id", leadID, "attempt", attempt+1, "error", err)
			return "", attempt + 1, err
		}
		if attempt == attempts-1 {
			break
		}
		delay := g.baseDelay*time.Duration(1<<attempt) + g.jitter()
		g.log.Warn("agent: transient generation failure",
			"lead_id", leadID,
			"attempt", attempt+1,
			"max_attempts", attempts,
			"delay", delay,
			"error", err,
		)
		if err := g.sleep(ctx, delay); err != nil {
			return "", attempt + 1, fmt.Errorf("generation interrupted: %w", err)
		}
	}
	g.log.Error("agent: generation attempts exhausted", "lead_id", leadID, "attempts", attempts, "error", lastErr)
	return "", attempts, apperr.Wrap(apperr.KindTransient, "generation unavailable", errors.Join(ErrUnavailable, lastErr))
}

func (g *Generator) call(ctx context.Context, req *model.LLMRequest) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	var b strings.Builder
	for resp, err := range g.llm.GenerateContent(ctx, req, false) {
		if err != nil {
			if apperr.GetKind(err) == apperr.KindUnknown && errors.Is(err, context.DeadlineExceeded) {
				return "", apperr.Transient("generation timed out", err)
			}
			return "", err
		}
		if resp == nil || resp.Content == nil {
			continue
		}
		for _, part := range resp.Content.Parts {
			if part != nil {
				b.WriteString(part.Text)
			}
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", apperr.Transient("provider returned no text", nil)
	}
	return text, nil
}

func (g *Generator) countAttempt(err error) {
	if g.metrics == nil {
		return
	}
	kind := "ok"
	if err != nil {
		kind = apperr.GetKind(err).String()
	}
	g.metrics.GenerationAttempts.WithLabelValues(kind).Inc()
}

func (g *Generator) buildRequest(ctx context.Context, req Request, lang string) *model.LLMRequest {
	var (
		system   string
		contents []*genai.Content
		maxTok   int32 = 300
	)
	switch req.Kind {
	case KindFollowUp:
		system = fmt.Sprintf(followUpPrompt, req.Attempt)
		contents = append(toContents(window(req.History, followUpWindow)),
			internalCommand(fmt.Sprintf("The client is not replying. Write follow-up attempt %d.", req.Attempt)))
		maxTok = 200
	case KindPush:
		system = fmt.Sprintf(pushPrompt, req.Instruction)
		contents = append(toContents(window(req.History, pushWindow)),
			internalCommand("The manager asks you to write to the client: "+req.Instruction))
	case KindSticker:
		system = stickerPrompt
		contents = toContents(window(req.History, stickerWindow))
		maxTok = 100
	case KindVision:
		system = visionPrompt
		contents = toContents(window(req.History, replyWindow))
		if req.Image != nil {
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{
				genai.NewPartFromBytes(req.Image.Data, req.Image.MIMEType),
				genai.NewPartFromText("The client sent this photo. Reply naturally."),
			}, genai.RoleUser))
		}
	default:
		market := ""
		if g.market != nil {
			market = g.market.Summary(ctx)
		}
		name := ""
		if lang != DefaultLanguage {
			name = LanguageName(lang)
		}
		system = systemPrompt(req, name, market, len(req.History))
		contents = toContents(window(req.History, replyWindow))
	}
	if req.Kind != KindReply && lang != DefaultLanguage {
		system += fmt.Sprintf("\nReply in %s.", LanguageName(lang))
	}

	return &model.LLMRequest{
		Model:    g.llm.Name(),
		Contents: contents,
		Config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
			MaxOutputTokens:   maxTok,
			Temperature:       genai.Ptr[float32](0.7),
		},
	}
}

func internalCommand(text string) *genai.Content {
	return genai.NewContentFromText("[INTERNAL COMMAND] "+text, genai.RoleUser)
}

func window(turns []domain.Turn, n int) []domain.Turn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

// toContents maps turns onto provider roles. Manager turns are operator
// annotations and never shown to the model.
func toContents(turns []domain.Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case domain.RoleCounterparty:
			out = append(out, genai.NewContentFromText(t.Text, genai.RoleUser))
		case domain.RoleAgent:
			out = append(out, genai.NewContentFromText(t.Text, genai.RoleModel))
		}
	}
	return out
}

func lastCounterpartyText(turns []domain.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == domain.RoleCounterparty {
			return turns[i].Text
		}
	}
	return ""
}
