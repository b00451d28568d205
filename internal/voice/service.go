// Package voice decides when replies go out as voice notes and wraps the
// speech provider with the same backoff policy the generator uses.
package voice

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"leadengine/internal/dispatch"
	"leadengine/internal/leads/domain"
	"leadengine/platform/apperr"
	"leadengine/platform/config"
	"leadengine/platform/logger"
)

// maxVoiceRunes keeps long answers as text; they are tiring to listen to.
const maxVoiceRunes = 500

const maxJitter = time.Second

// Provider is the speech backend.
type Provider interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, string, error)
	Transcribe(ctx context.Context, audio []byte, fileName string) (string, error)
}

type Service struct {
	provider     Provider
	maxAttempts  int
	baseDelay    time.Duration
	defaultRatio float64
	log          *logger.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
	rand   func() float64
	intN   func(n int) int
}

// Option customises a Service.
type Option func(*Service)

// WithSleep replaces the backoff sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.sleep = fn }
}

// WithRand replaces the random sources used for the voice/text decision.
func WithRand(float func() float64, intN func(n int) int) Option {
	return func(s *Service) {
		s.rand = float
		s.intN = intN
	}
}

// New wraps provider. A nil provider disables voice entirely.
func New(provider Provider, gen config.GenerationConfig, cfg config.VoiceConfig, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		provider:     provider,
		maxAttempts:  max(gen.GetGenerationMaxAttempts(), 1),
		baseDelay:    gen.GetGenerationBaseDelay(),
		defaultRatio: cfg.GetVoiceRatio(),
		log:          log,
		sleep:        sleepContext,
		jitter:       func() time.Duration { return rand.N(maxJitter) },
		rand:         rand.Float64,
		intN:         rand.IntN,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
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

// Enabled reports whether a provider is configured.
func (s *Service) Enabled() bool {
	return s != nil && s.provider != nil
}

// Plan marks which parts of a reply should be voiced. force voices every
// short part (first contact, explicit request); otherwise at most one part
// is voiced with the lead's ratio.
func (s *Service) Plan(lead *domain.Lead, parts []string, force bool) []bool {
	plan := make([]bool, len(parts))
	if !s.Enabled() || lead.VoiceOptOut || len(parts) == 0 {
		return plan
	}
	if force {
		for i, p := range parts {
			plan[i] = voiceable(p)
		}
		return plan
	}
	ratio := s.defaultRatio
	if lead.VoiceRatio > 0 {
		ratio = lead.VoiceRatio
	}
	if s.rand() >= ratio {
		return plan
	}
	i := s.intN(len(parts))
	plan[i] = voiceable(parts[i])
	return plan
}

func voiceable(text string) bool {
	n := len([]rune(text))
	return n > 0 && n < maxVoiceRunes
}

// Render turns reply parts into dispatchable contents. A part whose
// synthesis fails is sent as text.
func (s *Service) Render(ctx context.Context, lead *domain.Lead, parts []string, force bool) []dispatch.Content {
	plan := s.Plan(lead, parts, force)
	out := make([]dispatch.Content, len(parts))
	for i, p := range parts {
		out[i] = dispatch.Content{Text: p}
		if !plan[i] {
			continue
		}
		audio, mime, err := s.Synthesize(ctx, lead.ID, p, lead.Language)
		if err != nil {
			s.log.Warn("voice: synthesis failed, sending text", "lead_id", lead.ID, "error", err)
			continue
		}
		out[i].Audio = audio
		out[i].AudioMIME = mime
	}
	return out
}

// Synthesize renders text with retries on transient failures.
func (s *Service) Synthesize(ctx context.Context, leadID, text, language string) ([]byte, string, error) {
	if !s.Enabled() {
		return nil, "", apperr.Permanent("voice disabled", nil)
	}
	var (
		audio []byte
		mime  string
	)
	err := s.retry(ctx, leadID, "synthesize", func(ctx context.Context) error {
		var err error
		audio, mime, err = s.provider.Synthesize(ctx, text, language)
		return err
	})
	return audio, mime, err
}

// Transcribe converts an inbound voice note to text with retries.
func (s *Service) Transcribe(ctx context.Context, leadID string, audio []byte, fileName string) (string, error) {
	if !s.Enabled() {
		return "", apperr.Permanent("voice disabled", nil)
	}
	var text string
	err := s.retry(ctx, leadID, "transcribe", func(ctx context.Context) error {
		var err error
		text, err = s.provider.Transcribe(ctx, audio, fileName)
		return err
	})
	return text, err
}

func (s *Service) retry(ctx context.Context, leadID, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !apperr.Retryable(err) || attempt == s.maxAttempts-1 {
			break
		}
		delay := s.baseDelay*time.Duration(1<<attempt) + s.jitter()
		s.log.Warn("voice: transient failure", "op", op, "lead_id", leadID, "attempt", attempt+1, "delay", delay, "error", err)
		if serr := s.sleep(ctx, delay); serr != nil {
			return fmt.Errorf("voice %s interrupted: %w", op, serr)
		}
	}
	return err
}
