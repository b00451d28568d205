package agent

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"leadengine/internal/leads/domain"
	"leadengine/platform/ai"
	"leadengine/platform/apperr"
	"leadengine/platform/config"
	"leadengine/platform/logger"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

type step struct {
	text string
	err  error
}

// scriptedLLM answers calls from a fixed script and records requests.
type scriptedLLM struct {
	mu       sync.Mutex
	steps    []step
	requests []*model.LLMRequest
}

func (s *scriptedLLM) Name() string { return "scripted" }

func (s *scriptedLLM) GenerateContent(_ context.Context, req *model.LLMRequest, _ bool) iter.Seq2[*model.LLMResponse, error] {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	var st step
	if len(s.steps) > 0 {
		st, s.steps = s.steps[0], s.steps[1:]
	} else {
		st = step{err: errors.New("script exhausted")}
	}
	s.mu.Unlock()

	return func(yield func(*model.LLMResponse, error) bool) {
		if st.err != nil {
			yield(nil, st.err)
			return
		}
		yield(&model.LLMResponse{Content: genai.NewContentFromText(st.text, genai.RoleModel)}, nil)
	}
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func (r *sleepRecorder) total() time.Duration {
	var sum time.Duration
	for _, d := range r.delays {
		sum += d
	}
	return sum
}

const base = 2 * time.Second

func newTestGenerator(llm model.LLM, rec *sleepRecorder, jitter time.Duration) *Generator {
	cfg := &config.Config{
		GenerationMaxAttempts: 3,
		GenerationBaseDelay:   base,
		GenerationTimeout:     time.Second,
	}
	return New(llm, cfg, logger.New("test"),
		WithSleep(rec.sleep),
		WithJitter(func() time.Duration { return jitter }),
	)
}

func overloaded() error {
	return ai.ClassifyStatus("test.generate", ai.StatusOverloaded, `{"type":"overloaded_error"}`)
}

func history(texts ...string) []domain.Turn {
	turns := make([]domain.Turn, 0, len(texts))
	for i, text := range texts {
		role := domain.RoleCounterparty
		if i%2 == 1 {
			role = domain.RoleAgent
		}
		turns = append(turns, domain.Turn{Role: role, Text: text})
	}
	return turns
}

func TestGenerateRetriesOverloadedThenSucceeds(t *testing.T) {
	llm := &scriptedLLM{steps: []step{{err: overloaded()}, {err: overloaded()}, {text: "Sure, happy to help"}}}
	rec := &sleepRecorder{}
	g := newTestGenerator(llm, rec, 300*time.Millisecond)

	reply, err := g.Generate(context.Background(), Request{Kind: KindReply, History: history("hello there"), Language: "en"})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if reply.Text != "Sure, happy to help" || reply.Attempts != 3 {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if len(rec.delays) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %d", len(rec.delays))
	}
	if rec.total() < base+2*base {
		t.Fatalf("expected total delay >= %v, got %v", base+2*base, rec.total())
	}
	if rec.delays[0] < base || rec.delays[1] < 2*base {
		t.Fatalf("expected exponential floor, got %v", rec.delays)
	}
}

func TestGenerateExhaustedIsUnavailable(t *testing.T) {
	llm := &scriptedLLM{steps: []step{{err: overloaded()}, {err: overloaded()}, {err: overloaded()}}}
	rec := &sleepRecorder{}
	g := newTestGenerator(llm, rec, 0)

	_, err := g.Generate(context.Background(), Request{Kind: KindReply, History: history("hello"), Language: "en"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if llm.calls() != 3 {
		t.Fatalf("expected 3 provider calls, got %d", llm.calls())
	}
	if len(rec.delays) != 2 {
		t.Fatalf("expected no sleep after the last attempt, got %d sleeps", len(rec.delays))
	}
}

func TestGeneratePermanentIsNotRetried(t *testing.T) {
	llm := &scriptedLLM{steps: []step{{err: ai.ClassifyStatus("test.generate", 401, "bad key")}}}
	rec := &sleepRecorder{}
	g := newTestGenerator(llm, rec, 0)

	_, err := g.Generate(context.Background(), Request{Kind: KindReply, History: history("hello"), Language: "en"})
	if !apperr.Is(err, apperr.KindPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Fatalf("permanent failure must not be reported as unavailable")
	}
	if llm.calls() != 1 || len(rec.delays) != 0 {
		t.Fatalf("expected a single call without sleep, got %d calls %d sleeps", llm.calls(), len(rec.delays))
	}
}

func TestGenerateVisionHasOwnBudget(t *testing.T) {
	llm := &scriptedLLM{steps: []step{{err: overloaded()}, {err: overloaded()}, {text: "unused"}}}
	g := newTestGenerator(llm, &sleepRecorder{}, 0)

	_, err := g.Generate(context.Background(), Request{
		Kind:     KindVision,
		History:  history("[photo]"),
		Language: "en",
		Image:    &domain.Media{Data: []byte{0xff, 0xd8}, MIMEType: "image/jpeg"},
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected vision path to give up after its own budget, got %v", err)
	}
	if llm.calls() != visionAttempts {
		t.Fatalf("expected %d calls, got %d", visionAttempts, llm.calls())
	}
	last := llm.requests[len(llm.requests)-1].Contents
	parts := last[len(last)-1].Parts
	if len(parts) != 2 || parts[0].InlineData == nil || parts[0].InlineData.MIMEType != "image/jpeg" {
		t.Fatalf("expected inline image part, got %+v", parts)
	}
}

func TestGenerateParsesSignalsAndApplication(t *testing.T) {
	raw := "Great, a manager will call you tomorrow)\n[APPLICATION]\nName: Anna\nPhone: +49 30 123456\nCountry: Germany\nCall time: 15:00\n[SIGNAL:wants_call:0.9]"
	llm := &scriptedLLM{steps: []step{{text: raw}}}
	g := newTestGenerator(llm, &sleepRecorder{}, 0)

	reply, err := g.Generate(context.Background(), Request{Kind: KindReply, History: history("ok, book me"), Language: "en"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if reply.Text != "Great, a manager will call you tomorrow)" {
		t.Fatalf("expected markers stripped, got %q", reply.Text)
	}
	if reply.Application == nil || reply.Application.Phone != "+4930123456" || reply.Application.Country != "Germany" {
		t.Fatalf("unexpected application: %+v", reply.Application)
	}
	if !reply.HasSignal(domain.SignalWantsCall) || !reply.HasSignal(domain.SignalApplication) {
		t.Fatalf("expected wants_call and application signals, got %+v", reply.Signals)
	}
}

func TestGenerateRejectsInvalidApplication(t *testing.T) {
	raw := "Thanks!\n[APPLICATION]\nName: A\nPhone: 123"
	llm := &scriptedLLM{steps: []step{{text: raw}}}
	g := newTestGenerator(llm, &sleepRecorder{}, 0)

	reply, err := g.Generate(context.Background(), Request{Kind: KindReply, History: history("hi"), Language: "en"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if reply.Application != nil || reply.HasSignal(domain.SignalApplication) {
		t.Fatalf("expected invalid application to be dropped, got %+v", reply)
	}
	if reply.Text != "Thanks!" {
		t.Fatalf("expected block stripped, got %q", reply.Text)
	}
}

func TestGenerateSurfacesCallAcceptance(t *testing.T) {
	llm := &scriptedLLM{steps: []step{{text: "Отлично, когда удобно?"}}}
	g := newTestGenerator(llm, &sleepRecorder{}, 0)

	reply, err := g.Generate(context.Background(), Request{Kind: KindReply, History: history("давай созвон завтра"), Language: "ru"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !reply.HasSignal(domain.SignalCallAccept) {
		t.Fatalf("expected call_accepted signal, got %+v", reply.Signals)
	}
}

func TestGenerateFollowUpPrompt(t *testing.T) {
	llm := &scriptedLLM{steps: []step{{text: "Just checking in)"}}}
	g := newTestGenerator(llm, &sleepRecorder{}, 0)

	_, err := g.Generate(context.Background(), Request{Kind: KindFollowUp, Attempt: 2, History: history("hi", "hello!"), Language: "de"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	req := llm.requests[0]
	last := req.Contents[len(req.Contents)-1]
	if !strings.Contains(last.Parts[0].Text, "follow-up attempt 2") {
		t.Fatalf("expected internal follow-up command, got %q", last.Parts[0].Text)
	}
	system := req.Config.SystemInstruction.Parts[0].Text
	if !strings.Contains(system, "German") {
		t.Fatalf("expected language instruction in system prompt, got %q", system)
	}
	if req.Config.MaxOutputTokens != 200 {
		t.Fatalf("expected follow-up token cap 200, got %d", req.Config.MaxOutputTokens)
	}
}

func TestGenerateDetectsLanguageWhenUnknown(t *testing.T) {
	llm := &scriptedLLM{steps: []step{{text: "es"}, {text: "¡Hola! ¿En qué puedo ayudarte?"}}}
	g := newTestGenerator(llm, &sleepRecorder{}, 0)

	reply, err := g.Generate(context.Background(), Request{Kind: KindReply, History: history("¿Hola, cómo están?")})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if reply.Language != "es" || !reply.LanguageConfident {
		t.Fatalf("expected confident es, got %q (confident=%v)", reply.Language, reply.LanguageConfident)
	}
	if llm.calls() != 2 {
		t.Fatalf("expected detection plus reply calls, got %d", llm.calls())
	}
}

func TestGenerateFallbackLanguageIsNotConfident(t *testing.T) {
	llm := &scriptedLLM{steps: []step{{text: "Nice picture! What would you like to know?"}}}
	g := newTestGenerator(llm, &sleepRecorder{}, 0)

	reply, err := g.Generate(context.Background(), Request{Kind: KindReply, History: history("")})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if reply.Language != DefaultLanguage || reply.LanguageConfident {
		t.Fatalf("expected unconfident fallback, got %q (confident=%v)", reply.Language, reply.LanguageConfident)
	}
	if llm.calls() != 1 {
		t.Fatalf("empty text must not be sent for detection, got %d calls", llm.calls())
	}
}

func TestDetectLanguageFailureIsNotConfident(t *testing.T) {
	llm := &scriptedLLM{steps: []step{{text: "???"}}}
	g := newTestGenerator(llm, &sleepRecorder{}, 0)

	if code, ok := g.DetectLanguage(context.Background(), "L", "Grüß Gott, wie geht's?"); ok || code != DefaultLanguage {
		t.Fatalf("expected unconfident fallback, got %q,%v", code, ok)
	}
	if code, ok := g.DetectLanguage(context.Background(), "L", "Hello there"); !ok || code != "en" {
		t.Fatalf("expected confident en, got %q,%v", code, ok)
	}
}

func TestOpenerFallsBack(t *testing.T) {
	if Opener("b", "ru") == Opener("a", "ru") {
		t.Fatalf("expected variants to differ")
	}
	if Opener("zz", "fr") != Opener("a", "en") {
		t.Fatalf("expected unknown variant and language to fall back to a/en")
	}
}
