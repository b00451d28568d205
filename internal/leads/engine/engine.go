// Package engine runs inbound and scheduled events through the lead state
// machine, the reply generator, the voice service and the dispatcher.
//
// Work for one lead is serialised by an exclusive per-lead token held from
// the state-machine step until the resulting send has completed. Every
// mutation goes through the store, so a returned outcome is durable.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"leadengine/internal/dispatch"
	"leadengine/internal/leads/agent"
	"leadengine/internal/leads/domain"
	"leadengine/internal/leads/store"
	"leadengine/platform/apperr"
	"leadengine/platform/config"
	"leadengine/platform/events"
	"leadengine/platform/logger"
	"leadengine/platform/metrics"
)

// Generator produces reply text.
type Generator interface {
	Generate(ctx context.Context, req agent.Request) (agent.Reply, error)
	// DetectLanguage reports false when it fell back to a default.
	DetectLanguage(ctx context.Context, leadID, text string) (string, bool)
}

// Sender delivers a multi-part message in one FIFO slot.
type Sender interface {
	SendAll(ctx context.Context, leadID string, contents []dispatch.Content) ([]dispatch.Ack, error)
}

// Voice renders reply parts as voice notes and transcribes inbound audio.
type Voice interface {
	Enabled() bool
	Render(ctx context.Context, lead *domain.Lead, parts []string, force bool) []dispatch.Content
	Transcribe(ctx context.Context, leadID string, audio []byte, fileName string) (string, error)
}

// Deps are the collaborators of an Engine. Voice and Metrics are optional.
type Deps struct {
	Store     *store.Store
	Generator Generator
	Sender    Sender
	Voice     Voice
	Bus       events.Bus
	Intents   *domain.IntentTable
	Metrics   *metrics.Metrics
	Log       *logger.Logger
}

// Outcome summarises what happened to one processed event batch.
type Outcome struct {
	LeadID     string
	Action     domain.ActionKind
	Duplicate  bool
	Sent       bool
	Unanswered bool
	Transition domain.Transition
}

type Engine struct {
	store    *store.Store
	gen      Generator
	sender   Sender
	voice    Voice
	bus      events.Bus
	intents  *domain.IntentTable
	metrics  *metrics.Metrics
	log      *logger.Logger
	variants []string

	locks *keyLock
	batch *batcher
	now   func() time.Time

	fuMu      sync.Mutex
	followUps map[string]followUpSend
	// inboundAt is when a transport event for the lead was last submitted.
	inboundAt map[string]time.Time

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

type followUpSend struct {
	eventID string
	cancel  context.CancelFunc
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock replaces the time source used for turn timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(deps Deps, gen config.GenerationConfig, disp config.DispatchConfig, opts ...Option) *Engine {
	intents := deps.Intents
	if intents == nil {
		intents = domain.DefaultIntentTable()
	}
	ctx, stop := context.WithCancel(context.Background())
	e := &Engine{
		store:     deps.Store,
		gen:       deps.Generator,
		sender:    deps.Sender,
		voice:     deps.Voice,
		bus:       deps.Bus,
		intents:   intents,
		metrics:   deps.Metrics,
		log:       deps.Log.WithComponent("engine"),
		variants:  gen.GetABVariants(),
		locks:     newKeyLock(),
		now:       time.Now,
		followUps: make(map[string]followUpSend),
		inboundAt: make(map[string]time.Time),
		baseCtx:   ctx,
		stop:      stop,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.batch = newBatcher(disp.GetInboundBatchWindow(), e.flushBatch)
	return e
}

// Submit queues an inbound transport event. Bursts from one lead are merged
// inside the batching window and processed in the background.
func (e *Engine) Submit(ev domain.Event) error {
	if ev.Kind.Synthetic() {
		return apperr.BadRequest("synthetic events must use HandleEvent")
	}
	e.noteInbound(ev.LeadID)
	if !e.batch.add(ev) {
		return apperr.Transient("engine is shutting down", nil)
	}
	return nil
}

func (e *Engine) flushBatch(leadID string, evs []domain.Event) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.process(e.baseCtx, evs); err != nil {
			e.log.Error("engine: event batch failed", "lead_id", leadID, "events", len(evs), "error", err)
		}
	}()
}

// Close flushes pending batches, waits for in-flight work and then cancels
// the engine context.
func (e *Engine) Close() {
	e.batch.close()
	e.wg.Wait()
	e.stop()
}

// HandleEvent processes one event synchronously. The scheduler uses it for
// follow-ups and unanswered retries.
func (e *Engine) HandleEvent(ctx context.Context, ev domain.Event) (Outcome, error) {
	if !ev.Kind.Synthetic() {
		e.noteInbound(ev.LeadID)
	}
	return e.process(ctx, []domain.Event{ev})
}

// plan is what the state-machine step decided, captured from inside the
// store transaction.
type plan struct {
	lead       *domain.Lead
	action     domain.Action
	transition domain.Transition
	duplicate  bool
	first      bool
	forceVoice bool
	image      *domain.Media
	// eventAt is when the event behind action was created.
	eventAt  time.Time
	lastText string
	started  time.Time
	// manual is set for manager pushes, which have no inbound event.
	manual  bool
	notices []Notice
}

func (e *Engine) process(ctx context.Context, evs []domain.Event) (Outcome, error) {
	leadID := evs[0].LeadID
	out := Outcome{LeadID: leadID, Action: domain.ActionNone}
	started := e.now()

	notices := e.transcribe(ctx, evs)

	unlock, err := e.locks.Lock(ctx, leadID)
	if err != nil {
		return out, err
	}
	defer unlock()

	var p plan
	err = e.store.Update(ctx, func(tx *store.Tx) error {
		p = e.apply(tx, leadID, evs)
		return nil
	})
	if err != nil {
		e.countInbound("failed")
		return out, fmt.Errorf("apply events for %s: %w", leadID, err)
	}
	if p.lead == nil {
		e.countInbound("ignored")
		return out, apperr.NotFound(fmt.Sprintf("lead %s not found", leadID))
	}
	p.started = started
	p.notices = append(p.notices, notices...)
	out.Duplicate = p.duplicate
	out.Action = p.action.Kind
	out.Transition = p.transition
	e.publishTransition(p.lead.ID, p.transition, string(evs[0].Kind))

	if p.duplicate {
		e.countInbound("duplicate")
		return out, nil
	}

	res := e.execute(ctx, &p)
	out.Sent = res.sent
	out.Unanswered = res.unanswered
	if res.transition.Changed() {
		out.Transition = res.transition
	}
	for _, n := range p.notices {
		e.publish(n)
	}

	switch {
	case res.sent:
		e.countInbound("replied")
	case res.unanswered:
		e.countInbound("unanswered")
	default:
		e.countInbound("no_reply")
	}
	return out, nil
}

// transcribe fills in text for voice notes that arrived without it.
func (e *Engine) transcribe(ctx context.Context, evs []domain.Event) []Notice {
	var notices []Notice
	for i := range evs {
		ev := &evs[i]
		if ev.Kind != domain.EventVoice || strings.TrimSpace(ev.Text) != "" || ev.Audio == nil {
			continue
		}
		if e.voice == nil || !e.voice.Enabled() {
			continue
		}
		text, err := e.voice.Transcribe(ctx, ev.LeadID, ev.Audio.Data, ev.Audio.FileName)
		if err != nil {
			e.log.Warn("engine: transcription failed", "lead_id", ev.LeadID, "event_id", ev.ID, "error", err)
			notices = append(notices, Notice{
				BaseEvent: baseAt(e.now()),
				Kind:      NoticeUnanswerable,
				LeadID:    ev.LeadID,
				Text:      "voice message could not be transcribed",
			})
			continue
		}
		ev.Text = text
		ev.Modality = domain.ModalityVoice
	}
	return notices
}

// apply runs the state machine over evs inside a store transaction.
func (e *Engine) apply(tx *store.Tx, leadID string, evs []domain.Event) plan {
	var p plan
	if l, ok := tx.Peek(leadID); ok && allSeen(l, evs) {
		p.lead = l.Clone()
		p.duplicate = true
		p.action = domain.Action{Kind: domain.ActionNone}
		return p
	}

	lead, ok := tx.Lead(leadID)
	if !ok {
		if evs[0].Kind.Synthetic() {
			return p
		}
		lead = domain.NewLead(leadID, domain.AssignVariant(leadID, e.variants), evs[0].At)
		tx.Put(lead)
		tx.Stats().RecordNewLead(evs[0].At)
		e.log.Info("engine: new lead", "lead_id", leadID, "variant", lead.ABVariant)
	}

	p.action = domain.Action{Kind: domain.ActionNone}
	p.transition = domain.Transition{From: lead.Temperature, To: lead.Temperature}
	seenAny := false
	for _, ev := range evs {
		tr := domain.HandleEvent(lead, ev)
		if tr.Duplicate {
			continue
		}
		seenAny = true
		if !ev.Kind.Synthetic() {
			tx.Stats().RecordInbound(ev.At)
			if strings.TrimSpace(ev.Text) != "" {
				p.lastText = ev.Text
			}
			if domain.DetectPreference(ev.Text) == domain.PreferenceMoreVoice {
				p.forceVoice = true
			}
		}
		if tr.Action.Kind == domain.ActionFirstReply {
			p.first = true
		}
		if tr.Action.Kind != domain.ActionNone {
			p.action = tr.Action
			p.image = ev.Image
			p.eventAt = ev.At
		}
	}
	p.transition.To = lead.Temperature
	p.duplicate = !seenAny
	if p.transition.Changed() {
		e.log.Transition(leadID, string(p.transition.From), string(p.transition.To), string(evs[0].Kind))
	}
	if p.first {
		p.forceVoice = true
	}
	p.lead = lead.Clone()
	return p
}

func allSeen(l *domain.Lead, evs []domain.Event) bool {
	for _, ev := range evs {
		if ev.Kind.Synthetic() || !l.HasEvent(ev.ID) {
			return false
		}
	}
	return true
}

type result struct {
	sent       bool
	unanswered bool
	transition domain.Transition
}

func (e *Engine) execute(ctx context.Context, p *plan) result {
	lead := p.lead
	switch p.action.Kind {
	case domain.ActionNone:
		return result{}
	case domain.ActionNotifyManager:
		p.notices = append(p.notices, e.notice(NoticeTerminalReply, lead, p.lastText))
		return result{}
	case domain.ActionFirstReply:
		lang, confident := lead.Language, true
		if lang == "" {
			lang, confident = e.gen.DetectLanguage(ctx, lead.ID, p.lastText)
		}
		reply := agent.Reply{Text: agent.Opener(lead.ABVariant, lang), Language: lang, LanguageConfident: confident}
		return e.deliver(ctx, ctx, p, reply)
	}

	req := agent.Request{
		Kind:                 agent.KindReply,
		LeadID:               lead.ID,
		History:              lead.History(0),
		Language:             lead.Language,
		Variant:              lead.ABVariant,
		ApplicationCollected: lead.Application != nil,
	}
	switch p.action.Kind {
	case domain.ActionStickerReply:
		req.Kind = agent.KindSticker
	case domain.ActionFollowUp:
		req.Kind = agent.KindFollowUp
		req.Attempt = p.action.Attempt
	case domain.ActionReply:
		if p.action.Vision && p.image != nil {
			req.Kind = agent.KindVision
			req.Image = p.image
		}
	}

	// A follow-up is cancellable by inbound traffic until its send completes.
	workCtx := ctx
	if p.action.Kind == domain.ActionFollowUp {
		var cancel context.CancelFunc
		workCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		if !e.registerFollowUp(lead.ID, p.action.EventID, p.eventAt, cancel) {
			return e.followUpSuperseded(ctx, p)
		}
		defer e.cancelFollowUp(lead.ID, p.action.EventID)
	}

	reply, err := e.gen.Generate(workCtx, req)
	if err != nil {
		if workCtx.Err() != nil && ctx.Err() == nil {
			return e.followUpSuperseded(ctx, p)
		}
		return e.generationFailed(ctx, p, err)
	}
	return e.deliver(ctx, workCtx, p, reply)
}

// followUpSuperseded releases the reservation of a follow-up that inbound
// traffic overtook before anything was sent.
func (e *Engine) followUpSuperseded(ctx context.Context, p *plan) result {
	eventID := p.action.EventID
	e.log.Info("engine: follow-up superseded by inbound message", "lead_id", p.lead.ID, "event_id", eventID)
	err := e.store.UpdateLead(ctx, p.lead.ID, func(_ *store.Tx, l *domain.Lead) error {
		domain.CompleteFollowUp(l, eventID)
		return nil
	})
	if err != nil {
		e.log.Error("engine: failed to release follow-up", "lead_id", p.lead.ID, "event_id", eventID, "error", err)
	}
	return result{}
}

func (e *Engine) generationFailed(ctx context.Context, p *plan, genErr error) result {
	lead := p.lead
	eventID := p.action.EventID
	reason := "generation failed: " + apperr.GetKind(genErr).String()
	if errors.Is(genErr, agent.ErrUnavailable) {
		reason = "generation unavailable"
	}
	e.log.Warn("engine: event left unanswered", "lead_id", lead.ID, "event_id", eventID, "action", p.action.Kind, "error", genErr)

	err := e.store.UpdateLead(ctx, lead.ID, func(tx *store.Tx, l *domain.Lead) error {
		if p.action.Kind == domain.ActionFollowUp {
			domain.CompleteFollowUp(l, eventID)
			return nil
		}
		domain.MarkUnanswered(l, eventID, reason, tx.Now())
		tx.Stats().Unanswerable++
		return nil
	})
	if err != nil {
		e.log.Error("engine: failed to record unanswered event", "lead_id", lead.ID, "event_id", eventID, "error", err)
	}
	if p.action.Kind != domain.ActionFollowUp {
		p.notices = append(p.notices, e.notice(NoticeUnanswerable, lead, reason+": "+truncate(p.lastText, 200)))
	}
	return result{unanswered: true}
}

func (e *Engine) notice(kind NoticeKind, lead *domain.Lead, text string) Notice {
	return Notice{
		BaseEvent:   baseAt(e.now()),
		Kind:        kind,
		LeadID:      lead.ID,
		DisplayName: lead.DisplayName,
		Username:    lead.Username,
		Temperature: lead.Temperature,
		Text:        text,
		Application: lead.Application,
	}
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(e.baseCtx, ev)
	}
}

func (e *Engine) publishTransition(leadID string, tr domain.Transition, cause string) {
	if !tr.Changed() {
		return
	}
	e.publish(LeadTransitioned{BaseEvent: baseAt(e.now()), LeadID: leadID, From: tr.From, To: tr.To, Cause: cause})
}

func (e *Engine) countInbound(outcome string) {
	if e.metrics != nil {
		e.metrics.InboundEvents.WithLabelValues(outcome).Inc()
	}
}

// registerFollowUp makes an in-progress follow-up cancellable by inbound
// traffic for the same lead. It reports false when a transport event was
// submitted after scheduled, the time the sweep planned the follow-up.
func (e *Engine) registerFollowUp(leadID, eventID string, scheduled time.Time, cancel context.CancelFunc) bool {
	e.fuMu.Lock()
	defer e.fuMu.Unlock()
	if last, ok := e.inboundAt[leadID]; ok && last.After(scheduled) {
		return false
	}
	e.followUps[leadID] = followUpSend{eventID: eventID, cancel: cancel}
	return true
}

// noteInbound records a transport event for leadID and cancels its pending
// follow-up.
func (e *Engine) noteInbound(leadID string) {
	e.fuMu.Lock()
	e.inboundAt[leadID] = e.now()
	e.fuMu.Unlock()
	e.cancelFollowUp(leadID, "")
}

// cancelFollowUp cancels the pending follow-up for leadID. A non-empty
// eventID only cancels that follow-up.
func (e *Engine) cancelFollowUp(leadID, eventID string) {
	e.fuMu.Lock()
	f, ok := e.followUps[leadID]
	if ok && (eventID == "" || f.eventID == eventID) {
		delete(e.followUps, leadID)
	}
	e.fuMu.Unlock()
	if ok && (eventID == "" || f.eventID == eventID) {
		f.cancel()
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
