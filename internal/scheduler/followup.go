// Package scheduler runs the periodic follow-up sweep and the backup loop,
// and optionally moves the resulting lead events over an asynq queue.
package scheduler

import (
	"context"
	"fmt"
	"slices"
	"time"

	"leadengine/internal/leads/domain"
	"leadengine/internal/leads/engine"
	"leadengine/internal/leads/store"
	"leadengine/platform/config"
	"leadengine/platform/events"
	"leadengine/platform/logger"
	"leadengine/platform/metrics"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSweepInterval = 5 * time.Minute
	defaultFollowUpDelay = 3 * time.Hour
	// maxRetryAttempts bounds how often one unanswered event is retried.
	maxRetryAttempts = 3
	sweepConcurrency = 4
	causeExhausted   = "follow-ups exhausted"
)

// EventHandler processes one synthetic event synchronously.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev domain.Event) (engine.Outcome, error)
}

// Enqueuer hands events to a task queue instead of the engine.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload EventPayload) error
}

// FollowUps decides which leads get nudged and which unanswered events get
// another try. Reservations are committed to the store before anything is
// dispatched, so a crash mid-sweep never exceeds the follow-up cap.
type FollowUps struct {
	store    *store.Store
	handler  EventHandler
	queue    Enqueuer
	interval time.Duration
	delay    time.Duration
	max      int
	quiet    domain.QuietHours
	fallback *time.Location
	// inFlightTTL is how long an enqueued follow-up may stay unsent before
	// its reservation is considered lost.
	inFlightTTL time.Duration

	now     func() time.Time
	newID   func() string
	metrics *metrics.Metrics
	bus     events.Bus
	log     *logger.Logger
}

type Option func(*FollowUps)

// WithQueue routes events through q.
func WithQueue(q Enqueuer) Option {
	return func(f *FollowUps) { f.queue = q }
}

func WithClock(now func() time.Time) Option {
	return func(f *FollowUps) { f.now = now }
}

func WithIDs(newID func() string) Option {
	return func(f *FollowUps) { f.newID = newID }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *FollowUps) { f.metrics = m }
}

// WithBus publishes cold transitions and abandoned events on bus.
func WithBus(bus events.Bus) Option {
	return func(f *FollowUps) { f.bus = bus }
}

func NewFollowUps(st *store.Store, handler EventHandler, cfg config.FollowUpConfig, log *logger.Logger, opts ...Option) *FollowUps {
	interval := cfg.GetFollowUpInterval()
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	delay := cfg.GetFollowUpDelay()
	if delay <= 0 {
		delay = defaultFollowUpDelay
	}
	offset := cfg.GetDefaultUTCOffsetHours()
	f := &FollowUps{
		store:       st,
		handler:     handler,
		interval:    interval,
		delay:       delay,
		max:         cfg.GetFollowUpMaxAttempts(),
		quiet:       domain.QuietHours{Start: cfg.GetNightStartHour(), End: cfg.GetNightEndHour()},
		fallback:    time.FixedZone(fmt.Sprintf("UTC%+d", offset), offset*3600),
		inFlightTTL: 4 * interval,
		now:         time.Now,
		newID:       uuid.NewString,
		log:         log.WithComponent("scheduler"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run sweeps immediately and then on every interval until ctx ends.
func (f *FollowUps) Run(ctx context.Context) {
	f.sweepAndLog(ctx)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.sweepAndLog(ctx)
		}
	}
}

func (f *FollowUps) sweepAndLog(ctx context.Context) {
	ids, err := f.Sweep(ctx)
	if err != nil {
		f.log.Error("scheduler: sweep failed", "error", err)
		return
	}
	if len(ids) > 0 {
		f.log.Info("scheduler: follow-ups enqueued", "leads", len(ids))
	}
}

type decision struct {
	followUps []domain.Event
	retries   []domain.Event
	cold      []domain.Transition
	coldIDs   []string
	// abandoned are unanswered events that ran out of retries.
	abandoned []engine.Notice
}

// Sweep reserves follow-ups for every eligible lead, dispatches them together
// with unanswered-event retries, and returns the ids of the leads nudged.
func (f *FollowUps) Sweep(ctx context.Context) ([]string, error) {
	start := time.Now()
	defer func() {
		if f.metrics != nil {
			f.metrics.ObserveSince(f.metrics.SweepDuration, start)
		}
	}()

	now := f.now()
	var d decision
	err := f.store.Update(ctx, func(tx *store.Tx) error {
		d = f.decide(tx, now)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reserve follow-ups: %w", err)
	}

	for i, tr := range d.cold {
		f.log.Transition(d.coldIDs[i], string(tr.From), string(tr.To), causeExhausted)
		if f.bus != nil {
			f.bus.Publish(ctx, engine.LeadTransitioned{
				BaseEvent: events.BaseEvent{Timestamp: now},
				LeadID:    d.coldIDs[i],
				From:      tr.From,
				To:        tr.To,
				Cause:     causeExhausted,
			})
		}
	}
	if f.bus != nil {
		for _, n := range d.abandoned {
			f.bus.Publish(ctx, n)
		}
	}
	if f.metrics != nil {
		f.metrics.FollowUpsEnqueued.Add(float64(len(d.followUps)))
	}
	f.reportTemperatures()

	f.dispatch(ctx, append(d.followUps, d.retries...))

	ids := make([]string, len(d.followUps))
	for i, ev := range d.followUps {
		ids[i] = ev.LeadID
	}
	return ids, nil
}

func (f *FollowUps) decide(tx *store.Tx, now time.Time) decision {
	var d decision
	for _, id := range tx.IDs() {
		l, ok := tx.Peek(id)
		if !ok {
			continue
		}

		if l.FollowUpInFlight != "" && now.Sub(l.FollowUpEnqueuedAt) > f.inFlightTTL {
			lead, _ := tx.Lead(id)
			f.log.Warn("scheduler: dropping stale follow-up reservation", "lead_id", id, "event_id", lead.FollowUpInFlight)
			domain.CompleteFollowUp(lead, lead.FollowUpInFlight)
			l = lead
		}

		if slices.ContainsFunc(l.Unanswered, retriesExhausted) {
			lead, _ := tx.Lead(id)
			for _, p := range domain.DropExhausted(lead, maxRetryAttempts) {
				f.log.Warn("scheduler: unanswered event abandoned", "lead_id", id, "event_id", p.EventID, "reason", p.Reason)
				d.abandoned = append(d.abandoned, engine.Notice{
					BaseEvent:   events.BaseEvent{Timestamp: now},
					Kind:        engine.NoticeUnanswerable,
					LeadID:      id,
					DisplayName: lead.DisplayName,
					Username:    lead.Username,
					Temperature: lead.Temperature,
					Text:        fmt.Sprintf("gave up after %d retries: %s", p.Attempts, p.Reason),
				})
			}
			l = lead
		}

		for _, p := range l.Unanswered {
			if !l.AutomationAllowed() {
				continue
			}
			d.retries = append(d.retries, domain.Event{
				ID:         f.newID(),
				LeadID:     id,
				Kind:       domain.EventRetryUnanswered,
				RefEventID: p.EventID,
				At:         now,
			})
		}

		if f.exhausted(l, now) {
			lead, _ := tx.Lead(id)
			if tr := domain.MarkCold(lead, f.max, now); tr.Changed() {
				d.cold = append(d.cold, tr)
				d.coldIDs = append(d.coldIDs, id)
			}
			continue
		}
		if !f.eligible(l, now) {
			continue
		}

		lead, _ := tx.Lead(id)
		eventID := f.newID()
		if domain.EnqueueFollowUp(lead, eventID, f.max, now) {
			d.followUps = append(d.followUps, domain.Event{
				ID:     eventID,
				LeadID: id,
				Kind:   domain.EventFollowUpDue,
				At:     now,
			})
		}
	}
	return d
}

// idle reports whether the lead has waited long enough on our last message
// with nothing outstanding.
func (f *FollowUps) idle(l *domain.Lead, now time.Time) bool {
	if !l.AutomationAllowed() || l.FollowUpInFlight != "" || len(l.Unanswered) > 0 {
		return false
	}
	last, ok := l.LastTurn()
	if !ok || last.Role != domain.RoleAgent {
		return false
	}
	return !l.LastOutboundAt.IsZero() && now.Sub(l.LastOutboundAt) >= f.delay
}

func retriesExhausted(p domain.PendingEvent) bool {
	return p.Attempts >= maxRetryAttempts
}

func (f *FollowUps) exhausted(l *domain.Lead, now time.Time) bool {
	return l.FollowUpCount >= f.max && f.idle(l, now)
}

func (f *FollowUps) eligible(l *domain.Lead, now time.Time) bool {
	return l.FollowUpCount < f.max &&
		f.idle(l, now) &&
		f.quiet.Allowed(now, l.Location(f.fallback))
}

func (f *FollowUps) dispatch(ctx context.Context, evs []domain.Event) {
	if len(evs) == 0 {
		return
	}
	var g errgroup.Group
	g.SetLimit(sweepConcurrency)
	for _, ev := range evs {
		g.Go(func() error {
			if err := f.deliver(ctx, ev); err != nil {
				f.log.Warn("scheduler: event dispatch failed", "lead_id", ev.LeadID, "event_id", ev.ID, "kind", ev.Kind, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (f *FollowUps) deliver(ctx context.Context, ev domain.Event) error {
	if f.queue != nil {
		return f.queue.Enqueue(ctx, EventPayload{
			LeadID:      ev.LeadID,
			EventID:     ev.ID,
			Kind:        ev.Kind,
			RefEventID:  ev.RefEventID,
			ScheduledAt: ev.At,
		})
	}
	_, err := f.handler.HandleEvent(ctx, ev)
	return err
}

func (f *FollowUps) reportTemperatures() {
	if f.metrics == nil {
		return
	}
	counts := make(map[domain.Temperature]int, len(domain.Temperatures))
	for _, l := range f.store.Snapshot().Leads {
		counts[l.Temperature]++
	}
	for _, t := range domain.Temperatures {
		f.metrics.LeadsByTemperature.WithLabelValues(string(t)).Set(float64(counts[t]))
	}
}
