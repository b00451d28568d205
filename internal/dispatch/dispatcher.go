// Package dispatch serialises outbound messages to the transport. Sends for
// one lead leave in the order Send was called; every send first waits for the
// account-wide RateLimitState deadline.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"leadengine/platform/apperr"
	"leadengine/platform/config"
	"leadengine/platform/logger"
	"leadengine/platform/metrics"
)

// Transport delivers one message. Flow-control signals are returned as
// apperr.KindFlowControl errors carrying the requested wait.
type Transport interface {
	Send(ctx context.Context, leadID string, content Content) (Ack, error)
}

// Dispatcher is the single writer of RateLimitState. Flow-control errors
// never leave it: a signal that persists after one retry is returned as a
// transient error.
type Dispatcher struct {
	transport Transport
	limits    *RateLimitState
	quota     *quota

	typingPerChar time.Duration
	maxTyping     time.Duration

	mu    sync.Mutex
	lanes map[string]*lane

	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
}

type lane struct {
	tail    chan struct{}
	pending int
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithClock replaces the time source and sleep used for waits and typing.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(d *Dispatcher) {
		d.now = now
		d.sleep = sleep
	}
}

// WithMetrics records send outcomes and flow-control waits.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New creates a dispatcher bound to limits, which must be shared by every
// dispatcher using the same account.
func New(transport Transport, limits *RateLimitState, cfg config.DispatchConfig, log *logger.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport:     transport,
		limits:        limits,
		quota:         newQuota(cfg.GetDailySendLimit(), cfg.GetLeadDailySendLimit()),
		typingPerChar: cfg.GetTypingDelayPerChar(),
		maxTyping:     cfg.GetMaxTypingDelay(),
		lanes:         make(map[string]*lane),
		log:           log,
		now:           time.Now,
		sleep:         sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Send delivers one message.
func (d *Dispatcher) Send(ctx context.Context, leadID string, content Content) (Ack, error) {
	acks, err := d.SendAll(ctx, leadID, []Content{content})
	if err != nil {
		return Ack{}, err
	}
	return acks[0], nil
}

// SendAll delivers contents back to back in one FIFO slot so parts of a
// reply are never interleaved with other sends to the same lead. It stops
// at the first failure and returns the acks collected so far.
func (d *Dispatcher) SendAll(ctx context.Context, leadID string, contents []Content) ([]Ack, error) {
	release, err := d.enter(ctx, leadID)
	if err != nil {
		return nil, err
	}
	defer release()

	acks := make([]Ack, 0, len(contents))
	for _, c := range contents {
		ack, err := d.deliver(ctx, leadID, c)
		if err != nil {
			return acks, err
		}
		acks = append(acks, ack)
	}
	return acks, nil
}

// enter queues behind earlier sends for leadID. The returned release must
// be called once the caller's sends are finished.
func (d *Dispatcher) enter(ctx context.Context, leadID string) (func(), error) {
	d.mu.Lock()
	l, ok := d.lanes[leadID]
	if !ok {
		l = &lane{}
		d.lanes[leadID] = l
	}
	prev := l.tail
	mine := make(chan struct{})
	l.tail = mine
	l.pending++
	d.mu.Unlock()

	release := func() {
		close(mine)
		d.mu.Lock()
		l.pending--
		if l.pending == 0 {
			delete(d.lanes, leadID)
		}
		d.mu.Unlock()
	}

	if prev == nil {
		return release, nil
	}
	select {
	case <-prev:
		return release, nil
	case <-ctx.Done():
		// Keep the chain intact for later senders.
		go func() {
			<-prev
			release()
		}()
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, leadID string, content Content) (Ack, error) {
	if err := d.quota.reserve(leadID, d.now()); err != nil {
		d.outcome("limit")
		d.log.Warn("dispatch: send refused", "lead_id", leadID, "error", err)
		return Ack{}, err
	}

	if err := d.sleep(ctx, d.typingDelay(content)); err != nil {
		d.quota.release(leadID, d.now())
		return Ack{}, err
	}

	tries := 1
	ack, err := d.attempt(ctx, leadID, content)
	if wait, ok := apperr.RetryAfter(err); ok {
		d.flowControl(leadID, wait)
		tries++
		ack, err = d.attempt(ctx, leadID, content)
		if wait, ok := apperr.RetryAfter(err); ok {
			d.flowControl(leadID, wait)
			err = apperr.Transient("flow control persisted", err)
		}
	}
	if err != nil {
		d.quota.release(leadID, d.now())
		d.outcome(outcomeLabel(err))
		d.log.SendOutcome(leadID, sendKind(content), tries, err)
		return Ack{}, err
	}

	if ack.SentAt.IsZero() {
		ack.SentAt = d.now()
	}
	d.outcome("ok")
	return ack, nil
}

// attempt waits for the account deadline and tries the transport once.
func (d *Dispatcher) attempt(ctx context.Context, leadID string, content Content) (Ack, error) {
	if _, err := d.limits.Wait(ctx, d.now, d.sleep); err != nil {
		return Ack{}, err
	}
	return d.transport.Send(ctx, leadID, content)
}

func (d *Dispatcher) flowControl(leadID string, wait time.Duration) {
	d.limits.Defer(d.now().Add(wait))
	d.log.FlowControl(leadID, wait)
	if d.metrics != nil {
		d.metrics.FlowControlWaits.Inc()
		d.metrics.FlowControlSeconds.Observe(wait.Seconds())
	}
}

func (d *Dispatcher) typingDelay(c Content) time.Duration {
	if d.typingPerChar <= 0 || c.IsVoice() {
		return 0
	}
	delay := time.Duration(len([]rune(c.Text))) * d.typingPerChar
	if d.maxTyping > 0 && delay > d.maxTyping {
		delay = d.maxTyping
	}
	return delay
}

func (d *Dispatcher) outcome(label string) {
	if d.metrics != nil {
		d.metrics.OutboundSends.WithLabelValues(label).Inc()
	}
}

// DailyUsage returns today's global send count and cap.
func (d *Dispatcher) DailyUsage() (int, int) {
	return d.quota.usage(d.now())
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, ErrRecipientGone):
		return "recipient_gone"
	}
	return apperr.GetKind(err).String()
}

func sendKind(c Content) string {
	if c.IsVoice() {
		return "voice"
	}
	return "text"
}
