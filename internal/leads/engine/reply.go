package engine

import (
	"context"
	"errors"
	"strings"

	"leadengine/internal/dispatch"
	"leadengine/internal/leads/agent"
	"leadengine/internal/leads/domain"
	"leadengine/internal/leads/store"
	"leadengine/platform/apperr"
	"leadengine/platform/phone"
)

// replyKey is the idempotency key of the agent turn answering eventID.
func replyKey(eventID string) string {
	return eventID + ":reply"
}

// deliver sends reply on sendCtx and records whatever actually went out.
// A reply of which at least one part was delivered counts as the answer;
// the remaining parts are not retried.
func (e *Engine) deliver(ctx, sendCtx context.Context, p *plan, reply agent.Reply) result {
	lead := p.lead
	eventID := p.action.EventID
	followUp := p.action.Kind == domain.ActionFollowUp

	parts := dispatch.SplitParts(reply.Text)
	if len(parts) == 0 {
		return e.generationFailed(ctx, p, apperr.Transient("empty reply", agent.ErrUnavailable))
	}
	contents := e.render(sendCtx, lead, parts, p.forceVoice)

	acks, sendErr := e.sender.SendAll(sendCtx, lead.ID, contents)
	if followUp && sendErr != nil && sendCtx.Err() != nil && ctx.Err() == nil {
		e.log.Info("engine: follow-up superseded by inbound message", "lead_id", lead.ID, "event_id", eventID)
	}

	res := result{sent: len(acks) > 0}
	partial := sendErr != nil && len(acks) > 0 && !errors.Is(sendErr, dispatch.ErrRecipientGone)
	err := e.store.UpdateLead(ctx, lead.ID, func(tx *store.Tx, l *domain.Lead) error {
		if len(acks) > 0 {
			sent := contents[:len(acks)]
			modality := domain.ModalityText
			texts := make([]string, len(sent))
			for i, c := range sent {
				texts[i] = c.Text
				m := domain.ModalityText
				if c.IsVoice() {
					m = domain.ModalityVoice
					modality = domain.ModalityVoice
				}
				tx.Stats().RecordOutbound(acks[i].SentAt, m, followUp)
			}
			domain.RecordReply(l, replyKey(eventID), strings.Join(texts, "\n"), modality, acks[len(acks)-1].SentAt)
			if !followUp && !p.manual {
				tx.Stats().RecordResponseTime(e.now().Sub(p.started))
			}
		}
		if l.Language == "" && reply.Language != "" && reply.LanguageConfident {
			l.Language = reply.Language
		}
		if followUp {
			domain.CompleteFollowUp(l, eventID)
		}

		if sendErr != nil && !partial {
			res.transition, res.unanswered = e.sendFailed(tx, l, p, sendErr)
			return nil
		}
		if followUp {
			domain.ResolvePending(l, eventID)
		} else {
			domain.ResolveAnswered(l, eventID)
		}
		res.transition = e.applyReply(tx, l, p, reply)
		return nil
	})
	if err != nil {
		e.log.Error("engine: failed to record reply", "lead_id", lead.ID, "event_id", eventID, "error", err)
		return res
	}

	if partial {
		e.log.Warn("engine: reply delivered in part", "lead_id", lead.ID, "event_id", eventID, "parts", len(acks), "of", len(contents), "error", sendErr)
	}
	if sendErr == nil {
		e.log.Info("engine: reply sent", "lead_id", lead.ID, "event_id", eventID, "action", p.action.Kind, "parts", len(acks), "attempts", reply.Attempts)
	}
	if res.transition.Changed() {
		e.log.Transition(lead.ID, string(res.transition.From), string(res.transition.To), "reply")
		e.publishTransition(lead.ID, res.transition, "reply")
	}
	return res
}

func (e *Engine) render(ctx context.Context, lead *domain.Lead, parts []string, force bool) []dispatch.Content {
	if e.voice != nil && e.voice.Enabled() {
		return e.voice.Render(ctx, lead, parts, force)
	}
	out := make([]dispatch.Content, len(parts))
	for i, p := range parts {
		out[i] = dispatch.Content{Text: p}
	}
	return out
}

// applyReply folds intent signals and a collected application into the lead.
func (e *Engine) applyReply(tx *store.Tx, l *domain.Lead, p *plan, reply agent.Reply) domain.Transition {
	now := tx.Now()
	if app := reply.Application; app != nil && l.Application == nil {
		l.Application = app
		if tz := phone.TimeZone(app.Phone); tz != "" {
			l.TimeZone = tz
		} else if tz, ok := domain.ZoneForCountry(app.Country); ok {
			l.TimeZone = tz
		}
		tx.Stats().RecordApplication(now)
		p.notices = append(p.notices, e.notice(NoticeApplication, l, p.lastText))
	}
	if reply.HasSignal(domain.SignalCallAccept) {
		tx.Stats().CallAgreements++
		p.notices = append(p.notices, e.notice(NoticeCallAgreed, l, p.lastText))
	}

	tr := e.intents.Apply(l, reply.Signals, now)
	if tr.Changed() && tr.To == domain.TemperatureHot {
		p.notices = append(p.notices, e.notice(NoticeHotLead, l, p.lastText))
	}
	return tr
}

// sendFailed records a failed send. It reports whether the event was queued
// for a later retry.
func (e *Engine) sendFailed(tx *store.Tx, l *domain.Lead, p *plan, err error) (domain.Transition, bool) {
	eventID := p.action.EventID
	none := domain.Transition{From: l.Temperature, To: l.Temperature}

	switch {
	case errors.Is(err, dispatch.ErrRecipientGone):
		e.log.Warn("engine: recipient unreachable", "lead_id", l.ID, "error", err)
		domain.ResolvePending(l, eventID)
		p.notices = append(p.notices, e.notice(NoticeRecipientGone, l, err.Error()))
		return domain.MarkUnreachable(l, tx.Now()), false
	case p.action.Kind == domain.ActionFollowUp:
		// The count stays reserved; the next sweep decides again.
		return none, false
	case errors.Is(err, context.Canceled):
		domain.MarkUnanswered(l, eventID, "send cancelled", tx.Now())
		return none, true
	}

	domain.MarkUnanswered(l, eventID, "send failed: "+apperr.GetKind(err).String(), tx.Now())
	if apperr.Is(err, apperr.KindPermanent) {
		tx.Stats().Unanswerable++
		p.notices = append(p.notices, e.notice(NoticeUnanswerable, l, "send failed: "+err.Error()))
	}
	e.log.Warn("engine: send failed", "lead_id", l.ID, "event_id", eventID, "error", err)
	return none, true
}
