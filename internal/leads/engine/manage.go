package engine

import (
	"context"
	"fmt"
	"strings"

	"leadengine/internal/leads/agent"
	"leadengine/internal/leads/domain"
	"leadengine/internal/leads/store"
	"leadengine/platform/apperr"

	"github.com/google/uuid"
)

// Block stops all automation for the lead and cancels a pending follow-up.
func (e *Engine) Block(ctx context.Context, leadID string) (domain.Transition, error) {
	e.cancelFollowUp(leadID, "")
	return e.manage(ctx, leadID, "block", func(tx *store.Tx, l *domain.Lead) domain.Transition {
		tr := domain.Block(l, tx.Now())
		if tr.Changed() {
			tx.Stats().Blocks++
		}
		return tr
	})
}

func (e *Engine) Unblock(ctx context.Context, leadID string) (domain.Transition, error) {
	return e.manage(ctx, leadID, "unblock", func(tx *store.Tx, l *domain.Lead) domain.Transition {
		return domain.Unblock(l, tx.Now())
	})
}

func (e *Engine) Convert(ctx context.Context, leadID string) (domain.Transition, error) {
	return e.manage(ctx, leadID, "convert", func(tx *store.Tx, l *domain.Lead) domain.Transition {
		return domain.Convert(l, tx.Now())
	})
}

// Reset clears the conversation. The lead keeps its id and variant.
func (e *Engine) Reset(ctx context.Context, leadID string) (domain.Transition, error) {
	e.cancelFollowUp(leadID, "")
	return e.manage(ctx, leadID, "reset", func(tx *store.Tx, l *domain.Lead) domain.Transition {
		return domain.Reset(l, tx.Now())
	})
}

func (e *Engine) manage(ctx context.Context, leadID, cause string, fn func(*store.Tx, *domain.Lead) domain.Transition) (domain.Transition, error) {
	unlock, err := e.locks.Lock(ctx, leadID)
	if err != nil {
		return domain.Transition{}, err
	}
	defer unlock()

	var tr domain.Transition
	err = e.store.UpdateLead(ctx, leadID, func(tx *store.Tx, l *domain.Lead) error {
		tr = fn(tx, l)
		return nil
	})
	if err != nil {
		return tr, err
	}
	e.log.Info("engine: manager command applied", "lead_id", leadID, "command", cause, "from", tr.From, "to", tr.To)
	if tr.Changed() {
		e.log.Transition(leadID, string(tr.From), string(tr.To), cause)
		e.publishTransition(leadID, tr, cause)
	}
	return tr, nil
}

// Push asks the generator to write the manager's instruction to the lead in
// the agent's voice and sends it right away.
func (e *Engine) Push(ctx context.Context, leadID, instruction string) (Outcome, error) {
	out := Outcome{LeadID: leadID, Action: domain.ActionReply}
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return out, apperr.Validation("instruction is required")
	}

	unlock, err := e.locks.Lock(ctx, leadID)
	if err != nil {
		return out, err
	}
	defer unlock()

	lead, ok := e.store.Lead(leadID)
	if !ok {
		return out, apperr.NotFound(fmt.Sprintf("lead %s not found", leadID))
	}
	if lead.Blocked {
		return out, apperr.Conflict(fmt.Sprintf("lead %s is blocked", leadID))
	}

	p := plan{
		lead:    lead,
		action:  domain.Action{Kind: domain.ActionReply, EventID: "push-" + uuid.NewString()},
		started: e.now(),
		manual:  true,
	}
	reply, err := e.gen.Generate(ctx, agent.Request{
		Kind:                 agent.KindPush,
		LeadID:               lead.ID,
		History:              lead.History(0),
		Language:             lead.Language,
		Variant:              lead.ABVariant,
		Instruction:          instruction,
		ApplicationCollected: lead.Application != nil,
	})
	if err != nil {
		return out, err
	}

	res := e.deliver(ctx, ctx, &p, reply)
	for _, n := range p.notices {
		e.publish(n)
	}
	out.Sent = res.sent
	out.Transition = res.transition
	if !res.sent {
		// Nothing went out; drop the pending marker deliver may have left.
		if uerr := e.store.UpdateLead(ctx, leadID, func(_ *store.Tx, l *domain.Lead) error {
			domain.ResolvePending(l, p.action.EventID)
			return nil
		}); uerr != nil {
			e.log.Error("engine: failed to clear push marker", "lead_id", leadID, "error", uerr)
		}
		return out, apperr.Transient("push was not delivered", nil)
	}
	return out, nil
}
