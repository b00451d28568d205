package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"leadengine/internal/analytics"
	"leadengine/internal/health"
	"leadengine/internal/leads/domain"
	"leadengine/internal/leads/engine"
	"leadengine/internal/leads/store"
	"leadengine/platform/apperr"
)

const (
	statusTurns    = 6
	statusTurnText = 80
)

// Manager applies operator actions to leads.
type Manager interface {
	Block(ctx context.Context, leadID string) (domain.Transition, error)
	Unblock(ctx context.Context, leadID string) (domain.Transition, error)
	Convert(ctx context.Context, leadID string) (domain.Transition, error)
	Reset(ctx context.Context, leadID string) (domain.Transition, error)
	Push(ctx context.Context, leadID, instruction string) (engine.Outcome, error)
}

// Reader is the read side of the store.
type Reader interface {
	Snapshot() *store.State
	Lead(id string) (*domain.Lead, bool)
	LastSavedAt() time.Time
}

type HealthReporter interface {
	Report() health.Report
}

// Deps wires the standard command set.
type Deps struct {
	Manager Manager
	Store   Reader
	Health  HealthReporter
	Now     func() time.Time
}

// Standard returns the operator command set.
func Standard(d Deps) []Command {
	if d.Now == nil {
		d.Now = time.Now
	}
	transition := func(fn func(context.Context, string) (domain.Transition, error)) Func {
		return func(ctx context.Context, args Args) (Result, error) {
			tr, err := fn(ctx, args.LeadID)
			if err != nil {
				return Result{}, err
			}
			return Result{Payload: TransitionResult{
				LeadID:  args.LeadID,
				From:    tr.From,
				To:      tr.To,
				Changed: tr.Changed(),
			}}, nil
		}
	}

	return []Command{
		{Tag: "status", Scope: ScopeManager, Description: "lead status, or an overview without leadId", Run: d.status},
		{Tag: "block", Scope: ScopeManager, NeedsLead: true, Description: "stop all automation for a lead", Run: transition(d.Manager.Block)},
		{Tag: "unblock", Scope: ScopeManager, NeedsLead: true, Description: "resume automation for a lead", Run: transition(d.Manager.Unblock)},
		{Tag: "convert", Scope: ScopeManager, NeedsLead: true, Description: "mark a lead as converted", Run: transition(d.Manager.Convert)},
		{Tag: "push", Scope: ScopeManager, NeedsLead: true, Description: "send a generated message following an instruction", Run: d.push},
		{Tag: "analytics", Scope: ScopeManager, Description: "counters, daily activity and experiments", Run: d.analytics},
		{Tag: "export", Scope: ScopeManager, Description: "CSV export of leads or conversations", Run: d.export},
		{Tag: "healthcheck", Scope: ScopeManager, Description: "process liveness", Run: d.healthcheck},
		{Tag: "reset", Scope: ScopeDebug, NeedsLead: true, Description: "clear a conversation, keeping the variant", Run: transition(d.Manager.Reset)},
	}
}

// TransitionResult reports a manager state change.
type TransitionResult struct {
	LeadID  string             `json:"leadId"`
	From    domain.Temperature `json:"from"`
	To      domain.Temperature `json:"to"`
	Changed bool               `json:"changed"`
}

// LeadStatus is the status view of one lead.
type LeadStatus struct {
	LeadID      string              `json:"leadId"`
	DisplayName string              `json:"displayName,omitempty"`
	Username    string              `json:"username,omitempty"`
	Stage       string              `json:"stage"`
	Temperature domain.Temperature  `json:"temperature"`
	Variant     string              `json:"variant"`
	Language    string              `json:"language,omitempty"`
	FromLead    int                 `json:"fromLead"`
	FromAgent   int                 `json:"fromAgent"`
	FollowUps   int                 `json:"followUps"`
	Unanswered  int                 `json:"unanswered"`
	Application *domain.Application `json:"application,omitempty"`
	LastTurns   []domain.Turn       `json:"lastTurns"`
}

// Overview is the status view without a lead.
type Overview struct {
	Leads         int                        `json:"leads"`
	ByTemperature map[domain.Temperature]int `json:"byTemperature"`
	LastSavedAt   time.Time                  `json:"lastSavedAt,omitzero"`
}

// PushResult reports a manager push.
type PushResult struct {
	LeadID string `json:"leadId"`
	Sent   bool   `json:"sent"`
}

func (d Deps) status(_ context.Context, args Args) (Result, error) {
	if args.LeadID == "" {
		snap := d.Store.Snapshot()
		o := Overview{
			Leads:         len(snap.Leads),
			ByTemperature: make(map[domain.Temperature]int),
			LastSavedAt:   d.Store.LastSavedAt(),
		}
		for _, l := range snap.Leads {
			o.ByTemperature[l.Temperature]++
		}
		return Result{Payload: o}, nil
	}

	l, ok := d.Store.Lead(args.LeadID)
	if !ok {
		return Result{}, apperr.NotFound(fmt.Sprintf("lead %s not found", args.LeadID))
	}
	turns := l.History(statusTurns)
	for i := range turns {
		turns[i].Text = clip(turns[i].Text, statusTurnText)
	}
	return Result{Payload: LeadStatus{
		LeadID:      l.ID,
		DisplayName: l.DisplayName,
		Username:    l.Username,
		Stage:       stage(l),
		Temperature: l.Temperature,
		Variant:     l.ABVariant,
		Language:    l.Language,
		FromLead:    l.CountRole(domain.RoleCounterparty),
		FromAgent:   l.CountRole(domain.RoleAgent),
		FollowUps:   l.FollowUpCount,
		Unanswered:  len(l.Unanswered),
		Application: l.Application,
		LastTurns:   turns,
	}}, nil
}

// stage is a human summary of where the conversation stands.
func stage(l *domain.Lead) string {
	switch {
	case l.Blocked:
		return "blocked by manager"
	case l.Temperature == domain.TemperatureCold:
		return "gone cold"
	case l.Application != nil:
		return "application collected"
	case l.IsConverted():
		return "converted"
	case len(l.Conversation) == 0:
		return "new, no conversation"
	case len(l.Conversation) <= 4:
		return "opening"
	}
	return "in progress"
}

func (d Deps) push(ctx context.Context, args Args) (Result, error) {
	out, err := d.Manager.Push(ctx, args.LeadID, args.Instruction)
	if err != nil {
		return Result{}, err
	}
	return Result{Payload: PushResult{LeadID: args.LeadID, Sent: out.Sent}}, nil
}

func (d Deps) analytics(_ context.Context, args Args) (Result, error) {
	return Result{Payload: analytics.Build(d.Store.Snapshot(), d.Now(), args.Days)}, nil
}

func (d Deps) export(_ context.Context, args Args) (Result, error) {
	kind := analytics.ExportLeads
	if args.Format != "" {
		kind = analytics.ExportKind(args.Format)
	}
	snap := d.Store.Snapshot()
	return Result{File: &File{
		Name:        analytics.FileName(kind, d.Now()),
		ContentType: "text/csv",
		Write: func(w io.Writer) error {
			return analytics.Write(w, snap, kind, args.LeadID)
		},
	}}, nil
}

func (d Deps) healthcheck(context.Context, Args) (Result, error) {
	if d.Health == nil {
		return Result{}, apperr.Internal("health monitor not configured")
	}
	return Result{Payload: d.Health.Report()}, nil
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
