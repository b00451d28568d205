package engine

import (
	"time"

	"leadengine/internal/leads/domain"
	"leadengine/platform/events"
)

// NoticeKind classifies manager channel notices.
type NoticeKind string

const (
	NoticeApplication   NoticeKind = "application"
	NoticeCallAgreed    NoticeKind = "call_agreed"
	NoticeHotLead       NoticeKind = "hot_lead"
	NoticeUnanswerable  NoticeKind = "unanswerable"
	NoticeRecipientGone NoticeKind = "recipient_gone"
	NoticeTerminalReply NoticeKind = "terminal_reply"
)

const (
	EventNameNotice     = "leads.notice"
	EventNameTransition = "leads.transition"
)

// Notice asks the manager channel to look at a lead.
type Notice struct {
	events.BaseEvent
	Kind        NoticeKind
	LeadID      string
	DisplayName string
	Username    string
	Temperature domain.Temperature
	Text        string
	Application *domain.Application
}

func (Notice) EventName() string { return EventNameNotice }

// LeadTransitioned is published whenever a lead's temperature moves.
type LeadTransitioned struct {
	events.BaseEvent
	LeadID string
	From   domain.Temperature
	To     domain.Temperature
	Cause  string
}

func (LeadTransitioned) EventName() string { return EventNameTransition }

func baseAt(at time.Time) events.BaseEvent {
	return events.BaseEvent{Timestamp: at}
}
