package domain

import (
	"time"
)

// ActionKind tells the caller what network-bound work a transition requires.
type ActionKind string

const (
	ActionNone          ActionKind = "none"
	ActionReply         ActionKind = "reply"
	ActionFirstReply    ActionKind = "first_reply"
	ActionStickerReply  ActionKind = "sticker_reply"
	ActionFollowUp      ActionKind = "follow_up"
	ActionNotifyManager ActionKind = "notify_manager"
)

// Action is the optional outbound work produced by a transition.
type Action struct {
	Kind ActionKind
	// EventID is the event the outbound message answers.
	EventID string
	// Attempt is the 1-based follow-up number for ActionFollowUp.
	Attempt int
	// Vision is set when the answered event carries an image.
	Vision bool
	Reason string
}

// Transition is the result of handling one event.
type Transition struct {
	From      Temperature
	To        Temperature
	Action    Action
	Duplicate bool
}

// Changed reports whether the temperature moved.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// HandleEvent applies ev to lead and decides what to do next. It mutates
// lead in place and never blocks. A repeated event id is a no-op.
func HandleEvent(lead *Lead, ev Event) Transition {
	tr := Transition{From: lead.Temperature, To: lead.Temperature, Action: Action{Kind: ActionNone, EventID: ev.ID}}

	switch ev.Kind {
	case EventFollowUpDue:
		return handleFollowUpDue(lead, ev, tr)
	case EventRetryUnanswered:
		return handleRetry(lead, ev, tr)
	}

	if lead.HasEvent(ev.ID) {
		tr.Duplicate = true
		return tr
	}

	modality := ev.Modality
	if modality == "" {
		modality = ModalityText
	}
	lead.Conversation = append(lead.Conversation, Turn{
		EventID:  ev.ID,
		Role:     RoleCounterparty,
		Text:     ev.Text,
		At:       ev.At,
		Modality: modality,
	})
	lead.LastInboundAt = ev.At
	lead.UpdatedAt = ev.At
	if ev.DisplayName != "" {
		lead.DisplayName = ev.DisplayName
	}
	if ev.Username != "" {
		lead.Username = ev.Username
	}

	// A live message supersedes any follow-up that has not gone out yet.
	lead.FollowUpInFlight = ""
	lead.FollowUpEnqueuedAt = time.Time{}

	applyPreference(lead, DetectPreference(ev.Text))

	if lead.Blocked {
		return tr
	}
	if lead.Temperature.IsTerminal() {
		tr.Action.Kind = ActionNotifyManager
		tr.Action.Reason = "reply from " + string(lead.Temperature) + " lead"
		return tr
	}
	if !ev.Substantive() {
		return tr
	}

	tr.Action.Vision = ev.Image != nil
	switch {
	case lead.Temperature == TemperatureNew:
		lead.Temperature = TemperatureEngaged
		tr.Action.Kind = ActionFirstReply
	case ev.Kind == EventSticker:
		tr.Action.Kind = ActionStickerReply
	default:
		tr.Action.Kind = ActionReply
	}
	if tr.Action.Vision && tr.Action.Kind == ActionFirstReply {
		// An opener cannot describe an image; let the generator see it.
		tr.Action.Kind = ActionReply
	}
	tr.To = lead.Temperature
	return tr
}

func handleFollowUpDue(lead *Lead, ev Event, tr Transition) Transition {
	if lead.HasEvent(ev.ID) {
		tr.Duplicate = true
		return tr
	}
	if lead.FollowUpInFlight != ev.ID {
		// Superseded by inbound traffic or already resolved.
		return tr
	}
	if !lead.AutomationAllowed() {
		lead.FollowUpInFlight = ""
		return tr
	}
	tr.Action.Kind = ActionFollowUp
	tr.Action.Attempt = lead.FollowUpCount
	return tr
}

func handleRetry(lead *Lead, ev Event, tr Transition) Transition {
	idx := lead.PendingIndex(ev.RefEventID)
	if idx < 0 {
		tr.Duplicate = true
		return tr
	}
	if lead.Blocked || lead.Temperature.IsTerminal() {
		lead.Unanswered = append(lead.Unanswered[:idx], lead.Unanswered[idx+1:]...)
		return tr
	}
	lead.Unanswered[idx].Attempts++
	tr.Action.Kind = ActionReply
	tr.Action.EventID = ev.RefEventID
	return tr
}

// RecordReply appends the agent's message for eventKey after a successful send.
// eventKey is "<answered event id>:reply" so repeated deliveries stay idempotent.
// The outbound timestamps move forward even when the key is already present.
func RecordReply(lead *Lead, eventKey, text string, modality Modality, at time.Time) bool {
	if lead.HasEvent(eventKey) {
		if at.After(lead.LastOutboundAt) {
			lead.LastOutboundAt = at
			lead.UpdatedAt = at
		}
		return false
	}
	lead.Conversation = append(lead.Conversation, Turn{
		EventID:  eventKey,
		Role:     RoleAgent,
		Text:     text,
		At:       at,
		Modality: modality,
	})
	lead.LastOutboundAt = at
	lead.UpdatedAt = at
	return true
}

// ResolvePending removes eventID from the unanswered queue.
func ResolvePending(lead *Lead, eventID string) {
	if idx := lead.PendingIndex(eventID); idx >= 0 {
		lead.Unanswered = append(lead.Unanswered[:idx], lead.Unanswered[idx+1:]...)
	}
}

// ResolveAnswered removes eventID from the unanswered queue together with
// every pending event whose turn precedes it in the conversation, since a
// reply is generated from the whole history.
func ResolveAnswered(lead *Lead, eventID string) {
	cut := lead.turnIndex(eventID)
	kept := make([]PendingEvent, 0, len(lead.Unanswered))
	for _, p := range lead.Unanswered {
		if p.EventID == eventID {
			continue
		}
		if i := lead.turnIndex(p.EventID); cut >= 0 && i >= 0 && i <= cut {
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		kept = nil
	}
	lead.Unanswered = kept
}

// DropExhausted removes pending events retried maxAttempts times or more
// and returns them.
func DropExhausted(lead *Lead, maxAttempts int) []PendingEvent {
	var dropped, kept []PendingEvent
	for _, p := range lead.Unanswered {
		if p.Attempts >= maxAttempts {
			dropped = append(dropped, p)
			continue
		}
		kept = append(kept, p)
	}
	if len(dropped) > 0 {
		lead.Unanswered = kept
	}
	return dropped
}

// MarkUnanswered queues eventID for a later retry. The lead temperature is untouched.
func MarkUnanswered(lead *Lead, eventID, reason string, at time.Time) {
	if idx := lead.PendingIndex(eventID); idx >= 0 {
		lead.Unanswered[idx].Reason = reason
		return
	}
	lead.Unanswered = append(lead.Unanswered, PendingEvent{EventID: eventID, Reason: reason, QueuedAt: at})
}

// EnqueueFollowUp reserves the next follow-up slot. The count goes up before
// anything is sent so a crash between enqueue and send cannot exceed the cap.
func EnqueueFollowUp(lead *Lead, eventID string, maxAttempts int, at time.Time) bool {
	if !lead.AutomationAllowed() || lead.FollowUpCount >= maxAttempts || lead.FollowUpInFlight != "" {
		return false
	}
	lead.FollowUpCount++
	lead.FollowUpInFlight = eventID
	lead.FollowUpEnqueuedAt = at
	lead.UpdatedAt = at
	return true
}

// CompleteFollowUp clears the in-flight marker for eventID.
func CompleteFollowUp(lead *Lead, eventID string) {
	if lead.FollowUpInFlight == eventID {
		lead.FollowUpInFlight = ""
		lead.FollowUpEnqueuedAt = time.Time{}
	}
}

// MarkCold retires a lead whose follow-ups are exhausted without a reply.
func MarkCold(lead *Lead, maxAttempts int, at time.Time) Transition {
	tr := Transition{From: lead.Temperature, To: lead.Temperature}
	if lead.Temperature.IsTerminal() || lead.FollowUpCount < maxAttempts || lead.FollowUpInFlight != "" {
		return tr
	}
	if last, ok := lead.LastTurn(); !ok || last.Role == RoleCounterparty {
		return tr
	}
	lead.Temperature = TemperatureCold
	lead.UpdatedAt = at
	tr.To = lead.Temperature
	return tr
}

// MarkUnreachable retires a lead the transport can no longer deliver to
// (the counterparty blocked us or deleted the chat).
func MarkUnreachable(lead *Lead, at time.Time) Transition {
	tr := Transition{From: lead.Temperature, To: lead.Temperature}
	lead.FollowUpInFlight = ""
	lead.FollowUpEnqueuedAt = time.Time{}
	if lead.Temperature.IsTerminal() {
		return tr
	}
	lead.Temperature = TemperatureCold
	lead.UpdatedAt = at
	tr.To = lead.Temperature
	return tr
}

// Block stops all automation for the lead. Manager command only.
func Block(lead *Lead, at time.Time) Transition {
	tr := Transition{From: lead.Temperature, To: TemperatureBlocked}
	if lead.Blocked {
		tr.To = lead.Temperature
		return tr
	}
	lead.PreviousTemperature = lead.Temperature
	lead.Temperature = TemperatureBlocked
	lead.Blocked = true
	lead.FollowUpInFlight = ""
	lead.FollowUpEnqueuedAt = time.Time{}
	lead.UpdatedAt = at
	return tr
}

// Unblock restores the temperature the lead had before it was blocked.
func Unblock(lead *Lead, at time.Time) Transition {
	tr := Transition{From: lead.Temperature, To: lead.Temperature}
	if !lead.Blocked {
		return tr
	}
	prev := lead.PreviousTemperature
	if !prev.Valid() || prev == TemperatureBlocked {
		prev = TemperatureEngaged
	}
	lead.Temperature = prev
	lead.PreviousTemperature = ""
	lead.Blocked = false
	lead.UpdatedAt = at
	tr.To = lead.Temperature
	return tr
}

// Convert marks the lead converted. Blocked leads stay blocked.
func Convert(lead *Lead, at time.Time) Transition {
	tr := Transition{From: lead.Temperature, To: lead.Temperature}
	if lead.Blocked || lead.Temperature == TemperatureConverted {
		return tr
	}
	lead.Temperature = TemperatureConverted
	if lead.ConvertedAt.IsZero() {
		lead.ConvertedAt = at
	}
	lead.UpdatedAt = at
	tr.To = lead.Temperature
	return tr
}

// Reset clears the conversation and engagement state. Identity, variant,
// block status and the follow-up count are kept, and the ids of the cleared
// turns stay known so redelivered events remain duplicates.
func Reset(lead *Lead, at time.Time) Transition {
	tr := Transition{From: lead.Temperature, To: lead.Temperature}
	for _, t := range lead.Conversation {
		lead.rememberEvent(t.EventID)
	}
	lead.Conversation = []Turn{}
	lead.Unanswered = nil
	lead.FollowUpInFlight = ""
	lead.FollowUpEnqueuedAt = time.Time{}
	lead.Application = nil
	lead.Language = ""
	lead.LastInboundAt = time.Time{}
	if !lead.Blocked {
		lead.Temperature = TemperatureNew
	}
	lead.UpdatedAt = at
	tr.To = lead.Temperature
	return tr
}
