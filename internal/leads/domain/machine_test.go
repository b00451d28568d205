package domain

import (
	"fmt"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func msg(id, text string) Event {
	return Event{ID: id, LeadID: "L1", Kind: EventMessage, Text: text, At: t0}
}

func TestHandleEventFirstMessageEngages(t *testing.T) {
	lead := NewLead("L1", "a", t0)

	tr := HandleEvent(lead, msg("e1", "hi"))

	if tr.From != TemperatureNew || tr.To != TemperatureEngaged {
		t.Fatalf("expected new -> engaged, got %s -> %s", tr.From, tr.To)
	}
	if tr.Action.Kind != ActionFirstReply {
		t.Fatalf("expected first reply action, got %s", tr.Action.Kind)
	}
	if len(lead.Conversation) != 1 || lead.Conversation[0].Role != RoleCounterparty {
		t.Fatalf("expected one counterparty turn, got %+v", lead.Conversation)
	}
	if !lead.LastInboundAt.Equal(t0) {
		t.Fatalf("expected last inbound at %v, got %v", t0, lead.LastInboundAt)
	}
}

func TestHandleEventIdempotentAppend(t *testing.T) {
	ids := []string{"e1", "e2", "e1", "e3", "e2", "e2", "e4"}
	lead := NewLead("L1", "a", t0)

	processed := map[string]bool{}
	for i, id := range ids {
		ev := msg(id, fmt.Sprintf("message %d", i))
		tr := HandleEvent(lead, ev)
		if processed[id] != tr.Duplicate {
			t.Fatalf("event %s: duplicate=%v, want %v", id, tr.Duplicate, processed[id])
		}
		processed[id] = true
	}

	if got := lead.CountRole(RoleCounterparty); got != len(processed) {
		t.Fatalf("expected %d counterparty turns, got %d", len(processed), got)
	}
}

func TestHandleEventBlockedLeadGetsNoAction(t *testing.T) {
	lead := NewLead("L1", "a", t0)
	Block(lead, t0)

	tr := HandleEvent(lead, msg("e1", "hello?"))

	if tr.Action.Kind != ActionNone {
		t.Fatalf("expected no action for blocked lead, got %s", tr.Action.Kind)
	}
	if lead.Temperature != TemperatureBlocked {
		t.Fatalf("expected lead to stay blocked, got %s", lead.Temperature)
	}
	if len(lead.Conversation) != 1 {
		t.Fatalf("expected inbound turn to be recorded")
	}
}

func TestHandleEventColdLeadNotifiesManager(t *testing.T) {
	lead := NewLead("L1", "a", t0)
	lead.Temperature = TemperatureCold

	tr := HandleEvent(lead, msg("e1", "sorry, was busy"))

	if tr.Action.Kind != ActionNotifyManager {
		t.Fatalf("expected manager notice, got %s", tr.Action.Kind)
	}
}

func TestHandleEventClearsPendingFollowUp(t *testing.T) {
	lead := NewLead("L1", "a", t0)
	lead.Temperature = TemperatureEngaged
	if !EnqueueFollowUp(lead, "f1", 2, t0) {
		t.Fatalf("expected follow-up to be enqueued")
	}

	HandleEvent(lead, msg("e1", "here I am"))

	if lead.FollowUpInFlight != "" {
		t.Fatalf("expected in-flight follow-up to be cleared")
	}
	tr := HandleEvent(lead, Event{ID: "f1", LeadID: "L1", Kind: EventFollowUpDue, At: t0})
	if tr.Action.Kind != ActionNone {
		t.Fatalf("expected stale follow-up to be dropped, got %s", tr.Action.Kind)
	}
	if lead.FollowUpCount != 1 {
		t.Fatalf("expected follow-up count to stay 1, got %d", lead.FollowUpCount)
	}
}

func TestHandleEventImageAsksForVision(t *testing.T) {
	lead := NewLead("L1", "a", t0)
	ev := Event{ID: "e1", Kind: EventImage, Image: &Media{Data: []byte{1}, MIMEType: "image/png"}, At: t0}

	tr := HandleEvent(lead, ev)

	if tr.Action.Kind != ActionReply || !tr.Action.Vision {
		t.Fatalf("expected vision reply, got %+v", tr.Action)
	}
	if lead.Temperature != TemperatureEngaged {
		t.Fatalf("expected engaged, got %s", lead.Temperature)
	}
}

func TestHandleEventPreferences(t *testing.T) {
	lead := NewLead("L1", "a", t0)

	HandleEvent(lead, msg("e1", "Please, text only"))
	if !lead.VoiceOptOut {
		t.Fatalf("expected voice opt-out")
	}

	HandleEvent(lead, msg("e2", "actually, send voice"))
	if lead.VoiceOptOut || lead.VoiceRatio != MoreVoiceRatio {
		t.Fatalf("expected more-voice preference, got optOut=%v ratio=%v", lead.VoiceOptOut, lead.VoiceRatio)
	}
}

func TestFollowUpCapNeverExceeded(t *testing.T) {
	const maxAttempts = 2
	lead := NewLead("L1", "a", t0)
	lead.Temperature = TemperatureEngaged

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("f%d", i)
		if EnqueueFollowUp(lead, id, maxAttempts, t0) {
			CompleteFollowUp(lead, id)
		}
		if lead.FollowUpCount > maxAttempts {
			t.Fatalf("follow-up count %d exceeds cap %d", lead.FollowUpCount, maxAttempts)
		}
	}
	if lead.FollowUpCount != maxAttempts {
		t.Fatalf("expected count to reach cap, got %d", lead.FollowUpCount)
	}
}

func TestEnqueueFollowUpRejectsSecondInFlight(t *testing.T) {
	lead := NewLead("L1", "a", t0)
	lead.Temperature = TemperatureEngaged

	if !EnqueueFollowUp(lead, "f1", 3, t0) {
		t.Fatalf("expected first enqueue to succeed")
	}
	if EnqueueFollowUp(lead, "f2", 3, t0) {
		t.Fatalf("expected second enqueue to fail while one is in flight")
	}
}

func TestFollowUpDueProducesAttempt(t *testing.T) {
	lead := NewLead("L1", "a", t0)
	lead.Temperature = TemperatureEngaged
	EnqueueFollowUp(lead, "f1", 2, t0)

	tr := HandleEvent(lead, Event{ID: "f1", Kind: EventFollowUpDue, At: t0})

	if tr.Action.Kind != ActionFollowUp || tr.Action.Attempt != 1 {
		t.Fatalf("expected follow-up attempt 1, got %+v", tr.Action)
	}

	RecordReply(lead, "f1", "still there?", ModalityText, t0)
	CompleteFollowUp(lead, "f1")
	tr = HandleEvent(lead, Event{ID: "f1", Kind: EventFollowUpDue, At: t0})
	if !tr.Duplicate {
		t.Fatalf("expected redelivered follow-up to be a duplicate")
	}
}

func TestBlockUnblockRestoresPrevious(t *testing.T) {
	lead := NewLead("L1", "a", t0)
	lead.Temperature = TemperatureWarm

	Block(lead, t0)
	if !lead.Blocked || lead.Temperature != TemperatureBlocked {
		t.Fatalf("expected blocked lead, got %+v", lead)
	}
	Unblock(lead, t0)
	if lead.Blocked || lead.Temperature != TemperatureWarm {
		t.Fatalf("expected warm after unblock, got %s", lead.Temperature)
	}
}

func TestMarkCold(t *testing.T) {
	tests := []struct {
		name     string
		count    int
		lastRole Role
		want     Temperature
	}{
		{name: "cap reached after agent turn", count: 2, lastRole: RoleAgent, want: TemperatureCold},
		{name: "below cap", count: 1, lastRole: RoleAgent, want: TemperatureEngaged},
		{name: "counterparty replied", count: 2, lastRole: RoleCounterparty, want: TemperatureEngaged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lead := NewLead("L1", "a", t0)
			lead.Temperature = TemperatureEngaged
			lead.FollowUpCount = tt.count
			lead.Conversation = append(lead.Conversation, Turn{EventID: "x", Role: tt.lastRole, At: t0})

			MarkCold(lead, 2, t0)

			if lead.Temperature != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, lead.Temperature)
			}
		})
	}
}

func TestMarkUnreachable(t *testing.T) {
	lead := NewLead("L1", "a", t0)
	lead.Temperature = TemperatureHot
	lead.FollowUpInFlight = "f1"

	tr := MarkUnreachable(lead, t0)

	if tr.To != TemperatureCold || lead.FollowUpInFlight != "" {
		t.Fatalf("expected cold lead without in-flight follow-up, got %s %q", tr.To, lead.FollowUpInFlight)
	}

	blocked := NewLead("L2", "a", t0)
	Block(blocked, t0)
	if tr := MarkUnreachable(blocked, t0); tr.Changed() || blocked.Temperature != TemperatureBlocked {
		t.Fatalf("blocked lead must stay blocked, got %s", blocked.Temperature)
	}
}

func TestResetKeepsVariantAndCount(t *testing.T) {
	lead := NewLead("L1", "b", t0)
	HandleEvent(lead, msg("e1", "hi"))
	lead.FollowUpCount = 1

	Reset(lead, t0)

	if lead.ABVariant != "b" || lead.FollowUpCount != 1 {
		t.Fatalf("expected variant and count kept, got %q %d", lead.ABVariant, lead.FollowUpCount)
	}
	if len(lead.Conversation) != 0 || lead.Temperature != TemperatureNew {
		t.Fatalf("expected cleared conversation and new temperature")
	}
}

func TestRetryUnanswered(t *testing.T) {
	lead := NewLead("L1", "a", t0)
	HandleEvent(lead, msg("e1", "hi"))
	MarkUnanswered(lead, "e1", "generation unavailable", t0)

	tr := HandleEvent(lead, Event{ID: "r1", Kind: EventRetryUnanswered, RefEventID: "e1", At: t0})
	if tr.Action.Kind != ActionReply || tr.Action.EventID != "e1" {
		t.Fatalf("expected reply to e1, got %+v", tr.Action)
	}

	ResolvePending(lead, "e1")
	tr = HandleEvent(lead, Event{ID: "r2", Kind: EventRetryUnanswered, RefEventID: "e1", At: t0})
	if tr.Action.Kind != ActionNone {
		t.Fatalf("expected no action after resolution, got %s", tr.Action.Kind)
	}
}

func TestResolveAnsweredDropsEarlierPending(t *testing.T) {
	lead := NewLead("L1", "a", t0)
	for _, id := range []string{"e1", "e2", "e3", "e4"} {
		HandleEvent(lead, msg(id, "text "+id))
	}
	MarkUnanswered(lead, "e1", "generation unavailable", t0)
	MarkUnanswered(lead, "e2", "generation unavailable", t0)
	MarkUnanswered(lead, "e4", "send failed", t0)
	MarkUnanswered(lead, "push-1", "send failed", t0)

	ResolveAnswered(lead, "e3")

	if len(lead.Unanswered) != 2 || lead.Unanswered[0].EventID != "e4" || lead.Unanswered[1].EventID != "push-1" {
		t.Fatalf("expected e4 and push-1 to stay pending, got %+v", lead.Unanswered)
	}
	ResolveAnswered(lead, "push-1")
	if lead.PendingIndex("push-1") >= 0 || lead.PendingIndex("e4") < 0 {
		t.Fatalf("an event without a turn must resolve only itself, got %+v", lead.Unanswered)
	}
}

func TestDropExhausted(t *testing.T) {
	lead := NewLead("L1", "a", t0)
	lead.Unanswered = []PendingEvent{
		{EventID: "e1", Attempts: 3},
		{EventID: "e2", Attempts: 1},
	}

	dropped := DropExhausted(lead, 3)
	if len(dropped) != 1 || dropped[0].EventID != "e1" {
		t.Fatalf("expected e1 dropped, got %+v", dropped)
	}
	if len(lead.Unanswered) != 1 || lead.Unanswered[0].EventID != "e2" {
		t.Fatalf("expected e2 kept, got %+v", lead.Unanswered)
	}
	if got := DropExhausted(lead, 3); got != nil {
		t.Fatalf("expected nothing more to drop, got %+v", got)
	}
}

func TestRecordReplyRepeatedKeyAdvancesLastOutbound(t *testing.T) {
	lead := NewLead("L1", "a", t0)
	if !RecordReply(lead, "e1:reply", "hello", ModalityText, t0) {
		t.Fatal("first record refused")
	}
	later := t0.Add(time.Minute)
	if RecordReply(lead, "e1:reply", "again", ModalityText, later) {
		t.Fatal("repeated key appended a turn")
	}
	if !lead.LastOutboundAt.Equal(later) || len(lead.Conversation) != 1 {
		t.Fatalf("expected one turn and last outbound %v, got %v with %d turns", later, lead.LastOutboundAt, len(lead.Conversation))
	}
}

func TestResetRemembersEventIDs(t *testing.T) {
	lead := NewLead("L1", "a", t0)
	HandleEvent(lead, msg("e1", "hi"))
	RecordReply(lead, "e1:reply", "hello", ModalityText, t0)

	Reset(lead, t0)

	if tr := HandleEvent(lead, msg("e1", "hi")); !tr.Duplicate {
		t.Fatalf("redelivered event accepted after reset")
	}
	if !lead.HasEvent("e1:reply") || len(lead.Conversation) != 0 {
		t.Fatalf("unexpected lead after reset: %+v", lead)
	}

	for i := range maxSeenEvents + 10 {
		lead.rememberEvent(fmt.Sprintf("x%d", i))
	}
	if len(lead.SeenEvents) != maxSeenEvents || lead.HasEvent("e1") {
		t.Fatalf("expected the oldest ids evicted at %d, got %d", maxSeenEvents, len(lead.SeenEvents))
	}
}
