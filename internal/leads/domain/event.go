package domain

import (
	"strings"
	"time"
)

type EventKind string

const (
	EventMessage         EventKind = "message"
	EventImage           EventKind = "image"
	EventVoice           EventKind = "voice"
	EventSticker         EventKind = "sticker"
	EventFollowUpDue     EventKind = "followup_due"
	EventRetryUnanswered EventKind = "retry_unanswered"
)

// Synthetic reports whether the event was produced by the scheduler rather
// than delivered by the transport.
func (k EventKind) Synthetic() bool {
	return k == EventFollowUpDue || k == EventRetryUnanswered
}

// Media is an attachment carried by an inbound event.
type Media struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mimeType"`
	FileName string `json:"fileName,omitempty"`
}

// Event is anything routed to the state machine for one lead.
// For EventRetryUnanswered, RefEventID names the pending event being retried.
type Event struct {
	ID          string
	LeadID      string
	Kind        EventKind
	Text        string
	Modality    Modality
	Image       *Media
	Audio       *Media
	DisplayName string
	Username    string
	RefEventID  string
	At          time.Time
}

// Substantive reports whether the event carries something worth answering.
func (e Event) Substantive() bool {
	switch e.Kind {
	case EventImage, EventSticker:
		return true
	case EventVoice:
		return strings.TrimSpace(e.Text) != "" || e.Audio != nil
	}
	return strings.TrimSpace(e.Text) != ""
}
