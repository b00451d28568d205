// Package domain provides core business rules for the leads bounded context.
// Nothing in this package performs I/O.
package domain

import (
	"slices"
	"time"
)

// Temperature is a coarse classification of a lead's sales-readiness.
type Temperature string

const (
	TemperatureNew       Temperature = "new"
	TemperatureEngaged   Temperature = "engaged"
	TemperatureWarm      Temperature = "warm"
	TemperatureHot       Temperature = "hot"
	TemperatureConverted Temperature = "converted"
	TemperatureCold      Temperature = "cold"
	TemperatureBlocked   Temperature = "blocked"
)

// Temperatures lists every temperature in lifecycle order.
var Temperatures = []Temperature{
	TemperatureNew, TemperatureEngaged, TemperatureWarm, TemperatureHot,
	TemperatureConverted, TemperatureCold, TemperatureBlocked,
}

// IsTerminal reports whether automation should stop for this temperature.
func (t Temperature) IsTerminal() bool {
	switch t {
	case TemperatureConverted, TemperatureCold, TemperatureBlocked:
		return true
	}
	return false
}

// Valid reports whether t is a known temperature.
func (t Temperature) Valid() bool {
	return slices.Contains(Temperatures, t)
}

// rank orders the promotable temperatures. Non-promotable ones return -1.
func (t Temperature) rank() int {
	switch t {
	case TemperatureNew:
		return 0
	case TemperatureEngaged:
		return 1
	case TemperatureWarm:
		return 2
	case TemperatureHot:
		return 3
	case TemperatureConverted:
		return 4
	}
	return -1
}

type Role string

const (
	RoleCounterparty Role = "counterparty"
	RoleAgent        Role = "agent"
	RoleManager      Role = "manager"
)

type Modality string

const (
	ModalityText  Modality = "text"
	ModalityVoice Modality = "voice"
)

// Turn is one immutable entry of a conversation.
type Turn struct {
	EventID  string    `json:"eventId"`
	Role     Role      `json:"role"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
	Modality Modality  `json:"modality"`
}

// Application holds contact details collected by the agent.
type Application struct {
	Name        string    `json:"name"`
	Phone       string    `json:"phone"`
	Email       string    `json:"email,omitempty"`
	Country     string    `json:"country,omitempty"`
	CallTime    string    `json:"callTime,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// PendingEvent is an inbound event that could not be answered yet.
type PendingEvent struct {
	EventID  string    `json:"eventId"`
	Reason   string    `json:"reason"`
	QueuedAt time.Time `json:"queuedAt"`
	Attempts int       `json:"attempts"`
}

// Lead is one tracked counterparty and its conversation state.
type Lead struct {
	ID                  string         `json:"id"`
	DisplayName         string         `json:"displayName,omitempty"`
	Username            string         `json:"username,omitempty"`
	Language            string         `json:"language,omitempty"`
	Temperature         Temperature    `json:"temperature"`
	PreviousTemperature Temperature    `json:"previousTemperature,omitempty"`
	Conversation        []Turn         `json:"conversation"`
	ABVariant           string         `json:"abVariant"`
	FollowUpCount       int            `json:"followUpCount"`
	FollowUpInFlight    string         `json:"followUpInFlight,omitempty"`
	FollowUpEnqueuedAt  time.Time      `json:"followUpEnqueuedAt,omitzero"`
	LastOutboundAt      time.Time      `json:"lastOutboundAt,omitzero"`
	LastInboundAt       time.Time      `json:"lastInboundAt,omitzero"`
	Blocked             bool           `json:"blocked"`
	VoiceOptOut         bool           `json:"voiceOptOut"`
	VoiceRatio          float64        `json:"voiceRatio,omitempty"`
	TimeZone            string         `json:"timeZone,omitempty"`
	Application         *Application   `json:"application,omitempty"`
	Unanswered          []PendingEvent `json:"unanswered,omitempty"`
	SeenEvents          []string       `json:"seenEvents,omitempty"`
	ConvertedAt         time.Time      `json:"convertedAt,omitzero"`
	CreatedAt           time.Time      `json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
}

// NewLead creates a lead at first contact. The variant is fixed here for good.
func NewLead(id, variant string, now time.Time) *Lead {
	return &Lead{
		ID:           id,
		Temperature:  TemperatureNew,
		Conversation: []Turn{},
		ABVariant:    variant,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// maxSeenEvents caps the ids kept from conversations cleared by Reset.
const maxSeenEvents = 500

// HasEvent reports whether eventID was already appended as a turn, now or
// before the conversation was last reset.
func (l *Lead) HasEvent(eventID string) bool {
	if eventID == "" {
		return false
	}
	return l.turnIndex(eventID) >= 0 || slices.Contains(l.SeenEvents, eventID)
}

func (l *Lead) turnIndex(eventID string) int {
	if eventID == "" {
		return -1
	}
	for i := range l.Conversation {
		if l.Conversation[i].EventID == eventID {
			return i
		}
	}
	return -1
}

// rememberEvent keeps eventID after its turn is gone, dropping the oldest
// ids beyond maxSeenEvents.
func (l *Lead) rememberEvent(eventID string) {
	if eventID == "" || slices.Contains(l.SeenEvents, eventID) {
		return
	}
	l.SeenEvents = append(l.SeenEvents, eventID)
	if n := len(l.SeenEvents) - maxSeenEvents; n > 0 {
		l.SeenEvents = slices.Delete(l.SeenEvents, 0, n)
	}
}

// LastTurn returns the most recent turn, if any.
func (l *Lead) LastTurn() (Turn, bool) {
	if len(l.Conversation) == 0 {
		return Turn{}, false
	}
	return l.Conversation[len(l.Conversation)-1], true
}

// History returns the last n turns (all turns when n <= 0).
func (l *Lead) History(n int) []Turn {
	if n <= 0 || n >= len(l.Conversation) {
		return slices.Clone(l.Conversation)
	}
	return slices.Clone(l.Conversation[len(l.Conversation)-n:])
}

// CountRole returns how many turns were authored by role.
func (l *Lead) CountRole(role Role) int {
	n := 0
	for i := range l.Conversation {
		if l.Conversation[i].Role == role {
			n++
		}
	}
	return n
}

// IsConverted reports whether the lead has ever converted.
func (l *Lead) IsConverted() bool {
	return !l.ConvertedAt.IsZero()
}

// AutomationAllowed reports whether automated outbound messages may be sent.
func (l *Lead) AutomationAllowed() bool {
	return !l.Blocked && !l.Temperature.IsTerminal()
}

// PendingIndex returns the index of an unanswered event, or -1.
func (l *Lead) PendingIndex(eventID string) int {
	for i := range l.Unanswered {
		if l.Unanswered[i].EventID == eventID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy.
func (l *Lead) Clone() *Lead {
	if l == nil {
		return nil
	}
	c := *l
	c.Conversation = slices.Clone(l.Conversation)
	if c.Conversation == nil {
		c.Conversation = []Turn{}
	}
	c.Unanswered = slices.Clone(l.Unanswered)
	c.SeenEvents = slices.Clone(l.SeenEvents)
	if l.Application != nil {
		app := *l.Application
		c.Application = &app
	}
	return &c
}
