package agent

import (
	"errors"

	"leadengine/internal/leads/domain"
)

// ErrUnavailable is returned once every attempt failed with a transient error.
var ErrUnavailable = errors.New("generation unavailable")

// Kind selects the prompt and history window for a generation.
type Kind string

const (
	KindReply    Kind = "reply"
	KindFollowUp Kind = "follow_up"
	KindPush     Kind = "push"
	KindSticker  Kind = "sticker"
	KindVision   Kind = "vision"
)

// Request is everything the generator needs for one reply. History is the
// lead's conversation as persisted; the generator picks its own window.
type Request struct {
	Kind     Kind
	LeadID   string
	History  []domain.Turn
	Language string
	Variant  string
	// Attempt is the 1-based follow-up number for KindFollowUp.
	Attempt int
	// Instruction is the manager's request for KindPush.
	Instruction string
	Image       *domain.Media
	// ApplicationCollected suppresses questions for contact details.
	ApplicationCollected bool
}

// Reply is a successful generation with markers parsed out of the text.
type Reply struct {
	Text     string
	Language string
	// LanguageConfident is false when Language is only the fallback.
	LanguageConfident bool
	Signals           []domain.Signal
	Application       *domain.Application
	Attempts          int
}

// HasSignal reports whether name was surfaced with any confidence.
func (r Reply) HasSignal(name string) bool {
	for _, s := range r.Signals {
		if s.Name == name {
			return true
		}
	}
	return false
}
