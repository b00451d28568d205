package dispatch

import (
	"errors"
	"strings"
	"time"
)

// ErrRecipientGone marks permanent failures where the counterparty blocked
// the account or deleted the chat.
var ErrRecipientGone = errors.New("recipient unavailable")

// ErrLimitReached is wrapped by failures caused by the daily send caps.
var ErrLimitReached = errors.New("limit reached")

const (
	partSeparator = "||"
	maxParts      = 2
)

// Content is one outbound message. Audio, when set, is sent as a voice note
// and Text is kept as its transcript.
type Content struct {
	Text      string
	Audio     []byte
	AudioMIME string
}

// IsVoice reports whether the content is a voice note.
func (c Content) IsVoice() bool {
	return len(c.Audio) > 0
}

// Ack confirms a delivered message.
type Ack struct {
	MessageID string
	SentAt    time.Time
}

// SplitParts splits a reply on "||" into at most two trimmed parts. Extra
// parts are folded into the last one.
func SplitParts(text string) []string {
	raw := strings.Split(text, partSeparator)
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) > maxParts {
		parts = append(parts[:maxParts-1], strings.Join(parts[maxParts-1:], " "))
	}
	return parts
}

// JoinParts is the transcript form of a multi-part reply.
func JoinParts(text string) string {
	return strings.Join(SplitParts(text), "\n")
}
