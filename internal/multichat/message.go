// Package multichat decodes inbound chat messages and feeds them to the
// engine. The same wire message arrives over AMQP or the HTTP webhook.
package multichat

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"leadengine/internal/leads/domain"
	"leadengine/platform/apperr"
)

// Submitter accepts inbound transport events.
type Submitter interface {
	Submit(ev domain.Event) error
}

// Media is an attachment carried inline as base64.
type Media struct {
	MIMEType string `json:"mimeType" validate:"required,max=100"`
	FileName string `json:"fileName,omitempty" validate:"max=200"`
	Data     string `json:"data" validate:"required,base64"`
}

// Message is one inbound chat message as published by the gateway.
type Message struct {
	EventID     string    `json:"eventId" validate:"required,max=128"`
	ChatID      string    `json:"chatId" validate:"required,chatid"`
	Kind        string    `json:"kind" validate:"required,oneof=message image voice sticker"`
	Text        string    `json:"text,omitempty" validate:"max=8000"`
	DisplayName string    `json:"displayName,omitempty" validate:"max=200"`
	Username    string    `json:"username,omitempty" validate:"max=200"`
	Media       *Media    `json:"media,omitempty"`
	SentAt      time.Time `json:"sentAt,omitzero"`
}

// Event converts the message into an engine event. now stamps messages
// that carry no send time.
func (m Message) Event(now time.Time) (domain.Event, error) {
	ev := domain.Event{
		ID:          m.EventID,
		LeadID:      m.ChatID,
		Kind:        domain.EventKind(m.Kind),
		Text:        strings.TrimSpace(m.Text),
		DisplayName: m.DisplayName,
		Username:    strings.TrimPrefix(m.Username, "@"),
		At:          m.SentAt,
	}
	if ev.At.IsZero() {
		ev.At = now
	}

	if m.Media != nil {
		data, err := base64.StdEncoding.DecodeString(m.Media.Data)
		if err != nil {
			return domain.Event{}, apperr.Validation(fmt.Sprintf("media of event %s is not valid base64", m.EventID))
		}
		media := &domain.Media{Data: data, MIMEType: m.Media.MIMEType, FileName: m.Media.FileName}
		switch ev.Kind {
		case domain.EventImage:
			ev.Image = media
		case domain.EventVoice:
			ev.Audio = media
		}
	}

	switch ev.Kind {
	case domain.EventImage:
		if ev.Image == nil {
			return domain.Event{}, apperr.Validation("image event without media")
		}
	case domain.EventVoice:
		if ev.Audio == nil && ev.Text == "" {
			return domain.Event{}, apperr.Validation("voice event without audio or transcript")
		}
		ev.Modality = domain.ModalityVoice
	}
	return ev, nil
}
