// Package notification forwards engine notices to the manager channels: the
// manager chat on the messaging gateway and, for the important kinds, email.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"leadengine/internal/dispatch"
	"leadengine/internal/email"
	"leadengine/internal/leads/domain"
	"leadengine/internal/leads/engine"
	"leadengine/platform/config"
	"leadengine/platform/events"
	"leadengine/platform/logger"
)

// ChatSender posts into a chat on the messaging gateway.
type ChatSender interface {
	Send(ctx context.Context, chatID string, content dispatch.Content) (dispatch.Ack, error)
}

// Module handles the notice subscriptions.
type Module struct {
	chat   ChatSender
	chatID string
	mail   email.Sender
	mailTo string
	log    *logger.Logger
}

// New creates the module. A nil chat or an empty manager chat id disables
// the chat channel; email follows EmailConfig.
func New(chat ChatSender, transport config.TransportConfig, mail email.Sender, mailCfg config.EmailConfig, log *logger.Logger) *Module {
	m := &Module{
		chat:   chat,
		chatID: transport.GetManagerChatID(),
		mail:   mail,
		log:    log.WithComponent("notification"),
	}
	if mailCfg.IsEmailEnabled() {
		m.mailTo = mailCfg.GetManagerEmail()
	}
	return m
}

// RegisterHandlers subscribes to engine notices and lead transitions.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(engine.EventNameNotice, events.HandlerFunc(m.handleNotice))
	bus.Subscribe(engine.EventNameTransition, events.HandlerFunc(m.handleTransition))
}

func (m *Module) handleNotice(ctx context.Context, ev events.Event) error {
	n, ok := ev.(engine.Notice)
	if !ok {
		return nil
	}

	var errs []error
	if err := m.postChat(ctx, FormatNotice(n)); err != nil {
		errs = append(errs, fmt.Errorf("manager chat: %w", err))
	}
	if m.mailTo != "" && emailed(n.Kind) {
		if err := m.mail.SendNotice(ctx, m.mailTo, noticeEmail(n)); err != nil {
			errs = append(errs, fmt.Errorf("manager email: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		m.log.Warn("notification: notice delivery failed", "lead_id", n.LeadID, "kind", n.Kind, "error", err)
		return err
	}
	m.log.Debug("notification: notice delivered", "lead_id", n.LeadID, "kind", n.Kind)
	return nil
}

// handleTransition reports leads that automation gave up on. Manager
// commands and promotions already surface through notices.
func (m *Module) handleTransition(ctx context.Context, ev events.Event) error {
	tr, ok := ev.(engine.LeadTransitioned)
	if !ok || tr.To != domain.TemperatureCold {
		return nil
	}
	text := fmt.Sprintf("[COLD] %s\n%s -> %s (%s)", tr.LeadID, tr.From, tr.To, tr.Cause)
	return m.postChat(ctx, text)
}

func (m *Module) postChat(ctx context.Context, text string) error {
	if m.chat == nil || m.chatID == "" {
		return nil
	}
	_, err := m.chat.Send(ctx, m.chatID, dispatch.Content{Text: text})
	return err
}

func emailed(kind engine.NoticeKind) bool {
	return kind == engine.NoticeApplication || kind == engine.NoticeCallAgreed
}

var noticeTitles = map[engine.NoticeKind]string{
	engine.NoticeApplication:   "New application",
	engine.NoticeCallAgreed:    "Call agreed",
	engine.NoticeHotLead:       "Hot lead",
	engine.NoticeUnanswerable:  "Message left unanswered",
	engine.NoticeRecipientGone: "Lead unreachable",
	engine.NoticeTerminalReply: "Reply from a closed lead",
}

func title(kind engine.NoticeKind) string {
	if t, ok := noticeTitles[kind]; ok {
		return t
	}
	return string(kind)
}

// leadLabel names the lead the way managers search for it.
func leadLabel(n engine.Notice) string {
	name := strings.TrimSpace(n.DisplayName)
	switch {
	case name != "" && n.Username != "":
		return fmt.Sprintf("%s (@%s)", name, n.Username)
	case name != "":
		return name
	case n.Username != "":
		return "@" + n.Username
	}
	return n.LeadID
}

func applicationFields(a *domain.Application) []email.Field {
	if a == nil {
		return nil
	}
	fields := []email.Field{{Label: "Name", Value: a.Name}, {Label: "Phone", Value: a.Phone}}
	for _, f := range []email.Field{
		{Label: "Email", Value: a.Email},
		{Label: "Country", Value: a.Country},
		{Label: "Call time", Value: a.CallTime},
	} {
		if f.Value != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

// FormatNotice renders the manager chat text for n.
func FormatNotice(n engine.Notice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\nID: %s\nTemperature: %s\n", strings.ToUpper(title(n.Kind)), leadLabel(n), n.LeadID, n.Temperature)
	for _, f := range applicationFields(n.Application) {
		fmt.Fprintf(&b, "%s: %s\n", f.Label, f.Value)
	}
	if n.Text != "" {
		b.WriteString("---\n")
		b.WriteString(n.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func noticeEmail(n engine.Notice) email.NoticeEmail {
	return email.NoticeEmail{
		Kind:    string(n.Kind),
		LeadID:  n.LeadID,
		Lead:    leadLabel(n),
		Heading: title(n.Kind),
		Fields:  append([]email.Field{{Label: "Temperature", Value: string(n.Temperature)}}, applicationFields(n.Application)...),
		Text:    n.Text,
	}
}
