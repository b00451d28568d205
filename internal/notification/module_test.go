package notification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"leadengine/internal/dispatch"
	"leadengine/internal/email"
	"leadengine/internal/leads/domain"
	"leadengine/internal/leads/engine"
	"leadengine/platform/config"
	"leadengine/platform/events"
	"leadengine/platform/logger"
)

type fakeChat struct {
	mu   sync.Mutex
	sent map[string][]string
	err  error
}

func (c *fakeChat) Send(_ context.Context, chatID string, content dispatch.Content) (dispatch.Ack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return dispatch.Ack{}, c.err
	}
	if c.sent == nil {
		c.sent = make(map[string][]string)
	}
	c.sent[chatID] = append(c.sent[chatID], content.Text)
	return dispatch.Ack{}, nil
}

type fakeMail struct {
	mu      sync.Mutex
	notices []email.NoticeEmail
	to      []string
}

func (m *fakeMail) SendNotice(_ context.Context, to string, n email.NoticeEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.to = append(m.to, to)
	m.notices = append(m.notices, n)
	return nil
}

func newModule(chat ChatSender, mail email.Sender) (*Module, *events.InMemoryBus) {
	cfg := &config.Config{
		ManagerChatID:    "managers@g.us",
		SMTPHost:         "smtp.example.com",
		ManagerEmail:     "ops@example.com",
		EmailFromAddress: "bot@example.com",
	}
	log := logger.New("test")
	bus := events.NewInMemoryBus(log)
	m := New(chat, cfg, mail, cfg, log)
	m.RegisterHandlers(bus)
	return m, bus
}

func TestApplicationGoesToChatAndEmail(t *testing.T) {
	chat, mail := &fakeChat{}, &fakeMail{}
	_, bus := newModule(chat, mail)

	bus.Publish(t.Context(), engine.Notice{
		Kind:        engine.NoticeApplication,
		LeadID:      "L1",
		DisplayName: "Anna",
		Username:    "anna",
		Temperature: domain.TemperatureHot,
		Application: &domain.Application{Name: "Anna Schmidt", Phone: "+49 30 123456", Country: "DE"},
	})
	bus.Wait()

	msgs := chat.sent["managers@g.us"]
	if len(msgs) != 1 {
		t.Fatalf("expected one chat message, got %v", chat.sent)
	}
	for _, want := range []string{"[NEW APPLICATION] Anna (@anna)", "ID: L1", "Phone: +49 30 123456", "Country: DE"} {
		if !strings.Contains(msgs[0], want) {
			t.Fatalf("chat text %q missing %q", msgs[0], want)
		}
	}
	if strings.Contains(msgs[0], "Email:") {
		t.Fatalf("empty application fields should be left out: %q", msgs[0])
	}
	if len(mail.notices) != 1 || mail.to[0] != "ops@example.com" || mail.notices[0].Kind != "application" {
		t.Fatalf("unexpected mails %+v", mail.notices)
	}
}

func TestHotLeadIsChatOnly(t *testing.T) {
	chat, mail := &fakeChat{}, &fakeMail{}
	_, bus := newModule(chat, mail)

	bus.Publish(t.Context(), engine.Notice{Kind: engine.NoticeHotLead, LeadID: "L2", Temperature: domain.TemperatureHot})
	bus.Wait()

	if len(chat.sent["managers@g.us"]) != 1 {
		t.Fatalf("expected chat message, got %v", chat.sent)
	}
	if len(mail.notices) != 0 {
		t.Fatalf("hot lead notices should not be mailed")
	}
}

func TestColdTransitionIsReported(t *testing.T) {
	chat := &fakeChat{}
	_, bus := newModule(chat, email.NoopSender{})

	bus.Publish(t.Context(), engine.LeadTransitioned{LeadID: "L3", From: domain.TemperatureWarm, To: domain.TemperatureCold, Cause: "follow-ups exhausted"})
	bus.Publish(t.Context(), engine.LeadTransitioned{LeadID: "L3", From: domain.TemperatureNew, To: domain.TemperatureEngaged, Cause: "message"})
	bus.Wait()

	msgs := chat.sent["managers@g.us"]
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0], "[COLD] L3") {
		t.Fatalf("expected one cold report, got %v", msgs)
	}
}

func TestChatFailureIsReturned(t *testing.T) {
	chat := &fakeChat{err: errors.New("gateway down")}
	m, _ := newModule(chat, email.NoopSender{})

	err := m.handleNotice(t.Context(), engine.Notice{Kind: engine.NoticeUnanswerable, LeadID: "L4"})
	if err == nil || !strings.Contains(err.Error(), "gateway down") {
		t.Fatalf("expected chat error, got %v", err)
	}
}

func TestFormatNoticeFallsBackToLeadID(t *testing.T) {
	got := FormatNotice(engine.Notice{Kind: engine.NoticeRecipientGone, LeadID: "4930123456@s.whatsapp.net", Text: "blocked the bot"})
	if !strings.HasPrefix(got, "[LEAD UNREACHABLE] 4930123456@s.whatsapp.net") || !strings.HasSuffix(got, "---\nblocked the bot") {
		t.Fatalf("unexpected text %q", got)
	}
}
