package analytics

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"leadengine/internal/leads/domain"
	"leadengine/internal/leads/store"
)

// ExportKind selects which CSV an export produces.
type ExportKind string

const (
	ExportLeads         ExportKind = "leads"
	ExportConversations ExportKind = "conversations"
)

const maxExportedText = 500

var leadHeaders = []string{
	"Lead ID",
	"Display Name",
	"Username",
	"Temperature",
	"Variant",
	"Language",
	"Time Zone",
	"Messages From Lead",
	"Messages From Agent",
	"Follow-ups",
	"Created At",
	"Last Inbound At",
	"Last Outbound At",
	"Applicant Name",
	"Applicant Phone",
	"Applicant Email",
	"Applicant Country",
	"Call Time",
}

var conversationHeaders = []string{
	"Lead ID",
	"Event ID",
	"Role",
	"Modality",
	"At",
	"Text",
}

// FileName returns the attachment name for kind exported at now.
func FileName(kind ExportKind, now time.Time) string {
	return fmt.Sprintf("%s-%s.csv", kind, now.UTC().Format("20060102"))
}

// Write renders the requested export of st to w. A non-empty leadID limits
// a conversations export to that lead.
func Write(w io.Writer, st *store.State, kind ExportKind, leadID string) error {
	writer := csv.NewWriter(w)
	var err error
	switch kind {
	case ExportLeads:
		err = writeLeads(writer, st)
	case ExportConversations:
		err = writeConversations(writer, st, leadID)
	default:
		return fmt.Errorf("unknown export kind %q", kind)
	}
	if err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

func writeLeads(writer *csv.Writer, st *store.State) error {
	if err := writer.Write(leadHeaders); err != nil {
		return err
	}
	for _, l := range sortedLeads(st) {
		if err := writer.Write(leadRow(l)); err != nil {
			return err
		}
	}
	return nil
}

func leadRow(l *domain.Lead) []string {
	row := []string{
		l.ID,
		l.DisplayName,
		l.Username,
		string(l.Temperature),
		l.ABVariant,
		l.Language,
		l.TimeZone,
		strconv.Itoa(l.CountRole(domain.RoleCounterparty)),
		strconv.Itoa(l.CountRole(domain.RoleAgent)),
		strconv.Itoa(l.FollowUpCount),
		formatTime(l.CreatedAt),
		formatTime(l.LastInboundAt),
		formatTime(l.LastOutboundAt),
	}
	if a := l.Application; a != nil {
		return append(row, a.Name, a.Phone, a.Email, a.Country, a.CallTime)
	}
	return append(row, "", "", "", "", "")
}

func writeConversations(writer *csv.Writer, st *store.State, leadID string) error {
	if err := writer.Write(conversationHeaders); err != nil {
		return err
	}
	for _, l := range sortedLeads(st) {
		if leadID != "" && l.ID != leadID {
			continue
		}
		for _, t := range l.Conversation {
			row := []string{l.ID, t.EventID, string(t.Role), string(t.Modality), formatTime(t.At), clip(t.Text, maxExportedText)}
			if err := writer.Write(row); err != nil {
				return err
			}
		}
	}
	return nil
}

func sortedLeads(st *store.State) []*domain.Lead {
	out := make([]*domain.Lead, 0, len(st.Leads))
	for _, l := range st.Leads {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
