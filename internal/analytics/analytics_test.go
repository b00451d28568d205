package analytics

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"leadengine/internal/leads/domain"
	"leadengine/internal/leads/store"
)

var reportNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func sampleState() *store.State {
	st := store.NewState()

	a := domain.NewLead("L1", "a", reportNow.Add(-48*time.Hour))
	a.Temperature = domain.TemperatureHot
	a.Conversation = []domain.Turn{
		{EventID: "e1", Role: domain.RoleCounterparty, Text: "hello, \"quoted\"", At: reportNow.Add(-time.Hour), Modality: domain.ModalityText},
		{EventID: "e1:reply", Role: domain.RoleAgent, Text: "hi there", At: reportNow.Add(-59 * time.Minute), Modality: domain.ModalityVoice},
	}
	b := domain.NewLead("L2", "b", reportNow.Add(-24*time.Hour))
	b.Temperature = domain.TemperatureConverted
	b.Application = &domain.Application{Name: "Anna", Phone: "+49 30 123456", SubmittedAt: reportNow}
	c := domain.NewLead("L3", "a", reportNow)

	st.Leads = map[string]*domain.Lead{"L1": a, "L2": b, "L3": c}
	st.Stats.RecordInbound(reportNow.Add(-time.Hour))
	st.Stats.RecordInbound(reportNow.Add(-2 * time.Hour))
	st.Stats.RecordOutbound(reportNow.Add(-time.Hour), domain.ModalityVoice, false)
	st.Stats.RecordApplication(reportNow.AddDate(0, 0, -1))
	st.Stats.RecordResponseTime(2 * time.Second)
	st.Stats.RecordResponseTime(4 * time.Second)
	return st
}

func TestBuildReport(t *testing.T) {
	r := Build(sampleState(), reportNow, 3)

	if r.Totals.Leads != 3 || r.Totals.MessagesReceived != 2 || r.Totals.VoiceSent != 1 || r.Totals.Applications != 1 {
		t.Fatalf("unexpected totals %+v", r.Totals)
	}
	if r.ByTemperature[domain.TemperatureHot] != 1 || r.ByTemperature[domain.TemperatureNew] != 1 {
		t.Fatalf("unexpected temperature breakdown %v", r.ByTemperature)
	}
	if got := r.ConversionRate; got < 0.33 || got > 0.34 {
		t.Fatalf("expected one conversion in three leads, got %f", got)
	}
	if r.AverageResponseMs != 3000 {
		t.Fatalf("expected 3000ms average, got %d", r.AverageResponseMs)
	}
	if len(r.Days) != 3 || r.Days[2].Date != "2026-03-02" || r.Days[2].Received != 2 || r.Days[1].Applications != 1 {
		t.Fatalf("unexpected daily rows %+v", r.Days)
	}
	if len(r.PeakHours) != 2 || r.PeakHours[0].Count != 1 {
		t.Fatalf("unexpected peak hours %+v", r.PeakHours)
	}
	if len(r.Experiments) != 2 || r.Experiments[0].Name != "a" || r.Experiments[0].Exposures != 2 || r.Experiments[1].Conversions != 1 {
		t.Fatalf("unexpected experiments %+v", r.Experiments)
	}
}

func TestBuildReportDefaultsToAWeek(t *testing.T) {
	r := Build(store.NewState(), reportNow, 0)
	if len(r.Days) != defaultDays {
		t.Fatalf("expected %d days, got %d", defaultDays, len(r.Days))
	}
	if r.ConversionRate != 0 || len(r.Experiments) != 0 {
		t.Fatalf("empty state should report nothing, got %+v", r)
	}
}

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	return rows
}

func TestWriteLeadsExport(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleState(), ExportLeads, ""); err != nil {
		t.Fatalf("write: %v", err)
	}
	rows := readCSV(t, buf.Bytes())
	if len(rows) != 4 {
		t.Fatalf("expected header and three leads, got %d rows", len(rows))
	}
	if rows[1][0] != "L1" || rows[1][7] != "1" || rows[1][8] != "1" {
		t.Fatalf("unexpected first row %v", rows[1])
	}
	if rows[2][13] != "Anna" || rows[2][14] != "+49 30 123456" {
		t.Fatalf("application columns missing: %v", rows[2])
	}
}

func TestWriteConversationsExportForOneLead(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleState(), ExportConversations, "L1"); err != nil {
		t.Fatalf("write: %v", err)
	}
	rows := readCSV(t, buf.Bytes())
	if len(rows) != 3 {
		t.Fatalf("expected header and two turns, got %d rows", len(rows))
	}
	if rows[1][5] != "hello, \"quoted\"" || rows[2][3] != "voice" {
		t.Fatalf("unexpected turns %v", rows[1:])
	}
}

func TestWriteRejectsUnknownKind(t *testing.T) {
	err := Write(&bytes.Buffer{}, store.NewState(), ExportKind("pdf"), "")
	if err == nil || !strings.Contains(err.Error(), "pdf") {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
}
