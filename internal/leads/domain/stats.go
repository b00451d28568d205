package domain

import (
	"maps"
	"slices"
	"time"
)

const maxResponseSamples = 100

// DayStats aggregates activity for one calendar day (UTC).
type DayStats struct {
	Received     int `json:"received"`
	Sent         int `json:"sent"`
	FollowUps    int `json:"followUps"`
	Applications int `json:"applications"`
	NewLeads     int `json:"newLeads"`
}

// Stats are operational counters kept alongside the leads.
type Stats struct {
	MessagesReceived int                 `json:"messagesReceived"`
	MessagesSent     int                 `json:"messagesSent"`
	VoiceSent        int                 `json:"voiceSent"`
	FollowUpsSent    int                 `json:"followUpsSent"`
	Applications     int                 `json:"applications"`
	CallAgreements   int                 `json:"callAgreements"`
	Blocks           int                 `json:"blocks"`
	Unanswerable     int                 `json:"unanswerable"`
	Daily            map[string]DayStats `json:"daily"`
	Hourly           [24]int             `json:"hourly"`
	ResponseTimesMs  []int64             `json:"responseTimesMs"`
}

func dayKey(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}

func (s *Stats) day(at time.Time) DayStats {
	if s.Daily == nil {
		s.Daily = make(map[string]DayStats)
	}
	return s.Daily[dayKey(at)]
}

func (s *Stats) RecordInbound(at time.Time) {
	s.MessagesReceived++
	d := s.day(at)
	d.Received++
	s.Daily[dayKey(at)] = d
	s.Hourly[at.UTC().Hour()]++
}

func (s *Stats) RecordNewLead(at time.Time) {
	d := s.day(at)
	d.NewLeads++
	s.Daily[dayKey(at)] = d
}

func (s *Stats) RecordOutbound(at time.Time, modality Modality, followUp bool) {
	s.MessagesSent++
	if modality == ModalityVoice {
		s.VoiceSent++
	}
	d := s.day(at)
	d.Sent++
	if followUp {
		s.FollowUpsSent++
		d.FollowUps++
	}
	s.Daily[dayKey(at)] = d
}

func (s *Stats) RecordApplication(at time.Time) {
	s.Applications++
	d := s.day(at)
	d.Applications++
	s.Daily[dayKey(at)] = d
}

// RecordResponseTime keeps the most recent samples only.
func (s *Stats) RecordResponseTime(d time.Duration) {
	s.ResponseTimesMs = append(s.ResponseTimesMs, d.Milliseconds())
	if n := len(s.ResponseTimesMs); n > maxResponseSamples {
		s.ResponseTimesMs = slices.Clone(s.ResponseTimesMs[n-maxResponseSamples:])
	}
}

// AverageResponseTime is the mean of the kept samples.
func (s *Stats) AverageResponseTime() time.Duration {
	if len(s.ResponseTimesMs) == 0 {
		return 0
	}
	var sum int64
	for _, v := range s.ResponseTimesMs {
		sum += v
	}
	return time.Duration(sum/int64(len(s.ResponseTimesMs))) * time.Millisecond
}

func (s Stats) Clone() Stats {
	c := s
	c.Daily = maps.Clone(s.Daily)
	c.ResponseTimesMs = slices.Clone(s.ResponseTimesMs)
	return c
}
