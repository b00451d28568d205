// Package analytics builds operator reports and CSV exports from a store
// snapshot. Everything here is read-only.
package analytics

import (
	"sort"
	"time"

	"leadengine/internal/leads/domain"
	"leadengine/internal/leads/store"
)

const (
	defaultDays  = 7
	peakHourRank = 3
)

// Totals are lifetime counters.
type Totals struct {
	Leads            int `json:"leads"`
	MessagesReceived int `json:"messagesReceived"`
	MessagesSent     int `json:"messagesSent"`
	VoiceSent        int `json:"voiceSent"`
	FollowUpsSent    int `json:"followUpsSent"`
	Applications     int `json:"applications"`
	CallAgreements   int `json:"callAgreements"`
	Blocks           int `json:"blocks"`
	Unanswerable     int `json:"unanswerable"`
}

// Day is one row of the daily breakdown.
type Day struct {
	Date string `json:"date"`
	domain.DayStats
}

// HourCount is activity in one UTC hour of the day.
type HourCount struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

// Variant summarises one A/B bucket.
type Variant struct {
	Name        string  `json:"name"`
	Exposures   int     `json:"exposures"`
	Conversions int     `json:"conversions"`
	Rate        float64 `json:"rate"`
}

// Report is the analytics view handed to operators.
type Report struct {
	GeneratedAt       time.Time                  `json:"generatedAt"`
	Totals            Totals                     `json:"totals"`
	ByTemperature     map[domain.Temperature]int `json:"byTemperature"`
	ConversionRate    float64                    `json:"conversionRate"`
	AverageResponseMs int64                      `json:"averageResponseMs"`
	Days              []Day                      `json:"days"`
	PeakHours         []HourCount                `json:"peakHours"`
	Experiments       []Variant                  `json:"experiments"`
}

// Build derives a report from st. days bounds the daily breakdown, counting
// back from now; zero or less means a week.
func Build(st *store.State, now time.Time, days int) Report {
	if days <= 0 {
		days = defaultDays
	}
	stats := st.Stats

	r := Report{
		GeneratedAt: now,
		Totals: Totals{
			Leads:            len(st.Leads),
			MessagesReceived: stats.MessagesReceived,
			MessagesSent:     stats.MessagesSent,
			VoiceSent:        stats.VoiceSent,
			FollowUpsSent:    stats.FollowUpsSent,
			Applications:     stats.Applications,
			CallAgreements:   stats.CallAgreements,
			Blocks:           stats.Blocks,
			Unanswerable:     stats.Unanswerable,
		},
		ByTemperature:     make(map[domain.Temperature]int, len(domain.Temperatures)),
		AverageResponseMs: stats.AverageResponseTime().Milliseconds(),
		PeakHours:         peakHours(stats.Hourly, peakHourRank),
	}

	converted := 0
	for _, l := range st.Leads {
		r.ByTemperature[l.Temperature]++
		if l.IsConverted() || l.Application != nil {
			converted++
		}
	}
	if len(st.Leads) > 0 {
		r.ConversionRate = float64(converted) / float64(len(st.Leads))
	}

	for i := days - 1; i >= 0; i-- {
		date := now.UTC().AddDate(0, 0, -i).Format("2006-01-02")
		r.Days = append(r.Days, Day{Date: date, DayStats: stats.Daily[date]})
	}

	counters := domain.ComputeExperiments(st.Leads)
	for _, name := range domain.VariantNames(counters) {
		c := counters[name]
		r.Experiments = append(r.Experiments, Variant{
			Name:        name,
			Exposures:   c.Exposures,
			Conversions: c.Conversions,
			Rate:        c.Rate(),
		})
	}
	return r
}

// peakHours returns the n busiest hours, busiest first. Hours without
// activity are left out.
func peakHours(hourly [24]int, n int) []HourCount {
	hours := make([]HourCount, 0, len(hourly))
	for h, c := range hourly {
		if c > 0 {
			hours = append(hours, HourCount{Hour: h, Count: c})
		}
	}
	sort.SliceStable(hours, func(i, j int) bool { return hours[i].Count > hours[j].Count })
	if len(hours) > n {
		hours = hours[:n]
	}
	return hours
}
