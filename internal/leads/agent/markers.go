package agent

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"leadengine/internal/leads/domain"
	"leadengine/platform/phone"
)

var signalMarker = regexp.MustCompile(`\[SIGNAL:([a-z_]+)(?::([0-9.]+))?\]`)

// parsed is the provider text split into its deliverable part and markers.
type parsed struct {
	text        string
	signals     []domain.Signal
	application *domain.Application
	problems    []string
}

func parseMarkers(raw string, at time.Time) parsed {
	var out parsed
	for _, m := range signalMarker.FindAllStringSubmatch(raw, -1) {
		conf := 1.0
		if m[2] != "" {
			if v, err := strconv.ParseFloat(m[2], 64); err == nil && v >= 0 && v <= 1 {
				conf = v
			}
		}
		out.signals = append(out.signals, domain.Signal{Name: m[1], Confidence: conf})
	}
	text := signalMarker.ReplaceAllString(raw, "")

	if idx := strings.Index(text, domain.ApplicationMarker); idx >= 0 {
		block := text[idx+len(domain.ApplicationMarker):]
		text = text[:idx]
		if app, ok := domain.ParseApplication(block, at); ok {
			out.problems = validateApplication(app)
			if len(out.problems) == 0 {
				app.Phone = phone.NormalizeE164(app.Phone)
				out.application = app
				out.signals = append(out.signals, domain.Signal{Name: domain.SignalApplication, Confidence: 1})
			}
		} else {
			out.problems = []string{"incomplete application"}
		}
	}

	out.text = strings.TrimSpace(text)
	return out
}

func validateApplication(app *domain.Application) []string {
	problems := domain.ValidateApplication(app)
	if !phone.IsValid(app.Phone) && !slices.Contains(problems, "invalid phone") {
		problems = append(problems, "invalid phone")
	}
	return problems
}
