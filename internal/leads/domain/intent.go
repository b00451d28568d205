package domain

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Signal is a structured intent hint surfaced alongside a generated reply.
type Signal struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Well-known signal names.
const (
	SignalInterested  = "interested"
	SignalAskedPrice  = "asked_price"
	SignalWantsCall   = "wants_call"
	SignalApplication = "application_submitted"
	SignalCallAccept  = "call_accepted"
)

// IntentRule maps one signal to a target temperature.
type IntentRule struct {
	Signal        string      `yaml:"signal"`
	Target        Temperature `yaml:"target"`
	MinConfidence float64     `yaml:"min_confidence"`
}

// IntentTable is the product-tunable signal-to-temperature mapping.
type IntentTable struct {
	rules map[string]IntentRule
}

type intentFile struct {
	Rules []IntentRule `yaml:"rules"`
}

const defaultIntentYAML = `
rules:
  - signal: interested
    target: warm
    min_confidence: 0.5
  - signal: asked_price
    target: warm
    min_confidence: 0.6
  - signal: wants_call
    target: hot
    min_confidence: 0.6
  - signal: application_submitted
    target: hot
  - signal: call_accepted
    target: converted
    min_confidence: 0.8
`

// DefaultIntentTable returns the built-in mapping.
func DefaultIntentTable() *IntentTable {
	t, err := ParseIntentTable([]byte(defaultIntentYAML))
	if err != nil {
		panic(fmt.Sprintf("default intent table: %v", err))
	}
	return t
}

// LoadIntentTable reads a YAML table from path. An empty path yields the default.
func LoadIntentTable(path string) (*IntentTable, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultIntentTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intent table: %w", err)
	}
	return ParseIntentTable(data)
}

// ParseIntentTable decodes and validates a YAML table.
func ParseIntentTable(data []byte) (*IntentTable, error) {
	var f intentFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse intent table: %w", err)
	}
	t := &IntentTable{rules: make(map[string]IntentRule, len(f.Rules))}
	for i, r := range f.Rules {
		r.Signal = strings.TrimSpace(strings.ToLower(r.Signal))
		if r.Signal == "" {
			return nil, fmt.Errorf("intent rule %d: signal is required", i)
		}
		switch r.Target {
		case TemperatureWarm, TemperatureHot, TemperatureConverted:
		default:
			return nil, fmt.Errorf("intent rule %q: target %q must be warm, hot or converted", r.Signal, r.Target)
		}
		if r.MinConfidence < 0 || r.MinConfidence > 1 {
			return nil, fmt.Errorf("intent rule %q: min_confidence must be within [0,1]", r.Signal)
		}
		t.rules[r.Signal] = r
	}
	return t, nil
}

// Rule returns the rule for a signal name.
func (t *IntentTable) Rule(signal string) (IntentRule, bool) {
	r, ok := t.rules[strings.ToLower(signal)]
	return r, ok
}

// Apply promotes the lead to the highest target reached by signals.
// Promotion never demotes, never touches blocked or terminal leads, and
// ignores unknown signals or those below the rule's confidence.
func (t *IntentTable) Apply(lead *Lead, signals []Signal, at time.Time) Transition {
	tr := Transition{From: lead.Temperature, To: lead.Temperature}
	if lead.Blocked || lead.Temperature.IsTerminal() {
		return tr
	}
	best := lead.Temperature
	for _, s := range signals {
		r, ok := t.Rule(s.Name)
		if !ok || s.Confidence < r.MinConfidence {
			continue
		}
		if r.Target.rank() > best.rank() {
			best = r.Target
		}
	}
	if best == lead.Temperature {
		return tr
	}
	if best == TemperatureConverted {
		return Convert(lead, at)
	}
	lead.Temperature = best
	lead.UpdatedAt = at
	tr.To = best
	return tr
}
