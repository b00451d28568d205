package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"leadengine/internal/leads/domain"
	"leadengine/platform/apperr"
)

const documentVersion = 1

// State is the full persisted dataset.
type State struct {
	Leads       map[string]*domain.Lead             `json:"leads"`
	Experiments map[string]domain.ExperimentCounter `json:"experiments"`
	Stats       domain.Stats                        `json:"stats"`
}

// NewState returns an empty dataset.
func NewState() *State {
	return &State{
		Leads:       make(map[string]*domain.Lead),
		Experiments: make(map[string]domain.ExperimentCounter),
	}
}

// Clone returns a deep copy safe to hand to readers.
func (s *State) Clone() *State {
	c := &State{
		Leads:       make(map[string]*domain.Lead, len(s.Leads)),
		Experiments: maps.Clone(s.Experiments),
		Stats:       s.Stats.Clone(),
	}
	for id, l := range s.Leads {
		c.Leads[id] = l.Clone()
	}
	if c.Experiments == nil {
		c.Experiments = make(map[string]domain.ExperimentCounter)
	}
	return c
}

// document is the on-disk envelope. Checksum covers the compacted State bytes.
type document struct {
	Version  int             `json:"version"`
	SavedAt  time.Time       `json:"savedAt"`
	Checksum string          `json:"checksum"`
	State    json.RawMessage `json:"state"`
}

func encodeDocument(st *State, savedAt time.Time) ([]byte, error) {
	payload, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	sum := sha256.Sum256(payload)
	data, err := json.Marshal(document{
		Version:  documentVersion,
		SavedAt:  savedAt.UTC(),
		Checksum: hex.EncodeToString(sum[:]),
		State:    payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return append(data, '\n'), nil
}

// decodeDocument parses and verifies a document. Any failure is Corruption.
func decodeDocument(name string, data []byte) (*State, time.Time, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, time.Time{}, apperr.Corruption(fmt.Sprintf("%s is empty", name), nil)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, time.Time{}, apperr.Corruption(fmt.Sprintf("%s is not valid JSON", name), err)
	}
	if doc.Version != documentVersion {
		return nil, time.Time{}, apperr.Corruption(fmt.Sprintf("%s has unsupported version %d", name, doc.Version), nil)
	}
	if len(doc.State) == 0 {
		return nil, time.Time{}, apperr.Corruption(fmt.Sprintf("%s has no state", name), nil)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, doc.State); err != nil {
		return nil, time.Time{}, apperr.Corruption(fmt.Sprintf("%s state is malformed", name), err)
	}
	sum := sha256.Sum256(compact.Bytes())
	if hex.EncodeToString(sum[:]) != doc.Checksum {
		return nil, time.Time{}, apperr.Corruption(fmt.Sprintf("%s checksum mismatch", name), nil)
	}

	st := NewState()
	if err := json.Unmarshal(compact.Bytes(), st); err != nil {
		return nil, time.Time{}, apperr.Corruption(fmt.Sprintf("%s state does not decode", name), err)
	}
	if st.Leads == nil {
		st.Leads = make(map[string]*domain.Lead)
	}
	for id, l := range st.Leads {
		if l == nil || l.ID != id {
			return nil, time.Time{}, apperr.Corruption(fmt.Sprintf("%s has inconsistent lead %q", name, id), nil)
		}
		if l.Conversation == nil {
			l.Conversation = []domain.Turn{}
		}
	}
	// Counters are derived; never trust the cached copy.
	st.Experiments = domain.ComputeExperiments(st.Leads)
	return st, doc.SavedAt, nil
}
