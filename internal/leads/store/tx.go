package store

import (
	"maps"
	"sort"
	"time"

	"leadengine/internal/leads/domain"
)

// Tx is a copy-on-write view handed to Update callbacks. Leads obtained from
// Tx are private copies; changes become visible only after commit.
type Tx struct {
	base    *State
	touched map[string]*domain.Lead
	stats   *domain.Stats
	now     time.Time
}

func newTx(base *State, now time.Time) *Tx {
	return &Tx{base: base, touched: make(map[string]*domain.Lead), now: now}
}

// Now is the commit timestamp shared by every change in the transaction.
func (tx *Tx) Now() time.Time { return tx.now }

// Lead returns a mutable copy of the lead. Repeated calls return the same copy.
func (tx *Tx) Lead(id string) (*domain.Lead, bool) {
	if l, ok := tx.touched[id]; ok {
		return l, true
	}
	l, ok := tx.base.Leads[id]
	if !ok {
		return nil, false
	}
	c := l.Clone()
	tx.touched[id] = c
	return c, true
}

// Peek returns the committed lead without marking it changed. Do not mutate it.
func (tx *Tx) Peek(id string) (*domain.Lead, bool) {
	if l, ok := tx.touched[id]; ok {
		return l, true
	}
	l, ok := tx.base.Leads[id]
	return l, ok
}

// Put inserts or replaces a lead.
func (tx *Tx) Put(l *domain.Lead) {
	tx.touched[l.ID] = l
}

// Stats returns the mutable counters for this transaction.
func (tx *Tx) Stats() *domain.Stats {
	if tx.stats == nil {
		s := tx.base.Stats.Clone()
		tx.stats = &s
	}
	return tx.stats
}

// IDs lists every lead id, including ones added in this transaction.
func (tx *Tx) IDs() []string {
	ids := make([]string, 0, len(tx.base.Leads)+len(tx.touched))
	for id := range tx.base.Leads {
		ids = append(ids, id)
	}
	for id := range tx.touched {
		if _, ok := tx.base.Leads[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (tx *Tx) dirty() bool {
	return len(tx.touched) > 0 || tx.stats != nil
}

func (tx *Tx) build() *State {
	next := &State{
		Leads: maps.Clone(tx.base.Leads),
		Stats: tx.base.Stats,
	}
	if next.Leads == nil {
		next.Leads = make(map[string]*domain.Lead)
	}
	maps.Copy(next.Leads, tx.touched)
	if tx.stats != nil {
		next.Stats = *tx.stats
	}
	next.Experiments = domain.ComputeExperiments(next.Leads)
	return next
}
