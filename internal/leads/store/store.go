// Package store is the crash-safe, single-writer persistence layer for leads.
//
// All mutations go through Update, which serialises writers, applies the
// change to a copy-on-write view and commits the whole document with an
// atomic replace before the change becomes visible to readers.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	"leadengine/internal/leads/domain"
	"leadengine/platform/apperr"
	"leadengine/platform/config"
	"leadengine/platform/logger"
	"leadengine/platform/metrics"
)

// BackupMirror receives a copy of every backup written locally.
type BackupMirror interface {
	Upload(ctx context.Context, name string, data []byte) error
}

// Store owns the committed state and its file.
type Store struct {
	path       string
	backupDir  string
	maxBackups int

	writeMu sync.Mutex // serialises Update, Save and Backup

	stateMu   sync.RWMutex
	state     *State
	lastSaved time.Time

	mirror  BackupMirror
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// beforeRename is a test hook that runs between temp write and rename.
	beforeRename func(tmpPath string) error
}

// Option customises a Store.
type Option func(*Store)

// WithMirror sets the backup mirror.
func WithMirror(m BackupMirror) Option {
	return func(s *Store) { s.mirror = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMetrics sets the collectors used for save timings.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a store without touching disk. Call Open to load state.
func New(cfg config.StoreConfig, log *logger.Logger, opts ...Option) *Store {
	maxBackups := cfg.GetBackupMaxFiles()
	if maxBackups < 1 {
		maxBackups = 48
	}
	s := &Store{
		path:       cfg.GetDataFile(),
		backupDir:  cfg.GetBackupDir(),
		maxBackups: maxBackups,
		state:      NewState(),
		log:        log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open loads the data file, recovering from the newest valid backup when the
// file is corrupt. A corrupt file with no usable backup is a Corruption error
// naming both locations.
func (s *Store) Open() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	st, savedAt, err := s.Load()
	switch {
	case err == nil:
		s.commit(st, savedAt)
		s.log.Info("store: loaded", "file", s.path, "leads", len(st.Leads))
		return nil
	case errors.Is(err, fs.ErrNotExist):
		s.commit(NewState(), time.Time{})
		s.log.Info("store: no data file, starting empty", "file", s.path)
		return nil
	case !apperr.Is(err, apperr.KindCorruption):
		return fmt.Errorf("open store: %w", err)
	}

	loadErr := err
	st, backupName, berr := s.latestValidBackup()
	if berr != nil {
		return apperr.Corruption(
			fmt.Sprintf("data file %s is unreadable and no valid backup was found in %s", s.path, s.backupDir),
			errors.Join(loadErr, berr),
		).WithOp("store.Open")
	}

	quarantine := fmt.Sprintf("%s.corrupt-%s", s.path, s.now().UTC().Format("20060102-150405"))
	if err := os.Rename(s.path, quarantine); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Warn("store: could not quarantine corrupt file", "file", s.path, "error", err)
	}
	if err := s.saveLocked(st); err != nil {
		return fmt.Errorf("rewrite recovered state: %w", err)
	}
	s.commit(st, s.now())
	s.log.Warn("store: recovered from corruption",
		"file", s.path,
		"backup", backupName,
		"quarantined", quarantine,
		"leads", len(st.Leads),
		"error", loadErr,
	)
	return nil
}

// Load reads and verifies the data file without changing the store.
func (s *Store) Load() (*State, time.Time, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, time.Time{}, err
	}
	return decodeDocument(s.path, data)
}

// Save commits st as the new state.
func (s *Store) Save(st *State) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.saveLocked(st); err != nil {
		return err
	}
	s.commit(st.Clone(), s.now())
	return nil
}

func (s *Store) saveLocked(st *State) error {
	start := s.now()
	if s.metrics != nil {
		defer s.metrics.ObserveSince(s.metrics.StoreSaveDuration, start)
	}
	data, err := encodeDocument(st, start)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, data, s.beforeRename); err != nil {
		if s.metrics != nil {
			s.metrics.StoreSaveFailures.Inc()
		}
		s.log.StorageError("store.save", err)
		return fmt.Errorf("save store: %w", err)
	}
	return nil
}

func (s *Store) commit(st *State, savedAt time.Time) {
	s.stateMu.Lock()
	s.state = st
	if !savedAt.IsZero() {
		s.lastSaved = savedAt
	}
	s.stateMu.Unlock()
}

// Update runs fn against a copy-on-write view of the state and commits the
// result. fn returning an error discards every change. When fn changes
// nothing, no write happens.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.stateMu.RLock()
	base := s.state
	s.stateMu.RUnlock()

	tx := newTx(base, s.now())
	if err := fn(tx); err != nil {
		return err
	}
	if !tx.dirty() {
		return nil
	}

	next := tx.build()
	if err := s.saveLocked(next); err != nil {
		return err
	}
	s.commit(next, tx.now)
	return nil
}

// UpdateLead runs fn against a private copy of one lead. A missing lead is
// a NotFound error.
func (s *Store) UpdateLead(ctx context.Context, id string, fn func(tx *Tx, l *domain.Lead) error) error {
	return s.Update(ctx, func(tx *Tx) error {
		l, ok := tx.Lead(id)
		if !ok {
			return apperr.NotFound(fmt.Sprintf("lead %s not found", id))
		}
		return fn(tx, l)
	})
}

// Snapshot returns a deep copy of the committed state.
func (s *Store) Snapshot() *State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state.Clone()
}

// Lead returns a copy of one lead.
func (s *Store) Lead(id string) (*domain.Lead, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	l, ok := s.state.Leads[id]
	if !ok {
		return nil, false
	}
	return l.Clone(), true
}

// LeadIDs returns all lead ids in sorted order.
func (s *Store) LeadIDs() []string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	ids := make([]string, 0, len(s.state.Leads))
	for id := range s.state.Leads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns a copy of the committed counters.
func (s *Store) Stats() domain.Stats {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state.Stats.Clone()
}

// LastSavedAt is the time of the last successful commit.
func (s *Store) LastSavedAt() time.Time {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.lastSaved
}

// Path is the data file location.
func (s *Store) Path() string {
	return s.path
}
