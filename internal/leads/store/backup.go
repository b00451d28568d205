package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"leadengine/platform/apperr"
)

const (
	backupPrefix     = "leads-"
	backupSuffix     = ".json"
	backupTimeLayout = "20060102-150405.000"
)

// Backup copies the committed data file into the backup directory under a
// timestamped name and prunes the oldest copies beyond the retention limit.
// It returns the new backup's file name.
func (s *Store) Backup(ctx context.Context) (string, error) {
	s.writeMu.Lock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.writeMu.Unlock()
		return "", fmt.Errorf("read data file for backup: %w", err)
	}
	name := backupPrefix + s.now().UTC().Format(backupTimeLayout) + backupSuffix
	err = writeFileAtomic(filepath.Join(s.backupDir, name), data, nil)
	s.writeMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	if s.metrics != nil {
		s.metrics.BackupsWritten.Inc()
	}
	removed, err := s.pruneBackups()
	if err != nil {
		s.log.Warn("store: prune backups failed", "dir", s.backupDir, "error", err)
	}
	s.log.Info("store: backup written", "backup", name, "pruned", removed)

	if s.mirror != nil {
		if err := s.mirror.Upload(ctx, name, data); err != nil {
			s.log.Warn("store: backup mirror upload failed", "backup", name, "error", err)
		}
	}
	return name, nil
}

// Backups lists backup file names, oldest first.
func (s *Store) Backups() ([]string, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || !strings.HasPrefix(n, backupPrefix) || !strings.HasSuffix(n, backupSuffix) {
			continue
		}
		names = append(names, n)
	}
	// The timestamp layout sorts lexically in chronological order.
	sort.Strings(names)
	return names, nil
}

func (s *Store) pruneBackups() (int, error) {
	names, err := s.Backups()
	if err != nil {
		return 0, err
	}
	excess := len(names) - s.maxBackups
	removed := 0
	var errs []error
	for i := 0; i < excess; i++ {
		if err := os.Remove(filepath.Join(s.backupDir, names[i])); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// latestValidBackup walks backups newest first and returns the first that verifies.
func (s *Store) latestValidBackup() (*State, string, error) {
	names, err := s.Backups()
	if err != nil {
		return nil, "", fmt.Errorf("list backups: %w", err)
	}
	if len(names) == 0 {
		return nil, "", apperr.Corruption("no backups available", nil)
	}
	var errs []error
	for i := len(names) - 1; i >= 0; i-- {
		path := filepath.Join(s.backupDir, names[i])
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		st, _, err := decodeDocument(path, data)
		if err != nil {
			s.log.Warn("store: skipping invalid backup", "backup", names[i], "error", err)
			errs = append(errs, err)
			continue
		}
		return st, names[i], nil
	}
	return nil, "", errors.Join(errs...)
}
