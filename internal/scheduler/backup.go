package scheduler

import (
	"context"
	"time"

	"leadengine/platform/logger"
)

const defaultBackupInterval = time.Hour

// Backuper writes one store backup.
type Backuper interface {
	Backup(ctx context.Context) (string, error)
}

// BackupLoop periodically snapshots the store into the backup directory.
type BackupLoop struct {
	store    Backuper
	log      *logger.Logger
	interval time.Duration
}

func NewBackupLoop(store Backuper, log *logger.Logger, interval time.Duration) *BackupLoop {
	if interval <= 0 {
		interval = defaultBackupInterval
	}

	return &BackupLoop{
		store:    store,
		log:      log,
		interval: interval,
	}
}

// Run writes a backup on every tick and a final one when ctx ends.
func (b *BackupLoop) Run(ctx context.Context) {
	if b == nil || b.store == nil {
		return
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.backup(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			b.backup(ctx)
		}
	}
}

func (b *BackupLoop) backup(ctx context.Context) {
	if _, err := b.store.Backup(ctx); err != nil {
		b.log.StorageError("backup", err)
	}
}
