package store

import (
	"context"
	"path/filepath"
)

// StorageEstimate reports bytes used by the database file against the
// available grant. The grant is the configured quota, capped by the free
// space on the filesystem holding the database when that can be read.
func (db *DB) StorageEstimate(ctx context.Context) (StorageEstimate, error) {
	conn, err := db.handle(ctx)
	if err != nil {
		return StorageEstimate{}, wrap("estimate", "", err)
	}
	var pages, pageSize int64
	if err := conn.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pages); err != nil {
		return StorageEstimate{}, wrap("estimate", "", err)
	}
	if err := conn.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return StorageEstimate{}, wrap("estimate", "", err)
	}
	usage := pages * pageSize

	quota := db.opts.QuotaBytes
	if free, ok := freeBytes(filepath.Dir(db.path)); ok {
		if quota <= 0 || usage+free < quota {
			quota = usage + free
		}
	}
	return newEstimate(usage, quota), nil
}

func newEstimate(usage, quota int64) StorageEstimate {
	if usage < 0 {
		usage = 0
	}
	if quota < 0 {
		quota = 0
	}
	e := StorageEstimate{Usage: usage, Quota: quota}
	if quota > 0 {
		e.Percent = float64(usage) / float64(quota) * 100
	}
	if e.Percent > 100 {
		e.Percent = 100
	}
	return e
}
