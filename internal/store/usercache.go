package store

import (
	"context"
	"errors"
)

// CacheUser stores or refreshes a cached profile, stamping lastFetched and
// an expiry CacheTTL from now.
func (db *DB) CacheUser(ctx context.Context, u *UserProfile) error {
	now := db.now()
	rec := *u
	rec.LastFetched = now.UnixMilli()
	rec.ExpiresAt = now.Add(db.opts.CacheTTL).UnixMilli()
	if err := Put(ctx, db, UserCache, rec); err != nil {
		return err
	}
	*u = rec
	return nil
}

// GetCachedUser returns the cached profile for userID, or nil when absent
// or expired. Expired entries are treated as absent but stay on disk until
// ClearExpiredCache or ClearUserCache.
func (db *DB) GetCachedUser(ctx context.Context, userID string) (*UserProfile, error) {
	u, err := Get[UserProfile](ctx, db, UserCache, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if db.now().UnixMilli() > u.ExpiresAt {
		return nil, nil
	}
	return u, nil
}

// ClearExpiredCache purges expired profiles and reports how many were removed.
func (db *DB) ClearExpiredCache(ctx context.Context) (int64, error) {
	conn, err := db.handle(ctx)
	if err != nil {
		return 0, wrap("clear_expired", UserCache, err)
	}
	res, err := conn.ExecContext(ctx, `DELETE FROM user_cache WHERE expires_at < ?`, db.now().UnixMilli())
	if err != nil {
		return 0, wrap("clear_expired", UserCache, err)
	}
	n, err := res.RowsAffected()
	return n, wrap("clear_expired", UserCache, err)
}

// ClearUserCache purges every cached profile.
func (db *DB) ClearUserCache(ctx context.Context) error {
	return db.Clear(ctx, UserCache)
}
