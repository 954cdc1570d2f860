package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// AddFriendRequest stores a locally issued friend request as pending.
func (db *DB) AddFriendRequest(ctx context.Context, r *FriendRequest) error {
	rec := *r
	rec.Status = FriendRequestPending
	rec.RetryCount = 0
	if rec.Timestamp == 0 {
		rec.Timestamp = db.now().UnixMilli()
	}
	if _, err := Add(ctx, db, FriendRequests, rec); err != nil {
		return err
	}
	*r = rec
	return nil
}

// UpdateFriendRequest patches fields of a friend request.
func (db *DB) UpdateFriendRequest(ctx context.Context, id string, patch map[string]any) error {
	return Update(ctx, db, FriendRequests, id, patch)
}

// FriendRequestsByStatus returns friend requests in the given state.
func (db *DB) FriendRequestsByStatus(ctx context.Context, status FriendRequestStatus) ([]FriendRequest, error) {
	return QueryByIndex[FriendRequest](ctx, db, FriendRequests, IndexStatus, string(status))
}

// SetMetadata stores value under key.
func (db *DB) SetMetadata(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return wrap("put", SyncMetadata, fmt.Errorf("encode value: %w", err))
	}
	return Put(ctx, db, SyncMetadata, Metadata{Key: key, Value: raw, UpdatedAt: db.now().UnixMilli()})
}

// GetMetadata decodes the value stored under key into out. It reports
// false when the key is absent.
func (db *DB) GetMetadata(ctx context.Context, key string, out any) (bool, error) {
	m, err := Get[Metadata](ctx, db, SyncMetadata, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(m.Value, out); err != nil {
		return false, wrap("get", SyncMetadata, fmt.Errorf("decode value: %w", err))
	}
	return true, nil
}
