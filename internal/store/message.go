package store

import (
	"context"
	"errors"
)

// AddMessage stores a newly composed message with status pending and a zero
// retry count, regardless of what the caller set.
func (db *DB) AddMessage(ctx context.Context, m *Message) error {
	rec := *m
	rec.Status = MessagePending
	rec.RetryCount = 0
	if rec.Timestamp == 0 {
		rec.Timestamp = db.now().UnixMilli()
	}
	if _, err := Add(ctx, db, Messages, rec); err != nil {
		return err
	}
	*m = rec
	return nil
}

// GetMessage returns the message with the given id.
func (db *DB) GetMessage(ctx context.Context, id string) (*Message, error) {
	return Get[Message](ctx, db, Messages, id)
}

// UpdateMessage patches fields of a message.
func (db *DB) UpdateMessage(ctx context.Context, id string, patch map[string]any) error {
	return Update(ctx, db, Messages, id, patch)
}

// DeleteMessage removes a message from local history.
func (db *DB) DeleteMessage(ctx context.Context, id string) error {
	return Delete(ctx, db, Messages, id)
}

// MessagesByChat returns a chat's messages ordered by timestamp.
func (db *DB) MessagesByChat(ctx context.Context, chatID string) ([]Message, error) {
	return selectBodies[Message](ctx, db, Messages, `WHERE chat_id = ? ORDER BY ts, id`, chatID)
}

// MessagesByStatus returns every message in the given sync state.
func (db *DB) MessagesByStatus(ctx context.Context, status MessageStatus) ([]Message, error) {
	return QueryByIndex[Message](ctx, db, Messages, IndexStatus, string(status))
}

// SetMessageStatus moves a message to status with the given retry count.
// A synced message is never moved back to another status: in that case
// changed is false and err is nil.
func (db *DB) SetMessageStatus(ctx context.Context, id string, status MessageStatus, retryCount int) (changed bool, err error) {
	patch := map[string]any{
		"status":     string(status),
		"retryCount": retryCount,
	}
	if status == MessageSyncing {
		patch["lastAttempt"] = db.now().UnixMilli()
	}
	if status == MessageSynced {
		patch["retryCount"] = 0
		err = Update(ctx, db, Messages, id, patch)
	} else {
		err = updateWhere(ctx, db, Messages, id, patch, `status != ?`, string(MessageSynced))
	}
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, ErrNotFound) || status == MessageSynced {
		return false, err
	}
	// Zero rows: either missing or already synced.
	if _, getErr := db.GetMessage(ctx, id); getErr != nil {
		return false, getErr
	}
	return false, nil
}
