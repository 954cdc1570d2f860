package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// AddToQueue enqueues an intent. Status, retry count and creation time are
// set by the store; the assigned id is returned.
func (db *DB) AddToQueue(ctx context.Context, op Operation, payload json.RawMessage, priority int) (int64, error) {
	return db.enqueue(ctx, db.newQueueItem(op, payload, priority), "", nil)
}

// AddToQueueWithMessage enqueues a message intent and records the local
// message in the same transaction. An existing message with the same id is
// left untouched.
func (db *DB) AddToQueueWithMessage(ctx context.Context, payload json.RawMessage, priority int, m *Message) (int64, error) {
	rec := *m
	rec.Status = MessagePending
	rec.RetryCount = 0
	if rec.Timestamp == 0 {
		rec.Timestamp = db.now().UnixMilli()
	}
	return db.enqueue(ctx, db.newQueueItem(OpMessage, payload, priority), Messages, rec)
}

// AddToQueueWithFriendRequest enqueues a friend request intent and records
// the request in the same transaction. An existing request with the same id
// is left untouched.
func (db *DB) AddToQueueWithFriendRequest(ctx context.Context, payload json.RawMessage, priority int, r *FriendRequest) (int64, error) {
	rec := *r
	rec.Status = FriendRequestPending
	rec.RetryCount = 0
	if rec.Timestamp == 0 {
		rec.Timestamp = db.now().UnixMilli()
	}
	return db.enqueue(ctx, db.newQueueItem(OpFriendRequest, payload, priority), FriendRequests, rec)
}

func (db *DB) newQueueItem(op Operation, payload json.RawMessage, priority int) QueueItem {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return QueueItem{
		Operation: op,
		Payload:   payload,
		Priority:  priority,
		Status:    QueuePending,
		CreatedAt: db.now().UnixMilli(),
	}
}

// enqueue adds item and, when c is set, inserts rec into c if its key is
// free. Both writes commit together.
func (db *DB) enqueue(ctx context.Context, item QueueItem, c Collection, rec any) (int64, error) {
	conn, err := db.handle(ctx)
	if err != nil {
		return 0, wrap("enqueue", SyncQueue, err)
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrap("enqueue", SyncQueue, err)
	}
	defer func() { _ = tx.Rollback() }()

	if c != "" {
		if err := insertIgnore(ctx, tx, c, rec); err != nil {
			return 0, wrap("enqueue", c, err)
		}
	}
	id, err := addTo(ctx, tx, SyncQueue, item)
	if err != nil {
		return 0, wrap("enqueue", SyncQueue, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, wrap("enqueue", SyncQueue, err)
	}
	return id, nil
}

func insertIgnore(ctx context.Context, q queryer, c Collection, rec any) error {
	s, err := lookup(c)
	if err != nil {
		return err
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	key, ok := fields[s.keyField]
	if !ok {
		return fmt.Errorf("record has no %q field", s.keyField)
	}
	_, err = q.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (%s, body) VALUES (?, ?) ON CONFLICT(%s) DO NOTHING`, s.table, s.keyCol, s.keyCol),
		key, string(body))
	return err
}

// GetQueueItem returns a queue item by id.
func (db *DB) GetQueueItem(ctx context.Context, id int64) (*QueueItem, error) {
	return Get[QueueItem](ctx, db, SyncQueue, id)
}

// NextQueueItem returns the most urgent pending item eligible at nowMs:
// lowest priority value first, then oldest createdAt, then insertion order.
// It returns nil when nothing is eligible.
func (db *DB) NextQueueItem(ctx context.Context, nowMs int64) (*QueueItem, error) {
	conn, err := db.handle(ctx)
	if err != nil {
		return nil, wrap("next", SyncQueue, err)
	}
	var body string
	err = conn.QueryRowContext(ctx, `
		SELECT body FROM sync_queue
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY priority ASC, created_at ASC, id ASC
		LIMIT 1`, string(QueuePending), nowMs).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("next", SyncQueue, err)
	}
	var item QueueItem
	if err := json.Unmarshal([]byte(body), &item); err != nil {
		return nil, wrap("next", SyncQueue, fmt.Errorf("decode record: %w", err))
	}
	return &item, nil
}

// NextAttemptAt returns the earliest nextAttemptAt among pending items, or
// zero when the queue has no pending items.
func (db *DB) NextAttemptAt(ctx context.Context) (int64, error) {
	conn, err := db.handle(ctx)
	if err != nil {
		return 0, wrap("next_attempt", SyncQueue, err)
	}
	var at sql.NullInt64
	err = conn.QueryRowContext(ctx,
		`SELECT MIN(next_attempt_at) FROM sync_queue WHERE status = ?`, string(QueuePending)).Scan(&at)
	if err != nil {
		return 0, wrap("next_attempt", SyncQueue, err)
	}
	return at.Int64, nil
}

// UpdateQueueItem patches fields of a queue item.
func (db *DB) UpdateQueueItem(ctx context.Context, id int64, patch map[string]any) error {
	return Update(ctx, db, SyncQueue, id, patch)
}

// RemoveFromQueue deletes a queue item.
func (db *DB) RemoveFromQueue(ctx context.Context, id int64) error {
	return Delete(ctx, db, SyncQueue, id)
}

// QueueItems returns items in the given status, or every item when status
// is empty, in queue order.
func (db *DB) QueueItems(ctx context.Context, status QueueStatus) ([]QueueItem, error) {
	if status == "" {
		return selectBodies[QueueItem](ctx, db, SyncQueue, `ORDER BY priority, created_at, id`)
	}
	return selectBodies[QueueItem](ctx, db, SyncQueue,
		`WHERE status = ? ORDER BY priority, created_at, id`, string(status))
}

// CountQueue counts items in any of the given statuses, or all items when
// none are given.
func (db *DB) CountQueue(ctx context.Context, statuses ...QueueStatus) (int, error) {
	if len(statuses) == 0 {
		return db.Count(ctx, SyncQueue)
	}
	conn, err := db.handle(ctx)
	if err != nil {
		return 0, wrap("count", SyncQueue, err)
	}
	query := `SELECT COUNT(*) FROM sync_queue WHERE status IN (?` + strings.Repeat(",?", len(statuses)-1) + `)`
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	var n int
	err = conn.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, wrap("count", SyncQueue, err)
}

// ClearCompletedQueue deletes completed items and returns how many were removed.
func (db *DB) ClearCompletedQueue(ctx context.Context) (int64, error) {
	conn, err := db.handle(ctx)
	if err != nil {
		return 0, wrap("clear_completed", SyncQueue, err)
	}
	res, err := conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE status = ?`, string(QueueCompleted))
	if err != nil {
		return 0, wrap("clear_completed", SyncQueue, err)
	}
	n, err := res.RowsAffected()
	return n, wrap("clear_completed", SyncQueue, err)
}

// ClearQueue deletes every queue item.
func (db *DB) ClearQueue(ctx context.Context) error {
	return db.Clear(ctx, SyncQueue)
}

// ResetProcessing returns items left in processing by an interrupted run to
// pending, and reports how many were reset.
func (db *DB) ResetProcessing(ctx context.Context) (int64, error) {
	conn, err := db.handle(ctx)
	if err != nil {
		return 0, wrap("reset_processing", SyncQueue, err)
	}
	res, err := conn.ExecContext(ctx,
		`UPDATE sync_queue SET body = json_set(body, '$.status', ?) WHERE status = ?`,
		string(QueuePending), string(QueueProcessing))
	if err != nil {
		return 0, wrap("reset_processing", SyncQueue, err)
	}
	n, err := res.RowsAffected()
	return n, wrap("reset_processing", SyncQueue, err)
}
