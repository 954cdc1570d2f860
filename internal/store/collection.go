package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Collection names a record collection in the local store.
type Collection string

const (
	Messages       Collection = "messages"
	SyncQueue      Collection = "sync_queue"
	UserCache      Collection = "user_cache"
	FriendRequests Collection = "friend_requests"
	SyncMetadata   Collection = "sync_metadata"
)

// Secondary index names accepted by QueryByIndex.
const (
	IndexStatus    = "status"
	IndexChatID    = "chatId"
	IndexPriority  = "priority"
	IndexExpiresAt = "expiresAt"
)

// AllCollections lists every collection, in the order ClearAll empties them.
var AllCollections = []Collection{Messages, SyncQueue, UserCache, FriendRequests, SyncMetadata}

type schema struct {
	table    string
	keyCol   string
	keyField string // JSON field holding the key
	autoKey  bool
	indexes  map[string]string // index name -> generated column
}

var schemas = map[Collection]schema{
	Messages: {
		table: "messages", keyCol: "id", keyField: "id",
		indexes: map[string]string{IndexStatus: "status", IndexChatID: "chat_id"},
	},
	SyncQueue: {
		table: "sync_queue", keyCol: "id", keyField: "id", autoKey: true,
		indexes: map[string]string{IndexStatus: "status", IndexPriority: "priority"},
	},
	UserCache: {
		table: "user_cache", keyCol: "user_id", keyField: "userId",
		indexes: map[string]string{IndexExpiresAt: "expires_at"},
	},
	FriendRequests: {
		table: "friend_requests", keyCol: "id", keyField: "id",
		indexes: map[string]string{IndexStatus: "status"},
	},
	SyncMetadata: {
		table: "sync_metadata", keyCol: "key", keyField: "key",
	},
}

func lookup(c Collection) (schema, error) {
	s, ok := schemas[c]
	if !ok {
		return schema{}, fmt.Errorf("unknown collection %q", c)
	}
	return s, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Add inserts a new record. It fails if the key already exists. For
// auto-increment collections the store assigns the key, writes it back into
// the record body and returns it; otherwise the returned id is zero.
func Add[T any](ctx context.Context, db *DB, c Collection, rec T) (int64, error) {
	conn, err := db.handle(ctx)
	if err != nil {
		return 0, wrap("add", c, err)
	}
	id, err := addTo(ctx, conn, c, rec)
	return id, wrap("add", c, err)
}

func addTo(ctx context.Context, q queryer, c Collection, rec any) (int64, error) {
	s, err := lookup(c)
	if err != nil {
		return 0, err
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("encode record: %w", err)
	}

	if !s.autoKey {
		_, err := q.ExecContext(ctx,
			`INSERT INTO `+s.table+` (`+s.keyCol+`, body) SELECT json_extract(?, '$.`+s.keyField+`'), ?`,
			string(body), string(body))
		return 0, err
	}

	res, err := q.ExecContext(ctx, `INSERT INTO `+s.table+` (body) VALUES (?)`, string(body))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := q.ExecContext(ctx,
		`UPDATE `+s.table+` SET body = json_set(body, '$.`+s.keyField+`', `+s.keyCol+`) WHERE `+s.keyCol+` = ?`, id); err != nil {
		return 0, err
	}
	return id, nil
}

// Put inserts or replaces a record by key. Auto-increment collections are
// not supported.
func Put[T any](ctx context.Context, db *DB, c Collection, rec T) error {
	s, err := lookup(c)
	if err != nil {
		return wrap("put", c, err)
	}
	if s.autoKey {
		return wrap("put", c, errors.New("put requires an explicit key"))
	}
	conn, err := db.handle(ctx)
	if err != nil {
		return wrap("put", c, err)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return wrap("put", c, fmt.Errorf("encode record: %w", err))
	}
	_, err = conn.ExecContext(ctx, `
		INSERT INTO `+s.table+` (`+s.keyCol+`, body) SELECT json_extract(?, '$.`+s.keyField+`'), ?
		ON CONFLICT(`+s.keyCol+`) DO UPDATE SET body = excluded.body`,
		string(body), string(body))
	return wrap("put", c, err)
}

// Get loads the record stored under key. It returns ErrNotFound when absent.
func Get[T any](ctx context.Context, db *DB, c Collection, key any) (*T, error) {
	s, err := lookup(c)
	if err != nil {
		return nil, wrap("get", c, err)
	}
	conn, err := db.handle(ctx)
	if err != nil {
		return nil, wrap("get", c, err)
	}
	var body string
	err = conn.QueryRowContext(ctx, `SELECT body FROM `+s.table+` WHERE `+s.keyCol+` = ?`, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrap("get", c, ErrNotFound)
	}
	if err != nil {
		return nil, wrap("get", c, err)
	}
	var rec T
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, wrap("get", c, fmt.Errorf("decode record: %w", err))
	}
	return &rec, nil
}

// Update applies patch to the record under key as a JSON merge patch in a
// single statement. It returns ErrNotFound when no record matches.
func Update(ctx context.Context, db *DB, c Collection, key any, patch map[string]any) error {
	return updateWhere(ctx, db, c, key, patch, "")
}

func updateWhere(ctx context.Context, db *DB, c Collection, key any, patch map[string]any, cond string, args ...any) error {
	s, err := lookup(c)
	if err != nil {
		return wrap("update", c, err)
	}
	conn, err := db.handle(ctx)
	if err != nil {
		return wrap("update", c, err)
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return wrap("update", c, fmt.Errorf("encode patch: %w", err))
	}
	query := `UPDATE ` + s.table + ` SET body = json_patch(body, ?) WHERE ` + s.keyCol + ` = ?`
	if cond != "" {
		query += ` AND ` + cond
	}
	res, err := conn.ExecContext(ctx, query, append([]any{string(body), key}, args...)...)
	if err != nil {
		return wrap("update", c, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("update", c, err)
	}
	if n == 0 {
		return wrap("update", c, ErrNotFound)
	}
	return nil
}

// Delete removes the record under key. Deleting a missing key is not an error.
func Delete(ctx context.Context, db *DB, c Collection, key any) error {
	s, err := lookup(c)
	if err != nil {
		return wrap("delete", c, err)
	}
	conn, err := db.handle(ctx)
	if err != nil {
		return wrap("delete", c, err)
	}
	_, err = conn.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE `+s.keyCol+` = ?`, key)
	return wrap("delete", c, err)
}

// QueryByIndex returns every record whose index column equals value,
// ordered by key.
func QueryByIndex[T any](ctx context.Context, db *DB, c Collection, index string, value any) ([]T, error) {
	s, err := lookup(c)
	if err != nil {
		return nil, wrap("query", c, err)
	}
	col, ok := s.indexes[index]
	if !ok {
		return nil, wrap("query", c, fmt.Errorf("%w %q", ErrUnknownIndex, index))
	}
	return selectBodies[T](ctx, db, c, `WHERE `+col+` = ? ORDER BY `+s.keyCol, value)
}

// All returns every record in the collection, ordered by key.
func All[T any](ctx context.Context, db *DB, c Collection) ([]T, error) {
	s, err := lookup(c)
	if err != nil {
		return nil, wrap("query", c, err)
	}
	return selectBodies[T](ctx, db, c, `ORDER BY `+s.keyCol)
}

func selectBodies[T any](ctx context.Context, db *DB, c Collection, tail string, args ...any) ([]T, error) {
	s, err := lookup(c)
	if err != nil {
		return nil, wrap("query", c, err)
	}
	conn, err := db.handle(ctx)
	if err != nil {
		return nil, wrap("query", c, err)
	}
	rows, err := conn.QueryContext(ctx, `SELECT body FROM `+s.table+` `+tail, args...)
	if err != nil {
		return nil, wrap("query", c, err)
	}
	defer func() { _ = rows.Close() }()

	var out []T
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, wrap("query", c, err)
		}
		var rec T
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return nil, wrap("query", c, fmt.Errorf("decode record: %w", err))
		}
		out = append(out, rec)
	}
	return out, wrap("query", c, rows.Err())
}

// Count returns the number of records in a collection.
func (db *DB) Count(ctx context.Context, c Collection) (int, error) {
	s, err := lookup(c)
	if err != nil {
		return 0, wrap("count", c, err)
	}
	conn, err := db.handle(ctx)
	if err != nil {
		return 0, wrap("count", c, err)
	}
	var n int
	err = conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+s.table).Scan(&n)
	return n, wrap("count", c, err)
}

// Clear empties a single collection.
func (db *DB) Clear(ctx context.Context, c Collection) error {
	s, err := lookup(c)
	if err != nil {
		return wrap("clear", c, err)
	}
	conn, err := db.handle(ctx)
	if err != nil {
		return wrap("clear", c, err)
	}
	_, err = conn.ExecContext(ctx, `DELETE FROM `+s.table)
	return wrap("clear", c, err)
}
