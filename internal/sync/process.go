package sync

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/matheus3301/offsync/internal/bus"
	"github.com/matheus3301/offsync/internal/metrics"
	"github.com/matheus3301/offsync/internal/payload"
	"github.com/matheus3301/offsync/internal/remote"
	"github.com/matheus3301/offsync/internal/status"
	"github.com/matheus3301/offsync/internal/store"
)

// Outcome is what an attempt did to its queue item.
type Outcome string

const (
	OutcomeSynced   Outcome = "synced"
	OutcomeResolved Outcome = "resolved" // synced after a conflict was resolved
	OutcomeRetry    Outcome = "retry"
	OutcomeFailed   Outcome = "failed"
)

// Result reports one item attempted during a run.
type Result struct {
	ItemID      int64           `json:"itemId"`
	Operation   store.Operation `json:"operation"`
	Success     bool            `json:"success"`
	Outcome     Outcome         `json:"outcome"`
	RetriesUsed int             `json:"retriesUsed"`
	Error       string          `json:"error,omitempty"`
}

// ErrorKind classifies a SyncError.
type ErrorKind string

const (
	ErrorValidation       ErrorKind = "validation"
	ErrorRetriesExhausted ErrorKind = "retries_exhausted"
	ErrorConflict         ErrorKind = "conflict"
	ErrorStore            ErrorKind = "store"
)

// SyncError describes a terminal item failure, or a store failure that
// stopped a run (ItemID is zero then).
type SyncError struct {
	ItemID    int64           `json:"itemId,omitempty"`
	Operation store.Operation `json:"operation,omitempty"`
	Kind      ErrorKind       `json:"kind"`
	Message   string          `json:"message"`
	Err       error           `json:"-"`
}

func (e SyncError) Error() string {
	if e.ItemID == 0 {
		return fmt.Sprintf("sync %s error: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("sync item %d (%s) %s: %s", e.ItemID, e.Operation, e.Kind, e.Message)
}

func (e SyncError) Unwrap() error { return e.Err }

// ErrAwaitingResolution fails an item whose conflict was left pending for
// manual resolution.
var ErrAwaitingResolution = errors.New("awaiting manual conflict resolution")

// process runs one attempt. The returned error is non-nil only when the
// store failed or ctx ended and the run must stop; the item is then put
// back to pending without charging a retry.
func (o *Orchestrator) process(ctx context.Context, item *store.QueueItem) (res Result, err error) {
	res = Result{ItemID: item.ID, Operation: item.Operation, RetriesUsed: item.RetryCount}
	if err := o.moveItem(ctx, item, store.QueueProcessing, map[string]any{
		"lastAttemptAt": o.now().UnixMilli(),
	}); err != nil {
		return res, err
	}
	var p payload.Payload
	defer func() {
		if err != nil && item.Status == store.QueueProcessing {
			o.release(ctx, item, p)
		}
	}()
	o.bus.Emit(bus.KindSyncItem, map[string]any{
		"itemId":    item.ID,
		"operation": item.Operation,
		"attempt":   item.RetryCount + 1,
	})

	p, err = payload.Decode(item.Operation, item.Payload)
	if err == nil {
		err = payload.Validate(p)
	}
	if err != nil {
		return o.fail(context.WithoutCancel(ctx), item, p, ErrorValidation, err, item.RetryCount)
	}

	outcome, err := o.dispatch(ctx, item, p)
	// Once the request is over, bookkeeping must land even if ctx ended.
	wctx := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		return o.complete(wctx, item, p, outcome)
	case ctx.Err() != nil:
		return res, ctx.Err()
	case store.IsStoreError(err):
		return res, err
	case errors.Is(err, ErrAwaitingResolution):
		return o.fail(wctx, item, p, ErrorConflict, err, item.RetryCount)
	case remote.IsRetryable(err):
		return o.retry(wctx, item, p, err)
	default:
		return o.fail(wctx, item, p, ErrorValidation, err, item.RetryCount)
	}
}

// release returns an item interrupted mid-attempt to pending, keeping its
// retry count and schedule.
func (o *Orchestrator) release(ctx context.Context, item *store.QueueItem, p payload.Payload) {
	ctx = context.WithoutCancel(ctx)
	if err := o.moveItem(ctx, item, store.QueuePending, nil); err != nil {
		o.log.Warn("release interrupted item", zap.Int64("item_id", item.ID), zap.Error(err))
		return
	}
	if err := o.markRecord(ctx, p, store.MessagePending, item.RetryCount); err != nil {
		o.log.Warn("release interrupted record", zap.Int64("item_id", item.ID), zap.Error(err))
	}
	o.log.Info("interrupted item back to pending", zap.Int64("item_id", item.ID))
}

func (o *Orchestrator) dispatch(ctx context.Context, item *store.QueueItem, p payload.Payload) (Outcome, error) {
	switch v := p.(type) {
	case payload.Message:
		if err := o.markRecord(ctx, v, store.MessageSyncing, item.RetryCount); err != nil {
			return "", err
		}
		r, err := o.api.SendMessage(ctx, item.ID, v)
		if err != nil {
			return "", err
		}
		return OutcomeSynced, o.db.SetMetadata(ctx, serverIDKey(item.ID), r.MessageID)
	case payload.FriendRequest:
		return OutcomeSynced, o.api.SendFriendRequest(ctx, item.ID, v)
	case payload.ProfileUpdate:
		return o.pushVersioned(ctx, item, recordProfile, v.Fields, v.Timestamp, o.api.UpdateProfile)
	case payload.LocationUpdate:
		return o.pushVersioned(ctx, item, recordLocation, locationFields(v), v.Timestamp, o.api.UpdateLocation)
	default:
		return "", &payload.InvalidError{Op: item.Operation, Reason: fmt.Sprintf("no handler for %T", p)}
	}
}

func (o *Orchestrator) complete(ctx context.Context, item *store.QueueItem, p payload.Payload, outcome Outcome) (Result, error) {
	res := Result{ItemID: item.ID, Operation: item.Operation, Success: true, Outcome: outcome, RetriesUsed: item.RetryCount}
	if err := o.moveItem(ctx, item, store.QueueCompleted, map[string]any{
		"error":         nil,
		"nextAttemptAt": 0,
	}); err != nil {
		return res, err
	}
	if err := o.markRecord(ctx, p, store.MessageSynced, 0); err != nil {
		return res, err
	}
	metrics.ItemsSynced.WithLabelValues(string(item.Operation)).Inc()
	o.log.Info("item synced",
		zap.Int64("item_id", item.ID),
		zap.String("operation", string(item.Operation)),
		zap.Int("retries", item.RetryCount),
	)
	o.bus.Emit(bus.KindSyncSuccess, res)
	return res, nil
}

func (o *Orchestrator) retry(ctx context.Context, item *store.QueueItem, p payload.Payload, cause error) (Result, error) {
	n := item.RetryCount + 1
	if n > o.cfg.MaxRetries {
		return o.fail(ctx, item, p, ErrorRetriesExhausted, cause, n)
	}
	delay := o.retryDelay(n)
	next := o.now().Add(delay).UnixMilli()
	if err := o.moveItem(ctx, item, store.QueuePending, map[string]any{
		"retryCount":    n,
		"nextAttemptAt": next,
		"error":         cause.Error(),
	}); err != nil {
		return Result{ItemID: item.ID, Operation: item.Operation}, err
	}
	if err := o.markRecord(ctx, p, store.MessagePending, n); err != nil {
		return Result{ItemID: item.ID, Operation: item.Operation}, err
	}
	metrics.ItemsRetried.WithLabelValues(string(item.Operation)).Inc()
	o.log.Warn("item will be retried",
		zap.Int64("item_id", item.ID),
		zap.String("operation", string(item.Operation)),
		zap.Int("retry", n),
		zap.Duration("delay", delay),
		zap.Error(cause),
	)
	return Result{
		ItemID:      item.ID,
		Operation:   item.Operation,
		Outcome:     OutcomeRetry,
		RetriesUsed: n,
		Error:       cause.Error(),
	}, nil
}

// fail marks item terminally failed with retries as its final retry count.
func (o *Orchestrator) fail(ctx context.Context, item *store.QueueItem, p payload.Payload, kind ErrorKind, cause error, retries int) (Result, error) {
	res := Result{
		ItemID:      item.ID,
		Operation:   item.Operation,
		Outcome:     OutcomeFailed,
		RetriesUsed: retries,
		Error:       cause.Error(),
	}
	if err := o.moveItem(ctx, item, store.QueueFailed, map[string]any{
		"retryCount":    retries,
		"error":         cause.Error(),
		"nextAttemptAt": 0,
	}); err != nil {
		return res, err
	}
	if err := o.markRecord(ctx, p, store.MessageFailed, retries); err != nil {
		return res, err
	}
	metrics.ItemsFailed.WithLabelValues(string(item.Operation), string(kind)).Inc()
	o.log.Error("item failed",
		zap.Int64("item_id", item.ID),
		zap.String("operation", string(item.Operation)),
		zap.String("kind", string(kind)),
		zap.Error(cause),
	)
	o.reportError(SyncError{
		ItemID:    item.ID,
		Operation: item.Operation,
		Kind:      kind,
		Message:   cause.Error(),
		Err:       cause,
	})
	return res, nil
}

// moveItem applies a checked status change plus patch to item.
func (o *Orchestrator) moveItem(ctx context.Context, item *store.QueueItem, to store.QueueStatus, patch map[string]any) error {
	if err := status.CheckQueueTransition(item.Status, to); err != nil {
		return err
	}
	if patch == nil {
		patch = make(map[string]any, 1)
	}
	patch["status"] = string(to)
	if err := o.db.UpdateQueueItem(ctx, item.ID, patch); err != nil {
		return err
	}
	item.Status = to
	return nil
}

// markRecord mirrors an attempt onto the local record behind the payload,
// if there is one. Records that were never stored locally are ignored.
func (o *Orchestrator) markRecord(ctx context.Context, p payload.Payload, st store.MessageStatus, retries int) error {
	var err error
	switch v := p.(type) {
	case payload.Message:
		if v.ID == "" {
			return nil
		}
		_, err = o.db.SetMessageStatus(ctx, v.ID, st, retries)
	case payload.FriendRequest:
		if v.ID == "" || st == store.MessageSyncing {
			return nil
		}
		err = o.db.UpdateFriendRequest(ctx, v.ID, map[string]any{
			"status":     string(friendRequestStatus(st)),
			"retryCount": retries,
		})
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func friendRequestStatus(st store.MessageStatus) store.FriendRequestStatus {
	switch st {
	case store.MessageSynced:
		return store.FriendRequestSynced
	case store.MessageFailed:
		return store.FriendRequestFailed
	default:
		return store.FriendRequestPending
	}
}

func locationFields(l payload.LocationUpdate) map[string]any {
	f := map[string]any{
		"latitude":  l.Latitude,
		"longitude": l.Longitude,
	}
	if l.Accuracy != 0 {
		f["accuracy"] = l.Accuracy
	}
	return f
}
