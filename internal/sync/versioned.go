package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/matheus3301/offsync/internal/conflict"
	"github.com/matheus3301/offsync/internal/metrics"
	"github.com/matheus3301/offsync/internal/payload"
	"github.com/matheus3301/offsync/internal/remote"
	"github.com/matheus3301/offsync/internal/store"
)

type pushFunc func(ctx context.Context, req remote.VersionedRequest) (conflict.Version, error)

// pushVersioned sends a patch of a versioned record based on the last
// server version seen. A version conflict is handed to the resolver and the
// resolution is pushed once against the new server version.
func (o *Orchestrator) pushVersioned(ctx context.Context, item *store.QueueItem, name string, fields map[string]any, ts int64, push pushFunc) (Outcome, error) {
	base, err := o.lastKnown(ctx, name)
	if err != nil {
		return "", err
	}
	v, err := push(ctx, remote.VersionedRequest{
		Fields:         fields,
		Timestamp:      ts,
		BaseVersion:    base.Version,
		OfflineQueueID: item.ID,
	})
	if err == nil {
		return OutcomeSynced, o.remember(ctx, name, v)
	}
	ce, ok := remote.AsConflict(err)
	if !ok {
		return "", err
	}

	theirs := ce.Remote
	theirs.ID = name
	theirs.Origin = conflict.OriginRemote
	if err := o.remember(ctx, name, theirs); err != nil {
		return "", err
	}
	mine := conflict.Version{
		ID:           name,
		Data:         overlay(theirs.Data, fields),
		Version:      base.Version,
		LastModified: ts,
		ModifiedBy:   "local",
		Origin:       conflict.OriginLocal,
	}
	c := o.resolver.Detect(mine, theirs)
	if c == nil {
		// The server already holds every value of the patch.
		return OutcomeSynced, nil
	}

	strategy := o.cfg.ConflictFallback
	if c.AutoResolvable {
		strategy = conflict.AutoStrategy(c)
	}
	if strategy == conflict.Manual {
		o.log.Info("conflict left for manual resolution",
			zap.String("record", name), zap.Int64("item_id", item.ID))
		return "", fmt.Errorf("%s v%d: %w", name, theirs.Version, ErrAwaitingResolution)
	}
	res, err := o.resolver.Resolve(c.ID, strategy, nil)
	if err != nil {
		return "", err
	}
	metrics.Conflicts.WithLabelValues(string(strategy)).Inc()
	if cmp.Equal(res.Data, theirs.Data) {
		return OutcomeResolved, nil
	}

	v, err = push(ctx, remote.VersionedRequest{
		Fields:         res.Data,
		Timestamp:      ts,
		BaseVersion:    theirs.Version,
		OfflineQueueID: item.ID,
	})
	if ce, ok := remote.AsConflict(err); ok {
		// The record moved again while resolving; back off and start over.
		return "", &remote.TransientError{Status: 409, Err: ce}
	}
	if err != nil {
		return "", err
	}
	return OutcomeResolved, o.remember(ctx, name, v)
}

func overlay(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	maps.Copy(out, base)
	maps.Copy(out, patch)
	return out
}

// applyResolution queues the resolved data of a conflict resolved outside
// a run so the next run pushes it.
func (o *Orchestrator) applyResolution(ctx context.Context, res conflict.Resolution) error {
	metrics.Conflicts.WithLabelValues(string(res.Strategy)).Inc()
	known, err := o.lastKnown(ctx, res.ID)
	if err != nil {
		return err
	}
	if cmp.Equal(res.Data, known.Data) {
		return nil
	}
	switch res.ID {
	case recordProfile:
		_, err = o.QueueProfileUpdate(ctx, res.Data)
	case recordLocation:
		var l payload.LocationUpdate
		if l, err = decodeLocation(res.Data); err == nil {
			_, err = o.QueueLocationUpdate(ctx, l)
		}
	default:
		err = fmt.Errorf("no record behind conflict %q", res.ID)
	}
	return err
}

func decodeLocation(data map[string]any) (payload.LocationUpdate, error) {
	var l payload.LocationUpdate
	raw, err := json.Marshal(data)
	if err != nil {
		return l, err
	}
	if err := json.Unmarshal(raw, &l); err != nil {
		return l, fmt.Errorf("decode location: %w", err)
	}
	return l, nil
}

// ResolveConflict resolves a pending conflict and queues the result. An
// unknown id is a no-op reporting Resolved=false. If the result cannot be
// queued the conflict stays pending.
func (o *Orchestrator) ResolveConflict(ctx context.Context, id string, strategy conflict.Strategy, data map[string]any) (conflict.Resolution, error) {
	before, _ := o.resolver.Get(id)
	res, err := o.resolver.Resolve(id, strategy, data)
	if err != nil || !res.Resolved {
		return res, err
	}
	if err := o.applyResolution(ctx, res); err != nil {
		o.resolver.Restore(before)
		return conflict.Resolution{ID: id, Strategy: strategy}, err
	}
	return res, nil
}

// AutoResolveConflicts resolves every auto-resolvable pending conflict and
// queues the results. The rest stay pending, as do conflicts whose result
// could not be queued.
func (o *Orchestrator) AutoResolveConflicts(ctx context.Context) ([]conflict.Resolution, error) {
	before := make(map[string]conflict.Conflict)
	for _, c := range o.resolver.Pending() {
		before[c.ID] = c
	}
	out := o.resolver.AutoResolve()
	for i, res := range out {
		if err := o.applyResolution(ctx, res); err != nil {
			for _, r := range out[i:] {
				o.resolver.Restore(before[r.ID])
			}
			return out[:i], err
		}
	}
	return out, nil
}
