// Package model holds dashboard state fed by daemon calls and the event
// stream.
package model

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/matheus3301/offsync/internal/bus"
	"github.com/matheus3301/offsync/internal/conflict"
	"github.com/matheus3301/offsync/internal/rpc"
	"github.com/matheus3301/offsync/internal/status"
	"github.com/matheus3301/offsync/internal/store"
)

// MaxEvents bounds the event log kept for display.
const MaxEvents = 200

// EngineClient is the part of the daemon API the dashboard reads.
type EngineClient interface {
	GetStatus(ctx context.Context, opts ...grpc.CallOption) (*rpc.StatusReply, error)
}

// QueueClient lists queue items.
type QueueClient interface {
	ListQueue(ctx context.Context, req *rpc.ListQueueRequest, opts ...grpc.CallOption) (*rpc.ListQueueReply, error)
}

// ConflictClient lists pending conflicts.
type ConflictClient interface {
	ListConflicts(ctx context.Context, opts ...grpc.CallOption) (*rpc.ConflictsReply, error)
}

// ViewModel caches daemon state and signals UI refreshes.
type ViewModel struct {
	mu sync.RWMutex

	engine    EngineClient
	queue     QueueClient
	conflicts ConflictClient

	status   *rpc.StatusReply
	items    []store.QueueItem
	pending  []conflict.Conflict
	events   []rpc.Event
	lastSync *rpc.SyncReply

	refreshCh chan struct{}
}

// NewViewModel creates a view model reading through the given clients.
func NewViewModel(e EngineClient, q QueueClient, c ConflictClient) *ViewModel {
	return &ViewModel{
		engine:    e,
		queue:     q,
		conflicts: c,
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh returns the channel that signals UI refresh.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

func (vm *ViewModel) signalRefresh() {
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// LoadStatus fetches the engine snapshot.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	resp, err := vm.engine.GetStatus(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = resp
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// LoadQueue fetches every queue item.
func (vm *ViewModel) LoadQueue(ctx context.Context) error {
	resp, err := vm.queue.ListQueue(ctx, &rpc.ListQueueRequest{})
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.items = resp.Items
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// LoadConflicts fetches pending conflicts.
func (vm *ViewModel) LoadConflicts(ctx context.Context) error {
	resp, err := vm.conflicts.ListConflicts(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.pending = resp.Conflicts
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// LoadAll refreshes status, queue and conflicts, stopping at the first error.
func (vm *ViewModel) LoadAll(ctx context.Context) error {
	for _, load := range []func(context.Context) error{vm.LoadStatus, vm.LoadQueue, vm.LoadConflicts} {
		if err := load(ctx); err != nil {
			return err
		}
	}
	return nil
}

// SetLastSync records the reply of a manual sync.
func (vm *ViewModel) SetLastSync(r *rpc.SyncReply) {
	vm.mu.Lock()
	vm.lastSync = r
	vm.mu.Unlock()
	vm.signalRefresh()
}

// ApplyEvent appends e to the log and patches cached state that the event
// carries, so the status bar moves without waiting for a reload. It reports
// whether the queue or conflicts should be reloaded.
func (vm *ViewModel) ApplyEvent(e rpc.Event) (reload bool) {
	vm.mu.Lock()
	vm.events = append(vm.events, e)
	if over := len(vm.events) - MaxEvents; over > 0 {
		vm.events = append(vm.events[:0:0], vm.events[over:]...)
	}

	switch e.Kind {
	case bus.KindQueueChanged:
		var body struct {
			Pending int `json:"pending"`
		}
		if json.Unmarshal(e.Payload, &body) == nil && vm.status != nil {
			vm.status.Pending = body.Pending
		}
		reload = true
	case bus.KindEngineState:
		var body status.StatusChange
		if json.Unmarshal(e.Payload, &body) == nil && body.To != "" && vm.status != nil {
			vm.status.State = body.To
			vm.status.Since = time.UnixMilli(e.OccurredAtMs)
		}
	case bus.KindNetworkChange:
		reload = true
	case bus.KindSyncSuccess, bus.KindSyncError, bus.KindSyncConflict:
		reload = true
	}
	vm.mu.Unlock()
	vm.signalRefresh()
	return reload
}

// Status returns the cached engine snapshot, or nil before the first load.
func (vm *ViewModel) Status() *rpc.StatusReply {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.status == nil {
		return nil
	}
	s := *vm.status
	return &s
}

// Items returns a snapshot of the queue.
func (vm *ViewModel) Items() []store.QueueItem {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.items
}

// Conflicts returns a snapshot of pending conflicts.
func (vm *ViewModel) Conflicts() []conflict.Conflict {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.pending
}

// Events returns the event log, oldest first.
func (vm *ViewModel) Events() []rpc.Event {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return slices.Clone(vm.events)
}

// LastSync returns the reply of the last manual sync, if any.
func (vm *ViewModel) LastSync() *rpc.SyncReply {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.lastSync
}
