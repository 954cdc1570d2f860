// Package sync drains the offline queue against the remote API.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/offsync/internal/bus"
	"github.com/matheus3301/offsync/internal/conflict"
	"github.com/matheus3301/offsync/internal/metrics"
	"github.com/matheus3301/offsync/internal/netstatus"
	"github.com/matheus3301/offsync/internal/payload"
	"github.com/matheus3301/offsync/internal/remote"
	"github.com/matheus3301/offsync/internal/status"
	"github.com/matheus3301/offsync/internal/store"
)

// API is the remote surface the orchestrator pushes to.
type API interface {
	SendMessage(ctx context.Context, queueID int64, p payload.Message) (remote.MessageResult, error)
	SendFriendRequest(ctx context.Context, queueID int64, p payload.FriendRequest) error
	UpdateProfile(ctx context.Context, req remote.VersionedRequest) (conflict.Version, error)
	UpdateLocation(ctx context.Context, req remote.VersionedRequest) (conflict.Version, error)
}

// Network reports connectivity.
type Network interface {
	IsOnline() bool
	Subscribe(fn func(netstatus.Status)) (unsubscribe func())
}

// Deps are the collaborators of an Orchestrator. DB, API and Network are
// required.
type Deps struct {
	DB       *store.DB
	API      API
	Network  Network
	Resolver *conflict.Resolver
	Machine  *status.Machine
	Bus      *bus.Bus
	Logger   *zap.Logger
	// Now overrides the clock used for queue scheduling.
	Now func() time.Time
}

// RunStatus is delivered to OnSyncStatus listeners at the start and end of
// every run.
type RunStatus struct {
	Syncing   bool `json:"syncing"`
	Processed int  `json:"processed"`
	Pending   int  `json:"pending"`
}

// Orchestrator owns the queue-draining loop. At most one run is active at
// a time no matter how it was triggered.
type Orchestrator struct {
	cfg      Config
	db       *store.DB
	api      API
	net      Network
	resolver *conflict.Resolver
	machine  *status.Machine
	bus      *bus.Bus
	log      *zap.Logger
	now      func() time.Time
	rand     func() float64

	running   atomic.Bool
	destroyed atomic.Bool
	wake      chan struct{}

	statusListeners bus.Listeners[RunStatus]
	errorListeners  bus.Listeners[SyncError]

	mu        gosync.Mutex
	cancel    context.CancelFunc
	unsub     func()
	timer     *time.Timer
	wg        gosync.WaitGroup
	lastRunAt time.Time
	lastErr   string
}

// New creates an orchestrator. It does nothing until SyncAll, Trigger or
// Start is called.
func New(cfg Config, d Deps) *Orchestrator {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Resolver == nil {
		d.Resolver = conflict.NewResolver(d.Bus, d.Logger)
	}
	if d.Machine == nil {
		d.Machine = status.NewMachine(d.Bus)
	}
	o := &Orchestrator{
		cfg:      cfg,
		db:       d.DB,
		api:      d.API,
		net:      d.Network,
		resolver: d.Resolver,
		machine:  d.Machine,
		bus:      d.Bus,
		log:      d.Logger,
		now:      d.Now,
		rand:     defaultRand,
		wake:     make(chan struct{}, 1),
	}
	onPanic := func(p any) {
		o.log.Error("sync listener panicked", zap.Any("panic", p))
	}
	o.statusListeners.OnPanic = onPanic
	o.errorListeners.OnPanic = onPanic
	return o
}

// Resolver returns the conflict resolver used by the orchestrator.
func (o *Orchestrator) Resolver() *conflict.Resolver { return o.resolver }

// Machine returns the engine state machine.
func (o *Orchestrator) Machine() *status.Machine { return o.machine }

// Start recovers items interrupted by a previous process, follows the
// network monitor and runs the trigger loop until Destroy.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.destroyed.Load() {
		return errors.New("orchestrator destroyed")
	}
	if o.cancel != nil {
		return errors.New("orchestrator already started")
	}

	n, err := o.db.ResetProcessing(ctx)
	if err != nil {
		return fmt.Errorf("recover queue: %w", err)
	}
	if n > 0 {
		o.log.Info("recovered interrupted queue items", zap.Int64("count", n))
	}
	if o.net.IsOnline() {
		o.machine.TransitionIf(status.Idle, status.Booting)
	} else {
		o.machine.TransitionIf(status.Offline, status.Booting)
	}

	ctx, o.cancel = context.WithCancel(context.WithoutCancel(ctx))
	o.wg.Add(1)
	go o.loop(ctx)
	// Subscribe delivers the current status right away, which triggers
	// the first run when online.
	o.unsub = o.net.Subscribe(o.onNetwork)
	o.log.Info("sync orchestrator started", zap.String("state", string(o.machine.Current())))
	return nil
}

// Trigger schedules a run on the Start loop. Triggers arriving while a run
// is queued collapse into one.
func (o *Orchestrator) Trigger() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.wake:
			o.runOnce(ctx)
		case <-ticker.C:
			n, err := o.PendingCount(ctx)
			if err != nil {
				o.log.Warn("poll pending count", zap.Error(err))
				continue
			}
			if n > 0 {
				o.runOnce(ctx)
			}
		}
	}
}

func (o *Orchestrator) runOnce(ctx context.Context) {
	if _, err := o.SyncAll(ctx); err != nil && ctx.Err() == nil {
		o.log.Error("sync run failed", zap.Error(err))
	}
}

func (o *Orchestrator) onNetwork(s netstatus.Status) {
	metrics.SetOnline(s.IsOnline)
	if !s.IsOnline {
		o.machine.TransitionIf(status.Offline, status.Idle, status.Paused)
		return
	}
	o.machine.TransitionIf(status.Idle, status.Offline)
	o.Trigger()
}

// SyncAll drains every pending item that is eligible now, in priority
// order, and returns one result per attempted item. It returns at once
// with no results when another run is active, when offline, or after
// Destroy. A store failure stops the run and is returned; the engine moves
// to Paused until the next run.
func (o *Orchestrator) SyncAll(ctx context.Context) ([]Result, error) {
	if !o.running.CompareAndSwap(false, true) {
		o.log.Debug("sync already in progress")
		return nil, nil
	}
	defer o.running.Store(false)

	if o.destroyed.Load() || !o.net.IsOnline() {
		return nil, nil
	}

	started := o.now()
	o.machine.TransitionIf(status.Syncing, status.Idle, status.Paused)
	o.bus.Emit(bus.KindSyncStart, nil)
	o.statusListeners.Notify(RunStatus{Syncing: true})

	results, runErr := o.drain(ctx)
	if runErr == nil && o.cfg.Cleanup == CleanupSweep {
		if n, err := o.db.ClearCompletedQueue(ctx); err != nil {
			runErr = err
		} else if n > 0 {
			o.log.Debug("swept completed items", zap.Int64("count", n))
		}
	}
	metrics.RunDuration.Observe(o.now().Sub(started).Seconds())

	switch {
	case runErr != nil && ctx.Err() != nil:
		runErr = ctx.Err()
		o.machine.TransitionIf(status.Idle, status.Syncing)
	case runErr != nil:
		o.machine.TransitionIf(status.Paused, status.Syncing)
		o.reportError(SyncError{Kind: ErrorStore, Message: runErr.Error(), Err: runErr})
	case o.net.IsOnline():
		o.machine.TransitionIf(status.Idle, status.Syncing)
	default:
		o.machine.TransitionIf(status.Offline, status.Syncing)
	}

	o.mu.Lock()
	o.lastRunAt = o.now()
	o.lastErr = ""
	if runErr != nil {
		o.lastErr = runErr.Error()
	}
	o.mu.Unlock()

	pending, err := o.PendingCount(ctx)
	if err != nil {
		o.log.Warn("count pending after run", zap.Error(err))
	}
	o.log.Info("sync run finished",
		zap.Int("processed", len(results)),
		zap.Int("pending", pending),
		zap.Duration("took", o.now().Sub(started)),
	)
	o.statusListeners.Notify(RunStatus{Processed: len(results), Pending: pending})
	if runErr == nil {
		o.armRetry(ctx)
	}
	return results, runErr
}

func (o *Orchestrator) drain(ctx context.Context) ([]Result, error) {
	var results []Result
	for {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if !o.net.IsOnline() {
			o.log.Info("connection lost, stopping run")
			return results, nil
		}
		item, err := o.db.NextQueueItem(ctx, o.now().UnixMilli())
		if err != nil {
			return results, err
		}
		if item == nil {
			return results, nil
		}
		res, err := o.process(ctx, item)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
}

// armRetry wakes the loop when the earliest backed-off item becomes
// eligible. It is a no-op unless Start was called.
func (o *Orchestrator) armRetry(ctx context.Context) {
	if !o.net.IsOnline() {
		return
	}
	at, err := o.db.NextAttemptAt(ctx)
	if err != nil || at == 0 {
		return
	}
	delay := max(time.UnixMilli(at).Sub(o.now()), 0)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel == nil || o.destroyed.Load() {
		return
	}
	if o.timer != nil {
		o.timer.Stop()
	}
	o.timer = time.AfterFunc(delay, o.Trigger)
	o.log.Debug("retry timer armed", zap.Duration("in", delay))
}

// Destroy stops timers, the network subscription and the trigger loop, and
// drops every listener. It waits for an in-flight triggered run to finish.
// Calling it more than once is harmless.
func (o *Orchestrator) Destroy() {
	if !o.destroyed.CompareAndSwap(false, true) {
		return
	}
	o.mu.Lock()
	if o.timer != nil {
		o.timer.Stop()
	}
	unsub, cancel := o.unsub, o.cancel
	o.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	o.wg.Wait()
	o.statusListeners.Reset()
	o.errorListeners.Reset()
	if err := o.machine.Transition(status.Stopped); err != nil {
		o.log.Debug("stop state machine", zap.Error(err))
	}
	o.log.Info("sync orchestrator stopped")
}

// IsSyncing reports whether a run is active.
func (o *Orchestrator) IsSyncing() bool { return o.running.Load() }

// OnSyncStatus registers fn for run start and finish notifications.
func (o *Orchestrator) OnSyncStatus(fn func(RunStatus)) (unsubscribe func()) {
	return o.statusListeners.Add(fn)
}

// OnSyncError registers fn for terminal item failures and run-level store
// failures.
func (o *Orchestrator) OnSyncError(fn func(SyncError)) (unsubscribe func()) {
	return o.errorListeners.Add(fn)
}

func (o *Orchestrator) reportError(e SyncError) {
	o.bus.Emit(bus.KindSyncError, e)
	o.errorListeners.Notify(e)
}

// PendingCount counts items still to be synced, including one being
// attempted right now.
func (o *Orchestrator) PendingCount(ctx context.Context) (int, error) {
	n, err := o.db.CountQueue(ctx, store.QueuePending, store.QueueProcessing)
	if err != nil {
		return 0, err
	}
	metrics.QueuePending.Set(float64(n))
	return n, nil
}

// ClearQueue drops every queued item, whatever its state.
func (o *Orchestrator) ClearQueue(ctx context.Context) error {
	if err := o.db.ClearQueue(ctx); err != nil {
		return err
	}
	o.queueChanged(ctx)
	return nil
}

// ClearCompletedQueue drops completed items and reports how many went.
func (o *Orchestrator) ClearCompletedQueue(ctx context.Context) (int64, error) {
	n, err := o.db.ClearCompletedQueue(ctx)
	if err != nil {
		return 0, err
	}
	o.queueChanged(ctx)
	return n, nil
}

// Reset wipes every local collection and drops pending conflicts. Use it
// on sign-out.
func (o *Orchestrator) Reset(ctx context.Context) error {
	if err := o.db.ClearAll(ctx); err != nil {
		return err
	}
	o.resolver.Clear()
	o.log.Info("local data cleared")
	o.queueChanged(ctx)
	return nil
}

func (o *Orchestrator) queueChanged(ctx context.Context) {
	n, err := o.PendingCount(ctx)
	if err != nil {
		o.log.Warn("count pending", zap.Error(err))
		return
	}
	o.bus.Emit(bus.KindQueueChanged, map[string]int{"pending": n})
}

// Snapshot is a point-in-time view of the engine.
type Snapshot struct {
	State     status.State `json:"state"`
	Since     time.Time    `json:"since"`
	Syncing   bool         `json:"syncing"`
	Network   string       `json:"network"`
	Online    bool         `json:"online"`
	Pending   int          `json:"pending"`
	Failed    int          `json:"failed"`
	Conflicts int          `json:"conflicts"`
	LastRunAt time.Time    `json:"lastRunAt,omitzero"`
	LastError string       `json:"lastError,omitempty"`
}

// Snapshot reports the engine state and queue counters.
func (o *Orchestrator) Snapshot(ctx context.Context) (Snapshot, error) {
	pending, err := o.PendingCount(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	failed, err := o.db.CountQueue(ctx, store.QueueFailed)
	if err != nil {
		return Snapshot{}, err
	}
	s := Snapshot{
		State:     o.machine.Current(),
		Since:     o.machine.Since(),
		Syncing:   o.IsSyncing(),
		Online:    o.net.IsOnline(),
		Pending:   pending,
		Failed:    failed,
		Conflicts: len(o.resolver.Pending()),
	}
	if sn, ok := o.net.(interface{ Status() netstatus.Status }); ok {
		s.Network = sn.Status().String()
	}
	o.mu.Lock()
	s.LastRunAt, s.LastError = o.lastRunAt, o.lastErr
	o.mu.Unlock()
	return s, nil
}
