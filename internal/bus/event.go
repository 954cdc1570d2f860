package bus

import "time"

// Event kinds published by the sync engine. Subscribers filter by prefix,
// e.g. "sync." or "network.".
const (
	KindEngineState   = "engine.state_changed"
	KindNetworkChange = "network.changed"
	KindSyncStart     = "sync.start"
	KindSyncItem      = "sync.item"
	KindSyncSuccess   = "sync.success"
	KindSyncError     = "sync.error"
	KindSyncConflict  = "sync.conflict"
	KindQueueChanged  = "queue.changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
