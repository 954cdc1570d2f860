package rpc

import (
	"encoding/json"

	"github.com/matheus3301/offsync/internal/conflict"
	"github.com/matheus3301/offsync/internal/store"
	intsync "github.com/matheus3301/offsync/internal/sync"
)

// Empty is the request or reply of calls without arguments.
type Empty struct{}

type StatusReply struct {
	Account  string `json:"account"`
	UptimeMs int64  `json:"uptimeMs"`
	intsync.Snapshot
}

type SyncReply struct {
	Results []intsync.Result `json:"results"`
	// Skipped is set when another run was already active.
	Skipped bool `json:"skipped,omitempty"`
}

type NetworkRequest struct {
	// Status uses the netstatus text form, e.g. "online 3g rtt=300ms".
	Status string `json:"status"`
}

type NetworkReply struct {
	Network string `json:"network"`
	Online  bool   `json:"online"`
}

type EnqueueRequest struct {
	Operation store.Operation `json:"operation"`
	Payload   json.RawMessage `json:"payload"`
}

type EnqueueReply struct {
	ID int64 `json:"id"`
}

type ListQueueRequest struct {
	// Status filters by state; empty lists every item.
	Status store.QueueStatus `json:"status,omitempty"`
}

type ListQueueReply struct {
	Items []store.QueueItem `json:"items"`
}

type ClearCompletedReply struct {
	Removed int64 `json:"removed"`
}

type ListMessagesRequest struct {
	ChatID string              `json:"chatId,omitempty"`
	Status store.MessageStatus `json:"status,omitempty"`
}

type ListMessagesReply struct {
	Messages []store.Message `json:"messages"`
}

type ConflictsReply struct {
	Conflicts []conflict.Conflict `json:"conflicts"`
}

type ResolveRequest struct {
	ID       string            `json:"id"`
	Strategy conflict.Strategy `json:"strategy"`
	Data     map[string]any    `json:"data,omitempty"`
}

type AutoResolveReply struct {
	Resolutions []conflict.Resolution `json:"resolutions"`
}

type WatchRequest struct {
	// Prefix selects event kinds; empty streams everything.
	Prefix string `json:"prefix,omitempty"`
}

// Event is one bus event as streamed by WatchEvents.
type Event struct {
	ID           string          `json:"id"`
	Account      string          `json:"account"`
	Kind         string          `json:"kind"`
	OccurredAtMs int64           `json:"occurredAtMs"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}
