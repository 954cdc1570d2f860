package sync

import (
	"context"
	"fmt"

	"github.com/matheus3301/offsync/internal/conflict"
)

// Versioned records pushed to the server. The name doubles as the
// conflict id.
const (
	recordProfile  = "profile"
	recordLocation = "location"
)

func recordKey(name string) string { return "record_" + name }

func serverIDKey(itemID int64) string { return fmt.Sprintf("message_%d_serverId", itemID) }

// lastKnown returns the last server version seen for a record, or a zero
// version when none was recorded yet.
func (o *Orchestrator) lastKnown(ctx context.Context, name string) (conflict.Version, error) {
	var v conflict.Version
	if _, err := o.db.GetMetadata(ctx, recordKey(name), &v); err != nil {
		return conflict.Version{}, err
	}
	return v, nil
}

func (o *Orchestrator) remember(ctx context.Context, name string, v conflict.Version) error {
	v.ID = name
	v.Origin = conflict.OriginRemote
	return o.db.SetMetadata(ctx, recordKey(name), v)
}

// ServerMessageID returns the id the server assigned to the message sent by
// queue item itemID.
func (o *Orchestrator) ServerMessageID(ctx context.Context, itemID int64) (string, bool, error) {
	var id string
	ok, err := o.db.GetMetadata(ctx, serverIDKey(itemID), &id)
	return id, ok, err
}
