package sync

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/offsync/internal/payload"
	"github.com/matheus3301/offsync/internal/store"
)

// Enqueue normalizes and queues any payload. Payloads are not validated
// here; an invalid one fails terminally when it is synced.
func (o *Orchestrator) Enqueue(ctx context.Context, p payload.Payload) (int64, error) {
	switch v := p.(type) {
	case payload.Message:
		return o.QueueMessage(ctx, v)
	case payload.FriendRequest:
		return o.queueFriendRequest(ctx, v)
	case payload.ProfileUpdate:
		return o.queue(ctx, o.stamp(v))
	case payload.LocationUpdate:
		return o.QueueLocationUpdate(ctx, v)
	default:
		return 0, fmt.Errorf("enqueue: unsupported payload %T", p)
	}
}

// QueueMessage queues a chat message and records it locally as pending.
// A missing id is generated and a missing timestamp is set to now.
func (o *Orchestrator) QueueMessage(ctx context.Context, m payload.Message) (int64, error) {
	m = o.stamp(m).(payload.Message)
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	raw, err := payload.Encode(m)
	if err != nil {
		return 0, err
	}
	id, err := o.db.AddToQueueWithMessage(ctx, raw, payload.Priority(store.OpMessage), &store.Message{
		ID:         m.ID,
		ChatID:     m.ChatID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Timestamp:  m.Timestamp,
	})
	if err != nil {
		return 0, err
	}
	o.queued(ctx, id, store.OpMessage)
	return id, nil
}

// QueueFriendRequest queues a friend request to toID and records it
// locally as pending.
func (o *Orchestrator) QueueFriendRequest(ctx context.Context, toID string) (int64, error) {
	return o.queueFriendRequest(ctx, payload.FriendRequest{ToID: toID})
}

func (o *Orchestrator) queueFriendRequest(ctx context.Context, r payload.FriendRequest) (int64, error) {
	r = o.stamp(r).(payload.FriendRequest)
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	raw, err := payload.Encode(r)
	if err != nil {
		return 0, err
	}
	id, err := o.db.AddToQueueWithFriendRequest(ctx, raw, payload.Priority(store.OpFriendRequest), &store.FriendRequest{
		ID:        r.ID,
		ToID:      r.ToID,
		Timestamp: r.Timestamp,
	})
	if err != nil {
		return 0, err
	}
	o.queued(ctx, id, store.OpFriendRequest)
	return id, nil
}

// QueueProfileUpdate queues a patch of the user's profile.
func (o *Orchestrator) QueueProfileUpdate(ctx context.Context, fields map[string]any) (int64, error) {
	return o.queue(ctx, o.stamp(payload.ProfileUpdate{Fields: fields}))
}

// QueueLocationUpdate queues a device position report.
func (o *Orchestrator) QueueLocationUpdate(ctx context.Context, l payload.LocationUpdate) (int64, error) {
	return o.queue(ctx, o.stamp(l))
}

func (o *Orchestrator) queue(ctx context.Context, p payload.Payload) (int64, error) {
	raw, err := payload.Encode(p)
	if err != nil {
		return 0, err
	}
	id, err := o.db.AddToQueue(ctx, p.Operation(), raw, payload.Priority(p.Operation()))
	if err != nil {
		return 0, err
	}
	o.queued(ctx, id, p.Operation())
	return id, nil
}

// stamp sets a zero timestamp to now.
func (o *Orchestrator) stamp(p payload.Payload) payload.Payload {
	now := o.now().UnixMilli()
	switch v := p.(type) {
	case payload.Message:
		if v.Timestamp == 0 {
			v.Timestamp = now
		}
		return v
	case payload.FriendRequest:
		if v.Timestamp == 0 {
			v.Timestamp = now
		}
		return v
	case payload.ProfileUpdate:
		if v.Timestamp == 0 {
			v.Timestamp = now
		}
		return v
	case payload.LocationUpdate:
		if v.Timestamp == 0 {
			v.Timestamp = now
		}
		return v
	}
	return p
}

func (o *Orchestrator) queued(ctx context.Context, id int64, op store.Operation) {
	o.log.Debug("item queued", zap.Int64("item_id", id), zap.String("operation", string(op)))
	o.queueChanged(ctx)
	if o.net.IsOnline() {
		o.Trigger()
	}
}
