package api

import (
	"context"
	"slices"

	"github.com/matheus3301/offsync/internal/payload"
	"github.com/matheus3301/offsync/internal/rpc"
	"github.com/matheus3301/offsync/internal/store"
	intsync "github.com/matheus3301/offsync/internal/sync"
)

// QueueService implements rpc.QueueServer.
type QueueService struct {
	orch *intsync.Orchestrator
	db   *store.DB
}

// NewQueueService creates a new queue service.
func NewQueueService(orch *intsync.Orchestrator, db *store.DB) *QueueService {
	return &QueueService{orch: orch, db: db}
}

func (s *QueueService) Enqueue(ctx context.Context, req *rpc.EnqueueRequest) (*rpc.EnqueueReply, error) {
	p, err := payload.Decode(req.Operation, req.Payload)
	if err != nil {
		return nil, toStatus("enqueue", err)
	}
	id, err := s.orch.Enqueue(ctx, p)
	if err != nil {
		return nil, toStatus("enqueue", err)
	}
	return &rpc.EnqueueReply{ID: id}, nil
}

func (s *QueueService) ListQueue(ctx context.Context, req *rpc.ListQueueRequest) (*rpc.ListQueueReply, error) {
	items, err := s.db.QueueItems(ctx, req.Status)
	if err != nil {
		return nil, toStatus("list queue", err)
	}
	return &rpc.ListQueueReply{Items: items}, nil
}

func (s *QueueService) ClearQueue(ctx context.Context, _ *rpc.Empty) (*rpc.Empty, error) {
	if err := s.orch.ClearQueue(ctx); err != nil {
		return nil, toStatus("clear queue", err)
	}
	return &rpc.Empty{}, nil
}

func (s *QueueService) ClearCompleted(ctx context.Context, _ *rpc.Empty) (*rpc.ClearCompletedReply, error) {
	n, err := s.orch.ClearCompletedQueue(ctx)
	if err != nil {
		return nil, toStatus("clear completed", err)
	}
	return &rpc.ClearCompletedReply{Removed: n}, nil
}

func (s *QueueService) ListMessages(ctx context.Context, req *rpc.ListMessagesRequest) (*rpc.ListMessagesReply, error) {
	var (
		msgs []store.Message
		err  error
	)
	switch {
	case req.ChatID != "":
		msgs, err = s.db.MessagesByChat(ctx, req.ChatID)
		if err == nil && req.Status != "" {
			msgs = slices.DeleteFunc(msgs, func(m store.Message) bool { return m.Status != req.Status })
		}
	case req.Status != "":
		msgs, err = s.db.MessagesByStatus(ctx, req.Status)
	default:
		msgs, err = store.All[store.Message](ctx, s.db, store.Messages)
	}
	if err != nil {
		return nil, toStatus("list messages", err)
	}
	return &rpc.ListMessagesReply{Messages: msgs}, nil
}
