package api

import (
	"context"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/offsync/internal/conflict"
	"github.com/matheus3301/offsync/internal/rpc"
	intsync "github.com/matheus3301/offsync/internal/sync"
)

// ConflictService implements rpc.ConflictServer.
type ConflictService struct {
	orch *intsync.Orchestrator
}

// NewConflictService creates a new conflict service.
func NewConflictService(orch *intsync.Orchestrator) *ConflictService {
	return &ConflictService{orch: orch}
}

func (s *ConflictService) ListConflicts(_ context.Context, _ *rpc.Empty) (*rpc.ConflictsReply, error) {
	return &rpc.ConflictsReply{Conflicts: s.orch.Resolver().Pending()}, nil
}

func (s *ConflictService) ResolveConflict(ctx context.Context, req *rpc.ResolveRequest) (*rpc.ResolveReply, error) {
	strategy, err := conflict.ParseStrategy(string(req.Strategy))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "resolve conflict: %v", err)
	}
	res, err := s.orch.ResolveConflict(ctx, req.ID, strategy, req.Data)
	if err != nil {
		return nil, toStatus("resolve conflict", err)
	}
	return &res, nil
}

func (s *ConflictService) AutoResolveConflicts(ctx context.Context, _ *rpc.Empty) (*rpc.AutoResolveReply, error) {
	out, err := s.orch.AutoResolveConflicts(ctx)
	if err != nil {
		return nil, toStatus("auto resolve", err)
	}
	return &rpc.AutoResolveReply{Resolutions: out}, nil
}
