// Package api implements the gRPC services of the daemon on top of the
// sync orchestrator.
package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/offsync/internal/bus"
	"github.com/matheus3301/offsync/internal/netstatus"
	"github.com/matheus3301/offsync/internal/rpc"
	"github.com/matheus3301/offsync/internal/store"
	intsync "github.com/matheus3301/offsync/internal/sync"
)

// EngineService implements rpc.EngineServer.
type EngineService struct {
	account   string
	startedAt time.Time
	orch      *intsync.Orchestrator
	monitor   *netstatus.Monitor
	db        *store.DB
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewEngineService creates a new engine service.
func NewEngineService(account string, orch *intsync.Orchestrator, monitor *netstatus.Monitor, db *store.DB, b *bus.Bus, logger *zap.Logger) *EngineService {
	return &EngineService{
		account:   account,
		startedAt: time.Now(),
		orch:      orch,
		monitor:   monitor,
		db:        db,
		bus:       b,
		logger:    logger,
	}
}

func (s *EngineService) GetStatus(ctx context.Context, _ *rpc.Empty) (*rpc.StatusReply, error) {
	snap, err := s.orch.Snapshot(ctx)
	if err != nil {
		return nil, toStatus("get status", err)
	}
	return &rpc.StatusReply{
		Account:  s.account,
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
		Snapshot: snap,
	}, nil
}

func (s *EngineService) SyncNow(ctx context.Context, _ *rpc.Empty) (*rpc.SyncReply, error) {
	// SyncAll returns nothing when offline or when a run is already active.
	skipped := !s.monitor.IsOnline() || s.orch.IsSyncing()
	// A client that hangs up must not cut the run short mid-item.
	results, err := s.orch.SyncAll(context.WithoutCancel(ctx))
	if err != nil {
		return nil, toStatus("sync", err)
	}
	return &rpc.SyncReply{Results: results, Skipped: skipped && len(results) == 0}, nil
}

func (s *EngineService) ReportNetwork(_ context.Context, req *rpc.NetworkRequest) (*rpc.NetworkReply, error) {
	st, err := netstatus.ParseStatus(req.Status)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "report network: %v", err)
	}
	s.monitor.Report(st)
	cur := s.monitor.Status()
	return &rpc.NetworkReply{Network: cur.String(), Online: cur.IsOnline}, nil
}

func (s *EngineService) StorageEstimate(ctx context.Context, _ *rpc.Empty) (*rpc.StorageReply, error) {
	est, err := s.db.StorageEstimate(ctx)
	if err != nil {
		return nil, toStatus("storage estimate", err)
	}
	return &est, nil
}

func (s *EngineService) ClearAll(ctx context.Context, _ *rpc.Empty) (*rpc.Empty, error) {
	if err := s.orch.Reset(ctx); err != nil {
		return nil, toStatus("clear all", err)
	}
	return &rpc.Empty{}, nil
}

func (s *EngineService) WatchEvents(req *rpc.WatchRequest, stream rpc.EventStream) error {
	ch, unsub := s.bus.Subscribe(req.Prefix, 256)
	defer unsub()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(evt.Payload)
			if err != nil {
				s.logger.Warn("unencodable event payload", zap.String("kind", evt.Kind), zap.Error(err))
				payload = nil
			}
			if err := stream.Send(&rpc.Event{
				ID:           uuid.New().String(),
				Account:      s.account,
				Kind:         evt.Kind,
				OccurredAtMs: evt.Timestamp.UnixMilli(),
				Payload:      payload,
			}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}
