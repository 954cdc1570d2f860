package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/offsync/internal/conflict"
	"github.com/matheus3301/offsync/internal/store"
)

const (
	EngineServiceName   = "offsync.v1.EngineService"
	QueueServiceName    = "offsync.v1.QueueService"
	ConflictServiceName = "offsync.v1.ConflictService"
)

// EngineServer reports and drives the sync engine.
type EngineServer interface {
	GetStatus(context.Context, *Empty) (*StatusReply, error)
	SyncNow(context.Context, *Empty) (*SyncReply, error)
	ReportNetwork(context.Context, *NetworkRequest) (*NetworkReply, error)
	StorageEstimate(context.Context, *Empty) (*StorageReply, error)
	ClearAll(context.Context, *Empty) (*Empty, error)
	WatchEvents(*WatchRequest, EventStream) error
}

// StorageReply is the store's usage estimate.
type StorageReply = store.StorageEstimate

// QueueServer manages the offline queue.
type QueueServer interface {
	Enqueue(context.Context, *EnqueueRequest) (*EnqueueReply, error)
	ListQueue(context.Context, *ListQueueRequest) (*ListQueueReply, error)
	ClearQueue(context.Context, *Empty) (*Empty, error)
	ClearCompleted(context.Context, *Empty) (*ClearCompletedReply, error)
	ListMessages(context.Context, *ListMessagesRequest) (*ListMessagesReply, error)
}

// ConflictServer exposes pending conflicts.
type ConflictServer interface {
	ListConflicts(context.Context, *Empty) (*ConflictsReply, error)
	ResolveConflict(context.Context, *ResolveRequest) (*ResolveReply, error)
	AutoResolveConflicts(context.Context, *Empty) (*AutoResolveReply, error)
}

// ResolveReply is the outcome of ResolveConflict.
type ResolveReply = conflict.Resolution

// EventStream is the server side of WatchEvents.
type EventStream interface {
	Send(*Event) error
	Context() context.Context
}

// unary builds a method whose request and reply are Structs decoded into
// and encoded from Req and Resp.
func unary[S any, Req any, Resp any](service, method string, fn func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			call := func(ctx context.Context, req any) (any, error) {
				var r Req
				if err := Decode(req.(*structpb.Struct), &r); err != nil {
					return nil, err
				}
				resp, err := fn(srv.(S), ctx, &r)
				if err != nil {
					return nil, err
				}
				if resp == nil {
					resp = new(Resp)
				}
				return Encode(resp)
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: full}, call)
		},
	}
}

type eventStream struct {
	grpc.ServerStream
}

func (s eventStream) Send(e *Event) error {
	msg, err := Encode(e)
	if err != nil {
		return err
	}
	return s.ServerStream.SendMsg(msg)
}

var engineDesc = grpc.ServiceDesc{
	ServiceName: EngineServiceName,
	HandlerType: (*EngineServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(EngineServiceName, "GetStatus", EngineServer.GetStatus),
		unary(EngineServiceName, "SyncNow", EngineServer.SyncNow),
		unary(EngineServiceName, "ReportNetwork", EngineServer.ReportNetwork),
		unary(EngineServiceName, "StorageEstimate", EngineServer.StorageEstimate),
		unary(EngineServiceName, "ClearAll", EngineServer.ClearAll),
	},
	Streams: []grpc.StreamDesc{{
		StreamName:    "WatchEvents",
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(structpb.Struct)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			var req WatchRequest
			if err := Decode(in, &req); err != nil {
				return err
			}
			return srv.(EngineServer).WatchEvents(&req, eventStream{stream})
		},
	}},
}

var queueDesc = grpc.ServiceDesc{
	ServiceName: QueueServiceName,
	HandlerType: (*QueueServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(QueueServiceName, "Enqueue", QueueServer.Enqueue),
		unary(QueueServiceName, "ListQueue", QueueServer.ListQueue),
		unary(QueueServiceName, "ClearQueue", QueueServer.ClearQueue),
		unary(QueueServiceName, "ClearCompleted", QueueServer.ClearCompleted),
		unary(QueueServiceName, "ListMessages", QueueServer.ListMessages),
	},
}

var conflictDesc = grpc.ServiceDesc{
	ServiceName: ConflictServiceName,
	HandlerType: (*ConflictServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ConflictServiceName, "ListConflicts", ConflictServer.ListConflicts),
		unary(ConflictServiceName, "ResolveConflict", ConflictServer.ResolveConflict),
		unary(ConflictServiceName, "AutoResolveConflicts", ConflictServer.AutoResolveConflicts),
	},
}

func RegisterEngineServer(s grpc.ServiceRegistrar, srv EngineServer) {
	s.RegisterService(&engineDesc, srv)
}

func RegisterQueueServer(s grpc.ServiceRegistrar, srv QueueServer) {
	s.RegisterService(&queueDesc, srv)
}

func RegisterConflictServer(s grpc.ServiceRegistrar, srv ConflictServer) {
	s.RegisterService(&conflictDesc, srv)
}
