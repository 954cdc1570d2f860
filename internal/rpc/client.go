package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, service, method string, req any, opts ...grpc.CallOption) (*Resp, error) {
	in, err := Encode(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, "/"+service+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	resp := new(Resp)
	if err := Decode(out, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// EngineClient calls EngineService.
type EngineClient struct {
	cc grpc.ClientConnInterface
}

func NewEngineClient(cc grpc.ClientConnInterface) *EngineClient {
	return &EngineClient{cc: cc}
}

func (c *EngineClient) GetStatus(ctx context.Context, opts ...grpc.CallOption) (*StatusReply, error) {
	return invoke[StatusReply](ctx, c.cc, EngineServiceName, "GetStatus", &Empty{}, opts...)
}

func (c *EngineClient) SyncNow(ctx context.Context, opts ...grpc.CallOption) (*SyncReply, error) {
	return invoke[SyncReply](ctx, c.cc, EngineServiceName, "SyncNow", &Empty{}, opts...)
}

func (c *EngineClient) ReportNetwork(ctx context.Context, req *NetworkRequest, opts ...grpc.CallOption) (*NetworkReply, error) {
	return invoke[NetworkReply](ctx, c.cc, EngineServiceName, "ReportNetwork", req, opts...)
}

func (c *EngineClient) StorageEstimate(ctx context.Context, opts ...grpc.CallOption) (*StorageReply, error) {
	return invoke[StorageReply](ctx, c.cc, EngineServiceName, "StorageEstimate", &Empty{}, opts...)
}

func (c *EngineClient) ClearAll(ctx context.Context, opts ...grpc.CallOption) error {
	_, err := invoke[Empty](ctx, c.cc, EngineServiceName, "ClearAll", &Empty{}, opts...)
	return err
}

// EventReceiver is the client side of WatchEvents.
type EventReceiver struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event. It returns io.EOF when the server ends
// the stream.
func (r *EventReceiver) Recv() (*Event, error) {
	msg := new(structpb.Struct)
	if err := r.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	e := new(Event)
	if err := Decode(msg, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (c *EngineClient) WatchEvents(ctx context.Context, req *WatchRequest, opts ...grpc.CallOption) (*EventReceiver, error) {
	desc := &engineDesc.Streams[0]
	stream, err := c.cc.NewStream(ctx, desc, "/"+EngineServiceName+"/WatchEvents", opts...)
	if err != nil {
		return nil, err
	}
	in, err := Encode(req)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventReceiver{stream: stream}, nil
}

// QueueClient calls QueueService.
type QueueClient struct {
	cc grpc.ClientConnInterface
}

func NewQueueClient(cc grpc.ClientConnInterface) *QueueClient {
	return &QueueClient{cc: cc}
}

func (c *QueueClient) Enqueue(ctx context.Context, req *EnqueueRequest, opts ...grpc.CallOption) (*EnqueueReply, error) {
	return invoke[EnqueueReply](ctx, c.cc, QueueServiceName, "Enqueue", req, opts...)
}

func (c *QueueClient) ListQueue(ctx context.Context, req *ListQueueRequest, opts ...grpc.CallOption) (*ListQueueReply, error) {
	return invoke[ListQueueReply](ctx, c.cc, QueueServiceName, "ListQueue", req, opts...)
}

func (c *QueueClient) ClearQueue(ctx context.Context, opts ...grpc.CallOption) error {
	_, err := invoke[Empty](ctx, c.cc, QueueServiceName, "ClearQueue", &Empty{}, opts...)
	return err
}

func (c *QueueClient) ClearCompleted(ctx context.Context, opts ...grpc.CallOption) (*ClearCompletedReply, error) {
	return invoke[ClearCompletedReply](ctx, c.cc, QueueServiceName, "ClearCompleted", &Empty{}, opts...)
}

func (c *QueueClient) ListMessages(ctx context.Context, req *ListMessagesRequest, opts ...grpc.CallOption) (*ListMessagesReply, error) {
	return invoke[ListMessagesReply](ctx, c.cc, QueueServiceName, "ListMessages", req, opts...)
}

// ConflictClient calls ConflictService.
type ConflictClient struct {
	cc grpc.ClientConnInterface
}

func NewConflictClient(cc grpc.ClientConnInterface) *ConflictClient {
	return &ConflictClient{cc: cc}
}

func (c *ConflictClient) ListConflicts(ctx context.Context, opts ...grpc.CallOption) (*ConflictsReply, error) {
	return invoke[ConflictsReply](ctx, c.cc, ConflictServiceName, "ListConflicts", &Empty{}, opts...)
}

func (c *ConflictClient) ResolveConflict(ctx context.Context, req *ResolveRequest, opts ...grpc.CallOption) (*ResolveReply, error) {
	return invoke[ResolveReply](ctx, c.cc, ConflictServiceName, "ResolveConflict", req, opts...)
}

func (c *ConflictClient) AutoResolveConflicts(ctx context.Context, opts ...grpc.CallOption) (*AutoResolveReply, error) {
	return invoke[AutoResolveReply](ctx, c.cc, ConflictServiceName, "AutoResolveConflicts", &Empty{}, opts...)
}
