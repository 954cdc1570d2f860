package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/offsync/internal/bus"
	"github.com/matheus3301/offsync/internal/netstatus"
	"github.com/matheus3301/offsync/internal/remote"
	"github.com/matheus3301/offsync/internal/rpc"
	"github.com/matheus3301/offsync/internal/status"
	"github.com/matheus3301/offsync/internal/store"
	intsync "github.com/matheus3301/offsync/internal/sync"
)

type clients struct {
	engine   *rpc.EngineClient
	queue    *rpc.QueueClient
	conflict *rpc.ConflictClient
	stub     *remote.Stub
}

func startServer(t *testing.T) clients {
	t.Helper()
	// Short path to stay under the Unix socket length limit.
	tmpDir, err := os.MkdirTemp("/tmp", "offsync-api-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	db, err := store.Open(filepath.Join(tmpDir, "offsync.db"), store.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	stub := remote.NewStub("", zap.NewNop())
	httpSrv := httptest.NewServer(stub)
	t.Cleanup(httpSrv.Close)

	b := bus.New()
	monitor := netstatus.NewMonitor(netstatus.Status{IsOnline: true, EffectiveType: netstatus.Type4G}, b, zap.NewNop())
	cfg := intsync.DefaultConfig()
	cfg.JitterFraction = 0
	orch := intsync.New(cfg, intsync.Deps{
		DB:      db,
		API:     remote.NewClient(remote.Options{BaseURL: httpSrv.URL, Timeout: 2 * time.Second}, zap.NewNop()),
		Network: monitor,
		Machine: status.NewMachine(b),
		Bus:     b,
		Logger:  zap.NewNop(),
	})
	t.Cleanup(orch.Destroy)

	grpcSrv := grpc.NewServer()
	rpc.RegisterEngineServer(grpcSrv, NewEngineService("test", orch, monitor, db, b, zap.NewNop()))
	rpc.RegisterQueueServer(grpcSrv, NewQueueService(orch, db))
	rpc.RegisterConflictServer(grpcSrv, NewConflictService(orch))

	socketPath := filepath.Join(tmpDir, "d.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = grpcSrv.Serve(listener) }()
	t.Cleanup(grpcSrv.Stop)

	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return clients{
		engine:   rpc.NewEngineClient(conn),
		queue:    rpc.NewQueueClient(conn),
		conflict: rpc.NewConflictClient(conn),
		stub:     stub,
	}
}

func enqueueMessage(t *testing.T, c clients, content string) int64 {
	t.Helper()
	raw, _ := json.Marshal(map[string]any{"receiverId": "bob", "chatId": "c1", "content": content})
	resp, err := c.queue.Enqueue(context.Background(), &rpc.EnqueueRequest{Operation: store.OpMessage, Payload: raw})
	if err != nil {
		t.Fatalf("Enqueue error = %v", err)
	}
	if resp.ID <= 0 {
		t.Fatalf("Enqueue id = %d, want > 0", resp.ID)
	}
	return resp.ID
}

func TestStatusAndSyncRoundTrip(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	st, err := c.engine.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus error = %v", err)
	}
	if st.Account != "test" {
		t.Errorf("account = %q, want test", st.Account)
	}
	if !st.Online || st.Pending != 0 {
		t.Errorf("status = %+v, want online with nothing pending", st.Snapshot)
	}

	id := enqueueMessage(t, c, "hello")

	queue, err := c.queue.ListQueue(ctx, &rpc.ListQueueRequest{Status: store.QueuePending})
	if err != nil {
		t.Fatalf("ListQueue error = %v", err)
	}
	if len(queue.Items) != 1 || queue.Items[0].ID != id {
		t.Fatalf("pending items = %+v, want item %d", queue.Items, id)
	}

	sync, err := c.engine.SyncNow(ctx)
	if err != nil {
		t.Fatalf("SyncNow error = %v", err)
	}
	if len(sync.Results) != 1 || !sync.Results[0].Success || sync.Results[0].ItemID != id {
		t.Fatalf("results = %+v, want item %d synced", sync.Results, id)
	}
	if c.stub.MessageCount() != 1 {
		t.Errorf("server messages = %d, want 1", c.stub.MessageCount())
	}

	msgs, err := c.queue.ListMessages(ctx, &rpc.ListMessagesRequest{ChatID: "c1", Status: store.MessageSynced})
	if err != nil {
		t.Fatalf("ListMessages error = %v", err)
	}
	if len(msgs.Messages) != 1 || msgs.Messages[0].Content != "hello" {
		t.Errorf("synced messages = %+v", msgs.Messages)
	}

	queue, err = c.queue.ListQueue(ctx, &rpc.ListQueueRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(queue.Items) != 0 {
		t.Errorf("queue after sweep = %d items, want 0", len(queue.Items))
	}
}

func TestEnqueueRejectsUnknownOperation(t *testing.T) {
	c := startServer(t)
	_, err := c.queue.Enqueue(context.Background(), &rpc.EnqueueRequest{
		Operation: "teleport",
		Payload:   json.RawMessage(`{}`),
	})
	if got := grpcstatus.Code(err); got != codes.InvalidArgument {
		t.Errorf("code = %v, want InvalidArgument (err = %v)", got, err)
	}
}

func TestReportNetwork(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	resp, err := c.engine.ReportNetwork(ctx, &rpc.NetworkRequest{Status: "offline"})
	if err != nil {
		t.Fatalf("ReportNetwork error = %v", err)
	}
	if resp.Online {
		t.Error("online = true after reporting offline")
	}

	enqueueMessage(t, c, "later")
	sync, err := c.engine.SyncNow(ctx)
	if err != nil {
		t.Fatalf("SyncNow error = %v", err)
	}
	if !sync.Skipped || len(sync.Results) != 0 {
		t.Errorf("offline sync = %+v, want skipped", sync)
	}

	if _, err := c.engine.ReportNetwork(ctx, &rpc.NetworkRequest{Status: "sideways"}); grpcstatus.Code(err) != codes.InvalidArgument {
		t.Errorf("bad status code = %v, want InvalidArgument", grpcstatus.Code(err))
	}
}

func TestClearCompletedAndClearAll(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	enqueueMessage(t, c, "one")
	enqueueMessage(t, c, "two")

	if err := c.engine.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll error = %v", err)
	}
	st, err := c.engine.GetStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Pending != 0 {
		t.Errorf("pending after ClearAll = %d, want 0", st.Pending)
	}
	msgs, err := c.queue.ListMessages(ctx, &rpc.ListMessagesRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs.Messages) != 0 {
		t.Errorf("messages after ClearAll = %d, want 0", len(msgs.Messages))
	}

	removed, err := c.queue.ClearCompleted(ctx)
	if err != nil {
		t.Fatalf("ClearCompleted error = %v", err)
	}
	if removed.Removed != 0 {
		t.Errorf("removed = %d, want 0", removed.Removed)
	}
}

func TestStorageEstimate(t *testing.T) {
	c := startServer(t)
	est, err := c.engine.StorageEstimate(context.Background())
	if err != nil {
		t.Fatalf("StorageEstimate error = %v", err)
	}
	if est.Usage <= 0 {
		t.Errorf("usage = %d, want > 0", est.Usage)
	}
}

func TestConflictErrors(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	list, err := c.conflict.ListConflicts(ctx)
	if err != nil {
		t.Fatalf("ListConflicts error = %v", err)
	}
	if len(list.Conflicts) != 0 {
		t.Errorf("conflicts = %d, want 0", len(list.Conflicts))
	}

	_, err = c.conflict.ResolveConflict(ctx, &rpc.ResolveRequest{ID: "profile", Strategy: "coinflip"})
	if got := grpcstatus.Code(err); got != codes.InvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", got)
	}

	res, err := c.conflict.ResolveConflict(ctx, &rpc.ResolveRequest{ID: "profile", Strategy: "local-wins"})
	if err != nil {
		t.Fatalf("ResolveConflict error = %v", err)
	}
	if res.Resolved {
		t.Error("resolved = true for an unknown conflict")
	}

	auto, err := c.conflict.AutoResolveConflicts(ctx)
	if err != nil {
		t.Fatalf("AutoResolveConflicts error = %v", err)
	}
	if len(auto.Resolutions) != 0 {
		t.Errorf("resolutions = %d, want 0", len(auto.Resolutions))
	}
}

func TestWatchEventsStreamsQueueChanges(t *testing.T) {
	c := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := c.engine.WatchEvents(ctx, &rpc.WatchRequest{Prefix: "queue."})
	if err != nil {
		t.Fatalf("WatchEvents error = %v", err)
	}
	events := make(chan *rpc.Event, 16)
	go func() {
		for {
			e, err := stream.Recv()
			if err != nil {
				close(events)
				return
			}
			events <- e
		}
	}()

	// The server subscribes asynchronously; keep enqueueing until an event
	// makes it through.
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				t.Fatal("stream closed before any event")
			}
			if e.Kind != bus.KindQueueChanged || e.Account != "test" || e.ID == "" {
				t.Fatalf("event = %+v", e)
			}
			var body map[string]int
			if err := json.Unmarshal(e.Payload, &body); err != nil {
				t.Fatalf("payload: %v", err)
			}
			if body["pending"] < 1 {
				t.Errorf("pending = %d, want >= 1", body["pending"])
			}
			return
		case <-tick.C:
			enqueueMessage(t, c, "ping")
		case <-ctx.Done():
			t.Fatal("no queue event received")
		}
	}
}
