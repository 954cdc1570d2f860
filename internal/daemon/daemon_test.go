package daemon

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/matheus3301/offsync/internal/account"
	"github.com/matheus3301/offsync/internal/api"
	"github.com/matheus3301/offsync/internal/config"
	"github.com/matheus3301/offsync/internal/lock"
	"github.com/matheus3301/offsync/internal/rpc"
	"github.com/matheus3301/offsync/internal/status"
	"github.com/matheus3301/offsync/internal/store"
)

// tempHome points OFFSYNC_HOME at a short /tmp directory so socket paths
// stay under the 104-char Unix socket limit on macOS.
func tempHome(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "offsync-d-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv(account.HomeEnv, dir)
	return dir
}

func stubParams(home string) Params {
	cfg := config.Default()
	cfg.Sync.JitterFraction = 0
	cfg.API.StubSecret = "test-secret"
	return Params{
		Account:    "test",
		Config:     cfg,
		SocketPath: filepath.Join(home, "d.sock"),
		StubAPI:    true,
	}
}

// TestFxModuleWiring verifies the fx dependency graph resolves without errors.
func TestFxModuleWiring(t *testing.T) {
	home := tempHome(t)
	if err := fx.ValidateApp(Module(stubParams(home)), fx.NopLogger); err != nil {
		t.Fatalf("ValidateApp() error = %v", err)
	}
}

func TestDaemonLifecycle(t *testing.T) {
	home := tempHome(t)
	p := stubParams(home)

	app := fx.New(Module(p), fx.NopLogger)
	if err := app.Err(); err != nil {
		t.Fatalf("fx.New() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	stopped := false
	defer func() {
		if !stopped {
			_ = app.Stop(context.Background())
		}
	}()

	info, err := os.Stat(p.SocketPath)
	if err != nil {
		t.Fatalf("socket not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("socket mode = %o, want 600", perm)
	}

	conn, err := grpc.NewClient(
		"unix://"+p.SocketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()
	engine := rpc.NewEngineClient(conn)
	queue := rpc.NewQueueClient(conn)

	st, err := engine.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus error = %v", err)
	}
	if st.Account != "test" {
		t.Errorf("account = %q, want test", st.Account)
	}
	if st.State != status.Idle && st.State != status.Syncing {
		t.Errorf("state = %q, want idle after start", st.State)
	}

	raw, _ := json.Marshal(map[string]any{"receiverId": "bob", "chatId": "c1", "content": "hello"})
	if _, err := queue.Enqueue(ctx, &rpc.EnqueueRequest{Operation: store.OpMessage, Payload: raw}); err != nil {
		t.Fatalf("Enqueue error = %v", err)
	}

	// Enqueueing while online triggers a background run against the stub.
	deadline := time.Now().Add(5 * time.Second)
	for {
		msgs, err := queue.ListMessages(ctx, &rpc.ListMessagesRequest{Status: store.MessageSynced})
		if err != nil {
			t.Fatalf("ListMessages error = %v", err)
		}
		if len(msgs.Messages) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("message was not synced by the background loop")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := app.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	stopped = true

	if _, err := os.Stat(p.SocketPath); !os.IsNotExist(err) {
		t.Errorf("socket still present after stop: %v", err)
	}
	lk, err := lock.Acquire(account.LockDir(p.Account))
	if err != nil {
		t.Fatalf("lock not released on stop: %v", err)
	}
	_ = lk.Release()
}

func TestSecondDaemonIsRefused(t *testing.T) {
	home := tempHome(t)
	p := stubParams(home)

	held, err := lock.Acquire(account.LockDir(p.Account))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = held.Release() }()

	app := fx.New(Module(p), fx.NopLogger)
	err = app.Err()
	if err == nil {
		_ = app.Stop(context.Background())
		t.Fatal("fx.New() succeeded while the account lock was held")
	}
	if !strings.Contains(err.Error(), "account lock held") {
		t.Errorf("error = %v, want lock held", err)
	}
}

func TestInvalidSyncConfigFailsStartup(t *testing.T) {
	p := stubParams(tempHome(t))
	p.Config.Sync.Cleanup = "shred"
	if _, err := provideSyncConfig(p); err == nil {
		t.Fatal("provideSyncConfig() accepted an unknown cleanup policy")
	}
}

func TestNewServerUsesSocketOverride(t *testing.T) {
	home := tempHome(t)
	socketPath := filepath.Join(home, "x.sock")
	srv, err := NewServer(
		Params{Account: "fxtest", SocketPath: socketPath},
		zap.NewNop(),
		&api.EngineService{},
		&api.QueueService{},
		&api.ConflictService{},
	)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if _, statErr := os.Stat(socketPath); statErr != nil {
		t.Fatalf("socket not created at %s: %v", socketPath, statErr)
	}
	srv.Stop(context.Background())
}
