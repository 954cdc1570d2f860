package tui

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc"

	"github.com/matheus3301/offsync/internal/conflict"
	"github.com/matheus3301/offsync/internal/rpc"
	intsync "github.com/matheus3301/offsync/internal/sync"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		want  Command
	}{
		{"sync", Command{Name: "sync"}},
		{"  Online 4g  ", Command{Name: "online", Args: "4g"}},
		{"resolve profile   merge", Command{Name: "resolve", Args: "profile   merge"}},
		{"", Command{}},
	}
	for _, tt := range tests {
		if got := ParseCommand(tt.input); got != tt.want {
			t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.input, got, tt.want)
		}
	}
}

type fakeDaemon struct {
	network  string
	resolved []rpc.ResolveRequest
	syncErr  error
}

func (f *fakeDaemon) SyncNow(context.Context, ...grpc.CallOption) (*rpc.SyncReply, error) {
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	return &rpc.SyncReply{Results: []intsync.Result{{ItemID: 1, Success: true}, {ItemID: 2}}}, nil
}

func (f *fakeDaemon) ReportNetwork(_ context.Context, req *rpc.NetworkRequest, _ ...grpc.CallOption) (*rpc.NetworkReply, error) {
	f.network = req.Status
	return &rpc.NetworkReply{Network: req.Status, Online: req.Status != "offline"}, nil
}

func (f *fakeDaemon) ClearCompleted(context.Context, ...grpc.CallOption) (*rpc.ClearCompletedReply, error) {
	return &rpc.ClearCompletedReply{Removed: 3}, nil
}

func (f *fakeDaemon) ResolveConflict(_ context.Context, req *rpc.ResolveRequest, _ ...grpc.CallOption) (*rpc.ResolveReply, error) {
	f.resolved = append(f.resolved, *req)
	return &rpc.ResolveReply{ID: req.ID, Resolved: req.ID == "profile", Strategy: req.Strategy}, nil
}

func (f *fakeDaemon) AutoResolveConflicts(context.Context, ...grpc.CallOption) (*rpc.AutoResolveReply, error) {
	return &rpc.AutoResolveReply{}, nil
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	d := &fakeDaemon{}

	out, err := Execute(ctx, d, ParseCommand("sync"))
	if err != nil || out.Message != "synced 1/2 items" || !out.Reload {
		t.Errorf("sync = %+v, %v", out, err)
	}

	if _, err := Execute(ctx, d, ParseCommand("online 4g")); err != nil {
		t.Fatal(err)
	}
	if d.network != "online 4g" {
		t.Errorf("reported network = %q, want %q", d.network, "online 4g")
	}

	out, err = Execute(ctx, d, ParseCommand("resolve profile merge"))
	if err != nil {
		t.Fatal(err)
	}
	if len(d.resolved) != 1 || d.resolved[0].Strategy != conflict.Merge {
		t.Errorf("resolve requests = %+v", d.resolved)
	}
	if out.Message != "resolved profile with merge" {
		t.Errorf("message = %q", out.Message)
	}

	if _, err := Execute(ctx, d, ParseCommand("resolve")); !errors.Is(err, errUsage) {
		t.Errorf("resolve without args error = %v, want usage", err)
	}
	if out, _ := Execute(ctx, d, ParseCommand("q")); !out.Quit {
		t.Error("q did not quit")
	}
	if _, err := Execute(ctx, d, ParseCommand("teleport")); err == nil {
		t.Error("unknown command accepted")
	}
}

func TestExecutePropagatesErrors(t *testing.T) {
	want := errors.New("unavailable")
	if _, err := Execute(context.Background(), &fakeDaemon{syncErr: want}, ParseCommand("sync")); !errors.Is(err, want) {
		t.Errorf("error = %v, want %v", err, want)
	}
}
