package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc"

	"github.com/matheus3301/offsync/internal/conflict"
	"github.com/matheus3301/offsync/internal/rpc"
)

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a command string (without the leading ':').
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}

// Outcome tells the app what to do after a command ran.
type Outcome struct {
	Message  string
	Quit     bool
	ShowHelp bool
	// Reload asks for queue and conflicts to be fetched again.
	Reload bool
}

// Daemon is the set of daemon calls commands can make.
type Daemon interface {
	SyncNow(ctx context.Context, opts ...grpc.CallOption) (*rpc.SyncReply, error)
	ReportNetwork(ctx context.Context, req *rpc.NetworkRequest, opts ...grpc.CallOption) (*rpc.NetworkReply, error)
	ClearCompleted(ctx context.Context, opts ...grpc.CallOption) (*rpc.ClearCompletedReply, error)
	ResolveConflict(ctx context.Context, req *rpc.ResolveRequest, opts ...grpc.CallOption) (*rpc.ResolveReply, error)
	AutoResolveConflicts(ctx context.Context, opts ...grpc.CallOption) (*rpc.AutoResolveReply, error)
}

var errUsage = errors.New("usage")

// Execute runs cmd against d.
func Execute(ctx context.Context, d Daemon, cmd Command) (Outcome, error) {
	switch cmd.Name {
	case "q", "quit":
		return Outcome{Quit: true}, nil
	case "h", "help":
		return Outcome{ShowHelp: true}, nil
	case "sync":
		r, err := d.SyncNow(ctx)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Message: describeSync(r), Reload: true}, nil
	case "online", "offline":
		text := strings.TrimSpace(cmd.Name + " " + cmd.Args)
		r, err := d.ReportNetwork(ctx, &rpc.NetworkRequest{Status: text})
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Message: "network: " + r.Network}, nil
	case "clear-completed":
		r, err := d.ClearCompleted(ctx)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Message: fmt.Sprintf("removed %d completed items", r.Removed), Reload: true}, nil
	case "resolve":
		id, strategy, ok := strings.Cut(cmd.Args, " ")
		if !ok || id == "" {
			return Outcome{}, fmt.Errorf("%w: :resolve <id> <strategy>", errUsage)
		}
		return Resolve(ctx, d, id, conflict.Strategy(strings.TrimSpace(strategy)))
	case "auto":
		r, err := d.AutoResolveConflicts(ctx)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Message: fmt.Sprintf("auto-resolved %d conflicts", len(r.Resolutions)), Reload: true}, nil
	case "":
		return Outcome{}, nil
	default:
		return Outcome{}, fmt.Errorf("unknown command %q", cmd.Name)
	}
}

// Resolve applies strategy to one conflict.
func Resolve(ctx context.Context, d Daemon, id string, strategy conflict.Strategy) (Outcome, error) {
	r, err := d.ResolveConflict(ctx, &rpc.ResolveRequest{ID: id, Strategy: strategy})
	if err != nil {
		return Outcome{}, err
	}
	if !r.Resolved {
		return Outcome{Message: fmt.Sprintf("conflict %s not found", id), Reload: true}, nil
	}
	return Outcome{Message: fmt.Sprintf("resolved %s with %s", id, r.Strategy), Reload: true}, nil
}

func describeSync(r *rpc.SyncReply) string {
	if r.Skipped {
		return "sync skipped (offline or already running)"
	}
	ok := 0
	for _, res := range r.Results {
		if res.Success {
			ok++
		}
	}
	return fmt.Sprintf("synced %d/%d items", ok, len(r.Results))
}
