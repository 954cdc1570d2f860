package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/matheus3301/offsync/internal/rpc"
)

// Client wraps gRPC connections to the daemon.
type Client struct {
	conn     *grpc.ClientConn
	Engine   *rpc.EngineClient
	Queue    *rpc.QueueClient
	Conflict *rpc.ConflictClient
}

// New dials the daemon's Unix domain socket and returns typed service clients.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}

	return &Client{
		conn:     conn,
		Engine:   rpc.NewEngineClient(conn),
		Queue:    rpc.NewQueueClient(conn),
		Conflict: rpc.NewConflictClient(conn),
	}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Probe checks that a daemon is running and responsive on socketPath.
func Probe(socketPath string, timeout time.Duration) bool {
	c, err := New(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, err = c.Engine.GetStatus(ctx)
	return err == nil
}
