// Package remote is the HTTP client for the authenticated REST API the sync
// engine delivers queued intents to, plus an in-process stub of that API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/offsync/internal/conflict"
	"github.com/matheus3301/offsync/internal/payload"
)

// API paths, one per operation.
const (
	PathMessages      = "/api/messages"
	PathFriendRequest = "/api/friends/request"
	PathProfile       = "/api/users/profile"
	PathLocation      = "/api/location/update"
)

// DefaultTimeout bounds a single API call.
const DefaultTimeout = 15 * time.Second

// Envelope is the response body shape shared by every endpoint.
type Envelope struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	Code    string            `json:"code,omitempty"`
	Remote  *conflict.Version `json:"remote,omitempty"`
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client calls the REST API. Every call is bounded by the configured
// timeout and classified into ValidationError, ConflictError or
// TransientError on failure.
type Client struct {
	base    string
	token   string
	timeout time.Duration
	http    *http.Client
	log     *zap.Logger
}

// NewClient creates a client for the API at opts.BaseURL.
func NewClient(opts Options, log *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		base:    strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		timeout: opts.Timeout,
		http:    hc,
		log:     log,
	}
}

// MessageResult is the server's acknowledgement of a sent message.
type MessageResult struct {
	MessageID string `json:"messageId"`
}

type messageRequest struct {
	payload.Message
	OfflineQueueID int64 `json:"offlineQueueId"`
}

// SendMessage delivers a chat message and returns the server message id.
func (c *Client) SendMessage(ctx context.Context, queueID int64, p payload.Message) (MessageResult, error) {
	var out MessageResult
	err := c.do(ctx, http.MethodPost, PathMessages, messageRequest{Message: p, OfflineQueueID: queueID}, &out)
	return out, err
}

type friendRequestRequest struct {
	payload.FriendRequest
	OfflineQueueID int64 `json:"offlineQueueId"`
}

// SendFriendRequest delivers a friend request.
func (c *Client) SendFriendRequest(ctx context.Context, queueID int64, p payload.FriendRequest) error {
	return c.do(ctx, http.MethodPost, PathFriendRequest, friendRequestRequest{FriendRequest: p, OfflineQueueID: queueID}, nil)
}

// VersionedRequest is the body for endpoints that update a versioned
// record. BaseVersion is the last server version the client saw; zero
// means "no prior knowledge" and never conflicts.
type VersionedRequest struct {
	Fields         map[string]any `json:"fields"`
	Timestamp      int64          `json:"timestamp"`
	BaseVersion    int64          `json:"baseVersion"`
	OfflineQueueID int64          `json:"offlineQueueId"`
}

// UpdateProfile patches the user's profile and returns the new server
// version of the record.
func (c *Client) UpdateProfile(ctx context.Context, req VersionedRequest) (conflict.Version, error) {
	var out conflict.Version
	err := c.do(ctx, http.MethodPut, PathProfile, req, &out)
	return out, err
}

// UpdateLocation records the device location and returns the new server
// version of the record.
func (c *Client) UpdateLocation(ctx context.Context, req VersionedRequest) (conflict.Version, error) {
	var out conflict.Version
	err := c.do(ctx, http.MethodPost, PathLocation, req, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts, refused connections and resets are all worth retrying.
		c.log.Debug("api call failed", zap.String("path", path), zap.Error(err))
		return &TransientError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &TransientError{Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	c.log.Debug("api call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	var env Envelope
	decodeErr := json.Unmarshal(data, &env)
	return classify(resp.StatusCode, env, decodeErr, out)
}

func classify(status int, env Envelope, decodeErr error, out any) error {
	switch {
	case status == http.StatusConflict:
		if decodeErr != nil || env.Remote == nil {
			return &TransientError{Status: status, Err: errors.New("conflict response without remote version")}
		}
		return &ConflictError{Remote: *env.Remote, Message: env.Error}
	case status == http.StatusTooManyRequests || status >= 500:
		return &TransientError{Status: status, Err: errors.New(statusMessage(status, env))}
	case status >= 400:
		return &ValidationError{Status: status, Code: env.Code, Message: statusMessage(status, env)}
	}

	if decodeErr != nil {
		return &TransientError{Status: status, Err: fmt.Errorf("decode response: %w", decodeErr)}
	}
	if !env.Success {
		// A 2xx with success=false is an application-level rejection.
		return &ValidationError{Status: status, Code: env.Code, Message: statusMessage(status, env)}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &TransientError{Status: status, Err: fmt.Errorf("decode data: %w", err)}
		}
	}
	return nil
}

func statusMessage(status int, env Envelope) string {
	if env.Error != "" {
		return env.Error
	}
	return http.StatusText(status)
}
