package remote

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/offsync/internal/payload"
)

func newStubClient(t *testing.T, secret, token string) (*Stub, *Client) {
	t.Helper()
	stub := NewStub(secret, zap.NewNop())
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	c := NewClient(Options{BaseURL: srv.URL, Token: token, Timeout: 2 * time.Second}, zap.NewNop())
	return stub, c
}

func TestSendMessageIsIdempotentPerQueueID(t *testing.T) {
	stub, c := newStubClient(t, "", "")
	ctx := context.Background()
	p := payload.Message{ReceiverID: "u2", Content: "hi", Timestamp: 1}

	first, err := c.SendMessage(ctx, 7, p)
	if err != nil {
		t.Fatal(err)
	}
	if first.MessageID == "" {
		t.Fatal("empty message id")
	}
	again, err := c.SendMessage(ctx, 7, p)
	if err != nil {
		t.Fatal(err)
	}
	if again.MessageID != first.MessageID {
		t.Errorf("resend id = %s, want %s", again.MessageID, first.MessageID)
	}
	if stub.MessageCount() != 1 {
		t.Errorf("stored messages = %d, want 1", stub.MessageCount())
	}
}

func TestValidationRejectionIsTerminal(t *testing.T) {
	_, c := newStubClient(t, "", "")
	_, err := c.SendMessage(context.Background(), 1, payload.Message{ReceiverID: "", Content: "hi"})
	if !IsValidation(err) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if IsRetryable(err) {
		t.Error("validation error must not be retryable")
	}
	var ve *ValidationError
	errors.As(err, &ve)
	if ve.Status != http.StatusUnprocessableEntity || ve.Code != "validation_failed" {
		t.Errorf("validation error = %+v", ve)
	}
}

func TestServerErrorsAreRetryable(t *testing.T) {
	stub, c := newStubClient(t, "", "")
	stub.FailNext(PathFriendRequest, http.StatusServiceUnavailable, http.StatusTooManyRequests)
	ctx := context.Background()

	for i := range 2 {
		err := c.SendFriendRequest(ctx, 1, payload.FriendRequest{ToID: "u3"})
		if !IsRetryable(err) {
			t.Fatalf("attempt %d: err = %v, want TransientError", i, err)
		}
	}
	if err := c.SendFriendRequest(ctx, 1, payload.FriendRequest{ToID: "u3"}); err != nil {
		t.Fatalf("third attempt: %v", err)
	}
	if n := stub.Calls(PathFriendRequest); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestConnectionRefusedIsRetryable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	c := NewClient(Options{BaseURL: "http://" + addr, Timeout: time.Second}, nil)
	err = c.SendFriendRequest(context.Background(), 1, payload.FriendRequest{ToID: "u3"})
	if !IsRetryable(err) {
		t.Errorf("err = %v, want TransientError", err)
	}
}

func TestTimeoutIsRetryable(t *testing.T) {
	stub := NewStub("", nil)
	release := make(chan struct{})
	stub.BeforeHandle = func(*http.Request) { <-release }
	srv := httptest.NewServer(stub)
	defer srv.Close()
	defer close(release)

	c := NewClient(Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	err := c.SendFriendRequest(context.Background(), 1, payload.FriendRequest{ToID: "u3"})
	if !IsRetryable(err) {
		t.Errorf("err = %v, want TransientError", err)
	}
}

func TestVersionConflict(t *testing.T) {
	stub, c := newStubClient(t, "", "")
	ctx := context.Background()

	v1, err := c.UpdateProfile(ctx, VersionedRequest{Fields: map[string]any{"bio": "mine"}, Timestamp: 100})
	if err != nil {
		t.Fatal(err)
	}
	if v1.Version != 1 {
		t.Fatalf("version = %d, want 1", v1.Version)
	}

	stub.SetProfile("anonymous", map[string]any{"bio": "theirs"}, time.UnixMilli(200))

	_, err = c.UpdateProfile(ctx, VersionedRequest{Fields: map[string]any{"bio": "mine again"}, Timestamp: 150, BaseVersion: v1.Version})
	ce, ok := AsConflict(err)
	if !ok {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	if ce.Remote.Version != 2 || ce.Remote.Data["bio"] != "theirs" || ce.Remote.LastModified != 200 {
		t.Errorf("remote = %+v", ce.Remote)
	}

	v3, err := c.UpdateProfile(ctx, VersionedRequest{Fields: map[string]any{"bio": "mine again"}, Timestamp: 300, BaseVersion: ce.Remote.Version})
	if err != nil {
		t.Fatal(err)
	}
	if v3.Version != 3 || v3.Data["bio"] != "mine again" {
		t.Errorf("after rebase = %+v", v3)
	}
}

func TestBearerTokenAuth(t *testing.T) {
	const secret = "stub-secret"
	token, err := MintToken(secret, "u1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	stub, c := newStubClient(t, secret, token)
	if _, err := c.UpdateLocation(context.Background(), VersionedRequest{Fields: map[string]any{"latitude": 1.0, "longitude": 2.0}}); err != nil {
		t.Fatalf("authorized call: %v", err)
	}
	_ = stub

	_, anon := newStubClient(t, secret, "")
	err = anon.SendFriendRequest(context.Background(), 1, payload.FriendRequest{ToID: "u2"})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Status != http.StatusUnauthorized {
		t.Errorf("unauthenticated call: %v, want 401 ValidationError", err)
	}

	expired, _ := MintToken(secret, "u1", -time.Hour)
	_, stale := newStubClient(t, secret, expired)
	if err := stale.SendFriendRequest(context.Background(), 1, payload.FriendRequest{ToID: "u2"}); !IsValidation(err) {
		t.Errorf("expired token: %v, want ValidationError", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		env    Envelope
		check  func(error) bool
	}{
		{"ok", 200, Envelope{Success: true}, func(err error) bool { return err == nil }},
		{"2xx failure", 200, Envelope{Success: false, Error: "nope"}, IsValidation},
		{"404", 404, Envelope{}, IsValidation},
		{"409 without remote", 409, Envelope{}, IsRetryable},
		{"500", 500, Envelope{}, IsRetryable},
		{"429", 429, Envelope{}, IsRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := classify(tt.status, tt.env, nil, nil); !tt.check(err) {
				t.Errorf("classify(%d) = %v", tt.status, err)
			}
		})
	}
}
