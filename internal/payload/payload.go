// Package payload defines the typed intents carried by sync queue items.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/matheus3301/offsync/internal/store"
)

// Payload is one queued intent. The concrete type determines the
// operation; the set of implementations is closed.
type Payload interface {
	Operation() store.Operation
	isPayload()
}

// Message sends a chat message.
type Message struct {
	ID         string `json:"id,omitempty"`
	ChatID     string `json:"chatId,omitempty"`
	SenderID   string `json:"senderId,omitempty"`
	ReceiverID string `json:"receiverId" validate:"required"`
	Content    string `json:"content" validate:"required"`
	Timestamp  int64  `json:"timestamp"`
}

// FriendRequest asks another user to connect.
type FriendRequest struct {
	ID        string `json:"id,omitempty"`
	ToID      string `json:"toId" validate:"required"`
	Timestamp int64  `json:"timestamp"`
}

// ProfileUpdate patches fields of the user's own profile.
type ProfileUpdate struct {
	Fields    map[string]any `json:"fields" validate:"required,min=1"`
	Timestamp int64          `json:"timestamp"`
}

// LocationUpdate reports the device position.
type LocationUpdate struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Accuracy  float64 `json:"accuracy,omitempty" validate:"gte=0"`
	Timestamp int64   `json:"timestamp"`
}

func (Message) Operation() store.Operation        { return store.OpMessage }
func (FriendRequest) Operation() store.Operation  { return store.OpFriendRequest }
func (ProfileUpdate) Operation() store.Operation  { return store.OpProfileUpdate }
func (LocationUpdate) Operation() store.Operation { return store.OpLocationUpdate }

func (Message) isPayload()        {}
func (FriendRequest) isPayload()  {}
func (ProfileUpdate) isPayload()  {}
func (LocationUpdate) isPayload() {}

// Priority returns the queue priority for an operation. Lower is more urgent.
func Priority(op store.Operation) int {
	switch op {
	case store.OpMessage:
		return 1
	case store.OpFriendRequest, store.OpProfileUpdate:
		return 2
	default:
		return 3
	}
}

// Encode serializes p for storage in a queue item.
func Encode(p Payload) (json.RawMessage, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.Operation(), err)
	}
	return raw, nil
}

// Decode parses a stored payload for op.
func Decode(op store.Operation, raw json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch op {
	case store.OpMessage:
		var v Message
		err = json.Unmarshal(raw, &v)
		p = v
	case store.OpFriendRequest:
		var v FriendRequest
		err = json.Unmarshal(raw, &v)
		p = v
	case store.OpProfileUpdate:
		var v ProfileUpdate
		err = json.Unmarshal(raw, &v)
		p = v
	case store.OpLocationUpdate:
		var v LocationUpdate
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, &InvalidError{Op: op, Reason: fmt.Sprintf("unknown operation %q", op)}
	}
	if err != nil {
		return nil, &InvalidError{Op: op, Reason: "malformed payload: " + err.Error()}
	}
	return p, nil
}

// InvalidError reports a payload that can never be sent as-is.
type InvalidError struct {
	Op     store.Operation
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s", e.Op, e.Reason)
}

// IsInvalid reports whether err is an InvalidError.
func IsInvalid(err error) bool {
	var ie *InvalidError
	return errors.As(err, &ie)
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks p's required fields and ranges.
func Validate(p Payload) error {
	err := validatorInstance().Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &InvalidError{Op: p.Operation(), Reason: err.Error()}
	}
	reasons := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		reasons = append(reasons, describe(fe))
	}
	return &InvalidError{Op: p.Operation(), Reason: strings.Join(reasons, "; ")}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "min":
		return fe.Field() + " must not be empty"
	case "gte":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}
