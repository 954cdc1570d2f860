package store

import "encoding/json"

// MessageStatus is the sync state of a locally composed message.
type MessageStatus string

const (
	MessagePending MessageStatus = "pending"
	MessageSyncing MessageStatus = "syncing"
	MessageSynced  MessageStatus = "synced"
	MessageFailed  MessageStatus = "failed"
)

// Message is a chat message composed on this device. It is kept as local
// chat history and never deleted automatically.
type Message struct {
	ID          string        `json:"id"`
	ChatID      string        `json:"chatId"`
	SenderID    string        `json:"senderId"`
	ReceiverID  string        `json:"receiverId"`
	Content     string        `json:"content"`
	Timestamp   int64         `json:"timestamp"`
	Status      MessageStatus `json:"status"`
	RetryCount  int           `json:"retryCount"`
	LastAttempt int64         `json:"lastAttempt,omitempty"`
}

// Operation identifies the kind of deferred intent a queue item carries.
type Operation string

const (
	OpMessage        Operation = "message"
	OpFriendRequest  Operation = "friendRequest"
	OpProfileUpdate  Operation = "profileUpdate"
	OpLocationUpdate Operation = "locationUpdate"
)

// QueueStatus is the lifecycle state of a queue item.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// QueueItem is one deferred intent awaiting transmission. Lower Priority
// values are more urgent. Payload is opaque to the store.
type QueueItem struct {
	ID            int64           `json:"id"`
	Operation     Operation       `json:"operation"`
	Payload       json.RawMessage `json:"payload"`
	Priority      int             `json:"priority"`
	Status        QueueStatus     `json:"status"`
	CreatedAt     int64           `json:"createdAt"`
	RetryCount    int             `json:"retryCount"`
	LastAttemptAt int64           `json:"lastAttemptAt,omitempty"`
	NextAttemptAt int64           `json:"nextAttemptAt"`
	Error         string          `json:"error,omitempty"`
}

// UserProfile is a cached copy of a remote user profile.
type UserProfile struct {
	UserID      string         `json:"userId"`
	Username    string         `json:"username"`
	ProfileData map[string]any `json:"profileData,omitempty"`
	LastFetched int64          `json:"lastFetched"`
	ExpiresAt   int64          `json:"expiresAt"`
}

// FriendRequestStatus is the sync state of a locally issued friend request.
type FriendRequestStatus string

const (
	FriendRequestPending FriendRequestStatus = "pending"
	FriendRequestSynced  FriendRequestStatus = "synced"
	FriendRequestFailed  FriendRequestStatus = "failed"
)

// FriendRequest is a friend request issued on this device.
type FriendRequest struct {
	ID         string              `json:"id"`
	FromID     string              `json:"fromId,omitempty"`
	ToID       string              `json:"toId"`
	Status     FriendRequestStatus `json:"status"`
	Timestamp  int64               `json:"timestamp"`
	RetryCount int                 `json:"retryCount"`
}

// Metadata is a free-form key/value pair used for sync bookkeeping.
type Metadata struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt int64           `json:"updatedAt"`
}

// StorageEstimate reports local capacity usage. All fields are
// non-negative and Percent is clamped to [0, 100].
type StorageEstimate struct {
	Usage   int64   `json:"usage"`
	Quota   int64   `json:"quota"`
	Percent float64 `json:"percent"`
}
