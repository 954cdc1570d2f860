package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/matheus3301/offsync/internal/conflict"
)

// Claims identifies the caller of the stub API.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// MintToken issues an HS256 bearer token for userID accepted by a Stub
// configured with the same secret.
func MintToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func parseToken(raw, secret string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no user")
	}
	return claims, nil
}

// Stub is an in-memory implementation of the REST API used for local
// development and tests. Profile and location records are versioned per
// user; messages and friend requests are deduplicated by offlineQueueId.
type Stub struct {
	secret   string
	validate *validator.Validate
	log      *zap.Logger
	router   *mux.Router

	mu        sync.Mutex
	profiles  map[string]*conflict.Version
	locations map[string]*conflict.Version
	messages  map[string]string // user/queueID -> server message id
	friends   map[string]bool
	calls     map[string]int
	failures  map[string][]int

	// BeforeHandle, when set, runs before every request is served.
	BeforeHandle func(r *http.Request)
}

// NewStub creates the stub. An empty secret disables authentication and
// attributes every request to the user "anonymous".
func NewStub(secret string, log *zap.Logger) *Stub {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Stub{
		secret:    secret,
		validate:  validator.New(),
		log:       log,
		profiles:  make(map[string]*conflict.Version),
		locations: make(map[string]*conflict.Version),
		messages:  make(map[string]string),
		friends:   make(map[string]bool),
		calls:     make(map[string]int),
		failures:  make(map[string][]int),
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/messages", s.handleMessage).Methods(http.MethodPost)
	api.HandleFunc("/friends/request", s.handleFriendRequest).Methods(http.MethodPost)
	api.HandleFunc("/users/profile", s.handleProfile).Methods(http.MethodPut)
	api.HandleFunc("/location/update", s.handleLocation).Methods(http.MethodPost)
	s.router = r
	return s
}

func (s *Stub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// FailNext makes the next len(statuses) requests to path fail with the
// given HTTP statuses, in order.
func (s *Stub) FailNext(path string, statuses ...int) {
	s.mu.Lock()
	s.failures[path] = append(s.failures[path], statuses...)
	s.mu.Unlock()
}

// Calls returns how many requests reached path, including injected failures.
func (s *Stub) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// SetProfile overwrites the server copy of a user's profile, bumping its
// version as a concurrent edit from another device would.
func (s *Stub) SetProfile(userID string, data map[string]any, modified time.Time) conflict.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(s.profiles, userID, "profile", data, modified.UnixMilli(), "other-device")
}

// Profile returns the server copy of a user's profile.
func (s *Stub) Profile(userID string) (conflict.Version, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.profiles[userID]
	if !ok {
		return conflict.Version{}, false
	}
	return *v, true
}

// SetLocation overwrites the server copy of a user's location.
func (s *Stub) SetLocation(userID string, lat, lng float64, modified time.Time) conflict.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(s.locations, userID, "location",
		map[string]any{"latitude": lat, "longitude": lng}, modified.UnixMilli(), "other-device")
}

// MessageCount returns how many distinct messages were accepted.
func (s *Stub) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type userKey struct{}

func (s *Stub) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.BeforeHandle != nil {
			s.BeforeHandle(r)
		}
		path := r.URL.Path
		s.mu.Lock()
		s.calls[path]++
		var injected int
		if q := s.failures[path]; len(q) > 0 {
			injected, s.failures[path] = q[0], q[1:]
		}
		s.mu.Unlock()
		if injected != 0 {
			writeError(w, injected, "injected", http.StatusText(injected))
			return
		}

		user := "anonymous"
		if s.secret != "" {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			claims, err := parseToken(raw, s.secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}
			user = claims.UserID
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

func (s *Stub) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !s.decode(w, r, &req) {
		return
	}
	user := userFrom(r.Context())
	key := fmt.Sprintf("%s/%d", user, req.OfflineQueueID)

	s.mu.Lock()
	id, seen := s.messages[key]
	if !seen {
		id = uuid.NewString()
		s.messages[key] = id
	}
	s.mu.Unlock()

	status := http.StatusCreated
	if seen {
		status = http.StatusOK
	}
	writeJSON(w, status, MessageResult{MessageID: id})
}

func (s *Stub) handleFriendRequest(w http.ResponseWriter, r *http.Request) {
	var req friendRequestRequest
	if !s.decode(w, r, &req) {
		return
	}
	user := userFrom(r.Context())
	if req.ToID == user {
		writeError(w, http.StatusUnprocessableEntity, "self_request", "cannot befriend yourself")
		return
	}
	s.mu.Lock()
	s.friends[user+"->"+req.ToID] = true
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]string{"toId": req.ToID})
}

func (s *Stub) handleProfile(w http.ResponseWriter, r *http.Request) {
	s.handleVersioned(w, r, s.profiles, "profile")
}

func (s *Stub) handleLocation(w http.ResponseWriter, r *http.Request) {
	s.handleVersioned(w, r, s.locations, "location")
}

type versionedBody struct {
	Fields         map[string]any `json:"fields" validate:"required,min=1"`
	Timestamp      int64          `json:"timestamp"`
	BaseVersion    int64          `json:"baseVersion" validate:"gte=0"`
	OfflineQueueID int64          `json:"offlineQueueId"`
}

func (s *Stub) handleVersioned(w http.ResponseWriter, r *http.Request, records map[string]*conflict.Version, id string) {
	var req versionedBody
	if !s.decode(w, r, &req) {
		return
	}
	user := userFrom(r.Context())

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := records[user]
	if ok && req.BaseVersion != 0 && req.BaseVersion != cur.Version {
		s.log.Debug("stub conflict", zap.String("record", id), zap.Int64("base", req.BaseVersion), zap.Int64("current", cur.Version))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(Envelope{
			Success: false,
			Error:   "record changed since base version",
			Code:    "version_conflict",
			Remote:  cur,
		})
		return
	}
	modified := req.Timestamp
	if modified == 0 {
		modified = time.Now().UnixMilli()
	}
	v := s.putLocked(records, user, id, req.Fields, modified, user)
	writeJSON(w, http.StatusOK, v)
}

func (s *Stub) putLocked(records map[string]*conflict.Version, user, id string, fields map[string]any, modified int64, by string) conflict.Version {
	cur, ok := records[user]
	if !ok {
		cur = &conflict.Version{ID: id, Data: map[string]any{}, Origin: conflict.OriginRemote}
		records[user] = cur
	}
	data := make(map[string]any, len(cur.Data)+len(fields))
	for k, v := range cur.Data {
		data[k] = v
	}
	for k, v := range fields {
		data[k] = v
	}
	cur.Data = data
	cur.Version++
	cur.LastModified = modified
	cur.ModifiedBy = by
	return *cur
}

func (s *Stub) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Success: true, Data: raw})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Success: false, Error: msg, Code: code})
}
