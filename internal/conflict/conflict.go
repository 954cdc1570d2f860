// Package conflict detects and resolves divergence between the local and
// remote versions of the same record.
package conflict

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/matheus3301/offsync/internal/bus"
)

// Origin says which replica produced a version.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Type is the inferred kind of record in conflict.
type Type string

const (
	TypeMessage       Type = "message"
	TypeProfile       Type = "profile"
	TypeLocation      Type = "location"
	TypeFriendRequest Type = "friendRequest"
)

// Strategy selects how a conflict is resolved.
type Strategy string

const (
	LocalWins  Strategy = "local-wins"
	RemoteWins Strategy = "remote-wins"
	LatestWins Strategy = "latest-wins"
	Merge      Strategy = "merge"
	Manual     Strategy = "manual"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case LocalWins, RemoteWins, LatestWins, Merge, Manual:
		return st, nil
	}
	return "", fmt.Errorf("unknown conflict strategy %q", s)
}

// ErrManualDataRequired is returned when the manual strategy is used
// without a caller-supplied payload.
var ErrManualDataRequired = errors.New("manual resolution requires data")

// Version is one replica's copy of a record.
type Version struct {
	ID           string         `json:"id"`
	Data         map[string]any `json:"data"`
	Version      int64          `json:"version"`
	LastModified int64          `json:"lastModified"` // unix ms
	ModifiedBy   string         `json:"modifiedBy,omitempty"`
	Origin       Origin         `json:"origin"`
}

// Conflict describes two diverging versions of one record. It lives in
// the resolver's pending set until resolved.
type Conflict struct {
	ID             string   `json:"id"`
	Type           Type     `json:"type"`
	Local          Version  `json:"localVersion"`
	Remote         Version  `json:"remoteVersion"`
	Fields         []string `json:"conflictFields"`
	AutoResolvable bool     `json:"autoResolvable"`
}

// Resolution is the outcome of resolving one conflict.
type Resolution struct {
	ID       string         `json:"id"`
	Resolved bool           `json:"resolved"`
	Strategy Strategy       `json:"strategy"`
	Data     map[string]any `json:"resolvedData"`
}

var (
	metadataFields = []string{"_id", "id", "version", "lastModified", "modifiedBy"}
	avatarFields   = []string{"avatar", "profilePicture", "photo"}
	locationFields = []string{"latitude", "longitude", "location"}
	presenceFields = []string{"status", "online", "lastSeen"}
)

// Resolver holds pending conflicts. It never writes records itself;
// resolved data is returned for the caller to persist.
type Resolver struct {
	log *zap.Logger
	bus *bus.Bus

	mu      sync.Mutex
	pending map[string]*Conflict
	order   []string

	listeners bus.Listeners[Conflict]
}

// NewResolver creates an empty resolver.
func NewResolver(b *bus.Bus, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Resolver{log: log, bus: b, pending: make(map[string]*Conflict)}
	r.listeners.OnPanic = func(p any) {
		log.Error("conflict listener panicked", zap.Any("panic", p))
	}
	return r
}

// Detect compares local and remote. It returns nil when the versions match,
// the payloads are identical, or only metadata fields differ. Otherwise the
// conflict is registered as pending, replacing any earlier conflict for the
// same id, and OnConflict listeners are notified.
func (r *Resolver) Detect(local, remote Version) *Conflict {
	if local.Version == remote.Version {
		return nil
	}
	if cmp.Equal(local.Data, remote.Data) {
		return nil
	}
	fields := diffFields(local.Data, remote.Data)
	if len(fields) == 0 {
		return nil
	}

	c := &Conflict{
		ID:             local.ID,
		Type:           InferType(local.Data),
		Local:          local,
		Remote:         remote,
		Fields:         fields,
		AutoResolvable: autoResolvable(fields, local.Data),
	}

	r.mu.Lock()
	if _, exists := r.pending[c.ID]; !exists {
		r.order = append(r.order, c.ID)
	}
	r.pending[c.ID] = c
	r.mu.Unlock()

	r.log.Info("conflict detected",
		zap.String("id", c.ID),
		zap.String("type", string(c.Type)),
		zap.Strings("fields", c.Fields),
		zap.Bool("auto", c.AutoResolvable),
	)
	r.bus.Emit(bus.KindSyncConflict, *c)
	r.listeners.Notify(*c)
	return c
}

// Resolve applies strategy to the pending conflict with the given id and
// removes it from the pending set. An unknown id yields Resolved=false.
// The manual strategy returns exactly the supplied data.
func (r *Resolver) Resolve(id string, strategy Strategy, manual map[string]any) (Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked(id, strategy, manual)
}

func (r *Resolver) resolveLocked(id string, strategy Strategy, manual map[string]any) (Resolution, error) {
	c, ok := r.pending[id]
	if !ok {
		return Resolution{ID: id, Strategy: strategy}, nil
	}

	var data map[string]any
	switch strategy {
	case LocalWins:
		data = c.Local.Data
	case RemoteWins:
		data = c.Remote.Data
	case LatestWins:
		data = latest(c)
	case Merge:
		data = merge(c)
	case Manual:
		if manual == nil {
			return Resolution{}, ErrManualDataRequired
		}
		data = manual
	default:
		return Resolution{}, fmt.Errorf("unknown conflict strategy %q", strategy)
	}

	delete(r.pending, id)
	r.order = slices.DeleteFunc(r.order, func(v string) bool { return v == id })
	r.log.Info("conflict resolved", zap.String("id", id), zap.String("strategy", string(strategy)))
	return Resolution{ID: id, Resolved: true, Strategy: strategy, Data: data}, nil
}

// AutoResolve resolves every pending auto-resolvable conflict with the
// strategy chosen for its shape, leaving the rest pending.
func (r *Resolver) AutoResolve() []Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Resolution
	for _, id := range slices.Clone(r.order) {
		c := r.pending[id]
		if !c.AutoResolvable {
			continue
		}
		res, err := r.resolveLocked(id, AutoStrategy(c), nil)
		if err != nil {
			r.log.Warn("auto resolve", zap.String("id", id), zap.Error(err))
			continue
		}
		out = append(out, res)
	}
	return out
}

// Pending returns the unresolved conflicts in detection order.
func (r *Resolver) Pending() []Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conflict, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.pending[id])
	}
	return out
}

// Get returns the pending conflict with the given id.
func (r *Resolver) Get(id string) (Conflict, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.pending[id]
	if !ok {
		return Conflict{}, false
	}
	return *c, true
}

// Restore puts a resolved conflict back into the pending set, e.g. when its
// resolution could not be persisted. Listeners are not notified again. A
// conflict detected for the same id in the meantime wins.
func (r *Resolver) Restore(c Conflict) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pending[c.ID]; exists {
		return
	}
	r.pending[c.ID] = &c
	r.order = append(r.order, c.ID)
	r.log.Info("conflict restored", zap.String("id", c.ID))
}

// ByType returns the unresolved conflicts of one type.
func (r *Resolver) ByType(t Type) []Conflict {
	var out []Conflict
	for _, c := range r.Pending() {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

// Clear drops every pending conflict.
func (r *Resolver) Clear() {
	r.mu.Lock()
	r.pending = make(map[string]*Conflict)
	r.order = nil
	r.mu.Unlock()
}

// OnConflict registers fn for newly detected conflicts.
func (r *Resolver) OnConflict(fn func(Conflict)) (unsubscribe func()) {
	return r.listeners.Add(fn)
}

// AutoStrategy picks the strategy used for an auto-resolvable conflict:
// latest-wins for location and presence changes, merge for a single
// differing field, latest-wins otherwise.
func AutoStrategy(c *Conflict) Strategy {
	switch {
	case allIn(c.Fields, locationFields), allIn(c.Fields, presenceFields):
		return LatestWins
	case len(c.Fields) == 1:
		return Merge
	default:
		return LatestWins
	}
}

// InferType guesses the record kind from its fields.
func InferType(data map[string]any) Type {
	switch {
	case truthy(data["text"]) || truthy(data["message"]) || truthy(data["content"]):
		return TypeMessage
	case truthy(data["latitude"]) && truthy(data["longitude"]):
		return TypeLocation
	case data["status"] == "pending" || truthy(data["requesterId"]):
		return TypeFriendRequest
	default:
		return TypeProfile
	}
}

// autoResolvable classifies a conflict. The checks run in order. Any
// conflict on exactly one field counts as auto-resolvable, including a
// one-field edit such as a username change.
func autoResolvable(fields []string, local map[string]any) bool {
	if truthy(local["text"]) || truthy(local["message"]) {
		return false
	}
	switch {
	case allIn(fields, avatarFields),
		allIn(fields, locationFields),
		allIn(fields, presenceFields):
		return true
	}
	return len(fields) == 1
}

func diffFields(local, remote map[string]any) []string {
	keys := make(map[string]struct{}, len(local)+len(remote))
	for k := range local {
		keys[k] = struct{}{}
	}
	for k := range remote {
		keys[k] = struct{}{}
	}
	var out []string
	for k := range keys {
		if slices.Contains(metadataFields, k) {
			continue
		}
		lv, lok := local[k]
		rv, rok := remote[k]
		if lok != rok || !cmp.Equal(lv, rv) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func latest(c *Conflict) map[string]any {
	if c.Local.LastModified > c.Remote.LastModified {
		return c.Local.Data
	}
	return c.Remote.Data
}

// merge starts from the remote data and overlays local fields: conflicting
// fields take the later side (ties to remote), others keep the local value.
func merge(c *Conflict) map[string]any {
	out := make(map[string]any, len(c.Remote.Data)+len(c.Local.Data))
	for k, v := range c.Remote.Data {
		out[k] = v
	}
	localLater := c.Local.LastModified > c.Remote.LastModified
	for k, v := range c.Local.Data {
		if slices.Contains(c.Fields, k) && !localLater {
			if rv, ok := c.Remote.Data[k]; ok {
				out[k] = rv
			} else {
				delete(out, k)
			}
			continue
		}
		out[k] = v
	}
	return out
}

func allIn(fields, set []string) bool {
	for _, f := range fields {
		if !slices.Contains(set, f) {
			return false
		}
	}
	return true
}

// truthy mirrors the loose presence checks used by clients when deciding a
// record's shape: absent, empty, zero and false all count as unset.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	}
	return true
}
