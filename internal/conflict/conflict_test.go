package conflict

import (
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

func version(id string, v, modified int64, origin Origin, data map[string]any) Version {
	return Version{ID: id, Data: data, Version: v, LastModified: modified, ModifiedBy: "u1", Origin: origin}
}

func TestDetectNoConflict(t *testing.T) {
	r := NewResolver(nil, zap.NewNop())
	tests := []struct {
		name          string
		local, remote Version
	}{
		{
			"same version",
			version("p1", 2, 100, OriginLocal, map[string]any{"bio": "a"}),
			version("p1", 2, 200, OriginRemote, map[string]any{"bio": "b"}),
		},
		{
			"identical data",
			version("p1", 1, 100, OriginLocal, map[string]any{"bio": "a"}),
			version("p1", 2, 200, OriginRemote, map[string]any{"bio": "a"}),
		},
		{
			"metadata only",
			version("p1", 1, 100, OriginLocal, map[string]any{"bio": "a", "version": float64(1), "lastModified": float64(100)}),
			version("p1", 2, 200, OriginRemote, map[string]any{"bio": "a", "version": float64(2), "lastModified": float64(200)}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if c := r.Detect(tt.local, tt.remote); c != nil {
				t.Errorf("Detect = %+v, want nil", c)
			}
		})
	}
	if n := len(r.Pending()); n != 0 {
		t.Errorf("pending = %d, want 0", n)
	}
}

func TestDetectFindsDifferingFields(t *testing.T) {
	r := NewResolver(nil, nil)
	c := r.Detect(
		version("p1", 1, 100, OriginLocal, map[string]any{"bio": "a", "city": "Recife", "tags": []any{"x"}}),
		version("p1", 2, 200, OriginRemote, map[string]any{"bio": "b", "tags": []any{"x", "y"}, "extra": true}),
	)
	if c == nil {
		t.Fatal("expected conflict")
	}
	want := []string{"bio", "city", "extra", "tags"}
	if diff := cmp.Diff(want, c.Fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
	if c.AutoResolvable {
		t.Error("multi-field profile conflict should not be auto-resolvable")
	}
	if c.Type != TypeProfile {
		t.Errorf("type = %s, want profile", c.Type)
	}
}

// Only lastSeen differs: auto-resolvable, and latest-wins takes the later
// remote copy.
func TestPresenceConflictLatestWins(t *testing.T) {
	r := NewResolver(nil, nil)
	local := version("u1", 1, 100, OriginLocal, map[string]any{"username": "ana", "lastSeen": float64(1000)})
	remote := version("u1", 2, 200, OriginRemote, map[string]any{"username": "ana", "lastSeen": float64(2000)})

	c := r.Detect(local, remote)
	if c == nil {
		t.Fatal("expected conflict")
	}
	if !c.AutoResolvable {
		t.Fatal("lastSeen-only conflict should be auto-resolvable")
	}
	if got := AutoStrategy(c); got != LatestWins {
		t.Errorf("auto strategy = %s, want latest-wins", got)
	}

	res, err := r.Resolve("u1", LatestWins, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Resolved || res.Data["lastSeen"] != float64(2000) {
		t.Errorf("resolution = %+v, want remote lastSeen", res)
	}
}

func TestResolveTwiceIsNoop(t *testing.T) {
	r := NewResolver(nil, nil)
	r.Detect(
		version("p1", 1, 100, OriginLocal, map[string]any{"bio": "a"}),
		version("p1", 2, 200, OriginRemote, map[string]any{"bio": "b"}),
	)

	first, err := r.Resolve("p1", RemoteWins, nil)
	if err != nil || !first.Resolved {
		t.Fatalf("first resolve = %+v, %v", first, err)
	}
	second, err := r.Resolve("p1", LocalWins, nil)
	if err != nil {
		t.Fatal(err)
	}
	if second.Resolved || second.Data != nil {
		t.Errorf("second resolve = %+v, want no-op", second)
	}
}

func TestRestoreReturnsConflictToPending(t *testing.T) {
	var notified int
	r := NewResolver(nil, nil)
	r.OnConflict(func(Conflict) { notified++ })
	r.Detect(
		version("p1", 1, 100, OriginLocal, map[string]any{"bio": "a"}),
		version("p1", 2, 200, OriginRemote, map[string]any{"bio": "b"}),
	)

	before, ok := r.Get("p1")
	if !ok {
		t.Fatal("Get(p1) not found")
	}
	if _, err := r.Resolve("p1", RemoteWins, nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Get("p1"); ok {
		t.Fatal("resolved conflict still pending")
	}

	r.Restore(before)
	r.Restore(before)
	pending := r.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %+v, want one conflict", pending)
	}
	if diff := cmp.Diff(before, pending[0]); diff != "" {
		t.Errorf("restored conflict (-want +got):\n%s", diff)
	}
	if notified != 1 {
		t.Errorf("listener calls = %d, want 1", notified)
	}
	res, err := r.Resolve("p1", LocalWins, nil)
	if err != nil || !res.Resolved {
		t.Errorf("resolve after restore = %+v, %v", res, err)
	}
}

func TestResolveUnknownID(t *testing.T) {
	r := NewResolver(nil, nil)
	res, err := r.Resolve("ghost", Merge, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Resolved {
		t.Error("unknown id should not resolve")
	}
}

func TestStrategies(t *testing.T) {
	localData := map[string]any{"bio": "local bio", "city": "Recife", "name": "Ana"}
	remoteData := map[string]any{"bio": "remote bio", "name": "Ana", "country": "BR"}

	tests := []struct {
		name          string
		strategy      Strategy
		localModified int64
		want          map[string]any
	}{
		{"local wins", LocalWins, 100, localData},
		{"remote wins", RemoteWins, 300, remoteData},
		{"latest local later", LatestWins, 300, localData},
		{"latest tie goes remote", LatestWins, 200, remoteData},
		{"latest remote later", LatestWins, 100, remoteData},
		{
			"merge remote later", Merge, 100,
			map[string]any{"bio": "remote bio", "name": "Ana", "country": "BR"},
		},
		{
			"merge local later", Merge, 300,
			map[string]any{"bio": "local bio", "city": "Recife", "name": "Ana", "country": "BR"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(nil, nil)
			c := r.Detect(
				version("p1", 1, tt.localModified, OriginLocal, localData),
				version("p1", 2, 200, OriginRemote, remoteData),
			)
			if c == nil {
				t.Fatal("expected conflict")
			}
			res, err := r.Resolve("p1", tt.strategy, nil)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, res.Data); diff != "" {
				t.Errorf("resolved data mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMergeKeepsNonConflictingLocalFields(t *testing.T) {
	r := NewResolver(nil, nil)
	r.Detect(
		version("p1", 1, 100, OriginLocal, map[string]any{"bio": "a", "name": "Ana"}),
		version("p1", 2, 200, OriginRemote, map[string]any{"bio": "b", "name": "Ana"}),
	)
	res, err := r.Resolve("p1", Merge, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"bio": "b", "name": "Ana"}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestManualStrategy(t *testing.T) {
	r := NewResolver(nil, nil)
	r.Detect(
		version("m1", 1, 100, OriginLocal, map[string]any{"text": "hi"}),
		version("m1", 2, 200, OriginRemote, map[string]any{"text": "hello"}),
	)

	if _, err := r.Resolve("m1", Manual, nil); !errors.Is(err, ErrManualDataRequired) {
		t.Fatalf("manual without data: %v, want ErrManualDataRequired", err)
	}
	if len(r.Pending()) != 1 {
		t.Fatal("failed manual resolve must leave the conflict pending")
	}

	chosen := map[string]any{"text": "hi there"}
	res, err := r.Resolve("m1", Manual, chosen)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Resolved || !cmp.Equal(res.Data, chosen) {
		t.Errorf("manual resolution = %+v", res)
	}
}

func TestAutoResolvableClassification(t *testing.T) {
	tests := []struct {
		name   string
		fields []string
		local  map[string]any
		want   bool
	}{
		{"message text", []string{"status"}, map[string]any{"text": "hi"}, false},
		{"message field", []string{"lastSeen"}, map[string]any{"message": "hi"}, false},
		{"avatar set", []string{"avatar", "photo"}, map[string]any{}, true},
		{"location set", []string{"latitude", "longitude"}, map[string]any{}, true},
		{"presence set", []string{"online", "status", "lastSeen"}, map[string]any{}, true},
		{"single field", []string{"username"}, map[string]any{}, true},
		{"mixed sets", []string{"avatar", "latitude"}, map[string]any{}, false},
		{"two plain fields", []string{"bio", "username"}, map[string]any{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := autoResolvable(tt.fields, tt.local); got != tt.want {
				t.Errorf("autoResolvable(%v) = %v, want %v", tt.fields, got, tt.want)
			}
		})
	}
}

func TestAutoStrategy(t *testing.T) {
	tests := []struct {
		fields []string
		want   Strategy
	}{
		{[]string{"latitude", "longitude"}, LatestWins},
		{[]string{"lastSeen"}, LatestWins},
		{[]string{"username"}, Merge},
		{[]string{"avatar", "photo"}, LatestWins},
	}
	for _, tt := range tests {
		if got := AutoStrategy(&Conflict{Fields: tt.fields}); got != tt.want {
			t.Errorf("AutoStrategy(%v) = %s, want %s", tt.fields, got, tt.want)
		}
	}
}

func TestAutoResolveLeavesManualConflicts(t *testing.T) {
	r := NewResolver(nil, nil)
	r.Detect(
		version("loc", 1, 300, OriginLocal, map[string]any{"latitude": 1.0, "longitude": 2.0}),
		version("loc", 2, 200, OriginRemote, map[string]any{"latitude": 1.5, "longitude": 2.5}),
	)
	r.Detect(
		version("msg", 1, 100, OriginLocal, map[string]any{"text": "a"}),
		version("msg", 2, 200, OriginRemote, map[string]any{"text": "b"}),
	)

	results := r.AutoResolve()
	if len(results) != 1 || results[0].ID != "loc" || results[0].Strategy != LatestWins {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Data["latitude"] != 1.0 {
		t.Errorf("later local location should win, got %v", results[0].Data)
	}
	pending := r.Pending()
	if len(pending) != 1 || pending[0].ID != "msg" {
		t.Errorf("pending = %+v", pending)
	}
}

func TestInferType(t *testing.T) {
	tests := []struct {
		data map[string]any
		want Type
	}{
		{map[string]any{"content": "hi"}, TypeMessage},
		{map[string]any{"latitude": 1.0, "longitude": 2.0}, TypeLocation},
		{map[string]any{"status": "pending"}, TypeFriendRequest},
		{map[string]any{"requesterId": "u2"}, TypeFriendRequest},
		{map[string]any{"bio": "x"}, TypeProfile},
	}
	for _, tt := range tests {
		if got := InferType(tt.data); got != tt.want {
			t.Errorf("InferType(%v) = %s, want %s", tt.data, got, tt.want)
		}
	}
}

func TestByTypeClearAndListeners(t *testing.T) {
	r := NewResolver(nil, nil)
	var seen []string
	unsub := r.OnConflict(func(c Conflict) { seen = append(seen, c.ID) })

	r.Detect(
		version("loc", 1, 1, OriginLocal, map[string]any{"latitude": 1.0, "longitude": 2.0}),
		version("loc", 2, 2, OriginRemote, map[string]any{"latitude": 3.0, "longitude": 2.0}),
	)
	unsub()
	r.Detect(
		version("p", 1, 1, OriginLocal, map[string]any{"bio": "a"}),
		version("p", 2, 2, OriginRemote, map[string]any{"bio": "b"}),
	)

	if !slices.Equal(seen, []string{"loc"}) {
		t.Errorf("listener saw %v, want [loc]", seen)
	}
	if got := r.ByType(TypeLocation); len(got) != 1 || got[0].ID != "loc" {
		t.Errorf("ByType(location) = %+v", got)
	}
	r.Clear()
	if len(r.Pending()) != 0 {
		t.Error("Clear left conflicts pending")
	}
}

func TestParseStrategy(t *testing.T) {
	for _, s := range []string{"local-wins", "remote-wins", "latest-wins", "merge", "manual"} {
		if _, err := ParseStrategy(s); err != nil {
			t.Errorf("ParseStrategy(%q): %v", s, err)
		}
	}
	if _, err := ParseStrategy("coin-flip"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}
