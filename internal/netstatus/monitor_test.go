package netstatus

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/offsync/internal/bus"
)

type recorder struct {
	mu  sync.Mutex
	got []Status
}

func (r *recorder) add(s Status) {
	r.mu.Lock()
	r.got = append(r.got, s)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.got...)
}

func TestSubscribeFiresImmediately(t *testing.T) {
	m := NewMonitor(Status{IsOnline: true, EffectiveType: Type3G}, nil, zap.NewNop())
	var r recorder
	unsub := m.Subscribe(r.add)
	defer unsub()

	got := r.snapshot()
	if len(got) != 1 || !got[0].IsOnline || got[0].EffectiveType != Type3G {
		t.Fatalf("immediate delivery = %+v", got)
	}
}

func TestReportDeliversTransitionsInOrder(t *testing.T) {
	m := NewMonitor(Status{IsOnline: true}, nil, nil)
	var a, b recorder
	m.Subscribe(a.add)
	m.Subscribe(b.add)

	m.Report(Status{IsOnline: false})
	m.Report(Status{IsOnline: false}) // identical, not re-delivered
	m.Report(Status{IsOnline: true, EffectiveType: Type4G})
	m.Report(Status{IsOnline: true, EffectiveType: Type2G})

	want := []Status{
		{IsOnline: true},
		{IsOnline: false},
		{IsOnline: true, EffectiveType: Type4G},
		{IsOnline: true, EffectiveType: Type2G},
	}
	for name, r := range map[string]*recorder{"a": &a, "b": &b} {
		got := r.snapshot()
		if len(got) != len(want) {
			t.Fatalf("%s: got %d events %+v, want %d", name, len(got), got, len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("%s[%d] = %+v, want %+v", name, i, got[i], want[i])
			}
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	m := NewMonitor(Status{}, nil, nil)
	var r recorder
	unsub := m.Subscribe(r.add)
	unsub()
	m.Report(Status{IsOnline: true})
	if got := r.snapshot(); len(got) != 1 {
		t.Errorf("events after unsubscribe = %+v", got)
	}
}

func TestPanickingListenerDoesNotBlockOthers(t *testing.T) {
	m := NewMonitor(Status{}, nil, nil)
	m.Subscribe(func(s Status) {
		if s.IsOnline {
			panic("listener bug")
		}
	})
	var r recorder
	m.Subscribe(r.add)

	m.Report(Status{IsOnline: true})
	if got := r.snapshot(); len(got) != 2 || !got[1].IsOnline {
		t.Errorf("events = %+v", got)
	}
}

func TestQualityHelpers(t *testing.T) {
	tests := []struct {
		status   Status
		high     bool
		dataSave bool
	}{
		{Status{}, false, false},
		{Status{IsOnline: true}, true, false},
		{Status{IsOnline: true, EffectiveType: Type4G}, true, false},
		{Status{IsOnline: true, EffectiveType: Type3G, SaveData: true}, false, true},
		{Status{IsOnline: false, EffectiveType: Type4G}, false, false},
	}
	for _, tt := range tests {
		m := NewMonitor(tt.status, nil, nil)
		if got := m.IsHighQuality(); got != tt.high {
			t.Errorf("%v IsHighQuality = %v, want %v", tt.status, got, tt.high)
		}
		if got := m.IsDataSaver(); got != tt.dataSave {
			t.Errorf("%v IsDataSaver = %v, want %v", tt.status, got, tt.dataSave)
		}
	}
}

func TestSetOnline(t *testing.T) {
	m := NewMonitor(Status{IsOnline: true, EffectiveType: Type3G}, nil, nil)
	m.SetOnline(false)
	if got := m.Status(); got != (Status{}) {
		t.Errorf("offline status = %+v, want zero", got)
	}
	m.SetOnline(true)
	if !m.IsOnline() {
		t.Error("expected online")
	}
	if m.Status().EffectiveType != "" {
		t.Errorf("effective type should be unknown after bare online, got %q", m.Status().EffectiveType)
	}
}

func TestReportPublishesOnBus(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("network.", 4)
	defer unsub()

	m := NewMonitor(Status{}, b, nil)
	m.Report(Status{IsOnline: true})

	select {
	case evt := <-ch:
		s, ok := evt.Payload.(Status)
		if !ok || !s.IsOnline {
			t.Errorf("payload = %#v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for network event")
	}
}

func TestDestroyDropsListeners(t *testing.T) {
	m := NewMonitor(Status{}, nil, nil)
	var r recorder
	m.Subscribe(r.add)
	m.Destroy()
	m.Destroy()
	m.Report(Status{IsOnline: true})
	if got := r.snapshot(); len(got) != 1 {
		t.Errorf("events after destroy = %+v", got)
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"offline", Status{}, false},
		{"online", Status{IsOnline: true}, false},
		{"ONLINE 4G\n", Status{IsOnline: true, EffectiveType: Type4G}, false},
		{"online slow-2g downlink=0.4 rtt=2s save-data", Status{IsOnline: true, EffectiveType: TypeSlow2G, Downlink: 0.4, RTT: 2 * time.Second, SaveData: true}, false},
		{"", Status{}, true},
		{"maybe", Status{}, true},
		{"online 5g", Status{}, true},
		{"online rtt=fast", Status{}, true},
	}
	for _, tt := range tests {
		got, err := ParseStatus(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseStatus(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseStatus(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestStatusStringRoundTrip(t *testing.T) {
	s := Status{IsOnline: true, EffectiveType: Type3G, Downlink: 1.5, RTT: 300 * time.Millisecond, SaveData: true}
	got, err := ParseStatus(s.String())
	if err != nil {
		t.Fatal(err)
	}
	if got != s {
		t.Errorf("round trip = %+v, want %+v", got, s)
	}
}

func TestFileSourceReportsChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "network")
	if err := WriteStatusFile(path, Status{IsOnline: true, EffectiveType: Type4G}); err != nil {
		t.Fatal(err)
	}

	m := NewMonitor(Status{}, nil, nil)
	changes := make(chan Status, 8)
	m.Subscribe(func(s Status) { changes <- s })
	<-changes // immediate

	src := NewFileSource(path, zap.NewNop())
	if err := m.Attach(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	defer m.Destroy()

	waitFor := func(want Status) {
		t.Helper()
		deadline := time.After(3 * time.Second)
		for {
			select {
			case s := <-changes:
				if s == want {
					return
				}
			case <-deadline:
				t.Fatalf("timeout waiting for %+v (current %+v)", want, m.Status())
			}
		}
	}

	waitFor(Status{IsOnline: true, EffectiveType: Type4G})

	if err := WriteStatusFile(path, Status{}); err != nil {
		t.Fatal(err)
	}
	waitFor(Status{})
}
