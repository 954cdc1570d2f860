// Package netstatus tracks device connectivity and link quality for the
// sync engine.
package netstatus

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EffectiveType is the coarse link class reported by the environment.
// The empty value means the environment gave no quality hint.
type EffectiveType string

const (
	Type4G     EffectiveType = "4g"
	Type3G     EffectiveType = "3g"
	Type2G     EffectiveType = "2g"
	TypeSlow2G EffectiveType = "slow-2g"
)

func (t EffectiveType) valid() bool {
	switch t {
	case Type4G, Type3G, Type2G, TypeSlow2G:
		return true
	}
	return false
}

// Status is a point-in-time connectivity snapshot. Zero optional fields
// mean "unknown", not "zero".
type Status struct {
	IsOnline      bool          `json:"isOnline"`
	EffectiveType EffectiveType `json:"effectiveType,omitempty"`
	Downlink      float64       `json:"downlink,omitempty"` // Mbps
	RTT           time.Duration `json:"rtt,omitempty"`
	SaveData      bool          `json:"saveData,omitempty"`
}

func (s Status) String() string {
	var b strings.Builder
	if s.IsOnline {
		b.WriteString("online")
	} else {
		b.WriteString("offline")
	}
	if s.EffectiveType != "" {
		b.WriteString(" " + string(s.EffectiveType))
	}
	if s.Downlink > 0 {
		b.WriteString(" downlink=" + strconv.FormatFloat(s.Downlink, 'f', -1, 64))
	}
	if s.RTT > 0 {
		b.WriteString(" rtt=" + s.RTT.String())
	}
	if s.SaveData {
		b.WriteString(" save-data")
	}
	return b.String()
}

// ParseStatus parses the textual form produced by Status.String, e.g.
// "online 4g rtt=80ms" or "offline".
func ParseStatus(text string) (Status, error) {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return Status{}, fmt.Errorf("empty network status")
	}
	var s Status
	switch fields[0] {
	case "online", "up":
		s.IsOnline = true
	case "offline", "down":
	default:
		return Status{}, fmt.Errorf("invalid connectivity %q: want online or offline", fields[0])
	}
	for _, f := range fields[1:] {
		key, value, hasValue := strings.Cut(f, "=")
		switch {
		case !hasValue && EffectiveType(f).valid():
			s.EffectiveType = EffectiveType(f)
		case !hasValue && f == "save-data":
			s.SaveData = true
		case key == "downlink":
			v, err := strconv.ParseFloat(value, 64)
			if err != nil || v < 0 {
				return Status{}, fmt.Errorf("invalid downlink %q", value)
			}
			s.Downlink = v
		case key == "rtt":
			d, err := time.ParseDuration(value)
			if err != nil || d < 0 {
				return Status{}, fmt.Errorf("invalid rtt %q", value)
			}
			s.RTT = d
		default:
			return Status{}, fmt.Errorf("unknown network status token %q", f)
		}
	}
	return s, nil
}
