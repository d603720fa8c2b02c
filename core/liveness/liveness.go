package liveness

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/openwash/fleetd/core/model"
)

// OfflineThreshold is how stale a state report may be before the
// device counts as offline. The "2 minutes ago" display bucket and
// this threshold are deliberately the same boundary.
const OfflineThreshold = 120_000 * time.Millisecond

// Snapshot is the derived liveness judgment for one device. It is
// time-relative and recomputed on demand, never cached.
type Snapshot struct {
	Offline    bool   `json:"is_offline"`
	LastSeenMS *int64 `json:"last_seen_ms"`
	Age        string `json:"human_readable_age"`
}

// Tracker evaluates device liveness from the most recent state report.
// Now is swappable for tests; the zero Tracker uses the wall clock and
// the default OfflineThreshold.
type Tracker struct {
	Now       func() time.Time
	Threshold time.Duration
}

func (t Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Evaluate derives the liveness snapshot for the device.
//
// The device is offline when the reported operational status is
// anything other than "normal", when no last-seen instant can be
// extracted, or when the report is older than OfflineThreshold
// (a report exactly at the threshold is already offline).
// Administrative status (DEPLOYED/DISABLED) never enters this
// judgment.
func (t Tracker) Evaluate(d model.Device) Snapshot {
	now := t.now()

	if status, ok := operationalStatus(d.LastState); ok && !strings.EqualFold(status, "normal") {
		snap := Snapshot{Offline: true, Age: "unknown"}
		if ts, ok := lastSeen(d.LastState); ok {
			ms := now.Sub(ts).Milliseconds()
			snap.LastSeenMS = &ms
			snap.Age = HumanAge(ms)
		}
		return snap
	}

	ts, ok := lastSeen(d.LastState)
	if !ok {
		return Snapshot{Offline: true, LastSeenMS: nil, Age: "unknown"}
	}
	ms := now.Sub(ts).Milliseconds()
	return Snapshot{
		Offline:    ms >= t.threshold().Milliseconds(),
		LastSeenMS: &ms,
		Age:        HumanAge(ms),
	}
}

func (t Tracker) threshold() time.Duration {
	if t.Threshold > 0 {
		return t.Threshold
	}
	return OfflineThreshold
}

// operationalStatus pulls the status string out of a state report.
func operationalStatus(state map[string]any) (string, bool) {
	if state == nil {
		return "", false
	}
	s, ok := state["status"].(string)
	return s, ok && s != ""
}

// lastSeen extracts the report instant. A finite numeric "timestamp"
// field (epoch milliseconds) wins; otherwise a "datetime" string is
// parsed with "-" date separators normalized to "/". First successful
// parse wins.
func lastSeen(state map[string]any) (time.Time, bool) {
	if state == nil {
		return time.Time{}, false
	}
	if v, ok := state["timestamp"]; ok {
		if ms, ok := asFinite(v); ok {
			return time.UnixMilli(int64(ms)), true
		}
	}
	if raw, ok := state["datetime"].(string); ok {
		normalized := strings.ReplaceAll(raw, "-", "/")
		for _, layout := range datetimeLayouts {
			if ts, err := time.Parse(layout, normalized); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

var datetimeLayouts = []string{
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006/01/02T15:04:05Z07:00",
	"2006/01/02",
}

func asFinite(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// HumanAge renders an age in milliseconds at the coarsest sensible
// unit, floor-divided: seconds under a minute, minutes under an hour,
// hours under a day, days beyond.
func HumanAge(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	secs := ms / 1000
	switch {
	case secs < 60:
		return fmt.Sprintf("%d seconds ago", secs)
	case secs < 3600:
		return fmt.Sprintf("%d minutes ago", secs/60)
	case secs < 86400:
		return fmt.Sprintf("%d hours ago", secs/3600)
	default:
		return fmt.Sprintf("%d days ago", secs/86400)
	}
}
