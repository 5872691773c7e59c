// Package incidents provides a read-only projection over live fleet
// events: flapping detection and backoff-saturation tracking for the
// incidents view. It holds no persisted history and generates no
// postmortem artifacts — both are dashboard/reporting concerns out of
// scope here.
package incidents

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Severity mirrors the P1..P4 scale used elsewhere in the corpus, kept
// here only as a classification hint for the dashboard — detection
// itself doesn't gate on it.
type Severity string

const (
	SeverityP2 Severity = "P2" // flapping
	SeverityP3 Severity = "P3" // backoff saturation
)

// FlapWindow is the sliding window flapping is measured over.
const FlapWindow = 5 * time.Minute

// FlapThreshold is the transition count that must be exceeded within
// FlapWindow for flapping to be signalled (more than FlapThreshold).
const FlapThreshold = 3

// Signal is a detected condition surfaced to the incidents view.
type Signal struct {
	SpriteID  string
	Kind      string // "flapping" | "backoff_saturated"
	Severity  Severity
	Detail    string
	DetectedAt time.Time
}

type transition struct {
	at time.Time
}

// Detector consumes state_change and health_update messages pushed to
// it by a subscriber and keeps a rolling per-sprite transition window
// in memory.
type Detector struct {
	mu          sync.Mutex
	transitions map[string][]transition
	saturated   map[string]bool
	logger      *zap.Logger
}

// New constructs an empty detector.
func New(logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		transitions: make(map[string][]transition),
		saturated:   make(map[string]bool),
		logger:      logger,
	}
}

// RecordStateChange registers one observed state transition for
// spriteID at the given time, pruning entries outside FlapWindow.
func (d *Detector) RecordStateChange(spriteID string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := at.Add(-FlapWindow)
	kept := d.transitions[spriteID][:0]
	for _, t := range d.transitions[spriteID] {
		if t.at.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, transition{at: at})
	d.transitions[spriteID] = kept
}

// RecordBackoffSaturation marks spriteID as having exhausted its
// retry budget (health == error). Cleared by RecordRecovered.
func (d *Detector) RecordBackoffSaturation(spriteID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.saturated[spriteID] = true
}

// RecordRecovered clears any backoff-saturation mark for spriteID.
func (d *Detector) RecordRecovered(spriteID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.saturated, spriteID)
}

// Signals returns the currently active incident signals across the
// fleet, evaluated as of now.
func (d *Detector) Signals(now time.Time) []Signal {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Signal
	cutoff := now.Add(-FlapWindow)
	for spriteID, ts := range d.transitions {
		count := 0
		for _, t := range ts {
			if t.at.After(cutoff) {
				count++
			}
		}
		if count > FlapThreshold {
			out = append(out, Signal{
				SpriteID:   spriteID,
				Kind:       "flapping",
				Severity:   SeverityP2,
				Detail:     flappingDetail(count),
				DetectedAt: now,
			})
		}
	}
	for spriteID := range d.saturated {
		out = append(out, Signal{
			SpriteID:   spriteID,
			Kind:       "backoff_saturated",
			Severity:   SeverityP3,
			Detail:     "retry budget exhausted, health is error",
			DetectedAt: now,
		})
	}
	return out
}

func flappingDetail(count int) string {
	return fmt.Sprintf("%d transitions in the last 5 minutes", count)
}
