// Package sprite implements the pure sprite state model (backoff math,
// health derivation, tag mutation) and the per-sprite supervised process
// that owns it.
package sprite

import (
	"math/rand"
	"time"
)

// Status is the current API-reported lifecycle state of a sprite.
type Status string

const (
	StatusCold    Status = "cold"
	StatusWarm    Status = "warm"
	StatusRunning Status = "running"
)

// Health is the derived health band, recomputed after every
// reconciliation cycle.
type Health string

const (
	HealthOK         Health = "ok"
	HealthConverging Health = "converging"
	HealthDegraded   Health = "degraded"
	HealthError      Health = "error"
)

// State is the pure, owning-process-only data for one sprite. No field
// here is mutated except from inside the sprite's own Process goroutine.
type State struct {
	ID   string
	Name string

	Status Status
	// DesiredState carries the optional hibernating..error lineage
	// named in the source as a second concurrent model; Lattice treats
	// the Status-based model as primary (see DESIGN.md's Open Question
	// decision) and exposes DesiredState only for callers that use
	// SetDesiredState to steer reconciliation toward a target state.
	DesiredState *string

	BaseBackoffMs  int64
	MaxBackoffMs   int64
	BackoffMs      int64
	FailureCount   int
	NotFoundCount  int
	MaxRetries     int

	Tags map[string]string

	StartedAt      time.Time
	UpdatedAt      time.Time
	LastObservedAt time.Time

	CreatedAt     *time.Time
	APIUpdatedAt  *time.Time
	LastStartedAt *time.Time
	LastActiveAt  *time.Time

	Health Health
}

// Options configures a newly-created sprite state.
type Options struct {
	Name          string
	BaseBackoffMs int64
	MaxBackoffMs  int64
	MaxRetries    int
}

// New constructs a fresh sprite state in the cold status with zeroed
// backoff fields.
func New(id string, opts Options) *State {
	now := time.Now().UTC()
	return &State{
		ID:            id,
		Name:          opts.Name,
		Status:        StatusCold,
		BaseBackoffMs: opts.BaseBackoffMs,
		MaxBackoffMs:  opts.MaxBackoffMs,
		BackoffMs:     opts.BaseBackoffMs,
		MaxRetries:    opts.MaxRetries,
		Tags:          map[string]string{},
		StartedAt:     now,
		UpdatedAt:     now,
		Health:        HealthOK,
	}
}

// UpdateStatus sets the status and refreshes UpdatedAt.
func (s *State) UpdateStatus(status Status) {
	s.Status = status
	s.touch()
}

// RecordFailure increments the failure count and recomputes backoff as
// min(base * 2^(n-1), max).
func (s *State) RecordFailure() {
	s.FailureCount++
	s.BackoffMs = nextBackoff(s.BaseBackoffMs, s.MaxBackoffMs, s.FailureCount)
	s.touch()
}

func nextBackoff(base, max int64, failureCount int) int64 {
	if failureCount < 1 {
		failureCount = 1
	}
	backoff := base << uint(failureCount-1) //nolint:gosec // failureCount is bounded by max_retries in practice
	if base == 0 {
		backoff = 0
	}
	if max > 0 && backoff > max {
		return max
	}
	return backoff
}

// ResetBackoff clears the failure count and returns backoff to the base
// value. reset_backoff ∘ record_failure^n is state-equivalent to
// reset_backoff for the backoff fields, for any n.
func (s *State) ResetBackoff() {
	s.FailureCount = 0
	s.BackoffMs = s.BaseBackoffMs
	s.touch()
}

// SetTags atomically replaces the tag set.
func (s *State) SetTags(tags map[string]string) {
	replacement := make(map[string]string, len(tags))
	for k, v := range tags {
		replacement[k] = v
	}
	s.Tags = replacement
	s.touch()
}

// RecordObservation timestamps the last successful API read and resets
// the not-found counter.
func (s *State) RecordObservation() {
	s.LastObservedAt = time.Now().UTC()
	s.NotFoundCount = 0
	s.touch()
}

// RecordNotFound increments the not-found counter. Returns the new
// count so the caller can decide whether this is a confirmed deletion
// (two consecutive not-founds).
func (s *State) RecordNotFound() int {
	s.NotFoundCount++
	s.touch()
	return s.NotFoundCount
}

// BackoffWithJitter returns the current backoff perturbed by up to ±25%,
// floored at zero.
func (s *State) BackoffWithJitter() time.Duration {
	return jitter(s.BackoffMs)
}

func jitter(backoffMs int64) time.Duration {
	if backoffMs <= 0 {
		return 0
	}
	spread := float64(backoffMs) * 0.25
	delta := (rand.Float64()*2 - 1) * spread //nolint:gosec // jitter doesn't need crypto-grade randomness
	result := float64(backoffMs) + delta
	if result < 0 {
		result = 0
	}
	return time.Duration(result) * time.Millisecond
}

// APITimestamps carries the mirrored API-side timestamps used by
// UpdateAPITimestamps; nil fields leave the existing value untouched.
type APITimestamps struct {
	CreatedAt     *time.Time
	UpdatedAt     *time.Time
	LastStartedAt *time.Time
	LastActiveAt  *time.Time
}

// UpdateAPITimestamps copies any non-nil fields from ts onto the state,
// leaving fields Lattice has no fresher value for untouched.
func (s *State) UpdateAPITimestamps(ts APITimestamps) {
	if ts.CreatedAt != nil {
		s.CreatedAt = ts.CreatedAt
	}
	if ts.UpdatedAt != nil {
		s.APIUpdatedAt = ts.UpdatedAt
	}
	if ts.LastStartedAt != nil {
		s.LastStartedAt = ts.LastStartedAt
	}
	if ts.LastActiveAt != nil {
		s.LastActiveAt = ts.LastActiveAt
	}
	s.touch()
}

// DeriveHealth computes the health band per spec's rule:
// ok if observed matches desired and no failures; converging if they
// differ with no failures; degraded while 0 < failures < maxRetries;
// error once failures reach maxRetries.
func (s *State) DeriveHealth(observedMatchesDesired bool) Health {
	switch {
	case s.FailureCount >= s.MaxRetries && s.MaxRetries >= 0:
		if s.FailureCount == 0 {
			break // maxRetries == 0 edge case handled below
		}
		return HealthError
	}
	if s.MaxRetries == 0 && s.FailureCount > 0 {
		return HealthError
	}
	switch {
	case s.FailureCount == 0 && observedMatchesDesired:
		return HealthOK
	case s.FailureCount == 0 && !observedMatchesDesired:
		return HealthConverging
	case s.FailureCount > 0 && s.FailureCount < s.MaxRetries:
		return HealthDegraded
	default:
		return HealthError
	}
}

func (s *State) touch() {
	s.UpdatedAt = time.Now().UTC()
}

// Snapshot is an immutable copy of State safe to hand to other
// goroutines (e.g. fleet_summary consumers) without risking a data race
// with the owning Process goroutine.
type Snapshot struct {
	ID             string
	Name           string
	Status         Status
	Health         Health
	FailureCount   int
	BackoffMs      int64
	Tags           map[string]string
	UpdatedAt      time.Time
	LastObservedAt time.Time
}

// Snapshot copies the fields external callers may read.
func (s *State) Snapshot() Snapshot {
	tags := make(map[string]string, len(s.Tags))
	for k, v := range s.Tags {
		tags[k] = v
	}
	return Snapshot{
		ID:             s.ID,
		Name:           s.Name,
		Status:         s.Status,
		Health:         s.Health,
		FailureCount:   s.FailureCount,
		BackoffMs:      s.BackoffMs,
		Tags:           tags,
		UpdatedAt:      s.UpdatedAt,
		LastObservedAt: s.LastObservedAt,
	}
}
