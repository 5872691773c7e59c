// Package intent implements the intent data model, its lifecycle state
// machine, a registry of pluggable kinds, an in-memory store, the
// propose/classify/gate pipeline, and the default observation-to-intent
// generator.
package intent

import (
	"time"

	"github.com/google/uuid"
)

// State is a position in the intent lifecycle state machine.
type State string

const (
	StateProposed         State = "proposed"
	StateClassified       State = "classified"
	StateAwaitingApproval State = "awaiting_approval"
	StateApproved         State = "approved"
	StateRunning          State = "running"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
	StateRejected         State = "rejected"
	StateCanceled         State = "canceled"
	StateBlocked          State = "blocked"
	StateWaitingForInput  State = "waiting_for_input"
)

// SourceType identifies what originated an intent.
type SourceType string

const (
	SourceSprite   SourceType = "sprite"
	SourceAgent    SourceType = "agent"
	SourceCron     SourceType = "cron"
	SourceOperator SourceType = "operator"
	SourceWebhook  SourceType = "webhook"
)

// Source identifies what originated an intent.
type Source struct {
	Type SourceType
	ID   string
}

// Classification mirrors safety.Classification without importing the
// safety package, keeping the intent model free of a dependency on the
// gate's configuration types.
type Classification string

const (
	ClassificationSafe       Classification = "safe"
	ClassificationControlled Classification = "controlled"
	ClassificationDangerous  Classification = "dangerous"
)

// Step is one unit of work inside a Plan.
type Step struct {
	ID          string
	Description string
	Skill       string
	Inputs      map[string]any
	Status      StepStatus
	Output      any
}

// StepStatus is a Step's execution state.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// PlanSource identifies who authored a plan.
type PlanSource string

const (
	PlanSourceAgent    PlanSource = "agent"
	PlanSourceOperator PlanSource = "operator"
	PlanSourceSystem   PlanSource = "system"
)

// Plan is the ordered set of steps attached to an action intent.
type Plan struct {
	Title            string
	Steps            []Step
	Source           PlanSource
	Version          int
	RenderedMarkdown string
}

// Artifact is an append-only record attached to an intent. Artifacts
// are held in Intent.Artifacts, not inside Metadata.
type Artifact struct {
	Type    string
	Data    any
	AddedAt time.Time
}

// TransitionEntry is one append-only record of the intent's transition
// log.
type TransitionEntry struct {
	From      State
	To        State
	Actor     string
	Reason    string
	Timestamp time.Time
}

// Intent is the full data model for one proposed or in-flight action.
type Intent struct {
	ID     string
	Kind   string
	Source Source
	State  State

	Summary              string
	Payload              map[string]any
	AffectedResources    []string
	ExpectedSideEffects  []string
	RollbackStrategy     string
	Plan                 *Plan
	RollbackFor          string

	Classification Classification

	Metadata  map[string]any
	Artifacts []Artifact
	Result    any

	TransitionLog []TransitionEntry

	InsertedAt    time.Time
	UpdatedAt     time.Time
	ClassifiedAt  *time.Time
	ApprovedAt    *time.Time
}

// NewID generates an id with the fixed "int_" prefix.
func NewID() string {
	return "int_" + uuid.NewString()
}

// isFrozen reports whether an intent in state s has its frozen fields
// (payload, affected_resources, expected_side_effects,
// rollback_strategy, plan) locked: State >= Approved in lifecycle order (i.e. approved, running,
// completed, failed, blocked, waiting_for_input — anything but the
// pre-approval states and the off-path awaiting_approval/rejected/
// canceled terminals entered before approval).
func isFrozen(s State) bool {
	switch s {
	case StateApproved, StateRunning, StateCompleted, StateFailed, StateBlocked, StateWaitingForInput:
		return true
	default:
		return false
	}
}
