package intent

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lattice-run/lattice/internal/audit"
	"github.com/lattice-run/lattice/internal/events"
)

// ErrAlreadyExists is returned by Create on a duplicate id.
var ErrAlreadyExists = fmt.Errorf("intent: already exists")

// ErrNotFound is returned when an id has no matching intent.
var ErrNotFound = fmt.Errorf("intent: not found")

// ErrInvalidLifecycle is returned when an update targets a nonexistent
// state value.
type ErrInvalidLifecycle struct{ State string }

func (e *ErrInvalidLifecycle) Error() string {
	return fmt.Sprintf("invalid lifecycle state: %s", e.State)
}

// Filter narrows a List query.
type Filter struct {
	Kind       string
	State      State
	SourceType SourceType
	Since      time.Time
	Until      time.Time
}

// Patch describes a requested mutation to Store.Update. A nil State
// leaves the lifecycle state untouched (useful for metadata-only
// patches). On a frozen intent, a patch that sets any frozen field is
// rejected whole with ErrImmutable; otherwise every set field applies.
type Patch struct {
	State               *State
	Actor               string
	Reason              string
	Summary             *string
	Classification      *Classification
	Metadata            map[string]any
	Result              any
	Payload             map[string]any
	AffectedResources   []string
	ExpectedSideEffects []string
	RollbackStrategy    *string
	Plan                *Plan
}

// Store is the in-memory, full-index intent store.
type Store struct {
	mu       sync.RWMutex
	intents  map[string]*Intent
	bus      *events.Bus
	auditLog *audit.Log
}

// NewStore constructs an empty intent store.
func NewStore(bus *events.Bus, auditLog *audit.Log) *Store {
	return &Store{
		intents:  make(map[string]*Intent),
		bus:      bus,
		auditLog: auditLog,
	}
}

// Create persists a new intent and emits intent_created.
func (s *Store) Create(in *Intent) error {
	s.mu.Lock()
	if _, exists := s.intents[in.ID]; exists {
		s.mu.Unlock()
		return ErrAlreadyExists
	}
	now := time.Now().UTC()
	in.InsertedAt = now
	in.UpdatedAt = now
	s.intents[in.ID] = in
	s.mu.Unlock()

	s.bus.Publish("intents:all", events.Message{Kind: "intent_created", Payload: cloneIntent(in), Timestamp: now})
	s.bus.Publish("intents:"+in.ID, events.Message{Kind: "intent_created", Payload: cloneIntent(in), Timestamp: now})
	s.recordAudit(in, "create", audit.ResultOK, "")
	return nil
}

// Get returns a copy of the intent with the given id.
func (s *Store) Get(id string) (*Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneIntent(in), nil
}

// List returns intents matching filter, sorted by InsertedAt ascending.
func (s *Store) List(filter Filter) []*Intent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Intent, 0, len(s.intents))
	for _, in := range s.intents {
		if filter.Kind != "" && in.Kind != filter.Kind {
			continue
		}
		if filter.State != "" && in.State != filter.State {
			continue
		}
		if filter.SourceType != "" && in.Source.Type != filter.SourceType {
			continue
		}
		if !filter.Since.IsZero() && in.InsertedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && in.InsertedAt.After(filter.Until) {
			continue
		}
		out = append(out, cloneIntent(in))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InsertedAt.Before(out[j].InsertedAt) })
	return out
}

// GetHistory returns the ordered transition log for an intent.
func (s *Store) GetHistory(id string) ([]TransitionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]TransitionEntry, len(in.TransitionLog))
	copy(out, in.TransitionLog)
	return out, nil
}

// Update applies patch to the intent, driving a lifecycle transition
// when patch.State is set, enforcing frozen-field rules, appending a
// transition entry, refreshing UpdatedAt, and emitting telemetry plus
// the state-specific publish.
func (s *Store) Update(id string, patch Patch) (*Intent, error) {
	s.mu.Lock()
	in, ok := s.intents[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	frozen := isFrozen(in.State)
	if frozen {
		if patch.Payload != nil || patch.AffectedResources != nil || patch.ExpectedSideEffects != nil ||
			patch.RollbackStrategy != nil || patch.Plan != nil {
			s.mu.Unlock()
			return nil, ErrImmutable
		}
	}

	from := in.State
	var to State
	transitioning := patch.State != nil
	if transitioning {
		to = *patch.State
		if err := CheckTransition(from, to); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		in.State = to
		now := time.Now().UTC()
		if to == StateClassified {
			in.ClassifiedAt = &now
		}
		if to == StateApproved {
			in.ApprovedAt = &now
		}
		in.TransitionLog = append(in.TransitionLog, TransitionEntry{
			From: from, To: to, Actor: patch.Actor, Reason: patch.Reason, Timestamp: now,
		})
	}

	if patch.Summary != nil {
		in.Summary = *patch.Summary
	}
	if patch.Classification != nil {
		in.Classification = *patch.Classification
	}
	if patch.Metadata != nil {
		if in.Metadata == nil {
			in.Metadata = map[string]any{}
		}
		for k, v := range patch.Metadata {
			in.Metadata[k] = v
		}
	}
	if patch.Result != nil {
		in.Result = patch.Result
	}
	if !frozen {
		if patch.Payload != nil {
			in.Payload = patch.Payload
		}
		if patch.AffectedResources != nil {
			in.AffectedResources = patch.AffectedResources
		}
		if patch.ExpectedSideEffects != nil {
			in.ExpectedSideEffects = patch.ExpectedSideEffects
		}
		if patch.RollbackStrategy != nil {
			in.RollbackStrategy = *patch.RollbackStrategy
		}
		if patch.Plan != nil {
			in.Plan = patch.Plan
		}
	}
	in.UpdatedAt = time.Now().UTC()
	snapshot := cloneIntent(in)
	s.mu.Unlock()

	if transitioning {
		s.bus.Emit("intent", "transitioned", nil, map[string]any{"intent_id": id, "from": from, "to": to})
		s.bus.Publish("intents:all", events.Message{Kind: "intent_transitioned", Payload: snapshot, Timestamp: snapshot.UpdatedAt})
		s.bus.Publish("intents:"+id, events.Message{Kind: "intent_transitioned", Payload: snapshot, Timestamp: snapshot.UpdatedAt})
		s.bus.Publish("intents:all", events.Message{Kind: stateSpecificMessage(to), Payload: snapshot, Timestamp: snapshot.UpdatedAt})
	}
	s.recordAudit(snapshot, "update", audit.ResultOK, "")
	return snapshot, nil
}

func stateSpecificMessage(s State) string {
	return "intent_" + string(s)
}

// UpdatePlanStep updates one step's status (and optional output) even
// when the intent's plan is otherwise frozen, incrementing the plan
// version and re-rendering its markdown.
func (s *Store) UpdatePlanStep(id, stepID string, status StepStatus, output any) (*Intent, error) {
	s.mu.Lock()
	in, ok := s.intents[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if in.Plan == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("intent %s has no plan", id)
	}
	found := false
	for i := range in.Plan.Steps {
		if in.Plan.Steps[i].ID == stepID {
			in.Plan.Steps[i].Status = status
			if output != nil {
				in.Plan.Steps[i].Output = output
			}
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return nil, fmt.Errorf("intent %s has no step %s", id, stepID)
	}
	in.Plan.Version++
	in.Plan.RenderedMarkdown = renderPlanMarkdown(in.Plan)
	in.UpdatedAt = time.Now().UTC()
	snapshot := cloneIntent(in)
	s.mu.Unlock()

	s.recordAudit(snapshot, "update_plan_step", audit.ResultOK, "")
	return snapshot, nil
}

// AddArtifact appends an artifact to the intent's Artifacts list (kept
// beside Metadata, not inside it) and emits intent_artifact_added.
func (s *Store) AddArtifact(id string, artifact Artifact) (*Intent, error) {
	s.mu.Lock()
	in, ok := s.intents[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if artifact.AddedAt.IsZero() {
		artifact.AddedAt = time.Now().UTC()
	}
	in.Artifacts = append(in.Artifacts, artifact)
	in.UpdatedAt = time.Now().UTC()
	snapshot := cloneIntent(in)
	s.mu.Unlock()

	s.bus.Publish("intents:all", events.Message{
		Kind:      "intent_artifact_added",
		Payload:   map[string]any{"intent": snapshot, "artifact": artifact},
		Timestamp: snapshot.UpdatedAt,
	})
	s.recordAudit(snapshot, "add_artifact", audit.ResultOK, "")
	return snapshot, nil
}

func (s *Store) recordAudit(in *Intent, operation string, result audit.Result, errReason string) {
	if s.auditLog == nil {
		return
	}
	s.auditLog.Record("intents", operation, string(in.Classification), result, errReason, audit.ActorSystem, "", map[string]any{
		"intent_id": in.ID,
		"kind":      in.Kind,
		"state":     in.State,
	})
}

func renderPlanMarkdown(p *Plan) string {
	out := "## " + p.Title + "\n\n"
	for _, step := range p.Steps {
		marker := " "
		switch step.Status {
		case StepCompleted:
			marker = "x"
		case StepFailed:
			marker = "!"
		}
		out += fmt.Sprintf("- [%s] %s\n", marker, step.Description)
	}
	return out
}

func cloneIntent(in *Intent) *Intent {
	cp := *in
	cp.Payload = cloneMap(in.Payload)
	cp.Metadata = cloneMap(in.Metadata)
	cp.AffectedResources = append([]string(nil), in.AffectedResources...)
	cp.ExpectedSideEffects = append([]string(nil), in.ExpectedSideEffects...)
	cp.Artifacts = append([]Artifact(nil), in.Artifacts...)
	cp.TransitionLog = append([]TransitionEntry(nil), in.TransitionLog...)
	if in.Plan != nil {
		planCopy := *in.Plan
		planCopy.Steps = append([]Step(nil), in.Plan.Steps...)
		cp.Plan = &planCopy
	}
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
