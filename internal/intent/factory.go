package intent

import "fmt"

func newBase(kind string, source Source) *Intent {
	return &Intent{
		ID:       NewID(),
		Kind:     kind,
		Source:   source,
		State:    StateProposed,
		Payload:  map[string]any{},
		Metadata: map[string]any{},
	}
}

// NewAction builds an "action" intent. summary, payload,
// affectedResources, and expectedSideEffects are all required by the
// action kind's definition.
func NewAction(source Source, summary string, payload map[string]any, affectedResources, expectedSideEffects []string) (*Intent, error) {
	if summary == "" {
		return nil, fmt.Errorf("action intent: %w: summary", ErrMissingField)
	}
	if len(affectedResources) == 0 {
		return nil, fmt.Errorf("action intent: %w: affected_resources", ErrMissingField)
	}
	if len(expectedSideEffects) == 0 {
		return nil, fmt.Errorf("action intent: %w: expected_side_effects", ErrMissingField)
	}
	if payload == nil {
		return nil, fmt.Errorf("action intent: %w: payload", ErrMissingField)
	}
	in := newBase("action", source)
	in.Summary = summary
	in.Payload = payload
	in.AffectedResources = affectedResources
	in.ExpectedSideEffects = expectedSideEffects
	return in, nil
}

// NewInquiry builds an "inquiry" intent.
func NewInquiry(source Source, whatRequested, whyNeeded, scopeOfImpact string, expiration any) (*Intent, error) {
	if whatRequested == "" {
		return nil, fmt.Errorf("inquiry intent: %w: what_requested", ErrMissingField)
	}
	if whyNeeded == "" {
		return nil, fmt.Errorf("inquiry intent: %w: why_needed", ErrMissingField)
	}
	if scopeOfImpact == "" {
		return nil, fmt.Errorf("inquiry intent: %w: scope_of_impact", ErrMissingField)
	}
	if expiration == nil {
		return nil, fmt.Errorf("inquiry intent: %w: expiration", ErrMissingField)
	}
	in := newBase("inquiry", source)
	in.Summary = whatRequested
	in.Payload = map[string]any{
		"what_requested":  whatRequested,
		"why_needed":      whyNeeded,
		"scope_of_impact": scopeOfImpact,
		"expiration":      expiration,
	}
	return in, nil
}

// NewMaintenance builds a "maintenance" intent.
func NewMaintenance(source Source, summary string, payload map[string]any) (*Intent, error) {
	if summary == "" {
		return nil, fmt.Errorf("maintenance intent: %w: summary", ErrMissingField)
	}
	in := newBase("maintenance", source)
	in.Summary = summary
	in.Payload = payload
	return in, nil
}

// NewTask builds an "action" intent shaped as a task dispatch against a
// named sprite, auto-filling affected_resources from the sprite name
// and repo.
func NewTask(source Source, spriteName, repo, taskKind, instructions string, extra map[string]any) (*Intent, error) {
	payload := map[string]any{
		"capability":   "sprites",
		"operation":    "run_task",
		"sprite_name":  spriteName,
		"repo":         repo,
		"task_kind":    taskKind,
		"instructions": instructions,
	}
	for k, v := range extra {
		payload[k] = v
	}
	affected := []string{"sprite:" + spriteName, "repo:" + repo}
	sideEffects := []string{fmt.Sprintf("runs %q against sprite %s", taskKind, spriteName)}
	return NewAction(source, fmt.Sprintf("run %s on %s", taskKind, spriteName), payload, affected, sideEffects)
}

// ErrMissingField is wrapped by factory errors naming the specific
// missing field.
var ErrMissingField = fmt.Errorf("missing required field")
