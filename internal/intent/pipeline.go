package intent

import (
	"github.com/lattice-run/lattice/internal/safety"
)

// Classifier resolves a classification for a proposed intent. The
// pipeline first tries the intent's declared (capability, operation)
// payload fields through the safety classifier, falling back to the
// kind registry's default classification.
type Classifier interface {
	Classify(capability, operation string, args map[string]any) safety.Action
}

// Pipeline implements propose/classify/gate and the thin
// approve/reject/cancel wrappers.
type Pipeline struct {
	store          *Store
	registry       *Registry
	classifier     Classifier
	guardrails     safety.Guardrails
	autoRollback   bool
}

// NewPipeline constructs a pipeline bound to a store, kind registry,
// and safety classifier.
func NewPipeline(store *Store, registry *Registry, classifier Classifier, guardrails safety.Guardrails, autoRollback bool) *Pipeline {
	return &Pipeline{store: store, registry: registry, classifier: classifier, guardrails: guardrails, autoRollback: autoRollback}
}

// Propose runs the full propose/classify/gate sequence for a new
// intent: persist, classify, transition to classified, then gate into
// approved or awaiting_approval.
func (p *Pipeline) Propose(in *Intent) (*Intent, error) {
	if err := p.store.Create(in); err != nil {
		return nil, err
	}

	classification := p.classify(in)
	classifiedState := StateClassified
	updated, err := p.store.Update(in.ID, Patch{
		State:          &classifiedState,
		Actor:          "system",
		Reason:         "classified",
		Classification: &classification,
		Metadata:       map[string]any{"classification": classification},
	})
	if err != nil {
		return nil, err
	}

	repo := repoFromAffected(updated.AffectedResources)
	verdict := safety.Check(safety.Action{Classification: safety.Classification(classification)}, p.guardrails, repo)

	var target State
	var reason string
	switch verdict.Decision {
	case safety.DecisionAllow:
		target = StateApproved
	case safety.DecisionDenyApprovalRequired, safety.DecisionDenyNotPermitted:
		// action_not_permitted still routes to awaiting_approval so a
		// human can override policy; classification is preserved.
		target = StateAwaitingApproval
	default:
		target = StateAwaitingApproval
	}
	reason = verdict.Reason

	return p.store.Update(in.ID, Patch{State: &target, Actor: "system", Reason: reason})
}

func (p *Pipeline) classify(in *Intent) Classification {
	capability, _ := in.Payload["capability"].(string)
	operation, _ := in.Payload["operation"].(string)
	if capability != "" && operation != "" && p.classifier != nil {
		action := p.classifier.Classify(capability, operation, in.Payload)
		return Classification(action.Classification)
	}
	if command, ok := in.Payload["command"].(string); ok && command != "" {
		return Classification(safety.ClassifyCommand(command))
	}
	return p.registry.DefaultClassification(in.Kind)
}

func repoFromAffected(resources []string) string {
	const prefix = "repo:"
	for _, r := range resources {
		if len(r) > len(prefix) && r[:len(prefix)] == prefix {
			return r[len(prefix):]
		}
	}
	return ""
}

// Approve transitions an intent to approved.
func (p *Pipeline) Approve(id, actor, reason string) (*Intent, error) {
	s := StateApproved
	return p.store.Update(id, Patch{State: &s, Actor: actor, Reason: reason})
}

// Reject transitions an intent to rejected.
func (p *Pipeline) Reject(id, actor, reason string) (*Intent, error) {
	s := StateRejected
	return p.store.Update(id, Patch{State: &s, Actor: actor, Reason: reason})
}

// Cancel transitions an intent to canceled.
func (p *Pipeline) Cancel(id, actor, reason string) (*Intent, error) {
	s := StateCanceled
	return p.store.Update(id, Patch{State: &s, Actor: actor, Reason: reason})
}

// ProposeRollback proposes a rollback for a failed intent that carries a
// rollback_strategy; it is a no-op unless the pipeline was built with
// autoRollback set. No configuration option sets autoRollback, and
// nothing in this module calls ProposeRollback when an intent enters
// failed. It emits a new maintenance intent linked bidirectionally to
// the original.
func (p *Pipeline) ProposeRollback(original *Intent) (*Intent, error) {
	if !p.autoRollback || original.RollbackStrategy == "" {
		return nil, nil
	}
	rollback, err := NewMaintenance(Source{Type: SourceOperator, ID: "auto-rollback"},
		"rollback for "+original.ID,
		map[string]any{
			"strategy":           original.RollbackStrategy,
			"affected_resources": original.AffectedResources,
		})
	if err != nil {
		return nil, err
	}
	rollback.RollbackFor = original.ID

	proposed, err := p.Propose(rollback)
	if err != nil {
		return nil, err
	}

	_, err = p.store.Update(original.ID, Patch{Metadata: map[string]any{"rollback_intent_id": proposed.ID}})
	if err != nil {
		return nil, err
	}
	return proposed, nil
}
