// Package runbridge translates run-executor lifecycle events
// (blocked/resumed) into intent state transitions.
package runbridge

import (
	"context"
	"time"

	"github.com/lattice-run/lattice/internal/events"
	"github.com/lattice-run/lattice/internal/intent"
	"go.uber.org/zap"
)

// RunStatus is the run executor's reported status for a run.
type RunStatus string

const (
	RunStatusBlocked               RunStatus = "blocked"
	RunStatusBlockedWaitingForUser RunStatus = "blocked_waiting_for_user"
)

// Run is the payload carried by runs:all messages.
type Run struct {
	IntentID string
	Status   RunStatus
	Reason   string
	Question string
}

// Bridge subscribes to runs:all and drives the matching intent's
// lifecycle transition. Any message whose intent isn't currently in
// the expected source state, or that carries no intent_id, is ignored
// silently.
type Bridge struct {
	store  *intent.Store
	bus    *events.Bus
	logger *zap.Logger
}

// NewBridge constructs a run bridge bound to the intent store.
func NewBridge(store *intent.Store, bus *events.Bus, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{store: store, bus: bus, logger: logger}
}

// Start subscribes to runs:all and processes messages until ctx is
// cancelled.
func (b *Bridge) Start(ctx context.Context) {
	subID, msgs := b.bus.Subscribe("runs:all")
	go func() {
		defer b.bus.Unsubscribe("runs:all", subID)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				b.handle(msg)
			}
		}
	}()
}

func (b *Bridge) handle(msg events.Message) {
	switch msg.Kind {
	case "run_blocked":
		if run, ok := msg.Payload.(Run); ok {
			b.handleBlocked(run)
		}
	case "run_resumed":
		if run, ok := msg.Payload.(Run); ok {
			b.handleResumed(run)
		}
	}
}

func (b *Bridge) handleBlocked(run Run) {
	if run.IntentID == "" {
		return
	}
	in, err := b.store.Get(run.IntentID)
	if err != nil || in.State != intent.StateRunning {
		return
	}

	var target intent.State
	metadata := map[string]any{}
	switch run.Status {
	case RunStatusBlocked:
		target = intent.StateBlocked
		metadata["blocked_reason"] = run.Reason
		metadata["blocked_at"] = time.Now().UTC()
	case RunStatusBlockedWaitingForUser:
		target = intent.StateWaitingForInput
		metadata["pending_question"] = run.Question
	default:
		return
	}

	_, err = b.store.Update(run.IntentID, intent.Patch{State: &target, Actor: "run-bridge", Reason: run.Reason, Metadata: metadata})
	if err != nil {
		b.logger.Warn("runbridge: failed to transition intent", zap.String("intent_id", run.IntentID), zap.Error(err))
		return
	}
	b.bus.Emit("intent", "blocked", nil, map[string]any{"intent_id": run.IntentID})
}

func (b *Bridge) handleResumed(run Run) {
	if run.IntentID == "" {
		return
	}
	in, err := b.store.Get(run.IntentID)
	if err != nil {
		return
	}
	if in.State != intent.StateBlocked && in.State != intent.StateWaitingForInput {
		return
	}

	target := intent.StateRunning
	_, err = b.store.Update(run.IntentID, intent.Patch{
		State:  &target,
		Actor:  "run-bridge",
		Reason: "run resumed",
		Metadata: map[string]any{
			"blocked_reason":   nil,
			"pending_question": nil,
			"resumed_at":       time.Now().UTC(),
		},
	})
	if err != nil {
		b.logger.Warn("runbridge: failed to resume intent", zap.String("intent_id", run.IntentID), zap.Error(err))
		return
	}
	b.bus.Emit("intent", "resumed", nil, map[string]any{"intent_id": run.IntentID})
}
