// Package governance bridges intents awaiting human approval to an
// external issue tracker: it opens an issue when an intent enters
// awaiting_approval, and periodically syncs label/comment state back
// onto the intent.
package governance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lattice-run/lattice/internal/capability"
	"github.com/lattice-run/lattice/internal/events"
	"github.com/lattice-run/lattice/internal/intent"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	labelApproved = "approved"
	labelRejected = "rejected"
)

// Pipeline is the subset of intent.Pipeline the bridge drives.
type Pipeline interface {
	Approve(id, actor, reason string) (*intent.Intent, error)
	Reject(id, actor, reason string) (*intent.Intent, error)
}

// Bridge subscribes to intents:all and syncs awaiting_approval intents
// against the governance-issue capability.
type Bridge struct {
	store    *intent.Store
	pipeline Pipeline
	tracker  capability.IssueTracker
	bus      *events.Bus
	logger   *zap.Logger

	syncEvery time.Duration

	mu      sync.Mutex
	linked  map[string]int // intent id -> issue number

	cron *cron.Cron
}

// Options configures a governance bridge.
type Options struct {
	SyncInterval time.Duration // default 60s
}

// NewBridge constructs a governance bridge bound to an intent store,
// its pipeline wrapper, and the governance-issue capability.
func NewBridge(store *intent.Store, pipeline Pipeline, tracker capability.IssueTracker, bus *events.Bus, logger *zap.Logger, opts Options) *Bridge {
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		store:     store,
		pipeline:  pipeline,
		tracker:   tracker,
		bus:       bus,
		logger:    logger,
		syncEvery: opts.SyncInterval,
		linked:    make(map[string]int),
	}
}

// Start subscribes to intents:all and schedules the periodic sync via
// a cron entry running every syncEvery.
func (b *Bridge) Start(ctx context.Context) error {
	subID, msgs := b.bus.Subscribe("intents:all")
	go func() {
		defer b.bus.Unsubscribe("intents:all", subID)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				b.handleMessage(ctx, msg)
			}
		}
	}()

	b.cron = cron.New()
	spec := fmt.Sprintf("@every %s", b.syncEvery)
	if _, err := b.cron.AddFunc(spec, func() { b.syncAll(ctx) }); err != nil {
		return fmt.Errorf("governance: schedule sync: %w", err)
	}
	b.cron.Start()
	go func() {
		<-ctx.Done()
		b.cron.Stop()
	}()
	return nil
}

func (b *Bridge) handleMessage(ctx context.Context, msg events.Message) {
	if msg.Kind != "intent_awaiting_approval" {
		return
	}
	in, ok := msg.Payload.(*intent.Intent)
	if !ok {
		return
	}
	if err := b.openIssue(ctx, in); err != nil {
		b.logger.Warn("governance: failed to open issue", zap.String("intent_id", in.ID), zap.Error(err))
	}
}

func (b *Bridge) openIssue(ctx context.Context, in *intent.Intent) error {
	body := renderIssueBody(in)
	issue, err := b.tracker.CreateIssue(ctx, in.Summary, body, []string{"lattice-approval"})
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.linked[in.ID] = issue.Number
	b.mu.Unlock()

	_, err = b.store.Update(in.ID, intent.Patch{Metadata: map[string]any{"governance_issue": issue.Number}})
	return err
}

func renderIssueBody(in *intent.Intent) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Summary:** %s\n\n", in.Summary)
	fmt.Fprintf(&sb, "**Classification:** %s\n\n", in.Classification)
	fmt.Fprintf(&sb, "**Payload:** %v\n\n", in.Payload)
	fmt.Fprintf(&sb, "**Affected resources:** %v\n\n", in.AffectedResources)
	fmt.Fprintf(&sb, "**Expected side effects:** %v\n\n", in.ExpectedSideEffects)
	if in.RollbackStrategy != "" {
		fmt.Fprintf(&sb, "**Rollback strategy:** %s\n\n", in.RollbackStrategy)
	}
	fmt.Fprintf(&sb, "**Source:** %s/%s\n\n", in.Source.Type, in.Source.ID)
	fmt.Fprintf(&sb, "---\nlabel `%s` to approve, `%s` to reject\n\n", labelApproved, labelRejected)
	fmt.Fprintf(&sb, "intent_id: %s\n", in.ID)
	return sb.String()
}

// syncAll runs one sync pass over every tracked awaiting_approval
// intent.
func (b *Bridge) syncAll(ctx context.Context) {
	pending := b.store.List(intent.Filter{State: intent.StateAwaitingApproval})
	for _, in := range pending {
		b.syncOne(ctx, in)
	}
}

func (b *Bridge) syncOne(ctx context.Context, in *intent.Intent) {
	b.mu.Lock()
	number, ok := b.linked[in.ID]
	b.mu.Unlock()
	if !ok {
		if raw, present := in.Metadata["governance_issue"]; present {
			if n, isInt := raw.(int); isInt {
				number = n
				ok = true
			}
		}
	}
	if !ok {
		return
	}

	issue, err := b.tracker.GetIssue(ctx, number)
	if err != nil {
		b.logger.Warn("governance: sync failed, will retry next tick", zap.Int("issue", number), zap.Error(err))
		return
	}

	captureComments(b.store, in, issue)

	switch {
	case hasLabel(issue.Labels, labelApproved):
		b.finalize(ctx, in, number, true, "approved via governance issue")
	case hasLabel(issue.Labels, labelRejected):
		b.finalize(ctx, in, number, false, "rejected via governance issue")
	}
}

func captureComments(store *intent.Store, in *intent.Intent, issue capability.Issue) {
	if len(issue.Comments) == 0 {
		return
	}
	_, _ = store.Update(in.ID, intent.Patch{Metadata: map[string]any{"github_comments": issue.Comments}})
}

func (b *Bridge) finalize(ctx context.Context, in *intent.Intent, issueNumber int, approve bool, reason string) {
	var err error
	var outcomeComment string
	if approve {
		_, err = b.pipeline.Approve(in.ID, "governance-bridge", reason)
		outcomeComment = "approved"
	} else {
		_, err = b.pipeline.Reject(in.ID, "governance-bridge", reason)
		outcomeComment = "rejected"
		_ = b.tracker.AddLabel(ctx, issueNumber, labelRejected)
	}
	if err != nil {
		b.logger.Warn("governance: failed to drive pipeline transition", zap.String("intent_id", in.ID), zap.Error(err))
		return
	}
	_ = b.tracker.CreateComment(ctx, issueNumber, fmt.Sprintf("intent %s %s", in.ID, outcomeComment))
	_ = b.tracker.UpdateIssue(ctx, issueNumber, "closed")

	b.mu.Lock()
	delete(b.linked, in.ID)
	b.mu.Unlock()
}

func hasLabel(labels []string, target string) bool {
	for _, l := range labels {
		if l == target {
			return true
		}
	}
	return false
}
