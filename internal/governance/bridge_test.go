package governance

import (
	"context"
	"testing"
	"time"

	"github.com/lattice-run/lattice/internal/audit"
	"github.com/lattice-run/lattice/internal/capability"
	"github.com/lattice-run/lattice/internal/events"
	"github.com/lattice-run/lattice/internal/intent"
	"github.com/lattice-run/lattice/internal/safety"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

func testSetup(t *testing.T) (*intent.Store, *intent.Pipeline, *events.Bus, *capability.InMemoryIssueTracker) {
	t.Helper()
	bus := events.New(zap.NewNop(), noop.NewMeterProvider().Meter("test"), tracenoop.NewTracerProvider().Tracer("test"), 8)
	auditLog := audit.NewLog(bus, zap.NewNop(), 100)
	store := intent.NewStore(bus, auditLog)
	registry := intent.NewRegistry()
	classifier := safety.NewClassifier()
	pipeline := intent.NewPipeline(store, registry, classifier, safety.Guardrails{AllowControlled: true, RequireApprovalForControlled: true}, false)
	tracker := capability.NewInMemoryIssueTracker()
	return store, pipeline, bus, tracker
}

func TestBridgeOpensIssueOnAwaitingApproval(t *testing.T) {
	store, pipeline, bus, tracker := testSetup(t)
	b := NewBridge(store, pipeline, tracker, bus, zap.NewNop(), Options{SyncInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	in, _ := intent.NewAction(intent.Source{Type: intent.SourceOperator, ID: "op"}, "restart sprite",
		map[string]any{"capability": "sprites", "operation": "wake"}, []string{"sprite:a"}, []string{"restarts it"})
	_, err := pipeline.Propose(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, func() bool {
		issues, _ := tracker.ListIssues(ctx, nil)
		return len(issues) == 1
	})
}

func TestBridgeApprovesOnApprovedLabel(t *testing.T) {
	store, pipeline, bus, tracker := testSetup(t)
	b := NewBridge(store, pipeline, tracker, bus, zap.NewNop(), Options{SyncInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = b.Start(ctx)

	in, _ := intent.NewAction(intent.Source{Type: intent.SourceOperator, ID: "op"}, "restart sprite",
		map[string]any{"capability": "sprites", "operation": "wake"}, []string{"sprite:a"}, []string{"restarts it"})
	proposed, _ := pipeline.Propose(in)

	waitFor(t, func() bool {
		issues, _ := tracker.ListIssues(ctx, nil)
		return len(issues) == 1
	})
	issues, _ := tracker.ListIssues(ctx, nil)
	_ = tracker.AddLabel(ctx, issues[0].Number, labelApproved)

	b.syncAll(ctx)

	updated, err := store.Get(proposed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.State != intent.StateApproved {
		t.Fatalf("expected approved, got %s", updated.State)
	}

	issue, _ := tracker.GetIssue(ctx, issues[0].Number)
	if issue.State != "closed" {
		t.Fatalf("expected issue closed, got %s", issue.State)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
