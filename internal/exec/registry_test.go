package exec

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRegistryRegisterGetRemove(t *testing.T) {
	reg := NewRegistry()
	proc := newFakeRemoteProcess("", "")
	s, err := Start(context.Background(), "sprite-1", "noop", true, proc, testBus(), zap.NewNop(), Options{IdleTimeout: time.Minute})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	reg.Register(s)

	if got, ok := reg.Get(s.ID); !ok || got != s {
		t.Fatalf("expected to find registered session")
	}
	if reg.Count() != 1 {
		t.Fatalf("expected count 1, got %d", reg.Count())
	}

	reg.Remove(s.ID)
	if _, ok := reg.Get(s.ID); ok {
		t.Fatalf("expected session to be gone after Remove")
	}
}

func TestReapClosedSweepsFinishedSessions(t *testing.T) {
	reg := NewRegistry()
	proc := newFakeRemoteProcess("", "")
	s, err := Start(context.Background(), "sprite-1", "noop", true, proc, testBus(), zap.NewNop(), Options{IdleTimeout: time.Minute})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	reg.Register(s)

	stop := make(chan struct{})
	defer close(stop)
	reg.ReapClosed(10*time.Millisecond, stop)

	proc.finish(0)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if reg.Count() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected reaper to remove closed session, count=%d", reg.Count())
}

func TestIDsReflectsRegisteredSessions(t *testing.T) {
	reg := NewRegistry()
	proc1 := newFakeRemoteProcess("", "")
	proc2 := newFakeRemoteProcess("", "")
	s1, _ := Start(context.Background(), "sprite-1", "noop", true, proc1, testBus(), zap.NewNop(), Options{IdleTimeout: time.Minute})
	s2, _ := Start(context.Background(), "sprite-2", "noop", true, proc2, testBus(), zap.NewNop(), Options{IdleTimeout: time.Minute})
	reg.Register(s1)
	reg.Register(s2)

	ids := reg.IDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}
}
