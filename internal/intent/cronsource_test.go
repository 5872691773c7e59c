package intent

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeProposer struct {
	mu       sync.Mutex
	proposed []*Intent
}

func (f *fakeProposer) Propose(in *Intent) (*Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proposed = append(f.proposed, in)
	return in, nil
}

func (f *fakeProposer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.proposed)
}

func TestCronSourceProposesOnSchedule(t *testing.T) {
	fp := &fakeProposer{}
	src := NewCronSource(fp, zap.NewNop())

	err := src.Add(CronEntry{
		ID:       "nightly-maintenance",
		Schedule: "@every 50ms",
		Build: func() (*Intent, error) {
			return NewMaintenance(Source{}, "scheduled maintenance sweep", nil)
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src.Start(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if fp.count() >= 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected at least 2 cron-fired proposals, got %d", fp.count())
}

func TestCronSourceStampsCronSourceWhenUnset(t *testing.T) {
	fp := &fakeProposer{}
	src := NewCronSource(fp, zap.NewNop())

	if err := src.Add(CronEntry{
		ID:       "entry",
		Schedule: "@every 30ms",
		Build: func() (*Intent, error) {
			return NewMaintenance(Source{}, "sweep", nil)
		},
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src.Start(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if fp.count() >= 1 {
			fp.mu.Lock()
			in := fp.proposed[0]
			fp.mu.Unlock()
			if in.Source.Type != SourceCron || in.Source.ID != "entry" {
				t.Fatalf("expected cron source stamped, got %+v", in.Source)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected at least 1 cron-fired proposal")
}

func TestCronSourceRemove(t *testing.T) {
	fp := &fakeProposer{}
	src := NewCronSource(fp, zap.NewNop())

	if err := src.Add(CronEntry{
		ID:       "entry",
		Schedule: "@every 20ms",
		Build: func() (*Intent, error) {
			return NewMaintenance(Source{}, "sweep", nil)
		},
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	src.Remove("entry")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src.Start(ctx)

	time.Sleep(100 * time.Millisecond)
	if fp.count() != 0 {
		t.Fatalf("expected no proposals after Remove, got %d", fp.count())
	}
}
