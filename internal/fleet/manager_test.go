package fleet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lattice-run/lattice/internal/events"
	"github.com/lattice-run/lattice/internal/sprite"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

type fakeAPI struct {
	mu       sync.Mutex
	sprites  []SpriteInfo
	statuses map[string]string
	woken    []string
	slept    []string
}

func (f *fakeAPI) ListSprites(ctx context.Context) ([]SpriteInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SpriteInfo, len(f.sprites))
	copy(out, f.sprites)
	return out, nil
}

func (f *fakeAPI) GetSprite(ctx context.Context, id string) (sprite.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.statuses[id]
	if !ok {
		return sprite.Observation{}, sprite.ErrNotFound
	}
	return sprite.Observation{Status: status}, nil
}

func (f *fakeAPI) Wake(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.woken = append(f.woken, id)
	return nil
}

func (f *fakeAPI) Sleep(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slept = append(f.slept, id)
	return nil
}

func testBus() *events.Bus {
	return events.New(zap.NewNop(), noop.NewMeterProvider().Meter("test"), tracenoop.NewTracerProvider().Tracer("test"), 8)
}

func testProcessOptions() sprite.ProcessOptions {
	return sprite.ProcessOptions{
		State:          sprite.Options{BaseBackoffMs: 100, MaxBackoffMs: 1000, MaxRetries: 5},
		ReconcileEvery: time.Hour,
	}
}

func TestDiscoveryStartsChildPerSprite(t *testing.T) {
	api := &fakeAPI{
		sprites:  []SpriteInfo{{ID: "sp-1"}, {ID: "sp-2"}},
		statuses: map[string]string{"sp-1": "running", "sp-2": "cold"},
	}
	mgr := NewManager(api, testBus(), NewInMemoryMetadataStore(), zap.NewNop(), Options{ProcessOptions: testProcessOptions()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)

	if len(mgr.knownIDs()) != 2 {
		t.Fatalf("expected 2 tracked sprites, got %d", len(mgr.knownIDs()))
	}
}

func TestAddSpriteRejectsDuplicate(t *testing.T) {
	api := &fakeAPI{statuses: map[string]string{"sp-1": "cold"}}
	mgr := NewManager(api, testBus(), NewInMemoryMetadataStore(), zap.NewNop(), Options{ProcessOptions: testProcessOptions()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)

	if err := mgr.AddSprite(ctx, "sp-1", "sprite one"); err != nil {
		t.Fatalf("unexpected error adding new sprite: %v", err)
	}
	if err := mgr.AddSprite(ctx, "sp-1", "sprite one"); err != ErrAlreadyTracked {
		t.Fatalf("expected ErrAlreadyTracked, got %v", err)
	}
}

func TestRemoveSpriteDeletesMetadata(t *testing.T) {
	api := &fakeAPI{statuses: map[string]string{"sp-1": "cold"}}
	metadata := NewInMemoryMetadataStore()
	metadata.Save("sp-1", map[string]string{"env": "prod"}, nil)
	mgr := NewManager(api, testBus(), metadata, zap.NewNop(), Options{ProcessOptions: testProcessOptions()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr.startChild(ctx, "sp-1", "")
	mgr.RemoveSprite("sp-1")

	if _, _, ok := metadata.Load("sp-1"); ok {
		t.Fatal("expected metadata to be deleted on remove")
	}
	if _, ok := mgr.GetSpritePID("sp-1"); ok {
		t.Fatal("expected sprite process to be untracked after remove")
	}
}

func TestWakeAndSleepSpritesInvokeWorkerAPIPerID(t *testing.T) {
	api := &fakeAPI{}
	mgr := NewManager(api, testBus(), NewInMemoryMetadataStore(), zap.NewNop(), Options{ProcessOptions: testProcessOptions()})

	results := mgr.WakeSprites(context.Background(), []string{"sp-1", "sp-2"})
	for id, err := range results {
		if err != nil {
			t.Fatalf("unexpected wake error for %s: %v", id, err)
		}
	}
	if len(api.woken) != 2 {
		t.Fatalf("expected 2 wake calls, got %d", len(api.woken))
	}

	mgr.SleepSprites(context.Background(), []string{"sp-1"})
	if len(api.slept) != 1 {
		t.Fatalf("expected 1 sleep call, got %d", len(api.slept))
	}
}

func TestFleetSummaryBreaksDownByStatus(t *testing.T) {
	api := &fakeAPI{statuses: map[string]string{"sp-1": "running", "sp-2": "running", "sp-3": "cold"}}
	mgr := NewManager(api, testBus(), NewInMemoryMetadataStore(), zap.NewNop(), Options{ProcessOptions: testProcessOptions()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for id := range api.statuses {
		mgr.startChild(ctx, id, "")
	}
	for _, id := range mgr.knownIDs() {
		proc, _ := mgr.GetSpritePID(id)
		_ = proc.ReconcileNow(ctx)
	}

	summary := mgr.FleetSummary(ctx)
	if summary.Total != 3 {
		t.Fatalf("expected total 3, got %d", summary.Total)
	}
	if summary.ByState["running"] != 2 {
		t.Fatalf("expected 2 running, got %d", summary.ByState["running"])
	}
	if summary.ByState["cold"] != 1 {
		t.Fatalf("expected 1 cold, got %d", summary.ByState["cold"])
	}
}
