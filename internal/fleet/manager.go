// Package fleet discovers sprites from the worker-API capability, runs
// one supervised process per sprite, and keeps the tracked set in sync
// with periodic reconciliation.
package fleet

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lattice-run/lattice/internal/events"
	"github.com/lattice-run/lattice/internal/sprite"
	"go.uber.org/zap"
)

// SpriteInfo is one entry of a worker-API sprite listing.
type SpriteInfo struct {
	ID             string
	Name           string
	Status         string
	CreatedAt      *time.Time
	UpdatedAt      *time.Time
	LastStartedAt  *time.Time
	LastActiveAt   *time.Time
}

// WorkerAPI is the full sprite-capability surface the fleet manager
// needs: listing for discovery/reconciliation, wake/sleep for the
// fan-out operations, plus the per-sprite GetSprite contract consumed
// directly by each child process.
type WorkerAPI interface {
	sprite.WorkerAPI
	ListSprites(ctx context.Context) ([]SpriteInfo, error)
	Wake(ctx context.Context, id string) error
	Sleep(ctx context.Context, id string) error
}

// MetadataStore is the process-local key/value store that survives a
// sprite's process lifecycle: tags and desired-state are restored from
// it on fleet-manager startup and deleted when a sprite is removed.
type MetadataStore interface {
	Load(id string) (tags map[string]string, desiredState *string, ok bool)
	Save(id string, tags map[string]string, desiredState *string)
	Delete(id string)
}

// Options configures a Manager.
type Options struct {
	StaticFallback  []string
	ProcessOptions  sprite.ProcessOptions
	FastInterval    time.Duration
	SlowInterval    time.Duration
}

type child struct {
	process *sprite.Process
	cancel  context.CancelFunc
}

// Manager tracks the fleet's sprite processes and keeps them
// synchronized with the worker API.
type Manager struct {
	mu       sync.RWMutex
	children map[string]*child

	api      WorkerAPI
	bus      *events.Bus
	logger   *zap.Logger
	metadata MetadataStore
	opts     Options

	viewerCount int32 // atomic; >0 selects the fast reconcile interval

	wg sync.WaitGroup
}

// NewManager constructs a fleet manager. Call Start to begin discovery
// and the periodic reconciliation loop.
func NewManager(api WorkerAPI, bus *events.Bus, metadata MetadataStore, logger *zap.Logger, opts Options) *Manager {
	if opts.FastInterval <= 0 {
		opts.FastInterval = 10 * time.Second
	}
	if opts.SlowInterval <= 0 {
		opts.SlowInterval = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		children: make(map[string]*child),
		api:      api,
		bus:      bus,
		logger:   logger,
		metadata: metadata,
		opts:     opts,
	}
}

// Start performs initial discovery and launches the reconcile loop.
// It subscribes to sprites:fleet for external-deletion notices from
// children and runs until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.discover(ctx)

	subID, msgs := m.bus.Subscribe("sprites:fleet")
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.bus.Unsubscribe("sprites:fleet", subID)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				m.handleFleetMessage(msg)
			}
		}
	}()

	m.wg.Add(1)
	go m.reconcileLoop(ctx)
}

// Wait blocks until all manager background goroutines have exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) handleFleetMessage(msg events.Message) {
	if msg.Kind != "sprite_externally_deleted" {
		return
	}
	payload, ok := msg.Payload.(map[string]any)
	if !ok {
		return
	}
	id, _ := payload["sprite_id"].(string)
	if id == "" {
		return
	}
	m.removeTracked(id)
	m.publishSummary()
}

// discover asks the worker API to list sprites; on failure it falls
// back to the configured static id list. Every discovered sprite gets
// a supervised process; any persisted tags and desired state are
// applied to it asynchronously after the process starts, so its first
// reconciliation cycle can run without them.
func (m *Manager) discover(ctx context.Context) {
	infos, err := m.api.ListSprites(ctx)
	if err != nil {
		m.logger.Warn("sprite discovery failed, using static fallback", zap.Error(err))
		infos = make([]SpriteInfo, 0, len(m.opts.StaticFallback))
		for _, id := range m.opts.StaticFallback {
			infos = append(infos, SpriteInfo{ID: id})
		}
	}
	for _, info := range infos {
		m.startChild(ctx, info.ID, info.Name)
	}
}

func (m *Manager) startChild(ctx context.Context, id, name string) {
	m.mu.Lock()
	if _, exists := m.children[id]; exists {
		m.mu.Unlock()
		return
	}
	procOpts := m.opts.ProcessOptions
	procOpts.State.Name = name
	proc := sprite.NewProcess(id, m.api, m.bus, m.logger, procOpts)
	childCtx, cancel := context.WithCancel(ctx)
	m.children[id] = &child{process: proc, cancel: cancel}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		proc.Run(childCtx)
	}()

	if tags, desired, ok := m.metadata.Load(id); ok {
		go func() {
			_ = proc.SetTags(ctx, tags)
			if desired != nil {
				_ = proc.SetDesiredState(ctx, *desired)
			}
		}()
	}
}

func (m *Manager) removeTracked(id string) {
	m.mu.Lock()
	c, ok := m.children[id]
	if ok {
		delete(m.children, id)
	}
	m.mu.Unlock()
	if ok {
		c.cancel()
	}
	m.metadata.Delete(id)
}

// reconcileLoop periodically re-lists sprites from the worker API and
// reconciles the tracked set, using the fast interval while any
// dashboard viewer is registered and the slow interval otherwise.
func (m *Manager) reconcileLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		interval := m.opts.SlowInterval
		if atomic.LoadInt32(&m.viewerCount) > 0 {
			interval = m.opts.FastInterval
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			m.reconcileOnce(ctx)
		}
	}
}

func (m *Manager) reconcileOnce(ctx context.Context) {
	start := time.Now()
	infos, err := m.api.ListSprites(ctx)
	if err != nil {
		m.logger.Warn("fleet reconcile: list sprites failed", zap.Error(err))
		return
	}

	seen := make(map[string]struct{}, len(infos))
	added, removed := 0, 0

	for _, info := range infos {
		seen[info.ID] = struct{}{}
		m.mu.RLock()
		_, known := m.children[info.ID]
		m.mu.RUnlock()
		if !known {
			m.startChild(ctx, info.ID, info.Name)
			added++
		}
	}

	m.mu.RLock()
	stale := make([]string, 0)
	for id := range m.children {
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()
	for _, id := range stale {
		m.removeTracked(id)
		removed++
	}

	m.bus.Emit("fleet", "reconcile", map[string]float64{
		"duration_ms": float64(time.Since(start).Milliseconds()),
		"added":       float64(added),
		"removed":     float64(removed),
	}, nil)

	if added > 0 || removed > 0 {
		m.publishSummary()
	}
}

func (m *Manager) publishSummary() {
	summary := m.FleetSummary(context.Background())
	m.bus.Publish("sprites:fleet", events.Message{
		Kind:      "fleet_summary",
		Payload:   summary,
		Timestamp: time.Now().UTC(),
	})
}

// Summary is the fleet_summary() operation's return shape.
type Summary struct {
	Total   int
	ByState map[string]int
}

// FleetSummary returns the total sprite count and a breakdown by
// current status.
func (m *Manager) FleetSummary(ctx context.Context) Summary {
	ids := m.knownIDs()
	result := Summary{ByState: make(map[string]int)}
	for _, id := range ids {
		proc, ok := m.GetSpritePID(id)
		if !ok {
			continue
		}
		snap, err := proc.GetState(ctx)
		if err != nil {
			continue
		}
		result.Total++
		result.ByState[string(snap.Status)]++
	}
	return result
}

// ListSprites returns a snapshot of every tracked sprite's state.
func (m *Manager) ListSprites(ctx context.Context) []sprite.Snapshot {
	ids := m.knownIDs()
	out := make([]sprite.Snapshot, 0, len(ids))
	for _, id := range ids {
		proc, ok := m.GetSpritePID(id)
		if !ok {
			continue
		}
		snap, err := proc.GetState(ctx)
		if err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out
}

// GetSpritePID looks up the supervised process for a sprite id.
func (m *Manager) GetSpritePID(id string) (*sprite.Process, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.children[id]
	if !ok {
		return nil, false
	}
	return c.process, true
}

func (m *Manager) knownIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.children))
	for id := range m.children {
		ids = append(ids, id)
	}
	return ids
}

// WakeSprites invokes the worker-API wake operation per id and returns
// a per-id result map.
func (m *Manager) WakeSprites(ctx context.Context, ids []string) map[string]error {
	results := make(map[string]error, len(ids))
	for _, id := range ids {
		results[id] = m.api.Wake(ctx, id)
	}
	return results
}

// SleepSprites invokes the worker-API sleep operation per id and
// returns a per-id result map.
func (m *Manager) SleepSprites(ctx context.Context, ids []string) map[string]error {
	results := make(map[string]error, len(ids))
	for _, id := range ids {
		results[id] = m.api.Sleep(ctx, id)
	}
	return results
}

// ErrAlreadyTracked is returned by AddSprite when the id is already
// tracked.
var ErrAlreadyTracked = fmt.Errorf("fleet: sprite already tracked")

// AddSprite starts a new supervised process for id at runtime.
func (m *Manager) AddSprite(ctx context.Context, id, name string) error {
	m.mu.RLock()
	_, exists := m.children[id]
	m.mu.RUnlock()
	if exists {
		return ErrAlreadyTracked
	}
	m.startChild(ctx, id, name)
	m.publishSummary()
	return nil
}

// RemoveSprite terminates the sprite's process and deletes its
// persisted metadata.
func (m *Manager) RemoveSprite(id string) {
	m.removeTracked(id)
	m.publishSummary()
}

// RunAudit broadcasts ReconcileNow to every tracked child.
func (m *Manager) RunAudit(ctx context.Context) {
	for _, id := range m.knownIDs() {
		if proc, ok := m.GetSpritePID(id); ok {
			_ = proc.ReconcileNow(ctx)
		}
	}
}

// SetViewerPresent toggles whether any dashboard viewer is currently
// connected, which determines the reconcile loop's interval.
func (m *Manager) SetViewerPresent(present bool) {
	if present {
		atomic.StoreInt32(&m.viewerCount, 1)
	} else {
		atomic.StoreInt32(&m.viewerCount, 0)
	}
}
