// Package capability defines the external-system contracts (worker
// API, governance issue tracker, secret store) and selects between a
// live and a stub implementation at startup based on credential
// presence, so missing configuration degrades gracefully instead of
// crashing.
package capability

import (
	"context"
	"fmt"
	"sync"

	"github.com/lattice-run/lattice/internal/fleet"
	"github.com/lattice-run/lattice/internal/sprite"
)

// WorkerAPI is the full sprite-capability surface consumed by the
// fleet manager and sprite processes.
type WorkerAPI interface {
	fleet.WorkerAPI
	Exec(ctx context.Context, id, cmd string) (ExecResult, error)
	FetchLogs(ctx context.Context, id string, limit int) ([]string, error)
}

// ExecResult is the outcome of a one-shot worker-API exec call.
type ExecResult struct {
	ExitCode int
	Output   string
}

// StubWorkerAPI is selected automatically when no worker-API token is
// configured. Every sprite reports not_found, so the fleet simply
// carries zero tracked sprites rather than failing startup.
type StubWorkerAPI struct{}

func (StubWorkerAPI) ListSprites(ctx context.Context) ([]fleet.SpriteInfo, error) {
	return nil, nil
}

func (StubWorkerAPI) GetSprite(ctx context.Context, id string) (sprite.Observation, error) {
	return sprite.Observation{}, sprite.ErrNotFound
}

func (StubWorkerAPI) Wake(ctx context.Context, id string) error {
	return fmt.Errorf("worker api: no credentials configured")
}

func (StubWorkerAPI) Sleep(ctx context.Context, id string) error {
	return fmt.Errorf("worker api: no credentials configured")
}

func (StubWorkerAPI) Exec(ctx context.Context, id, cmd string) (ExecResult, error) {
	return ExecResult{}, fmt.Errorf("worker api: no credentials configured")
}

func (StubWorkerAPI) FetchLogs(ctx context.Context, id string, limit int) ([]string, error) {
	return nil, fmt.Errorf("worker api: no credentials configured")
}

// InMemoryWorkerAPI is a deterministic in-process fake standing in for
// the live HTTP/WebSocket-backed worker API, which does not ship in
// this module: tests use it, and the entrypoint selects it when a
// worker-API token is configured.
type InMemoryWorkerAPI struct {
	mu      sync.RWMutex
	sprites map[string]*fleet.SpriteInfo
	logs    map[string][]string
}

// NewInMemoryWorkerAPI constructs an empty fake worker API.
func NewInMemoryWorkerAPI() *InMemoryWorkerAPI {
	return &InMemoryWorkerAPI{sprites: make(map[string]*fleet.SpriteInfo), logs: make(map[string][]string)}
}

// Seed registers a sprite for the fake to report on ListSprites/GetSprite.
func (a *InMemoryWorkerAPI) Seed(id, name, status string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sprites[id] = &fleet.SpriteInfo{ID: id, Name: name, Status: status}
}

func (a *InMemoryWorkerAPI) ListSprites(ctx context.Context) ([]fleet.SpriteInfo, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]fleet.SpriteInfo, 0, len(a.sprites))
	for _, s := range a.sprites {
		out = append(out, *s)
	}
	return out, nil
}

func (a *InMemoryWorkerAPI) GetSprite(ctx context.Context, id string) (sprite.Observation, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sprites[id]
	if !ok {
		return sprite.Observation{}, sprite.ErrNotFound
	}
	return sprite.Observation{Status: s.Status}, nil
}

func (a *InMemoryWorkerAPI) Wake(ctx context.Context, id string) error {
	return a.setStatus(id, "running")
}

func (a *InMemoryWorkerAPI) Sleep(ctx context.Context, id string) error {
	return a.setStatus(id, "cold")
}

func (a *InMemoryWorkerAPI) setStatus(id, status string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sprites[id]
	if !ok {
		return sprite.ErrNotFound
	}
	s.Status = status
	return nil
}

func (a *InMemoryWorkerAPI) Exec(ctx context.Context, id, cmd string) (ExecResult, error) {
	a.mu.RLock()
	_, ok := a.sprites[id]
	a.mu.RUnlock()
	if !ok {
		return ExecResult{}, sprite.ErrNotFound
	}
	return ExecResult{ExitCode: 0, Output: ""}, nil
}

func (a *InMemoryWorkerAPI) FetchLogs(ctx context.Context, id string, limit int) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	lines, ok := a.logs[id]
	if !ok {
		return nil, sprite.ErrNotFound
	}
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines, nil
}

// AppendLog is a test/demo helper appending a log line for a sprite.
func (a *InMemoryWorkerAPI) AppendLog(id, line string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs[id] = append(a.logs[id], line)
}

var _ WorkerAPI = (*InMemoryWorkerAPI)(nil)
var _ WorkerAPI = StubWorkerAPI{}

// select helper used by the capability-selection bootstrap (cmd entrypoint).
func SelectWorkerAPI(tokenPresent bool, live WorkerAPI) WorkerAPI {
	if tokenPresent && live != nil {
		return live
	}
	return StubWorkerAPI{}
}
