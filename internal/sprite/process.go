package sprite

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lattice-run/lattice/internal/events"
	"go.uber.org/zap"
)

// ErrNotFound is returned by a WorkerAPI implementation when the sprite
// no longer exists on the remote side.
var ErrNotFound = errors.New("sprite: not found")

// Observation is what a successful WorkerAPI.GetSprite call returns.
type Observation struct {
	Status string
	API    APITimestamps
}

// WorkerAPI is the capability contract a sprite process reconciles
// against. Concrete implementations live in the capability package.
type WorkerAPI interface {
	GetSprite(ctx context.Context, id string) (Observation, error)
}

// ProcessOptions configures a supervised sprite process.
type ProcessOptions struct {
	State           Options
	ReconcileEvery  time.Duration
	NotFoundDelay   time.Duration
}

// Process is the supervised actor that owns one sprite's State. All
// mutation happens on the single goroutine started by Run; external
// callers interact only through the channel-backed public operations.
type Process struct {
	id     string
	api    WorkerAPI
	bus    *events.Bus
	logger *zap.Logger
	opts   ProcessOptions

	state *State

	mu       sync.Mutex // guards only the published snapshot, for GetState
	snapshot Snapshot

	reconcileNow chan chan struct{}
	setDesired   chan setDesiredRequest
	setTags      chan setTagsRequest
	getState     chan chan Snapshot
	done         chan struct{}
}

type setDesiredRequest struct {
	state string
	reply chan struct{}
}

type setTagsRequest struct {
	tags  map[string]string
	reply chan struct{}
}

// NewProcess constructs a process for the given sprite id. Run must be called
// to start its reconciliation loop.
func NewProcess(id string, api WorkerAPI, bus *events.Bus, logger *zap.Logger, opts ProcessOptions) *Process {
	if opts.ReconcileEvery <= 0 {
		opts.ReconcileEvery = 5 * time.Second
	}
	if opts.NotFoundDelay <= 0 {
		opts.NotFoundDelay = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	st := New(id, opts.State)
	p := &Process{
		id:           id,
		api:          api,
		bus:          bus,
		logger:       logger.With(zap.String("sprite_id", id)),
		opts:         opts,
		state:        st,
		snapshot:     st.Snapshot(),
		reconcileNow: make(chan chan struct{}),
		setDesired:   make(chan setDesiredRequest),
		setTags:      make(chan setTagsRequest),
		getState:     make(chan chan Snapshot),
		done:         make(chan struct{}),
	}
	return p
}

// Run drives the reconciliation loop until ctx is cancelled or the
// sprite is confirmed externally deleted. It returns after publishing
// any terminal event, and the caller is responsible for removing the
// process from the fleet registry.
func (p *Process) Run(ctx context.Context) {
	defer close(p.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-timer.C:
			next, terminate := p.cycle(ctx)
			if terminate {
				return
			}
			timer.Reset(next)

		case reply := <-p.reconcileNow:
			next, terminate := p.cycle(ctx)
			close(reply)
			if terminate {
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(next)

		case req := <-p.setDesired:
			s := req.state
			p.state.DesiredState = &s
			p.publishSnapshot()
			close(req.reply)

		case req := <-p.setTags:
			p.state.SetTags(req.tags)
			p.publishSnapshot()
			close(req.reply)

		case reply := <-p.getState:
			reply <- p.state.Snapshot()
		}
	}
}

// cycle performs exactly one reconciliation pass and returns the delay
// before the next one, or terminate=true if the sprite was confirmed
// deleted and the process should exit.
func (p *Process) cycle(ctx context.Context) (next time.Duration, terminate bool) {
	obs, err := p.api.GetSprite(ctx, p.id)
	switch {
	case err == nil:
		p.observe(obs)
		return p.opts.ReconcileEvery, false

	case errors.Is(err, ErrNotFound):
		count := p.state.RecordNotFound()
		if count >= 2 {
			p.bus.Emit("sprite", "externally_deleted", nil, map[string]any{"sprite_id": p.id})
			p.bus.Publish("sprites:fleet", events.Message{
				Kind:      "sprite_externally_deleted",
				Payload:   map[string]any{"sprite_id": p.id},
				Timestamp: time.Now().UTC(),
			})
			return 0, true
		}
		return p.opts.NotFoundDelay, false

	default:
		p.state.RecordFailure()
		delay := p.state.BackoffWithJitter()
		p.bus.Publish(Topic(p.id), events.Message{
			Kind: "reconciliation_result",
			Payload: map[string]any{
				"sprite_id": p.id,
				"outcome":   "failure",
				"error":     err.Error(),
			},
			Timestamp: time.Now().UTC(),
		})
		p.deriveAndPublishHealth(false)
		return delay, false
	}
}

func (p *Process) observe(obs Observation) {
	prevStatus := p.state.Status
	newStatus := translateAPIStatus(obs.Status)

	p.state.RecordObservation()
	p.state.UpdateAPITimestamps(obs.API)

	if newStatus != prevStatus {
		p.state.UpdateStatus(newStatus)
		p.bus.Publish(Topic(p.id), events.Message{
			Kind: "state_change",
			Payload: map[string]any{
				"sprite_id":  p.id,
				"from":       prevStatus,
				"to":         newStatus,
				"reason":     "API observation",
			},
			Timestamp: time.Now().UTC(),
		})
	}

	matches := p.state.DesiredState == nil || *p.state.DesiredState == string(newStatus)
	p.deriveAndPublishHealth(matches)
}

func (p *Process) deriveAndPublishHealth(observedMatchesDesired bool) {
	prev := p.state.Health
	next := p.state.DeriveHealth(observedMatchesDesired)
	p.state.Health = next
	p.publishSnapshot()
	if next != prev {
		p.bus.Publish(Topic(p.id), events.Message{
			Kind: "health_update",
			Payload: map[string]any{
				"sprite_id": p.id,
				"from":      prev,
				"to":        next,
			},
			Timestamp: time.Now().UTC(),
		})
	}
}

func (p *Process) publishSnapshot() {
	p.mu.Lock()
	p.snapshot = p.state.Snapshot()
	p.mu.Unlock()
}

// translateAPIStatus maps a worker-API status string onto the internal
// Status lineage; "cold" and "sleeping" map to StatusCold, and so does
// any unrecognized value.
func translateAPIStatus(apiStatus string) Status {
	switch apiStatus {
	case "running":
		return StatusRunning
	case "cold", "sleeping":
		return StatusCold
	case "warm":
		return StatusWarm
	default:
		return StatusCold
	}
}

// Topic returns the bus topic a sprite's state_change, health_update,
// and reconciliation_result messages are published on.
func Topic(id string) string {
	return "sprites:" + id
}

// GetState returns a consistent snapshot of the sprite's state. Safe to
// call from any goroutine.
func (p *Process) GetState(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case p.getState <- reply:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.snapshot, nil
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// SetDesiredState steers future health derivation toward the given
// status value.
func (p *Process) SetDesiredState(ctx context.Context, state string) error {
	reply := make(chan struct{})
	select {
	case p.setDesired <- setDesiredRequest{state: state, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrNotFound
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetTags atomically replaces the sprite's tag set.
func (p *Process) SetTags(ctx context.Context, tags map[string]string) error {
	reply := make(chan struct{})
	select {
	case p.setTags <- setTagsRequest{tags: tags, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrNotFound
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReconcileNow forces one reconciliation cycle outside the normal
// schedule and blocks until it completes.
func (p *Process) ReconcileNow(ctx context.Context) error {
	reply := make(chan struct{})
	select {
	case p.reconcileNow <- reply:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrNotFound
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the process's Run loop has returned.
func (p *Process) Done() <-chan struct{} {
	return p.done
}
