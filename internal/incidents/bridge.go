package incidents

import (
	"context"
	"time"

	"github.com/lattice-run/lattice/internal/events"
	"github.com/lattice-run/lattice/internal/sprite"
	"go.uber.org/zap"
)

// Bridge subscribes to the topic of each sprite passed to Start and
// feeds state_change / health_update messages into a Detector.
type Bridge struct {
	detector *Detector
	bus      *events.Bus
	logger   *zap.Logger
}

// NewBridge constructs a bridge over detector.
func NewBridge(detector *Detector, bus *events.Bus, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{detector: detector, bus: bus, logger: logger}
}

// Start begins tracking spriteID, consuming its topic until ctx is
// cancelled. Safe to call once per sprite. Nothing in this module calls
// it automatically (the fleet manager does not), so a sprite is tracked
// only once Start has been called for it.
func (b *Bridge) Start(ctx context.Context, spriteID string) {
	_, ch := b.bus.Subscribe(sprite.Topic(spriteID))
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.handle(spriteID, msg)
			}
		}
	}()
}

func (b *Bridge) handle(spriteID string, msg events.Message) {
	now := time.Now().UTC()
	switch msg.Kind {
	case "state_change":
		b.detector.RecordStateChange(spriteID, now)
	case "health_update":
		payload, ok := msg.Payload.(map[string]any)
		if !ok {
			return
		}
		to, _ := payload["to"].(sprite.Health)
		if to == "" {
			if s, ok := payload["to"].(string); ok {
				to = sprite.Health(s)
			}
		}
		if to == sprite.HealthError {
			b.detector.RecordBackoffSaturation(spriteID)
		} else {
			b.detector.RecordRecovered(spriteID)
		}
	}
}
