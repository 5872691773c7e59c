// Package shutdown implements the termination-signal drain sequence:
// wait for active exec sessions to finish within a bounded window
// before exiting.
package shutdown

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SessionRegistry is the subset of exec.Registry the drain loop needs.
type SessionRegistry interface {
	Count() int
	IDs() []string
	Close(id string) error
}

// Options configures the drain loop.
type Options struct {
	PollInterval time.Duration // default 5s
	DrainWindow  time.Duration // default 10m
}

// Drain polls reg every PollInterval, logging outstanding session ids,
// until either the registry empties or DrainWindow expires. On expiry
// it force-closes every still-tracked session before returning.
func Drain(ctx context.Context, reg SessionRegistry, logger *zap.Logger, opts Options) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.DrainWindow <= 0 {
		opts.DrainWindow = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if reg.Count() == 0 {
		logger.Info("shutdown drain: no active exec sessions, exiting immediately")
		return
	}

	deadline := time.NewTimer(opts.DrainWindow)
	defer deadline.Stop()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			ids := reg.IDs()
			logger.Warn("shutdown drain: window expired, force-closing outstanding sessions",
				zap.Int("outstanding", len(ids)))
			for _, id := range ids {
				if err := reg.Close(id); err != nil {
					logger.Error("shutdown drain: error force-closing session", zap.String("session_id", id), zap.Error(err))
				}
			}
			return
		case <-ticker.C:
			remaining := reg.Count()
			if remaining == 0 {
				logger.Info("shutdown drain: exec sessions drained, exiting cleanly")
				return
			}
			logger.Info("shutdown drain: waiting on active exec sessions",
				zap.Int("remaining", remaining), zap.Strings("session_ids", reg.IDs()))
		}
	}
}
