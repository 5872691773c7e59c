package intent

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CronEntry names one recurring intent source: a calendar schedule
// ("@every 1h", "0 */6 * * *", ...) plus the factory that builds the
// intent each time the schedule fires.
type CronEntry struct {
	ID       string
	Schedule string
	Build    func() (*Intent, error)
}

// Proposer is the subset of Pipeline a cron source needs.
type Proposer interface {
	Propose(in *Intent) (*Intent, error)
}

// CronSource drives scheduled intent proposals (spec's Source.Type ==
// "cron") off calendar schedules, the same recurring-job cadence the
// teacher's job scheduler ticks on, without that scheduler's persisted
// run history: a cron-sourced intent's own lifecycle record in the
// intent store is the only trace Lattice keeps of it having fired.
type CronSource struct {
	cron     *cron.Cron
	pipeline Proposer
	logger   *zap.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewCronSource constructs a cron-driven intent source bound to a
// pipeline's Propose step.
func NewCronSource(pipeline Proposer, logger *zap.Logger) *CronSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CronSource{
		cron:     cron.New(),
		pipeline: pipeline,
		logger:   logger,
		entries:  make(map[string]cron.EntryID),
	}
}

// Add registers a recurring entry. Calling Add twice with the same ID
// replaces the prior schedule.
func (c *CronSource) Add(entry CronEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[entry.ID]; ok {
		c.cron.Remove(existing)
		delete(c.entries, entry.ID)
	}

	id, err := c.cron.AddFunc(entry.Schedule, func() { c.fire(entry) })
	if err != nil {
		return fmt.Errorf("cron source: schedule %q: %w", entry.ID, err)
	}
	c.entries[entry.ID] = id
	return nil
}

// Remove cancels a previously registered entry.
func (c *CronSource) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[id]; ok {
		c.cron.Remove(existing)
		delete(c.entries, id)
	}
}

func (c *CronSource) fire(entry CronEntry) {
	in, err := entry.Build()
	if err != nil {
		c.logger.Warn("cron source: build intent failed", zap.String("entry_id", entry.ID), zap.Error(err))
		return
	}
	if in.Source.Type == "" {
		in.Source = Source{Type: SourceCron, ID: entry.ID}
	}
	if _, err := c.pipeline.Propose(in); err != nil {
		c.logger.Warn("cron source: propose failed", zap.String("entry_id", entry.ID), zap.Error(err))
	}
}

// Start begins dispatching scheduled entries until ctx is canceled.
func (c *CronSource) Start(ctx context.Context) {
	c.cron.Start()
	go func() {
		<-ctx.Done()
		<-c.cron.Stop().Done()
	}()
}
