// Package agent wires the pipeline together. The Controller owns the
// single batch processor and telemetry sender of an agent run.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vincentbai/regrets-agent/internal/batching"
	"github.com/vincentbai/regrets-agent/internal/models"
	"github.com/vincentbai/regrets-agent/internal/telemetry"
)

const DefaultProcessInterval = 10 * time.Second

type Config struct {
	// ProcessInterval is the period of the queue processing timer.
	ProcessInterval time.Duration
}

func DefaultConfig() Config {
	return Config{ProcessInterval: DefaultProcessInterval}
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Queued    int    `json:"queued"`
	Closed    uint64 `json:"closed"`
	Orphaned  uint64 `json:"orphaned"`
	Malformed uint64 `json:"malformed"`
	Immediate uint64 `json:"immediate"`
	// Unclaimed counts tab activity queued while its tab had no
	// navigation to join.
	Unclaimed uint64 `json:"unclaimed"`

	Sent         uint64 `json:"sent"`
	Trimmed      uint64 `json:"trimmed"`
	Dropped      uint64 `json:"dropped"`
	SinkFailures uint64 `json:"sinkFailures"`
}

// Controller serializes submissions and ticks. Sends happen outside the
// queue lock.
type Controller struct {
	mu        sync.Mutex
	processor *batching.Processor
	closed    uint64
	orphaned  uint64
	malformed uint64
	immediate uint64
	unclaimed uint64

	// sendMu keeps closed batches leaving in closing order across ticks.
	sendMu sync.Mutex

	sender   *telemetry.Sender
	logger   zerolog.Logger
	now      func() time.Time
	interval time.Duration
}

type Option func(*Controller)

// WithClock replaces the wall clock sampled by Run and ProcessNow.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

func New(cfg Config, processor *batching.Processor, sender *telemetry.Sender, logger zerolog.Logger, opts ...Option) *Controller {
	if cfg.ProcessInterval <= 0 {
		cfg.ProcessInterval = DefaultProcessInterval
	}
	c := &Controller{
		processor: processor,
		sender:    sender,
		logger:    logger,
		now:       time.Now,
		interval:  cfg.ProcessInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit routes env: batchable tab activity and navigations are queued,
// everything else is sent right away.
func (c *Controller) Submit(ctx context.Context, env models.Envelope) {
	route := batching.Classify(env)
	c.logger.Debug().
		Str("type", string(env.Type)).
		Int("tab_id", env.TabID).
		Stringer("route", route).
		Msg("Routing envelope")

	if route == batching.RouteQueue {
		c.mu.Lock()
		if env.Type != models.TypeNavigation && !c.processor.HasOpenNavigation(env.TabID) {
			c.unclaimed++
			c.logger.Debug().
				Int("tab_id", env.TabID).
				Int("tab_queue", c.processor.TabQueueLength(env.TabID)).
				Msg("Queued activity without an open navigation")
		}
		c.processor.QueueForProcessing(env)
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	c.immediate++
	c.mu.Unlock()
	c.sender.SendStudyPayloadEnvelope(ctx, models.ForEnvelope(env))
}

// Tick processes the queue as of now and sends the batches it closed.
func (c *Controller) Tick(ctx context.Context, now time.Time) batching.TickResult {
	c.mu.Lock()
	res := c.processor.ProcessQueue(now)
	batches := c.processor.DrainSendQueue()
	c.closed += uint64(res.Closed)
	c.orphaned += uint64(res.Orphaned)
	c.malformed += uint64(res.Malformed)
	c.sendMu.Lock()
	c.mu.Unlock()
	defer c.sendMu.Unlock()

	for _, batch := range batches {
		c.sender.SendStudyPayloadEnvelope(ctx, models.ForNavigationBatch(batch))
	}
	return res
}

// ProcessNow runs a tick against the controller's clock.
func (c *Controller) ProcessNow(ctx context.Context) batching.TickResult {
	return c.Tick(ctx, c.now())
}

// Run ticks every process interval until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info().Dur("interval", c.interval).Msg("Navigation batch processing started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Int("queued", c.QueueLength()).Msg("Navigation batch processing stopped")
			return nil
		case <-ticker.C:
			c.ProcessNow(ctx)
		}
	}
}

func (c *Controller) QueueLength() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processor.QueueLength()
}

// Reset discards everything queued or awaiting send.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processor.Reset()
	c.logger.Info().Msg("Pipeline queues cleared")
}

func (c *Controller) Stats() Stats {
	c.mu.Lock()
	st := Stats{
		Queued:    c.processor.QueueLength(),
		Closed:    c.closed,
		Orphaned:  c.orphaned,
		Malformed: c.malformed,
		Immediate: c.immediate,
		Unclaimed: c.unclaimed,
	}
	c.mu.Unlock()

	sent := c.sender.Stats()
	st.Sent = sent.Sent
	st.Trimmed = sent.Trimmed
	st.Dropped = sent.Dropped
	st.SinkFailures = sent.SinkFailures
	return st
}
