// Package batching groups tab activity into navigation batches.
//
// Envelopes are queued per tab in arrival order. On every tick the
// Processor walks each tab's queue: a navigation owns the activity that
// follows it until the next navigation, and its batch closes when that
// next navigation is queued or when the quiescence timeout has elapsed
// since the navigation's time stamp. Activity that no navigation claims
// within the same timeout is discarded as orphaned.
package batching

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/vincentbai/regrets-agent/internal/models"
)

const DefaultQuiescenceTimeout = 10 * time.Second

type Config struct {
	// QuiescenceTimeout closes the last batch of a tab once this much time
	// has passed since its navigation. Elapsed time equal to the timeout
	// closes the batch.
	QuiescenceTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{QuiescenceTimeout: DefaultQuiescenceTimeout}
}

// TickResult summarizes one ProcessQueue call.
type TickResult struct {
	Closed    int
	Orphaned  int
	Malformed int
}

// Processor is not safe for concurrent use; its owner serializes calls.
type Processor struct {
	cfg       Config
	logger    zerolog.Logger
	queue     *queue
	sendQueue []models.NavigationBatch
}

func NewProcessor(cfg Config, logger zerolog.Logger) *Processor {
	if cfg.QuiescenceTimeout <= 0 {
		cfg.QuiescenceTimeout = DefaultQuiescenceTimeout
	}
	return &Processor{
		cfg:    cfg,
		logger: logger,
		queue:  newQueue(),
	}
}

// QueueForProcessing appends env to its tab's queue. Nothing is checked
// here; envelopes that cannot be batched are dropped by the next tick.
func (p *Processor) QueueForProcessing(env models.Envelope) {
	p.queue.push(env)
}

// HasOpenNavigation reports whether a navigation is queued for tab, that
// is, whether new activity in the tab has a batch to join.
func (p *Processor) HasOpenNavigation(tab int) bool {
	for _, env := range p.queue.byTab[tab] {
		if env.Type == models.TypeNavigation {
			return true
		}
	}
	return false
}

// ProcessQueue closes every batch whose closing condition holds at now
// and moves it to the send queue. The outcome depends only on the queue
// and now, so repeating a call with the same now closes nothing new.
func (p *Processor) ProcessQueue(now time.Time) TickResult {
	var res TickResult
	for _, tab := range p.queue.tabs() {
		entries := p.queue.take(tab)
		if tab <= models.NoTab {
			p.logger.Warn().
				Int("tab_id", tab).
				Int("envelopes", len(entries)).
				Msg("Dropping queued envelopes without a tab id")
			res.Malformed += len(entries)
			p.queue.restore(tab, nil)
			continue
		}

		closed, kept, orphaned, malformed := p.processTab(tab, entries, now)
		p.queue.restore(tab, kept)
		p.sendQueue = append(p.sendQueue, closed...)
		res.Closed += len(closed)
		res.Orphaned += orphaned
		res.Malformed += malformed
	}

	if res.Closed > 0 || res.Orphaned > 0 || res.Malformed > 0 {
		p.logger.Debug().
			Int("closed", res.Closed).
			Int("orphaned", res.Orphaned).
			Int("malformed", res.Malformed).
			Int("queued", p.queue.len()).
			Msg("Processed navigation batch queue")
	}
	return res
}

func (p *Processor) processTab(tab int, entries []models.Envelope, now time.Time) (closed []models.NavigationBatch, kept []models.Envelope, orphaned, malformed int) {
	valid := entries[:0:0]
	var navigations []int
	for _, env := range entries {
		switch {
		case env.Type == models.TypeNavigation:
			navigations = append(navigations, len(valid))
			valid = append(valid, env)
		case ShouldBeBatched(env):
			valid = append(valid, env)
		default:
			p.logger.Warn().
				Int("tab_id", tab).
				Str("type", string(env.Type)).
				Msg("Dropping envelope that cannot be batched")
			malformed++
		}
	}

	if len(navigations) == 0 {
		for _, env := range valid {
			if p.expired(env, now) {
				orphaned++
				continue
			}
			kept = append(kept, env)
		}
		if orphaned > 0 {
			p.logger.Debug().
				Int("tab_id", tab).
				Int("orphaned", orphaned).
				Msg("Discarding activity no navigation claimed")
		}
		return closed, kept, orphaned, malformed
	}

	// Activity queued ahead of the first navigation belongs to it unless it
	// was already past the quiescence timeout when the navigation happened.
	first := navigations[0]
	leading := valid[:first:first]
	fresh := leading[:0:0]
	for _, env := range leading {
		if valid[first].TimeStamp.Sub(env.TimeStamp) >= p.cfg.QuiescenceTimeout {
			orphaned++
			continue
		}
		fresh = append(fresh, env)
	}
	if shift := first - len(fresh); shift > 0 {
		valid = append(fresh, valid[first:]...)
		for i := range navigations {
			navigations[i] -= shift
		}
		p.logger.Debug().
			Int("tab_id", tab).
			Int("orphaned", shift).
			Msg("Discarding stale activity queued before navigation")
	}

	for i, at := range navigations {
		start, end := at, len(valid)
		if i == 0 {
			start = 0
		}
		last := i == len(navigations)-1
		if !last {
			end = navigations[i+1]
		}
		nav := valid[at]
		if last && !p.expired(nav, now) {
			kept = append(kept, valid[start:end]...)
			break
		}

		children := make([]models.Envelope, 0, end-start-1)
		children = append(children, valid[start:at]...)
		children = append(children, valid[at+1:end]...)
		batch := models.NewNavigationBatch(nav, children...)
		p.logger.Info().
			Int("tab_id", tab).
			Int("children", len(batch.ChildEnvelopes)).
			Bool("superseded", !last).
			Msg("Closed navigation batch")
		closed = append(closed, batch)
	}
	return closed, kept, orphaned, malformed
}

func (p *Processor) expired(env models.Envelope, now time.Time) bool {
	return now.Sub(env.TimeStamp) >= p.cfg.QuiescenceTimeout
}

// NavigationBatchSendQueue returns the closed batches awaiting pickup,
// oldest first.
func (p *Processor) NavigationBatchSendQueue() []models.NavigationBatch {
	return append([]models.NavigationBatch(nil), p.sendQueue...)
}

// DrainSendQueue hands the closed batches to the caller and empties the
// send queue.
func (p *Processor) DrainSendQueue() []models.NavigationBatch {
	batches := p.sendQueue
	p.sendQueue = nil
	return batches
}

// QueueLength is the number of envelopes waiting in the processing queue.
func (p *Processor) QueueLength() int {
	return p.queue.len()
}

func (p *Processor) TabQueueLength(tab int) int {
	return p.queue.tabLen(tab)
}

// Reset clears the processing queue and the send queue.
func (p *Processor) Reset() {
	p.queue.reset()
	p.sendQueue = nil
}
