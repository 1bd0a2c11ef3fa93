// Package recorder is the entry point for instrumentation data. It turns
// logs, records and captured content into envelopes and submits them to
// the pipeline while collection is active.
package recorder

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/vincentbai/regrets-agent/internal/models"
)

// Submitter accepts envelopes into the pipeline.
type Submitter interface {
	Submit(ctx context.Context, env models.Envelope)
}

type incognito interface {
	IsIncognito() bool
}

type Recorder struct {
	submitter Submitter
	dwell     *DwellTimeMonitor
	logger    zerolog.Logger
	now       func() time.Time

	paused  atomic.Bool
	private atomic.Bool
}

type Option func(*Recorder)

// WithClock overrides the clock used to stamp envelopes without a time
// stamp of their own.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

func New(submitter Submitter, dwell *DwellTimeMonitor, logger zerolog.Logger, opts ...Option) *Recorder {
	if dwell == nil {
		dwell = NewDwellTimeMonitor()
	}
	r := &Recorder{
		submitter: submitter,
		dwell:     dwell,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) DwellTimeMonitor() *DwellTimeMonitor { return r.dwell }

// Pause stops collection until Resume is called.
func (r *Recorder) Pause() { r.paused.Store(true) }

func (r *Recorder) Resume() { r.paused.Store(false) }

func (r *Recorder) Active() bool { return !r.paused.Load() }

// SetPrivateBrowsing drops everything while the browser is in a private
// context.
func (r *Recorder) SetPrivateBrowsing(private bool) { r.private.Store(private) }

func (r *Recorder) collecting() bool {
	return !r.paused.Load() && !r.private.Load()
}

// LogDebug only logs locally; debug messages are never submitted.
func (r *Recorder) LogDebug(_ context.Context, msg string) {
	if !r.collecting() {
		return
	}
	r.logger.Debug().Str("source", "instrumentation").Msg(msg)
}

func (r *Recorder) LogInfo(ctx context.Context, msg string) { r.log(ctx, zerolog.InfoLevel, "info", msg) }

func (r *Recorder) LogWarn(ctx context.Context, msg string) { r.log(ctx, zerolog.WarnLevel, "warn", msg) }

func (r *Recorder) LogError(ctx context.Context, msg string) {
	r.log(ctx, zerolog.ErrorLevel, "error", msg)
}

func (r *Recorder) LogCritical(ctx context.Context, msg string) {
	r.log(ctx, zerolog.ErrorLevel, "critical", msg)
}

func (r *Recorder) log(ctx context.Context, level zerolog.Level, name, msg string) {
	if !r.collecting() {
		return
	}
	r.logger.WithLevel(level).Str("source", "instrumentation").Msg(msg)
	env, err := models.NewEnvelope(models.LogEntry{Level: name, Msg: msg}, r.now().UTC())
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to wrap log entry")
		return
	}
	r.submitter.Submit(ctx, env)
}

// SaveRecord submits an instrumentation record. Records from incognito
// windows are dropped, and records of a visible tab are annotated with
// the tab's active dwell time when it is known.
func (r *Recorder) SaveRecord(ctx context.Context, record models.Payload) error {
	if !r.collecting() {
		return nil
	}
	if rec, ok := record.(incognito); ok && rec.IsIncognito() {
		return nil
	}
	env, err := models.NewEnvelope(record, r.now().UTC())
	if err != nil {
		return fmt.Errorf("saving record: %w", err)
	}
	r.logger.Debug().Str("type", string(env.Type)).Int("tab_id", env.TabID).Msg("Instrumentation record received")

	if env.TabID > models.NoTab {
		if ms, ok := r.dwell.Get(env.TabID); ok {
			env = env.WithTabActiveDwellTime(ms)
		}
	}
	r.submitter.Submit(ctx, env)
	return nil
}

// SaveContent submits a captured response body. The body is decoded as
// UTF-8 and inherits the frame context of the response it belongs to.
func (r *Recorder) SaveContent(ctx context.Context, content []byte, contentHash string, response models.HTTPResponse) error {
	if !r.collecting() {
		return nil
	}
	r.logger.Debug().
		Str("content_hash", contentHash).
		Str("size", humanize.IBytes(uint64(len(content)))).
		Msg("Captured content received")

	env, err := models.NewEnvelope(models.CapturedContent{
		Frame:          response.Frame,
		DecodedContent: strings.ToValidUTF8(string(content), "\uFFFD"),
		ContentHash:    contentHash,
	}, r.now().UTC())
	if err != nil {
		return fmt.Errorf("saving content %s: %w", contentHash, err)
	}
	r.submitter.Submit(ctx, env)
	return nil
}
