// Package telemetry turns study payload envelopes into size bounded
// records and hands them to a Sink.
//
// A record over the threshold is reduced before sending. Navigation
// batches are trimmed to the longest prefix of their children that fits
// under the threshold less a safety margin; the trimmed batch is then
// checked again. Anything else that is too large loses its payload and
// is sent with its metadata only.
package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/vincentbai/regrets-agent/internal/models"
)

const (
	DefaultThresholdBytes    = 1024 * 500
	DefaultSafetyMarginBytes = 1024
	DefaultMaxTrimIterations = 1000
)

// Sink receives every record the sender produces.
type Sink interface {
	Submit(ctx context.Context, record Record) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, record Record) error

func (f SinkFunc) Submit(ctx context.Context, record Record) error {
	return f(ctx, record)
}

// SizeEstimator returns the serialized size of a record in bytes. An error
// means the size is unknown and the record is treated as oversized.
type SizeEstimator func(Record) (int, error)

type Config struct {
	ThresholdBytes    int
	SafetyMarginBytes int
	MaxTrimIterations int
}

func DefaultConfig() Config {
	return Config{
		ThresholdBytes:    DefaultThresholdBytes,
		SafetyMarginBytes: DefaultSafetyMarginBytes,
		MaxTrimIterations: DefaultMaxTrimIterations,
	}
}

func (c Config) Validate() error {
	if c.ThresholdBytes <= 0 {
		return fmt.Errorf("threshold must be positive, got %d", c.ThresholdBytes)
	}
	if c.SafetyMarginBytes < 0 || c.SafetyMarginBytes >= c.ThresholdBytes {
		return fmt.Errorf("safety margin %d must be within [0, %d)", c.SafetyMarginBytes, c.ThresholdBytes)
	}
	if c.MaxTrimIterations <= 0 {
		return fmt.Errorf("max trim iterations must be positive, got %d", c.MaxTrimIterations)
	}
	return nil
}

// Stats counts sender outcomes since construction.
type Stats struct {
	Sent         uint64
	Trimmed      uint64
	Dropped      uint64
	SinkFailures uint64
}

type Option func(*Sender)

func WithSizeEstimator(estimate SizeEstimator) Option {
	return func(s *Sender) {
		s.estimate = estimate
	}
}

// Sender is safe for concurrent use if its Sink is.
type Sender struct {
	cfg      Config
	sink     Sink
	logger   zerolog.Logger
	estimate SizeEstimator

	sent         atomic.Uint64
	trimmed      atomic.Uint64
	dropped      atomic.Uint64
	sinkFailures atomic.Uint64
}

func NewSender(cfg Config, sink Sink, logger zerolog.Logger, opts ...Option) *Sender {
	s := &Sender{
		cfg:      cfg,
		sink:     sink,
		logger:   logger,
		estimate: JSONSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sender) Config() Config { return s.cfg }

func (s *Sender) Stats() Stats {
	return Stats{
		Sent:         s.sent.Load(),
		Trimmed:      s.trimmed.Load(),
		Dropped:      s.dropped.Load(),
		SinkFailures: s.sinkFailures.Load(),
	}
}

// prepared is a record together with its measured size. err is set when
// the record could not be built or measured.
type prepared struct {
	record   Record
	size     int
	original int
	err      error
}

func (p prepared) fits(limit int) bool {
	return p.err == nil && p.size <= limit
}

func (p prepared) final() Record {
	size := p.size
	if p.err != nil {
		size = unknownSize
	}
	return p.record.withSizes(size, p.original)
}

// SendStudyPayloadEnvelope sends env to the sink, reducing it first if it
// is over the threshold, and returns the record that was submitted. Sink
// failures are logged and counted, never returned.
func (s *Sender) SendStudyPayloadEnvelope(ctx context.Context, env models.StudyPayloadEnvelope) Record {
	p := s.prepare(env)
	if p.err == nil {
		p.original = p.size
	}
	p = s.ensureUnderThreshold(p, env)
	record := p.final()
	s.submit(ctx, record)
	return record
}

// prepare builds and measures the record of env. The original size is
// left unknown for the caller to fill in.
func (s *Sender) prepare(env models.StudyPayloadEnvelope) prepared {
	record, err := NewRecord(env)
	if err != nil {
		s.logger.Warn().Err(err).Str("type", string(env.Type)).Msg("Failed to stringify study payload")
		return prepared{record: record, original: unknownSize, err: err}
	}
	size, err := s.estimate(record)
	if err != nil {
		s.logger.Warn().Err(err).Str("type", string(env.Type)).Msg("Failed to estimate ping size")
		return prepared{record: record, original: unknownSize, err: err}
	}
	return prepared{record: record, size: size, original: unknownSize}
}

func (s *Sender) ensureUnderThreshold(p prepared, env models.StudyPayloadEnvelope) prepared {
	if p.fits(s.cfg.ThresholdBytes) {
		return p
	}
	if env.Trimmable() {
		s.trimmed.Add(1)
		return s.trimNavigationBatch(p, env)
	}
	s.dropped.Add(1)
	return s.dropPayload(p)
}

// trimNavigationBatch grows a prefix of the batch's children one child at
// a time and keeps the longest one that fits under the threshold less the
// safety margin. When no prefix fits, the navigation is sent alone.
func (s *Sender) trimNavigationBatch(p prepared, env models.StudyPayloadEnvelope) prepared {
	batch := env.NavigationBatch
	budget := s.cfg.ThresholdBytes - s.cfg.SafetyMarginBytes
	children := len(batch.ChildEnvelopes)

	best := s.trimmedCandidate(batch, 0, env.TabActiveDwellTime, p.original)
	for n := 1; n <= children && n <= s.cfg.MaxTrimIterations; n++ {
		candidate := s.trimmedCandidate(batch, n, env.TabActiveDwellTime, p.original)
		if !candidate.prepared.fits(budget) {
			break
		}
		best = candidate
	}

	kept := best.env.TrimmedNavigationBatch.TrimmedCounts.Total()
	s.logger.Debug().
		Int("children", children).
		Int("kept", kept).
		Int("original_size", p.original).
		Msg("Trimmed navigation batch")
	return s.ensureUnderThreshold(best.prepared, best.env)
}

type candidate struct {
	env      models.StudyPayloadEnvelope
	prepared prepared
}

func (s *Sender) trimmedCandidate(batch *models.NavigationBatch, n int, dwell *int64, original int) candidate {
	env := models.ForTrimmedNavigationBatch(batch.Trim(n), dwell)
	p := s.prepare(env)
	p.original = original
	return candidate{env: env, prepared: p}
}

// dropPayload keeps only the metadata of p. A metadata record is always
// measurable with JSONSize, so it is the fallback estimate.
func (s *Sender) dropPayload(p prepared) prepared {
	record := p.record.metadataOnly()
	size, err := s.estimate(record)
	if err != nil {
		size, err = JSONSize(record)
	}
	s.logger.Warn().
		Str("type", record[FieldType]).
		Int("original_size", p.original).
		Msg("Dropped oversized payload, sending metadata only")
	return prepared{record: record, size: size, original: p.original, err: err}
}

func (s *Sender) submit(ctx context.Context, record Record) {
	size := record.CalculatedPingSize()
	original := record.OriginalCalculatedPingSize()

	event := s.logger.Info().
		Str("type", record[FieldType]).
		Int("calculated_ping_size", size).
		Int("original_calculated_ping_size", original)
	if original > s.cfg.ThresholdBytes {
		event.Msgf("Calculated ping size of the submitted %s ping: %s - trimmed down from %s since the size exceeded %s",
			record.Type(), humanSize(size), humanSize(original), humanize.IBytes(uint64(s.cfg.ThresholdBytes)))
	} else {
		event.Msgf("Calculated ping size of the submitted %s ping: %s", record.Type(), humanSize(size))
	}

	if err := s.sink.Submit(ctx, record); err != nil {
		s.sinkFailures.Add(1)
		s.logger.Error().Err(err).Str("type", record[FieldType]).Msg("Failed to submit telemetry record")
		return
	}
	s.sent.Add(1)
}

func humanSize(n int) string {
	if n < 0 {
		return "unknown"
	}
	return humanize.IBytes(uint64(n))
}
