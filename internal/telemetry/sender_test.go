package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentbai/regrets-agent/internal/models"
)

var t0 = time.Date(2020, 3, 31, 10, 13, 9, 0, time.UTC)

type fakeSink struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (f *fakeSink) Submit(_ context.Context, record Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return f.err
}

func (f *fakeSink) last(t *testing.T) Record {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.records)
	return f.records[len(f.records)-1]
}

func frameAt(tab int, ts time.Time) models.Frame {
	return models.Frame{TabID: tab, WindowID: 1, TimeStamp: models.FormatTimeStamp(ts)}
}

func mustEnvelope(t *testing.T, p models.Payload) models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(p, t0)
	require.NoError(t, err)
	return env
}

func navigation(t *testing.T, url string) models.Envelope {
	return mustEnvelope(t, models.Navigation{
		TabID:              1,
		URL:                url,
		CommittedTimeStamp: models.FormatTimeStamp(t0),
	})
}

func child(t *testing.T, kind string, i int, value string) models.Envelope {
	ts := t0.Add(time.Duration(i+1) * 50 * time.Millisecond)
	switch kind {
	case "req":
		return mustEnvelope(t, models.HTTPRequest{Frame: frameAt(1, ts), URL: "https://www.youtube.com/", Method: "GET"})
	case "resp":
		return mustEnvelope(t, models.HTTPResponse{Frame: frameAt(1, ts), URL: "https://www.youtube.com/", ResponseStatus: 200})
	case "redirect":
		return mustEnvelope(t, models.HTTPRedirect{Frame: frameAt(1, ts), NewRequestURL: "https://www.youtube.com/"})
	default:
		return mustEnvelope(t, models.JavascriptOperation{Frame: frameAt(1, ts), Symbol: "window.name", Value: value})
	}
}

// batchWithOversizedValues has 15 children; those at index 4 and 10 carry
// a javascript value of about 330 KB.
func batchWithOversizedValues(t *testing.T) models.NavigationBatch {
	big := strings.Repeat("01234567890", 30000)
	kinds := []string{"req", "resp", "js", "js", "big", "req", "resp", "js", "js", "js", "big", "js", "js", "js", "js"}
	children := make([]models.Envelope, 0, len(kinds))
	for i, kind := range kinds {
		value := "1"
		if kind == "big" {
			kind, value = "js", big
		}
		children = append(children, child(t, kind, i, value))
	}
	return models.NewNavigationBatch(navigation(t, "https://www.youtube.com/watch?v=1"), children...)
}

func newTestSender(sink Sink, opts ...Option) *Sender {
	return NewSender(DefaultConfig(), sink, zerolog.Nop(), opts...)
}

func requireWithinThreshold(t *testing.T, record Record, threshold int) {
	t.Helper()
	size, err := JSONSize(record)
	require.NoError(t, err)
	assert.LessOrEqual(t, size, threshold)
	assert.LessOrEqual(t, size, record.CalculatedPingSize(), "filled in sizes must not grow the record")
}

func TestSendSmallEnvelopeUnchanged(t *testing.T) {
	sink := &fakeSink{}
	s := newTestSender(sink)
	env := child(t, "req", 0, "").WithTabActiveDwellTime(2500)

	record := s.SendStudyPayloadEnvelope(context.Background(), models.ForEnvelope(env))

	assert.Equal(t, record, sink.last(t))
	assert.Equal(t, models.TypeHTTPRequest, record.Type())
	assert.Equal(t, "2500", record[FieldTabActiveDwellTime])
	assert.Equal(t, record.CalculatedPingSize(), record.OriginalCalculatedPingSize())
	assert.Positive(t, record.CalculatedPingSize())

	var payload models.HTTPRequest
	require.NoError(t, json.Unmarshal([]byte(record["httpRequest"]), &payload))
	assert.Equal(t, "https://www.youtube.com/", payload.URL)
	requireWithinThreshold(t, record, DefaultThresholdBytes)
	assert.Equal(t, Stats{Sent: 1}, s.Stats())
}

func TestSendSmallNavigationBatchIsNotTrimmed(t *testing.T) {
	sink := &fakeSink{}
	s := newTestSender(sink)
	batch := models.NewNavigationBatch(navigation(t, "https://www.youtube.com/"),
		child(t, "req", 0, ""), child(t, "resp", 1, ""))

	record := s.SendStudyPayloadEnvelope(context.Background(), models.ForNavigationBatch(batch))

	assert.Equal(t, models.TypeNavigationBatch, record.Type())
	require.Contains(t, record, "navigationBatch")
	var decoded struct {
		ChildEnvelopes    []json.RawMessage `json:"childEnvelopes"`
		HTTPRequestCount  int               `json:"httpRequestCount"`
		HTTPResponseCount int               `json:"httpResponseCount"`
	}
	require.NoError(t, json.Unmarshal([]byte(record["navigationBatch"]), &decoded))
	assert.Len(t, decoded.ChildEnvelopes, 2)
	assert.Equal(t, 1, decoded.HTTPRequestCount)
	assert.Equal(t, 1, decoded.HTTPResponseCount)
}

func TestSendTrimsOversizedNavigationBatch(t *testing.T) {
	sink := &fakeSink{}
	s := newTestSender(sink)
	batch := batchWithOversizedValues(t)
	before := batch.Trim(len(batch.ChildEnvelopes)).ChildEnvelopes

	record := s.SendStudyPayloadEnvelope(context.Background(), models.ForNavigationBatch(batch))

	assert.Equal(t, models.TypeTrimmedNavigationBatch, record.Type())
	assert.NotContains(t, record, "navigationBatch")
	assert.Greater(t, record.OriginalCalculatedPingSize(), DefaultThresholdBytes)
	assert.LessOrEqual(t, record.CalculatedPingSize(), DefaultThresholdBytes-DefaultSafetyMarginBytes)
	requireWithinThreshold(t, record, DefaultThresholdBytes)

	var decoded struct {
		ChildEnvelopes                  []json.RawMessage `json:"childEnvelopes"`
		HTTPRequestCount                int               `json:"httpRequestCount"`
		HTTPResponseCount               int               `json:"httpResponseCount"`
		JavascriptOperationCount        int               `json:"javascriptOperationCount"`
		TrimmedHTTPRequestCount         int               `json:"trimmedHttpRequestCount"`
		TrimmedHTTPResponseCount        int               `json:"trimmedHttpResponseCount"`
		TrimmedHTTPRedirectCount        int               `json:"trimmedHttpRedirectCount"`
		TrimmedJavascriptOperationCount int               `json:"trimmedJavascriptOperationCount"`
	}
	require.NoError(t, json.Unmarshal([]byte(record["trimmedNavigationBatch"]), &decoded))
	assert.Len(t, decoded.ChildEnvelopes, 10, "prefix stops before the second oversized value")
	assert.Equal(t, 2, decoded.HTTPRequestCount)
	assert.Equal(t, 2, decoded.HTTPResponseCount)
	assert.Equal(t, 11, decoded.JavascriptOperationCount)
	assert.Equal(t, 2, decoded.TrimmedHTTPRequestCount)
	assert.Equal(t, 2, decoded.TrimmedHTTPResponseCount)
	assert.Equal(t, 0, decoded.TrimmedHTTPRedirectCount)
	assert.Equal(t, 6, decoded.TrimmedJavascriptOperationCount)

	assert.Len(t, batch.ChildEnvelopes, 15, "original batch is not mutated")
	assert.Equal(t, before, batch.ChildEnvelopes)
	assert.Equal(t, Stats{Sent: 1, Trimmed: 1}, s.Stats())
}

func TestSendTrimmedBatchSizeIsMonotonic(t *testing.T) {
	batch := batchWithOversizedValues(t)
	previous := 0
	for n := 0; n <= len(batch.ChildEnvelopes); n++ {
		record, err := NewRecord(models.ForTrimmedNavigationBatch(batch.Trim(n), nil))
		require.NoError(t, err)
		size, err := JSONSize(record)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, size, previous, "prefix of %d children", n)
		previous = size
	}
}

func TestSendKeepsNavigationWhenFirstChildDoesNotFit(t *testing.T) {
	sink := &fakeSink{}
	s := newTestSender(sink)
	huge := strings.Repeat("x", DefaultThresholdBytes)
	batch := models.NewNavigationBatch(navigation(t, "https://www.youtube.com/"),
		child(t, "js", 0, huge), child(t, "req", 1, ""))

	record := s.SendStudyPayloadEnvelope(context.Background(), models.ForNavigationBatch(batch))

	assert.Equal(t, models.TypeTrimmedNavigationBatch, record.Type())
	var decoded struct {
		ChildEnvelopes           []json.RawMessage `json:"childEnvelopes"`
		NavigationEnvelope       json.RawMessage   `json:"navigationEnvelope"`
		JavascriptOperationCount int               `json:"javascriptOperationCount"`
	}
	require.NoError(t, json.Unmarshal([]byte(record["trimmedNavigationBatch"]), &decoded))
	assert.Empty(t, decoded.ChildEnvelopes)
	assert.NotEmpty(t, decoded.NavigationEnvelope)
	assert.Equal(t, 1, decoded.JavascriptOperationCount)
	requireWithinThreshold(t, record, DefaultThresholdBytes)
}

func TestSendOversizedNavigationFallsBackToMetadata(t *testing.T) {
	sink := &fakeSink{}
	s := newTestSender(sink)
	url := "https://www.youtube.com/results?q=" + strings.Repeat("a", DefaultThresholdBytes)
	batch := models.NewNavigationBatch(navigation(t, url), child(t, "req", 0, ""))
	dwell := int64(1200)
	batch.NavigationEnvelope = batch.NavigationEnvelope.WithTabActiveDwellTime(dwell)

	record := s.SendStudyPayloadEnvelope(context.Background(), models.ForNavigationBatch(batch))

	assert.Equal(t, models.TypeTrimmedNavigationBatch, record.Type())
	assert.False(t, record.HasPayload())
	assert.Equal(t, "1200", record[FieldTabActiveDwellTime])
	assert.Greater(t, record.OriginalCalculatedPingSize(), DefaultThresholdBytes)
	requireWithinThreshold(t, record, DefaultThresholdBytes)
	assert.Equal(t, Stats{Sent: 1, Trimmed: 1, Dropped: 1}, s.Stats())
}

func TestSendOversizedSingletonDropsPayload(t *testing.T) {
	sink := &fakeSink{}
	s := newTestSender(sink)
	content := mustEnvelope(t, models.CapturedContent{
		Frame:          frameAt(1, t0),
		DecodedContent: strings.Repeat("<p>", DefaultThresholdBytes/2),
		ContentHash:    "d41d8cd98f00b204e9800998ecf8427e",
	})

	record := s.SendStudyPayloadEnvelope(context.Background(), models.ForEnvelope(content))

	assert.Equal(t, models.TypeCapturedContent, record.Type())
	assert.NotContains(t, record, "capturedContent")
	assert.Contains(t, record, FieldCalculatedPingSize)
	assert.Greater(t, record.OriginalCalculatedPingSize(), DefaultThresholdBytes)
	requireWithinThreshold(t, record, DefaultThresholdBytes)
	assert.Len(t, sink.records, 1, "the unit itself is never dropped")
}

func TestSendEstimatorFailure(t *testing.T) {
	t.Run("singleton is sent without payload", func(t *testing.T) {
		sink := &fakeSink{}
		s := newTestSender(sink, WithSizeEstimator(func(Record) (int, error) {
			return 0, errors.New("estimator unavailable")
		}))

		record := s.SendStudyPayloadEnvelope(context.Background(), models.ForEnvelope(child(t, "req", 0, "")))

		assert.False(t, record.HasPayload())
		assert.Equal(t, -1, record.OriginalCalculatedPingSize())
		assert.Positive(t, record.CalculatedPingSize())
		assert.Len(t, sink.records, 1)
	})

	t.Run("batch is trimmed rather than lost", func(t *testing.T) {
		sink := &fakeSink{}
		calls := 0
		s := newTestSender(sink, WithSizeEstimator(func(r Record) (int, error) {
			calls++
			if calls == 1 {
				return 0, errors.New("transient")
			}
			return JSONSize(r)
		}))
		batch := models.NewNavigationBatch(navigation(t, "https://www.youtube.com/"),
			child(t, "req", 0, ""), child(t, "resp", 1, ""))

		record := s.SendStudyPayloadEnvelope(context.Background(), models.ForNavigationBatch(batch))

		assert.Equal(t, models.TypeTrimmedNavigationBatch, record.Type())
		var decoded struct {
			ChildEnvelopes []json.RawMessage `json:"childEnvelopes"`
		}
		require.NoError(t, json.Unmarshal([]byte(record["trimmedNavigationBatch"]), &decoded))
		assert.Len(t, decoded.ChildEnvelopes, 2)
	})
}

func TestSendRespectsIterationCap(t *testing.T) {
	sink := &fakeSink{}
	cfg := DefaultConfig()
	cfg.ThresholdBytes = 8 * 1024
	cfg.MaxTrimIterations = 3
	s := NewSender(cfg, sink, zerolog.Nop())

	children := make([]models.Envelope, 0, 40)
	for i := range 40 {
		children = append(children, child(t, "js", i, strings.Repeat("v", 400)))
	}
	batch := models.NewNavigationBatch(navigation(t, "https://www.youtube.com/"), children...)

	record := s.SendStudyPayloadEnvelope(context.Background(), models.ForNavigationBatch(batch))

	var decoded struct {
		ChildEnvelopes []json.RawMessage `json:"childEnvelopes"`
	}
	require.NoError(t, json.Unmarshal([]byte(record["trimmedNavigationBatch"]), &decoded))
	assert.Len(t, decoded.ChildEnvelopes, 3)
}

func TestSendCountsSinkFailures(t *testing.T) {
	sink := &fakeSink{err: errors.New("disk full")}
	s := newTestSender(sink)

	s.SendStudyPayloadEnvelope(context.Background(), models.ForEnvelope(child(t, "req", 0, "")))

	assert.Equal(t, Stats{SinkFailures: 1}, s.Stats())
}

func TestSendNeverExceedsThreshold(t *testing.T) {
	cfg := Config{ThresholdBytes: 16 * 1024, SafetyMarginBytes: 512, MaxTrimIterations: 1000}
	rng := rand.New(rand.NewPCG(7, 11))
	kinds := []string{"req", "resp", "redirect", "js"}

	for round := range 50 {
		sink := &fakeSink{}
		s := NewSender(cfg, sink, zerolog.Nop())

		url := "https://www.youtube.com/watch?v=" + strings.Repeat("u", rng.IntN(cfg.ThresholdBytes*2))
		children := make([]models.Envelope, 0, 30)
		for i := range rng.IntN(30) {
			value := strings.Repeat("v", rng.IntN(cfg.ThresholdBytes/2))
			children = append(children, child(t, kinds[rng.IntN(len(kinds))], i, value))
		}
		batch := models.NewNavigationBatch(navigation(t, url), children...)

		record := s.SendStudyPayloadEnvelope(context.Background(), models.ForNavigationBatch(batch))

		size, err := JSONSize(record)
		require.NoError(t, err)
		require.LessOrEqual(t, size, cfg.ThresholdBytes, "round %d", round)
		require.Equal(t, models.CountEnvelopes(children), batch.Counts, "round %d", round)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"zero threshold", Config{ThresholdBytes: 0, MaxTrimIterations: 1}, true},
		{"margin swallows threshold", Config{ThresholdBytes: 100, SafetyMarginBytes: 100, MaxTrimIterations: 1}, true},
		{"negative margin", Config{ThresholdBytes: 100, SafetyMarginBytes: -1, MaxTrimIterations: 1}, true},
		{"no iterations", Config{ThresholdBytes: 100, SafetyMarginBytes: 10}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
