package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type tags the instrumentation source of an envelope, and the kind of
// study payload handed to the telemetry sender.
type Type string

const (
	TypeNavigation             Type = "navigations"
	TypeHTTPRequest            Type = "http_requests"
	TypeHTTPResponse           Type = "http_responses"
	TypeHTTPRedirect           Type = "http_redirects"
	TypeJavascriptOperation    Type = "javascript"
	TypeJavascriptCookieRecord Type = "javascript_cookies"
	TypeLogEntry               Type = "openwpm_log"
	TypeCapturedContent        Type = "openwpm_captured_content"

	TypeNavigationBatch        Type = "navigation_batches"
	TypeTrimmedNavigationBatch Type = "trimmed_navigation_batches"
)

// NoTab is the tab id of envelopes that are not attributable to a
// visible browser tab.
const NoTab = 0

var (
	ErrUnknownType      = errors.New("unknown envelope type")
	ErrNilPayload       = errors.New("envelope payload is nil")
	ErrMissingTimeStamp = errors.New("envelope has no time stamp")
)

// PayloadKey returns the field name a payload of type t is carried under,
// both in an envelope's wire form and in a telemetry record.
func PayloadKey(t Type) (string, bool) {
	switch t {
	case TypeNavigation:
		return "navigation", true
	case TypeHTTPRequest:
		return "httpRequest", true
	case TypeHTTPResponse:
		return "httpResponse", true
	case TypeHTTPRedirect:
		return "httpRedirect", true
	case TypeJavascriptOperation:
		return "javascriptOperation", true
	case TypeJavascriptCookieRecord:
		return "javascriptCookieRecord", true
	case TypeLogEntry:
		return "logEntry", true
	case TypeCapturedContent:
		return "capturedContent", true
	case TypeNavigationBatch:
		return "navigationBatch", true
	case TypeTrimmedNavigationBatch:
		return "trimmedNavigationBatch", true
	}
	return "", false
}

// ParseTimeStamp parses the ISO 8601 time stamps emitted by the
// instrumentation, e.g. "2018-11-23T01:34:40.475Z".
func ParseTimeStamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// FormatTimeStamp is the inverse of ParseTimeStamp with millisecond precision.
func FormatTimeStamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// Envelope is one unit of instrumentation data. Build envelopes with
// NewEnvelope so that Type, TabID and TimeStamp always agree with the
// payload; treat them as immutable afterwards.
type Envelope struct {
	Type      Type
	TabID     int
	TimeStamp time.Time
	Payload   Payload

	// TabActiveDwellTime is the active dwell time in milliseconds of the
	// envelope's tab when it was recorded, if known.
	TabActiveDwellTime *int64
}

// NewEnvelope wraps p. Tab scoped payloads supply their own tab id and
// time stamp; others are stamped with capturedAt.
func NewEnvelope(p Payload, capturedAt time.Time) (Envelope, error) {
	if p == nil {
		return Envelope{}, ErrNilPayload
	}
	env := Envelope{
		Type:      p.payloadType(),
		TabID:     NoTab,
		TimeStamp: capturedAt,
		Payload:   p,
	}
	if f, ok := p.(framed); ok {
		frame := f.frame()
		env.TabID = frame.TabID
		if frame.TimeStamp != "" {
			ts, err := ParseTimeStamp(frame.TimeStamp)
			if err != nil {
				return Envelope{}, fmt.Errorf("invalid %s time stamp %q: %w", env.Type, frame.TimeStamp, err)
			}
			env.TimeStamp = ts
		}
	}
	if env.TimeStamp.IsZero() {
		return Envelope{}, fmt.Errorf("%s: %w", env.Type, ErrMissingTimeStamp)
	}
	return env, nil
}

// WithTabActiveDwellTime returns a copy of e annotated with the tab's
// active dwell time in milliseconds.
func (e Envelope) WithTabActiveDwellTime(ms int64) Envelope {
	e.TabActiveDwellTime = &ms
	return e
}

// Frame returns the frame context of tab scoped payloads.
func (e Envelope) Frame() (Frame, bool) {
	f, ok := e.Payload.(framed)
	if !ok {
		return Frame{}, false
	}
	return f.frame(), true
}

// Clone returns a copy of e that shares no mutable state with it.
// Payloads are value types, so only the dwell time pointer needs copying.
func (e Envelope) Clone() Envelope {
	if e.TabActiveDwellTime != nil {
		ms := *e.TabActiveDwellTime
		e.TabActiveDwellTime = &ms
	}
	return e
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	key, ok := PayloadKey(e.Type)
	if !ok || e.Payload == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	fields := map[string]any{
		"type":      e.Type,
		"timeStamp": FormatTimeStamp(e.TimeStamp),
		key:         e.Payload,
	}
	if e.TabActiveDwellTime != nil {
		fields["tabActiveDwellTime"] = *e.TabActiveDwellTime
	}
	return json.Marshal(fields)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var t Type
	if err := json.Unmarshal(raw["type"], &t); err != nil {
		return fmt.Errorf("envelope type: %w", err)
	}
	key, ok := PayloadKey(t)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	body, ok := raw[key]
	if !ok {
		return fmt.Errorf("%s envelope is missing its %q payload", t, key)
	}
	payload, err := decodePayload(t, body)
	if err != nil {
		return fmt.Errorf("decoding %s payload: %w", t, err)
	}

	capturedAt := time.Now().UTC()
	if ts, ok := raw["timeStamp"]; ok {
		var s string
		if err := json.Unmarshal(ts, &s); err != nil {
			return fmt.Errorf("envelope time stamp: %w", err)
		}
		if capturedAt, err = ParseTimeStamp(s); err != nil {
			return fmt.Errorf("envelope time stamp: %w", err)
		}
	}
	env, err := NewEnvelope(payload, capturedAt)
	if err != nil {
		return err
	}
	if dwell, ok := raw["tabActiveDwellTime"]; ok && string(dwell) != "null" {
		var ms int64
		if err := json.Unmarshal(dwell, &ms); err != nil {
			return fmt.Errorf("tab active dwell time: %w", err)
		}
		env.TabActiveDwellTime = &ms
	}
	*e = env
	return nil
}

func decodePayload(t Type, data []byte) (Payload, error) {
	switch t {
	case TypeNavigation:
		return decodeAs[Navigation](data)
	case TypeHTTPRequest:
		return decodeAs[HTTPRequest](data)
	case TypeHTTPResponse:
		return decodeAs[HTTPResponse](data)
	case TypeHTTPRedirect:
		return decodeAs[HTTPRedirect](data)
	case TypeJavascriptOperation:
		return decodeAs[JavascriptOperation](data)
	case TypeJavascriptCookieRecord:
		return decodeAs[JavascriptCookieRecord](data)
	case TypeLogEntry:
		return decodeAs[LogEntry](data)
	case TypeCapturedContent:
		return decodeAs[CapturedContent](data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
}

func decodeAs[T Payload](data []byte) (Payload, error) {
	var p T
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}
