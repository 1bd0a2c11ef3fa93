package telemetry

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"

	"github.com/vincentbai/regrets-agent/internal/models"
)

// Record is the flat form handed to a Sink. Every structured value is
// individually JSON encoded; type and ping sizes are plain strings.
type Record map[string]string

const (
	FieldType                       = "type"
	FieldCalculatedPingSize         = "calculatedPingSize"
	FieldOriginalCalculatedPingSize = "originalCalculatedPingSize"
	FieldTabActiveDwellTime         = "tabActiveDwellTime"
)

// sizePlaceholder stands in for ping sizes while a record is measured.
// Real sizes never have more digits, so filling them in cannot grow the
// record past its measured size.
const sizePlaceholder = "0000000000"

// unknownSize is recorded when a size could not be estimated.
const unknownSize = -1

var payloadTypes = []models.Type{
	models.TypeNavigation,
	models.TypeNavigationBatch,
	models.TypeTrimmedNavigationBatch,
	models.TypeHTTPRequest,
	models.TypeHTTPResponse,
	models.TypeHTTPRedirect,
	models.TypeJavascriptOperation,
	models.TypeJavascriptCookieRecord,
	models.TypeLogEntry,
	models.TypeCapturedContent,
}

// PayloadFields lists the variable size fields a record may carry.
func PayloadFields() []string {
	fields := make([]string, 0, len(payloadTypes))
	for _, t := range payloadTypes {
		key, _ := models.PayloadKey(t)
		fields = append(fields, key)
	}
	return fields
}

// NewRecord stringifies env with placeholder ping sizes. On error the
// returned record still carries the metadata fields.
func NewRecord(env models.StudyPayloadEnvelope) (Record, error) {
	r := Record{
		FieldType:                       string(env.Type),
		FieldCalculatedPingSize:         sizePlaceholder,
		FieldOriginalCalculatedPingSize: sizePlaceholder,
	}
	if env.TabActiveDwellTime != nil {
		r[FieldTabActiveDwellTime] = strconv.FormatInt(*env.TabActiveDwellTime, 10)
	}

	key, ok := models.PayloadKey(env.Type)
	if !ok {
		return r, fmt.Errorf("%w: %q", models.ErrUnknownType, env.Type)
	}
	payload, err := payloadOf(env)
	if err != nil {
		return r, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return r, fmt.Errorf("encoding %s: %w", key, err)
	}
	r[key] = string(data)
	return r, nil
}

func payloadOf(env models.StudyPayloadEnvelope) (any, error) {
	switch env.Type {
	case models.TypeNavigationBatch:
		if env.NavigationBatch == nil {
			return nil, fmt.Errorf("%s: %w", env.Type, models.ErrNilPayload)
		}
		return env.NavigationBatch, nil
	case models.TypeTrimmedNavigationBatch:
		if env.TrimmedNavigationBatch == nil {
			return nil, fmt.Errorf("%s: %w", env.Type, models.ErrNilPayload)
		}
		return *env.TrimmedNavigationBatch, nil
	default:
		if env.Envelope == nil || env.Envelope.Payload == nil {
			return nil, fmt.Errorf("%s: %w", env.Type, models.ErrNilPayload)
		}
		return env.Envelope.Payload, nil
	}
}

// JSONSize is the default size estimate: the length of the record's
// JSON encoding.
func JSONSize(r Record) (int, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

func (r Record) Type() models.Type {
	return models.Type(r[FieldType])
}

func (r Record) CalculatedPingSize() int {
	return r.size(FieldCalculatedPingSize)
}

func (r Record) OriginalCalculatedPingSize() int {
	return r.size(FieldOriginalCalculatedPingSize)
}

func (r Record) size(field string) int {
	n, err := strconv.Atoi(r[field])
	if err != nil {
		return unknownSize
	}
	return n
}

// HasPayload reports whether any variable size field survived.
func (r Record) HasPayload() bool {
	for _, field := range PayloadFields() {
		if _, ok := r[field]; ok {
			return true
		}
	}
	return false
}

func (r Record) Clone() Record {
	return maps.Clone(r)
}

// metadataOnly returns a copy of r without its payload fields.
func (r Record) metadataOnly() Record {
	c := r.Clone()
	for _, field := range PayloadFields() {
		delete(c, field)
	}
	return c
}

func (r Record) withSizes(calculated, original int) Record {
	c := r.Clone()
	c[FieldCalculatedPingSize] = strconv.Itoa(calculated)
	c[FieldOriginalCalculatedPingSize] = strconv.Itoa(original)
	return c
}
