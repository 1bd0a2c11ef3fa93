package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ReportedRegret is a user's report of a regretted recommendation, as
// submitted by the report form.
type ReportedRegret struct {
	ReportData                      json.RawMessage `json:"reportData"`
	UserSuppliedRegretCategory      string          `json:"userSuppliedRegretCategory"`
	UserSuppliedOtherRegretCategory string          `json:"userSuppliedOtherRegretCategory"`
	UserSuppliedSeverity            *int            `json:"userSuppliedSeverity"`
}

func (r ReportedRegret) Validate() error {
	if len(r.ReportData) == 0 || string(r.ReportData) == "null" || !json.Valid(r.ReportData) {
		return fmt.Errorf("reportData must be valid JSON")
	}
	if r.UserSuppliedSeverity != nil && (*r.UserSuppliedSeverity < 0 || *r.UserSuppliedSeverity > 5) {
		return fmt.Errorf("userSuppliedSeverity %d out of range 0-5", *r.UserSuppliedSeverity)
	}
	return nil
}

type SharedDataEventMetadata struct {
	ClientTimestamp           string `json:"client_timestamp"`
	ExtensionInstallationUUID string `json:"extension_installation_uuid"`
	EventUUID                 string `json:"event_uuid"`
}

// AnnotatedSharedData is data the user chose to share, stamped with
// event metadata when it was stored.
type AnnotatedSharedData struct {
	ReportedRegret *ReportedRegret         `json:"reportedRegret,omitempty"`
	EventMetadata  SharedDataEventMetadata `json:"event_metadata"`
}

func NewSharedDataEventMetadata(installationUUID, eventUUID string, at time.Time) SharedDataEventMetadata {
	return SharedDataEventMetadata{
		ClientTimestamp:           FormatTimeStamp(at),
		ExtensionInstallationUUID: installationUUID,
		EventUUID:                 eventUUID,
	}
}
