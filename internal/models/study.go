package models

// StudyPayloadEnvelope is a unit ready for the telemetry sender: a single
// envelope, a closed navigation batch, or a trimmed navigation batch.
// Exactly one of the pointer fields is set, matching Type.
type StudyPayloadEnvelope struct {
	Type                   Type
	Envelope               *Envelope
	NavigationBatch        *NavigationBatch
	TrimmedNavigationBatch *TrimmedNavigationBatch
	TabActiveDwellTime     *int64
}

func ForEnvelope(env Envelope) StudyPayloadEnvelope {
	return StudyPayloadEnvelope{
		Type:               env.Type,
		Envelope:           &env,
		TabActiveDwellTime: env.TabActiveDwellTime,
	}
}

func ForNavigationBatch(batch NavigationBatch) StudyPayloadEnvelope {
	return StudyPayloadEnvelope{
		Type:               TypeNavigationBatch,
		NavigationBatch:    &batch,
		TabActiveDwellTime: batch.NavigationEnvelope.TabActiveDwellTime,
	}
}

func ForTrimmedNavigationBatch(batch TrimmedNavigationBatch, tabActiveDwellTime *int64) StudyPayloadEnvelope {
	return StudyPayloadEnvelope{
		Type:                   TypeTrimmedNavigationBatch,
		TrimmedNavigationBatch: &batch,
		TabActiveDwellTime:     tabActiveDwellTime,
	}
}

// Trimmable reports whether the envelope is a navigation batch with
// children that prefix trimming could drop.
func (s StudyPayloadEnvelope) Trimmable() bool {
	return s.Type == TypeNavigationBatch &&
		s.NavigationBatch != nil &&
		len(s.NavigationBatch.ChildEnvelopes) > 0
}
