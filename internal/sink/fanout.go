// Package sink holds telemetry.Sink implementations beyond local storage.
package sink

import (
	"context"
	"errors"

	"github.com/vincentbai/regrets-agent/internal/telemetry"
)

// Fanout submits every record to all of its sinks. One sink failing does
// not keep the record from the others.
type Fanout struct {
	sinks []telemetry.Sink
}

func NewFanout(sinks ...telemetry.Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Submit(ctx context.Context, record telemetry.Record) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Submit(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
