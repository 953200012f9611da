package metrics

import "github.com/voltplan/voltplan/core/events"

// Sink receives evaluation results for export. Implementations live under
// infra/metrics.
type Sink interface {
	RecordEvaluation(e events.Evaluation)
	RecordOverride(e events.OverrideChanged)
	Close() error
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) RecordEvaluation(events.Evaluation)    {}
func (NopSink) RecordOverride(events.OverrideChanged) {}
func (NopSink) Close() error                          { return nil }
