package metrics

import (
	"errors"

	"github.com/voltplan/voltplan/core/events"
	coremetrics "github.com/voltplan/voltplan/core/metrics"
)

// MultiSink fans events out to several sinks.
type MultiSink struct {
	sinks []coremetrics.Sink
}

func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) RecordEvaluation(e events.Evaluation) {
	for _, s := range m.sinks {
		s.RecordEvaluation(e)
	}
}

func (m *MultiSink) RecordOverride(e events.OverrideChanged) {
	for _, s := range m.sinks {
		s.RecordOverride(e)
	}
}

func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
