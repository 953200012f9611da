package mqtt

import (
	"fmt"
	"sync"

	"github.com/voltplan/voltplan/core/events"
)

// Publisher pushes planner output to the broker.
type Publisher interface {
	PublishDecision(ev events.Evaluation) error
	PublishOverride(ev events.OverrideChanged) error
	Disconnect()
}

// MockPublisher is a simple publisher used in tests.
type MockPublisher struct {
	Decisions []events.Evaluation
	Overrides []events.OverrideChanged
	Fail      bool
	mu        sync.Mutex
}

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishDecision records the evaluation or returns an error if configured
// to fail.
func (m *MockPublisher) PublishDecision(ev events.Evaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return fmt.Errorf("publish failed")
	}
	m.Decisions = append(m.Decisions, ev)
	return nil
}

// PublishOverride records the override change.
func (m *MockPublisher) PublishOverride(ev events.OverrideChanged) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return fmt.Errorf("publish failed")
	}
	m.Overrides = append(m.Overrides, ev)
	return nil
}

// Disconnect is a no-op.
func (m *MockPublisher) Disconnect() {}

// Count returns the number of recorded decisions.
func (m *MockPublisher) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Decisions)
}
