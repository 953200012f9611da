package override

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Target selects which charging decision an override replaces.
type Target string

const (
	TargetBattery Target = "battery"
	TargetCar     Target = "car"
	TargetAll     Target = "all"
)

// ParseTarget validates a wire-format target.
func ParseTarget(s string) (Target, error) {
	switch Target(s) {
	case TargetBattery, TargetCar, TargetAll:
		return Target(s), nil
	default:
		return "", fmt.Errorf("override: unknown target %q", s)
	}
}

// Action is the forced decision.
type Action string

const (
	ForceCharge Action = "force_charge"
	ForceBlock  Action = "force_block"
)

// ParseAction validates a wire-format action.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ForceCharge, ForceBlock:
		return Action(s), nil
	default:
		return "", fmt.Errorf("override: unknown action %q", s)
	}
}

// Override is one manual override with an optional absolute expiry.
type Override struct {
	ID        string     `json:"id"`
	Target    Target     `json:"target"`
	Action    Action     `json:"action"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Active reports whether the override is still live at t.
func (o Override) Active(t time.Time) bool {
	return o.ExpiresAt == nil || o.ExpiresAt.After(t)
}

// Reason describes the override for decision output.
func (o Override) Reason() string {
	verb := "charging forced"
	if o.Action == ForceBlock {
		verb = "charging blocked"
	}
	if o.ExpiresAt == nil {
		return fmt.Sprintf("manual override: %s until cleared", verb)
	}
	return fmt.Sprintf("manual override: %s until %s", verb, o.ExpiresAt.Format(time.RFC3339))
}

// Store keeps at most one override per target. Expired entries are purged
// lazily on read; there is no timer.
type Store struct {
	mu   sync.Mutex
	byID map[Target]Override
	now  func() time.Time
}

func NewStore() *Store {
	return &Store{byID: make(map[Target]Override), now: time.Now}
}

// Set creates or replaces the override for target. duration zero means no
// expiry. Target "all" applies the same override to battery and car
// atomically.
func (s *Store) Set(target Target, action Action, duration time.Duration) Override {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	o := Override{
		ID:        uuid.NewString(),
		Target:    target,
		Action:    action,
		CreatedAt: now,
	}
	if duration > 0 {
		exp := now.Add(duration)
		o.ExpiresAt = &exp
	}

	for _, t := range expand(target) {
		entry := o
		entry.Target = t
		s.byID[t] = entry
	}
	return o
}

// Clear removes the override for target. Target "all" clears both.
func (s *Store) Clear(target Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range expand(target) {
		delete(s.byID, t)
	}
}

// Get returns the live override for target, purging it if expired.
func (s *Store) Get(target Target) (Override, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.byID[target]
	if !ok {
		return Override{}, false
	}
	if !o.Active(s.now()) {
		delete(s.byID, target)
		return Override{}, false
	}
	return o, true
}

// Active returns every live override, purging expired ones.
func (s *Store) Active() []Override {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []Override
	for t, o := range s.byID {
		if !o.Active(now) {
			delete(s.byID, t)
			continue
		}
		out = append(out, o)
	}
	return out
}

func expand(target Target) []Target {
	if target == TargetAll {
		return []Target{TargetBattery, TargetCar}
	}
	return []Target{target}
}
