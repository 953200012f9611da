package car

import (
	"fmt"
	"math"
	"time"

	"github.com/voltplan/voltplan/core/power"
	"github.com/voltplan/voltplan/core/pricing"
)

// Phase is the car charging session phase.
type Phase int

const (
	Off Phase = iota
	On
)

func (p Phase) String() string {
	if p == On {
		return "on"
	}
	return "off"
}

// SessionState is the hysteresis state carried between evaluations. It is
// owned by the caller and passed in explicitly so input sequences can be
// replayed deterministically in tests.
type SessionState struct {
	Phase           Phase     `json:"phase"`
	LockedThreshold float64   `json:"locked_threshold"`
	Since           time.Time `json:"since"`
}

// Config tunes the car charging controller.
type Config struct {
	MinWindow            time.Duration `json:"min_window"`
	GapTolerance         time.Duration `json:"gap_tolerance"`
	PermissiveMultiplier float64       `json:"permissive_multiplier"`
}

func (c *Config) SetDefaults() {
	if c.MinWindow == 0 {
		c.MinWindow = 30 * time.Minute
	}
	if c.GapTolerance == 0 {
		c.GapTolerance = 5 * time.Second
	}
	if c.PermissiveMultiplier == 0 {
		c.PermissiveMultiplier = 1.2
	}
}

func (c Config) Validate() error {
	if c.MinWindow < 0 {
		return fmt.Errorf("car: min_window must not be negative")
	}
	if c.PermissiveMultiplier < 1 {
		return fmt.Errorf("car: permissive_multiplier must be >= 1, got %v", c.PermissiveMultiplier)
	}
	return nil
}

// Decision is the car-side outcome of one evaluation.
type Decision struct {
	ShouldCharge bool    `json:"should_charge"`
	SolarOnly    bool    `json:"solar_only"`
	Reason       string  `json:"reason"`
	Threshold    float64 `json:"threshold"`
	HasWindow    bool    `json:"has_window"`

	// WindowDuration is how long the contiguous low-price window starting
	// now lasts, zero when there is none.
	WindowDuration time.Duration `json:"window_duration"`
}

// Controller decides car grid charging with start/stop hysteresis: starting
// needs a sustained low-price window, stopping is immediate.
type Controller struct {
	cfg Config
}

func NewController(cfg Config) *Controller {
	cfg.SetDefaults()
	return &Controller{cfg: cfg}
}

// Evaluate runs one cycle. It returns the decision and the next session
// state; the caller stores the state for the following cycle.
func (c *Controller) Evaluate(state SessionState, now time.Time, price pricing.Analysis, alloc power.Allocation, permissive bool) (Decision, SessionState) {
	if !price.Available {
		reason := price.Reason
		if reason == "" {
			reason = "price data unavailable"
		}
		return Decision{Reason: reason}, SessionState{Phase: Off, Since: now}
	}

	// Solar earmarked for the car short-circuits the price logic: the car
	// charges from the roof, the grid stays untouched.
	if alloc.Available && alloc.SolarForCarW > 0 {
		return Decision{
			ShouldCharge: true,
			SolarOnly:    true,
			Reason:       fmt.Sprintf("using allocated solar power (%.0fW) for car charging, no grid usage", alloc.SolarForCarW),
		}, state
	}

	threshold := price.EffectiveThreshold

	if state.Phase == On {
		// The locked threshold floors a rolling threshold that drifted down
		// mid-session; an upward revision still applies immediately.
		threshold = math.Max(state.LockedThreshold, threshold)

		// Permissive mode only stretches an in-progress session. Starting
		// still requires the plain effective threshold, and the multiplied
		// value is never locked, so the stretch does not compound.
		marker := ""
		if permissive {
			threshold *= c.cfg.PermissiveMultiplier
			marker = fmt.Sprintf(" [permissive +%.0f%%]", (c.cfg.PermissiveMultiplier-1)*100)
		}

		if price.Current > threshold {
			return Decision{
				Threshold: threshold,
				Reason:    fmt.Sprintf("price %.3f exceeds threshold %.3f, stopping%s", price.Current, threshold, marker),
			}, SessionState{Phase: Off, Since: now}
		}
		return Decision{
			ShouldCharge: true,
			Threshold:    threshold,
			Reason:       fmt.Sprintf("continuing charging, price %.3f at or below threshold %.3f%s", price.Current, threshold, marker),
		}, state
	}

	if price.Current > threshold {
		return Decision{
			Threshold: threshold,
			Reason:    fmt.Sprintf("price too high (%.3f), threshold %.3f", price.Current, threshold),
		}, state
	}

	window := lowPriceWindow(price.Timeline, now, threshold, c.cfg.GapTolerance)
	if window < c.cfg.MinWindow {
		return Decision{
			Threshold:      threshold,
			WindowDuration: window,
			Reason: fmt.Sprintf("price %.3f below threshold but low-price window (%s) shorter than %s minimum",
				price.Current, window, c.cfg.MinWindow),
		}, state
	}

	next := SessionState{Phase: On, LockedThreshold: threshold, Since: now}
	return Decision{
		ShouldCharge:   true,
		Threshold:      threshold,
		HasWindow:      true,
		WindowDuration: window,
		Reason: fmt.Sprintf("starting charging, price %.3f with %s low-price window",
			price.Current, window),
	}, next
}
