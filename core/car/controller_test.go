package car

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltplan/voltplan/core/model"
	"github.com/voltplan/voltplan/core/power"
	"github.com/voltplan/voltplan/core/pricing"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// timeline builds contiguous hourly intervals starting at testNow.
func timeline(prices ...float64) []model.PriceInterval {
	out := make([]model.PriceInterval, len(prices))
	for i, p := range prices {
		out[i] = model.PriceInterval{
			Start: testNow.Add(time.Duration(i) * time.Hour),
			End:   testNow.Add(time.Duration(i+1) * time.Hour),
			Price: p,
		}
	}
	return out
}

func carPrice(current, threshold float64, tl []model.PriceInterval) pricing.Analysis {
	return pricing.Analysis{
		Available:          true,
		Current:            current,
		EffectiveThreshold: threshold,
		IsLowPrice:         current <= threshold,
		Timeline:           tl,
	}
}

func TestStartRequiresWindow(t *testing.T) {
	c := NewController(Config{MinWindow: time.Hour})

	// Only 1h of low prices, then expensive: exactly meets the minimum.
	price := carPrice(0.10, 0.15, timeline(0.10, 0.20))
	dec, next := c.Evaluate(SessionState{}, testNow, price, power.Allocation{Available: true}, false)

	assert.True(t, dec.ShouldCharge)
	assert.True(t, dec.HasWindow)
	assert.Equal(t, On, next.Phase)
	assert.Equal(t, 0.15, next.LockedThreshold)
}

func TestStartBlockedByShortWindow(t *testing.T) {
	c := NewController(Config{MinWindow: 2 * time.Hour})

	price := carPrice(0.10, 0.15, timeline(0.10, 0.20, 0.10))
	dec, next := c.Evaluate(SessionState{}, testNow, price, power.Allocation{Available: true}, false)

	assert.False(t, dec.ShouldCharge)
	assert.Equal(t, Off, next.Phase)
	assert.Equal(t, time.Hour, dec.WindowDuration)
	assert.Contains(t, dec.Reason, "shorter than")
}

func TestWindowMustStartNowNotLater(t *testing.T) {
	c := NewController(Config{MinWindow: time.Hour})

	// A long cheap window exists later today, but the current hour is not
	// part of it.
	tl := timeline(0.20, 0.10, 0.10, 0.10)
	price := carPrice(0.10, 0.15, tl)

	dec, _ := c.Evaluate(SessionState{}, testNow, price, power.Allocation{Available: true}, false)
	assert.False(t, dec.ShouldCharge)
}

func TestWindowBrokenByGap(t *testing.T) {
	c := NewController(Config{MinWindow: 90 * time.Minute})

	tl := timeline(0.10, 0.10)
	tl[1].Start = tl[1].Start.Add(10 * time.Minute) // data hole
	tl[1].End = tl[1].End.Add(10 * time.Minute)
	price := carPrice(0.10, 0.15, tl)

	dec, _ := c.Evaluate(SessionState{}, testNow, price, power.Allocation{Available: true}, false)
	assert.False(t, dec.ShouldCharge)
	assert.Equal(t, time.Hour, dec.WindowDuration)
}

func TestWindowToleratesSecondsOfSkew(t *testing.T) {
	c := NewController(Config{MinWindow: 90 * time.Minute})

	tl := timeline(0.10, 0.10)
	tl[1].Start = tl[1].Start.Add(3 * time.Second)
	price := carPrice(0.10, 0.15, tl)

	dec, _ := c.Evaluate(SessionState{}, testNow, price, power.Allocation{Available: true}, false)
	assert.True(t, dec.ShouldCharge)
}

func TestStopImmediateWithoutWindowCheck(t *testing.T) {
	c := NewController(Config{MinWindow: time.Hour})

	state := SessionState{Phase: On, LockedThreshold: 0.15}
	price := carPrice(0.20, 0.15, timeline(0.20))

	dec, next := c.Evaluate(state, testNow, price, power.Allocation{Available: true}, false)

	assert.False(t, dec.ShouldCharge)
	assert.Equal(t, Off, next.Phase)
	assert.Zero(t, next.LockedThreshold)
	assert.Contains(t, dec.Reason, "stopping")
}

func TestIdempotentWhileOn(t *testing.T) {
	c := NewController(Config{MinWindow: time.Hour})

	state := SessionState{Phase: On, LockedThreshold: 0.15, Since: testNow.Add(-time.Hour)}
	price := carPrice(0.12, 0.15, nil)

	for i := 0; i < 3; i++ {
		dec, next := c.Evaluate(state, testNow, price, power.Allocation{Available: true}, false)
		assert.True(t, dec.ShouldCharge)
		assert.Equal(t, state, next, "repeated identical input must not change state")
		state = next
	}
}

func TestLockedThresholdFloorsDrift(t *testing.T) {
	c := NewController(Config{MinWindow: time.Hour})

	state := SessionState{Phase: On, LockedThreshold: 0.15}

	// The rolling threshold dropped to 0.10 mid-session; the locked 0.15
	// keeps a 0.13 price acceptable.
	price := carPrice(0.13, 0.10, nil)
	dec, next := c.Evaluate(state, testNow, price, power.Allocation{Available: true}, false)

	assert.True(t, dec.ShouldCharge)
	assert.Equal(t, 0.15, dec.Threshold)
	assert.Equal(t, On, next.Phase)
}

func TestUpwardThresholdRevisionAppliesImmediately(t *testing.T) {
	c := NewController(Config{MinWindow: time.Hour})

	state := SessionState{Phase: On, LockedThreshold: 0.15}
	price := carPrice(0.18, 0.20, nil)

	dec, _ := c.Evaluate(state, testNow, price, power.Allocation{Available: true}, false)
	assert.True(t, dec.ShouldCharge)
	assert.Equal(t, 0.20, dec.Threshold)
}

func TestPermissiveModeExtendsSession(t *testing.T) {
	c := NewController(Config{PermissiveMultiplier: 1.3})

	state := SessionState{Phase: On, LockedThreshold: 0.15}
	price := carPrice(0.18, 0.15, nil)

	// 0.18 > 0.15 would stop the session; permissive raises the bar to 0.195.
	dec, next := c.Evaluate(state, testNow, price, power.Allocation{Available: true}, true)

	assert.True(t, dec.ShouldCharge)
	assert.Equal(t, On, next.Phase)
	assert.Contains(t, dec.Reason, "[permissive +30%]")
	assert.Contains(t, dec.Reason, "continuing")
}

func TestPermissiveDoesNotStartSession(t *testing.T) {
	c := NewController(Config{MinWindow: 30 * time.Minute, PermissiveMultiplier: 1.2})

	state := SessionState{Phase: Off}
	price := carPrice(0.17, 0.15, timeline(0.17, 0.17))

	// 0.17 would pass a 1.2-stretched bar, but starting uses the plain
	// threshold.
	dec, next := c.Evaluate(state, testNow, price, power.Allocation{Available: true}, true)

	assert.False(t, dec.ShouldCharge)
	assert.Equal(t, Off, next.Phase)
	assert.Equal(t, 0.15, dec.Threshold)
	assert.NotContains(t, dec.Reason, "[permissive")
}

func TestPermissiveThresholdNeverCompounds(t *testing.T) {
	c := NewController(Config{PermissiveMultiplier: 1.3})

	state := SessionState{Phase: On, LockedThreshold: 0.15}

	dec, next := c.Evaluate(state, testNow, carPrice(0.18, 0.15, nil), power.Allocation{Available: true}, true)
	require.True(t, dec.ShouldCharge)
	assert.Equal(t, 0.15, next.LockedThreshold)

	// 0.20 > 0.15*1.3 stops; a compounded lock (0.15*1.3*1.3) would not.
	dec, next = c.Evaluate(next, testNow.Add(time.Minute), carPrice(0.20, 0.15, nil), power.Allocation{Available: true}, true)
	assert.False(t, dec.ShouldCharge)
	assert.Equal(t, Off, next.Phase)
}

func TestPermissiveMarkerAbsentWhenInactive(t *testing.T) {
	c := NewController(Config{PermissiveMultiplier: 1.3})

	state := SessionState{Phase: On, LockedThreshold: 0.15}
	price := carPrice(0.18, 0.15, nil)

	dec, next := c.Evaluate(state, testNow, price, power.Allocation{Available: true}, false)

	assert.False(t, dec.ShouldCharge)
	assert.Equal(t, Off, next.Phase)
	assert.NotContains(t, dec.Reason, "[permissive")
}

func TestSolarOnlyBypassesPriceLogic(t *testing.T) {
	c := NewController(Config{})

	price := carPrice(0.30, 0.15, nil) // price far too high
	alloc := power.Allocation{Available: true, SolarForCarW: 2500}

	dec, next := c.Evaluate(SessionState{}, testNow, price, alloc, false)

	assert.True(t, dec.ShouldCharge)
	assert.True(t, dec.SolarOnly)
	assert.Contains(t, dec.Reason, "solar")
	assert.Equal(t, Off, next.Phase)
}

func TestUnavailablePriceDropsToOff(t *testing.T) {
	c := NewController(Config{})

	state := SessionState{Phase: On, LockedThreshold: 0.15}
	dec, next := c.Evaluate(state, testNow, pricing.Analysis{Reason: "price data unavailable"}, power.Allocation{Available: true}, false)

	assert.False(t, dec.ShouldCharge)
	assert.Equal(t, Off, next.Phase)
	assert.Equal(t, "price data unavailable", dec.Reason)
}

func TestQuarterHourTimeline(t *testing.T) {
	c := NewController(Config{MinWindow: 45 * time.Minute})

	// Four quarter-hour slots, third one expensive: 30 minutes of window.
	tl := []model.PriceInterval{
		{Start: testNow, End: testNow.Add(15 * time.Minute), Price: 0.10},
		{Start: testNow.Add(15 * time.Minute), End: testNow.Add(30 * time.Minute), Price: 0.11},
		{Start: testNow.Add(30 * time.Minute), End: testNow.Add(45 * time.Minute), Price: 0.19},
		{Start: testNow.Add(45 * time.Minute), End: testNow.Add(60 * time.Minute), Price: 0.10},
	}
	price := carPrice(0.10, 0.15, tl)

	dec, _ := c.Evaluate(SessionState{}, testNow, price, power.Allocation{Available: true}, false)
	require.False(t, dec.ShouldCharge)
	assert.Equal(t, 30*time.Minute, dec.WindowDuration)
}

func TestMidIntervalStartCountsRemainderOnly(t *testing.T) {
	c := NewController(Config{MinWindow: 90 * time.Minute})

	// Evaluating 30 minutes into a cheap hour followed by another cheap
	// hour: 90 minutes remain.
	tl := []model.PriceInterval{
		{Start: testNow.Add(-30 * time.Minute), End: testNow.Add(30 * time.Minute), Price: 0.10},
		{Start: testNow.Add(30 * time.Minute), End: testNow.Add(90 * time.Minute), Price: 0.10},
	}
	price := carPrice(0.10, 0.15, tl)

	dec, _ := c.Evaluate(SessionState{}, testNow, price, power.Allocation{Available: true}, false)
	assert.True(t, dec.ShouldCharge)
	assert.Equal(t, 90*time.Minute, dec.WindowDuration)
}
