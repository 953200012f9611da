package strategy

import (
	"github.com/voltplan/voltplan/core/battery"
	"github.com/voltplan/voltplan/core/power"
	"github.com/voltplan/voltplan/core/pricing"
)

// Decision is a strategy's answer for battery grid-charging.
type Decision int

const (
	Abstain Decision = iota
	Charge
	Wait
)

func (d Decision) String() string {
	switch d {
	case Charge:
		return "charge"
	case Wait:
		return "wait"
	default:
		return "abstain"
	}
}

// Verdict is one strategy's evaluated answer. The chain stops at the first
// verdict that is not Abstain.
type Verdict struct {
	Strategy string   `json:"strategy"`
	Priority int      `json:"priority"`
	Decision Decision `json:"-"`
	Outcome  string   `json:"decision"`
	Reason   string   `json:"reason"`
}

// Context is the read-only input every strategy sees. Strategies are pure:
// same context, same verdict.
type Context struct {
	Price      pricing.Analysis
	Battery    battery.Analysis
	Allocation power.Allocation

	// SolarForecast is tomorrow's production relative to today's, nil when
	// no forecast sensor reported.
	SolarForecast *float64
}

// AverageSoC returns the fleet SOC, or nil when battery data is missing.
func (c Context) AverageSoC() *float64 {
	if !c.Battery.Available {
		return nil
	}
	soc := c.Battery.AverageSoC
	return &soc
}

// Strategy is one rule in the chain.
type Strategy interface {
	Name() string
	Priority() int
	Evaluate(ctx Context) Verdict
}

// Config tunes the individual strategies.
type Config struct {
	EmergencySoC     float64 `json:"emergency_soc"`
	PredictiveMinSoC float64 `json:"predictive_min_soc"`
	SocBufferTarget  float64 `json:"soc_buffer_target"`
	LowSocCutoff     float64 `json:"low_soc_cutoff"`

	// Forecast tilt: below PoorForecast a fleet under ForecastLowSoC charges
	// now; above ExcellentForecast a fleet up to ForecastHighSoC skips the
	// grid and waits for the sun.
	PoorForecast      float64 `json:"poor_forecast"`
	ExcellentForecast float64 `json:"excellent_forecast"`
	ForecastLowSoC    float64 `json:"forecast_low_soc"`
	ForecastHighSoC   float64 `json:"forecast_high_soc"`
}

func (c *Config) SetDefaults() {
	if c.EmergencySoC == 0 {
		c.EmergencySoC = 15
	}
	if c.PredictiveMinSoC == 0 {
		c.PredictiveMinSoC = 30
	}
	if c.SocBufferTarget == 0 {
		c.SocBufferTarget = 50
	}
	if c.LowSocCutoff == 0 {
		c.LowSocCutoff = 30
	}
	if c.PoorForecast == 0 {
		c.PoorForecast = 0.4
	}
	if c.ExcellentForecast == 0 {
		c.ExcellentForecast = 0.8
	}
	if c.ForecastLowSoC == 0 {
		c.ForecastLowSoC = 40
	}
	if c.ForecastHighSoC == 0 {
		c.ForecastHighSoC = 60
	}
}

func verdict(s Strategy, d Decision, reason string) Verdict {
	return Verdict{Strategy: s.Name(), Priority: s.Priority(), Decision: d, Outcome: d.String(), Reason: reason}
}
