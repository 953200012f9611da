package strategy

import "fmt"

// SolarPriority prefers routing solar into the batteries over buying grid
// power, except when the price is in the very-low band and the fleet is
// still under the buffer target.
type SolarPriority struct {
	cfg Config
}

func (s *SolarPriority) Name() string  { return "solar_priority" }
func (s *SolarPriority) Priority() int { return 2 }

func (s *SolarPriority) Evaluate(ctx Context) Verdict {
	if !ctx.Allocation.Available || ctx.Allocation.SolarForBatteriesW <= 0 {
		return verdict(s, Abstain, "")
	}
	soc := ctx.AverageSoC()
	if ctx.Price.Available && ctx.Price.IsVeryLow && soc != nil && *soc < s.cfg.SocBufferTarget {
		return verdict(s, Abstain, "")
	}
	return verdict(s, Wait, fmt.Sprintf("using allocated solar (%.0fW) for batteries instead of grid",
		ctx.Allocation.SolarForBatteriesW))
}

// PredictiveWait holds off when a materially cheaper price is imminent and
// the fleet can afford to wait.
type PredictiveWait struct {
	cfg Config
}

func (s *PredictiveWait) Name() string  { return "predictive_wait" }
func (s *PredictiveWait) Priority() int { return 3 }

func (s *PredictiveWait) Evaluate(ctx Context) Verdict {
	p := ctx.Price
	if !p.Available || !p.IsLowPrice || !p.SignificantDropNext {
		return verdict(s, Abstain, "")
	}
	soc := ctx.AverageSoC()
	if soc == nil || *soc <= s.cfg.PredictiveMinSoC {
		return verdict(s, Abstain, "")
	}
	next := 0.0
	if p.Next != nil {
		next = *p.Next
	}
	return verdict(s, Wait, fmt.Sprintf("SOC %.0f%% sufficient, waiting for significant price drop next hour (%.3f)",
		*soc, next))
}

// VeryLowPrice charges whenever the price sits in the configured bottom
// band of the daily range. A cheap hour is a cheap hour, but only a fleet
// that is actually reporting gets charged.
type VeryLowPrice struct{}

func (s *VeryLowPrice) Name() string  { return "very_low_price" }
func (s *VeryLowPrice) Priority() int { return 4 }

func (s *VeryLowPrice) Evaluate(ctx Context) Verdict {
	if !ctx.Price.Available || !ctx.Price.IsVeryLow || !ctx.Battery.Available {
		return verdict(s, Abstain, "")
	}
	return verdict(s, Charge, fmt.Sprintf("very low price (%.3f), bottom of daily range", ctx.Price.Current))
}

// SolarForecastTilt bends the medium-SOC call by tomorrow's expected
// production: a poor outlook buys now while the price is low, an excellent
// outlook leaves room for the sun to fill.
type SolarForecastTilt struct {
	cfg Config
}

func (s *SolarForecastTilt) Name() string  { return "solar_forecast_tilt" }
func (s *SolarForecastTilt) Priority() int { return 5 }

func (s *SolarForecastTilt) Evaluate(ctx Context) Verdict {
	if !ctx.Price.Available || !ctx.Price.IsLowPrice || ctx.SolarForecast == nil {
		return verdict(s, Abstain, "")
	}
	soc := ctx.AverageSoC()
	if soc == nil {
		return verdict(s, Abstain, "")
	}
	f := *ctx.SolarForecast
	if *soc < s.cfg.ForecastLowSoC && f < s.cfg.PoorForecast {
		return verdict(s, Charge, fmt.Sprintf("SOC %.0f%% with poor solar forecast (%.0f%%), charging while price is low",
			*soc, f*100))
	}
	if *soc >= s.cfg.LowSocCutoff && *soc <= s.cfg.ForecastHighSoC && f > s.cfg.ExcellentForecast {
		return verdict(s, Wait, fmt.Sprintf("SOC %.0f%% sufficient with excellent solar forecast (%.0f%%)",
			*soc, f*100))
	}
	return verdict(s, Abstain, "")
}

// SocBuffer tops the fleet up to the buffer target while the price is at
// least acceptable.
type SocBuffer struct {
	cfg Config
}

func (s *SocBuffer) Name() string  { return "soc_buffer" }
func (s *SocBuffer) Priority() int { return 6 }

func (s *SocBuffer) Evaluate(ctx Context) Verdict {
	if !ctx.Price.Available || !ctx.Price.IsLowPrice {
		return verdict(s, Abstain, "")
	}
	soc := ctx.AverageSoC()
	if soc == nil || *soc >= s.cfg.SocBufferTarget {
		return verdict(s, Abstain, "")
	}
	return verdict(s, Charge, fmt.Sprintf("SOC %.0f%% below %.0f%% buffer target at acceptable price (%.3f)",
		*soc, s.cfg.SocBufferTarget, ctx.Price.Current))
}

// DynamicPrice applies the confidence model: charge only when the scored
// confidence clears the SOC-dependent requirement.
type DynamicPrice struct{}

func (s *DynamicPrice) Name() string  { return "dynamic_price" }
func (s *DynamicPrice) Priority() int { return 7 }

func (s *DynamicPrice) Evaluate(ctx Context) Verdict {
	d := ctx.Price.Dynamic
	if !ctx.Price.Available || d == nil || !ctx.Battery.Available {
		return verdict(s, Abstain, "")
	}
	if d.ShouldCharge {
		return verdict(s, Charge, fmt.Sprintf("price confidence %.0f%% >= %.0f%% required (dynamic threshold %.3f)",
			d.Confidence*100, d.RequiredConfidence*100, d.Threshold))
	}
	return verdict(s, Wait, fmt.Sprintf("price confidence %.0f%% below %.0f%% required",
		d.Confidence*100, d.RequiredConfidence*100))
}

// SocSafetyNet is the last resort: a genuinely low fleet charges, everyone
// else waits.
type SocSafetyNet struct {
	cfg Config
}

func (s *SocSafetyNet) Name() string  { return "soc_safety_net" }
func (s *SocSafetyNet) Priority() int { return 8 }

func (s *SocSafetyNet) Evaluate(ctx Context) Verdict {
	soc := ctx.AverageSoC()
	if soc == nil {
		return verdict(s, Abstain, "")
	}
	if *soc < s.cfg.LowSocCutoff {
		return verdict(s, Charge, fmt.Sprintf("SOC %.0f%% below %.0f%% cutoff", *soc, s.cfg.LowSocCutoff))
	}
	return verdict(s, Wait, fmt.Sprintf("SOC %.0f%% healthy, no reason to buy", *soc))
}
