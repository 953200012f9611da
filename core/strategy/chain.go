package strategy

import (
	"fmt"
	"sort"
)

// Chain runs the strategies in priority order behind the price threshold
// guard. The first verdict that is not Abstain owns the decision.
type Chain struct {
	cfg        Config
	strategies []Strategy
}

// NewChain assembles the default chain. useDynamic controls whether the
// confidence-model strategy participates.
func NewChain(cfg Config, useDynamic bool) *Chain {
	cfg.SetDefaults()
	strategies := []Strategy{
		&SolarPriority{cfg: cfg},
		&PredictiveWait{cfg: cfg},
		&VeryLowPrice{},
		&SolarForecastTilt{cfg: cfg},
		&SocBuffer{cfg: cfg},
		&SocSafetyNet{cfg: cfg},
	}
	if useDynamic {
		strategies = append(strategies, &DynamicPrice{})
	}
	sort.Slice(strategies, func(i, j int) bool {
		return strategies[i].Priority() < strategies[j].Priority()
	})
	return &Chain{cfg: cfg, strategies: strategies}
}

// Result is the chain's final answer plus the full evaluation trace.
type Result struct {
	ShouldCharge bool      `json:"should_charge"`
	Reason       string    `json:"reason"`
	Trace        []Verdict `json:"trace"`
}

// Evaluate runs the guard and then the chain.
//
// The guard holds two absolute rules: a fleet at or under the emergency SOC
// charges no matter the price, and a price above the effective threshold
// blocks charging no matter the strategy opinions.
func (c *Chain) Evaluate(ctx Context) Result {
	var trace []Verdict

	if g, ok := c.guard(ctx); ok {
		trace = append(trace, g)
		return Result{ShouldCharge: g.Decision == Charge, Reason: g.Reason, Trace: trace}
	}

	for _, s := range c.strategies {
		v := s.Evaluate(ctx)
		trace = append(trace, v)
		if v.Decision != Abstain {
			return Result{ShouldCharge: v.Decision == Charge, Reason: v.Reason, Trace: trace}
		}
	}

	fallback := Verdict{
		Strategy: "fallback",
		Priority: 999,
		Decision: Wait,
		Outcome:  Wait.String(),
		Reason:   "no strategy justified charging",
	}
	trace = append(trace, fallback)
	return Result{Reason: fallback.Reason, Trace: trace}
}

func (c *Chain) guard(ctx Context) (Verdict, bool) {
	g := Verdict{Strategy: "price_threshold_guard", Priority: 0}

	soc := ctx.AverageSoC()
	if soc != nil && *soc <= c.cfg.EmergencySoC {
		g.Decision = Charge
		g.Outcome = Charge.String()
		g.Reason = fmt.Sprintf("emergency charge, SOC %.0f%% at or below %.0f%%, charging regardless of price",
			*soc, c.cfg.EmergencySoC)
		return g, true
	}

	if !ctx.Price.Available {
		g.Decision = Wait
		g.Outcome = Wait.String()
		g.Reason = ctx.Price.Reason
		if g.Reason == "" {
			g.Reason = "price data unavailable"
		}
		return g, true
	}

	if ctx.Price.Current > ctx.Price.EffectiveThreshold {
		g.Decision = Wait
		g.Outcome = Wait.String()
		g.Reason = fmt.Sprintf("price %.3f exceeds threshold %.3f", ctx.Price.Current, ctx.Price.EffectiveThreshold)
		return g, true
	}

	return Verdict{}, false
}
