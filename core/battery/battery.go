package battery

import (
	"github.com/voltplan/voltplan/core/model"
)

// Analysis is the fleet-wide battery picture for one cycle.
type Analysis struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`

	// AverageSoC is weighted by usable capacity so a large pack at 20%
	// cannot hide behind a small pack at 90%.
	AverageSoC  float64 `json:"average_soc"`
	MinSoC      float64 `json:"min_soc"`
	MaxSoC      float64 `json:"max_soc"`
	TotalKWh    float64 `json:"total_kwh"`
	DeficitKWh  float64 `json:"deficit_kwh"`
	Count       int     `json:"count"`
	AnyCritical bool    `json:"any_critical"`
	AllAbove    bool    `json:"-"`
}

// Config bounds the fleet analysis.
type Config struct {
	EmergencySoC    float64 `json:"emergency_soc"`
	SocBufferTarget float64 `json:"soc_buffer_target"`
	MaxChargeSoC    float64 `json:"max_charge_soc"`
}

func (c *Config) SetDefaults() {
	if c.EmergencySoC == 0 {
		c.EmergencySoC = 15
	}
	if c.SocBufferTarget == 0 {
		c.SocBufferTarget = 50
	}
	if c.MaxChargeSoC == 0 {
		c.MaxChargeSoC = 95
	}
}

// Analyzer aggregates individual battery readings into a fleet analysis.
type Analyzer struct {
	cfg Config
}

func NewAnalyzer(cfg Config) *Analyzer {
	cfg.SetDefaults()
	return &Analyzer{cfg: cfg}
}

// Analyze reduces the readings to one fleet view. An empty fleet is reported
// as unavailable rather than as an error; callers decide how to degrade.
func (a *Analyzer) Analyze(readings []model.BatteryReading) Analysis {
	if len(readings) == 0 {
		return Analysis{Available: false, Reason: "no battery data"}
	}

	res := Analysis{
		Available: true,
		MinSoC:    readings[0].SoC,
		MaxSoC:    readings[0].SoC,
		Count:     len(readings),
		AllAbove:  true,
	}

	var weighted, totalCap float64
	for _, r := range readings {
		w := r.CapacityKWh
		if w <= 0 {
			w = 1 // unknown capacity still counts, with unit weight
		}
		weighted += r.SoC * w
		totalCap += w
		res.TotalKWh += r.CapacityKWh
		res.DeficitKWh += r.CapacityKWh * (100 - r.SoC) / 100

		if r.SoC < res.MinSoC {
			res.MinSoC = r.SoC
		}
		if r.SoC > res.MaxSoC {
			res.MaxSoC = r.SoC
		}
		if r.SoC <= a.cfg.EmergencySoC {
			res.AnyCritical = true
		}
		if r.SoC < a.cfg.SocBufferTarget {
			res.AllAbove = false
		}
	}
	res.AverageSoC = weighted / totalCap
	return res
}

// NeedsCharge reports whether the fleet still has headroom to absorb energy.
func (a *Analyzer) NeedsCharge(res Analysis) bool {
	return res.Available && res.AverageSoC < a.cfg.MaxChargeSoC
}

// BelowBuffer reports whether the weighted average sits under the buffer
// target, the zone where price conditions are relaxed.
func (a *Analyzer) BelowBuffer(res Analysis) bool {
	return res.Available && res.AverageSoC < a.cfg.SocBufferTarget
}
