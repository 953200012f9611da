package phase

import (
	"github.com/voltplan/voltplan/core/model"
)

// Config maps batteries onto phases for three-phase installations.
type Config struct {
	Enabled bool `json:"enabled"`
	// Batteries maps phase ID to the battery IDs wired behind it.
	Batteries map[string][]string `json:"batteries"`
}

// Share is one phase's slice of a decision.
type Share struct {
	PhaseID       string  `json:"phase_id"`
	BatteryPowerW float64 `json:"battery_power_w"`
	CarPowerW     float64 `json:"car_power_w"`
	ChargerLimitW float64 `json:"charger_limit_w"`
	Reason        string  `json:"reason,omitempty"`
}

// Distributor aggregates per-phase samples into one virtual node before the
// decision, and splits the decided grid power back over the phases after.
type Distributor struct {
	cfg Config
}

func NewDistributor(cfg Config) *Distributor {
	return &Distributor{cfg: cfg}
}

// Aggregate folds the phase samples into a single virtual PowerSample.
// A field is present in the result when at least one phase reports it.
func (d *Distributor) Aggregate(phases []model.PhaseSample) model.PowerSample {
	var out model.PowerSample
	add := func(dst **float64, v *float64) {
		if v == nil {
			return
		}
		if *dst == nil {
			*dst = model.Float(0)
		}
		**dst += *v
	}
	for _, p := range phases {
		add(&out.SolarProductionW, p.SolarProductionW)
		add(&out.HouseConsumptionW, p.HouseConsumptionW)
		add(&out.EVPowerW, p.EVPowerW)
	}
	return out
}

// Distribute splits the decided battery grid power proportionally to each
// phase's assigned battery capacity, and the car power evenly over phases
// with an EV sensor.
func (d *Distributor) Distribute(phases []model.PhaseSample, batteries []model.BatteryReading, batteryPowerW, carPowerW, chargerLimitW float64) []Share {
	capByID := make(map[string]float64, len(batteries))
	for _, b := range batteries {
		c := b.CapacityKWh
		if c <= 0 {
			c = 1
		}
		capByID[b.ID] = c
	}

	// Capacity weight per phase, over phases with at least one battery.
	weights := make(map[string]float64, len(phases))
	var totalCap float64
	for _, p := range phases {
		var sum float64
		for _, id := range d.cfg.Batteries[p.ID] {
			sum += capByID[id]
		}
		if sum > 0 {
			weights[p.ID] = sum
			totalCap += sum
		}
	}

	carPhases := 0
	for _, p := range phases {
		if p.HasCarSensor {
			carPhases++
		}
	}

	shares := make([]Share, 0, len(phases))
	for _, p := range phases {
		s := Share{PhaseID: p.ID}

		if w, ok := weights[p.ID]; ok && totalCap > 0 {
			s.BatteryPowerW = batteryPowerW * w / totalCap
		} else if batteryPowerW > 0 {
			s.Reason = "no batteries assigned"
		}

		if p.HasCarSensor && carPhases > 0 {
			s.CarPowerW = carPowerW / float64(carPhases)
			s.ChargerLimitW = chargerLimitW / float64(carPhases)
		}

		shares = append(shares, s)
	}
	return shares
}
