package power

import (
	"fmt"
	"math"

	"github.com/voltplan/voltplan/core/battery"
	"github.com/voltplan/voltplan/core/logger"
	"github.com/voltplan/voltplan/core/model"
)

// Each percent of SOC deficit is treated as roughly this much charge power
// when estimating how much solar the batteries can absorb.
const wattsPerSocPercent = 100

// Config bounds the power allocation and the grid safety envelope.
type Config struct {
	SignificantSolarW float64 `json:"significant_solar_w"`
	MaxBatteryPowerW  float64 `json:"max_battery_power_w"`
	MaxCarPowerW      float64 `json:"max_car_power_w"`
	MaxGridPowerW     float64 `json:"max_grid_power_w"`
	MinCarChargingW   float64 `json:"min_car_charging_w"`
	BaseGridSetpointW float64 `json:"base_grid_setpoint_w"`
	MaxChargeSoC      float64 `json:"max_charge_soc"`
	PeakSafetyMargin  float64 `json:"peak_safety_margin"`
}

func (c *Config) SetDefaults() {
	if c.SignificantSolarW == 0 {
		c.SignificantSolarW = 1000
	}
	if c.MaxBatteryPowerW == 0 {
		c.MaxBatteryPowerW = 3000
	}
	if c.MaxCarPowerW == 0 {
		c.MaxCarPowerW = 11000
	}
	if c.MaxGridPowerW == 0 {
		c.MaxGridPowerW = 15000
	}
	if c.MinCarChargingW == 0 {
		c.MinCarChargingW = 100
	}
	if c.BaseGridSetpointW == 0 {
		c.BaseGridSetpointW = 2500
	}
	if c.MaxChargeSoC == 0 {
		c.MaxChargeSoC = 90
	}
	if c.PeakSafetyMargin == 0 {
		c.PeakSafetyMargin = 0.9
	}
}

func (c Config) Validate() error {
	if c.MaxGridPowerW < c.BaseGridSetpointW {
		return fmt.Errorf("power: max_grid_power_w %v below base_grid_setpoint_w %v", c.MaxGridPowerW, c.BaseGridSetpointW)
	}
	if c.PeakSafetyMargin <= 0 || c.PeakSafetyMargin > 1 {
		return fmt.Errorf("power: peak_safety_margin must be in (0,1], got %v", c.PeakSafetyMargin)
	}
	return nil
}

// Allocation is the result of splitting the solar surplus over consumers.
// All figures are watts.
type Allocation struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`

	SolarSurplusW    float64 `json:"solar_surplus_w"`
	SignificantSolar bool    `json:"significant_solar"`

	CarCurrentSolarW   float64 `json:"car_current_solar_w"`
	SolarForBatteriesW float64 `json:"solar_for_batteries_w"`
	SolarForCarW       float64 `json:"solar_for_car_w"`
	RemainingSolarW    float64 `json:"remaining_solar_w"`
	TotalAllocatedW    float64 `json:"total_allocated_w"`
}

// Allocator splits the solar surplus hierarchically: the car keeps what it
// is already drawing, batteries come next, the car gets a bonus once the
// batteries approach full, and the rest is reported as remaining.
type Allocator struct {
	cfg Config
	log logger.Logger
}

func NewAllocator(cfg Config, log logger.Logger) *Allocator {
	cfg.SetDefaults()
	return &Allocator{cfg: cfg, log: log}
}

// Config returns the allocator configuration.
func (a *Allocator) Config() Config { return a.cfg }

// Allocate splits the current solar surplus. Missing production data makes
// the allocation unavailable; consumers degrade to grid-only reasoning.
func (a *Allocator) Allocate(sample model.PowerSample, bat battery.Analysis) Allocation {
	if sample.SolarProductionW == nil {
		return Allocation{Available: false, Reason: "power data unavailable"}
	}

	house := 0.0
	if sample.HouseConsumptionW != nil {
		house = *sample.HouseConsumptionW
	}
	surplus := math.Max(0, *sample.SolarProductionW-house)

	evPower := 0.0
	if sample.EVPowerW != nil {
		evPower = *sample.EVPowerW
	}

	res := Allocation{
		Available:        true,
		SolarSurplusW:    surplus,
		SignificantSolar: surplus > a.cfg.SignificantSolarW,
	}

	carCurrent := 0.0
	if evPower > a.cfg.MinCarChargingW && surplus > 0 {
		carCurrent = math.Min(evPower, surplus)
	}

	if !res.SignificantSolar {
		res.CarCurrentSolarW = carCurrent
		res.RemainingSolarW = math.Max(0, surplus-carCurrent)
		res.TotalAllocatedW = carCurrent
		res.Reason = fmt.Sprintf("insufficient solar surplus (%.0fW <= %.0fW)", surplus, a.cfg.SignificantSolarW)
		return res
	}

	available := math.Max(0, surplus-carCurrent)
	var forBatteries, forCar float64

	if bat.Available && bat.AverageSoC < a.cfg.MaxChargeSoC-5 && available > 0 {
		deficit := math.Max(0, a.cfg.MaxChargeSoC-bat.AverageSoC)
		forBatteries = math.Min(available, math.Min(deficit*wattsPerSocPercent, a.cfg.MaxBatteryPowerW))
		available = math.Max(0, available-forBatteries)
	}

	if available > 0 && bat.Available && bat.AverageSoC >= a.cfg.MaxChargeSoC-10 {
		forCar = math.Min(available, a.cfg.MaxCarPowerW)
		available -= forCar
	}

	a.scaleToSurplus(surplus, &forBatteries, &forCar, &carCurrent)

	res.CarCurrentSolarW = carCurrent
	res.SolarForBatteriesW = forBatteries
	res.SolarForCarW = forCar
	res.TotalAllocatedW = forBatteries + forCar + carCurrent
	res.RemainingSolarW = math.Max(0, surplus-res.TotalAllocatedW)
	res.Reason = fmt.Sprintf("car using %.0fW, batteries %.0fW, car bonus %.0fW, %.0fW remaining",
		carCurrent, forBatteries, forCar, res.RemainingSolarW)
	return res
}

// scaleToSurplus shrinks the consumer shares proportionally when their sum
// exceeds the surplus, instead of clipping one consumer to zero. The
// allocation hierarchy should never produce such a sum, so an occurrence is
// logged as an anomaly before correcting it.
func (a *Allocator) scaleToSurplus(surplus float64, forBatteries, forCar, carCurrent *float64) {
	total := *forBatteries + *forCar + *carCurrent
	if total <= surplus || total <= 0 {
		return
	}
	scale := surplus / total
	a.log.Warnf("solar allocation %.0fW exceeds %.0fW surplus, scaling consumers by %.2f",
		total, surplus, scale)
	*forBatteries *= scale
	*forCar *= scale
	*carCurrent *= scale
}

// SafeGridSetpoint caps the grid draw at the configured base, or at a margin
// under the monthly peak when that peak already exceeds the base. Staying
// under the peak avoids raising the capacity tariff any further.
func (a *Allocator) SafeGridSetpoint(monthlyPeakW float64) float64 {
	if monthlyPeakW > a.cfg.BaseGridSetpointW {
		return monthlyPeakW * a.cfg.PeakSafetyMargin
	}
	return a.cfg.BaseGridSetpointW
}

// ChargerRequest carries the decision context for the charger limit.
type ChargerRequest struct {
	EVPowerW        float64
	MonthlyPeakW    float64
	CarGridCharging bool
	CarSolarOnly    bool
}

// ChargerLimit computes the watt limit to push to the car charger.
func (a *Allocator) ChargerLimit(req ChargerRequest, bat battery.Analysis, alloc Allocation) (float64, string) {
	if req.EVPowerW <= a.cfg.MinCarChargingW && !req.CarGridCharging && !req.CarSolarOnly {
		return 0, "car not currently charging"
	}

	if req.CarSolarOnly {
		solar := alloc.SolarForCarW + alloc.CarCurrentSolarW
		if solar <= 0 {
			return 0, "solar-only mode but no solar available"
		}
		limit := math.Min(solar, a.cfg.MaxCarPowerW)
		return limit, fmt.Sprintf("solar-only car charging, limited to allocated solar (%.0fW)", limit)
	}

	if !req.CarGridCharging {
		return 0, "car grid charging not allowed"
	}

	setpoint := a.SafeGridSetpoint(req.MonthlyPeakW)

	if !bat.Available {
		limit := math.Min(setpoint, a.cfg.MaxCarPowerW)
		return limit, fmt.Sprintf("battery data unavailable, conservative limit (%.0fW)", limit)
	}

	if bat.AverageSoC < a.cfg.MaxChargeSoC {
		limit := math.Min(setpoint, a.cfg.MaxCarPowerW)
		return limit, fmt.Sprintf("battery %.0f%% below %.0f%%, car limited to grid setpoint (%.0fW), surplus for batteries",
			bat.AverageSoC, a.cfg.MaxChargeSoC, limit)
	}

	limit := math.Min(alloc.RemainingSolarW+setpoint, a.cfg.MaxCarPowerW)
	return limit, fmt.Sprintf("battery %.0f%% at target, car can use surplus + grid (%.0fW)", bat.AverageSoC, limit)
}

// SetpointRequest carries the decision context for the grid setpoint.
type SetpointRequest struct {
	EVPowerW            float64
	MonthlyPeakW        float64
	BatteryGridCharging bool
	CarGridCharging     bool
	CarSolarOnly        bool
}

// Setpoint is the grid power budget split over its consumers.
type Setpoint struct {
	TotalW   float64 `json:"total_w"`
	BatteryW float64 `json:"battery_w"`
	CarW     float64 `json:"car_w"`
	Reason   string  `json:"reason"`
}

// GridSetpoint computes how much grid power to request and for whom.
func (a *Allocator) GridSetpoint(req SetpointRequest, bat battery.Analysis, alloc Allocation) Setpoint {
	carCharging := req.EVPowerW >= a.cfg.MinCarChargingW

	if !bat.Available {
		if carCharging && req.CarGridCharging {
			sp := math.Min(req.EVPowerW, a.SafeGridSetpoint(req.MonthlyPeakW))
			return Setpoint{TotalW: sp, CarW: sp, Reason: fmt.Sprintf("battery data unavailable, grid only for car (%.0fW)", sp)}
		}
		return Setpoint{Reason: "battery data unavailable, no grid power allocated"}
	}

	if carCharging && req.CarSolarOnly {
		return Setpoint{Reason: "solar-only car charging, grid setpoint 0W"}
	}

	maxSetpoint := a.SafeGridSetpoint(req.MonthlyPeakW)

	var carNeed float64
	if carCharging && req.CarGridCharging {
		carSolar := alloc.SolarForCarW + alloc.CarCurrentSolarW
		carNeed = math.Max(0, math.Min(req.EVPowerW-carSolar, maxSetpoint))
	}

	var batteryNeed float64
	if req.BatteryGridCharging {
		batteryNeed = math.Min(math.Max(0, maxSetpoint-carNeed), a.cfg.MaxBatteryPowerW)
	}

	total := math.Min(math.Min(carNeed+batteryNeed, maxSetpoint), a.cfg.MaxGridPowerW)

	reason := "no grid charging needed"
	switch {
	case carNeed > 0 && batteryNeed > 0:
		reason = fmt.Sprintf("grid setpoint for car %.0fW + battery %.0fW = %.0fW", carNeed, batteryNeed, total)
	case carNeed > 0:
		reason = fmt.Sprintf("grid setpoint for car %.0fW", carNeed)
	case batteryNeed > 0:
		reason = fmt.Sprintf("grid setpoint for battery %.0fW", batteryNeed)
	}

	return Setpoint{TotalW: total, BatteryW: batteryNeed, CarW: carNeed, Reason: reason}
}
