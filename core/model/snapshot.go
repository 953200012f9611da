package model

import "time"

// PriceInterval is one slot of the market price timeline. Price is the
// adjusted price in currency per kWh for the whole [Start, End) slot.
type PriceInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Price float64   `json:"price"`
}

// PriceSnapshot carries the market price inputs for one evaluation cycle.
// Optional readings are pointers; nil means the upstream sensor did not
// deliver a usable value.
type PriceSnapshot struct {
	Current   *float64 `json:"current"`
	HighToday *float64 `json:"high_today"`
	LowToday  *float64 `json:"low_today"`
	NextHour  *float64 `json:"next_hour"`

	// Timeline holds the known forward slots (remainder of today plus any
	// published tomorrow slots), ordered by start time. Prices here are raw
	// market values; the analyzer applies contract adjustment.
	Timeline []PriceInterval `json:"timeline,omitempty"`
}

// BatteryReading is a single battery state-of-charge sample.
type BatteryReading struct {
	ID          string  `json:"id"`
	SoC         float64 `json:"soc"`                    // percent, 0-100
	CapacityKWh float64 `json:"capacity_kwh,omitempty"` // 0 = unknown, weighted as 1
}

// PowerSample carries the instantaneous power flow readings in watts.
type PowerSample struct {
	SolarProductionW  *float64 `json:"solar_production_w"`
	HouseConsumptionW *float64 `json:"house_consumption_w"`
	EVPowerW          *float64 `json:"ev_power_w,omitempty"`
}

// PhaseSample is the per-phase power reading set for three-phase
// installations. Nil fields mean the phase has no such sensor.
type PhaseSample struct {
	ID                string   `json:"id"`
	SolarProductionW  *float64 `json:"solar_production_w,omitempty"`
	HouseConsumptionW *float64 `json:"house_consumption_w,omitempty"`
	EVPowerW          *float64 `json:"ev_power_w,omitempty"`
	BatteryPowerW     *float64 `json:"battery_power_w,omitempty"`
	HasCarSensor      bool     `json:"has_car_sensor"`
}

// ForecastSample carries optional solar production forecast figures in kWh.
type ForecastSample struct {
	CurrentHourKWh    *float64 `json:"current_hour_kwh,omitempty"`
	NextHourKWh       *float64 `json:"next_hour_kwh,omitempty"`
	TodayKWh          *float64 `json:"today_kwh,omitempty"`
	RemainingTodayKWh *float64 `json:"remaining_today_kwh,omitempty"`
	TomorrowKWh       *float64 `json:"tomorrow_kwh,omitempty"`
}

// Snapshot is the flat input set for one evaluation cycle. The caller
// resolves every sensor before handing it over; the planner never performs
// I/O of its own.
type Snapshot struct {
	Time            time.Time        `json:"time"`
	Prices          PriceSnapshot    `json:"prices"`
	Batteries       []BatteryReading `json:"batteries"`
	Power           PowerSample      `json:"power"`
	Phases          []PhaseSample    `json:"phases,omitempty"`
	Forecast        ForecastSample   `json:"forecast,omitempty"`
	MonthlyPeakW    *float64         `json:"monthly_peak_w,omitempty"`
	GridImportW     *float64         `json:"grid_import_w,omitempty"`
	TransportCostKW *float64         `json:"transport_cost_kwh,omitempty"` // currency/kWh for the current hour
}

// Float returns a pointer to v. Convenience for building snapshots in tests
// and adapters.
func Float(v float64) *float64 { return &v }
