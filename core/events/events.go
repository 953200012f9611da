package events

import "time"

// Evaluation summarizes one completed decision cycle for sinks and
// subscribers.
type Evaluation struct {
	Time                time.Time     `json:"time"`
	BatteryShouldCharge bool          `json:"battery_should_charge"`
	BatteryReason       string        `json:"battery_reason"`
	CarShouldCharge     bool          `json:"car_should_charge"`
	CarReason           string        `json:"car_reason"`
	ChargerLimitW       float64       `json:"charger_limit_w"`
	GridSetpointW       float64       `json:"grid_setpoint_w"`
	FeedInShouldEnable  bool          `json:"feed_in_should_enable"`
	CurrentPrice        *float64      `json:"current_price,omitempty"`
	AverageSoC          *float64      `json:"average_soc,omitempty"`
	SolarSurplusW       float64       `json:"solar_surplus_w"`
	Duration            time.Duration `json:"duration"`
}

// Name implements the event bus naming convention.
func (Evaluation) Name() string { return "planner.evaluation" }

// OverrideChanged signals a manual override being set or cleared.
type OverrideChanged struct {
	Time   time.Time `json:"time"`
	ID     string    `json:"id,omitempty"`
	Target string    `json:"target"`
	Action string    `json:"action,omitempty"`
	Set    bool      `json:"set"`
}

func (OverrideChanged) Name() string { return "planner.override" }
