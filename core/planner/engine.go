package planner

import (
	"fmt"
	"sync"
	"time"

	"github.com/voltplan/voltplan/core/battery"
	"github.com/voltplan/voltplan/core/car"
	"github.com/voltplan/voltplan/core/events"
	"github.com/voltplan/voltplan/core/logger"
	"github.com/voltplan/voltplan/core/metrics"
	"github.com/voltplan/voltplan/core/model"
	"github.com/voltplan/voltplan/core/override"
	"github.com/voltplan/voltplan/core/phase"
	"github.com/voltplan/voltplan/core/power"
	"github.com/voltplan/voltplan/core/pricing"
	"github.com/voltplan/voltplan/core/strategy"
)

// Config aggregates the per-stage configurations.
type Config struct {
	Pricing  pricing.Config  `json:"pricing"`
	Battery  battery.Config  `json:"battery"`
	Power    power.Config    `json:"power"`
	Strategy strategy.Config `json:"strategy"`
	Car      car.Config      `json:"car"`
	Phase    phase.Config    `json:"phase"`

	// FeedInThreshold is the adjusted price at or above which exporting
	// beats storing. Zero disables the feed-in recommendation.
	FeedInThreshold float64 `json:"feed_in_threshold"`
}

func (c *Config) SetDefaults() {
	c.Pricing.SetDefaults()
	c.Battery.SetDefaults()
	c.Power.SetDefaults()
	c.Strategy.SetDefaults()
	c.Car.SetDefaults()
}

func (c Config) Validate() error {
	if err := c.Pricing.Validate(); err != nil {
		return err
	}
	if err := c.Power.Validate(); err != nil {
		return err
	}
	if err := c.Car.Validate(); err != nil {
		return err
	}
	return nil
}

// Diagnostics bundles every intermediate value of one cycle.
type Diagnostics struct {
	Price               pricing.Analysis    `json:"price"`
	Battery             battery.Analysis    `json:"battery"`
	Allocation          power.Allocation    `json:"allocation"`
	GridSetpoint        power.Setpoint      `json:"grid_setpoint"`
	StrategyTrace       []strategy.Verdict  `json:"strategy_trace,omitempty"`
	ActiveOverrides     []override.Override `json:"active_overrides,omitempty"`
	CarSession          car.SessionState    `json:"car_session"`
	CarWindow           time.Duration       `json:"car_window"`
	SolarForecastFactor *float64            `json:"solar_forecast_factor,omitempty"`
	Phases              []phase.Share       `json:"phases,omitempty"`
}

// Decision is the full output of one evaluation cycle.
type Decision struct {
	Time                time.Time   `json:"time"`
	BatteryShouldCharge bool        `json:"battery_should_charge"`
	BatteryReason       string      `json:"battery_reason"`
	CarShouldCharge     bool        `json:"car_should_charge"`
	CarReason           string      `json:"car_reason"`
	CarSolarOnly        bool        `json:"car_solar_only"`
	ChargerLimitW       float64     `json:"charger_limit_w"`
	GridSetpointW       float64     `json:"grid_setpoint_w"`
	FeedInShouldEnable  bool        `json:"feed_in_should_enable"`
	Diagnostics         Diagnostics `json:"diagnostics"`
}

// Engine runs the full decision pipeline over one input snapshot. All
// mutable state (car session, overrides, permissive flag) lives here behind
// one mutex; cycles never interleave.
type Engine struct {
	cfg       Config
	log       logger.Logger
	price     *pricing.Analyzer
	batteries *battery.Analyzer
	allocator *power.Allocator
	chain     *strategy.Chain
	car       *car.Controller
	overrides *override.Store
	phases    *phase.Distributor
	sink      metrics.Sink

	mu         sync.Mutex
	carState   car.SessionState
	permissive bool
}

// New builds an engine from a validated configuration.
func New(cfg Config, log logger.Logger, sink metrics.Sink) *Engine {
	cfg.SetDefaults()
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Engine{
		cfg:       cfg,
		log:       log,
		price:     pricing.NewAnalyzer(cfg.Pricing),
		batteries: battery.NewAnalyzer(cfg.Battery),
		allocator: power.NewAllocator(cfg.Power, log),
		chain:     strategy.NewChain(cfg.Strategy, cfg.Pricing.UseDynamicThreshold),
		car:       car.NewController(cfg.Car),
		overrides: override.NewStore(),
		phases:    phase.NewDistributor(cfg.Phase),
		sink:      sink,
	}
}

// Overrides exposes the override store for the control surfaces.
func (e *Engine) Overrides() *override.Store { return e.overrides }

// SetPermissive toggles the car permissive mode for subsequent cycles.
func (e *Engine) SetPermissive(on bool) {
	e.mu.Lock()
	e.permissive = on
	e.mu.Unlock()
}

// Permissive reports the current permissive mode.
func (e *Engine) Permissive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.permissive
}

// CarSession returns the current car session state.
func (e *Engine) CarSession() car.SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.carState
}

// Evaluate runs one full cycle. It never returns an error: missing inputs
// degrade per target with an explicit reason.
func (e *Engine) Evaluate(snap model.Snapshot) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	now := snap.Time
	if now.IsZero() {
		now = started
		snap.Time = now
	}

	if e.cfg.Phase.Enabled && len(snap.Phases) > 0 {
		snap.Power = e.phases.Aggregate(snap.Phases)
	}

	bat := e.batteries.Analyze(snap.Batteries)
	var soc *float64
	if bat.Available {
		s := bat.AverageSoC
		soc = &s
	}

	price := e.price.Analyze(snap, soc)
	alloc := e.allocator.Allocate(snap.Power, bat)
	forecast := forecastFactor(snap.Forecast)

	dec := Decision{
		Time: now,
		Diagnostics: Diagnostics{
			Price:               price,
			Battery:             bat,
			Allocation:          alloc,
			SolarForecastFactor: forecast,
		},
	}

	e.evaluateBattery(&dec, now, price, bat, alloc)
	e.evaluateCar(&dec, now, price, alloc)

	evPower := 0.0
	if snap.Power.EVPowerW != nil {
		evPower = *snap.Power.EVPowerW
	}
	peak := 0.0
	if snap.MonthlyPeakW != nil {
		peak = *snap.MonthlyPeakW
	}

	dec.ChargerLimitW, _ = e.allocator.ChargerLimit(power.ChargerRequest{
		EVPowerW:        evPower,
		MonthlyPeakW:    peak,
		CarGridCharging: dec.CarShouldCharge && !dec.CarSolarOnly,
		CarSolarOnly:    dec.CarSolarOnly,
	}, bat, alloc)

	sp := e.allocator.GridSetpoint(power.SetpointRequest{
		EVPowerW:            evPower,
		MonthlyPeakW:        peak,
		BatteryGridCharging: dec.BatteryShouldCharge,
		CarGridCharging:     dec.CarShouldCharge && !dec.CarSolarOnly,
		CarSolarOnly:        dec.CarSolarOnly,
	}, bat, alloc)
	dec.GridSetpointW = sp.TotalW
	dec.Diagnostics.GridSetpoint = sp

	if e.cfg.FeedInThreshold > 0 && price.Available {
		dec.FeedInShouldEnable = price.Current >= e.cfg.FeedInThreshold
	}

	if e.cfg.Phase.Enabled && len(snap.Phases) > 0 {
		dec.Diagnostics.Phases = e.phases.Distribute(snap.Phases, snap.Batteries, sp.BatteryW, sp.CarW, dec.ChargerLimitW)
	}

	dec.Diagnostics.ActiveOverrides = e.overrides.Active()
	dec.Diagnostics.CarSession = e.carState

	e.log.Debugw("evaluation complete", map[string]interface{}{
		"battery_charge": dec.BatteryShouldCharge,
		"car_charge":     dec.CarShouldCharge,
		"charger_limit":  dec.ChargerLimitW,
		"grid_setpoint":  dec.GridSetpointW,
		"took":           time.Since(started).String(),
	})

	e.sink.RecordEvaluation(e.evaluationEvent(dec, alloc, soc, time.Since(started)))
	return dec
}

// evaluateBattery fills the battery side of the decision. A panic in the
// pipeline degrades this target only; the car path still completes.
func (e *Engine) evaluateBattery(dec *Decision, now time.Time, price pricing.Analysis, bat battery.Analysis, alloc power.Allocation) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorf("battery evaluation panicked: %v", r)
			dec.BatteryShouldCharge = false
			dec.BatteryReason = fmt.Sprintf("internal evaluation error: %v", r)
		}
	}()

	if o, ok := e.overrides.Get(override.TargetBattery); ok {
		dec.BatteryShouldCharge = o.Action == override.ForceCharge
		dec.BatteryReason = o.Reason()
		return
	}

	if bat.Available && !e.batteries.NeedsCharge(bat) {
		dec.BatteryReason = fmt.Sprintf("batteries at %.0f%%, above charge target", bat.AverageSoC)
		return
	}

	res := e.chain.Evaluate(strategy.Context{
		Price:         price,
		Battery:       bat,
		Allocation:    alloc,
		SolarForecast: dec.Diagnostics.SolarForecastFactor,
	})
	dec.BatteryShouldCharge = res.ShouldCharge
	dec.BatteryReason = res.Reason
	dec.Diagnostics.StrategyTrace = res.Trace
}

// evaluateCar fills the car side, advancing the hysteresis state.
func (e *Engine) evaluateCar(dec *Decision, now time.Time, price pricing.Analysis, alloc power.Allocation) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorf("car evaluation panicked: %v", r)
			dec.CarShouldCharge = false
			dec.CarReason = fmt.Sprintf("internal evaluation error: %v", r)
		}
	}()

	if o, ok := e.overrides.Get(override.TargetCar); ok {
		dec.CarShouldCharge = o.Action == override.ForceCharge
		dec.CarReason = o.Reason()
		return
	}

	carDec, next := e.car.Evaluate(e.carState, now, price, alloc, e.permissive)
	e.carState = next
	dec.CarShouldCharge = carDec.ShouldCharge
	dec.CarSolarOnly = carDec.SolarOnly
	dec.CarReason = carDec.Reason
	dec.Diagnostics.CarWindow = carDec.WindowDuration
}

func (e *Engine) evaluationEvent(dec Decision, alloc power.Allocation, soc *float64, took time.Duration) events.Evaluation {
	ev := events.Evaluation{
		Time:                dec.Time,
		BatteryShouldCharge: dec.BatteryShouldCharge,
		BatteryReason:       dec.BatteryReason,
		CarShouldCharge:     dec.CarShouldCharge,
		CarReason:           dec.CarReason,
		ChargerLimitW:       dec.ChargerLimitW,
		GridSetpointW:       dec.GridSetpointW,
		FeedInShouldEnable:  dec.FeedInShouldEnable,
		AverageSoC:          soc,
		SolarSurplusW:       alloc.SolarSurplusW,
		Duration:            took,
	}
	if dec.Diagnostics.Price.Available {
		p := dec.Diagnostics.Price.Current
		ev.CurrentPrice = &p
	}
	return ev
}

// forecastFactor compares tomorrow's expected solar yield against today's.
// Below 1 means tomorrow looks worse. Nil when the forecast is absent.
func forecastFactor(f model.ForecastSample) *float64 {
	if f.TodayKWh == nil || f.TomorrowKWh == nil || *f.TodayKWh <= 0 {
		return nil
	}
	factor := *f.TomorrowKWh / *f.TodayKWh
	if factor > 1.5 {
		factor = 1.5
	}
	return &factor
}
