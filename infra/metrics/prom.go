package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/voltplan/voltplan/core/events"
)

// PromSink exports evaluation results as Prometheus metrics.
type PromSink struct {
	decisions     *prometheus.CounterVec
	overrides     *prometheus.CounterVec
	currentPrice  prometheus.Gauge
	averageSoc    prometheus.Gauge
	chargerLimit  prometheus.Gauge
	gridSetpoint  prometheus.Gauge
	solarSurplus  prometheus.Gauge
	feedIn        prometheus.Gauge
	cycleDuration prometheus.Histogram
}

// NewPromSink registers the metrics on the default registerer. Re-creating
// the sink reuses collectors that are already registered.
func NewPromSink() *PromSink {
	s := &PromSink{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voltplan_decisions_total",
			Help: "Charging decisions by target and outcome.",
		}, []string{"target", "decision"}),
		overrides: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voltplan_overrides_total",
			Help: "Manual override changes by target and action.",
		}, []string{"target", "action"}),
		currentPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voltplan_current_price",
			Help: "Adjusted electricity price used by the last cycle.",
		}),
		averageSoc: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voltplan_average_soc_percent",
			Help: "Capacity-weighted battery fleet SOC.",
		}),
		chargerLimit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voltplan_charger_limit_watts",
			Help: "Recommended car charger limit.",
		}),
		gridSetpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voltplan_grid_setpoint_watts",
			Help: "Recommended grid setpoint.",
		}),
		solarSurplus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voltplan_solar_surplus_watts",
			Help: "Measured solar surplus at the last cycle.",
		}),
		feedIn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voltplan_feed_in_enabled",
			Help: "Whether feeding in is recommended (1) or not (0).",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voltplan_cycle_duration_seconds",
			Help:    "Evaluation cycle duration.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	s.decisions = registerCounterVec(s.decisions)
	s.overrides = registerCounterVec(s.overrides)
	s.currentPrice = registerGauge(s.currentPrice)
	s.averageSoc = registerGauge(s.averageSoc)
	s.chargerLimit = registerGauge(s.chargerLimit)
	s.gridSetpoint = registerGauge(s.gridSetpoint)
	s.solarSurplus = registerGauge(s.solarSurplus)
	s.feedIn = registerGauge(s.feedIn)
	s.cycleDuration = registerHistogram(s.cycleDuration)
	return s
}

func (s *PromSink) RecordEvaluation(e events.Evaluation) {
	s.decisions.WithLabelValues("battery", outcome(e.BatteryShouldCharge)).Inc()
	s.decisions.WithLabelValues("car", outcome(e.CarShouldCharge)).Inc()
	if e.CurrentPrice != nil {
		s.currentPrice.Set(*e.CurrentPrice)
	}
	if e.AverageSoC != nil {
		s.averageSoc.Set(*e.AverageSoC)
	}
	s.chargerLimit.Set(e.ChargerLimitW)
	s.gridSetpoint.Set(e.GridSetpointW)
	s.solarSurplus.Set(e.SolarSurplusW)
	if e.FeedInShouldEnable {
		s.feedIn.Set(1)
	} else {
		s.feedIn.Set(0)
	}
	s.cycleDuration.Observe(e.Duration.Seconds())
}

func (s *PromSink) RecordOverride(e events.OverrideChanged) {
	action := e.Action
	if !e.Set {
		action = "clear"
	}
	s.overrides.WithLabelValues(e.Target, action).Inc()
}

func (s *PromSink) Close() error { return nil }

func outcome(charge bool) string {
	if charge {
		return "charge"
	}
	return "wait"
}

func registerCounterVec(c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return c
}

func registerGauge(g prometheus.Gauge) prometheus.Gauge {
	if err := prometheus.Register(g); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(prometheus.Gauge)
		}
	}
	return g
}

func registerHistogram(h prometheus.Histogram) prometheus.Histogram {
	if err := prometheus.Register(h); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(prometheus.Histogram)
		}
	}
	return h
}
