package pricing

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/voltplan/voltplan/core/model"
)

// VolatilityClass buckets the daily price spread.
type VolatilityClass int

const (
	VolatilityLow VolatilityClass = iota
	VolatilityMedium
	VolatilityHigh
)

// Volatility ratio boundaries, measured as (high-low)/high. The source data
// does not pin these down, so they are tunable constants covered by tests.
const (
	volatilityHighRatio   = 0.5
	volatilityMediumRatio = 0.3
)

func (c VolatilityClass) String() string {
	switch c {
	case VolatilityHigh:
		return "high"
	case VolatilityMedium:
		return "medium"
	default:
		return "low"
	}
}

// Config holds the contract and threshold parameters for price analysis.
type Config struct {
	Multiplier          float64         `json:"multiplier"`
	Offset              float64         `json:"offset"`
	TransportCostKWh    float64         `json:"transport_cost_kwh"`
	TransportByHour     map[int]float64 `json:"transport_by_hour,omitempty"`
	BaseThreshold       float64         `json:"base_threshold"`
	UseAverageThreshold bool            `json:"use_average_threshold"`
	VeryLowPercentile   float64         `json:"very_low_percentile"` // fraction of the daily range, e.g. 0.3
	SignificantDropPct  float64         `json:"significant_drop_pct"`

	// SOC-based threshold relaxation: the effective threshold scales from
	// 1.0x at SocBufferTarget up to MaxSocMultiplier at EmergencySoC.
	EmergencySoC     float64 `json:"emergency_soc"`
	SocBufferTarget  float64 `json:"soc_buffer_target"`
	MaxSocMultiplier float64 `json:"max_soc_multiplier"`

	UseDynamicThreshold bool `json:"use_dynamic_threshold"`
}

// SetDefaults fills zero values with the stock configuration.
func (c *Config) SetDefaults() {
	if c.Multiplier == 0 {
		c.Multiplier = 1.0
	}
	if c.BaseThreshold == 0 {
		c.BaseThreshold = 0.15
	}
	if c.VeryLowPercentile == 0 {
		c.VeryLowPercentile = 0.3
	}
	if c.SignificantDropPct == 0 {
		c.SignificantDropPct = 0.15
	}
	if c.EmergencySoC == 0 {
		c.EmergencySoC = 15
	}
	if c.SocBufferTarget == 0 {
		c.SocBufferTarget = 50
	}
	if c.MaxSocMultiplier == 0 {
		c.MaxSocMultiplier = 1.5
	}
}

// Validate rejects configurations that cannot produce sane decisions.
func (c Config) Validate() error {
	if c.Multiplier <= 0 {
		return fmt.Errorf("pricing: multiplier must be positive, got %v", c.Multiplier)
	}
	if c.BaseThreshold <= 0 {
		return fmt.Errorf("pricing: base_threshold must be positive, got %v", c.BaseThreshold)
	}
	if c.VeryLowPercentile <= 0 || c.VeryLowPercentile >= 1 {
		return fmt.Errorf("pricing: very_low_percentile must be in (0,1), got %v", c.VeryLowPercentile)
	}
	if c.MaxSocMultiplier < 1 {
		return fmt.Errorf("pricing: max_soc_multiplier must be >= 1, got %v", c.MaxSocMultiplier)
	}
	if c.EmergencySoC >= c.SocBufferTarget {
		return fmt.Errorf("pricing: emergency_soc %v must be below soc_buffer_target %v", c.EmergencySoC, c.SocBufferTarget)
	}
	return nil
}

// Analysis is the derived price picture for one cycle. Everything here is
// recomputed from scratch on every evaluation.
type Analysis struct {
	Available bool     `json:"available"`
	Reason    string   `json:"reason,omitempty"`
	Current   float64  `json:"current"`
	High      float64  `json:"high"`
	Low       float64  `json:"low"`
	Next      *float64 `json:"next,omitempty"`

	Position        *float64        `json:"position,omitempty"` // 0=daily low, 1=daily high
	Volatility      VolatilityClass `json:"-"`
	VolatilityName  string          `json:"volatility"`
	VolatilityRatio float64         `json:"volatility_ratio"`

	BaseThreshold      float64 `json:"base_threshold"`
	SocMultiplier      float64 `json:"soc_multiplier"`
	EffectiveThreshold float64 `json:"effective_threshold"`

	IsLowPrice          bool `json:"is_low_price"`
	IsVeryLow           bool `json:"is_very_low"`
	TrendImproving      bool `json:"trend_improving"`
	SignificantDropNext bool `json:"significant_drop_next"`

	// FutureAverage is the mean adjusted price over the remaining timeline,
	// nil when the timeline is empty.
	FutureAverage *float64 `json:"future_average,omitempty"`

	Dynamic *DynamicAnalysis `json:"dynamic,omitempty"`

	// Timeline is the adjusted forward timeline used for window look-ahead.
	Timeline []model.PriceInterval `json:"-"`
}

// Analyzer normalizes raw market prices and derives the per-cycle analysis.
type Analyzer struct {
	cfg     Config
	dynamic *DynamicThresholdAnalyzer
}

// NewAnalyzer returns an analyzer for the given configuration.
func NewAnalyzer(cfg Config) *Analyzer {
	cfg.SetDefaults()
	a := &Analyzer{cfg: cfg}
	if cfg.UseDynamicThreshold {
		a.dynamic = NewDynamicThresholdAnalyzer(cfg.BaseThreshold)
	}
	return a
}

// Config returns the analyzer configuration.
func (a *Analyzer) Config() Config { return a.cfg }

// Adjust applies the contract multiplier/offset plus transport cost for the
// given instant to a raw market price.
func (a *Analyzer) Adjust(raw float64, at time.Time) float64 {
	return a.adjust(raw, at, nil)
}

func (a *Analyzer) adjust(raw float64, at time.Time, transport *float64) float64 {
	return raw*a.cfg.Multiplier + a.cfg.Offset + a.transportAt(at, transport)
}

// transportAt resolves the transport cost for an instant: the hour table
// wins, then the live sensor override, then the configured default.
func (a *Analyzer) transportAt(at time.Time, override *float64) float64 {
	if a.cfg.TransportByHour != nil {
		if c, ok := a.cfg.TransportByHour[at.Hour()]; ok {
			return c
		}
	}
	if override != nil {
		return *override
	}
	return a.cfg.TransportCostKWh
}

// Analyze derives the full price analysis from the snapshot. soc may be nil
// when no battery data is available; the SOC multiplier is then neutral.
func (a *Analyzer) Analyze(snap model.Snapshot, soc *float64) Analysis {
	now := snap.Time
	if now.IsZero() {
		now = time.Now()
	}
	if snap.Prices.Current == nil {
		return Analysis{
			Available:     false,
			Reason:        "price data unavailable",
			BaseThreshold: a.cfg.BaseThreshold,
			SocMultiplier: 1,
		}
	}

	transport := snap.TransportCostKW

	current := a.adjust(*snap.Prices.Current, now, transport)
	high := current
	low := current
	if snap.Prices.HighToday != nil {
		high = a.adjust(*snap.Prices.HighToday, now, transport)
	}
	if snap.Prices.LowToday != nil {
		low = a.adjust(*snap.Prices.LowToday, now, transport)
	}
	// Out-of-range inputs are tolerated, not trusted: widen the range so the
	// position stays meaningful.
	if current > high {
		high = current
	}
	if current < low {
		low = current
	}

	var next *float64
	if snap.Prices.NextHour != nil {
		n := a.adjust(*snap.Prices.NextHour, now.Add(time.Hour), transport)
		next = &n
	}

	timeline := a.adjustTimeline(snap.Prices.Timeline, now, transport)

	res := Analysis{
		Available:     true,
		Current:       current,
		High:          high,
		Low:           low,
		Next:          next,
		BaseThreshold: a.cfg.BaseThreshold,
		Timeline:      timeline,
	}

	pos := 0.0
	if high > low {
		pos = clamp((current-low)/(high-low), 0, 1)
	}
	res.Position = &pos
	res.IsVeryLow = pos <= a.cfg.VeryLowPercentile

	res.VolatilityRatio = 0
	if high > 0 {
		res.VolatilityRatio = (high - low) / high
	}
	switch {
	case high <= 0:
		res.Volatility = VolatilityLow
	case res.VolatilityRatio > volatilityHighRatio:
		res.Volatility = VolatilityHigh
	case res.VolatilityRatio > volatilityMediumRatio:
		res.Volatility = VolatilityMedium
	default:
		res.Volatility = VolatilityLow
	}
	res.VolatilityName = res.Volatility.String()

	base := a.cfg.BaseThreshold
	if a.cfg.UseAverageThreshold {
		if avg := futureAverage(timeline, now); avg != nil {
			base = *avg
		}
	}
	res.BaseThreshold = base
	res.SocMultiplier = a.SocMultiplier(soc)
	res.EffectiveThreshold = base * res.SocMultiplier
	res.IsLowPrice = current <= res.EffectiveThreshold

	if next != nil {
		res.TrendImproving = *next < current
		if current > 0 {
			res.SignificantDropNext = (current-*next)/current > a.cfg.SignificantDropPct
		}
	}

	res.FutureAverage = futureAverage(timeline, now)

	if a.dynamic != nil {
		d := a.dynamic.Analyze(Inputs{
			Current:       current,
			High:          high,
			Low:           low,
			Next:          next,
			FutureAverage: res.FutureAverage,
			SoC:           soc,
			MaxThreshold:  base,
		})
		res.Dynamic = &d
	}

	return res
}

// SocMultiplier returns the threshold relaxation factor for the given SOC.
// It is 1.0 at or above the buffer target and rises linearly to the maximum
// at or below the emergency SOC. A nil SOC is neutral.
func (a *Analyzer) SocMultiplier(soc *float64) float64 {
	if soc == nil {
		return 1
	}
	s := *soc
	switch {
	case s >= a.cfg.SocBufferTarget:
		return 1
	case s <= a.cfg.EmergencySoC:
		return a.cfg.MaxSocMultiplier
	default:
		span := a.cfg.SocBufferTarget - a.cfg.EmergencySoC
		frac := (a.cfg.SocBufferTarget - s) / span
		return 1 + (a.cfg.MaxSocMultiplier-1)*frac
	}
}

func (a *Analyzer) adjustTimeline(raw []model.PriceInterval, now time.Time, transport *float64) []model.PriceInterval {
	if len(raw) == 0 {
		return nil
	}
	out := make([]model.PriceInterval, 0, len(raw))
	for _, iv := range raw {
		if !iv.End.After(now) {
			continue // past slot
		}
		out = append(out, model.PriceInterval{
			Start: iv.Start,
			End:   iv.End,
			Price: a.adjust(iv.Price, iv.Start, transport),
		})
	}
	return out
}

// futureAverage is the mean price of timeline slots that end after now.
func futureAverage(timeline []model.PriceInterval, now time.Time) *float64 {
	vals := make([]float64, 0, len(timeline))
	for _, iv := range timeline {
		if iv.End.After(now) {
			vals = append(vals, iv.Price)
		}
	}
	if len(vals) == 0 {
		return nil
	}
	avg := stat.Mean(vals, nil)
	return &avg
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
