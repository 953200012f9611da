package pricing

// Confidence term weights. They sum to 1 so the score stays in [0,1].
const (
	weightPriceQuality  = 0.25
	weightBelowDynamic  = 0.25
	weightNoBetterSoon  = 0.20
	weightBelowAverage  = 0.15
	weightAbsoluteLevel = 0.15
)

// Dynamic threshold placement inside the acceptable range, per volatility
// class. Volatile markets get a stricter cut so charging concentrates on
// the genuine troughs.
const (
	dynamicFractionHigh   = 0.4
	dynamicFractionMedium = 0.6
	dynamicFractionLow    = 0.8
)

// Required confidence by SOC tier. The emptier the battery, the less
// certainty we demand before buying.
const (
	requiredConfidenceCritical = 0.40 // SOC < 30
	requiredConfidenceLow      = 0.50 // SOC < 50
	requiredConfidenceMedium   = 0.60 // SOC < 70
	requiredConfidenceHigh     = 0.70
)

// Inputs feeds one dynamic threshold evaluation.
type Inputs struct {
	Current       float64
	High          float64
	Low           float64
	Next          *float64
	FutureAverage *float64
	SoC           *float64
	MaxThreshold  float64
}

// DynamicAnalysis is the confidence-scored charge recommendation derived
// from where the current price sits in the acceptable range.
type DynamicAnalysis struct {
	Threshold          float64 `json:"threshold"`
	PriceQuality       float64 `json:"price_quality"`
	Confidence         float64 `json:"confidence"`
	RequiredConfidence float64 `json:"required_confidence"`
	ShouldCharge       bool    `json:"should_charge"`
}

// DynamicThresholdAnalyzer scores charge opportunities instead of applying
// a single fixed cutoff. The acceptable range runs from the daily low up to
// the maximum threshold; the effective cut moves within it with volatility.
type DynamicThresholdAnalyzer struct {
	fallbackMax float64
}

// NewDynamicThresholdAnalyzer returns an analyzer that falls back to the
// given maximum threshold when the inputs carry none.
func NewDynamicThresholdAnalyzer(maxThreshold float64) *DynamicThresholdAnalyzer {
	return &DynamicThresholdAnalyzer{fallbackMax: maxThreshold}
}

// Analyze computes the dynamic threshold and the weighted confidence score.
func (d *DynamicThresholdAnalyzer) Analyze(in Inputs) DynamicAnalysis {
	maxThreshold := in.MaxThreshold
	if maxThreshold <= 0 {
		maxThreshold = d.fallbackMax
	}

	res := DynamicAnalysis{
		RequiredConfidence: requiredConfidence(in.SoC),
	}

	// Prices above the ceiling are never acceptable, whatever the score.
	if in.Current > maxThreshold {
		res.Threshold = maxThreshold
		return res
	}

	rng := maxThreshold - in.Low
	if rng > 0 {
		res.PriceQuality = clamp((maxThreshold-in.Current)/rng, 0, 1)
	} else {
		res.PriceQuality = 1
	}

	frac := dynamicFractionLow
	ratio := 0.0
	if in.High > 0 {
		ratio = (in.High - in.Low) / in.High
	}
	switch {
	case ratio > volatilityHighRatio:
		frac = dynamicFractionHigh
	case ratio > volatilityMediumRatio:
		frac = dynamicFractionMedium
	}
	res.Threshold = in.Low + frac*rng
	if res.Threshold > maxThreshold {
		res.Threshold = maxThreshold
	}

	belowDynamic := 0.0
	if in.Current <= res.Threshold {
		belowDynamic = 1
	}

	// If the next hour is not meaningfully cheaper there is no point waiting.
	noBetterSoon := 1.0
	if in.Next != nil && *in.Next < in.Current*0.9 {
		noBetterSoon = 0.3
	}

	belowAverage := 0.5
	if in.FutureAverage != nil {
		if in.Current <= *in.FutureAverage {
			belowAverage = 1
		} else {
			belowAverage = 0
		}
	}

	absoluteLevel := 1.0
	if maxThreshold > 0 {
		absoluteLevel = 1 - clamp(in.Current/maxThreshold, 0, 1)
	}

	res.Confidence = weightPriceQuality*res.PriceQuality +
		weightBelowDynamic*belowDynamic +
		weightNoBetterSoon*noBetterSoon +
		weightBelowAverage*belowAverage +
		weightAbsoluteLevel*absoluteLevel

	res.ShouldCharge = res.Confidence >= res.RequiredConfidence
	return res
}

func requiredConfidence(soc *float64) float64 {
	if soc == nil {
		return requiredConfidenceMedium
	}
	switch {
	case *soc < 30:
		return requiredConfidenceCritical
	case *soc < 50:
		return requiredConfidenceLow
	case *soc < 70:
		return requiredConfidenceMedium
	default:
		return requiredConfidenceHigh
	}
}
