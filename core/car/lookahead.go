package car

import (
	"sort"
	"time"

	"github.com/voltplan/voltplan/core/model"
)

// lowPriceWindow measures the contiguous run of timeline intervals priced
// at or below threshold, starting at now. A gap between intervals larger
// than tol breaks the run, as does the first interval above threshold. The
// timeline may arrive unordered and with mixed interval lengths.
func lowPriceWindow(timeline []model.PriceInterval, now time.Time, threshold float64, tol time.Duration) time.Duration {
	if len(timeline) == 0 {
		return 0
	}

	ivs := make([]model.PriceInterval, len(timeline))
	copy(ivs, timeline)
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].Start.Before(ivs[j].Start) })

	// Find the interval covering now, or one starting within tolerance.
	start := -1
	for i, iv := range ivs {
		if !iv.End.After(now) {
			continue
		}
		if iv.Start.After(now.Add(tol)) {
			break
		}
		start = i
		break
	}
	if start == -1 {
		return 0
	}

	var total time.Duration
	cursor := now
	if ivs[start].Start.After(cursor) {
		cursor = ivs[start].Start
	}

	for i := start; i < len(ivs); i++ {
		iv := ivs[i]
		if iv.Start.After(cursor.Add(tol)) {
			break // gap in the data
		}
		if iv.Price > threshold {
			break
		}
		if iv.End.After(cursor) {
			total += iv.End.Sub(cursor)
			cursor = iv.End
		}
	}
	return total
}
