package ranking

import (
	"math"

	"github.com/montanaflynn/stats"

	"github.com/sells-group/ranklab/internal/model"
)

// DefaultZScoreSpread is the number of standard deviations mapped onto the
// [0,1] interval by the zscore strategy. Values beyond it saturate at 0 or 1.
const DefaultZScoreSpread = 4.0

// normEntry is one candidate's normalized value for a metric. Missing entries
// (NaN raw input) contribute nothing to aggregation but stay visible in the
// breakdown.
type normEntry struct {
	value   float64
	missing bool
}

// normalizeMetric rescales one metric's raw values across the candidate set
// into [0,1] and applies the metric's direction. raw is aligned with the
// request's candidate order; NaN marks a missing raw value. spread <= 0 falls
// back to DefaultZScoreSpread.
//
// This never fails for well-formed input: zero-variance sets map every
// candidate to the neutral 0.5, and missing values come back flagged rather
// than aborting the metric.
func normalizeMetric(raw []float64, m model.Metric, spread float64) []normEntry {
	if spread <= 0 {
		spread = DefaultZScoreSpread
	}

	valid := make([]float64, 0, len(raw))
	for _, v := range raw {
		if !math.IsNaN(v) {
			valid = append(valid, v)
		}
	}

	out := make([]normEntry, len(raw))
	for i, v := range raw {
		if math.IsNaN(v) {
			out[i] = normEntry{missing: true}
			continue
		}
		out[i] = normEntry{value: rescale(v, valid, m.Normalize, spread)}
	}

	if m.Direction == model.DirectionDown {
		for i := range out {
			if !out[i].missing {
				out[i].value = 1 - out[i].value
			}
		}
	}

	return out
}

// rescale maps a single raw value into [0,1] given the valid values of its
// metric across the candidate set.
func rescale(v float64, valid []float64, strategy model.NormalizeStrategy, spread float64) float64 {
	switch strategy {
	case model.NormalizeMinMax:
		lo, loErr := stats.Min(valid)
		hi, hiErr := stats.Max(valid)
		if loErr != nil || hiErr != nil || hi == lo {
			// No variance: neutral value, still contributes to the weighted
			// sum without introducing spurious ranking.
			return 0.5
		}
		return (v - lo) / (hi - lo)

	case model.NormalizeZScore:
		mean, meanErr := stats.Mean(valid)
		sd, sdErr := stats.StandardDeviationPopulation(valid)
		if meanErr != nil || sdErr != nil || sd == 0 {
			return 0.5
		}
		return clamp01(0.5 + (v-mean)/(sd*spread))

	default:
		// none: upstream producers pre-scale numeric/boolean/likert values.
		return v
	}
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
