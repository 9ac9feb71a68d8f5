package ranking

import (
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/ranklab/internal/expr"
	"github.com/sells-group/ranklab/internal/model"
)

// maxTopCriteria caps the topCriteria list per candidate.
const maxTopCriteria = 3

// candidateAggregate is the output of one aggregation pass for one candidate.
type candidateAggregate struct {
	total     float64
	breakdown []model.BreakdownEntry
	top       []string
	degraded  bool
}

// aggregateCandidate runs the single left-to-right pass over the metric
// sequence for one candidate: non-formula metrics pull their normalized
// entry, formula metrics evaluate against a scope holding every prior
// metric's value (under key and label) plus the running weighted total under
// "score". Formula evaluation failure marks the metric missing rather than
// aborting the candidate.
//
// totalScore = clamp01(sum(w_i * v_i) / sum(w_i)) over contributing metrics
// with weight > 0; zero-weight metrics are informational only. A candidate
// whose positive-weight metrics all failed is reported degraded with total 0.
func aggregateCandidate(candID string, metrics []model.Metric, entries map[string]normEntry, reasons map[string]string, formulas map[string]*expr.Expr) candidateAggregate {
	var (
		sum, sumWeight float64
		weightedSeen   bool
	)
	scope := make(map[string]float64, len(metrics)+1)
	breakdown := make([]model.BreakdownEntry, 0, len(metrics))

	for _, m := range metrics {
		var (
			value   float64
			missing bool
			reason  string
		)

		if m.Type == model.MetricFormula {
			scope[model.ScoreVar] = runningTotal(sum, sumWeight)
			v, err := formulas[m.Key].Eval(scope)
			if err != nil {
				zap.L().Debug("ranking: formula evaluation failed",
					zap.String("candidate", candID),
					zap.String("metric", m.Key),
					zap.Error(err),
				)
				missing = true
				reason = "formula evaluation failed"
			} else {
				value = v
			}
		} else {
			entry, ok := entries[m.Key]
			if !ok || entry.missing {
				missing = true
				reason = "insufficient data"
			} else {
				value = entry.value
				reason = reasons[m.Key]
			}
		}

		if !missing {
			scope[m.Key] = value
			if m.Label != "" {
				scope[m.Label] = value
			}
		}

		if m.Weight > 0 {
			weightedSeen = true
			if !missing {
				sum += m.Weight * value
				sumWeight += m.Weight
			}
		}

		breakdown = append(breakdown, model.BreakdownEntry{
			MetricKey:       m.Key,
			NormalizedValue: value,
			Weight:          m.Weight,
			Reason:          reason,
			Missing:         missing,
		})
	}

	return candidateAggregate{
		total:     runningTotal(sum, sumWeight),
		breakdown: breakdown,
		top:       topCriteria(breakdown),
		degraded:  weightedSeen && sumWeight == 0,
	}
}

// runningTotal is the weighted total so far; 0 when nothing has contributed.
func runningTotal(sum, sumWeight float64) float64 {
	if sumWeight == 0 {
		return 0
	}
	return clamp01(sum / sumWeight)
}

// topCriteria returns up to maxTopCriteria metric keys by descending
// contribution (weight x value), ties broken by input order. Zero-weight and
// missing entries never appear.
func topCriteria(breakdown []model.BreakdownEntry) []string {
	type contrib struct {
		key   string
		value float64
		order int
	}

	ranked := make([]contrib, 0, len(breakdown))
	for i, b := range breakdown {
		if b.Weight <= 0 || b.Missing {
			continue
		}
		ranked = append(ranked, contrib{key: b.MetricKey, value: b.Weight * b.NormalizedValue, order: i})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].value != ranked[j].value {
			return ranked[i].value > ranked[j].value
		}
		return ranked[i].order < ranked[j].order
	})

	if len(ranked) > maxTopCriteria {
		ranked = ranked[:maxTopCriteria]
	}

	keys := make([]string, len(ranked))
	for i, c := range ranked {
		keys[i] = c.key
	}
	return keys
}
