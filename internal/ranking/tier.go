package ranking

import "sort"

// TierPolicy holds the derived-tier percentile cut points and their labels.
// The defaults are reference policy values, not invariants; they are
// configurable via ranking.tier_cuts / ranking.tier_labels.
type TierPolicy struct {
	CutPoints []float64 // ascending percentile-ratio thresholds, one per label except the last
	Labels    []string  // len(CutPoints)+1 labels, best first
}

// DefaultTierPolicy returns the S/A/B/C banding at 0.2/0.5/0.8.
func DefaultTierPolicy() TierPolicy {
	return TierPolicy{
		CutPoints: []float64{0.2, 0.5, 0.8},
		Labels:    []string{"S", "A", "B", "C"},
	}
}

// worseThan reports whether label a ranks below label b under the policy.
// Unknown labels rank below all known ones.
func (p TierPolicy) worseThan(a, b string) bool {
	return p.labelIndex(a) > p.labelIndex(b)
}

func (p TierPolicy) labelIndex(label string) int {
	for i, l := range p.Labels {
		if l == label {
			return i
		}
	}
	return len(p.Labels)
}

// scoredItem is the minimal view the tier assigner needs per candidate.
type scoredItem struct {
	index int     // arrival order, the deterministic tiebreak
	score float64 // totalScore
	tier  string  // explicit upstream label, empty when absent
}

// assignDerived assigns a tier label to every item by percentile rank of
// totalScore. Items are ranked descending with arrival order breaking ties;
// an item at 0-indexed rank r out of n gets ratio r/max(1,n-1) and the first
// label whose cut point admits it. Idempotent: equal inputs always produce
// equal labels.
func assignDerived(items []scoredItem, policy TierPolicy) map[int]string {
	ranked := rankOrder(items)

	denom := float64(len(ranked) - 1)
	if denom < 1 {
		denom = 1
	}

	labels := make(map[int]string, len(ranked))
	for r, item := range ranked {
		ratio := float64(r) / denom
		labels[item.index] = policy.labelFor(ratio)
	}
	return labels
}

func (p TierPolicy) labelFor(ratio float64) string {
	for i, cut := range p.CutPoints {
		if ratio <= cut {
			return p.Labels[i]
		}
	}
	return p.Labels[len(p.Labels)-1]
}

// groupTiers builds the tier display groups. When every item carries an
// explicit upstream label those labels are trusted verbatim; otherwise labels
// are derived from percentile rank. Group order follows tierOrder when given,
// else the policy's label order for derived tiers, else first appearance.
// Within a group, items are ordered by descending score with arrival order
// breaking ties.
func groupTiers(items []scoredItem, tierOrder []string, policy TierPolicy) (labels map[int]string, order []string) {
	explicit := len(items) > 0
	for _, it := range items {
		if it.tier == "" {
			explicit = false
			break
		}
	}

	if explicit {
		labels = make(map[int]string, len(items))
		for _, it := range items {
			labels[it.index] = it.tier
		}
	} else {
		labels = assignDerived(items, policy)
	}

	switch {
	case len(tierOrder) > 0:
		order = append(order, tierOrder...)
	case !explicit:
		order = append(order, policy.Labels...)
	}

	seen := make(map[string]bool, len(order))
	for _, l := range order {
		seen[l] = true
	}
	// Labels not covered by the requested order appear afterwards, by first
	// appearance in rank order.
	for _, it := range rankOrder(items) {
		l := labels[it.index]
		if !seen[l] {
			seen[l] = true
			order = append(order, l)
		}
	}

	return labels, order
}

// rankOrder returns items by descending score, arrival order breaking ties.
// This is the single deterministic ranking used everywhere a rank is needed.
func rankOrder(items []scoredItem) []scoredItem {
	ranked := make([]scoredItem, len(items))
	copy(ranked, items)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].index < ranked[j].index
	})
	return ranked
}
