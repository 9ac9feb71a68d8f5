// Package ranking turns raw reasoning-service scores into a deterministic,
// auditable ranking: normalization, weighted aggregation, tier assignment,
// and locally derived formula metrics, all behind the quota gate.
//
// Everything except the gate's counter store is a pure function over the
// request; concurrent requests share no mutable state.
package ranking

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/ranklab/internal/expr"
	"github.com/sells-group/ranklab/internal/model"
	"github.com/sells-group/ranklab/internal/quota"
)

// Reasoner is the narrow interface to the external reasoning service. It is
// treated as an opaque oracle returning a raw score per (candidate, metric).
type Reasoner interface {
	Score(ctx context.Context, req model.RankRequest) (*model.ScoreResult, error)
}

// Options holds the configurable policy constants of the pipeline.
type Options struct {
	ZScoreSpread float64
	TierPolicy   TierPolicy
}

// Service wires the quota gate, the reasoner, and the post-processing stages.
type Service struct {
	reasoner Reasoner
	gate     *quota.Gate
	opts     Options
}

// NewService creates a ranking service.
func NewService(reasoner Reasoner, gate *quota.Gate, opts Options) *Service {
	if opts.ZScoreSpread <= 0 {
		opts.ZScoreSpread = DefaultZScoreSpread
	}
	if len(opts.TierPolicy.Labels) == 0 {
		opts.TierPolicy = DefaultTierPolicy()
	}
	return &Service{reasoner: reasoner, gate: gate, opts: opts}
}

// Rank runs one full ranking request for the given identity.
//
// Ordering is strict: the scoring quota check (and the web check, when web
// augmentation is requested) completes and succeeds before the expensive
// reasoning call is issued. The call is never made speculatively; consumed
// quota is never refunded if the caller aborts mid-flight.
func (s *Service) Rank(ctx context.Context, req model.RankRequest, id quota.Identity) (*model.RankResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	formulas, err := parseFormulas(req.Metrics)
	if err != nil {
		return nil, err
	}

	scoring, err := s.gate.Check(ctx, id, quota.ClassScoring)
	if err != nil {
		return nil, err
	}
	if !scoring.Allowed {
		return nil, &quota.ExceededError{Class: quota.ClassScoring, ResetAt: scoring.ResetAt}
	}

	quotaState := model.QuotaState{
		Scoring: model.QuotaInfo{Remaining: scoring.Remaining, ResetAt: scoring.ResetAt},
	}

	if req.UseWebSearch {
		web, webErr := s.gate.Check(ctx, id, quota.ClassWeb)
		if webErr != nil {
			return nil, webErr
		}
		if !web.Allowed {
			return nil, &quota.ExceededError{Class: quota.ClassWeb, ResetAt: web.ResetAt}
		}
		quotaState.Web = &model.QuotaInfo{Remaining: web.Remaining, ResetAt: web.ResetAt}
	}

	scores, err := s.reasoner.Score(ctx, req)
	if err != nil {
		return nil, err
	}

	result := s.postProcess(req, scores, formulas)
	result.Quota = quotaState

	zap.L().Info("ranking complete",
		zap.String("identity", id.ID),
		zap.Int("candidates", len(req.Candidates)),
		zap.Int("metrics", len(req.Metrics)),
		zap.Bool("web_search", req.UseWebSearch),
	)
	return result, nil
}

// postProcess is the pure, synchronous tail of a request: normalize,
// aggregate, assign tiers, shape the result. Always rebuilt from the full
// candidate/metric/raw-score set, never mutated in place.
func (s *Service) postProcess(req model.RankRequest, scores *model.ScoreResult, formulas map[string]*expr.Expr) *model.RankResult {
	byID := make(map[string]model.CandidateScore, len(scores.Candidates))
	for _, cs := range scores.Candidates {
		byID[cs.CandidateID] = cs
	}

	// Normalize each non-formula metric across the full candidate set.
	normalized := make(map[string][]normEntry, len(req.Metrics))
	for _, m := range req.Metrics {
		if m.Type == model.MetricFormula {
			continue
		}
		raw := make([]float64, len(req.Candidates))
		for i, cand := range req.Candidates {
			raw[i] = math.NaN()
			if rs, ok := byID[cand.ID].PerMetric[m.Key]; ok && !math.IsNaN(rs.Value) {
				raw[i] = rs.Value
			}
		}
		normalized[m.Key] = normalizeMetric(raw, m, s.opts.ZScoreSpread)
	}

	results := make([]model.CandidateResult, len(req.Candidates))
	items := make([]scoredItem, len(req.Candidates))
	for i, cand := range req.Candidates {
		cs := byID[cand.ID]

		entries := make(map[string]normEntry, len(normalized))
		reasons := make(map[string]string, len(cs.PerMetric))
		for key, perMetric := range normalized {
			entries[key] = perMetric[i]
		}
		for key, rs := range cs.PerMetric {
			reasons[key] = rs.Rationale
		}

		agg := aggregateCandidate(cand.ID, req.Metrics, entries, reasons, formulas)

		results[i] = model.CandidateResult{
			ID:          cand.ID,
			Name:        cand.Name,
			TotalScore:  agg.total,
			MainReason:  cs.Rationale,
			TopCriteria: agg.top,
			Breakdown:   agg.breakdown,
			Sources:     cs.Sources,
			RiskNotes:   cs.RiskNotes,
			Degraded:    agg.degraded,
		}
		items[i] = scoredItem{index: i, score: agg.total, tier: cs.Tier}
	}

	labels, order := groupTiers(items, req.TierOrder, s.opts.TierPolicy)
	ranked := rankOrder(items)

	groups := make([]model.TierGroup, 0, len(order))
	for _, label := range order {
		group := model.TierGroup{Label: label, Items: []model.TierItem{}}
		for _, it := range ranked {
			if labels[it.index] != label {
				continue
			}
			r := results[it.index]
			group.Items = append(group.Items, model.TierItem{
				ID:          r.ID,
				Name:        r.Name,
				Score:       r.TotalScore,
				MainReason:  r.MainReason,
				TopCriteria: r.TopCriteria,
			})
		}
		groups = append(groups, group)
	}

	for i := range results {
		results[i].Tier = labels[i]
	}

	return &model.RankResult{Tiers: groups, Scores: results}
}

// parseFormulas validates the metric sequence and parses every formula once.
func parseFormulas(metrics []model.Metric) (map[string]*expr.Expr, error) {
	if err := ValidateFormulas(metrics); err != nil {
		return nil, err
	}
	formulas := make(map[string]*expr.Expr, 2)
	for _, m := range metrics {
		if m.Type != model.MetricFormula {
			continue
		}
		parsed, err := expr.Parse(m.Formula)
		if err != nil {
			// Unreachable after validation, but fail loudly rather than panic.
			return nil, &ValidationError{MetricKey: m.Key, Formula: m.Formula, Reason: err.Error()}
		}
		formulas[m.Key] = parsed
	}
	return formulas, nil
}

// validateRequest rejects structurally broken input before any quota is
// consumed or any external call is made.
func validateRequest(req model.RankRequest) error {
	if len(req.Candidates) == 0 {
		return &ValidationError{Reason: "no candidates"}
	}
	if len(req.Metrics) == 0 {
		return &ValidationError{Reason: "no metrics"}
	}

	seenIDs := make(map[string]bool, len(req.Candidates))
	for _, c := range req.Candidates {
		if c.ID == "" {
			return &ValidationError{Reason: "candidate with empty id"}
		}
		if seenIDs[c.ID] {
			return &ValidationError{Reason: "duplicate candidate id " + c.ID}
		}
		seenIDs[c.ID] = true
	}

	seenKeys := make(map[string]bool, len(req.Metrics))
	for _, m := range req.Metrics {
		if m.Key == "" {
			return &ValidationError{Reason: "metric with empty key"}
		}
		if seenKeys[m.Key] {
			return &ValidationError{MetricKey: m.Key, Reason: "duplicate metric key"}
		}
		seenKeys[m.Key] = true

		if m.Weight < 0 || math.IsNaN(m.Weight) {
			return &ValidationError{MetricKey: m.Key, Reason: "weight must be >= 0"}
		}
		switch m.Type {
		case model.MetricNumeric, model.MetricBoolean, model.MetricLikert, model.MetricFormula:
		default:
			return &ValidationError{MetricKey: m.Key, Reason: "unknown metric type " + string(m.Type)}
		}
		switch m.Direction {
		case model.DirectionUp, model.DirectionDown, "":
		default:
			return &ValidationError{MetricKey: m.Key, Reason: "unknown direction " + string(m.Direction)}
		}
		switch m.Normalize {
		case model.NormalizeMinMax, model.NormalizeZScore, model.NormalizeNone, "":
		default:
			return &ValidationError{MetricKey: m.Key, Reason: "unknown normalize strategy " + string(m.Normalize)}
		}
	}

	return nil
}
