// Package model holds the shared domain types of the ranking pipeline:
// candidates, metrics, raw and normalized scores, and the caller-visible
// result shape. Nothing here is persisted; every request carries its own set.
package model

import "time"

// MetricType classifies how a metric's value is produced.
type MetricType string

const (
	MetricNumeric MetricType = "numeric"
	MetricBoolean MetricType = "boolean"
	MetricLikert  MetricType = "likert"
	MetricFormula MetricType = "formula"
)

// Direction indicates whether higher raw values are better (up) or worse (down).
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// NormalizeStrategy selects how raw values are rescaled into [0,1] across the
// candidate set.
type NormalizeStrategy string

const (
	NormalizeMinMax NormalizeStrategy = "minmax"
	NormalizeZScore NormalizeStrategy = "zscore"
	NormalizeNone   NormalizeStrategy = "none"
)

// ScoreVar is the reserved formula variable holding the running weighted total.
const ScoreVar = "score"

// Candidate is one item being ranked. ID must be unique within a request.
type Candidate struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Metric is one evaluation axis. Metrics form an ordered sequence; a formula
// metric may reference, by key or label, only metrics strictly before it in
// that sequence, plus the reserved name "score".
type Metric struct {
	Key       string            `json:"key" yaml:"key"`
	Label     string            `json:"label" yaml:"label"`
	Type      MetricType        `json:"type" yaml:"type"`
	Direction Direction         `json:"direction,omitempty" yaml:"direction,omitempty"`
	Weight    float64           `json:"weight" yaml:"weight"`
	Normalize NormalizeStrategy `json:"normalize,omitempty" yaml:"normalize,omitempty"`
	Formula   string            `json:"formula,omitempty" yaml:"formula,omitempty"`
}

// SourceRef is a supporting reference returned by the reasoning service.
type SourceRef struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// RawScore is the reasoning service's raw value for one (candidate, metric)
// pair. Immutable once received.
type RawScore struct {
	Value     float64     `json:"value"`
	Rationale string      `json:"rationale,omitempty"`
	Sources   []SourceRef `json:"sources,omitempty"`
}

// CandidateScore is the reasoning service's full output for one candidate.
type CandidateScore struct {
	CandidateID string              `json:"candidate_id"`
	PerMetric   map[string]RawScore `json:"per_metric"`
	Tier        string              `json:"tier,omitempty"` // trusted verbatim when present
	Rationale   string              `json:"rationale,omitempty"`
	Sources     []SourceRef         `json:"sources,omitempty"`
	RiskNotes   []string            `json:"risk_notes,omitempty"`
}

// ScoreResult is the reasoning service's response for a whole request.
type ScoreResult struct {
	Candidates []CandidateScore `json:"candidates"`
}

// BreakdownEntry is one metric's contribution to a candidate's total,
// post-normalization. Missing marks values that could not be computed
// (absent raw data, failed formula) and contribute nothing.
type BreakdownEntry struct {
	MetricKey       string  `json:"metricKey"`
	NormalizedValue float64 `json:"normalizedValue"`
	Weight          float64 `json:"weight"`
	Reason          string  `json:"reason,omitempty"`
	Missing         bool    `json:"missing,omitempty"`
}

// CandidateResult is the final per-candidate ranking entry.
type CandidateResult struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	TotalScore  float64          `json:"totalScore"`
	Tier        string           `json:"tier"`
	MainReason  string           `json:"mainReason,omitempty"`
	TopCriteria []string         `json:"topCriteria,omitempty"`
	Breakdown   []BreakdownEntry `json:"breakdown"`
	Sources     []SourceRef      `json:"sources,omitempty"`
	RiskNotes   []string         `json:"riskNotes,omitempty"`
	Degraded    bool             `json:"degraded,omitempty"` // every weighted metric failed for this candidate
}

// TierItem is a compact per-candidate entry inside a tier group.
type TierItem struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Score       float64  `json:"score"`
	MainReason  string   `json:"mainReason,omitempty"`
	TopCriteria []string `json:"topCriteria,omitempty"`
}

// TierGroup is one tier band with its members in rank order.
type TierGroup struct {
	Label string     `json:"label"`
	Items []TierItem `json:"items"`
}

// QuotaInfo reports remaining budget and window reset for one action class.
type QuotaInfo struct {
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// QuotaState is the quota snapshot returned with a ranking.
type QuotaState struct {
	Scoring QuotaInfo  `json:"scoring"`
	Web     *QuotaInfo `json:"web,omitempty"`
}

// RankRequest is the caller's input: candidates plus an ordered metric set.
type RankRequest struct {
	Candidates   []Candidate `json:"candidates" yaml:"candidates"`
	Metrics      []Metric    `json:"metrics" yaml:"metrics"`
	UseWebSearch bool        `json:"useWebSearch,omitempty" yaml:"use_web_search,omitempty"`
	TierOrder    []string    `json:"tierOrder,omitempty" yaml:"tier_order,omitempty"` // display order for explicit tiers
}

// RankResult is the complete, internally consistent ranking returned to the
// caller: every candidate present, every tier populated or absent.
type RankResult struct {
	Tiers  []TierGroup       `json:"tiers"`
	Scores []CandidateResult `json:"scores"`
	Quota  QuotaState        `json:"quota"`
}
