// Package reasoner calls the external reasoning service that produces raw
// per-candidate, per-metric scores. The service is an opaque oracle: it may
// time out, return malformed payloads, or omit fields, and the package's job
// is to classify those failures, not to retry or re-prompt.
package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/ranklab/internal/model"
	"github.com/sells-group/ranklab/pkg/anthropic"
)

const (
	// maxRationaleChars truncates per-candidate rationales.
	maxRationaleChars = 200

	// maxSources caps supporting references per candidate.
	maxSources = 3
)

// systemPrompt instructs the model to score candidates against the supplied
// metrics and answer with JSON only.
const systemPrompt = `You are scoring candidates against a set of evaluation metrics. For every candidate, produce one raw value per metric:
- numeric metrics: any number on the metric's natural scale
- boolean metrics: exactly 0 or 1
- likert metrics: a value in [0,1]
Add a short rationale per metric and per candidate (under 200 characters each). If you used web search, cite up to 3 supporting sources per candidate. If no tier is obvious, omit the tier field.

Respond with ONLY valid JSON, no other text:
{"candidates":[{"candidate_id":"...","per_metric":{"<metric key>":{"value":0.0,"rationale":"..."}},"tier":"","rationale":"...","sources":[{"url":"","title":""}],"risk_notes":["..."]}]}`

// Config holds reasoner tuning knobs.
type Config struct {
	Model            string
	MaxTokens        int64
	ChunkSize        int     // candidates per model call
	Concurrency      int     // concurrent chunk calls
	RequestsPerSec   float64 // model call pacing
	MaxWebSearchUses int64
}

// Claude scores candidates through the Anthropic API.
type Claude struct {
	client  anthropic.Client
	cfg     Config
	limiter *rate.Limiter
}

// NewClaude creates a Claude-backed reasoner.
func NewClaude(client anthropic.Client, cfg Config) *Claude {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 2
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	return &Claude{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
	}
}

// Score produces raw scores for every candidate in the request. Candidates
// are chunked across bounded-concurrency model calls; results come back in
// request candidate order. Formula metrics are computed locally by the
// ranking pipeline and are never sent upstream.
func (c *Claude) Score(ctx context.Context, req model.RankRequest) (*model.ScoreResult, error) {
	metrics := scorableMetrics(req.Metrics)
	if len(metrics) == 0 {
		return &model.ScoreResult{}, nil
	}

	chunks := chunkCandidates(req.Candidates, c.cfg.ChunkSize)
	results := make([][]model.CandidateScore, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			scored, err := c.scoreChunk(gctx, chunk, metrics, req.UseWebSearch)
			if err != nil {
				return err
			}
			results[i] = scored
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[string]model.CandidateScore, len(req.Candidates))
	for _, scored := range results {
		for _, cs := range scored {
			byID[cs.CandidateID] = cs
		}
	}

	out := &model.ScoreResult{Candidates: make([]model.CandidateScore, 0, len(req.Candidates))}
	for _, cand := range req.Candidates {
		cs, ok := byID[cand.ID]
		if !ok {
			// Omitted by the service: carried through with no per-metric data
			// so the normalizer can flag it instead of dropping the candidate.
			zap.L().Warn("reasoner: candidate missing from response", zap.String("candidate", cand.ID))
			cs = model.CandidateScore{CandidateID: cand.ID, PerMetric: map[string]model.RawScore{}}
		}
		out.Candidates = append(out.Candidates, cs)
	}
	return out, nil
}

// scoreChunk issues one model call for a slice of candidates.
func (c *Claude) scoreChunk(ctx context.Context, candidates []model.Candidate, metrics []model.Metric, useWeb bool) ([]model.CandidateScore, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, newError(KindNetwork, err)
	}

	payload, err := json.Marshal(struct {
		Candidates []model.Candidate `json:"candidates"`
		Metrics    []model.Metric    `json:"metrics"`
	}{candidates, metrics})
	if err != nil {
		return nil, eris.Wrap(err, "reasoner: marshal request payload")
	}

	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:            c.cfg.Model,
		MaxTokens:        c.cfg.MaxTokens,
		System:           anthropic.CachedSystemBlocks(systemPrompt, "5m"),
		Messages:         []anthropic.Message{{Role: "user", Content: string(payload)}},
		WebSearch:        useWeb,
		MaxWebSearchUses: c.cfg.MaxWebSearchUses,
	})
	if err != nil {
		return nil, classifyCallError(err)
	}

	resp.Usage.LogCost(c.cfg.Model, "rank_scoring")

	text := resp.Text()
	if text == "" {
		return nil, newError(KindEmpty, eris.New("no text content in response"))
	}

	scored, err := parseScores(text, candidates, metrics)
	if err != nil {
		return nil, err
	}
	return scored, nil
}

// parseScores extracts and sanitizes the JSON score payload from model
// output. The JSON may be surrounded by prose; everything between the first
// "{" and last "}" is taken.
func parseScores(text string, candidates []model.Candidate, metrics []model.Metric) ([]model.CandidateScore, error) {
	jsonStart := strings.Index(text, "{")
	jsonEnd := strings.LastIndex(text, "}")
	if jsonStart < 0 || jsonEnd <= jsonStart {
		return nil, newError(KindParse, eris.Errorf("no JSON in response: %.120s", text))
	}

	var parsed model.ScoreResult
	if err := json.Unmarshal([]byte(text[jsonStart:jsonEnd+1]), &parsed); err != nil {
		return nil, newError(KindParse, eris.Wrap(err, "unmarshal score payload"))
	}
	if len(parsed.Candidates) == 0 {
		return nil, newError(KindEmpty, eris.New("response contains no candidate scores"))
	}

	known := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		known[c.ID] = true
	}
	metricType := make(map[string]model.MetricType, len(metrics))
	for _, m := range metrics {
		metricType[m.Key] = m.Type
	}

	out := make([]model.CandidateScore, 0, len(parsed.Candidates))
	for _, cs := range parsed.Candidates {
		if !known[cs.CandidateID] {
			zap.L().Warn("reasoner: dropping unknown candidate id", zap.String("candidate", cs.CandidateID))
			continue
		}

		clean := model.CandidateScore{
			CandidateID: cs.CandidateID,
			PerMetric:   make(map[string]model.RawScore, len(cs.PerMetric)),
			Tier:        cs.Tier,
			Rationale:   truncate(cs.Rationale, maxRationaleChars),
			RiskNotes:   cs.RiskNotes,
		}
		for key, raw := range cs.PerMetric {
			mt, ok := metricType[key]
			if !ok {
				continue
			}
			raw.Value = coerceValue(raw.Value, mt)
			raw.Rationale = truncate(raw.Rationale, maxRationaleChars)
			if len(raw.Sources) > maxSources {
				raw.Sources = raw.Sources[:maxSources]
			}
			clean.PerMetric[key] = raw
		}
		if len(cs.Sources) > maxSources {
			cs.Sources = cs.Sources[:maxSources]
		}
		clean.Sources = cs.Sources

		out = append(out, clean)
	}

	if len(out) == 0 {
		return nil, newError(KindParse, eris.New("response matched no requested candidates"))
	}
	return out, nil
}

// coerceValue snaps a raw value onto its metric type's range.
func coerceValue(v float64, t model.MetricType) float64 {
	switch t {
	case model.MetricBoolean:
		if v >= 0.5 {
			return 1
		}
		return 0
	case model.MetricLikert:
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	default:
		return v
	}
}

// scorableMetrics filters out formula metrics, which are derived locally.
func scorableMetrics(metrics []model.Metric) []model.Metric {
	out := make([]model.Metric, 0, len(metrics))
	for _, m := range metrics {
		if m.Type != model.MetricFormula {
			out = append(out, m)
		}
	}
	return out
}

func chunkCandidates(candidates []model.Candidate, size int) [][]model.Candidate {
	var chunks [][]model.Candidate
	for start := 0; start < len(candidates); start += size {
		end := min(start+size, len(candidates))
		chunks = append(chunks, candidates[start:end])
	}
	return chunks
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s…", strings.TrimSpace(s[:n]))
}
