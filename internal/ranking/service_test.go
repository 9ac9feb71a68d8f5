package ranking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ranklab/internal/model"
	"github.com/sells-group/ranklab/internal/quota"
)

// mockReasoner returns canned scores or a canned error.
type mockReasoner struct {
	result *model.ScoreResult
	err    error
	calls  int
}

func (m *mockReasoner) Score(_ context.Context, _ model.RankRequest) (*model.ScoreResult, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func testGate(budgets quota.Budgets) *quota.Gate {
	return quota.NewGate(quota.NewMemoryCounter(), budgets)
}

func anonID() quota.Identity {
	return quota.Identity{Kind: quota.KindAnonymous, ID: "198.51.100.7"}
}

func authID() quota.Identity {
	return quota.Identity{Kind: quota.KindAuthenticated, ID: "user-1"}
}

func costRequest() model.RankRequest {
	return model.RankRequest{
		Candidates: []model.Candidate{
			{ID: "a", Name: "Alpha"},
			{ID: "b", Name: "Beta"},
			{ID: "c", Name: "Gamma"},
		},
		Metrics: []model.Metric{
			{Key: "cost", Label: "Cost", Type: model.MetricNumeric, Direction: model.DirectionDown, Weight: 1, Normalize: model.NormalizeMinMax},
		},
	}
}

func costScores() *model.ScoreResult {
	return &model.ScoreResult{Candidates: []model.CandidateScore{
		{CandidateID: "a", PerMetric: map[string]model.RawScore{"cost": {Value: 10, Rationale: "cheapest"}}},
		{CandidateID: "b", PerMetric: map[string]model.RawScore{"cost": {Value: 20}}},
		{CandidateID: "c", PerMetric: map[string]model.RawScore{"cost": {Value: 30}}},
	}}
}

func TestRank_SingleDownMetric(t *testing.T) {
	svc := NewService(&mockReasoner{result: costScores()}, testGate(quota.DefaultBudgets()), Options{})

	result, err := svc.Rank(context.Background(), costRequest(), authID())
	require.NoError(t, err)

	require.Len(t, result.Scores, 3)
	assert.InDelta(t, 1.0, result.Scores[0].TotalScore, 1e-9)
	assert.InDelta(t, 0.5, result.Scores[1].TotalScore, 1e-9)
	assert.InDelta(t, 0.0, result.Scores[2].TotalScore, 1e-9)

	assert.Equal(t, "S", result.Scores[0].Tier)
	assert.Equal(t, "A", result.Scores[1].Tier)
	assert.Equal(t, "C", result.Scores[2].Tier)

	assert.Equal(t, "cheapest", result.Scores[0].Breakdown[0].Reason)
}

func TestRank_TierGroupsInRankOrder(t *testing.T) {
	svc := NewService(&mockReasoner{result: costScores()}, testGate(quota.DefaultBudgets()), Options{})

	result, err := svc.Rank(context.Background(), costRequest(), authID())
	require.NoError(t, err)

	require.Len(t, result.Tiers, 4) // S A B C, populated or empty
	assert.Equal(t, "S", result.Tiers[0].Label)
	require.Len(t, result.Tiers[0].Items, 1)
	assert.Equal(t, "a", result.Tiers[0].Items[0].ID)
	assert.Empty(t, result.Tiers[2].Items) // B
}

func TestRank_ExplicitTiersTrusted(t *testing.T) {
	scores := costScores()
	scores.Candidates[0].Tier = "hold"
	scores.Candidates[1].Tier = "buy"
	scores.Candidates[2].Tier = "hold"
	svc := NewService(&mockReasoner{result: scores}, testGate(quota.DefaultBudgets()), Options{})

	req := costRequest()
	req.TierOrder = []string{"buy", "hold"}
	result, err := svc.Rank(context.Background(), req, authID())
	require.NoError(t, err)

	assert.Equal(t, "hold", result.Scores[0].Tier)
	require.Len(t, result.Tiers, 2)
	assert.Equal(t, "buy", result.Tiers[0].Label)
	assert.Equal(t, "hold", result.Tiers[1].Label)
	require.Len(t, result.Tiers[1].Items, 2)
}

func TestRank_AnonymousBudgetExhausts(t *testing.T) {
	budgets := quota.DefaultBudgets()
	reasoner := &mockReasoner{result: costScores()}
	svc := NewService(reasoner, testGate(budgets), Options{})

	for i := 0; i < budgets.ScoringAnon; i++ {
		_, err := svc.Rank(context.Background(), costRequest(), anonID())
		require.NoError(t, err, "request %d within budget", i+1)
	}

	_, err := svc.Rank(context.Background(), costRequest(), anonID())
	var qErr *quota.ExceededError
	require.ErrorAs(t, err, &qErr)
	assert.Equal(t, quota.ClassScoring, qErr.Class)
	assert.False(t, qErr.ResetAt.IsZero())

	// The expensive call was never issued for the rejected request.
	assert.Equal(t, budgets.ScoringAnon, reasoner.calls)
}

func TestRank_AuthenticatedBudgetLarger(t *testing.T) {
	svc := NewService(&mockReasoner{result: costScores()}, testGate(quota.DefaultBudgets()), Options{})

	// The same 6 requests that exhaust an anonymous caller all pass.
	for i := 0; i < 6; i++ {
		_, err := svc.Rank(context.Background(), costRequest(), authID())
		require.NoError(t, err)
	}
}

func TestRank_WebQuotaCheckedAfterScoring(t *testing.T) {
	budgets := quota.DefaultBudgets()
	budgets.WebAnon = 1
	reasoner := &mockReasoner{result: costScores()}
	svc := NewService(reasoner, testGate(budgets), Options{})

	req := costRequest()
	req.UseWebSearch = true

	result, err := svc.Rank(context.Background(), req, anonID())
	require.NoError(t, err)
	require.NotNil(t, result.Quota.Web)
	assert.Equal(t, 0, result.Quota.Web.Remaining)

	_, err = svc.Rank(context.Background(), req, anonID())
	var qErr *quota.ExceededError
	require.ErrorAs(t, err, &qErr)
	assert.Equal(t, quota.ClassWeb, qErr.Class)
	assert.Equal(t, 1, reasoner.calls)
}

func TestRank_ValidationBeforeQuota(t *testing.T) {
	gate := testGate(quota.DefaultBudgets())
	svc := NewService(&mockReasoner{result: costScores()}, gate, Options{})

	req := costRequest()
	req.Metrics = append(req.Metrics, model.Metric{Key: "f", Type: model.MetricFormula, Formula: "reputation"})

	_, err := svc.Rank(context.Background(), req, anonID())
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "reputation", vErr.Name)

	// Rejected input consumed no quota.
	status, statusErr := gate.Status(context.Background(), anonID(), quota.ClassScoring)
	require.NoError(t, statusErr)
	assert.Equal(t, quota.DefaultBudgets().ScoringAnon, status.Remaining)
}

func TestRank_InputValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.RankRequest)
	}{
		{"no candidates", func(r *model.RankRequest) { r.Candidates = nil }},
		{"no metrics", func(r *model.RankRequest) { r.Metrics = nil }},
		{"duplicate candidate id", func(r *model.RankRequest) { r.Candidates[1].ID = r.Candidates[0].ID }},
		{"empty candidate id", func(r *model.RankRequest) { r.Candidates[0].ID = "" }},
		{"duplicate metric key", func(r *model.RankRequest) {
			r.Metrics = append(r.Metrics, model.Metric{Key: "cost", Type: model.MetricNumeric})
		}},
		{"negative weight", func(r *model.RankRequest) { r.Metrics[0].Weight = -1 }},
		{"unknown type", func(r *model.RankRequest) { r.Metrics[0].Type = "exotic" }},
		{"unknown strategy", func(r *model.RankRequest) { r.Metrics[0].Normalize = "log" }},
	}

	svc := NewService(&mockReasoner{result: costScores()}, testGate(quota.DefaultBudgets()), Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := costRequest()
			tt.mutate(&req)
			_, err := svc.Rank(context.Background(), req, authID())
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
		})
	}
}

func TestRank_ReasonerErrorPropagates(t *testing.T) {
	wantErr := assert.AnError
	svc := NewService(&mockReasoner{err: wantErr}, testGate(quota.DefaultBudgets()), Options{})

	_, err := svc.Rank(context.Background(), costRequest(), authID())
	require.ErrorIs(t, err, wantErr)
}

func TestRank_CandidateOmittedByServiceIsFlagged(t *testing.T) {
	scores := costScores()
	scores.Candidates = scores.Candidates[:2] // "c" missing entirely
	svc := NewService(&mockReasoner{result: scores}, testGate(quota.DefaultBudgets()), Options{})

	result, err := svc.Rank(context.Background(), costRequest(), authID())
	require.NoError(t, err)

	require.Len(t, result.Scores, 3)
	missing := result.Scores[2]
	assert.Equal(t, "c", missing.ID)
	assert.True(t, missing.Degraded)
	assert.Equal(t, 0.0, missing.TotalScore)
	require.Len(t, missing.Breakdown, 1)
	assert.True(t, missing.Breakdown[0].Missing)
}

func TestRank_QuotaStateReturned(t *testing.T) {
	svc := NewService(&mockReasoner{result: costScores()}, testGate(quota.DefaultBudgets()), Options{})

	result, err := svc.Rank(context.Background(), costRequest(), anonID())
	require.NoError(t, err)

	assert.Equal(t, quota.DefaultBudgets().ScoringAnon-1, result.Quota.Scoring.Remaining)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), result.Quota.Scoring.ResetAt, time.Minute)
	assert.Nil(t, result.Quota.Web)
}
