package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ranklab/internal/model"
	"github.com/sells-group/ranklab/internal/quota"
	"github.com/sells-group/ranklab/internal/ranking"
	"github.com/sells-group/ranklab/internal/reasoner"
)

type stubReasoner struct {
	result *model.ScoreResult
	err    error
}

func (s *stubReasoner) Score(_ context.Context, _ model.RankRequest) (*model.ScoreResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func newTestServer(t *testing.T, r ranking.Reasoner, budgets quota.Budgets) *Server {
	t.Helper()
	gate := quota.NewGate(quota.NewMemoryCounter(), budgets)
	svc := ranking.NewService(r, gate, ranking.Options{})
	return New(svc, gate, []string{"*"})
}

func validBody() string {
	return `{
		"candidates": [{"id":"a","name":"Alpha"},{"id":"b","name":"Beta"}],
		"metrics": [{"key":"fit","label":"Fit","type":"numeric","direction":"up","weight":1,"normalize":"minmax"}]
	}`
}

func stubScores() *model.ScoreResult {
	return &model.ScoreResult{Candidates: []model.CandidateScore{
		{CandidateID: "a", PerMetric: map[string]model.RawScore{"fit": {Value: 0.9, Rationale: "strong"}}},
		{CandidateID: "b", PerMetric: map[string]model.RawScore{"fit": {Value: 0.3}}},
	}}
}

func doRank(srv *Server, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rank", strings.NewReader(body))
	req.RemoteAddr = "203.0.113.50:51234"
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHandleRank_Success(t *testing.T) {
	srv := newTestServer(t, &stubReasoner{result: stubScores()}, quota.DefaultBudgets())

	w := doRank(srv, validBody(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var result model.RankResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Len(t, result.Scores, 2)
	assert.Equal(t, "a", result.Scores[0].ID)
	assert.InDelta(t, 1.0, result.Scores[0].TotalScore, 1e-9)

	assert.Equal(t, "4", w.Header().Get("X-Quota-Scoring-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-Quota-Scoring-Reset"))
	assert.Empty(t, w.Header().Get("X-Quota-Web-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHandleRank_InvalidBody(t *testing.T) {
	srv := newTestServer(t, &stubReasoner{result: stubScores()}, quota.DefaultBudgets())

	w := doRank(srv, "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRank_ValidationError(t *testing.T) {
	srv := newTestServer(t, &stubReasoner{result: stubScores()}, quota.DefaultBudgets())

	body := `{
		"candidates": [{"id":"a","name":"Alpha"}],
		"metrics": [
			{"key":"fit","type":"numeric","weight":1},
			{"key":"blend","type":"formula","weight":1,"formula":"reputation"}
		]
	}`
	w := doRank(srv, body, nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body2 map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body2))
	assert.Equal(t, "validation", body2["kind"])
	assert.Equal(t, "reputation", body2["name"])
	assert.Equal(t, "blend", body2["metric"])
}

func TestHandleRank_QuotaExhausted(t *testing.T) {
	budgets := quota.DefaultBudgets()
	budgets.ScoringAnon = 1
	srv := newTestServer(t, &stubReasoner{result: stubScores()}, budgets)

	w := doRank(srv, validBody(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRank(srv, validBody(), nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "quota_scoring", body["kind"])
	assert.NotEmpty(t, body["resetAt"])
}

func TestHandleRank_AuthAndAnonBudgetsSeparate(t *testing.T) {
	budgets := quota.DefaultBudgets()
	budgets.ScoringAnon = 1
	srv := newTestServer(t, &stubReasoner{result: stubScores()}, budgets)

	w := doRank(srv, validBody(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = doRank(srv, validBody(), nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	// An authenticated caller from the same address has its own budget.
	h := http.Header{}
	h.Set("Authorization", "Bearer sometoken")
	w = doRank(srv, validBody(), h)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleRank_ReasonerFailures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"network", &reasoner.Error{Kind: reasoner.KindNetwork, Err: assert.AnError}, http.StatusGatewayTimeout},
		{"upstream", &reasoner.Error{Kind: reasoner.KindUpstream, Err: assert.AnError}, http.StatusBadGateway},
		{"empty", &reasoner.Error{Kind: reasoner.KindEmpty, Err: assert.AnError}, http.StatusBadGateway},
		{"parse", &reasoner.Error{Kind: reasoner.KindParse, Err: assert.AnError}, http.StatusBadGateway},
		{"unclassified", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &stubReasoner{err: tt.err}, quota.DefaultBudgets())
			w := doRank(srv, validBody(), nil)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestHandleQuota(t *testing.T) {
	budgets := quota.DefaultBudgets()
	srv := newTestServer(t, &stubReasoner{result: stubScores()}, budgets)

	// Consume one scoring slot first.
	w := doRank(srv, validBody(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/quota", nil)
	req.RemoteAddr = "203.0.113.50:9999"
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var state model.QuotaState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, budgets.ScoringAnon-1, state.Scoring.Remaining)
	require.NotNil(t, state.Web)
	assert.Equal(t, budgets.WebAnon, state.Web.Remaining)
	assert.WithinDuration(t, time.Now().Add(budgets.Window), state.Scoring.ResetAt, time.Minute)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &stubReasoner{result: stubScores()}, quota.DefaultBudgets())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestIdentityFor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.8:1234"
	id := identityFor(r)
	assert.Equal(t, quota.KindAnonymous, id.Kind)
	assert.Equal(t, "198.51.100.8", id.ID)

	r.Header.Set("Authorization", "Bearer secret-token")
	id = identityFor(r)
	assert.Equal(t, quota.KindAuthenticated, id.Kind)
	assert.NotContains(t, id.ID, "secret-token", "raw token never used as a key")
	assert.Len(t, id.ID, 16)

	// Same token, same identity.
	again := identityFor(r)
	assert.Equal(t, id, again)
}
