package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/ranklab/internal/model"
	"github.com/sells-group/ranklab/internal/quota"
	"github.com/sells-group/ranklab/internal/ranking"
	"github.com/sells-group/ranklab/internal/reasoner"
)

// errorBody is the single structured error shape: enough to distinguish
// "fix your input" from "try again later" from "our bug".
type errorBody struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Metric  string `json:"metric,omitempty"`
	Name    string `json:"name,omitempty"`
	ResetAt string `json:"resetAt,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	var req model.RankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Kind: "bad_request"})
		return
	}

	id := identityFor(r)
	result, err := s.svc.Rank(r.Context(), req, id)
	if err != nil {
		writeRankError(w, err)
		return
	}

	setQuotaHeaders(w, result.Quota)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	id := identityFor(r)

	scoring, err := s.gate.Status(r.Context(), id, quota.ClassScoring)
	if err != nil {
		zap.L().Error("quota status failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "quota status unavailable", Kind: "internal"})
		return
	}
	web, err := s.gate.Status(r.Context(), id, quota.ClassWeb)
	if err != nil {
		zap.L().Error("quota status failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "quota status unavailable", Kind: "internal"})
		return
	}

	state := model.QuotaState{
		Scoring: model.QuotaInfo{Remaining: scoring.Remaining, ResetAt: scoring.ResetAt},
		Web:     &model.QuotaInfo{Remaining: web.Remaining, ResetAt: web.ResetAt},
	}
	setQuotaHeaders(w, state)
	writeJSON(w, http.StatusOK, state)
}

// writeRankError maps pipeline errors onto HTTP statuses.
func writeRankError(w http.ResponseWriter, err error) {
	var vErr *ranking.ValidationError
	if errors.As(err, &vErr) {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error:  vErr.Error(),
			Kind:   "validation",
			Metric: vErr.MetricKey,
			Name:   vErr.Name,
		})
		return
	}

	var qErr *quota.ExceededError
	if errors.As(err, &qErr) {
		retryAfter := int(time.Until(qErr.ResetAt).Seconds())
		if retryAfter < 0 {
			retryAfter = 0
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeJSON(w, http.StatusTooManyRequests, errorBody{
			Error:   qErr.Error(),
			Kind:    fmt.Sprintf("quota_%s", qErr.Class),
			ResetAt: qErr.ResetAt.UTC().Format(time.RFC3339),
		})
		return
	}

	switch reasoner.KindOf(err) {
	case reasoner.KindNetwork:
		zap.L().Warn("reasoner unreachable", zap.Error(err))
		writeJSON(w, http.StatusGatewayTimeout, errorBody{Error: "reasoning service unreachable, try again later", Kind: "network"})
		return
	case reasoner.KindUpstream, reasoner.KindEmpty, reasoner.KindParse:
		zap.L().Warn("reasoner failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "reasoning service failed", Kind: string(reasoner.KindOf(err))})
		return
	}

	zap.L().Error("ranking failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Kind: "internal"})
}

// setQuotaHeaders surfaces remaining budget and reset time per action class.
func setQuotaHeaders(w http.ResponseWriter, q model.QuotaState) {
	w.Header().Set("X-Quota-Scoring-Remaining", strconv.Itoa(q.Scoring.Remaining))
	w.Header().Set("X-Quota-Scoring-Reset", q.Scoring.ResetAt.UTC().Format(time.RFC3339))
	if q.Web != nil {
		w.Header().Set("X-Quota-Web-Remaining", strconv.Itoa(q.Web.Remaining))
		w.Header().Set("X-Quota-Web-Reset", q.Web.ResetAt.UTC().Format(time.RFC3339))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("write response failed", zap.Error(err))
	}
}
