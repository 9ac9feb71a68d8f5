package main

import (
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ranklab/internal/config"
	"github.com/sells-group/ranklab/internal/quota"
	"github.com/sells-group/ranklab/internal/ranking"
	"github.com/sells-group/ranklab/internal/reasoner"
	"github.com/sells-group/ranklab/pkg/anthropic"
)

// buildGate wires the quota gate: Redis-backed when an address is configured,
// in-memory otherwise.
func buildGate(cfg *config.Config) *quota.Gate {
	budgets := quota.Budgets{
		ScoringAuth: cfg.Quota.ScoringAuth,
		ScoringAnon: cfg.Quota.ScoringAnon,
		WebAuth:     cfg.Quota.WebAuth,
		WebAnon:     cfg.Quota.WebAnon,
		Window:      cfg.Quota.Window(),
	}

	if cfg.Redis.Addr == "" {
		zap.L().Info("quota: using in-memory counter store")
		return quota.NewGate(quota.NewMemoryCounter(), budgets)
	}

	zap.L().Info("quota: using redis counter store", zap.String("addr", cfg.Redis.Addr))
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return quota.NewGate(quota.NewRedisCounter(client), budgets)
}

// buildService wires the full ranking pipeline.
func buildService(cfg *config.Config, gate *quota.Gate) (*ranking.Service, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic.key is required (RANKLAB_ANTHROPIC_KEY)")
	}

	claude := reasoner.NewClaude(anthropic.NewClient(cfg.Anthropic.Key), reasoner.Config{
		Model:            cfg.Anthropic.Model,
		MaxTokens:        cfg.Reasoner.MaxTokens,
		ChunkSize:        cfg.Reasoner.ChunkSize,
		Concurrency:      cfg.Reasoner.Concurrency,
		RequestsPerSec:   cfg.Reasoner.RequestsPerSec,
		MaxWebSearchUses: cfg.Reasoner.MaxWebSearchUses,
	})

	svc := ranking.NewService(claude, gate, ranking.Options{
		ZScoreSpread: cfg.Ranking.ZScoreSpread,
		TierPolicy: ranking.TierPolicy{
			CutPoints: cfg.Ranking.TierCuts,
			Labels:    cfg.Ranking.TierLabels,
		},
	})
	return svc, nil
}
