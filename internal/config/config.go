package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Reasoner  ReasonerConfig  `yaml:"reasoner" mapstructure:"reasoner"`
	Quota     QuotaConfig     `yaml:"quota" mapstructure:"quota"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Ranking   RankingConfig   `yaml:"ranking" mapstructure:"ranking"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// ReasonerConfig tunes how scoring requests are sent to the model.
type ReasonerConfig struct {
	MaxTokens        int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	ChunkSize        int     `yaml:"chunk_size" mapstructure:"chunk_size"`
	Concurrency      int     `yaml:"concurrency" mapstructure:"concurrency"`
	RequestsPerSec   float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	MaxWebSearchUses int64   `yaml:"max_web_search_uses" mapstructure:"max_web_search_uses"`
}

// QuotaConfig holds the sliding-window budgets. The window is anchored to
// first use, not a calendar day.
type QuotaConfig struct {
	ScoringAuth int `yaml:"scoring_auth" mapstructure:"scoring_auth"`
	ScoringAnon int `yaml:"scoring_anon" mapstructure:"scoring_anon"`
	WebAuth     int `yaml:"web_auth" mapstructure:"web_auth"`
	WebAnon     int `yaml:"web_anon" mapstructure:"web_anon"`
	WindowHours int `yaml:"window_hours" mapstructure:"window_hours"`
}

// Window returns the configured rolling window as a duration.
func (q QuotaConfig) Window() time.Duration {
	return time.Duration(q.WindowHours) * time.Hour
}

// RedisConfig configures the shared quota counter store. An empty Addr means
// single-process mode with the in-memory counter.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// RankingConfig carries the post-processing policy constants. They are policy
// choices, not invariants.
type RankingConfig struct {
	ZScoreSpread float64   `yaml:"zscore_spread" mapstructure:"zscore_spread"`
	TierCuts     []float64 `yaml:"tier_cuts" mapstructure:"tier_cuts"`
	TierLabels   []string  `yaml:"tier_labels" mapstructure:"tier_labels"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RANKLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("reasoner.max_tokens", 4096)
	v.SetDefault("reasoner.chunk_size", 10)
	v.SetDefault("reasoner.concurrency", 3)
	v.SetDefault("reasoner.requests_per_sec", 2)
	v.SetDefault("reasoner.max_web_search_uses", 3)
	v.SetDefault("quota.scoring_auth", 50)
	v.SetDefault("quota.scoring_anon", 5)
	v.SetDefault("quota.web_auth", 10)
	v.SetDefault("quota.web_anon", 2)
	v.SetDefault("quota.window_hours", 24)
	v.SetDefault("ranking.zscore_spread", 4.0)
	v.SetDefault("ranking.tier_cuts", []float64{0.2, 0.5, 0.8})
	v.SetDefault("ranking.tier_labels", []string{"S", "A", "B", "C"})

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if len(cfg.Ranking.TierLabels) != len(cfg.Ranking.TierCuts)+1 {
		return nil, eris.Errorf("config: need %d tier labels for %d cut points, got %d",
			len(cfg.Ranking.TierCuts)+1, len(cfg.Ranking.TierCuts), len(cfg.Ranking.TierLabels))
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
