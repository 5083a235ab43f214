// Package config loads the engine's runtime configuration from environment variables,
// following the teacher's viper-based loader shape.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable spec §6 names as part of the CLI/operational surface.
type Config struct {
	Tick struct {
		IntervalMS  int `mapstructure:"interval_ms"`
		MarketOpen  int `mapstructure:"market_open"`  // tick bound, inclusive
		MarketClose int `mapstructure:"market_close"` // tick bound, inclusive; 0 = never closes
	} `mapstructure:"tick"`

	Events struct {
		Enabled bool    `mapstructure:"enabled"`
		Chance  float64 `mapstructure:"chance"`
	} `mapstructure:"events"`

	Webhook struct {
		TimeoutMS       int     `mapstructure:"timeout_ms"`
		MaxRetries      int     `mapstructure:"max_retries"`
		BaseDelayMS     int     `mapstructure:"base_delay_ms"`
		MaxDelayMS      int     `mapstructure:"max_delay_ms"`
		Jitter          float64 `mapstructure:"jitter"`
		GzipThresholdKB int     `mapstructure:"gzip_threshold_kb"`
		WorkerPoolSize  int     `mapstructure:"worker_pool_size"`
	} `mapstructure:"webhook"`

	Circuit struct {
		FailureThreshold     uint32 `mapstructure:"failure_threshold"`
		HalfOpenSuccessCount uint32 `mapstructure:"half_open_success_count"`
		RecoveryWindowMS     int    `mapstructure:"recovery_window_ms"`
	} `mapstructure:"circuit"`

	Actions struct {
		MaxPerParticipantPerTick int     `mapstructure:"max_per_participant_per_tick"`
		RumorReputationCost      int     `mapstructure:"rumor_reputation_cost"`
		BribeMinimumAmount       float64 `mapstructure:"bribe_minimum_amount"`
		BribeDetectionBase       float64 `mapstructure:"bribe_detection_base"`
		WhistleblowReputationAdj int     `mapstructure:"whistleblow_reputation_adj"`
		ReputationMin            int     `mapstructure:"reputation_min"`
		ReputationMax            int     `mapstructure:"reputation_max"`
		FleeBaseEscapeProb       float64 `mapstructure:"flee_base_escape_prob"`
		FleeSentence             string  `mapstructure:"flee_sentence"`
	} `mapstructure:"actions"`

	Matching struct {
		AllowSelfTrade bool    `mapstructure:"allow_self_trade"`
		MinPrice       float64 `mapstructure:"min_price"`
		MaxPrice       float64 `mapstructure:"max_price"`
		MaxQuantity    float64 `mapstructure:"max_quantity"`
	} `mapstructure:"matching"`

	Price struct {
		FloorPrice        float64 `mapstructure:"floor_price"`
		MaxTickMove       float64 `mapstructure:"max_tick_move"` // cap on |log(new/old)|
		Volatility        float64 `mapstructure:"volatility"`    // uniform per-symbol sigma baseline
		AgentPressureBeta float64 `mapstructure:"agent_pressure_beta"`
		EventImpactTicks  int     `mapstructure:"event_impact_ticks"` // decay duration for a triggered MarketEvent
	} `mapstructure:"price"`

	PubSub struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"pubsub"`

	AutoRecovery struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"auto_recovery"`

	Admin struct {
		ListenAddr string `mapstructure:"listen_addr"`
	} `mapstructure:"admin"`

	Broadcast struct {
		ListenAddr string `mapstructure:"listen_addr"`
	} `mapstructure:"broadcast"`

	LogLevel string `mapstructure:"log_level"`
}

// TickInterval returns Tick.IntervalMS as a time.Duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Tick.IntervalMS) * time.Millisecond
}

// WebhookTimeout returns Webhook.TimeoutMS as a time.Duration.
func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.Webhook.TimeoutMS) * time.Millisecond
}

// RecoveryWindow returns Circuit.RecoveryWindowMS as a time.Duration.
func (c *Config) RecoveryWindow() time.Duration {
	return time.Duration(c.Circuit.RecoveryWindowMS) * time.Millisecond
}

var (
	loaded *Config
	once   sync.Once
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("tick.interval_ms", 1000)
	v.SetDefault("tick.market_open", 0)
	v.SetDefault("tick.market_close", 0)
	v.SetDefault("events.enabled", true)
	v.SetDefault("events.chance", 0.02)
	v.SetDefault("webhook.timeout_ms", 5000)
	v.SetDefault("webhook.max_retries", 3)
	v.SetDefault("webhook.base_delay_ms", 200)
	v.SetDefault("webhook.max_delay_ms", 5000)
	v.SetDefault("webhook.jitter", 0.2)
	v.SetDefault("webhook.gzip_threshold_kb", 16)
	v.SetDefault("webhook.worker_pool_size", 64)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.half_open_success_count", 2)
	v.SetDefault("circuit.recovery_window_ms", 60000)
	v.SetDefault("actions.max_per_participant_per_tick", 10)
	v.SetDefault("actions.rumor_reputation_cost", 5)
	v.SetDefault("actions.bribe_minimum_amount", 1000.0)
	v.SetDefault("actions.bribe_detection_base", 0.05)
	v.SetDefault("actions.whistleblow_reputation_adj", 10)
	v.SetDefault("actions.reputation_min", 0)
	v.SetDefault("actions.reputation_max", 100)
	v.SetDefault("actions.flee_base_escape_prob", 0.1)
	v.SetDefault("actions.flee_sentence", "10 ticks")
	v.SetDefault("matching.allow_self_trade", true)
	v.SetDefault("matching.min_price", 0.0001)
	v.SetDefault("matching.max_price", 10000000.0)
	v.SetDefault("matching.max_quantity", 1000000000.0)
	v.SetDefault("price.floor_price", 0.01)
	v.SetDefault("price.max_tick_move", 0.25)
	v.SetDefault("price.volatility", 0.01)
	v.SetDefault("price.agent_pressure_beta", 0.0005)
	v.SetDefault("price.event_impact_ticks", 20)
	v.SetDefault("pubsub.enabled", true)
	v.SetDefault("auto_recovery.enabled", true)
	v.SetDefault("admin.listen_addr", ":9090")
	v.SetDefault("broadcast.listen_addr", ":8081")
	v.SetDefault("log_level", "info")
}

// Load reads configuration from an optional config file in configPath, overridden by
// ENGINE_-prefixed environment variables, and caches the result process-wide.
func Load(configPath string) (*Config, error) {
	var err error
	once.Do(func() {
		loaded, err = load(configPath)
	})
	return loaded, err
}

func load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/engine")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}
