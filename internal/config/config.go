package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for SENTINEL.
type Config struct {
	General  GeneralConfig  `yaml:"general"`
	Feed     FeedConfig     `yaml:"feed"`
	Filter   FilterConfig   `yaml:"filter"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Rug      RugConfig      `yaml:"rug_probability"`
	Whale    WhaleConfig    `yaml:"whale_detection"`
	Early    EarlyConfig    `yaml:"early_buyers"`
	Cluster  ClusterConfig  `yaml:"wallet_clusters"`
	Rotation RotationConfig `yaml:"capital_rotation"`
	Ranking  RankingConfig  `yaml:"alert_ranking"`
	Watch    WatchConfig    `yaml:"watch_mode"`
	Defense  DefenseConfig  `yaml:"self_defense"`
	Status   StatusConfig   `yaml:"status"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
}

type FeedConfig struct {
	BaseURL         string `yaml:"base_url"`
	WSEndpoint      string `yaml:"ws_endpoint"`
	PollIntervalS   int    `yaml:"poll_interval_s"`
	RequestTimeoutS int    `yaml:"request_timeout_s"`
	MaxPairsPerPoll int    `yaml:"max_pairs_per_poll"`
}

// FilterConfig holds both filter stages. Stage 1 is cheap static thresholds;
// stage 2 gates on composite score and rug probability.
type FilterConfig struct {
	Stage1 Stage1Config `yaml:"stage1"`
	Stage2 Stage2Config `yaml:"stage2"`
}

type Stage1Config struct {
	MinLiquidityUSD  float64 `yaml:"min_liquidity_usd"`
	MinVolume24hUSD  float64 `yaml:"min_volume_24h_usd"`
	MaxTokenAgeHours int     `yaml:"max_token_age_hours"`
}

type Stage2Config struct {
	MinBuyRatio       float64 `yaml:"min_buy_ratio"`
	MinPriceChange5m  float64 `yaml:"min_price_change_5m"`
	MaxPriceChange5m  float64 `yaml:"max_price_change_5m"`
	MinCompositeScore float64 `yaml:"min_composite_score"`
	MaxRugProbability float64 `yaml:"max_rug_probability"`
}

// ScoringConfig carries the risk-engine sub-term weights and the composite
// weights used by stage 2 and the ranking engine. Each weight set must sum
// to 1.0; Validate fails fast otherwise.
type ScoringConfig struct {
	RiskWeights      RiskWeights      `yaml:"risk_weights"`
	CompositeWeights CompositeWeights `yaml:"composite_weights"`
}

type RiskWeights struct {
	Liquidity           float64 `yaml:"liquidity"`
	Volume              float64 `yaml:"volume"`
	HolderConcentration float64 `yaml:"holder_concentration"`
	Contract            float64 `yaml:"contract"`
	Developer           float64 `yaml:"developer"`
}

type CompositeWeights struct {
	Risk           float64 `yaml:"risk"`
	Authenticity   float64 `yaml:"authenticity"`
	BuyQuality     float64 `yaml:"buy_quality"`
	Developer      float64 `yaml:"developer"`
	Whale          float64 `yaml:"whale"`
	EarlyBuyers    float64 `yaml:"early_buyers"`
	WalletClusters float64 `yaml:"wallet_clusters"`
	Rotation       float64 `yaml:"rotation"`
	RugProbability float64 `yaml:"rug_probability"`
}

type RugConfig struct {
	LiquidityWeight float64 `yaml:"liquidity_weight"`
	HolderWeight    float64 `yaml:"holder_weight"`
	ContractWeight  float64 `yaml:"contract_weight"`
	DeveloperWeight float64 `yaml:"developer_weight"`
	VolumeWeight    float64 `yaml:"volume_weight"`
}

type WhaleConfig struct {
	MinWalletValueUSD float64 `yaml:"min_wallet_value_usd"`
	LargeBuyUSD       float64 `yaml:"large_buy_usd"`
	LargeSellUSD      float64 `yaml:"large_sell_usd"`
	CooldownS         int     `yaml:"cooldown_s"`
	AccumulationCount int     `yaml:"accumulation_count"`
}

type EarlyConfig struct {
	FirstNBuyers int `yaml:"first_n_buyers"`
}

type ClusterConfig struct {
	MinClusterSize    int     `yaml:"min_cluster_size"`
	FundingSimilarity float64 `yaml:"funding_similarity"`
	TimingWindowS     int     `yaml:"timing_window_s"`
	SizeSimilarityPct float64 `yaml:"size_similarity_pct"`
}

type RotationConfig struct {
	WindowMinutes     int     `yaml:"window_minutes"`
	MaxGapMinutes     int     `yaml:"max_gap_minutes"`
	MinExitVolumeUSD  float64 `yaml:"min_exit_volume_usd"`
	MinEntryVolumeUSD float64 `yaml:"min_entry_volume_usd"`
	DetectedBoost     float64 `yaml:"detected_boost"`
}

type RankingConfig struct {
	WindowSeconds  int `yaml:"window_seconds"`
	TopK           int `yaml:"top_k"`
	AlertCooldownS int `yaml:"alert_cooldown_s"`
}

type WatchConfig struct {
	TTLMinutes            int     `yaml:"ttl_minutes"`
	TickIntervalS         int     `yaml:"tick_interval_s"`
	MaxConcurrent         int     `yaml:"max_concurrent"`
	PriceChangeThreshold  float64 `yaml:"price_change_threshold_pct"`
	VolumeSpikeMultiplier float64 `yaml:"volume_spike_multiplier"`
	RiskScoreJump         float64 `yaml:"risk_score_jump"`
}

type DefenseConfig struct {
	SampleIntervalS     int     `yaml:"sample_interval_s"`
	MaxErrorRate        float64 `yaml:"max_error_rate"`
	MaxLatencyMs        float64 `yaml:"max_latency_ms"`
	MaxMemoryMB         float64 `yaml:"max_memory_mb"`
	MaxCPUPercent       float64 `yaml:"max_cpu_percent"`
	RecoverySamples     int     `yaml:"recovery_samples"`
	SafeModeCooldownMul float64 `yaml:"safe_mode_cooldown_mul"`
}

type StatusConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

// Default returns a fully defaulted configuration without reading a file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "sentinel-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.Feed.BaseURL == "" {
		cfg.Feed.BaseURL = "https://api.dexscreener.com"
	}
	if cfg.Feed.PollIntervalS == 0 {
		cfg.Feed.PollIntervalS = 30
	}
	if cfg.Feed.RequestTimeoutS == 0 {
		cfg.Feed.RequestTimeoutS = 10
	}
	if cfg.Feed.MaxPairsPerPoll == 0 {
		cfg.Feed.MaxPairsPerPoll = 100
	}
	if cfg.Filter.Stage1.MinLiquidityUSD == 0 {
		cfg.Filter.Stage1.MinLiquidityUSD = 10_000
	}
	if cfg.Filter.Stage1.MinVolume24hUSD == 0 {
		cfg.Filter.Stage1.MinVolume24hUSD = 5_000
	}
	if cfg.Filter.Stage1.MaxTokenAgeHours == 0 {
		cfg.Filter.Stage1.MaxTokenAgeHours = 72
	}
	if cfg.Filter.Stage2.MinBuyRatio == 0 {
		cfg.Filter.Stage2.MinBuyRatio = 0.55
	}
	if cfg.Filter.Stage2.MinPriceChange5m == 0 {
		cfg.Filter.Stage2.MinPriceChange5m = -20
	}
	if cfg.Filter.Stage2.MaxPriceChange5m == 0 {
		cfg.Filter.Stage2.MaxPriceChange5m = 100
	}
	if cfg.Filter.Stage2.MinCompositeScore == 0 {
		cfg.Filter.Stage2.MinCompositeScore = 50
	}
	if cfg.Filter.Stage2.MaxRugProbability == 0 {
		cfg.Filter.Stage2.MaxRugProbability = 0.6
	}
	if cfg.Scoring.RiskWeights == (RiskWeights{}) {
		cfg.Scoring.RiskWeights = RiskWeights{
			Liquidity:           0.25,
			Volume:              0.20,
			HolderConcentration: 0.20,
			Contract:            0.15,
			Developer:           0.20,
		}
	}
	if cfg.Scoring.CompositeWeights == (CompositeWeights{}) {
		cfg.Scoring.CompositeWeights = CompositeWeights{
			Risk:           0.20,
			Authenticity:   0.15,
			BuyQuality:     0.10,
			Developer:      0.10,
			Whale:          0.15,
			EarlyBuyers:    0.10,
			WalletClusters: 0.05,
			Rotation:       0.05,
			RugProbability: 0.10,
		}
	}
	if cfg.Rug == (RugConfig{}) {
		cfg.Rug = RugConfig{
			LiquidityWeight: 0.30,
			HolderWeight:    0.25,
			ContractWeight:  0.20,
			DeveloperWeight: 0.15,
			VolumeWeight:    0.10,
		}
	}
	if cfg.Whale.MinWalletValueUSD == 0 {
		cfg.Whale.MinWalletValueUSD = 50_000
	}
	if cfg.Whale.LargeBuyUSD == 0 {
		cfg.Whale.LargeBuyUSD = 20_000
	}
	if cfg.Whale.LargeSellUSD == 0 {
		cfg.Whale.LargeSellUSD = 15_000
	}
	if cfg.Whale.CooldownS == 0 {
		cfg.Whale.CooldownS = 300
	}
	if cfg.Whale.AccumulationCount == 0 {
		cfg.Whale.AccumulationCount = 3
	}
	if cfg.Early.FirstNBuyers == 0 {
		cfg.Early.FirstNBuyers = 50
	}
	if cfg.Cluster.MinClusterSize == 0 {
		cfg.Cluster.MinClusterSize = 3
	}
	if cfg.Cluster.FundingSimilarity == 0 {
		cfg.Cluster.FundingSimilarity = 0.85
	}
	if cfg.Cluster.TimingWindowS == 0 {
		cfg.Cluster.TimingWindowS = 120
	}
	if cfg.Cluster.SizeSimilarityPct == 0 {
		cfg.Cluster.SizeSimilarityPct = 20
	}
	if cfg.Rotation.WindowMinutes == 0 {
		cfg.Rotation.WindowMinutes = 30
	}
	if cfg.Rotation.MaxGapMinutes == 0 {
		cfg.Rotation.MaxGapMinutes = 15
	}
	if cfg.Rotation.MinExitVolumeUSD == 0 {
		cfg.Rotation.MinExitVolumeUSD = 25_000
	}
	if cfg.Rotation.MinEntryVolumeUSD == 0 {
		cfg.Rotation.MinEntryVolumeUSD = 25_000
	}
	if cfg.Rotation.DetectedBoost == 0 {
		cfg.Rotation.DetectedBoost = 15
	}
	if cfg.Ranking.WindowSeconds == 0 {
		cfg.Ranking.WindowSeconds = 300
	}
	if cfg.Ranking.TopK == 0 {
		cfg.Ranking.TopK = 10
	}
	if cfg.Ranking.AlertCooldownS == 0 {
		cfg.Ranking.AlertCooldownS = 600
	}
	if cfg.Watch.TTLMinutes == 0 {
		cfg.Watch.TTLMinutes = 30
	}
	if cfg.Watch.TickIntervalS == 0 {
		cfg.Watch.TickIntervalS = 60
	}
	if cfg.Watch.MaxConcurrent == 0 {
		cfg.Watch.MaxConcurrent = 50
	}
	if cfg.Watch.PriceChangeThreshold == 0 {
		cfg.Watch.PriceChangeThreshold = 20
	}
	if cfg.Watch.VolumeSpikeMultiplier == 0 {
		cfg.Watch.VolumeSpikeMultiplier = 3.0
	}
	if cfg.Watch.RiskScoreJump == 0 {
		cfg.Watch.RiskScoreJump = 15
	}
	if cfg.Defense.SampleIntervalS == 0 {
		cfg.Defense.SampleIntervalS = 30
	}
	if cfg.Defense.MaxErrorRate == 0 {
		cfg.Defense.MaxErrorRate = 0.10
	}
	if cfg.Defense.MaxLatencyMs == 0 {
		cfg.Defense.MaxLatencyMs = 5_000
	}
	if cfg.Defense.MaxMemoryMB == 0 {
		cfg.Defense.MaxMemoryMB = 1_800
	}
	if cfg.Defense.MaxCPUPercent == 0 {
		cfg.Defense.MaxCPUPercent = 85
	}
	if cfg.Defense.RecoverySamples == 0 {
		cfg.Defense.RecoverySamples = 3
	}
	if cfg.Defense.SafeModeCooldownMul == 0 {
		cfg.Defense.SafeModeCooldownMul = 2.0
	}
	if cfg.Status.Port == 0 {
		cfg.Status.Port = 8080
	}
}

// Validate checks invariants that must hold before the pipeline starts.
// Weight sets must sum to 1.0; thresholds must be sane. A failure here is
// fatal at startup.
func (c *Config) Validate() error {
	rw := c.Scoring.RiskWeights
	riskSum := rw.Liquidity + rw.Volume + rw.HolderConcentration + rw.Contract + rw.Developer
	if !sumsToOne(riskSum) {
		return fmt.Errorf("risk weights must sum to 1.0, got %.4f", riskSum)
	}

	cw := c.Scoring.CompositeWeights
	compSum := cw.Risk + cw.Authenticity + cw.BuyQuality + cw.Developer +
		cw.Whale + cw.EarlyBuyers + cw.WalletClusters + cw.Rotation + cw.RugProbability
	if !sumsToOne(compSum) {
		return fmt.Errorf("composite weights must sum to 1.0, got %.4f", compSum)
	}

	if c.Filter.Stage1.MinLiquidityUSD < 0 {
		return fmt.Errorf("stage1 min_liquidity_usd must be >= 0")
	}
	if c.Filter.Stage2.MaxRugProbability <= 0 || c.Filter.Stage2.MaxRugProbability > 1 {
		return fmt.Errorf("stage2 max_rug_probability must be in (0, 1]")
	}
	if c.Ranking.TopK <= 0 {
		return fmt.Errorf("alert_ranking top_k must be > 0")
	}
	if c.Watch.TTLMinutes <= 0 {
		return fmt.Errorf("watch_mode ttl_minutes must be > 0")
	}
	if c.Defense.RecoverySamples <= 0 {
		return fmt.Errorf("self_defense recovery_samples must be > 0")
	}
	return nil
}

func sumsToOne(v float64) bool {
	return math.Abs(v-1.0) < 0.001
}
