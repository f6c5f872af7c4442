// Package config holds process-wide configuration for the reversal
// prediction pipeline: feature/window settings, scaler policy, model
// training hyperparameters, and the ambient infra (Postgres, Redis,
// Vault, auth, server) the service depends on.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Sequence   SequenceConfig   `json:"sequence"`
	Labeling   LabelingConfig   `json:"labeling"`
	Training   TrainingConfig   `json:"training"`
	Serving    ServingConfig    `json:"serving"`
	Logging    LoggingConfig    `json:"logging"`
	Server     ServerConfig     `json:"server"`
	Auth       AuthConfig       `json:"auth"`
	Vault      VaultConfig      `json:"vault"`
	Redis      RedisConfig      `json:"redis"`
	Postgres   PostgresConfig   `json:"postgres"`
}

// SequenceConfig governs feature selection, windowing and scaling —
// the serving parity contract of the Preprocessor.
type SequenceConfig struct {
	SequenceLength int      `json:"sequence_length"` // window T
	Features       []string `json:"features"`        // ordered selected-feature list
	Scaler         string   `json:"scaler"`           // "minmax", "standard", "robust"
	FeatureRangeLo float64  `json:"feature_range_lo"` // for minmax
	FeatureRangeHi float64  `json:"feature_range_hi"`
	TrainSize      float64  `json:"train_size"`
	MinDataPoints  int      `json:"min_data_points"`
	MaxMissingRatio float64 `json:"max_missing_ratio"`
}

// LabelingConfig holds the timeframe tables consumed by the Swing and
// Risk-Monitor labelers (the Profitable labeler takes its params per call).
type LabelingConfig struct {
	SwingByTimeframe      map[string]SwingParams  `json:"swing_by_timeframe"`
	MonitorDurationByTF   map[string]int          `json:"monitor_duration_by_timeframe"`
}

type SwingParams struct {
	LookbackBars     int `json:"lookback_bars"`
	MinReversalPips  int `json:"min_reversal_pips"`
	LookforwardBars  int `json:"lookforward_bars"`
}

// TrainingConfig holds Stage-1/Stage-2 architecture & training hyperparameters.
type TrainingConfig struct {
	Stage1Units       []int   `json:"stage1_units"`   // e.g. [64, 32]
	Stage1Dense       []int   `json:"stage1_dense"`    // e.g. [32, 16]
	Stage2Units       []int   `json:"stage2_units"`    // e.g. [48, 24]
	Stage2Dense       []int   `json:"stage2_dense"`
	Dropout           float64 `json:"dropout"`
	L2                float64 `json:"l2"`
	LearningRate      float64 `json:"learning_rate"`
	Epochs            int     `json:"epochs"`
	BatchSize         int     `json:"batch_size"`
	EarlyStopPatience int     `json:"early_stop_patience"`
	ModelOutputDir    string  `json:"model_output_dir"`
	CheckpointDir     string  `json:"checkpoint_dir"`
}

// ServingConfig governs the prediction service runtime.
type ServingConfig struct {
	ModelsRoot         string        `json:"models_root"`
	ExperimentsRoot     string        `json:"experiments_root"`
	InferenceWorkers    int           `json:"inference_workers"`
	PredictionCacheTTL  time.Duration `json:"prediction_cache_ttl"`
	ExperimentSnapshotN int           `json:"experiment_snapshot_n"` // snapshot every N predictions
}

type LoggingConfig struct {
	Level      string `json:"level"`
	Output     string `json:"output"`
	JSONFormat bool   `json:"json_format"`
}

type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`
	WriteTimeout    int    `json:"write_timeout"`
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

type AuthConfig struct {
	Enabled             bool          `json:"enabled"`
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	AdminPassword       string        `json:"-"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type PostgresConfig struct {
	Enabled  bool   `json:"enabled"`
	DSN      string `json:"dsn"`
	PoolMax  int    `json:"pool_max"`
	Password string `json:"-"` // overrides the DSN's password when set by Vault
}

// DefaultSelectedFeatures is the minimal-feature variant named in
// §4.6 (T=20, F=12).
var DefaultSelectedFeatures = []string{
	"close", "sma_20", "ema_12", "ema_26", "rsi_14",
	"macd", "macd_signal", "bollinger_width", "atr_14",
	"stoch_k", "momentum_10", "adx_14",
}

func Default() *Config {
	return &Config{
		Sequence: SequenceConfig{
			SequenceLength:  20,
			Features:        append([]string(nil), DefaultSelectedFeatures...),
			Scaler:          "standard",
			FeatureRangeLo:  0,
			FeatureRangeHi:  1,
			TrainSize:       0.8,
			MinDataPoints:   200,
			MaxMissingRatio: 0.05,
		},
		Labeling: LabelingConfig{
			SwingByTimeframe: map[string]SwingParams{
				"D1": {LookbackBars: 20, MinReversalPips: 100, LookforwardBars: 20},
				"H4": {LookbackBars: 30, MinReversalPips: 50, LookforwardBars: 60},
				"H1": {LookbackBars: 48, MinReversalPips: 30, LookforwardBars: 120},
			},
			MonitorDurationByTF: map[string]int{
				"D1": 10,
				"H4": 30,
				"H1": 72,
			},
		},
		Training: TrainingConfig{
			Stage1Units:       []int{64, 32},
			Stage1Dense:       []int{32, 16},
			Stage2Units:       []int{48, 24},
			Stage2Dense:       []int{32, 16},
			Dropout:           0.2,
			L2:                0.001,
			LearningRate:      0.001,
			Epochs:            100,
			BatchSize:         32,
			EarlyStopPatience: 20,
			ModelOutputDir:    "models",
			CheckpointDir:     "checkpoints",
		},
		Serving: ServingConfig{
			ModelsRoot:          "models",
			ExperimentsRoot:     "experiments",
			InferenceWorkers:    4,
			PredictionCacheTTL:  30 * time.Second,
			ExperimentSnapshotN: 10,
		},
		Logging: LoggingConfig{Level: "INFO", Output: "stdout", JSONFormat: true},
		Server:  ServerConfig{Port: 8090, Host: "0.0.0.0", ReadTimeout: 10, WriteTimeout: 10, ShutdownTimeout: 15},
	}
}

// Load reads config.json if present, then applies environment overrides.
func Load() (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile("config.json"); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Server.Port = getEnvIntOrDefault("SERVER_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)

	cfg.Serving.ModelsRoot = getEnvOrDefault("MODELS_ROOT", cfg.Serving.ModelsRoot)
	cfg.Serving.ExperimentsRoot = getEnvOrDefault("EXPERIMENTS_ROOT", cfg.Serving.ExperimentsRoot)
	cfg.Serving.InferenceWorkers = getEnvIntOrDefault("INFERENCE_WORKERS", cfg.Serving.InferenceWorkers)

	cfg.Redis.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)

	cfg.Postgres.Enabled = getEnvBoolOrDefault("POSTGRES_ENABLED", cfg.Postgres.Enabled)
	cfg.Postgres.DSN = getEnvOrDefault("POSTGRES_DSN", cfg.Postgres.DSN)

	cfg.Vault.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.Vault.Enabled)
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)

	cfg.Auth.Enabled = getEnvBoolOrDefault("AUTH_ENABLED", cfg.Auth.Enabled)
	cfg.Auth.JWTSecret = getEnvOrDefault("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.AdminPassword = getEnvOrDefault("ADMIN_PASSWORD", cfg.Auth.AdminPassword)
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBoolOrDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}
