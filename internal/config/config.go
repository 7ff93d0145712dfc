package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Trivonta/compress-classify/internal/infrastructure/resilience"
)

type Config struct {
	LogLevel string `yaml:"log_level"`

	CorpusRoot    string `yaml:"corpus_root"`
	CandidateRoot string `yaml:"candidate_root"`
	CoresDir      string `yaml:"cores_dir"`
	CheckpointDir string `yaml:"checkpoint_dir"`
	ScratchDir    string `yaml:"scratch_dir"`

	Compressor          string `yaml:"compressor"`
	SevenZipPath        string `yaml:"sevenzip_path"`
	SevenZipLevel       int    `yaml:"sevenzip_level"`
	ProbeTimeoutSeconds int    `yaml:"probe_timeout_seconds"`
	Workers             int    `yaml:"workers"`

	CoreSize         int    `yaml:"core_size"`
	RefineTargetSize int    `yaml:"refine_target_size"`
	RefineSeed       uint64 `yaml:"refine_seed"`

	APIPort               string  `yaml:"api_port"`
	APIMaxUploadBytes     int64   `yaml:"api_max_upload_bytes"`
	APIRateLimitRPS       float64 `yaml:"api_rate_limit_rps"`
	APIRateLimitBurst     int     `yaml:"api_rate_limit_burst"`
	APIMaxInFlight        int     `yaml:"api_max_in_flight"`
	APIBackpressureWaitMS int     `yaml:"api_backpressure_wait_ms"`
	MetricsAddr           string  `yaml:"metrics_addr"`

	PostgresDSN string `yaml:"postgres_dsn"`

	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`

	RetryMaxAttempts     int     `yaml:"retry_max_attempts"`
	RetryBackoffMS       int     `yaml:"retry_backoff_ms"`
	RetryMaxBackoffMS    int     `yaml:"retry_max_backoff_ms"`
	BreakerEnabled       bool    `yaml:"breaker_enabled"`
	BreakerFailureRatio  float64 `yaml:"breaker_failure_ratio"`
	BreakerOpenTimeoutMS int     `yaml:"breaker_open_timeout_ms"`
}

// Defaults mirrors the layout of a local checkout: corpus/ holds the labeled
// categories and cores/ the archives built from it.
func Defaults() Config {
	return Config{
		LogLevel: "info",

		CorpusRoot:    "./data/corpus",
		CandidateRoot: "",
		CoresDir:      "./data/cores",
		CheckpointDir: "./data/checkpoints",
		ScratchDir:    "",

		Compressor:          "7z",
		SevenZipPath:        "7z",
		SevenZipLevel:       9,
		ProbeTimeoutSeconds: 60,
		Workers:             0,

		CoreSize:         10,
		RefineTargetSize: 10,
		RefineSeed:       1,

		APIPort:               "8080",
		APIMaxUploadBytes:     10 << 20,
		APIRateLimitRPS:       0,
		APIRateLimitBurst:     10,
		APIMaxInFlight:        0,
		APIBackpressureWaitMS: 250,
		MetricsAddr:           "",

		NATSSubject: "cores.updated",

		RetryMaxAttempts:     2,
		RetryBackoffMS:       50,
		RetryMaxBackoffMS:    250,
		BreakerEnabled:       true,
		BreakerFailureRatio:  0.8,
		BreakerOpenTimeoutMS: 15000,
	}
}

// Load returns the defaults overridden by the environment.
func Load() Config {
	return applyEnv(Defaults())
}

// LoadFile layers an optional YAML file between the defaults and the
// environment. An empty path behaves like Load.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	cfg = applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg Config) Config {
	cfg.LogLevel = mustEnv("LOG_LEVEL", cfg.LogLevel)

	cfg.CorpusRoot = mustEnv("CORPUS_ROOT", cfg.CorpusRoot)
	cfg.CandidateRoot = mustEnv("CANDIDATE_ROOT", cfg.CandidateRoot)
	cfg.CoresDir = mustEnv("CORES_DIR", cfg.CoresDir)
	cfg.CheckpointDir = mustEnv("CHECKPOINT_DIR", cfg.CheckpointDir)
	cfg.ScratchDir = mustEnv("SCRATCH_DIR", cfg.ScratchDir)

	cfg.Compressor = strings.ToLower(mustEnv("COMPRESSOR", cfg.Compressor))
	cfg.SevenZipPath = mustEnv("SEVENZIP_PATH", cfg.SevenZipPath)
	cfg.SevenZipLevel = mustEnvInt("SEVENZIP_LEVEL", cfg.SevenZipLevel)
	cfg.ProbeTimeoutSeconds = mustEnvInt("PROBE_TIMEOUT_SECONDS", cfg.ProbeTimeoutSeconds)
	cfg.Workers = mustEnvInt("WORKERS", cfg.Workers)

	cfg.CoreSize = mustEnvInt("CORE_SIZE", cfg.CoreSize)
	cfg.RefineTargetSize = mustEnvInt("REFINE_TARGET_SIZE", cfg.RefineTargetSize)
	cfg.RefineSeed = mustEnvUint("REFINE_SEED", cfg.RefineSeed)

	cfg.APIPort = mustEnv("API_PORT", cfg.APIPort)
	cfg.APIMaxUploadBytes = int64(mustEnvInt("API_MAX_UPLOAD_BYTES", int(cfg.APIMaxUploadBytes)))
	cfg.APIRateLimitRPS = mustEnvFloat("API_RATE_LIMIT_RPS", cfg.APIRateLimitRPS)
	cfg.APIRateLimitBurst = mustEnvInt("API_RATE_LIMIT_BURST", cfg.APIRateLimitBurst)
	cfg.APIMaxInFlight = mustEnvInt("API_MAX_IN_FLIGHT", cfg.APIMaxInFlight)
	cfg.APIBackpressureWaitMS = mustEnvInt("API_BACKPRESSURE_WAIT_MS", cfg.APIBackpressureWaitMS)
	cfg.MetricsAddr = mustEnv("METRICS_ADDR", cfg.MetricsAddr)

	cfg.PostgresDSN = mustEnv("POSTGRES_DSN", cfg.PostgresDSN)

	cfg.NATSURL = mustEnv("NATS_URL", cfg.NATSURL)
	cfg.NATSSubject = mustEnv("NATS_SUBJECT", cfg.NATSSubject)

	cfg.RetryMaxAttempts = mustEnvInt("RESILIENCE_RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts)
	cfg.RetryBackoffMS = mustEnvInt("RESILIENCE_RETRY_BACKOFF_MS", cfg.RetryBackoffMS)
	cfg.RetryMaxBackoffMS = mustEnvInt("RESILIENCE_RETRY_MAX_BACKOFF_MS", cfg.RetryMaxBackoffMS)
	cfg.BreakerEnabled = mustEnvBool("RESILIENCE_BREAKER_ENABLED", cfg.BreakerEnabled)
	cfg.BreakerFailureRatio = mustEnvFloat("RESILIENCE_BREAKER_FAILURE_RATIO", cfg.BreakerFailureRatio)
	cfg.BreakerOpenTimeoutMS = mustEnvInt("RESILIENCE_BREAKER_OPEN_TIMEOUT_MS", cfg.BreakerOpenTimeoutMS)
	return cfg
}

func (c Config) Validate() error {
	var errs []error
	switch c.Compressor {
	case "7z", "zstd", "xz", "lz4":
	default:
		errs = append(errs, fmt.Errorf("unknown compressor %q", c.Compressor))
	}
	if strings.TrimSpace(c.CorpusRoot) == "" {
		errs = append(errs, errors.New("corpus root is required"))
	}
	if strings.TrimSpace(c.CoresDir) == "" {
		errs = append(errs, errors.New("cores dir is required"))
	}
	if c.SevenZipLevel < 0 || c.SevenZipLevel > 9 {
		errs = append(errs, fmt.Errorf("sevenzip level %d out of range 0..9", c.SevenZipLevel))
	}
	if c.ProbeTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("probe timeout %ds is negative", c.ProbeTimeoutSeconds))
	}
	if c.CoreSize <= 0 {
		errs = append(errs, fmt.Errorf("core size must be positive, got %d", c.CoreSize))
	}
	if c.RefineTargetSize <= 0 {
		errs = append(errs, fmt.Errorf("refine target size must be positive, got %d", c.RefineTargetSize))
	}
	return errors.Join(errs...)
}

// ProbeTimeout is zero when probes are unbounded.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

func (c Config) BackpressureWait() time.Duration {
	return time.Duration(c.APIBackpressureWaitMS) * time.Millisecond
}

// EffectiveCandidateRoot falls back to the corpus root.
func (c Config) EffectiveCandidateRoot() string {
	if strings.TrimSpace(c.CandidateRoot) == "" {
		return c.CorpusRoot
	}
	return c.CandidateRoot
}

func (c Config) Resilience() resilience.Config {
	cfg := resilience.DefaultConfig()
	cfg.RetryMaxAttempts = c.RetryMaxAttempts
	cfg.RetryInitialBackoff = time.Duration(c.RetryBackoffMS) * time.Millisecond
	cfg.RetryMaxBackoff = time.Duration(c.RetryMaxBackoffMS) * time.Millisecond
	cfg.BreakerEnabled = c.BreakerEnabled
	cfg.BreakerFailureRatio = c.BreakerFailureRatio
	cfg.BreakerOpenTimeout = time.Duration(c.BreakerOpenTimeoutMS) * time.Millisecond
	return cfg
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvUint(key string, fallback uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}
