// Package config loads and validates the run configuration and the
// evaluation criteria from a YAML file, with environment overrides for
// secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	apiKeyEnv    = "POSTAUDIT_API_KEY"
	apiKeyEnvAlt = "GEMINI_API_KEY"

	defaultAnchorTimezone = "America/Los_Angeles"
	defaultDailyLimit     = 1000
	defaultSafetyMargin   = 50
	defaultBatchSize      = 10
	defaultBatchPause     = 60 * time.Second
	defaultTimeout        = 30 * time.Second

	minAPIKeyLength = 30
	maxBatchSize    = 100
)

// Config holds all settings for a run.
type Config struct {
	Archive    ArchiveConfig    `yaml:"archive"`
	Output     OutputConfig     `yaml:"output"`
	Provider   ProviderConfig   `yaml:"provider"`
	Quota      QuotaConfig      `yaml:"quota"`
	Processing ProcessingConfig `yaml:"processing"`
	Criteria   Criteria         `yaml:"criteria"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ArchiveConfig locates the vendor export to audit.
type ArchiveConfig struct {
	InputPath string `yaml:"inputPath"`
}

// OutputConfig locates the result listing.
type OutputConfig struct {
	CSVPath string `yaml:"csvPath"`
}

// ProviderConfig describes the evaluation endpoint.
type ProviderConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`

	// APIKey comes from the environment only, never from the file.
	APIKey string `yaml:"-"`
}

// QuotaConfig bounds daily provider usage.
type QuotaConfig struct {
	DailyLimit      int    `yaml:"dailyLimit"`
	SafetyThreshold int    `yaml:"safetyThreshold"`
	AnchorTimezone  string `yaml:"anchorTimezone"`
	FilePath        string `yaml:"filePath"`
}

// ProcessingConfig controls batching and checkpointing.
type ProcessingConfig struct {
	BatchSize      int           `yaml:"batchSize"`
	BatchPause     time.Duration `yaml:"batchPause"`
	CheckpointPath string        `yaml:"checkpointPath"`
}

// Criteria defines what the provider evaluates posts against.
type Criteria struct {
	Context              string   `yaml:"context"`
	ForbiddenWords       []string `yaml:"forbiddenWords"`
	CheckProfessionalism bool     `yaml:"checkProfessionalism"`
	DesiredTone          string   `yaml:"desiredTone"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// MetricsConfig optionally exposes Prometheus metrics during the run.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads the YAML config file, applies defaults and pulls the API
// key from the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.Provider.APIKey = apiKeyFromEnv()

	return cfg, nil
}

func apiKeyFromEnv() string {
	if key := os.Getenv(apiKeyEnv); key != "" {
		return key
	}
	return os.Getenv(apiKeyEnvAlt)
}

func (c *Config) applyDefaults() {
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = defaultTimeout
	}
	if c.Quota.DailyLimit == 0 {
		c.Quota.DailyLimit = defaultDailyLimit
	}
	if c.Quota.SafetyThreshold == 0 {
		c.Quota.SafetyThreshold = c.Quota.DailyLimit - defaultSafetyMargin
	}
	if c.Quota.AnchorTimezone == "" {
		c.Quota.AnchorTimezone = defaultAnchorTimezone
	}
	if c.Quota.FilePath == "" {
		c.Quota.FilePath = "results/daily_quota.json"
	}
	if c.Processing.BatchSize == 0 {
		c.Processing.BatchSize = defaultBatchSize
	}
	if c.Processing.BatchPause == 0 {
		c.Processing.BatchPause = defaultBatchPause
	}
	if c.Processing.CheckpointPath == "" {
		c.Processing.CheckpointPath = "results/checkpoint.json"
	}
	if c.Output.CSVPath == "" {
		c.Output.CSVPath = "results/flagged_posts.csv"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the configuration before any provider call is made.
// A failure here must abort startup with a non-zero exit.
func (c *Config) Validate() error {
	if err := c.validateAPIKey(); err != nil {
		return err
	}
	if err := c.validateArchivePath(); err != nil {
		return err
	}
	if err := c.validateQuota(); err != nil {
		return err
	}
	if err := c.validateProcessing(); err != nil {
		return err
	}
	return c.validateCriteria()
}

func (c *Config) validateAPIKey() error {
	key := c.Provider.APIKey
	if key == "" {
		return fmt.Errorf("%s environment variable is not set", apiKeyEnv)
	}
	if len(key) < minAPIKeyLength {
		return fmt.Errorf("api key appears invalid: expected at least %d characters, got %d",
			minAPIKeyLength, len(key))
	}
	if c.Provider.Endpoint == "" {
		return fmt.Errorf("provider endpoint is not configured")
	}
	return nil
}

func (c *Config) validateArchivePath() error {
	path := c.Archive.InputPath
	if path == "" {
		return fmt.Errorf("archive input path is not configured")
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("archive file not found: %s", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("archive file is empty: %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("archive file is not readable: %s: %w", path, err)
	}
	f.Close()

	return nil
}

func (c *Config) validateQuota() error {
	if c.Quota.DailyLimit <= 0 {
		return fmt.Errorf("quota daily limit must be positive, got %d", c.Quota.DailyLimit)
	}
	if c.Quota.SafetyThreshold <= 0 {
		return fmt.Errorf("quota safety threshold must be positive, got %d", c.Quota.SafetyThreshold)
	}
	if c.Quota.SafetyThreshold > c.Quota.DailyLimit {
		return fmt.Errorf("quota safety threshold (%d) must not exceed the daily limit (%d)",
			c.Quota.SafetyThreshold, c.Quota.DailyLimit)
	}
	if _, err := time.LoadLocation(c.Quota.AnchorTimezone); err != nil {
		return fmt.Errorf("invalid anchor timezone %q: %w", c.Quota.AnchorTimezone, err)
	}
	return nil
}

func (c *Config) validateProcessing() error {
	if c.Processing.BatchSize <= 0 {
		return fmt.Errorf("batch size must be greater than 0, got %d", c.Processing.BatchSize)
	}
	if c.Processing.BatchSize > maxBatchSize {
		return fmt.Errorf("batch size %d exceeds the maximum of %d", c.Processing.BatchSize, maxBatchSize)
	}
	if c.Processing.BatchPause < 0 {
		return fmt.Errorf("batch pause must not be negative, got %v", c.Processing.BatchPause)
	}
	return nil
}

func (c *Config) validateCriteria() error {
	if len(c.Criteria.ForbiddenWords) == 0 {
		return fmt.Errorf("criteria: forbidden words list is empty")
	}
	if c.Criteria.Context == "" {
		return fmt.Errorf("criteria: context is not set")
	}
	if c.Criteria.DesiredTone == "" {
		return fmt.Errorf("criteria: desired tone is not set")
	}
	return nil
}
