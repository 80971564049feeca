package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

// Duration accepts Go duration strings ("30s", "5m") in YAML; plain integers
// are taken as nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	// RateLimit caps submissions per client per minute; 0 disables it.
	RateLimit int `yaml:"rate_limit"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"pool_size"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// ResultTTL bounds the dedup fast-path cache of finished results.
	ResultTTL Duration `yaml:"result_ttl"`
}

type ConverterConfig struct {
	// Binary is the external converter executable, e.g. soffice.
	Binary string   `yaml:"binary"`
	Args   []string `yaml:"args"`
	// MaxConcurrent bounds pool slots; sized to host resources, not
	// discovered dynamically.
	MaxConcurrent int      `yaml:"max_concurrent"`
	Timeout       Duration `yaml:"timeout"`
	WorkDir       string   `yaml:"work_dir"`
}

type PollerConfig struct {
	Interval     Duration   `yaml:"interval"`
	Lease        Duration   `yaml:"lease"`
	RetryCeiling int        `yaml:"retry_ceiling"`
	Backoff      []Duration `yaml:"backoff"`
}

// BackoffSchedule returns the retry gates as standard durations.
func (p PollerConfig) BackoffSchedule() []time.Duration {
	out := make([]time.Duration, len(p.Backoff))
	for i, d := range p.Backoff {
		out[i] = d.Std()
	}
	return out
}

type RecordsConfig struct {
	// Mode selects the record-system adapter: http | noop.
	Mode    string   `yaml:"mode"`
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	Timeout Duration `yaml:"timeout"`
}

type StoreConfig struct {
	// Mode selects where artifacts are published: records | s3.
	Mode string `yaml:"mode"`
	S3   struct {
		Bucket          string `yaml:"bucket"`
		Region          string `yaml:"region"`
		Endpoint        string `yaml:"endpoint"`
		AccessKeyID     string `yaml:"access_key_id"`
		SecretAccessKey string `yaml:"secret_access_key"`
		KeyPrefix       string `yaml:"key_prefix"`
	} `yaml:"s3"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Converter ConverterConfig `yaml:"converter"`
	Poller    PollerConfig    `yaml:"poller"`
	Records   RecordsConfig   `yaml:"records"`
	Store     StoreConfig     `yaml:"store"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Store.Mode == "s3" && cfg.Store.S3.Bucket == "" {
		return nil, errors.New("store.s3.bucket is required when store.mode=s3")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.PoolSize <= 0 {
		cfg.Database.PoolSize = 10
	}
	if cfg.Redis.ResultTTL <= 0 {
		cfg.Redis.ResultTTL = Duration(24 * time.Hour)
	}
	if cfg.Converter.Binary == "" {
		cfg.Converter.Binary = "soffice"
	}
	if cfg.Converter.MaxConcurrent <= 0 {
		cfg.Converter.MaxConcurrent = 8
	}
	if cfg.Converter.Timeout <= 0 {
		cfg.Converter.Timeout = Duration(60 * time.Second)
	}
	if cfg.Poller.Interval <= 0 {
		cfg.Poller.Interval = Duration(15 * time.Second)
	}
	if cfg.Poller.Lease <= 0 {
		cfg.Poller.Lease = Duration(2 * time.Minute)
	}
	if cfg.Poller.RetryCeiling <= 0 {
		cfg.Poller.RetryCeiling = 3
	}
	if len(cfg.Poller.Backoff) == 0 {
		cfg.Poller.Backoff = []Duration{Duration(time.Minute), Duration(5 * time.Minute), Duration(15 * time.Minute)}
	}
	if cfg.Records.Mode == "" {
		cfg.Records.Mode = "http"
	}
	if cfg.Records.Timeout <= 0 {
		cfg.Records.Timeout = Duration(30 * time.Second)
	}
	if cfg.Store.Mode == "" {
		cfg.Store.Mode = "records"
	}
}
