// Package config loads lidmon settings from an optional YAML file and
// LIDMON_* environment variables. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BrandonDHaskell/lidmon/internal/lidmon/types"
)

const (
	DefaultConfigPath = "./lidmon.yaml"
	DefaultSeat       = "seat0"
	DefaultDBPath     = "./lidmon.db"
)

type Config struct {
	Env    string `yaml:"env"` // "dev" | "prod"
	Seat   string `yaml:"seat"`
	Switch string `yaml:"switch"` // "lid" | "tablet_mode"
	DBPath string `yaml:"db_path"`

	// Write failure handling. 0 retries fails the capture loop on the first
	// write error.
	WriteRetries int           `yaml:"write_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// Capture session liveness; 0 disables the periodic touch.
	HeartbeatIntervalSeconds int `yaml:"heartbeat_interval_seconds"`

	// Optional surfaces; empty disables them.
	HTTPAddr    string `yaml:"http_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`

	Export ExportConfig `yaml:"export"`
}

type ExportConfig struct {
	Schedule   string `yaml:"schedule"` // cron expression; empty = no scheduled export
	Dir        string `yaml:"dir"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Key      string `yaml:"s3_key"`
	S3Region   string `yaml:"s3_region"`
	S3Endpoint string `yaml:"s3_endpoint"`
}

// HasDestination reports whether at least one export target is configured.
func (e ExportConfig) HasDestination() bool {
	return e.Dir != "" || e.S3Bucket != ""
}

func Defaults() Config {
	return Config{
		Env:                      "dev",
		Seat:                     DefaultSeat,
		Switch:                   types.SwitchLid.String(),
		DBPath:                   DefaultDBPath,
		RetryBackoff:             250 * time.Millisecond,
		HeartbeatIntervalSeconds: 30,
		Export: ExportConfig{
			S3Region: "us-east-1",
		},
	}
}

// FromEnv returns the defaults overlaid with LIDMON_* environment variables.
func FromEnv() Config {
	cfg := Defaults()
	applyEnv(&cfg)
	return cfg
}

// Load reads path (a missing file means defaults), then applies the
// environment. An empty path uses LIDMON_CONFIG or DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		path = getenvDefault("LIDMON_CONFIG", DefaultConfigPath)
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg = FromEnv()
	case err != nil:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	default:
		cfg = Defaults()
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		applyEnv(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Seat) == "" {
		return errors.New("config: seat must not be empty")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("config: db_path must not be empty")
	}
	if _, err := types.ParseSwitchKind(c.Switch); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.WriteRetries < 0 {
		return errors.New("config: write_retries must not be negative")
	}
	return nil
}

// SwitchKind returns the parsed switch setting. Call after Validate.
func (c Config) SwitchKind() types.SwitchKind {
	k, _ := types.ParseSwitchKind(c.Switch)
	return k
}

func applyEnv(c *Config) {
	env := strings.ToLower(getenvDefault("LIDMON_ENV", c.Env))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}
	c.Env = env

	c.Seat = getenvDefault("LIDMON_SEAT", c.Seat)
	c.Switch = getenvDefault("LIDMON_SWITCH", c.Switch)
	c.DBPath = getenvDefault("LIDMON_DB_PATH", c.DBPath)

	c.WriteRetries = getenvInt("LIDMON_WRITE_RETRIES", c.WriteRetries)
	c.RetryBackoff = getenvDuration("LIDMON_RETRY_BACKOFF", c.RetryBackoff)
	c.HeartbeatIntervalSeconds = getenvInt("LIDMON_HEARTBEAT_INTERVAL_SECONDS", c.HeartbeatIntervalSeconds)

	c.HTTPAddr = getenvDefault("LIDMON_HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = getenvDefault("LIDMON_GRPC_ADDR", c.GRPCAddr)
	c.NATSURL = getenvDefault("LIDMON_NATS_URL", c.NATSURL)
	c.NATSSubject = getenvDefault("LIDMON_NATS_SUBJECT", c.NATSSubject)

	c.Export.Schedule = getenvDefault("LIDMON_EXPORT_SCHEDULE", c.Export.Schedule)
	c.Export.Dir = getenvDefault("LIDMON_EXPORT_DIR", c.Export.Dir)
	c.Export.S3Bucket = getenvDefault("LIDMON_EXPORT_S3_BUCKET", c.Export.S3Bucket)
	c.Export.S3Key = getenvDefault("LIDMON_EXPORT_S3_KEY", c.Export.S3Key)
	c.Export.S3Region = getenvDefault("LIDMON_EXPORT_S3_REGION", c.Export.S3Region)
	c.Export.S3Endpoint = getenvDefault("LIDMON_EXPORT_S3_ENDPOINT", c.Export.S3Endpoint)
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}
