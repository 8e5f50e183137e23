package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the sentinel engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Source     SourceConfig     `yaml:"source"`
	AWS        AWSConfig        `yaml:"aws"`
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
	Windows    WindowsConfig    `yaml:"windows"`
	Domains    DomainsConfig    `yaml:"domains"`
	Slack      SlackConfig      `yaml:"slack"`
	Cache      CacheConfig      `yaml:"cache"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig controls the HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	APIKey          string        `yaml:"apiKey"`
}

// SourceConfig configures the Prometheus-compatible metric store.
type SourceConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
}

// AWSConfig selects the region for the CloudWatch-backed domains.
type AWSConfig struct {
	Region  string `yaml:"region"`
	Enabled bool   `yaml:"enabled"`
}

// KubernetesConfig configures the deployment inventory lookup.
type KubernetesConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Kubeconfig string `yaml:"kubeconfig"`
	Namespace  string `yaml:"namespace"`
}

// WindowsConfig describes the observation window policy.
type WindowsConfig struct {
	TargetTime   string `yaml:"targetTime"`
	DaysBefore   int    `yaml:"daysBefore"`
	WidthMinutes int    `yaml:"widthMinutes"`
	Timezone     string `yaml:"timezone"`
}

// PolicyConfig holds per-category or per-metric baseline gates.
type PolicyConfig struct {
	MinActivity      map[string]float64 `yaml:"minActivity"`
	PercentThreshold map[string]float64 `yaml:"percentThreshold"`
}

// ApplicationDomainConfig tunes the application/service-mesh detector.
type ApplicationDomainConfig struct {
	APIList            []string     `yaml:"apiList"`
	SkipPrefixes       []string     `yaml:"skipPrefixes"`
	Namespace          string       `yaml:"namespace"`
	PodSelector        string       `yaml:"podSelector"`
	ErrorRateThreshold float64      `yaml:"errorRateThreshold"`
	ResourceThreshold  float64      `yaml:"resourceThreshold"`
	MinConsecutive     int          `yaml:"minConsecutive"`
	Requests           PolicyConfig `yaml:"requests"`
	Mesh               PolicyConfig `yaml:"mesh"`
}

// DatabaseDomainConfig tunes the RDS detector.
type DatabaseDomainConfig struct {
	Clusters      []string     `yaml:"clusters"`
	PeriodSeconds int32        `yaml:"periodSeconds"`
	Policy        PolicyConfig `yaml:"policy"`
}

// CacheDomainConfig tunes the ElastiCache detector.
type CacheDomainConfig struct {
	ReplicationGroups []string     `yaml:"replicationGroups"`
	PeriodSeconds     int32        `yaml:"periodSeconds"`
	Policy            PolicyConfig `yaml:"policy"`
}

// DomainsConfig groups the per-domain detector settings.
type DomainsConfig struct {
	Application ApplicationDomainConfig `yaml:"application"`
	Database    DatabaseDomainConfig    `yaml:"database"`
	Cache       CacheDomainConfig       `yaml:"cache"`
}

// SlackConfig configures the alert sink.
type SlackConfig struct {
	WebhookURL string `yaml:"webhookURL"`
}

// ScheduleConfig controls the built-in daily trigger.
type ScheduleConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls the Valkey-backed report store and alert dedupe.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SENTINEL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8085",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Source: SourceConfig{
			Timeout: 10 * time.Second,
		},
		AWS: AWSConfig{
			Region: "ap-south-1",
		},
		Kubernetes: KubernetesConfig{
			Namespace: "default",
		},
		Windows: WindowsConfig{
			TargetTime:   "12:30",
			DaysBefore:   7,
			WidthMinutes: 60,
			Timezone:     "Asia/Kolkata",
		},
		Domains: DomainsConfig{
			Application: ApplicationDomainConfig{
				ErrorRateThreshold: 50,
				ResourceThreshold:  80,
				MinConsecutive:     2,
			},
			Database: DatabaseDomainConfig{PeriodSeconds: 60},
			Cache:    CacheDomainConfig{PeriodSeconds: 60},
		},
		Schedule: ScheduleConfig{Enabled: true},
		Logging:  LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENTINEL_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("SENTINEL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("SENTINEL_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("SENTINEL_SOURCE_URL"); v != "" {
		cfg.Source.BaseURL = v
	}
	if v := os.Getenv("SENTINEL_AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("SENTINEL_AWS_ENABLED"); v != "" {
		cfg.AWS.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("SENTINEL_KUBECONFIG"); v != "" {
		cfg.Kubernetes.Kubeconfig = v
	}
	if v := os.Getenv("SENTINEL_K8S_NAMESPACE"); v != "" {
		cfg.Kubernetes.Namespace = v
	}
	if v := os.Getenv("SENTINEL_K8S_ENABLED"); v != "" {
		cfg.Kubernetes.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("SENTINEL_TARGET_TIME"); v != "" {
		cfg.Windows.TargetTime = v
	}
	if v := os.Getenv("SENTINEL_DAYS_BEFORE"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			cfg.Windows.DaysBefore = days
		}
	}
	if v := os.Getenv("SENTINEL_WIDTH_MINUTES"); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil {
			cfg.Windows.WidthMinutes = minutes
		}
	}
	if v := os.Getenv("SENTINEL_TIMEZONE"); v != "" {
		cfg.Windows.Timezone = v
	}
	if v := os.Getenv("SENTINEL_SLACK_WEBHOOK_URL"); v != "" {
		cfg.Slack.WebhookURL = v
	}
	if v := os.Getenv("SENTINEL_SCHEDULE_ENABLED"); v != "" {
		cfg.Schedule.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("SENTINEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SENTINEL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("SENTINEL_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("SENTINEL_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("SENTINEL_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("SENTINEL_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("SENTINEL_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("SENTINEL_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("SENTINEL_CACHE_DIAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.DialTimeout = d
		}
	}
	if v := os.Getenv("SENTINEL_CACHE_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ReadTimeout = d
		}
	}
	if v := os.Getenv("SENTINEL_CACHE_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.WriteTimeout = d
		}
	}
	if v := os.Getenv("SENTINEL_CACHE_MAX_RETRIES"); v != "" {
		if retry, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxRetries = retry
		}
	}
}

// WindowPolicyLocation resolves the configured timezone, defaulting to UTC on
// a bad identifier so a typo degrades rather than crashes.
func (w WindowsConfig) WindowPolicyLocation() *time.Location {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
