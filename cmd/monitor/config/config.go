// Package config parses the monitor's configuration.
//
// Values come from command-line flags, then environment variables, then
// defaults. A single target can be described entirely with flags and ADAPTER_*
// variables; several targets are listed in a YAML file passed with
// --config-file:
//
//	targets:
//	  - name: fio-randwrite
//	    metric: write_iops
//	    adapter: prometheus
//	    adapterConfig:
//	      url: http://prometheus:9090
//	      query: sum(rate(fio_write_iops[1m]))
//	    windowSize: 5
//	    step: 1m
//	    lookbackRounds: 25
//	    interval: 30s
//	    threshold: 0.1
//
// Fields omitted in the file inherit the flag/environment values.
package config

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/HatiCode/steadystate/pkg/steadystate"
	"github.com/HatiCode/steadystate/pkg/tls"
)

// Config holds all monitor configuration.
type Config struct {
	Listen     string
	GRPCListen string
	LogFormat  string
	LogLevel   string
	ConfigFile string

	Storage       string
	HistoryLimit  int
	MemoryTTL     time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
	SQLitePath    string

	TLS       tls.Config
	ClientTLS tls.Config

	Target         string
	Metric         string
	Adapter        string
	AdapterConfig  map[string]string
	WindowSize     int
	Step           time.Duration
	LookbackRounds int
	Interval       time.Duration
	Threshold      float64
	CollectRetries int
}

// TargetConfig describes one monitored benchmark metric.
type TargetConfig struct {
	Name          string
	Metric        string
	Adapter       string
	AdapterConfig map[string]string
	WindowSize    int
	// Step is the duration of one round.
	Step time.Duration
	// LookbackRounds is how many rounds of history are collected per tick.
	LookbackRounds int
	Interval       time.Duration
	Threshold      float64
}

// Lookback is the history duration collected per tick.
func (t TargetConfig) Lookback() time.Duration {
	return time.Duration(t.LookbackRounds) * t.Step
}

// Parse parses args (without the program name) into a Config.
func Parse(args []string) (*Config, error) {
	cfg := &Config{}
	fs := pflag.NewFlagSet("monitor", pflag.ContinueOnError)

	fs.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8080"), "HTTP listen address")
	fs.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ""), "gRPC listen address (disabled when empty)")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	fs.StringVarP(&cfg.ConfigFile, "config-file", "c", getEnv("CONFIG_FILE", ""), "YAML file listing targets")

	fs.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Storage backend: memory, redis or sqlite")
	fs.IntVar(&cfg.HistoryLimit, "history-limit", getEnvInt("HISTORY_LIMIT", 100), "Reports kept per target (memory and redis)")
	fs.DurationVar(&cfg.MemoryTTL, "memory-ttl", getEnvDuration("MEMORY_TTL", 0), "Drop in-memory reports older than this (0 keeps them)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	fs.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 24*time.Hour), "Redis report TTL")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", getEnv("SQLITE_PATH", "steadystate.db"), "SQLite database file")

	fs.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Serve HTTP and gRPC over mutual TLS")
	fs.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "Server certificate file")
	fs.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "Server private key file")
	fs.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "CA file for client verification")
	fs.BoolVar(&cfg.ClientTLS.Enabled, "adapter-tls-enabled", getEnvBool("ADAPTER_TLS_ENABLED", false), "Use mutual TLS towards metric backends")
	fs.StringVar(&cfg.ClientTLS.CertFile, "adapter-tls-cert-file", getEnv("ADAPTER_TLS_CERT_FILE", ""), "Client certificate file")
	fs.StringVar(&cfg.ClientTLS.KeyFile, "adapter-tls-key-file", getEnv("ADAPTER_TLS_KEY_FILE", ""), "Client private key file")
	fs.StringVar(&cfg.ClientTLS.CAFile, "adapter-tls-ca-file", getEnv("ADAPTER_TLS_CA_FILE", ""), "CA file for backend verification")

	fs.StringVar(&cfg.Target, "target", getEnv("TARGET", ""), "Target name (single-target mode)")
	fs.StringVar(&cfg.Metric, "metric", getEnv("METRIC", ""), "Metric name (single-target mode)")
	fs.StringVar(&cfg.Adapter, "adapter", getEnv("ADAPTER", "prometheus"), "Adapter: prometheus, victoriametrics, http or file")
	fs.IntVar(&cfg.WindowSize, "window-size", getEnvInt("WINDOW_SIZE", steadystate.DefaultWindowSize), "Rounds in the measurement window")
	fs.DurationVar(&cfg.Step, "step", getEnvDuration("STEP", time.Minute), "Duration of one round")
	fs.IntVar(&cfg.LookbackRounds, "lookback-rounds", getEnvInt("LOOKBACK_ROUNDS", 0), "Rounds of history collected per tick (default 5x window size)")
	fs.DurationVar(&cfg.Interval, "interval", getEnvDuration("INTERVAL", 30*time.Second), "Evaluation interval")
	fs.Float64Var(&cfg.Threshold, "threshold", getEnvFloat("THRESHOLD", steadystate.DefaultThreshold), "Excursion threshold as a fraction of the window average")
	fs.IntVar(&cfg.CollectRetries, "collect-retries", getEnvInt("COLLECT_RETRIES", 3), "Retries for a failed collection within one tick")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.AdapterConfig = parseAdapterConfig(os.Environ())

	switch cfg.Storage {
	case "memory", "redis", "sqlite":
	default:
		return nil, fmt.Errorf("invalid storage %q (must be memory, redis or sqlite)", cfg.Storage)
	}
	if cfg.ConfigFile == "" && cfg.Target == "" {
		return nil, fmt.Errorf("--target or --config-file is required")
	}
	if !validThreshold(cfg.Threshold) {
		return nil, fmt.Errorf("invalid threshold %v (must be a finite number >= 0)", cfg.Threshold)
	}

	return cfg, nil
}

// parseAdapterConfig turns ADAPTER_* variables into adapter config keys:
// ADAPTER_VALUE_PATH=x becomes valuePath=x. TLS settings and the adapter kind
// itself are excluded.
func parseAdapterConfig(environ []string) map[string]string {
	config := make(map[string]string)
	for _, env := range environ {
		key, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, "ADAPTER_") || strings.HasPrefix(key, "ADAPTER_TLS_") {
			continue
		}
		config[toLowerCamelCase(strings.TrimPrefix(key, "ADAPTER_"))] = value
	}
	return config
}

func toLowerCamelCase(s string) string {
	parts := strings.Split(strings.ToLower(s), "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i > 0 && b.Len() > 0 {
			b.WriteString(strings.ToUpper(p[:1]) + p[1:])
			continue
		}
		b.WriteString(p)
	}
	return b.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

var targetNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_.-]{0,251}[a-zA-Z0-9])?$`)

type fileConfig struct {
	Targets []fileTarget `yaml:"targets"`
}

type fileTarget struct {
	Name           string            `yaml:"name"`
	Metric         string            `yaml:"metric"`
	Adapter        string            `yaml:"adapter"`
	AdapterConfig  map[string]string `yaml:"adapterConfig"`
	WindowSize     int               `yaml:"windowSize"`
	Step           time.Duration     `yaml:"step"`
	LookbackRounds int               `yaml:"lookbackRounds"`
	Interval       time.Duration     `yaml:"interval"`
	Threshold      *float64          `yaml:"threshold"`
}

// LoadTargets returns the validated targets: those listed in cfg.ConfigFile,
// or the single target described by flags when no file is given.
func LoadTargets(cfg *Config) ([]TargetConfig, error) {
	if cfg.ConfigFile == "" {
		t := TargetConfig{
			Name:           cfg.Target,
			Metric:         cfg.Metric,
			Adapter:        cfg.Adapter,
			AdapterConfig:  cfg.AdapterConfig,
			WindowSize:     cfg.WindowSize,
			Step:           cfg.Step,
			LookbackRounds: cfg.LookbackRounds,
			Interval:       cfg.Interval,
			Threshold:      cfg.Threshold,
		}
		if err := validateTarget(&t, 0); err != nil {
			return nil, err
		}
		return []TargetConfig{t}, nil
	}

	data, err := os.ReadFile(cfg.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ParseTargets(data, cfg)
}

// ParseTargets decodes a targets YAML document. Missing fields take their
// value from defaults.
func ParseTargets(data []byte, defaults *Config) ([]TargetConfig, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if len(fc.Targets) == 0 {
		return nil, fmt.Errorf("config file lists no targets")
	}

	seen := make(map[string]bool, len(fc.Targets))
	out := make([]TargetConfig, 0, len(fc.Targets))
	for i, ft := range fc.Targets {
		t := TargetConfig{
			Name:           ft.Name,
			Metric:         ft.Metric,
			Adapter:        ft.Adapter,
			AdapterConfig:  ft.AdapterConfig,
			WindowSize:     ft.WindowSize,
			Step:           ft.Step,
			LookbackRounds: ft.LookbackRounds,
			Interval:       ft.Interval,
			Threshold:      defaults.Threshold,
		}
		if t.Adapter == "" {
			t.Adapter = defaults.Adapter
		}
		if t.WindowSize == 0 {
			t.WindowSize = defaults.WindowSize
		}
		if t.Step == 0 {
			t.Step = defaults.Step
		}
		if t.Interval == 0 {
			t.Interval = defaults.Interval
		}
		if ft.Threshold != nil {
			t.Threshold = *ft.Threshold
		}

		if err := validateTarget(&t, i); err != nil {
			return nil, err
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("target %q: duplicate name", t.Name)
		}
		seen[t.Name] = true
		out = append(out, t)
	}
	return out, nil
}

func validateTarget(t *TargetConfig, index int) error {
	if t.Name == "" {
		return fmt.Errorf("target[%d]: name cannot be empty", index)
	}
	if !targetNameRegex.MatchString(t.Name) {
		return fmt.Errorf("target[%d]: invalid name %q (must be alphanumeric with dash, underscore or dot)", index, t.Name)
	}
	if t.Metric == "" {
		t.Metric = t.Name
	}
	if t.Adapter == "" {
		return fmt.Errorf("target %q: adapter cannot be empty", t.Name)
	}
	if t.WindowSize <= 0 {
		return fmt.Errorf("target %q: windowSize must be > 0", t.Name)
	}
	if t.Step <= 0 {
		return fmt.Errorf("target %q: step must be > 0", t.Name)
	}
	if t.LookbackRounds == 0 {
		t.LookbackRounds = 5 * t.WindowSize
	}
	if t.LookbackRounds < t.WindowSize {
		return fmt.Errorf("target %q: lookbackRounds (%d) < windowSize (%d)", t.Name, t.LookbackRounds, t.WindowSize)
	}
	if t.Interval <= 0 {
		t.Interval = 30 * time.Second
	}
	if !validThreshold(t.Threshold) {
		return fmt.Errorf("target %q: threshold must be a finite number >= 0, got %v", t.Name, t.Threshold)
	}
	if t.AdapterConfig == nil {
		t.AdapterConfig = map[string]string{}
	}
	return nil
}

func validThreshold(t float64) bool {
	return t >= 0 && !math.IsInf(t, 0)
}
