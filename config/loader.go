// Package config loads the platform configuration from defaults, an
// optional YAML file and LOOM_* environment variable overrides, in
// that order of precedence.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete platform configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Workspace WorkspaceConfig `yaml:"workspace" env:"WORKSPACE"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	History   HistoryConfig   `yaml:"history" env:"HISTORY"`
	Scheduler SchedulerConfig `yaml:"scheduler" env:"SCHEDULER"`
	Engine    EngineConfig    `yaml:"engine" env:"ENGINE"`
	API       APIConfig       `yaml:"api" env:"API"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr        string        `yaml:"addr" env:"ADDR"`
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// WriteTimeout of zero means unlimited; suspended runs hold
	// responses open indefinitely.
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// WorkspaceConfig locates workspace storage on disk.
type WorkspaceConfig struct {
	Root string `yaml:"root" env:"ROOT"`
}

// RedisConfig configures the optional Redis backend for persistent
// memory. Disabled falls back to the in-process store.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// HistoryConfig configures run history persistence.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

// SchedulerConfig toggles the schedule trigger scanner.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// EngineConfig bounds workflow execution.
type EngineConfig struct {
	MaxSubWorkflowDepth int `yaml:"max_sub_workflow_depth" env:"MAX_SUB_WORKFLOW_DEPTH"`
}

// APIConfig holds API-surface policy: auth, rate limiting and CORS.
type APIConfig struct {
	// Key guards mutating endpoints via X-API-Key; empty disables auth.
	Key            string   `yaml:"key" env:"KEY"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	CORSOrigins    []string `yaml:"cors_origins" env:"CORS_ORIGINS"`
	MetricsNS      string   `yaml:"metrics_namespace" env:"METRICS_NAMESPACE"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string   `yaml:"level" env:"LEVEL"`
	Format      string   `yaml:"format" env:"FORMAT"`
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// Loader loads configuration with the builder pattern.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the LOOM env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "LOOM"}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration: defaults, then file, then env.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// MustLoad loads the configuration or panics; intended for tooling.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}
	return cfg
}
