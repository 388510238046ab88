// Package config provides configuration types and defaults for crewchat.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zjrosen/crewchat/internal/log"
	"github.com/zjrosen/crewchat/internal/paths"
)

// EnvPrefix prefixes every environment override, e.g. CREWCHAT_LLM_MODEL.
const EnvPrefix = "CREWCHAT"

// Config holds all crewchat configuration.
type Config struct {
	DatabasePath string            `mapstructure:"database_path"`
	Server       ServerConfig      `mapstructure:"server"`
	LLM          LLMConfig         `mapstructure:"llm"`
	Coordinator  CoordinatorConfig `mapstructure:"coordinator"`
	Store        StoreConfig       `mapstructure:"store"`
	Log          LogConfig         `mapstructure:"log"`
	Tracing      TracingConfig     `mapstructure:"tracing"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr          string        `mapstructure:"addr"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	AllowedOrigin string        `mapstructure:"allowed_origin"`
}

// LLMConfig selects the completion provider.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // openai or gemini
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKeyEnv   string        `mapstructure:"api_key_env"` // name of the env var holding the key
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// CoordinatorConfig tunes turn handling.
type CoordinatorConfig struct {
	BuildDelay  time.Duration `mapstructure:"build_delay"`
	TitleLength int           `mapstructure:"title_length"`
}

// StoreConfig controls the SQLite store.
type StoreConfig struct {
	// Watch republishes rows written by other processes.
	Watch         bool          `mapstructure:"watch"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	File   string `mapstructure:"file"`
	Pretty bool   `mapstructure:"pretty"`
}

// Tracing exporters.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Exporter    string `mapstructure:"exporter"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		DatabasePath: "",
		Server: ServerConfig{
			Addr:          "127.0.0.1:8787",
			ReadTimeout:   15 * time.Second,
			WriteTimeout:  90 * time.Second,
			AllowedOrigin: "*",
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			BaseURL:     "https://api.openai.com/v1",
			APIKeyEnv:   "OPENAI_API_KEY",
			Temperature: 0.7,
			MaxTokens:   2000,
			Timeout:     60 * time.Second,
		},
		Coordinator: CoordinatorConfig{
			BuildDelay:  3 * time.Second,
			TitleLength: 50,
		},
		Store: StoreConfig{
			Watch:         true,
			WatchDebounce: 100 * time.Millisecond,
		},
		Log: LogConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			Exporter:    ExporterNone,
			ServiceName: "crewchat",
		},
	}
}

// setDefaults registers every default so env overrides work for keys that
// are absent from the file.
func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("database_path", d.DatabasePath)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.allowed_origin", d.Server.AllowedOrigin)
	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.api_key_env", d.LLM.APIKeyEnv)
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.timeout", d.LLM.Timeout)
	v.SetDefault("coordinator.build_delay", d.Coordinator.BuildDelay)
	v.SetDefault("coordinator.title_length", d.Coordinator.TitleLength)
	v.SetDefault("store.watch", d.Store.Watch)
	v.SetDefault("store.watch_debounce", d.Store.WatchDebounce)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.pretty", d.Log.Pretty)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// Load reads configuration from path, then applies CREWCHAT_* environment
// overrides. A missing file is not an error: defaults are used. An empty
// path means DefaultPath().
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		log.Debug(log.CatConfig, "No config file, using defaults", "path", path)
	} else {
		log.Debug(log.CatConfig, "Loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	cfg.DatabasePath = paths.ResolveDatabasePath(cfg.DatabasePath)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return paths.DefaultConfigPath()
}

// Validate checks the configuration for values that cannot work.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		errs = append(errs, errors.New("server timeouts must not be negative"))
	}
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q must be openai or gemini", c.LLM.Provider))
	}
	if c.LLM.APIKeyEnv == "" {
		errs = append(errs, errors.New("llm.api_key_env is required"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %v must be between 0 and 2", c.LLM.Temperature))
	}
	if c.LLM.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens %d must be positive", c.LLM.MaxTokens))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, errors.New("llm.timeout must be positive"))
	}
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= c.LLM.Timeout {
		errs = append(errs, fmt.Errorf("server.write_timeout %s must exceed llm.timeout %s", c.Server.WriteTimeout, c.LLM.Timeout))
	}
	if c.Coordinator.BuildDelay < 0 {
		errs = append(errs, errors.New("coordinator.build_delay must not be negative"))
	}
	if c.Coordinator.TitleLength <= 0 {
		errs = append(errs, errors.New("coordinator.title_length must be positive"))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Tracing.Exporter {
	case ExporterNone, ExporterStdout:
	case ExporterOTLP:
		if c.Tracing.Endpoint == "" {
			errs = append(errs, errors.New("tracing.endpoint is required for the otlp exporter"))
		}
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter %q must be none, stdout or otlp", c.Tracing.Exporter))
	}
	return errors.Join(errs...)
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# crewchat configuration
#
# Every key can be overridden from the environment with the CREWCHAT_ prefix,
# e.g. CREWCHAT_LLM_MODEL=gpt-4o or CREWCHAT_SERVER_ADDR=0.0.0.0:8787.

# SQLite database file (default: $XDG_DATA_HOME/crewchat/crewchat.db)
# database_path: ~/.local/share/crewchat/crewchat.db

server:
  addr: 127.0.0.1:8787
  read_timeout: 15s
  write_timeout: 90s      # must exceed llm.timeout
  allowed_origin: "*"

llm:
  provider: openai        # openai or gemini
  model: gpt-4o-mini
  base_url: https://api.openai.com/v1
  api_key_env: OPENAI_API_KEY   # name of the variable, never the key itself
  temperature: 0.7
  max_tokens: 2000
  timeout: 60s

coordinator:
  build_delay: 3s         # wait before the Build persona answers a new conversation
  title_length: 50

store:
  watch: true             # pick up writes from other crewchat processes
  watch_debounce: 100ms

log:
  level: info             # debug, info, warn, error
  # file: /tmp/crewchat.log
  pretty: false

tracing:
  exporter: none          # none, stdout or otlp
  # endpoint: localhost:4317
  service_name: crewchat
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
