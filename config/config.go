// Package config provides configuration management for the vidlens command-line tool.
// It supports loading configuration from a YAML file, .env files, environment variables,
// and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	vlerrors "github.com/otherjamesbrown/vidlens/pkg/errors"
	"github.com/otherjamesbrown/vidlens/pkg/llm"
	"github.com/otherjamesbrown/vidlens/pkg/video"
)

// OutputFormat defines the supported output formats for CLI results.
type OutputFormat string

const (
	// OutputFormatText is human-readable plain text output.
	OutputFormatText OutputFormat = "text"
	// OutputFormatJSON is JSON-formatted output for machine processing.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML is YAML-formatted output for machine processing.
	OutputFormatYAML OutputFormat = "yaml"
)

// Cache backends.
const (
	CacheBackendFile  = "file"
	CacheBackendRedis = "redis"
)

// Default configuration values.
const (
	DefaultConfigDir          = ".vidlens"
	DefaultConfigFile         = "config.yaml"
	DefaultBaseDir            = "video"
	DefaultTimeout            = 2 * time.Minute
	DefaultMaxRetries         = 1
	DefaultCompletionModel    = "gpt-4o"
	DefaultTranscriptionModel = "whisper-1"
	DefaultRedisAddr          = "localhost:6379"
	DefaultLogLevel           = "info"
	DefaultOutputFormat       = OutputFormatText
)

// APIConfig holds the completion and transcription service settings. API keys
// are never read from or written to the config file.
type APIConfig struct {
	Completion    llm.Endpoint  `yaml:"completion"`
	Transcription llm.Endpoint  `yaml:"transcription"`
	Timeout       time.Duration `yaml:"-"`
	// MaxRetries is how many times a retryable service failure is retried.
	// Zero fails on the first error.
	MaxRetries int `yaml:"max_retries"`
}

// TranscriptionEndpoint returns the transcription endpoint. When no separate
// key is configured and both services are plain OpenAI, the completion key is
// shared.
func (a APIConfig) TranscriptionEndpoint() llm.Endpoint {
	tr := a.Transcription
	if tr.APIKey != "" {
		return tr
	}
	if isOpenAI(tr.Provider) && isOpenAI(a.Completion.Provider) && tr.Endpoint == "" {
		tr.APIKey = a.Completion.APIKey
		if tr.BaseURL == "" {
			tr.BaseURL = a.Completion.BaseURL
		}
	}
	return tr
}

func isOpenAI(provider string) bool {
	return provider == "" || strings.EqualFold(provider, llm.ProviderOpenAI)
}

// StorageConfig holds where analyses are written.
type StorageConfig struct {
	// BaseDir holds one directory per analyzed video. Supports ~.
	BaseDir string `yaml:"base_dir"`
}

// CacheConfig selects the analysis cache index.
type CacheConfig struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr,omitempty"`
	RedisPassword string `yaml:"-"`
	RedisDB       int    `yaml:"redis_db,omitempty"`
	RedisKey      string `yaml:"redis_key,omitempty"`
}

// LogConfig controls console and file logging.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json,omitempty"`
	// Dir receives one JSON log file per run. Empty disables file logging.
	Dir string `yaml:"dir,omitempty"`
}

// Config holds the CLI configuration settings.
type Config struct {
	API          APIConfig              `yaml:"api"`
	Processing   video.ProcessingConfig `yaml:"processing"`
	Chat         video.ChatConfig       `yaml:"chat"`
	Storage      StorageConfig          `yaml:"storage"`
	Cache        CacheConfig            `yaml:"cache"`
	Log          LogConfig              `yaml:"log"`
	OutputFormat OutputFormat           `yaml:"output_format"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Completion:    llm.Endpoint{Provider: llm.ProviderOpenAI, Model: DefaultCompletionModel},
			Transcription: llm.Endpoint{Provider: llm.ProviderOpenAI, Model: DefaultTranscriptionModel},
			Timeout:       DefaultTimeout,
			MaxRetries:    DefaultMaxRetries,
		},
		Processing:   video.DefaultProcessingConfig(),
		Chat:         video.DefaultChatConfig(),
		Storage:      StorageConfig{BaseDir: DefaultBaseDir},
		Cache:        CacheConfig{Backend: CacheBackendFile, RedisAddr: DefaultRedisAddr},
		Log:          LogConfig{Level: DefaultLogLevel},
		OutputFormat: DefaultOutputFormat,
	}
}

// ConfigDir returns the configuration directory path.
// Uses $VIDLENS_CONFIG_DIR if set, otherwise ~/.vidlens
func ConfigDir() (string, error) {
	if dir := os.Getenv("VIDLENS_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// LoadConfig loads the configuration.
// Configuration is loaded in this order (later sources override earlier):
// 1. Default values
// 2. Config file (~/.vidlens/config.yaml or $VIDLENS_CONFIG_DIR/config.yaml)
// 3. .env files in the working and config directories (never overriding variables already set)
// 4. Environment variables (VIDLENS_*, AZURE_OPENAI_*, WHISPER_*, OPENAI_API_KEY)
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	configPath, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("getting config path: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := loadDotEnv(".env", filepath.Join(filepath.Dir(configPath), ".env")); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads the files that exist. godotenv.Load keeps variables that
// are already set.
func loadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// configFile mirrors Config with the timeout as a duration string.
type configFile struct {
	API struct {
		Completion    llm.Endpoint `yaml:"completion"`
		Transcription llm.Endpoint `yaml:"transcription"`
		Timeout       string       `yaml:"timeout,omitempty"`
		MaxRetries    *int         `yaml:"max_retries,omitempty"`
	} `yaml:"api"`
	Processing   *video.ProcessingConfig `yaml:"processing,omitempty"`
	Chat         *video.ChatConfig       `yaml:"chat,omitempty"`
	Storage      StorageConfig           `yaml:"storage"`
	Cache        CacheConfig             `yaml:"cache"`
	Log          LogConfig               `yaml:"log"`
	OutputFormat OutputFormat            `yaml:"output_format,omitempty"`
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	fileCfg := configFile{
		Processing: &cfg.Processing,
		Chat:       &cfg.Chat,
	}
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	mergeEndpoint(&cfg.API.Completion, fileCfg.API.Completion)
	mergeEndpoint(&cfg.API.Transcription, fileCfg.API.Transcription)
	if fileCfg.API.Timeout != "" {
		timeout, err := time.ParseDuration(fileCfg.API.Timeout)
		if err != nil {
			return fmt.Errorf("parsing timeout: %w", err)
		}
		cfg.API.Timeout = timeout
	}
	if fileCfg.API.MaxRetries != nil {
		cfg.API.MaxRetries = *fileCfg.API.MaxRetries
	}
	if fileCfg.Storage.BaseDir != "" {
		cfg.Storage.BaseDir = fileCfg.Storage.BaseDir
	}
	if fileCfg.Cache.Backend != "" {
		cfg.Cache.Backend = fileCfg.Cache.Backend
	}
	if fileCfg.Cache.RedisAddr != "" {
		cfg.Cache.RedisAddr = fileCfg.Cache.RedisAddr
	}
	cfg.Cache.RedisDB = fileCfg.Cache.RedisDB
	cfg.Cache.RedisKey = fileCfg.Cache.RedisKey
	if fileCfg.Log.Level != "" {
		cfg.Log.Level = fileCfg.Log.Level
	}
	cfg.Log.JSON = fileCfg.Log.JSON
	cfg.Log.Dir = fileCfg.Log.Dir
	if fileCfg.OutputFormat != "" {
		cfg.OutputFormat = fileCfg.OutputFormat
	}

	return nil
}

func mergeEndpoint(dst *llm.Endpoint, src llm.Endpoint) {
	if src.Provider != "" {
		dst.Provider = src.Provider
	}
	if src.BaseURL != "" {
		dst.BaseURL = src.BaseURL
	}
	if src.Endpoint != "" {
		dst.Endpoint = src.Endpoint
	}
	if src.APIVersion != "" {
		dst.APIVersion = src.APIVersion
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
}

// loadFromEnv overlays environment variables onto the configuration.
func loadFromEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.API.Completion.APIKey = v
	}
	if v := os.Getenv("VIDLENS_COMPLETION_MODEL"); v != "" {
		cfg.API.Completion.Model = v
	}
	if v := os.Getenv("VIDLENS_TRANSCRIPTION_MODEL"); v != "" {
		cfg.API.Transcription.Model = v
	}

	loadAzureFromEnv(&cfg.API.Completion, "AZURE_OPENAI")
	loadAzureFromEnv(&cfg.API.Transcription, "WHISPER")

	if v := os.Getenv("VIDLENS_TIMEOUT"); v != "" {
		if timeout, err := time.ParseDuration(v); err == nil {
			cfg.API.Timeout = timeout
		}
	}

	if v := os.Getenv("VIDLENS_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.API.MaxRetries = n
		}
	}

	if v := os.Getenv("VIDLENS_BASE_DIR"); v != "" {
		cfg.Storage.BaseDir = v
	}

	if v := os.Getenv("VIDLENS_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}

	if v := os.Getenv("VIDLENS_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}

	if v := os.Getenv("VIDLENS_REDIS_PASSWORD"); v != "" {
		cfg.Cache.RedisPassword = v
	}

	if v := os.Getenv("VIDLENS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	if v := os.Getenv("VIDLENS_LOG_JSON"); v == "true" || v == "1" {
		cfg.Log.JSON = true
	}

	if v := os.Getenv("VIDLENS_LOG_DIR"); v != "" {
		cfg.Log.Dir = v
	}

	if v := os.Getenv("VIDLENS_OUTPUT_FORMAT"); v != "" {
		cfg.OutputFormat = OutputFormat(v)
	}
}

// loadAzureFromEnv reads <prefix>_ENDPOINT, _API_KEY, _API_VERSION and
// _DEPLOYMENT_NAME. Any endpoint switches the service to Azure.
func loadAzureFromEnv(ep *llm.Endpoint, prefix string) {
	if v := os.Getenv(prefix + "_ENDPOINT"); v != "" {
		ep.Provider = llm.ProviderAzure
		ep.Endpoint = v
	}
	if v := os.Getenv(prefix + "_API_KEY"); v != "" {
		ep.APIKey = v
	}
	if v := os.Getenv(prefix + "_API_VERSION"); v != "" {
		ep.APIVersion = v
	}
	if v := os.Getenv(prefix + "_DEPLOYMENT_NAME"); v != "" {
		ep.Model = v
	}
}

// Validate checks that the configuration is valid. API keys are checked when
// a service is dialled, so that commands which need none still work.
func (c *Config) Validate() error {
	if err := c.Processing.Validate(); err != nil {
		return fmt.Errorf("processing: %w", err)
	}

	if err := c.Chat.Validate(); err != nil {
		return fmt.Errorf("chat: %w", err)
	}

	if c.API.Timeout <= 0 {
		return fmt.Errorf("api timeout must be positive: %w", vlerrors.ErrValidation)
	}

	if c.API.MaxRetries < 0 {
		return fmt.Errorf("api max_retries must be non-negative: %w", vlerrors.ErrValidation)
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage base_dir is required: %w", vlerrors.ErrValidation)
	}

	switch c.Cache.Backend {
	case CacheBackendFile:
	case CacheBackendRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache backend redis needs redis_addr: %w", vlerrors.ErrValidation)
		}
	default:
		return fmt.Errorf("invalid cache backend %q (must be file or redis): %w", c.Cache.Backend, vlerrors.ErrValidation)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q: %w", c.Log.Level, vlerrors.ErrValidation)
	}

	if !c.OutputFormat.IsValid() {
		return fmt.Errorf("invalid output_format: %q (must be text, json, or yaml): %w", c.OutputFormat, vlerrors.ErrValidation)
	}

	return nil
}

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		return true
	default:
		return false
	}
}

// String returns the string representation of the output format.
func (f OutputFormat) String() string {
	return string(f)
}

// BaseDir returns the expanded analysis base directory.
func (c *Config) BaseDir() string {
	dir, err := ExpandPath(c.Storage.BaseDir)
	if err != nil {
		return c.Storage.BaseDir
	}
	return dir
}

// Marshal renders the configuration as YAML. Secrets are omitted.
func (c *Config) Marshal() ([]byte, error) {
	fileCfg := configFile{
		Processing:   &c.Processing,
		Chat:         &c.Chat,
		Storage:      c.Storage,
		Cache:        c.Cache,
		Log:          c.Log,
		OutputFormat: c.OutputFormat,
	}
	fileCfg.API.Completion = c.API.Completion
	fileCfg.API.Transcription = c.API.Transcription
	fileCfg.API.Timeout = c.API.Timeout.String()
	retries := c.API.MaxRetries
	fileCfg.API.MaxRetries = &retries

	data, err := yaml.Marshal(&fileCfg)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

// SaveConfig saves the configuration to the config file.
func SaveConfig(cfg *Config) error {
	configDir, err := ConfigDir()
	if err != nil {
		return fmt.Errorf("getting config directory: %w", err)
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := cfg.Marshal()
	if err != nil {
		return err
	}

	configPath := filepath.Join(configDir, DefaultConfigFile)
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
