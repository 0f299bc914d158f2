// Package cmd provides CLI commands for the vidlens tool.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/vidlens/config"
	"github.com/otherjamesbrown/vidlens/credentials"
	"github.com/otherjamesbrown/vidlens/pkg/cache"
	"github.com/otherjamesbrown/vidlens/pkg/llm"
	"github.com/otherjamesbrown/vidlens/pkg/logging"
	"github.com/otherjamesbrown/vidlens/pkg/media"
	"github.com/otherjamesbrown/vidlens/pkg/observability"
	"github.com/otherjamesbrown/vidlens/pkg/pipeline"
)

// Backend is the cache index a command works against, plus the stage event
// publisher that shares its connection.
type Backend struct {
	Index     cache.Index
	Publisher observability.EventPublisher
	Close     func() error
}

func (b *Backend) close() error {
	if b.Close == nil {
		return nil
	}
	return b.Close()
}

// CommandDeps holds the dependencies shared by every command. Fields left nil
// are filled from DefaultDeps on first use.
type CommandDeps struct {
	Config   *config.Config
	Logger   logging.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer

	LoadConfig      func() (*config.Config, error)
	OpenCredentials func() (*credentials.Store, error)
	NewServices     func(cfg *config.Config, opts llm.BuildOptions) (llm.ServiceClients, error)
	NewMedia        func(cfg *config.Config, logger logging.Logger) pipeline.MediaExtractor
	OpenBackend     func(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Backend, error)
	PingCompletion  func(ctx context.Context, cfg *config.Config) error
	// Interactive reports whether prompts may be shown.
	Interactive func() bool
}

// DefaultDeps returns the default dependencies for production use.
func DefaultDeps() *CommandDeps {
	return &CommandDeps{
		LoadConfig:      LoadRuntimeConfig,
		OpenCredentials: credentials.NewStore,
		NewServices:     newServices,
		NewMedia:        newMedia,
		OpenBackend:     openBackend,
		PingCompletion:  pingCompletion,
		Interactive:     stdinIsTerminal,
	}
}

func (d *CommandDeps) withDefaults() *CommandDeps {
	def := DefaultDeps()
	if d.LoadConfig == nil {
		d.LoadConfig = def.LoadConfig
	}
	if d.OpenCredentials == nil {
		d.OpenCredentials = def.OpenCredentials
	}
	if d.NewServices == nil {
		d.NewServices = def.NewServices
	}
	if d.NewMedia == nil {
		d.NewMedia = def.NewMedia
	}
	if d.OpenBackend == nil {
		d.OpenBackend = def.OpenBackend
	}
	if d.PingCompletion == nil {
		d.PingCompletion = def.PingCompletion
	}
	if d.Interactive == nil {
		d.Interactive = def.Interactive
	}
	if d.Logger == nil {
		d.Logger = logging.NewNopLogger()
	}
	if d.Registry == nil {
		d.Registry = prometheus.NewRegistry()
	}
	if d.Metrics == nil {
		d.Metrics = observability.NewMetrics(d.Registry)
	}
	if d.Tracer == nil {
		d.Tracer = observability.NewTracer()
	}
	return d
}

// config returns the loaded configuration, loading it on first use.
func (d *CommandDeps) config() (*config.Config, error) {
	if d.Config != nil {
		return d.Config, nil
	}
	cfg, err := d.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	d.Config = cfg
	return cfg, nil
}

// services builds the completion and transcription clients for cfg.
func (d *CommandDeps) services(cfg *config.Config) (llm.ServiceClients, error) {
	policy := llm.DefaultRetryPolicy()
	policy.MaxRetries = cfg.API.MaxRetries
	return d.NewServices(cfg, llm.BuildOptions{
		Timeout: cfg.API.Timeout,
		Retry:   policy,
		Metrics: d.Metrics,
		Tracer:  d.Tracer,
		Logger:  d.Logger,
	})
}

// LoadRuntimeConfig loads the configuration and fills API keys left empty by
// the environment from the credential store.
func LoadRuntimeConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := ApplyStoredCredentials(cfg, credentials.NewStore); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyStoredCredentials copies stored keys into cfg where no key is set. A
// store that cannot be opened, or holds nothing, leaves cfg unchanged.
func ApplyStoredCredentials(cfg *config.Config, open func() (*credentials.Store, error)) error {
	if cfg.API.Completion.APIKey != "" && cfg.API.Transcription.APIKey != "" {
		return nil
	}
	store, err := open()
	if err != nil {
		return nil
	}
	creds, err := store.Load()
	if errors.Is(err, credentials.ErrNoCredentials) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading stored credentials: %w", err)
	}
	if cfg.API.Completion.APIKey == "" {
		cfg.API.Completion.APIKey = creds.CompletionAPIKey
	}
	if cfg.API.Transcription.APIKey == "" {
		cfg.API.Transcription.APIKey = creds.TranscriptionAPIKey
	}
	return nil
}

func newServices(cfg *config.Config, opts llm.BuildOptions) (llm.ServiceClients, error) {
	return llm.BuildServiceClients(cfg.API.Completion, cfg.API.TranscriptionEndpoint(), opts)
}

func newMedia(_ *config.Config, logger logging.Logger) pipeline.MediaExtractor {
	return media.NewExtractor(media.WithLogger(logger))
}

func pingCompletion(ctx context.Context, cfg *config.Config) error {
	client, err := llm.NewOpenAIClient(cfg.API.Completion, cfg.API.Timeout)
	if err != nil {
		return err
	}
	return client.Ping(ctx, cfg.API.Completion.Model)
}

// openBackend opens the configured cache index. The file index lives in the
// analysis base directory; the redis backend also publishes stage events.
func openBackend(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Backend, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		client, err := cache.DialRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			return nil, err
		}
		return redisBackend(client, cfg, logger), nil
	default:
		idx := cache.NewFileIndex(filepath.Join(cfg.BaseDir(), cache.IndexFileName), logger)
		return &Backend{Index: idx, Close: func() error { return nil }}, nil
	}
}

func redisBackend(client *redis.Client, cfg *config.Config, logger logging.Logger) *Backend {
	return &Backend{
		Index:     cache.NewRedisIndex(client, cfg.Cache.RedisKey, logger),
		Publisher: observability.NewRedisPublisher(client, ""),
		Close:     client.Close,
	}
}
