// Package config holds the explicit runtime configuration for the ingestion
// pipeline. Values are read from the environment once at startup and passed
// into constructors; no other package reads process-wide settings.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Repository backends.
const (
	BackendSQLite = "sqlite"
	BackendAurora = "aurora"
)

// Description and embedding providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderTitan  = "titan"
	ProviderNone   = "none"
)

// Config is the full set of pipeline settings.
type Config struct {
	// Pipeline sizing.
	Workers     int           `env:"INGEST_WORKERS" envDefault:"14"`
	FetchCap    int           `env:"INGEST_FETCH_CAP" envDefault:"500"`
	PageSize    int           `env:"INGEST_PAGE_SIZE" envDefault:"20"`
	BatchSize   int           `env:"INGEST_BATCH_SIZE" envDefault:"1000"`
	CallTimeout time.Duration `env:"INGEST_CALL_TIMEOUT" envDefault:"60s"`
	LeaseTTL    time.Duration `env:"INGEST_LEASE_TTL" envDefault:"15m"`

	// Description provider.
	DescribeProvider  string        `env:"DESCRIBE_PROVIDER" envDefault:"gemini"`
	DescribeModel     string        `env:"DESCRIBE_MODEL"`
	ImagePromptPath   string        `env:"DESCRIBE_IMAGE_PROMPT_PATH"`
	AlbumPromptPath   string        `env:"DESCRIBE_ALBUM_PROMPT_PATH"`
	DescribeRPS       float64       `env:"DESCRIBE_RATE_PER_SEC" envDefault:"10"`
	DescribeBurst     int           `env:"DESCRIBE_BURST" envDefault:"14"`
	BreakerFailures   uint32        `env:"DESCRIBE_BREAKER_FAILURES" envDefault:"5"`
	BreakerOpenPeriod time.Duration `env:"DESCRIBE_BREAKER_OPEN" envDefault:"30s"`

	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	OpenAIAPIKey string `env:"OPENAI_API_KEY"`

	// Enrichment.
	EmbedProvider   string `env:"EMBED_PROVIDER" envDefault:"titan"`
	EmbedModel      string `env:"EMBED_MODEL"`
	EmbedDimensions int    `env:"EMBED_DIMENSIONS" envDefault:"1024"`
	EnrichLimit     int    `env:"ENRICH_LIMIT" envDefault:"500"`

	// Persistence.
	Backend         string `env:"REPOSITORY_BACKEND" envDefault:"sqlite"`
	SQLitePath      string `env:"SQLITE_PATH" envDefault:"media.db"`
	AuroraCluster   string `env:"AURORA_CLUSTER_ARN"`
	AuroraSecretARN string `env:"AURORA_SECRET_ARN"`
	AuroraDatabase  string `env:"AURORA_DATABASE" envDefault:"media"`
	RunTable        string `env:"RUN_TABLE_NAME"`
	EventBus        string `env:"EVENT_BUS_NAME"`

	// Instagram app and credential storage.
	InstagramAppID       string        `env:"INSTAGRAM_APP_ID"`
	InstagramAppSecret   string        `env:"INSTAGRAM_APP_SECRET"`
	InstagramRedirectURI string        `env:"INSTAGRAM_REDIRECT_URI"`
	CredentialPrefix     string        `env:"SSM_CREDENTIAL_PREFIX" envDefault:"/media-ingest/prod/users"`
	RefreshWindow        time.Duration `env:"TOKEN_REFRESH_WINDOW" envDefault:"168h"`

	// Webhook notifications.
	WebhookVerifyToken string `env:"WEBHOOK_VERIFY_TOKEN"`
	IngestFunction     string `env:"INGEST_FUNCTION_NAME"`

	MetricsNamespace string `env:"METRICS_NAMESPACE" envDefault:"MediaIngest"`
}

// Load reads Config from the environment and validates it.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration with every default applied and nothing
// read from the environment. Used by tests and the local CLI.
func Default() Config {
	var cfg Config
	// Defaults only; an empty environment map cannot fail to parse.
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	return cfg
}

// Validate checks the invariants the pipeline relies on.
func (c Config) Validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("config: INGEST_WORKERS must be >= 1, got %d", c.Workers)
	case c.FetchCap < 1:
		return fmt.Errorf("config: INGEST_FETCH_CAP must be >= 1, got %d", c.FetchCap)
	case c.PageSize < 1:
		return fmt.Errorf("config: INGEST_PAGE_SIZE must be >= 1, got %d", c.PageSize)
	case c.BatchSize < 1:
		return fmt.Errorf("config: INGEST_BATCH_SIZE must be >= 1, got %d", c.BatchSize)
	case c.CallTimeout <= 0:
		return fmt.Errorf("config: INGEST_CALL_TIMEOUT must be positive")
	}
	switch c.DescribeProvider {
	case ProviderGemini, ProviderOpenAI, ProviderNone:
	default:
		return fmt.Errorf("config: unknown DESCRIBE_PROVIDER %q", c.DescribeProvider)
	}
	switch c.EmbedProvider {
	case ProviderTitan, ProviderOpenAI, ProviderNone:
	default:
		return fmt.Errorf("config: unknown EMBED_PROVIDER %q", c.EmbedProvider)
	}
	switch c.Backend {
	case BackendSQLite:
	case BackendAurora:
		if c.AuroraCluster == "" || c.AuroraSecretARN == "" {
			return fmt.Errorf("config: aurora backend needs AURORA_CLUSTER_ARN and AURORA_SECRET_ARN")
		}
	default:
		return fmt.Errorf("config: unknown REPOSITORY_BACKEND %q", c.Backend)
	}
	return nil
}
