// Package lambdaboot holds the cold-start wiring shared by the binaries:
// AWS config, secrets from SSM, and construction of the repository, run
// ledger, describer, embedder and ingestion service from config.Config.
package lambdaboot

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-ingest/internal/assets"
	"github.com/fpang/media-ingest/internal/auth"
	"github.com/fpang/media-ingest/internal/chat"
	"github.com/fpang/media-ingest/internal/config"
	"github.com/fpang/media-ingest/internal/ingest"
	"github.com/fpang/media-ingest/internal/instagram"
	"github.com/fpang/media-ingest/internal/logging"
	"github.com/fpang/media-ingest/internal/rag"
	"github.com/fpang/media-ingest/internal/store"
)

// AWSClients holds the AWS config and the SSM client used during init.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config.
func InitAWS(ctx context.Context) (*AWSClients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return &AWSClients{Config: cfg, SSM: ssm.NewFromConfig(cfg)}, nil
}

// secretParam names an SSM parameter holding a secret config value.
type secretParam struct {
	label     string
	paramEnv  string
	defaultAt string
	target    *string
}

// LoadSecrets fills empty secret fields of cfg from SSM SecureString
// parameters. Each parameter path can be overridden by an environment
// variable. Missing parameters are logged and left empty; cfg.Validate and
// the provider constructors report what is actually required.
func LoadSecrets(ctx context.Context, client *ssm.Client, cfg *config.Config, startup *logging.StartupLogger) {
	params := []secretParam{
		{"gemini", "SSM_GEMINI_KEY_PARAM", "/media-ingest/prod/gemini-api-key", &cfg.GeminiAPIKey},
		{"openai", "SSM_OPENAI_KEY_PARAM", "/media-ingest/prod/openai-api-key", &cfg.OpenAIAPIKey},
		{"instagramAppSecret", "SSM_INSTAGRAM_SECRET_PARAM", "/media-ingest/prod/instagram-app-secret", &cfg.InstagramAppSecret},
		{"webhookVerifyToken", "SSM_WEBHOOK_VERIFY_TOKEN_PARAM", "/media-ingest/prod/webhook-verify-token", &cfg.WebhookVerifyToken},
	}
	for _, p := range params {
		if *p.target != "" {
			continue
		}
		name := envOrDefault(p.paramEnv, p.defaultAt)
		start := time.Now()
		out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(name),
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			log.Debug().Err(err).Str("param", name).Msg("Secret not loaded from SSM")
			continue
		}
		*p.target = aws.ToString(out.Parameter.Value)
		if startup != nil {
			startup.SSMParam(p.label, name)
		}
		log.Debug().Str("param", name).Dur("elapsed", time.Since(start)).Msg("Secret loaded from SSM")
	}
}

func envOrDefault(envVar, defaultVal string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return defaultVal
}

// App is a fully wired ingestion service plus what the binaries need around it.
type App struct {
	Config      config.Config
	Service     *ingest.Service
	Repo        store.Repository
	Ledger      store.RunLedger
	Credentials auth.Store
	Instagram   *instagram.Client
	close       func() error
}

// Close releases the repository.
func (a *App) Close() error {
	if a.close == nil {
		return nil
	}
	return a.close()
}

// Build wires an App from cfg. clients may be nil for local runs; AWS-backed
// components (Aurora, SSM credentials, DynamoDB ledger, EventBridge, Titan)
// then cannot be selected.
func Build(ctx context.Context, cfg config.Config, clients *AWSClients, startup *logging.StartupLogger) (*App, error) {
	if startup == nil {
		startup = logging.NewStartupLogger("media-ingest")
	}
	app := &App{Config: cfg, Instagram: instagram.NewClient(cfg.PageSize)}

	repo, closeRepo, err := BuildRepository(cfg, clients)
	if err != nil {
		return nil, err
	}
	app.Repo, app.close = repo, closeRepo
	startup.Config("backend", cfg.Backend)

	describer, err := BuildDescriber(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	startup.Provider("describe", cfg.DescribeProvider, chat.ModelName(cfg.DescribeProvider, cfg.DescribeModel))

	embedder, err := BuildEmbedder(cfg, clients)
	if err != nil {
		app.Close()
		return nil, err
	}
	startup.Provider("embed", cfg.EmbedProvider, cfg.EmbedModel)

	imagePrompt, err := assets.LoadPrompt(cfg.ImagePromptPath, assets.DescribeImagePrompt)
	if err != nil {
		app.Close()
		return nil, err
	}
	albumPrompt, err := assets.LoadPrompt(cfg.AlbumPromptPath, assets.DescribeAlbumPrompt)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Credentials = auth.NewMemoryStore()
	var opts []ingest.Option
	if clients != nil {
		app.Credentials = auth.NewSSMStore(clients.SSM, cfg.CredentialPrefix)
		startup.SSMParam("credentials", cfg.CredentialPrefix)
		opts = append(opts, ingest.WithMetrics(cfg.MetricsNamespace))

		if cfg.RunTable != "" {
			app.Ledger = store.NewDynamoRunLedger(dynamodb.NewFromConfig(clients.Config), cfg.RunTable)
			opts = append(opts, ingest.WithLedger(app.Ledger, cfg.LeaseTTL))
			startup.Table("runs", cfg.RunTable)
		}
		if cfg.EventBus != "" {
			opts = append(opts, ingest.WithEvents(rag.NewEventPublisher(eventbridge.NewFromConfig(clients.Config), cfg.EventBus)))
			startup.Config("eventBus", cfg.EventBus)
		}
	}
	startup.Feature("ledger", app.Ledger != nil).Feature("events", cfg.EventBus != "" && clients != nil)

	deps := ingest.Deps{
		API:         app.Instagram,
		Credentials: app.Credentials,
		Repo:        repo,
		Describer:   describer,
		ImagePrompt: imagePrompt,
		AlbumPrompt: albumPrompt,
		Enricher:    ingest.NewEnricher(repo, embedder, cfg.EnrichLimit),
		Config:      cfg,
	}
	app.Service = ingest.NewService(deps, opts...)
	return app, nil
}

// BuildRepository opens the configured media repository. The returned close
// function is never nil.
func BuildRepository(cfg config.Config, clients *AWSClients) (store.Repository, func() error, error) {
	switch cfg.Backend {
	case config.BackendAurora:
		if clients == nil {
			return nil, nil, fmt.Errorf("aurora backend requires AWS credentials")
		}
		repo := store.NewAuroraRepository(rdsdata.NewFromConfig(clients.Config), cfg.AuroraCluster, cfg.AuroraSecretARN, cfg.AuroraDatabase)
		return repo, func() error { return nil }, nil
	default:
		repo, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	}
}

// BuildDescriber creates the configured describer wrapped in a
// GuardedDescriber. Provider "none" returns nil, which stores items without
// descriptions.
func BuildDescriber(ctx context.Context, cfg config.Config) (chat.Describer, error) {
	model := chat.ModelName(cfg.DescribeProvider, cfg.DescribeModel)
	var inner chat.Describer
	switch cfg.DescribeProvider {
	case config.ProviderNone:
		log.Warn().Msg("Description provider disabled, items are stored without descriptions")
		return nil, nil
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for DESCRIBE_PROVIDER=openai")
		}
		inner = chat.NewOpenAIDescriber(cfg.OpenAIAPIKey, model)
	default:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for DESCRIBE_PROVIDER=gemini")
		}
		client, err := chat.NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		inner = chat.NewGeminiDescriber(client, model)
	}
	return chat.NewGuardedDescriber(inner, chat.GuardConfig{
		Name:             cfg.DescribeProvider + "-describer",
		CallTimeout:      cfg.CallTimeout,
		RatePerSecond:    cfg.DescribeRPS,
		Burst:            cfg.DescribeBurst,
		FailureThreshold: cfg.BreakerFailures,
		OpenTimeout:      cfg.BreakerOpenPeriod,
	}), nil
}

// BuildEmbedder creates the configured embedder, or nil for provider "none".
func BuildEmbedder(cfg config.Config, clients *AWSClients) (rag.Embedder, error) {
	switch cfg.EmbedProvider {
	case config.ProviderNone:
		return nil, nil
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for EMBED_PROVIDER=openai")
		}
		return rag.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbedModel), nil
	default:
		if clients == nil {
			log.Warn().Msg("No AWS credentials, Titan embeddings disabled")
			return nil, nil
		}
		return rag.NewTitanEmbedder(bedrockruntime.NewFromConfig(clients.Config), cfg.EmbedModel, cfg.EmbedDimensions), nil
	}
}
