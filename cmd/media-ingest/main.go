package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/media-ingest/internal/auth"
	"github.com/fpang/media-ingest/internal/cli"
	"github.com/fpang/media-ingest/internal/config"
	"github.com/fpang/media-ingest/internal/ingest"
	"github.com/fpang/media-ingest/internal/lambdaboot"
	"github.com/fpang/media-ingest/internal/logging"
	"github.com/fpang/media-ingest/internal/media"
)

// CLI flags
var (
	userFlag     string
	authCodeFlag string
	tokenFlag    string
	dbFlag       string
	awsFlag      bool
	typeFlag     string
	limitFlag    int
)

var rootCmd = &cobra.Command{
	Use:   "media-ingest",
	Short: "Incremental Instagram media ingestion with AI descriptions",
	Long: `media-ingest pulls a user's Instagram feed, keeps only what is newer than the
most recent stored item, describes images and albums with a vision model,
stores everything idempotently and computes embeddings for new descriptions.

Configuration comes from the environment (DESCRIBE_PROVIDER, GEMINI_API_KEY,
REPOSITORY_BACKEND, ...). Flags override the storage location and supply
credentials for local runs.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest new media for a user",
	Example: `  media-ingest run --user 17841400000 --token IGQ...
  media-ingest run --user 17841400000 --auth-code AQB...
  media-ingest run --aws --user 17841400000   # SSM credentials, DynamoDB lease`,
	RunE: runIngest,
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List stored media for a user, newest first",
	RunE:  runRecent,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "Instagram user id (resolved from --token or prompted if empty)")
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "SQLite database path (overrides SQLITE_PATH)")
	rootCmd.PersistentFlags().BoolVar(&awsFlag, "aws", false, "Use AWS-backed credentials, ledger, events and metrics")

	runCmd.Flags().StringVar(&authCodeFlag, "auth-code", "", "OAuth authorization code to exchange before the run")
	runCmd.Flags().StringVar(&tokenFlag, "token", os.Getenv("INSTAGRAM_ACCESS_TOKEN"), "Long-lived Instagram access token")

	recentCmd.Flags().StringVarP(&typeFlag, "type", "t", "", "Media type filter: IMAGE, VIDEO or CAROUSEL_ALBUM")
	recentCmd.Flags().IntVarP(&limitFlag, "limit", "n", 20, "Number of items to list")

	rootCmd.AddCommand(runCmd, recentCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildApp loads config, applies flag overrides and wires the service.
func buildApp(ctx context.Context, name string) (*lambdaboot.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if dbFlag != "" {
		cfg.SQLitePath = dbFlag
	}
	if cfg.Backend == config.BackendSQLite {
		if cfg.SQLitePath, err = cli.ResolveDBPath(cfg.SQLitePath); err != nil {
			return nil, err
		}
	}

	startup := logging.NewStartupLogger(name)
	var clients *lambdaboot.AWSClients
	if awsFlag {
		if clients, err = lambdaboot.InitAWS(ctx); err != nil {
			return nil, err
		}
		lambdaboot.LoadSecrets(ctx, clients.SSM, &cfg, startup)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	app, err := lambdaboot.Build(ctx, cfg, clients, startup)
	if err != nil {
		return nil, err
	}
	startup.Config("sqlitePath", cfg.SQLitePath).Log()
	log.Debug().Str("backend", cfg.Backend).Bool("aws", awsFlag).Msg("CLI wired")
	return app, nil
}

func resolveUser() string {
	if userFlag != "" {
		return userFlag
	}
	return cli.PromptForValue(os.Stdin, os.Stdout, "Instagram user id", "")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	app, err := buildApp(ctx, "media-ingest")
	if err != nil {
		return err
	}
	defer app.Close()

	userID := userFlag
	if userID == "" && tokenFlag != "" && authCodeFlag == "" {
		profile, err := app.Instagram.GetProfile(ctx, tokenFlag)
		if err != nil {
			return fmt.Errorf("resolve account from token: %w", err)
		}
		log.Info().Str("userId", profile.ID).Str("username", profile.Username).Int("mediaCount", profile.MediaCount).Msg("Resolved Instagram account")
		userID = profile.ID
	}
	if userID == "" {
		userID = resolveUser()
	}
	if userID == "" {
		return fmt.Errorf("a user id is required")
	}

	if tokenFlag != "" && authCodeFlag == "" {
		// Local runs have no persisted credential; seed one valid for the
		// long-lived token lifetime.
		err := app.Credentials.Put(ctx, userID, &auth.Credential{
			AccessToken: tokenFlag,
			ExpiresAt:   time.Now().Add(60 * 24 * time.Hour),
			UpdatedAt:   time.Now(),
		})
		if err != nil {
			return fmt.Errorf("store token: %w", err)
		}
	}

	res := app.Service.Run(ctx, userID, authCodeFlag)
	cli.PrintResult(cmd.OutOrStdout(), res)
	if res.Status == ingest.StatusFailed {
		if hint := cli.Hint(res.Err); hint != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), hint)
		}
		return fmt.Errorf("ingestion failed in state %s", res.State)
	}
	return nil
}

func runRecent(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mediaType, err := media.ParseType(typeFlag)
	if err != nil {
		return err
	}

	app, err := buildApp(ctx, "media-ingest")
	if err != nil {
		return err
	}
	defer app.Close()

	userID := resolveUser()
	if userID == "" {
		return fmt.Errorf("a user id is required")
	}
	items, err := app.Repo.GetRecent(ctx, userID, limitFlag, mediaType)
	if err != nil {
		return fmt.Errorf("list recent media: %w", err)
	}
	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No stored media for this user.")
		return nil
	}
	return cli.PrintItems(cmd.OutOrStdout(), items)
}
