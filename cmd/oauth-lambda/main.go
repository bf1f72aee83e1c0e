// Package main provides the Lambda entry point for connecting an Instagram
// account behind API Gateway:
//   - GET /oauth/connect?userId=ID redirects to the Instagram consent screen
//   - GET /oauth/callback?code=CODE&state=ID exchanges the code, stores the
//     long-lived token and runs the first ingestion for the user
//   - GET /oauth/callback?error=... reports that the user denied access
//   - POST /oauth/deauth (Meta deauthorize callback) drops the stored token
//   - POST /oauth/delete (Meta data deletion callback) drops the token and
//     all stored media, answering with a confirmation code
//   - GET /oauth/deletion?code=CODE is the deletion status page
package main

import (
	"context"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-ingest/internal/config"
	"github.com/fpang/media-ingest/internal/lambdaboot"
	"github.com/fpang/media-ingest/internal/logging"
)

func boot() *server {
	initStart := time.Now()
	logging.InitJSON(os.Stdout)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	startup := logging.NewStartupLogger("oauth-lambda")
	clients, err := lambdaboot.InitAWS(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize AWS clients")
	}
	lambdaboot.LoadSecrets(ctx, clients.SSM, &cfg, startup)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.InstagramAppID == "" || cfg.InstagramAppSecret == "" || cfg.InstagramRedirectURI == "" {
		log.Fatal().Msg("INSTAGRAM_APP_ID, INSTAGRAM_APP_SECRET and INSTAGRAM_REDIRECT_URI are required")
	}

	app, err := lambdaboot.Build(ctx, cfg, clients, startup)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire ingestion service")
	}
	startup.Config("redirectUri", cfg.InstagramRedirectURI).InitDuration(time.Since(initStart)).Log()

	return &server{
		svc:         app.Service,
		creds:       app.Credentials,
		media:       app.Repo,
		appID:       cfg.InstagramAppID,
		appSecret:   cfg.InstagramAppSecret,
		redirectURI: cfg.InstagramRedirectURI,
		deletionURL: deletionURL(cfg.InstagramRedirectURI),
	}
}

// deletionURL places the deletion status page next to the OAuth callback.
func deletionURL(redirectURI string) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		log.Fatal().Err(err).Str("redirectUri", redirectURI).Msg("Invalid INSTAGRAM_REDIRECT_URI")
	}
	u.Path, u.RawQuery = path.Join(path.Dir(u.Path), "deletion"), ""
	return u.String()
}

func main() {
	adapter := httpadapter.NewV2(boot().routes())
	lambda.Start(adapter.ProxyWithContext)
}
