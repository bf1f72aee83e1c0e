// Package main is the Lambda entry point for ingestion runs. It is invoked
// directly with {"userId": "...", "authCode": "..."} or by a scheduled
// EventBridge rule carrying the same fields in its detail.
package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-ingest/internal/config"
	"github.com/fpang/media-ingest/internal/lambdaboot"
	"github.com/fpang/media-ingest/internal/logging"
)

// boot wires the service once per cold start.
func boot() *lambdaboot.App {
	initStart := time.Now()
	logging.InitJSON(os.Stdout)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	startup := logging.NewStartupLogger("ingest-lambda")
	clients, err := lambdaboot.InitAWS(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize AWS clients")
	}
	lambdaboot.LoadSecrets(ctx, clients.SSM, &cfg, startup)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	app, err := lambdaboot.Build(ctx, cfg, clients, startup)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire ingestion service")
	}

	startup.
		Config("workers", strconv.Itoa(cfg.Workers)).
		Config("fetchCap", strconv.Itoa(cfg.FetchCap)).
		InitDuration(time.Since(initStart)).
		Log()
	return app
}

func main() {
	h := &handler{svc: boot().Service}
	lambda.Start(h.Handle)
}
