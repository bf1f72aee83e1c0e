// Package main provides a Lambda entry point for the Instagram webhook
// behind API Gateway:
//   - GET /webhook answers the Meta verification handshake
//   - POST /webhook validates the HMAC-SHA256 signature and asynchronously
//     invokes the ingest function once per notified account
//
// This function only needs SSM (verify token, app secret) and
// lambda:InvokeFunction on the ingest function.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-ingest/internal/config"
	"github.com/fpang/media-ingest/internal/lambdaboot"
	"github.com/fpang/media-ingest/internal/logging"
	"github.com/fpang/media-ingest/internal/webhook"
)

func boot() *webhook.Handler {
	initStart := time.Now()
	logging.InitJSON(os.Stdout)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	startup := logging.NewStartupLogger("webhook-lambda")
	clients, err := lambdaboot.InitAWS(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize AWS clients")
	}
	lambdaboot.LoadSecrets(ctx, clients.SSM, &cfg, startup)
	if cfg.WebhookVerifyToken == "" || cfg.InstagramAppSecret == "" {
		log.Fatal().Msg("WEBHOOK_VERIFY_TOKEN and INSTAGRAM_APP_SECRET are required")
	}

	var trigger webhook.Trigger
	if cfg.IngestFunction != "" {
		trigger = webhook.NewLambdaTrigger(awslambda.NewFromConfig(clients.Config), cfg.IngestFunction)
	} else {
		log.Warn().Msg("INGEST_FUNCTION_NAME not set, webhook events are only logged")
	}
	startup.
		Feature("trigger", trigger != nil).
		Config("ingestFunction", cfg.IngestFunction).
		InitDuration(time.Since(initStart)).
		Log()

	return webhook.NewHandler(cfg.WebhookVerifyToken, cfg.InstagramAppSecret, trigger)
}

func main() {
	mux := http.NewServeMux()
	mux.Handle("/webhook", boot())

	adapter := httpadapter.NewV2(mux)
	lambda.Start(adapter.ProxyWithContext)
}
