package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"

	"intake-agent/handler"
	"intake-agent/internal/app"
	"intake-agent/internal/config"
	logx "intake-agent/pkg/logger"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to load configuration")
	}
	logx.Init(cfg.LoggerOpts())

	// ---- Service graph ----
	a, err := app.Build(ctx, cfg)
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to build application")
	}

	// ---- Handler ----
	h, err := handler.NewHandler(a.Router)
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to create handler")
	}

	lambda.Start(h.Handle)
}
