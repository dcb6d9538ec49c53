package main

import (
	"context"
	"os"

	awslambda "github.com/aws/aws-lambda-go/lambda"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-pipeline/internal/adapter"
	"github.com/aliskhannn/image-pipeline/internal/config"
	"github.com/aliskhannn/image-pipeline/internal/lambda"
	"github.com/aliskhannn/image-pipeline/internal/storage"
)

func main() {
	zlog.Init()

	// Functions are usually configured through the environment only.
	cfg := config.MustLoad(os.Getenv("CONFIG_PATH"))
	if os.Getenv("STORAGE_BACKEND") == "" {
		cfg.Storage.Backend = "s3"
	}

	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	st, err := storage.New(context.Background(), cfg.Storage, strategy)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to initialize storage")
	}

	defaults, err := adapter.DefaultsFromConfig(cfg.Pipeline, os.Getenv("AWS_LAMBDA_FUNCTION_NAME"))
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("invalid pipeline defaults")
	}

	zlog.Logger.Info().
		Str("operation", string(defaults.Operation)).
		Str("backend", cfg.Storage.Backend).
		Msg("stage starting")

	awslambda.Start(lambda.NewHandler(adapter.New(st, defaults)).Invoke)
}
