package main

import (
	"context"

	"fitness-messaging/internal/cli"
	"fitness-messaging/internal/config"
	"fitness-messaging/internal/observability"
)

func main() {
	logger := observability.GetLogger()

	cli.Execute(func(ctx context.Context, withArchive bool) (*cli.Env, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		observability.InitLogger(cfg.Logging.Level, cfg.Logging.JSON)
		return cli.BrokerOpener(cfg, logger)(ctx, withArchive)
	})
}
