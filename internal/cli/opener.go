package cli

import (
	"context"
	"errors"
	"time"

	"fitness-messaging/internal/config"
	"fitness-messaging/internal/dlq"
	"fitness-messaging/internal/rabbitmq"
	"fitness-messaging/internal/store"

	"github.com/sirupsen/logrus"
)

// BrokerOpener connects with the process configuration: a RabbitMQ manager
// always, and MongoDB only for commands that archive.
func BrokerOpener(cfg *config.Config, logger *logrus.Logger) Opener {
	return func(ctx context.Context, withArchive bool) (*Env, error) {
		manager := rabbitmq.NewManager(cfg.RabbitMQ.URL, rabbitmq.WithLogger(logger))
		if _, err := manager.Initialize(); err != nil {
			return nil, err
		}

		topology := rabbitmq.NewTopology(manager, cfg.RabbitMQ.RetryDelay, logger)
		publisher := rabbitmq.NewPublisher(manager, topology, rabbitmq.PublisherConfig{
			AppID:  "dlqctl",
			Logger: logger,
		})

		closers := []func() error{func() error { return manager.CloseGracefully(5 * time.Second) }}

		var archive store.DeadLetterStore
		if withArchive {
			client, db, err := store.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
			if err != nil {
				_ = manager.Close()
				return nil, err
			}
			mongoStore := store.NewMongoStore(db)
			if err := mongoStore.EnsureIndexes(ctx); err != nil {
				logger.WithError(err).Warn("Failed to ensure archive indexes")
			}
			archive = mongoStore
			closers = append(closers, func() error { return client.Disconnect(context.Background()) })
		}

		return &Env{
			DLQ: dlq.NewManager(manager, topology, publisher, archive, logger),
			Close: func() error {
				var errs []error
				for i := len(closers) - 1; i >= 0; i-- {
					errs = append(errs, closers[i]())
				}
				return errors.Join(errs...)
			},
		}, nil
	}
}
