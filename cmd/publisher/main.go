package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fitness-messaging/internal/config"
	"fitness-messaging/internal/observability"
	"fitness-messaging/internal/rabbitmq"
	"fitness-messaging/pkg/queues"
)

func main() {
	queue := flag.String("queue", "", "registered queue name")
	payload := flag.String("payload", "", "JSON payload, or - to read stdin")
	attempts := flag.Int("attempts", 5, "publish attempts on channel errors")
	flag.Parse()

	logger := observability.GetLogger()
	if *queue == "" || *payload == "" {
		flag.Usage()
		fmt.Fprintf(os.Stderr, "\nqueues: %v\n", queues.Names())
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	observability.InitLogger(cfg.Logging.Level, cfg.Logging.JSON)

	body := []byte(*payload)
	if *payload == "-" {
		if body, err = io.ReadAll(os.Stdin); err != nil {
			logger.WithError(err).Fatal("Failed to read payload")
		}
	}

	entry, err := queues.Lookup(*queue)
	if err != nil {
		logger.WithError(err).Fatal("Unknown queue")
	}
	value, err := entry.DecodeAny(body)
	if err != nil {
		logger.WithError(err).Fatal("Invalid payload")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := rabbitmq.NewManager(cfg.RabbitMQ.URL, rabbitmq.WithLogger(logger))
	if _, err := manager.Initialize(); err != nil {
		logger.WithError(err).Fatal("Failed to connect")
	}
	defer manager.CloseGracefully(5 * time.Second)

	topology := rabbitmq.NewTopology(manager, cfg.RabbitMQ.RetryDelay, logger)
	publisher := rabbitmq.NewPublisher(manager, topology, rabbitmq.PublisherConfig{
		AppID:  cfg.ServiceName,
		Logger: logger,
	})

	policy := rabbitmq.DefaultRetryPolicy()
	policy.MaxAttempts = *attempts
	err = rabbitmq.PublishWithRetry(ctx, policy, logger, func(ctx context.Context) error {
		return publisher.Publish(ctx, *queue, value)
	})
	if err != nil {
		logger.WithError(err).Error("Publish failed")
		manager.Close()
		os.Exit(1)
	}
	logger.WithField("queue", *queue).Info("Message published")
}
