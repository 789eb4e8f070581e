package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fitness-messaging/internal/config"
	"fitness-messaging/internal/observability"
	"fitness-messaging/internal/rabbitmq"
	"fitness-messaging/internal/service"
	"fitness-messaging/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.GetLogger().WithError(err).Fatal("Invalid configuration")
	}
	observability.InitLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger := observability.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Worker stopped")
	}
	logger.Info("Worker shut down")
}

// run returns nil after a signal-triggered shutdown. Any consumer error is
// fatal: the broker redelivers whatever was left unacked once we are gone.
func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	manager := rabbitmq.NewManager(cfg.RabbitMQ.URL, rabbitmq.WithLogger(logger))
	if _, err := manager.Initialize(); err != nil {
		return err
	}
	defer func() {
		if err := manager.CloseGracefully(5 * time.Second); err != nil {
			logger.WithError(err).Warn("RabbitMQ close failed")
		}
	}()

	client, db, err := store.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return err
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(disconnectCtx); err != nil {
			logger.WithError(err).Warn("MongoDB disconnect failed")
		}
	}()

	mongoStore := store.NewMongoStore(db)
	if err := mongoStore.EnsureIndexes(ctx); err != nil {
		return err
	}

	subs, err := service.Subscriptions(service.Repositories{
		Experts:  mongoStore,
		Bookings: mongoStore,
	}, cfg.Worker.Queues)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := observability.NewPrometheusMetrics("fitness", registry)
	if err != nil {
		return err
	}

	tag := cfg.RabbitMQ.ConsumerTag
	if tag == "" {
		tag = cfg.ServiceName
	}
	topology := rabbitmq.NewTopology(manager, cfg.RabbitMQ.RetryDelay, logger)
	consumer := rabbitmq.NewConsumer(manager, topology, rabbitmq.ConsumerConfig{
		PrefetchCount:  cfg.RabbitMQ.PrefetchCount,
		MaxRetries:     cfg.RabbitMQ.MaxRetries,
		HandlerTimeout: cfg.RabbitMQ.HandlerTimeout,
		ConsumerTag:    tag,
		Logger:         logger,
		Metrics:        metrics,
	})

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range service.SortedNames(subs) {
		sub := subs[name]
		g.Go(func() error {
			return sub(gctx, consumer)
		})
	}

	if cfg.Metrics.Addr != "" {
		handler := observability.NewHTTPHandler(registry, manager.HealthCheck)
		g.Go(func() error {
			return observability.ServeHTTP(gctx, cfg.Metrics.Addr, handler)
		})
	}

	logger.WithFields(logrus.Fields{
		"service": cfg.ServiceName,
		"queues":  service.SortedNames(subs),
		"metrics": cfg.Metrics.Addr,
	}).Info("Worker started")

	return g.Wait()
}
