package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stickerlandia/printq/commands"
	"github.com/stickerlandia/printq/config"
	"github.com/stickerlandia/printq/emitter"
	"github.com/stickerlandia/printq/emitter/breaker"
	kafkaemitter "github.com/stickerlandia/printq/emitter/kafka"
	"github.com/stickerlandia/printq/emitter/pubsub"
	redisemitter "github.com/stickerlandia/printq/emitter/redis"
	"github.com/stickerlandia/printq/logger"
	zrlg "github.com/stickerlandia/printq/logger/zerolog"
	"github.com/stickerlandia/printq/outbox"
	"github.com/stickerlandia/printq/queue"
	"github.com/stickerlandia/printq/registry"
	"github.com/stickerlandia/printq/store"
	"github.com/stickerlandia/printq/store/dynamodb"
	gormstore "github.com/stickerlandia/printq/store/gorm"
	"github.com/stickerlandia/printq/store/pgxv5"
	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var errUnknownDriver = errors.New("unknown driver")

// app owns the process-wide dependencies built from the configuration.
type app struct {
	cfg     *config.Config
	logger  *zrlg.Logger
	store   store.Store
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: newLogger(cfg),
	}
	s, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if l, ok := s.(logger.Loggable); ok {
		l.SetLogger(a.logger.With("store"))
	}
	a.store = s
	return a, nil
}

func newLogger(cfg *config.Config) *zrlg.Logger {
	return zrlg.New(os.Stderr, cfg.LogLevel)
}

func (a *app) openStore(ctx context.Context) (store.Store, error) {
	switch a.cfg.StoreDriver {
	case "dynamodb":
		client, err := dynamodb.NewClient(ctx, dynamodb.ClientSettings{
			Region:   a.cfg.AWSRegion,
			Endpoint: a.cfg.AWSEndpoint,
		})
		if err != nil {
			return nil, err
		}
		return dynamodb.New(client), nil
	case "postgres":
		pool, err := pgxpool.New(ctx, a.cfg.DBConnectionString)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		a.onClose(func() error {
			pool.Close()
			return nil
		})
		return pgxv5.New(pool), nil
	case "gorm":
		db, err := gorm.Open(gormpg.Open(a.cfg.DBConnectionString), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		a.onClose(sqlDB.Close)
		return gormstore.New(db), nil
	default:
		return nil, fmt.Errorf("%w: store %q", errUnknownDriver, a.cfg.StoreDriver)
	}
}

func (a *app) onClose(f func() error) {
	a.closers = append(a.closers, f)
}

// Close releases the resources in reverse acquisition order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("closing resource", err)
		}
	}
}

func (a *app) registry() *registry.Registry {
	return registry.New(a.store, a.cfg.PrinterTableName,
		registry.WithLogger(a.logger.With("registry")),
		registry.WithOnlineWindow(a.cfg.PrinterOnlineWindow),
	)
}

func (a *app) outbox() *outbox.Outbox {
	o := outbox.New(a.store, a.cfg.PrinterTableName, a.cfg.PrintJobTableName)
	o.SetLogger(a.logger.With("outbox"))
	return o
}

func (a *app) handlers() *commands.Handlers {
	q := queue.New(a.store, a.cfg.PrintJobTableName, queue.WithLogger(a.logger.With("queue")))
	return commands.New(a.store, a.registry(), q, a.outbox(), commands.WithLogger(a.logger.With("commands")))
}

// publisher builds the event publisher of the configured transport.
func (a *app) publisher(ctx context.Context) (*emitter.Publisher, error) {
	var e emitter.Emitter
	switch a.cfg.PublisherDriver {
	case "kafka":
		p, err := kafka.NewProducer(&kafka.ConfigMap{
			"bootstrap.servers":  a.cfg.KafkaBootstrapServers,
			"linger.ms":          50,
			"compression.type":   "lz4",
			"acks":               -1,
			"enable.idempotence": true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create producer: %w", err)
		}
		a.onClose(func() error {
			p.Flush(5000)
			p.Close()
			return nil
		})
		e = kafkaemitter.New(p, kafkaemitter.WithTopicPrefix(a.cfg.KafkaTopicPrefix))
	case "redis":
		c, err := redisemitter.NewClient(ctx, a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		a.onClose(c.Close)
		e = redisemitter.New(c)
	case "pubsub":
		t, err := pubsub.OpenTopic(ctx, a.cfg.PubSubTopicURL)
		if err != nil {
			return nil, err
		}
		a.onClose(func() error { return t.Shutdown(context.Background()) })
		e = pubsub.New(t)
	default:
		return nil, fmt.Errorf("%w: publisher %q", errUnknownDriver, a.cfg.PublisherDriver)
	}
	return emitter.NewPublisher(breaker.New(e, breaker.Settings{}), a.cfg.EventSource), nil
}
