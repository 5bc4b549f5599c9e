package contentflow

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/contentflow/internal/config"
	"github.com/petrijr/contentflow/internal/db"
	"github.com/petrijr/contentflow/internal/persistence"
	"github.com/petrijr/contentflow/internal/taskqueue"
)

// NewSQLiteBundle builds a System whose stores and trigger queue share
// the provided SQLite database. The schema must already be migrated; db.Open
// does that.
//
// Typical usage:
//
//	conn, _ := db.Open(ctx, "contentflow.db")
//	sys, err := contentflow.NewSQLiteBundle(ctx, conn, contentflow.Options{})
//	_ = sys.Start(ctx)
//	go sys.Worker.Run(ctx, 2)
func NewSQLiteBundle(ctx context.Context, conn *sql.DB, opts Options) (*System, error) {
	p := persistence.NewSQLitePersistence(persistence.NewSQLiteStore(conn))
	opts.Persistence = &p
	opts.Triggers = taskqueue.NewSQLiteQueue(conn, clockOption(opts)...)
	return NewSystem(ctx, opts)
}

// NewRedisBundle builds a System that keeps templates, instances and
// content in SQLite while runs and triggers live in Redis under prefix.
func NewRedisBundle(ctx context.Context, conn *sql.DB, client *redis.Client, prefix string, opts Options) (*System, error) {
	p := persistence.NewSQLitePersistence(persistence.NewSQLiteStore(conn))
	p.Runs = persistence.NewRedisRunStore(client, prefix)
	opts.Persistence = &p
	opts.Triggers = taskqueue.NewRedisQueue(client, prefix, clockOption(opts)...)
	return NewSystem(ctx, opts)
}

func clockOption(opts Options) []taskqueue.Option {
	if opts.Clock == nil {
		return nil
	}
	return []taskqueue.Option{taskqueue.WithClock(opts.Clock)}
}

// Open builds a System from configuration. It opens the SQLite database
// and, when a Redis backend is selected, the Redis client; System.Close
// releases both.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*System, error) {
	conn, err := db.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	opts := Options{
		ArchiveURL:          cfg.ArchiveURL,
		Intervals:           cfg.IntervalSeconds(),
		JobTimeout:          cfg.Engine.JobTimeout,
		ProblemThreshold:    cfg.Engine.ProblemThreshold,
		DedupMinTopicLength: cfg.Engine.DedupMinTopicLength,
		WebhookTimeout:      cfg.Webhook.Timeout,
		WebhookURL:          cfg.Webhook.URL,
		Logger:              logger,
	}
	poll := taskqueue.WithPollInterval(cfg.Engine.PollInterval)

	p := persistence.NewSQLitePersistence(persistence.NewSQLiteStore(conn))
	closers := []func() error{conn.Close}

	var client *redis.Client
	if cfg.QueueBackend == config.QueueBackendRedis || cfg.RunStore == config.RunStoreRedis {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			_ = conn.Close()
			return nil, err
		}
		closers = append(closers, client.Close)
	}
	if cfg.RunStore == config.RunStoreRedis {
		p.Runs = persistence.NewRedisRunStore(client, cfg.Redis.Prefix)
	}
	opts.Persistence = &p

	switch cfg.QueueBackend {
	case config.QueueBackendMemory:
		opts.Triggers = taskqueue.NewInMemoryQueue(poll)
	case config.QueueBackendRedis:
		opts.Triggers = taskqueue.NewRedisQueue(client, cfg.Redis.Prefix, poll)
	default:
		opts.Triggers = taskqueue.NewSQLiteQueue(conn, poll)
	}

	sys, err := NewSystem(ctx, opts)
	if err != nil {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}
	sys.closers = closers
	return sys, nil
}
