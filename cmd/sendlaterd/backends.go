package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rbaliyan/sendlater/conversation"
	"github.com/rbaliyan/sendlater/deadletter"
	"github.com/rbaliyan/sendlater/delivery"
	"github.com/rbaliyan/sendlater/guard"
	"github.com/rbaliyan/sendlater/scheduled"
	"github.com/rbaliyan/sendlater/trigger"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// backends holds the lazily opened clients shared by the stores.
type backends struct {
	cfg *Config
	cl  *closers

	rdb   *redis.Client
	mongo *mongo.Database
	pg    *sql.DB
	fs    *firestore.Client
}

func openBackends(ctx context.Context, cfg *Config, cl *closers) (*backends, error) {
	b := &backends{cfg: cfg, cl: cl}

	if cfg.needsRedis() {
		b.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cl.add("redis", b.rdb.Close)
		if err := b.rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}

	if cfg.uses("mongo") {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, fmt.Errorf("mongo connect: %w", err)
		}
		cl.add("mongo", func() error { return client.Disconnect(context.Background()) })
		b.mongo = client.Database(cfg.Mongo.Database)
	}

	if cfg.uses("postgres") {
		db, err := sql.Open("pgx", cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres open: %w", err)
		}
		cl.add("postgres", db.Close)
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		b.pg = db
	}

	if cfg.uses("firestore") {
		client, err := firestore.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("firestore client: %w", err)
		}
		cl.add("firestore", client.Close)
		b.fs = client
	}

	return b, nil
}

func (b *backends) scheduledStore(ctx context.Context) (scheduled.Store, error) {
	switch b.cfg.Stores.Scheduled {
	case "redis":
		return scheduled.NewRedisStore(b.rdb).WithKeyPrefix(b.cfg.Redis.Prefix), nil
	case "mongo":
		s := scheduled.NewMongoStore(b.mongo)
		if err := s.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("scheduled indexes: %w", err)
		}
		return s, nil
	case "postgres":
		s := scheduled.NewPostgresStore(b.pg)
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("scheduled schema: %w", err)
		}
		return s, nil
	case "firestore":
		return scheduled.NewFirestoreStore(b.fs), nil
	default:
		return scheduled.NewMemoryStore(), nil
	}
}

func (b *backends) conversationStore(ctx context.Context) (conversation.Store, error) {
	switch b.cfg.Stores.Conversations {
	case "mongo":
		s := conversation.NewMongoStore(b.mongo)
		if err := s.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("conversation indexes: %w", err)
		}
		return s, nil
	case "postgres":
		s := conversation.NewPostgresStore(b.pg)
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("conversation schema: %w", err)
		}
		return s, nil
	case "firestore":
		return conversation.NewFirestoreStore(b.fs), nil
	default:
		return conversation.NewMemoryStore(), nil
	}
}

func (b *backends) guard() guard.Guard {
	if b.cfg.Guard.Kind == "redis" {
		return guard.NewRedis(b.rdb, b.cfg.Guard.TTL).WithPrefix(b.cfg.Redis.Prefix + "inflight:")
	}
	return guard.NewMemory()
}

// deadLetters returns a Redis store when a client is open, memory otherwise.
func (b *backends) deadLetters() deadletter.Store {
	if b.rdb != nil {
		return deadletter.NewRedisStore(b.rdb).WithKeyPrefix(b.cfg.Redis.Prefix + "dead:")
	}
	return deadletter.NewMemoryStore()
}

// attempts keeps dead-letter failure counts next to the dead letters.
func (b *backends) attempts() delivery.AttemptCounter {
	if b.rdb != nil {
		return delivery.NewRedisAttempts(b.rdb, 24*time.Hour).WithPrefix(b.cfg.Redis.Prefix + "attempts:")
	}
	return delivery.NewMemoryAttempts()
}

func (b *backends) stateStore() trigger.StateStore {
	if b.cfg.Trigger.State == "redis" {
		return trigger.NewRedisStateStore(b.rdb).WithPrefix(b.cfg.Redis.Prefix + "trigger:")
	}
	return trigger.NewMemoryStateStore()
}
