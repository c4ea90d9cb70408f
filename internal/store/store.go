// Package store is the hub's sole owner of durable state: job and worker
// records, the two pending-job queues, worker membership sets, and the
// pub/sub channels the Notification Bus rides on. It is a thin, literal
// mapping onto Redis rather than a repository abstraction — callers reach
// for ZADD/LPUSH/SADD semantics directly because the spec's queueing and
// claim invariants are defined in those terms.
package store

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/gpuhub/internal/logger"
)

type Store struct {
	log *logger.Logger
	rdb *goredis.Client
}

type Options struct {
	Addr     string
	Password string
	DB       int
}

func New(log *logger.Logger, opts Options) (*Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if opts.Addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Store{
		log: log.With("component", "Store"),
		rdb: rdb,
	}, nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// Ping is used by the health endpoint to verify the backing store is live.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.rdb == nil {
		return fmt.Errorf("store not initialized")
	}
	return s.rdb.Ping(ctx).Err()
}

// Client exposes the raw redis client for a caller that needs it directly
// rather than through a Store method; Subscribe does not go through it.
func (s *Store) Client() *goredis.Client { return s.rdb }
