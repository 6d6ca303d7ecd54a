// Package jobstore persists background report jobs. Every backend offers the
// same optimistic-concurrency contract: Update re-reads, mutates and writes
// back only if nobody else wrote in between, retrying a bounded number of
// times.
package jobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scizoninc/scizonai/config"
	"github.com/scizoninc/scizonai/internal/apperr"
	"github.com/scizoninc/scizonai/internal/models"
	"github.com/scizoninc/scizonai/pkg/logger"
)

const maxUpdateRetries = 8

var (
	ErrConflict = errors.New("job was modified concurrently")
	ErrExists   = errors.New("job already exists")
)

// MutateFunc edits a job in place. Returning an error aborts the update.
type MutateFunc func(job *models.Job) error

type Store interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	// Update applies mutate to the latest version of the job and persists it,
	// returning the stored result.
	Update(ctx context.Context, id string, mutate MutateFunc) (*models.Job, error)
	// Expire drops jobs created before cutoff and returns how many were removed.
	Expire(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// Open 根据配置创建任务存储
func Open(ctx context.Context, cfg config.JobsConfig, redisCfg config.RedisConfig, log logger.Logger) (Store, error) {
	switch strings.ToLower(cfg.Store) {
	case "", "memory":
		log.Warn("Using in-memory job store: jobs are lost on restart and not shared between instances")
		return NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return NewRedisStore(client, cfg.Retention()), nil
	case "mysql", "sqlite", "sqlite3":
		return OpenSQL(ctx, cfg.Store, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported job store: %s", cfg.Store)
	}
}

// mutateVersioned runs mutate on a copy of job and bumps its version.
func mutateVersioned(job *models.Job, mutate MutateFunc) (*models.Job, error) {
	next := job.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID = job.ID
	next.CreatedAt = job.CreatedAt
	next.Version = job.Version + 1
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}

func notFound(id string) error {
	return apperr.Wrap(apperr.KindJobNotFound, apperr.ErrJobNotFound.Message, fmt.Errorf("job %s", id))
}
