package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/identity/internal/domain"
	"github.com/utafrali/identity/internal/repository"
)

const projectKeyPrefix = "identity:project:"

// ProjectCache is a read-through cache in front of a ProjectRepository.
// Cache failures fall back to the wrapped repository.
type ProjectCache struct {
	next   repository.ProjectRepository
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

// NewProjectCache wraps next with a Redis cache holding entries for ttl.
func NewProjectCache(next repository.ProjectRepository, client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *ProjectCache {
	return &ProjectCache{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// GetByID returns the cached project or loads and caches it.
func (c *ProjectCache) GetByID(ctx context.Context, id int64) (*domain.Project, error) {
	key := projectKeyPrefix + strconv.FormatInt(id, 10)

	p, err := c.get(ctx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "project cache read failed",
			slog.Int64("project_id", id),
			slog.String("error", err.Error()),
		)
	}
	if p != nil {
		return p, nil
	}

	p, err = c.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := c.set(ctx, key, p); err != nil {
		c.logger.WarnContext(ctx, "project cache write failed",
			slog.Int64("project_id", id),
			slog.String("error", err.Error()),
		)
	}
	return p, nil
}

// Invalidate drops the cached entry for id.
func (c *ProjectCache) Invalidate(ctx context.Context, id int64) error {
	if err := c.client.Del(ctx, projectKeyPrefix+strconv.FormatInt(id, 10)).Err(); err != nil {
		return fmt.Errorf("redis del project: %w", err)
	}
	return nil
}

func (c *ProjectCache) get(ctx context.Context, key string) (*domain.Project, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get project: %w", err)
	}

	var p domain.Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal project: %w", err)
	}
	return &p, nil
}

func (c *ProjectCache) set(ctx context.Context, key string, p *domain.Project) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal project: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set project: %w", err)
	}
	return nil
}
