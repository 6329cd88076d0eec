// Package cache provides a read-through cache for template definitions.
// Templates are immutable once created, so cached copies never go stale in a
// way that affects run correctness; invalidation only matters when a template
// is deactivated or deleted.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rouhapp/coordination/pkg/models"
)

// TemplateCache caches template aggregates by ID.
type TemplateCache interface {
	Get(ctx context.Context, id string) (*models.Template, error)
	Set(ctx context.Context, template *models.Template) error
	Invalidate(ctx context.Context, id string) error
}

const defaultTTL = 15 * time.Minute

// RedisTemplateCache stores JSON-encoded templates in Redis.
type RedisTemplateCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTemplateCache creates a cache over the given Redis client.
func NewRedisTemplateCache(client *redis.Client) *RedisTemplateCache {
	return &RedisTemplateCache{client: client, ttl: defaultTTL}
}

func templateKey(id string) string {
	return "coordination:template:" + id
}

// Get returns the cached template, or nil on a miss.
func (c *RedisTemplateCache) Get(ctx context.Context, id string) (*models.Template, error) {
	payload, err := c.client.Get(ctx, templateKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read template from cache: %w", err)
	}

	var template models.Template
	if err := json.Unmarshal(payload, &template); err != nil {
		return nil, fmt.Errorf("failed to decode cached template: %w", err)
	}

	return &template, nil
}

func (c *RedisTemplateCache) Set(ctx context.Context, template *models.Template) error {
	payload, err := json.Marshal(template)
	if err != nil {
		return fmt.Errorf("failed to encode template for cache: %w", err)
	}

	err = c.client.Set(ctx, templateKey(template.ID), payload, c.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to write template to cache: %w", err)
	}

	return nil
}

func (c *RedisTemplateCache) Invalidate(ctx context.Context, id string) error {
	err := c.client.Del(ctx, templateKey(id)).Err()
	if err != nil {
		return fmt.Errorf("failed to invalidate cached template: %w", err)
	}

	return nil
}

// MemoryTemplateCache is a map-backed cache for tests and single-process setups.
type MemoryTemplateCache struct {
	mu        sync.RWMutex
	templates map[string]*models.Template
}

func NewMemoryTemplateCache() *MemoryTemplateCache {
	return &MemoryTemplateCache{templates: make(map[string]*models.Template)}
}

func (c *MemoryTemplateCache) Get(_ context.Context, id string) (*models.Template, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.templates[id], nil
}

func (c *MemoryTemplateCache) Set(_ context.Context, template *models.Template) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.templates[template.ID] = template

	return nil
}

func (c *MemoryTemplateCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.templates, id)

	return nil
}
