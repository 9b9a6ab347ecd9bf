package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-vape/internal/common"
)

const (
	productKeyPrefix = "catalog:product:"
	listKeyPrefix    = "catalog:list:"
)

// CachedStore serves products from Redis and falls back to the wrapped Reader on a miss.
// Cache failures degrade to direct reads.
type CachedStore struct {
	next   Reader
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewCachedStore wraps next with a Redis JSON cache. A nil client or non-positive TTL
// disables caching.
func NewCachedStore(next Reader, client *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedStore {
	return &CachedStore{next: next, client: client, ttl: ttl, log: log}
}

func (c *CachedStore) enabled() bool {
	return c.client != nil && c.ttl > 0
}

// GetByIDs resolves cached products in one MGET and loads the rest from the store.
func (c *CachedStore) GetByIDs(ctx context.Context, ids []string) (map[string]Product, error) {
	if !c.enabled() || len(ids) == 0 {
		return c.next.GetByIDs(ctx, ids)
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = productKeyPrefix + id
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.log.Warn().Err(err).Msg("catalog cache read failed")
		return c.next.GetByIDs(ctx, ids)
	}

	out := make(map[string]Product, len(ids))
	var missing []string
	for i, raw := range values {
		s, ok := raw.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var p Product
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			missing = append(missing, ids[i])
			continue
		}
		out[ids[i]] = p
	}
	if len(missing) == 0 {
		return out, nil
	}

	loaded, err := c.next.GetByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	pipe := c.client.Pipeline()
	for id, p := range loaded {
		out[id] = p
		data, err := json.Marshal(p)
		if err != nil {
			continue
		}
		pipe.Set(ctx, productKeyPrefix+id, data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn().Err(err).Msg("catalog cache write failed")
	}
	return out, nil
}

type cachedPage struct {
	Products []Product `json:"products"`
	Total    int       `json:"total"`
}

// List caches whole pages.
func (c *CachedStore) List(ctx context.Context, page common.Pagination) ([]Product, int, error) {
	if !c.enabled() {
		return c.next.List(ctx, page)
	}
	key := fmt.Sprintf("%s%d:%d", listKeyPrefix, page.Page, page.PerPage)
	var cached cachedPage
	if hit, err := c.getJSON(ctx, key, &cached); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("catalog cache read failed")
	} else if hit {
		return cached.Products, cached.Total, nil
	}

	products, total, err := c.next.List(ctx, page)
	if err != nil {
		return nil, 0, err
	}
	if err := c.setJSON(ctx, key, cachedPage{Products: products, Total: total}); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("catalog cache write failed")
	}
	return products, total, nil
}

// Invalidate drops cached entries for the given products and all cached pages.
func (c *CachedStore) Invalidate(ctx context.Context, ids ...string) error {
	if !c.enabled() {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, productKeyPrefix+id)
	}
	iter := c.client.Scan(ctx, 0, listKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *CachedStore) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (c *CachedStore) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}
