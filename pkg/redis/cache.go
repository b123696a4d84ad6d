package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache provides typed caching utilities
// ⭐ SSOT: 캐시 헬퍼는 여기서만
type Cache struct {
	client *Client
	prefix string
}

// NewCache creates a new cache helper
func NewCache(client *Client, prefix string) *Cache {
	return &Cache{
		client: client,
		prefix: prefix,
	}
}

func (c *Cache) key(key string) string {
	return c.prefix + ":cache:" + key
}

// Get retrieves a cached value. A miss is (false, nil); only transport and
// decode failures are errors.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !c.client.Enabled() {
		return false, nil
	}

	data, err := c.client.Redis().Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache unmarshal failed: %w", err)
	}
	return true, nil
}

// Set stores a value in cache with TTL
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.client.Enabled() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal failed: %w", err)
	}
	return c.client.Redis().Set(ctx, c.key(key), data, ttl).Err()
}

// Delete removes a cached value
func (c *Cache) Delete(ctx context.Context, key string) error {
	if !c.client.Enabled() {
		return nil
	}
	return c.client.Redis().Del(ctx, c.key(key)).Err()
}

// GetOrSet retrieves from cache or calls fn to populate it. dest always
// receives the JSON round-trip of the value, so hits and misses decode alike.
// A cache outage degrades to calling fn.
func (c *Cache) GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration, fn func() (interface{}, error)) error {
	if found, err := c.Get(ctx, key, dest); err == nil && found {
		return nil
	}

	value, err := fn()
	if err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal failed: %w", err)
	}
	if c.client.Enabled() {
		// Set 실패는 치명적이지 않음: 값은 그대로 반환
		_ = c.client.Redis().Set(ctx, c.key(key), data, ttl).Err()
	}
	return json.Unmarshal(data, dest)
}

// Predefined TTLs
const (
	TTLShort  = 1 * time.Minute  // 진행중 run 상태
	TTLMedium = 10 * time.Minute // 장중 가격 시계열
	TTLLong   = 1 * time.Hour    // 거시/대체 지표 원본
	TTLDaily  = 24 * time.Hour   // 품질 스냅샷
)

// SeriesKey identifies a raw indicator fetch for one date window
func SeriesKey(indicatorID string, from, to time.Time) string {
	return fmt.Sprintf("series:%s:%s:%s", indicatorID, from.Format("20060102"), to.Format("20060102"))
}

// PriceKey identifies a raw price fetch for one date window
func PriceKey(symbol string, from, to time.Time) string {
	return fmt.Sprintf("price:%s:%s:%s", symbol, from.Format("20060102"), to.Format("20060102"))
}

// QualityKey identifies the last quality snapshot of an indicator
func QualityKey(indicatorID string) string {
	return fmt.Sprintf("quality:%s", indicatorID)
}
