/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/blnkfinance/einvoice/config"
	redis_db "github.com/blnkfinance/einvoice/internal/redis-db"
	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// Cache is the get/set/invalidate store used for discovery results.
type Cache interface {
	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Get decodes the value under key into data and reports whether it was found.
	Get(ctx context.Context, key string, data interface{}) (bool, error)

	// Delete invalidates key.
	Delete(ctx context.Context, key string) error
}

// cacheSize defines the size of the local cache (in number of entries).
const cacheSize = 1024

// RedisCache layers a TinyLFU local cache over an optional Redis store.
type RedisCache struct {
	cache *cache.Cache
}

// NewCache returns a Redis backed cache when a Redis DNS is configured and a process
// local cache otherwise.
func NewCache(redisCfg config.RedisConfig, entryTTL time.Duration) (Cache, error) {
	if redisCfg.Dns == "" {
		return NewLocalCache(entryTTL), nil
	}
	client, err := redis_db.FromConfig(redisCfg)
	if err != nil {
		return nil, err
	}
	return NewRedisCache(client.Client(), entryTTL), nil
}

// NewRedisCache shares entries across instances through client. The local layer
// keeps entries for at most localTTL.
func NewRedisCache(client redis.UniversalClient, localTTL time.Duration) *RedisCache {
	return &RedisCache{cache: cache.New(&cache.Options{
		Redis:      client,
		LocalCache: cache.NewTinyLFU(cacheSize, localTTL),
	})}
}

// NewLocalCache keeps entries in process memory only.
func NewLocalCache(ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisCache{cache: cache.New(&cache.Options{
		LocalCache: cache.NewTinyLFU(cacheSize, ttl),
	})}
}

func (r *RedisCache) Set(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: data,
		TTL:   ttl,
	})
}

func (r *RedisCache) Get(ctx context.Context, key string, data interface{}) (bool, error) {
	err := r.cache.Get(ctx, key, data)
	if errors.Is(err, cache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	err := r.cache.Delete(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}
