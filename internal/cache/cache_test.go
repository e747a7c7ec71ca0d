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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/blnkfinance/einvoice/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Files     []string
	Timestamp time.Time
}

func TestLocalCacheSetGetDelete(t *testing.T) {
	ctx := context.Background()
	c, err := NewCache(config.RedisConfig{}, time.Minute)
	require.NoError(t, err)

	want := entry{Files: []string{"a.xlsx"}, Timestamp: time.Now().UTC().Truncate(time.Millisecond)}
	require.NoError(t, c.Set(ctx, "listing", want, time.Minute))

	var got entry
	found, err := c.Get(ctx, "listing", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want.Files, got.Files)
	assert.True(t, want.Timestamp.Equal(got.Timestamp))

	require.NoError(t, c.Delete(ctx, "listing"))
	found, err = c.Get(ctx, "listing", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetNonExistentKey(t *testing.T) {
	c := NewLocalCache(time.Minute)
	var got entry
	found, err := c.Get(context.Background(), "nonExistentKey", &got)
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, got.Files)
}

func TestDeleteMissingKey(t *testing.T) {
	assert.NoError(t, NewLocalCache(time.Minute).Delete(context.Background(), "missing"))
}

func TestRedisCacheSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	writer := NewRedisCache(client, time.Minute)
	reader := NewRedisCache(client, time.Minute)

	require.NoError(t, writer.Set(ctx, "listing", entry{Files: []string{"b.xlsx"}}, time.Minute))
	assert.True(t, mr.Exists("listing"))

	var got entry
	found, err := reader.Get(ctx, "listing", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"b.xlsx"}, got.Files)

	require.NoError(t, writer.Delete(ctx, "listing"))
	assert.False(t, mr.Exists("listing"))
}

func TestNewCacheWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewCache(config.RedisConfig{Dns: mr.Addr()}, time.Minute)
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), "k", entry{Files: []string{"x"}}, time.Minute))
	assert.True(t, mr.Exists("k"))
}
