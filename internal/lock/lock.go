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

package redlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another holder owns the key.
var ErrHeld = errors.New("lock already held")

const unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"

// Mutex is a non-blocking lock over one key.
type Mutex interface {
	Lock(ctx context.Context, ttl time.Duration) error
	Unlock(ctx context.Context) error
}

// Factory returns the mutex guarding key.
type Factory func(key string) Mutex

// Locker is a SETNX based lock shared by every instance using the same Redis.
type Locker struct {
	client redis.UniversalClient
	key    string
	value  string
}

func NewLocker(client redis.UniversalClient, key, value string) *Locker {
	return &Locker{
		client: client,
		key:    key,
		value:  value,
	}
}

// NewRedisFactory returns mutexes owned by a random token so only the acquirer can release them.
func NewRedisFactory(client redis.UniversalClient, prefix string) Factory {
	return func(key string) Mutex {
		return NewLocker(client, prefix+key, uuid.NewString())
	}
}

func (l *Locker) Lock(ctx context.Context, ttl time.Duration) error {
	success, err := l.client.SetNX(ctx, l.key, l.value, ttl).Result()
	if err != nil {
		return err
	}
	if !success {
		return fmt.Errorf("%w: %s", ErrHeld, l.key)
	}
	return nil
}

func (l *Locker) Unlock(ctx context.Context) error {
	result, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("unlock failed, either lock expired or you're not the lock holder for key %s", l.key)
	}
	return nil
}

// memoryLocks is the single process fallback used when no Redis is configured.
type memoryLocks struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

type memoryMutex struct {
	locks *memoryLocks
	key   string
}

// NewMemoryFactory returns mutexes that only exclude holders inside this process.
func NewMemoryFactory() Factory {
	locks := &memoryLocks{held: make(map[string]time.Time), now: time.Now}
	return func(key string) Mutex {
		return &memoryMutex{locks: locks, key: key}
	}
}

func (m *memoryMutex) Lock(_ context.Context, ttl time.Duration) error {
	m.locks.mu.Lock()
	defer m.locks.mu.Unlock()
	now := m.locks.now()
	if expiry, ok := m.locks.held[m.key]; ok && now.Before(expiry) {
		return fmt.Errorf("%w: %s", ErrHeld, m.key)
	}
	m.locks.held[m.key] = now.Add(ttl)
	return nil
}

func (m *memoryMutex) Unlock(_ context.Context) error {
	m.locks.mu.Lock()
	defer m.locks.mu.Unlock()
	if _, ok := m.locks.held[m.key]; !ok {
		return fmt.Errorf("unlock failed, lock for key %s is not held", m.key)
	}
	delete(m.locks.held, m.key)
	return nil
}
