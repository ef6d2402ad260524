package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/SharedCode/dms"
)

type cacheEntry struct {
	data       []byte
	expiration time.Time
}

type inMemoryCache struct {
	mu        sync.RWMutex
	lookup    map[string]cacheEntry
	marshaler dms.Marshaler
}

// NewCache instantiates an in-process dms.Cache, the Standalone counterpart
// of the Redis cache.
func NewCache() dms.Cache {
	return &inMemoryCache{
		lookup:    make(map[string]cacheEntry),
		marshaler: dms.NewMarshaler(),
	}
}

func (c *inMemoryCache) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var exp time.Time
	if expiration > 0 {
		exp = Now().Add(expiration)
	}
	c.lookup[key] = cacheEntry{data: []byte(value), expiration: exp}
	return nil
}

func (c *inMemoryCache) Get(ctx context.Context, key string) (bool, string, error) {
	c.mu.RLock()
	e, ok := c.lookup[key]
	c.mu.RUnlock()
	if !ok {
		return false, "", nil
	}
	if !e.expiration.IsZero() && Now().After(e.expiration) {
		c.mu.Lock()
		delete(c.lookup, key)
		c.mu.Unlock()
		return false, "", nil
	}
	return true, string(e.data), nil
}

func (c *inMemoryCache) SetStruct(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	ba, err := c.marshaler.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, string(ba), expiration)
}

func (c *inMemoryCache) GetStruct(ctx context.Context, key string, target interface{}) (bool, error) {
	found, s, err := c.Get(ctx, key)
	if !found || err != nil {
		return false, err
	}
	if err := c.marshaler.Unmarshal([]byte(s), target); err != nil {
		return false, err
	}
	return true, nil
}

func (c *inMemoryCache) Delete(ctx context.Context, keys []string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	found := false
	for _, k := range keys {
		if _, ok := c.lookup[k]; ok {
			delete(c.lookup, k)
			found = true
		}
	}
	return found, nil
}

func (c *inMemoryCache) Ping(ctx context.Context) error {
	return nil
}
