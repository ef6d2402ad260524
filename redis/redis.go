package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SharedCode/dms"
)

type client struct {
	conn      *Connection
	marshaler dms.Marshaler
}

// NewClient returns a dms.Cache backed by the package's open Redis connection.
// Call OpenConnection before using the returned client.
func NewClient() dms.Cache {
	return &client{
		conn:      connection,
		marshaler: dms.NewMarshaler(),
	}
}

// keyNotFound will detect whether error signifies key not found by Redis.
func (c client) keyNotFound(err error) bool {
	return err == redis.Nil
}

// Ping tests connectivity for redis (PONG should be returned).
func (c client) Ping(ctx context.Context) error {
	if c.conn == nil {
		return fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	if _, err := c.conn.Client.Ping(ctx).Result(); err != nil {
		return err
	}
	return nil
}

// Set executes the redis Set command.
func (c client) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	if c.conn == nil {
		return fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	// No caching if expiration < 0.
	if expiration < 0 {
		return nil
	}
	return c.conn.Client.Set(ctx, key, value, expiration).Err()
}

// Get executes the redis Get command.
func (c client) Get(ctx context.Context, key string) (bool, string, error) {
	if c.conn == nil {
		return false, "", fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	s, err := c.conn.Client.Get(ctx, key).Result()
	// Convert key not found into returning false and nil err.
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	}
	return r, s, err
}

// SetStruct marshals the value then executes the redis Set command.
func (c client) SetStruct(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if c.conn == nil {
		return fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	if expiration < 0 {
		return nil
	}
	ba, err := c.marshaler.Marshal(value)
	if err != nil {
		return err
	}
	return c.conn.Client.Set(ctx, key, ba, expiration).Err()
}

// GetStruct executes the redis Get command and unmarshals into target.
func (c client) GetStruct(ctx context.Context, key string, target interface{}) (bool, error) {
	if c.conn == nil {
		return false, fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	ba, err := c.conn.Client.Get(ctx, key).Bytes()
	if c.keyNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := c.marshaler.Unmarshal(ba, target); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the given keys. Missing keys are not an issue.
func (c client) Delete(ctx context.Context, keys []string) (bool, error) {
	if c.conn == nil {
		return false, fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	n, err := c.conn.Client.Del(ctx, keys...).Result()
	if c.keyNotFound(err) {
		err = nil
	}
	return n > 0, err
}
