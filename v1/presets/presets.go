// Package presets wires the seckill building blocks for common deployments.
package presets

import (
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-seckill/v1/adapter"
	"github.com/mirkobrombin/go-seckill/v1/cache"
	"github.com/mirkobrombin/go-seckill/v1/idgen"
	"github.com/mirkobrombin/go-seckill/v1/seckill"
	"github.com/mirkobrombin/go-seckill/v1/syncbus"
)

// RedisOptions configures the connection to Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

func newClient(opts RedisOptions) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})
}

// Seckill is an admission pipeline and its order consumer sharing one Redis
// client.
type Seckill struct {
	Client   *redis.Client
	IDs      *idgen.Generator
	Pipeline *seckill.Pipeline
	Consumer *seckill.Consumer
}

// NewRedisSeckill connects to Redis and builds a pipeline persisting into
// store. The consumer is nil when store is nil.
func NewRedisSeckill(opts RedisOptions, store adapter.OrderStore, sopts ...seckill.Option) (*Seckill, error) {
	client := newClient(opts)
	s := &Seckill{
		Client: client,
		IDs:    idgen.New(client),
	}
	s.Pipeline = seckill.NewPipeline(client, s.IDs, store, sopts...)
	if store != nil {
		c, err := seckill.NewConsumer(client, store, nil, sopts...)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		s.Consumer = c
	}
	return s, nil
}

// Close closes the Redis client.
func (s *Seckill) Close() error {
	return s.Client.Close()
}

// Cache is a cache client whose near cache is kept coherent over Redis
// pub/sub.
type Cache[ID comparable, T any] struct {
	*cache.Client[ID, T]
	Redis *redis.Client
	Bus   *syncbus.RedisBus
}

// NewRedisCache connects to Redis and builds a cache client with a near
// cache of nearTTL. Invalidations travel on syncbus.DefaultChannel.
func NewRedisCache[ID comparable, T any](opts RedisOptions, nearTTL time.Duration, copts ...cache.Option) *Cache[ID, T] {
	client := newClient(opts)
	bus := syncbus.NewRedisBus(client, syncbus.DefaultChannel)
	copts = append([]cache.Option{cache.WithNearCache(nearTTL, nil), cache.WithBus(bus)}, copts...)
	return &Cache[ID, T]{
		Client: cache.NewClient[ID, T](client, nil, copts...),
		Redis:  client,
		Bus:    bus,
	}
}

// Close stops the cache, the bus and the Redis client.
func (c *Cache[ID, T]) Close() error {
	c.Client.Close()
	_ = c.Bus.Close()
	return c.Redis.Close()
}
