package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Elenore23/dshackle/internal/config"
	"github.com/Elenore23/dshackle/internal/protocol"
	"github.com/Elenore23/dshackle/internal/upstreams"
	"github.com/redis/go-redis/v9"
)

// RedisSink is a CacheSink for deployments that share cached heads across
// multiple Multistream processes.
type RedisSink struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSink(cfg *config.RedisConfig, ttl time.Duration) *RedisSink {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.Db,
	})
	return NewRedisSinkWithClient(client, ttl)
}

// NewRedisSinkWithClient builds a RedisSink around an already-constructed
// client, letting tests inject a redismock client in place of a live server.
func NewRedisSinkWithClient(client *redis.Client, ttl time.Duration) *RedisSink {
	return &RedisSink{client: client, ttl: ttl}
}

func (s *RedisSink) Put(ctx context.Context, chain string, tag upstreams.Tag, head *protocol.BlockRef) error {
	encoded, err := json.Marshal(head)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisTagKey(chain, tag), encoded, s.ttl).Err()
}

func (s *RedisSink) Tagged(ctx context.Context, chain string, tag upstreams.Tag) (*protocol.BlockRef, error) {
	raw, err := s.client.Get(ctx, redisTagKey(chain, tag)).Bytes()
	if err != nil {
		return nil, err
	}
	head := &protocol.BlockRef{}
	if err = json.Unmarshal(raw, head); err != nil {
		return nil, err
	}
	return head, nil
}

func redisTagKey(chain string, tag upstreams.Tag) string {
	return "dshackle:tag:" + string(tag) + ":" + chain
}

func (s *RedisSink) SetHead(ctx context.Context, chain string, head *protocol.BlockRef) error {
	encoded, err := json.Marshal(head)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, headKey(chain), encoded, 0).Err()
}

func (s *RedisSink) GetHead(ctx context.Context, chain string) (*protocol.BlockRef, error) {
	raw, err := s.client.Get(ctx, headKey(chain)).Bytes()
	if err != nil {
		return nil, err
	}
	head := &protocol.BlockRef{}
	if err = json.Unmarshal(raw, head); err != nil {
		return nil, err
	}
	return head, nil
}

func headKey(chain string) string {
	return "dshackle:head:" + chain
}
