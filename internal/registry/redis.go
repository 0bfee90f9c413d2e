package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "dnaguard:signatures"

// Redis keeps signatures in a list (insertion order) plus a hash indexing
// the first signature per DNA hash and a set of claimed ids.
type Redis struct {
	client   *redis.Client
	listKey  string
	indexKey string
	idsKey   string
	clock    Clock
}

// RedisOption configures a Redis registry.
type RedisOption func(*Redis)

// WithRedisClock sets the clock used to stamp AddedAt.
func WithRedisClock(clock Clock) RedisOption {
	return func(r *Redis) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithRedisPrefix namespaces the keys.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.listKey = prefix
			r.indexKey = prefix + ":index"
			r.idsKey = prefix + ":ids"
		}
	}
}

func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client:   client,
		listKey:  defaultRedisPrefix,
		indexKey: defaultRedisPrefix + ":index",
		idsKey:   defaultRedisPrefix + ":ids",
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// OpenRedis parses a redis:// URL and verifies the connection.
func OpenRedis(ctx context.Context, url string, opts ...RedisOption) (*Redis, error) {
	if url == "" {
		return nil, errors.New("registry: REDIS_URL is required for the redis backend")
	}
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, opts...), nil
}

func (r *Redis) Lookup(ctx context.Context, dnaHash string) (Signature, error) {
	raw, err := r.client.HGet(ctx, r.indexKey, dnaHash).Bytes()
	if errors.Is(err, redis.Nil) {
		return Signature{}, ErrNotFound
	}
	if err != nil {
		return Signature{}, fmt.Errorf("lookup signature: %w", err)
	}
	var sig Signature
	if err := json.Unmarshal(raw, &sig); err != nil {
		return Signature{}, fmt.Errorf("decode signature: %w", err)
	}
	return cloneSignature(sig), nil
}

func (r *Redis) Insert(ctx context.Context, sig Signature) (Signature, error) {
	sig, err := prepare(sig, r.clock)
	if err != nil {
		return Signature{}, err
	}
	raw, err := json.Marshal(sig)
	if err != nil {
		return Signature{}, fmt.Errorf("encode signature: %w", err)
	}
	added, err := r.client.SAdd(ctx, r.idsKey, sig.ID).Result()
	if err != nil {
		return Signature{}, fmt.Errorf("insert signature: %w", err)
	}
	if added == 0 {
		return Signature{}, ErrDuplicateID
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, r.listKey, raw)
		pipe.HSetNX(ctx, r.indexKey, sig.DNAHash, raw)
		return nil
	})
	if err != nil {
		r.client.SRem(context.WithoutCancel(ctx), r.idsKey, sig.ID)
		return Signature{}, fmt.Errorf("insert signature: %w", err)
	}
	return cloneSignature(sig), nil
}

func (r *Redis) List(ctx context.Context) ([]Signature, error) {
	items, err := r.client.LRange(ctx, r.listKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	out := make([]Signature, 0, len(items))
	for _, item := range items {
		var sig Signature
		if err := json.Unmarshal([]byte(item), &sig); err != nil {
			return nil, fmt.Errorf("decode signature: %w", err)
		}
		out = append(out, cloneSignature(sig))
	}
	return out, nil
}

func (r *Redis) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.client.Close() }
