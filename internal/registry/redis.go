package registry

import (
	"context"
	"fmt"

	backend "github.com/redis/go-redis/v9"
)

// RedisRegistry stores every tag as a field of one hash.
type RedisRegistry struct {
	client *backend.Client
	key    string
}

type Option func(*RedisRegistry)

// WithKey sets the hash key tags are stored under.
func WithKey(key string) Option {
	return func(r *RedisRegistry) {
		r.key = key
	}
}

func NewRedisRegistry(address, password string, db int, opts ...Option) *RedisRegistry {
	return NewRedisRegistryFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

func NewRedisRegistryFromClient(client *backend.Client, opts ...Option) *RedisRegistry {
	r := &RedisRegistry{client: client, key: "bootseq:tags"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ping verifies the server is reachable.
func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

func (r *RedisRegistry) Set(ctx context.Context, tag, id string) error {
	if err := ValidateTag(tag); err != nil {
		return err
	}
	if err := r.client.HSet(ctx, r.key, tag, id).Err(); err != nil {
		return fmt.Errorf("set tag in redis: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Resolve(ctx context.Context, tag string) (string, error) {
	id, err := r.client.HGet(ctx, r.key, tag).Result()
	if err == backend.Nil {
		return "", fmt.Errorf("%s: %w", tag, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get tag from redis: %w", err)
	}
	return id, nil
}

func (r *RedisRegistry) List(ctx context.Context) ([]Entry, error) {
	all, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list tags from redis: %w", err)
	}
	out := make([]Entry, 0, len(all))
	for tag, id := range all {
		out = append(out, Entry{Tag: tag, ID: id})
	}
	return sortEntries(out), nil
}
