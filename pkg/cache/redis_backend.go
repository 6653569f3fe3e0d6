package cache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisNamespace key prefix for cache entries stored in Redis
const DefaultRedisNamespace = "popcache:"

const scanCount = 100

// RedisBackend durable tier on Redis. Each entry is a hash
// (value, category, shop, expires_at, created_at) expiring at expires_at.
type RedisBackend struct {
	client    *redis.Client
	namespace string
}

// NewRedisBackend Redis 기반 캐시 백엔드 생성
func NewRedisBackend(client *redis.Client, namespace string) *RedisBackend {
	if namespace == "" {
		namespace = DefaultRedisNamespace
	}
	return &RedisBackend{client: client, namespace: namespace}
}

func (b *RedisBackend) key(k string) string {
	return b.namespace + k
}

// Get implements Backend
func (b *RedisBackend) Get(ctx context.Context, key string) (*Record, error) {
	fields, err := b.client.HGetAll(ctx, b.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	rec := &Record{
		Key:        key,
		Value:      []byte(fields["value"]),
		Category:   Category(fields["category"]),
		ShopDomain: fields["shop"],
	}
	if ms, err := strconv.ParseInt(fields["expires_at"], 10, 64); err == nil {
		rec.ExpiresAt = time.UnixMilli(ms).UTC()
	}
	if ms, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		rec.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return rec, nil
}

// Put implements Backend
func (b *RedisBackend) Put(ctx context.Context, rec *Record) error {
	k := b.key(rec.Key)
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k,
			"value", rec.Value,
			"category", string(rec.Category),
			"shop", rec.ShopDomain,
			"expires_at", rec.ExpiresAt.UnixMilli(),
			"created_at", rec.CreatedAt.UnixMilli(),
		)
		pipe.PExpireAt(ctx, k, rec.ExpiresAt)
		return nil
	})
	return err
}

// Delete implements Backend
func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, b.key(key)).Err()
}

// DeleteMatching implements Backend. Substring patterns are pushed down to SCAN MATCH;
// regexp patterns scan the whole namespace and filter client-side.
func (b *RedisBackend) DeleteMatching(ctx context.Context, pattern Pattern, shop string) (int64, error) {
	return b.deleteByPattern(ctx, b.scanMatch(pattern), func(k string) bool {
		return pattern.Match(k)
	}, shop)
}

// DeleteExpired implements Backend. Redis expires keys on its own.
func (b *RedisBackend) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// DeleteAll implements Backend
func (b *RedisBackend) DeleteAll(ctx context.Context) error {
	_, err := b.deleteByPattern(ctx, b.namespace+"*", nil, "")
	return err
}

func (b *RedisBackend) scanMatch(pattern Pattern) string {
	switch p := pattern.(type) {
	case Prefix:
		return b.namespace + escapeGlob(string(p)) + "*"
	case Contains:
		return b.namespace + "*" + escapeGlob(string(p)) + "*"
	default:
		return b.namespace + "*"
	}
}

func (b *RedisBackend) deleteByPattern(ctx context.Context, match string, keep func(string) bool, shop string) (int64, error) {
	var deleted int64
	iter := b.client.Scan(ctx, 0, match, scanCount).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		if keep != nil && !keep(strings.TrimPrefix(full, b.namespace)) {
			continue
		}
		if shop != "" {
			owner, err := b.client.HGet(ctx, full, "shop").Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return deleted, err
			}
			if owner != shop {
				continue
			}
		}
		n, err := b.client.Del(ctx, full).Result()
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	return deleted, iter.Err()
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}
