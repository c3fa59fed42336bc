package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis はレート制限カウンタ用のRedisクライアントをラップする。
type Redis struct {
	client *redis.Client
}

// NewRedis はredis:// 形式のURLからRedis接続を生成する。
func NewRedis(redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return &Redis{client: redis.NewClient(opts)}, nil
}

// Ping は接続を確認する。
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Close は接続を閉じる。
func (r *Redis) Close() error {
	return r.client.Close()
}

// IncrWithExpire はキーをインクリメントし、新規キーの場合のみ有効期限を設定する。
// 固定ウィンドウのカウンタとして使う。戻り値はインクリメント後の値とキーの残りTTL。
// EXPIRE NX を使うため Redis 7 以降が必要。
func (r *Redis) IncrWithExpire(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	ttl := pipe.TTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	return incr.Val(), ttl.Val(), nil
}
