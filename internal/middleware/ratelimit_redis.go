package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/taskman/internal/model"
)

// CounterStore は固定ウィンドウのカウンタを提供するストア。
// database.Redisが実装する。
type CounterStore interface {
	IncrWithExpire(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisRateLimiterConfig はRedisRateLimiterの設定。
type RedisRateLimiterConfig struct {
	AuthLimit    int           // ウィンドウあたりの認証リクエスト数（クライアントIP単位）
	GeneralLimit int           // ウィンドウあたりのAPIリクエスト数（ユーザー単位）
	Window       time.Duration // 固定ウィンドウの長さ
	KeyPrefix    string
}

// RedisRateLimiter はRedisの固定ウィンドウカウンタでレート制限を行う。
// 複数インスタンス間で制限を共有する。ストア障害時はリクエストを通す。
type RedisRateLimiter struct {
	store    CounterStore
	config   RedisRateLimiterConfig
	recorder RateLimitRecorder
}

// NewRedisRateLimiter はRedisRateLimiterを生成する。recorderはnilでもよい。
func NewRedisRateLimiter(store CounterStore, config RedisRateLimiterConfig, recorder RateLimitRecorder) *RedisRateLimiter {
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "taskman:ratelimit"
	}
	return &RedisRateLimiter{store: store, config: config, recorder: recorder}
}

// AuthMiddleware は登録・ログイン用のレート制限ミドルウェアを返す。
func (rl *RedisRateLimiter) AuthMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.allow(w, r, rateLimitScopeAuth, ClientIP(r), rl.config.AuthLimit) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// AuthMiddleware（認証ゲートウェイ）の後に配置する。
func (rl *RedisRateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteError(w, model.NewUnauthenticatedError())
				return
			}
			if rl.allow(w, r, rateLimitScopeGeneral, userID, rl.config.GeneralLimit) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// allow はカウンタを進めて許可判定を行う。拒否した場合はレスポンスを書き込んでfalseを返す。
func (rl *RedisRateLimiter) allow(w http.ResponseWriter, r *http.Request, scope, key string, limit int) bool {
	redisKey := fmt.Sprintf("%s:%s:%s", rl.config.KeyPrefix, scope, key)
	count, ttl, err := rl.store.IncrWithExpire(r.Context(), redisKey, rl.config.Window)
	if err != nil {
		slog.Error("rate limit store error",
			slog.String("limit_type", scope),
			slog.String("error", err.Error()),
		)
		return true
	}

	if count > int64(limit) {
		if ttl <= 0 {
			ttl = rl.config.Window
		}
		writeRateLimitResponse(w, rl.recorder, scope, key, ttl)
		return false
	}

	setRateLimitHeaders(w, limit, limit-int(count))
	return true
}
