// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/taskman/internal/auth"
	"github.com/hitoshi/taskman/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
var identityContextKey = contextKey("identity")

// TokenVerifier はアクセストークンの検証に必要なインターフェース。
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// IdentityFinder はトークンの主体となるユーザーの検索に必要なインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type IdentityFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// AuthFailureRecorder は認証失敗をメトリクスに記録する。
type AuthFailureRecorder interface {
	RecordAuthFailure(kind string)
}

// AuthConfig は認証ゲートウェイの設定。
type AuthConfig struct {
	// PublicPaths は認証を要求しないパス。末尾スラッシュの有無は区別しない。
	PublicPaths []string
	// Recorder はnilの場合記録しない。
	Recorder AuthFailureRecorder
}

// NewAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証し、
// 認証済みユーザーをリクエストコンテキストに注入するミドルウェアを返す。
// 公開パス以外で認証に失敗した場合は401を返し、後続ハンドラーは呼ばれない。
func NewAuthMiddleware(verifier TokenVerifier, finder IdentityFinder, cfg AuthConfig) func(next http.Handler) http.Handler {
	public := make(map[string]struct{}, len(cfg.PublicPaths))
	for _, p := range cfg.PublicPaths {
		public[normalizePath(p)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := public[normalizePath(r.URL.Path)]; ok {
				next.ServeHTTP(w, r)
				return
			}

			reject := func(apiErr *model.APIError) {
				if cfg.Recorder != nil {
					cfg.Recorder.RecordAuthFailure(apiErr.Kind.String())
				}
				WriteError(w, apiErr)
			}

			// 1. ヘッダーからトークンを取得
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				reject(model.NewUnauthenticatedError())
				return
			}

			// 2. 署名と有効期限を検証
			claims, err := verifier.Verify(token)
			if err != nil {
				if errors.Is(err, auth.ErrTokenExpired) {
					reject(model.NewTokenExpiredError())
					return
				}
				reject(model.NewInvalidTokenError(""))
				return
			}

			// 3. 主体のユーザーが存在するか確認
			user, err := finder.FindByID(r.Context(), claims.UserID)
			if err != nil {
				slog.Error("failed to find identity",
					slog.String("user_id", claims.UserID),
					slog.String("error", err.Error()),
				)
				WriteError(w, model.NewServerError())
				return
			}
			if user == nil {
				reject(model.NewIdentityNotFoundError())
				return
			}

			setLogUserID(r.Context(), user.ID)
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), user)))
		})
	}
}

// bearerToken は "Bearer <token>" 形式のヘッダー値からトークンを取り出す。
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

func normalizePath(p string) string {
	if len(p) > 1 {
		return strings.TrimRight(p, "/")
	}
	return p
}

// IdentityFromContext はリクエストコンテキストから認証済みユーザーを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (*model.User, error) {
	user, ok := ctx.Value(identityContextKey).(*model.User)
	if !ok || user == nil {
		return nil, fmt.Errorf("identity not found in context")
	}
	return user, nil
}

// UserIDFromContext はリクエストコンテキストから認証済みユーザーのIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, err := IdentityFromContext(ctx)
	if err != nil {
		return "", err
	}
	if user.ID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return user.ID, nil
}

// ContextWithIdentity はコンテキストに認証済みユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, identityContextKey, user)
}
