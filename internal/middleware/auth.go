// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/driveman/internal/model"
	"github.com/hitoshi/driveman/internal/token"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// NewAuthMiddleware はAuthorizationヘッダーのセッショントークンを検証する
// ミドルウェアを返す。"Bearer "プレフィックスの有無は問わない。
// 検証に成功した場合はトークンに埋め込まれたユーザーIDをリクエスト
// コンテキストに注入する。
// ヘッダー欠落・改ざん・期限切れはいずれも401 Unauthorizedを返す（fail closed）。
func NewAuthMiddleware(codec *token.Codec, secret []byte) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Authorizationヘッダーからトークンを取得
			credential := r.Header.Get("Authorization")
			if credential == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 2. 署名と有効期限を検証
			userID, err := codec.Verify(credential, secret)
			if err != nil {
				// 期限切れと改ざんはログ上で区別するが、レスポンスはどちらも401
				if errors.Is(err, token.ErrExpired) {
					slog.Info("session token expired",
						slog.String("path", r.URL.Path),
					)
				} else {
					slog.Warn("session token rejected",
						slog.String("path", r.URL.Path),
					)
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 3. 認証済みユーザーIDをコンテキストに注入
			ctx := context.WithValue(r.Context(), userIDContextKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
