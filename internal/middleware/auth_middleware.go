package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"campus-im/internal/auth"
	"campus-im/internal/config"
	"campus-im/internal/imerrors"
	"campus-im/internal/logger"
)

// contextKey 是用于在 context.Context 中存储值的自定义类型，以避免键冲突。
type contextKey string

// UserIDKey 是用于在上下文中存储用户ID的键。
const UserIDKey contextKey = "userID"

// UsernameKey 是用于在上下文中存储用户名的键。
const UsernameKey contextKey = "username"

// AuthMiddleware 验证 Bearer JWT 并将用户信息添加到上下文中。
func AuthMiddleware(next http.Handler, authCfg config.AuthConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, imerrors.Unauthorized("请求未包含授权令牌"))
			return
		}

		headerParts := strings.Split(authHeader, " ")
		if len(headerParts) != 2 || strings.ToLower(headerParts[0]) != "bearer" {
			writeError(w, imerrors.Unauthorized("授权头部格式无效，应为 Bearer {token}"))
			return
		}

		claims, err := auth.ValidateToken(headerParts[1], authCfg)
		if err != nil {
			logger.Log.Debug("令牌校验失败", zap.Error(err))
			writeError(w, imerrors.Unauthorized("令牌无效"))
			return
		}

		ctx := WithUser(r.Context(), claims.UserID, claims.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithUser stores the authenticated user in ctx.
func WithUser(ctx context.Context, userID uint, username string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, UsernameKey, username)
}

// GetUserIDFromContext 从上下文中获取用户ID。
// 如果用户ID不存在或类型不正确，返回0和false。
func GetUserIDFromContext(ctx context.Context) (uint, bool) {
	userID, ok := ctx.Value(UserIDKey).(uint)
	return userID, ok
}

// GetUsernameFromContext 从上下文中获取用户名。
func GetUsernameFromContext(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(UsernameKey).(string)
	return username, ok
}

func writeError(w http.ResponseWriter, appErr *imerrors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": appErr.Message, "code": appErr.Code})
}
