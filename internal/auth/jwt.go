package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"campus-im/internal/config"
)

// ErrInvalidToken 表示令牌无法解析、签名错误、已过期或签发者不符。
var ErrInvalidToken = errors.New("invalid token")

// Claims 是校园身份服务签发的 JWT 中的自定义声明。
type Claims struct {
	UserID   uint   `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// GenerateToken 为指定用户签发一个 JWT。
// 生产环境中令牌由身份服务签发，这里用于管理工具和测试。
func GenerateToken(userID uint, username string, authCfg config.AuthConfig) (string, error) {
	jwtID, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("生成 JWT ID 失败: %w", err)
	}

	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(authCfg.JWTExpiry)),
			ID:        jwtID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    authCfg.JWTIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(authCfg.JWTSecretKey))
	if err != nil {
		return "", fmt.Errorf("生成 JWT 失败: %w", err)
	}
	return tokenString, nil
}

// ValidateToken 验证令牌并返回其声明。配置了 JWTIssuer 时同时校验签发者。
func ValidateToken(tokenString string, authCfg config.AuthConfig) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if authCfg.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(authCfg.JWTIssuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(authCfg.JWTSecretKey), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
