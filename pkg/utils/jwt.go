// Package utils 提供通用工具函数
package utils

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims JWT 声明结构。
// Token 由上游身份服务签发，本引擎只解析，从不签发。
type Claims struct {
	UserID string `json:"user_id"`
	Tier   string `json:"tier"`
	Type   string `json:"type"` // "access" or "refresh"
	jwt.RegisteredClaims
}

// JWTVerifier JWT 校验器
type JWTVerifier struct {
	secret string
	issuer string
}

// NewJWTVerifier 创建 JWT 校验器
func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{
		secret: secret,
		issuer: issuer,
	}
}

// ParseToken 解析并验证 Token
func (m *JWTVerifier) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(m.secret), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if m.issuer != "" {
		if iss, _ := claims.GetIssuer(); iss != m.issuer {
			return nil, ErrInvalidToken
		}
	}
	return claims, nil
}
