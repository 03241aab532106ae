// Package auth 校验外部身份提供方签发的 bearer token
//
// 本服务不签发 token，只验证签名并取出 sub 和 email。
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pspgateway/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	jwxjwt "github.com/lestrrat-go/jwx/v2/jwt"
)

var (
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrNotConfigured = errors.New("token verification not configured")
)

type Claims struct {
	Subject string
	Email   string
}

type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// NewVerifier 配置了 jwks_url 时用公钥集校验，否则用 HS256 共享密钥
func NewVerifier(ctx context.Context, cfg *config.AuthConfig) (Verifier, error) {
	switch {
	case cfg.JWKSURL != "":
		return NewJWKSVerifier(ctx, cfg.JWKSURL, cfg.Audience)
	case cfg.JWTSecret != "":
		return NewHMACVerifier(cfg.JWTSecret, cfg.Audience), nil
	default:
		return DenyAll{}, ErrNotConfigured
	}
}

// DenyAll 未配置校验方式时拒绝所有 token
type DenyAll struct{}

func (DenyAll) Verify(context.Context, string) (*Claims, error) {
	return nil, ErrInvalidToken
}

// HMACVerifier HS256 共享密钥（Supabase 风格）
type HMACVerifier struct {
	secret   []byte
	audience string
}

func NewHMACVerifier(secret, audience string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret), audience: audience}
}

func (v *HMACVerifier) Verify(_ context.Context, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	email, _ := claims["email"].(string)
	return &Claims{Subject: sub, Email: email}, nil
}

// JWKSVerifier 公钥集按 URL 缓存并定期刷新
type JWKSVerifier struct {
	keys     jwk.Set
	audience string
}

func NewJWKSVerifier(ctx context.Context, jwksURL, audience string) (*JWKSVerifier, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("register jwks: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	return &JWKSVerifier{
		keys:     jwk.NewCachedSet(cache, jwksURL),
		audience: audience,
	}, nil
}

func (v *JWKSVerifier) Verify(_ context.Context, tokenString string) (*Claims, error) {
	opts := []jwxjwt.ParseOption{
		jwxjwt.WithKeySet(v.keys),
		jwxjwt.WithValidate(true),
	}
	if v.audience != "" {
		opts = append(opts, jwxjwt.WithAudience(v.audience))
	}

	token, err := jwxjwt.ParseString(tokenString, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if token.Subject() == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}

	claims := &Claims{Subject: token.Subject()}
	if email, ok := token.Get("email"); ok {
		claims.Email, _ = email.(string)
	}
	return claims, nil
}
