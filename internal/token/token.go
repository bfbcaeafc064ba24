// Package token は署名付きセッショントークンの発行と検証を提供する。
// Google Driveの委任アクセストークンとは独立した、本サービス自身の短命な認証情報。
// 有効期限は発行時に固定され、更新はできない（期限切れ後は再ログインが必要）。
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL はセッショントークンのデフォルト有効期間。
const DefaultTTL = 24 * time.Hour

// bearerPrefix はAuthorizationヘッダーの慣用的なスキームラベル。
// 検証時には付いていても付いていなくても受け付ける。
const bearerPrefix = "Bearer "

var (
	// ErrMalformed は署名または構造が検証できないトークンを表す。
	ErrMalformed = errors.New("session token is malformed")
	// ErrExpired は有効期限を過ぎたトークンを表す。
	ErrExpired = errors.New("session token is expired")
)

// sessionClaims はセッショントークンのクレームセット。
type sessionClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Codec はセッショントークンの発行・検証器。
// シークレットは呼び出しごとに明示的に渡す。プロセス内で不変であること。
// Nowはテスト用に差し替え可能な時刻源。nilの場合はtime.Nowを使用する。
type Codec struct {
	Now func() time.Time

	// TTL はトークンの有効期間。ゼロの場合はDefaultTTLを使用する。
	TTL time.Duration
}

// NewCodec はデフォルト有効期間（24時間）のCodecを生成する。
func NewCodec() *Codec {
	return &Codec{Now: time.Now, TTL: DefaultTTL}
}

func (c *Codec) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Issue はuserIDを束縛した署名付きトークンを発行する。
// 有効期限は発行時刻+TTL。HMAC-SHA256で署名する。
func (c *Codec) Issue(userID string, secret []byte) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user ID is required")
	}
	if len(secret) == 0 {
		return "", fmt.Errorf("secret is required")
	}

	ttl := c.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}

	claims := sessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(c.now().Add(ttl)),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify はトークンを検証し、束縛されたuserIDを返す。
// "Bearer "プレフィックスは剥がしてから検証する（無くても可）。
// 署名・構造の不正はErrMalformed、期限切れはErrExpiredを返す。
// 有効期限ちょうどのトークンも期限切れとして拒否する。
func (c *Codec) Verify(credential string, secret []byte) (string, error) {
	raw := strings.TrimPrefix(credential, bearerPrefix)
	if raw == "" {
		return "", ErrMalformed
	}

	claims := &sessionClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		// 期限の検証はexpの有無も含めて自前で行う
		jwt.WithoutClaimsValidation(),
	)

	_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return "", ErrMalformed
	}

	if claims.ExpiresAt == nil || claims.UserID == "" {
		return "", ErrMalformed
	}
	if !c.now().Before(claims.ExpiresAt.Time) {
		return "", ErrExpired
	}

	return claims.UserID, nil
}
