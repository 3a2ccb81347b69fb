package backend

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/pulseboard/internal/model"
)

// ErrUnauthorized はアクセストークンが無効または期限切れであることを示す。
var ErrUnauthorized = errors.New("invalid or expired access token")

// accessClaims はプロバイダーが発行するアクセストークンのクレーム。
type accessClaims struct {
	Email        string             `json:"email"`
	UserMetadata model.UserMetadata `json:"user_metadata"`
	jwt.RegisteredClaims
}

// TokenVerifier はプロバイダーと共有するHS256シークレットでアクセストークンを検証する。
type TokenVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewTokenVerifier はTokenVerifierを生成する。
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256"}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify はトークンの署名と有効期限を検証し、identityを返す。
func (v *TokenVerifier) Verify(token string) (*model.Identity, error) {
	var claims accessClaims
	parsed, err := v.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrUnauthorized
	}

	return &model.Identity{
		ID:       claims.Subject,
		Email:    claims.Email,
		Metadata: claims.UserMetadata,
	}, nil
}
