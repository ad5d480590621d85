// README: HS256 bearer tokens for local deployments and the smoke runner.
package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const jwtIssuer = "ridemarket"

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTService signs and verifies HS256 tokens whose subject is the user id.
type JWTService struct {
	secret []byte
	ttl    time.Duration
}

func NewJWTService(secret string, ttl time.Duration) (*JWTService, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWTService{secret: []byte(secret), ttl: ttl}, nil
}

func (s *JWTService) Issue(uid, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			Issuer:    jwtIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *JWTService) VerifyIDToken(_ context.Context, raw string) (*Token, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(jwtIssuer))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token")
	}
	return &Token{
		UID:    claims.Subject,
		Role:   claims.Role,
		Claims: map[string]interface{}{"role": claims.Role, "iss": claims.Issuer},
	}, nil
}
