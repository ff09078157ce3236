package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
)

const (
	RoleDonor      = "donor"
	RoleFundraiser = "fundraiser"
	RoleAdmin      = "admin"
)

// JwtCustomClaim is the identity the external auth provider signs for us.
type JwtCustomClaim struct {
	UserId string `json:"uid"`
	Role   string `json:"role"`
	jwt.StandardClaims
}

func JwtGenerate(secret []byte, userId string, role string, lifespan time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &JwtCustomClaim{
		UserId: userId,
		Role:   role,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(lifespan).Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	})
	return t.SignedString(secret)
}

func JwtValidate(secret []byte, token string) (*JwtCustomClaim, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is empty")
	}
	parsed, err := jwt.ParseWithClaims(token, &JwtCustomClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*JwtCustomClaim)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserId == "" {
		return nil, errors.New("token has no user id")
	}
	return claims, nil
}
