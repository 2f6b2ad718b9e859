// Package utils holds small helpers for issuing admin tokens and minting
// random access keys.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the only role the admin API accepts.
const RoleAdmin = "ADMIN"

// AccessToken is a signed admin JWT along with its expiry.
type AccessToken struct {
	Token string    `json:"token"`
	Exp   time.Time `json:"expiresAt"`
}

// NewAccessToken builds and signs an HS256 JWT carrying sub, role, exp and
// iat claims.
func NewAccessToken(secret, subject, role string, ttl time.Duration) (AccessToken, error) {
	if secret == "" {
		return AccessToken{}, errors.New("jwt secret is empty")
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// AccessKeyLen is the length of an account access key in hex characters.
const AccessKeyLen = 32

// NewAccessKey returns 32 lowercase hex characters from crypto/rand.
func NewAccessKey() (string, error) {
	return randomHex(AccessKeyLen / 2)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
