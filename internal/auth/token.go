// Package auth issues and verifies the stateless access tokens used by
// the API. A token is a base64url JSON payload plus an HMAC-SHA256
// signature over it, joined with a dot. Refresh tokens are opaque and
// live in Redis; only their hashes are stored.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Claims is the payload carried inside an access token.
type Claims struct {
	Sub  int64  `json:"sub"`
	Name string `json:"name"`
	JTI  string `json:"jti"`
	Exp  int64  `json:"exp"`
}

// IssueToken signs the claims into a compact token string.
func IssueToken(secret []byte, claims Claims) (string, error) {
	body, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(body)
	return payload + "." + signPayload(secret, payload), nil
}

// ParseToken verifies the signature and expiry and returns the claims.
// Any structural problem maps to ErrInvalidToken; only a well-formed
// token past its exp yields ErrExpiredToken.
func ParseToken(secret []byte, token string) (Claims, error) {
	payload, signature, ok := strings.Cut(token, ".")
	if !ok || strings.Contains(signature, ".") {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(signature), []byte(signPayload(secret, payload))) {
		return Claims{}, ErrInvalidToken
	}

	body, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(body, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.Sub == 0 || claims.JTI == "" || claims.Exp == 0 {
		return Claims{}, ErrInvalidToken
	}
	if time.Now().Unix() >= claims.Exp {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

func signPayload(secret []byte, payload string) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// HashToken returns the hex SHA-256 of an opaque refresh token. The
// hash, never the token itself, is what the session store keys on.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
