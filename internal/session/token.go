package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/devparmar15199/qr-student-app-backend/internal/apperr"
)

// legacyPrefix is the short reference format older client renderers
// print instead of the full signed token.
const legacyPrefix = "QR_"

// RotatingClaims is the minimized payload of the signed rotating token,
// kept small so the rendered QR stays scannable.
type RotatingClaims struct {
	SessionID string `json:"sid"`
	ClassID   string `json:"cid"`
	jwt.RegisteredClaims
}

func signRotatingToken(key, issuer, sessionID, classID string, issuedAt, rotationExpiry time.Time) (string, error) {
	claims := RotatingClaims{
		SessionID: sessionID,
		ClassID:   classID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(rotationExpiry),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
}

func isHex32(s string) bool {
	if len(s) != 32 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ResolveToken extracts the canonical session id from any of the three
// accepted encodings, tried in fixed priority order:
//
//  1. a structured JSON payload carrying a sessionId field
//  2. the legacy short reference "QR_" + 32-hex session id
//  3. a signed rotating token whose claims embed the session id
//
// A payload that looks like JSON but fails to decode is not retried as
// a legacy reference. The rotating token's own expiry claim is ignored
// here; session-level expiry is authoritative and checked by the
// caller.
func ResolveToken(raw, signingKey string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperr.Format("empty token")
	}

	if strings.HasPrefix(raw, "{") {
		var payload struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal([]byte(raw), &payload); err == nil && isHex32(payload.SessionID) {
			return payload.SessionID, nil
		}
		return "", apperr.Format("unrecognized structured token payload")
	}

	if strings.HasPrefix(raw, legacyPrefix) {
		if id := raw[len(legacyPrefix):]; isHex32(id) {
			return id, nil
		}
		return "", apperr.Format("malformed legacy token reference")
	}

	parsed, err := jwt.ParseWithClaims(raw, &RotatingClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, apperr.Format("unexpected signing method")
		}
		return []byte(signingKey), nil
	}, jwt.WithoutClaimsValidation())
	if err == nil {
		if claims, ok := parsed.Claims.(*RotatingClaims); ok && isHex32(claims.SessionID) {
			return claims.SessionID, nil
		}
	}

	return "", apperr.Format("unrecognized token encoding")
}
