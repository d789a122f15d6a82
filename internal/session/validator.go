package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Validity is the outcome of validating a stored credential locally.
type Validity string

const (
	Valid     Validity = "valid"
	Expired   Validity = "expired"
	Malformed Validity = "malformed"
)

// ErrMalformedToken is returned by DecodeClaims for structurally invalid tokens.
var ErrMalformedToken = errors.New("session: malformed token")

// Claims is the subset of token claims the client looks at.
type Claims struct {
	Subject string
	Role    string
	// ExpiresAt is zero for tokens without an expiry.
	ExpiresAt time.Time
}

// Validator decides locally whether a credential is worth presenting to the
// backend.
//
// Claims are decoded without verifying the signature. This is a convenience
// to avoid sending requests that are bound to fail; the backend remains the
// only authority on whether a token is genuine.
type Validator interface {
	Validate(token string, now time.Time) Validity
	DecodeClaims(token string) (*Claims, error)
}

// JWTValidator validates three-segment JWT credentials. An optional
// "Bearer " prefix is accepted everywhere.
type JWTValidator struct {
	parser *jwt.Parser
}

var _ Validator = (*JWTValidator)(nil)

// NewJWTValidator returns a validator for bearer JWTs.
func NewJWTValidator() *JWTValidator {
	return &JWTValidator{parser: jwt.NewParser()}
}

func stripBearer(token string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), bearerPrefix))
}

func segments(token string) ([]string, bool) {
	parts := strings.Split(stripBearer(token), ".")
	if len(parts) != 3 {
		return nil, false
	}
	for _, p := range parts {
		if p == "" {
			return nil, false
		}
	}
	return parts, true
}

// IsStructurallyValid reports whether token has exactly three non-empty
// dot-separated segments.
func (v *JWTValidator) IsStructurallyValid(token string) bool {
	_, ok := segments(token)
	return ok
}

// IsExpired reports whether the token's exp claim lies strictly before now.
// A token without exp never expires. A claims segment that cannot be decoded
// counts as expired.
func (v *JWTValidator) IsExpired(token string, now time.Time) bool {
	claims, err := v.DecodeClaims(token)
	if err != nil {
		return true
	}
	return !claims.ExpiresAt.IsZero() && claims.ExpiresAt.Before(now)
}

// Validate combines the structural and expiry checks.
func (v *JWTValidator) Validate(token string, now time.Time) Validity {
	if !v.IsStructurallyValid(token) {
		return Malformed
	}
	if v.IsExpired(token, now) {
		return Expired
	}
	return Valid
}

// DecodeClaims decodes the middle segment of token.
func (v *JWTValidator) DecodeClaims(token string) (*Claims, error) {
	parts, ok := segments(token)
	if !ok {
		return nil, ErrMalformedToken
	}
	payload, err := v.parser.DecodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decoding claims segment: %w", err)
	}
	var mc jwt.MapClaims
	if err := json.Unmarshal(payload, &mc); err != nil {
		return nil, fmt.Errorf("unmarshaling claims: %w", err)
	}
	if mc == nil {
		return nil, errors.New("claims segment is not an object")
	}

	claims := &Claims{Role: roleOf(mc)}
	exp, err := mc.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("reading exp: %w", err)
	}
	if exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if sub, err := mc.GetSubject(); err == nil {
		claims.Subject = sub
	}
	return claims, nil
}

func roleOf(mc jwt.MapClaims) string {
	if role, ok := mc["role"].(string); ok && role != "" {
		return role
	}
	if admin, ok := mc["is_admin"].(bool); ok && admin {
		return "admin"
	}
	return ""
}
