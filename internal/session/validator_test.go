package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestJWTValidatorValidate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := NewJWTValidator()

	future := signToken(t, jwt.MapClaims{"sub": "u1", "exp": now.Add(time.Hour).Unix()})
	past := signToken(t, jwt.MapClaims{"sub": "u1", "exp": now.Add(-time.Second).Unix()})
	exactlyNow := signToken(t, jwt.MapClaims{"sub": "u1", "exp": now.Unix()})
	noExp := signToken(t, jwt.MapClaims{"sub": "u1"})
	stringExp := signToken(t, jwt.MapClaims{"sub": "u1", "exp": "tomorrow"})

	tests := []struct {
		name  string
		token string
		want  Validity
	}{
		{"future expiry", future, Valid},
		{"bearer prefix stripped", "Bearer " + future, Valid},
		{"past expiry", past, Expired},
		{"expiry equal to now is not expired", exactlyNow, Valid},
		{"no expiry never expires", noExp, Valid},
		{"non-numeric expiry", stringExp, Expired},
		{"two segments", "aaa.bbb", Malformed},
		{"four segments", "a.b.c.d", Malformed},
		{"empty segment", "aaa..ccc", Malformed},
		{"empty string", "", Malformed},
		{"undecodable claims", "aaa.!!!.ccc", Expired},
		{"claims not an object", "aaa.WzFd.ccc", Expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.Validate(tt.token, now))
		})
	}
}

func TestJWTValidatorStructureAndExpiry(t *testing.T) {
	v := NewJWTValidator()
	now := time.Now()

	assert.True(t, v.IsStructurallyValid("a.b.c"))
	assert.False(t, v.IsStructurallyValid("a.b"))
	assert.True(t, v.IsExpired("a.%%%.c", now), "undecodable claims fail closed")
	assert.False(t, v.IsExpired(signToken(t, jwt.MapClaims{"sub": "x"}), now))
}

func TestJWTValidatorDecodeClaims(t *testing.T) {
	v := NewJWTValidator()
	exp := time.Unix(1_800_000_000, 0)

	claims, err := v.DecodeClaims("Bearer " + signToken(t, jwt.MapClaims{
		"sub": "teacher", "exp": exp.Unix(), "is_admin": true,
	}))
	require.NoError(t, err)
	assert.Equal(t, "teacher", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
	assert.True(t, exp.Equal(claims.ExpiresAt))

	claims, err = v.DecodeClaims(signToken(t, jwt.MapClaims{"sub": "s", "role": "editor"}))
	require.NoError(t, err)
	assert.Equal(t, "editor", claims.Role)
	assert.True(t, claims.ExpiresAt.IsZero())

	_, err = v.DecodeClaims("nope")
	assert.ErrorIs(t, err, ErrMalformedToken)
}
