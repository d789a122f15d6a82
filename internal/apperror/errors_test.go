package apperror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromResponse(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind Kind
		wantMsg  string
	}{
		{"json error field", http.StatusInternalServerError, `{"error":"parser crashed"}`, KindServer, "parser crashed"},
		{"json detail field", http.StatusUnprocessableEntity, `{"detail":"no questions found"}`, KindValidation, "no questions found"},
		{"nested message", http.StatusBadGateway, `{"error":{"message":"upstream down"}}`, KindServer, "upstream down"},
		{"plain text", http.StatusBadRequest, "only PDF files supported\n", KindValidation, "only PDF files supported"},
		{"empty body", http.StatusServiceUnavailable, "", KindServer, "Service Unavailable"},
		{"unauthorized", http.StatusUnauthorized, `{"detail":"Not authenticated"}`, KindUnauthorized, "Not authenticated"},
		{"forbidden", http.StatusForbidden, "", KindForbidden, "Forbidden"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromResponse(tt.status, []byte(tt.body))
			assert.Equal(t, tt.wantKind, err.Kind)
			assert.Equal(t, tt.wantMsg, err.Message)
			assert.Equal(t, tt.status, err.Code)
		})
	}
}

func TestIsAuthThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("upload: %w", NewUnauthorized("token revoked"))
	assert.True(t, IsAuth(wrapped))
	assert.True(t, Is(wrapped, KindUnauthorized))
	assert.Equal(t, "token revoked", SafeMessage(wrapped))

	assert.False(t, IsAuth(NewValidation("too big")))
	assert.False(t, IsAuth(errors.New("plain")))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestNewNetworkTimeout(t *testing.T) {
	err := NewNetwork(fmt.Errorf("post: %w", context.DeadlineExceeded))
	assert.Equal(t, KindTimeout, err.Kind)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = NewNetwork(errors.New("connection refused"))
	assert.Equal(t, KindNetwork, err.Kind)
}
