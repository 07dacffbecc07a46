package imerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("append: %w", Blocked("you have blocked this user"))

	assert.True(t, errors.Is(err, ErrBlocked))
	assert.False(t, errors.Is(err, ErrForbidden))
	assert.True(t, Is(err, CodeBlocked))
	assert.False(t, Is(errors.New("plain"), CodeBlocked))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NotFound("conversation", nil), http.StatusNotFound},
		{"blocked", Blocked("x"), http.StatusForbidden},
		{"not a member", NotAMember("x"), http.StatusForbidden},
		{"rate limited", RateLimited("slow down"), http.StatusTooManyRequests},
		{"bad request", BadRequest("x", nil), http.StatusBadRequest},
		{"untyped", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestFromWrapsUntyped(t *testing.T) {
	cause := errors.New("db down")
	appErr := From(cause)

	assert.Equal(t, CodeInternal, appErr.Code)
	assert.ErrorIs(t, appErr, cause)

	typed := Forbidden("nope")
	assert.Same(t, typed, From(typed))
}
