package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/merchware/gatekeeper/pkg/constants"
)

func TestErrorTaxonomy(t *testing.T) {
	cases := []struct {
		err    *AppError
		code   string
		status int
	}{
		{ErrMissingKey("X-STOREFRONT-KEY", constants.KeyTypeShop), constants.ErrorCodeMissingKey, http.StatusUnauthorized},
		{ErrInvalidKey(constants.KeyTypeShop), constants.ErrorCodeInvalidKey, http.StatusUnauthorized},
		{ErrIPDenied(), constants.ErrorCodeIPDenied, http.StatusForbidden},
		{ErrRateLimitExceeded(600), constants.ErrorCodeRateLimitExceeded, http.StatusTooManyRequests},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, tc.err.Code)
		assert.Equal(t, tc.status, tc.err.HTTPStatus)
		assert.NotEmpty(t, tc.err.Message)
	}
}

func TestCauseChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := ErrUnavailable(cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "connection refused")
	assert.True(t, IsTransient(err))
	assert.False(t, IsTransient(ErrInvalidKey(constants.KeyTypeShop)))

	wrapped := fmt.Errorf("validate: %w", err)
	appErr, ok := AsAppError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, constants.ErrorCodeUnavailable, appErr.Code)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(ErrNotFound))
	assert.True(t, IsNotFound(fmt.Errorf("lookup: %w", ErrNotFound)))
	assert.False(t, IsNotFound(errors.New("boom")))
	assert.False(t, IsNotFound(nil))
}
