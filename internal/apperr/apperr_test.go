package apperr

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsMatchesWrappedKind(t *testing.T) {
	err := Wrap(fmt.Errorf("connection refused"), KindDatabase, "query users")
	require.True(t, Is(err, KindDatabase))
	require.False(t, Is(err, KindNotFound))
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	require.Equal(t, KindInternal, KindOf(fmt.Errorf("some plain error")))
}

func TestHTTPStatusMapping(t *testing.T) {
	require.Equal(t, http.StatusUnauthorized, HTTPStatus(KindInvalidCredentials))
	require.Equal(t, http.StatusNotFound, HTTPStatus(KindNotFound))
	require.Equal(t, http.StatusConflict, HTTPStatus(KindAlreadyExists))
	require.Equal(t, http.StatusTooManyRequests, HTTPStatus(KindRateLimited))
	require.Equal(t, http.StatusInternalServerError, HTTPStatus(KindInternal))
}

func TestNewErrorMessageFormatting(t *testing.T) {
	err := New(KindValidation, "field %q is required", "email")
	require.Equal(t, "validation_error: field \"email\" is required", err.Error())
}
