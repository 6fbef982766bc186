package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "bad room name", http.StatusBadRequest)
	assert.Equal(t, "INVALID_INPUT: bad room name", err.Error())

	cause := errors.New("underlying failure")
	wrapped := WrapError(cause, ErrCodeInternal, "something broke", http.StatusInternalServerError)
	assert.Contains(t, wrapped.Error(), "caused by: underlying failure")
	assert.Equal(t, cause, wrapped.Unwrap())
}

func TestAppError_WithContext(t *testing.T) {
	err := NewNotFoundError("room").WithContext("room_id", "r1")
	assert.Equal(t, "r1", err.Context["room_id"])
	assert.Equal(t, http.StatusNotFound, err.HTTPStatus)
}

func TestPermissionDeniedError(t *testing.T) {
	err := NewPermissionDeniedError("camera access denied")
	assert.Equal(t, ErrCodePermissionDenied, err.Code)
	assert.Equal(t, http.StatusForbidden, err.HTTPStatus)
}

func TestSignalingUnavailableError(t *testing.T) {
	err := NewSignalingUnavailableError()
	assert.Equal(t, ErrCodeSignalingUnavailable, err.Code)
	assert.Equal(t, http.StatusServiceUnavailable, err.HTTPStatus)
}

func TestPeerSessionError(t *testing.T) {
	cause := errors.New("ice failure")
	err := NewPeerSessionError(cause)
	assert.Equal(t, ErrCodePeerSessionFailed, err.Code)
	assert.True(t, errors.Is(err, cause))
}

func TestGetAppError(t *testing.T) {
	appErr := NewConflictError("room already exists")

	assert.Equal(t, appErr, GetAppError(appErr))
	assert.Nil(t, GetAppError(nil))
	assert.Nil(t, GetAppError(errors.New("plain")))

	wrapped := fmt.Errorf("handler: %w", appErr)
	assert.Equal(t, appErr, GetAppError(wrapped))
}

func TestIsAppError(t *testing.T) {
	assert.True(t, IsAppError(NewRateLimitError()))
	assert.False(t, IsAppError(errors.New("plain")))
}
