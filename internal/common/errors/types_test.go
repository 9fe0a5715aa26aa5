package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := ConnectionError("failed to join room", stderrors.New("refused")).
		WithCode("JOIN").
		WithContext("room", "feeds.sources").
		WithContext("attempt", 2)

	assert.Equal(t,
		"connection: failed to join room: code=JOIN: cause=refused: context={attempt=2, room=feeds.sources}",
		err.Error())
}

func TestIsType_Wrapped(t *testing.T) {
	base := NotFoundError("session")
	wrapped := fmt.Errorf("lookup: %w", base)

	assert.True(t, IsType(wrapped, ErrTypeNotFound))
	assert.False(t, IsType(wrapped, ErrTypeTimeout))
	assert.False(t, IsType(nil, ErrTypeNotFound))
}

func TestGetType(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorType
	}{
		{"nil", nil, ""},
		{"plain", stderrors.New("x"), ErrTypeInternal},
		{"validation", ValidationError("bad rule"), ErrTypeValidation},
		{"lifecycle", LifecycleError("double release"), ErrTypeLifecycle},
		{"timeout", fmt.Errorf("send: %w", TimeoutError("send")), ErrTypeTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetType(tt.err))
		})
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("root")
	err := InternalError("wrap", cause)
	assert.ErrorIs(t, err, cause)
}
