package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := errors.New("connection reset")
	err := fmt.Errorf("save recording: %w", Storage("could not persist recording", base))

	assert.Equal(t, KindStorage, KindOf(err))
	assert.True(t, Is(err, KindStorage))
	assert.False(t, Is(err, KindConflict))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "could not persist recording", Message(err))
}

func TestUntaggedErrorsAreInternal(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, "internal error", Message(err))
	assert.False(t, Is(nil, KindInternal))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:         http.StatusBadRequest,
		KindMalformed:          http.StatusUnprocessableEntity,
		KindNotFound:           http.StatusNotFound,
		KindConflict:           http.StatusConflict,
		KindServiceUnavailable: http.StatusServiceUnavailable,
		KindOwnership:          http.StatusForbidden,
		KindForbidden:          http.StatusForbidden,
		KindUnauthorized:       http.StatusUnauthorized,
		KindStorage:            http.StatusInternalServerError,
		KindInternal:           http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), kind)
	}
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "recording not found", NotFound("recording %s", "not found").Error())
	assert.Equal(t, "engine start failed: timeout", Unavailable("engine start failed", errors.New("timeout")).Error())
}
