package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/recordings/pkg/apperr"
	"github.com/aura-webinar/recordings/pkg/response"
)

func TestErrorMapsKindToStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		err    error
		status int
	}{
		{apperr.Conflict("recording already active"), http.StatusConflict},
		{apperr.NotFound("recording not found"), http.StatusNotFound},
		{apperr.Malformed("bad id"), http.StatusUnprocessableEntity},
		{apperr.Validation("empty batch"), http.StatusBadRequest},
		{apperr.Unavailable("timed out while starting", nil), http.StatusServiceUnavailable},
		{apperr.Ownership("other room"), http.StatusForbidden},
		{apperr.Storage("save", assert.AnError), http.StatusInternalServerError},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		response.Error(c, tc.err)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())

		var body response.Body
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.False(t, body.Success)
		assert.Equal(t, apperr.KindOf(tc.err), body.Kind)
	}
}

func TestNoRouteIsEnvelopedNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.NoRoute(func(c *gin.Context) { response.NotFound(c, "route not found") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body response.Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apperr.KindNotFound, body.Kind)
	assert.Equal(t, "route not found", body.Error)
}
