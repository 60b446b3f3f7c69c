package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	return c, w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var r Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r))
	return r
}

func TestCodeFor(t *testing.T) {
	assert.Equal(t, CodeNotFound, CodeFor(http.StatusNotFound))
	assert.Equal(t, CodeConflict, CodeFor(http.StatusConflict))
	assert.Equal(t, CodeUnavailable, CodeFor(http.StatusServiceUnavailable))
	assert.Equal(t, CodeBadRequest, CodeFor(http.StatusTeapot))
	assert.Equal(t, CodeInternalError, CodeFor(http.StatusBadGateway))
}

func TestErrorMap_Write(t *testing.T) {
	errMissing := errors.New("missing")
	errDenied := errors.New("denied")
	m := ErrorMap{
		{Target: errMissing, Status: http.StatusNotFound},
		{Target: errDenied, Status: http.StatusForbidden},
	}

	tests := []struct {
		name    string
		err     error
		matched bool
		status  int
		code    string
		message string
	}{
		{"wrapped target", fmt.Errorf("conversation %w", errMissing), true, http.StatusNotFound, CodeNotFound, "conversation missing"},
		{"second rule", errDenied, true, http.StatusForbidden, CodeForbidden, "denied"},
		{"unmapped error hides text", errors.New("disk full"), false, http.StatusInternalServerError, CodeInternalError, "operation failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newContext()
			assert.Equal(t, tt.matched, m.Write(c, tt.err, "operation failed"))
			assert.Equal(t, tt.status, w.Code)

			r := decode(t, w)
			assert.False(t, r.Success)
			require.NotNil(t, r.Error)
			assert.Equal(t, tt.code, r.Error.Code)
			assert.Equal(t, tt.message, r.Error.Message)
		})
	}
}

func TestErrorMap_FirstRuleWins(t *testing.T) {
	base := errors.New("base")
	specific := fmt.Errorf("specific: %w", base)
	m := ErrorMap{
		{Target: specific, Status: http.StatusConflict},
		{Target: base, Status: http.StatusBadRequest},
	}

	status, ok := m.Status(fmt.Errorf("wrapped: %w", specific))
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, status)

	status, ok = m.Status(base)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestServiceUnavailable(t *testing.T) {
	c, w := newContext()
	ServiceUnavailable(c, "database unreachable", gin.H{"database": "dial tcp: refused"})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	r := decode(t, w)
	assert.False(t, r.Success)
	assert.Equal(t, CodeUnavailable, r.Error.Code)
	assert.Equal(t, map[string]interface{}{"database": "dial tcp: refused"}, r.Data)
}

func TestCreated(t *testing.T) {
	c, w := newContext()
	Created(c, gin.H{"id": "m1"})

	assert.Equal(t, http.StatusCreated, w.Code)
	r := decode(t, w)
	assert.True(t, r.Success)
	assert.Nil(t, r.Error)
}
