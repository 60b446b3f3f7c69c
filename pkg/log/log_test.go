package log

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	dec := json.NewDecoder(buf)
	for dec.More() {
		var m map[string]interface{}
		require.NoError(t, dec.Decode(&m))
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" warning "))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestNew_ServiceField(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", ServiceName: "dm-service", Output: &buf})

	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "dm-service", got[0][FieldService])
	assert.Equal(t, "shown", got[0]["message"])
}

func TestContextEnrichment(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), New(Config{Output: &buf}))
	ctx = WithUser(ctx, "alice")
	ctx = WithConn(ctx, "c-1")
	assert.Equal(t, ctx, WithUser(ctx, ""))

	l := Ctx(ctx)
	l.Info().Msg("hello")

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0][FieldUserID])
	assert.Equal(t, "c-1", got[0][FieldConnID])
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	r := gin.New()
	r.Use(GinMiddleware(New(Config{Output: &buf}), "/health"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/items/:id", func(c *gin.Context) {
		c.Set(FieldUserID, "bob")
		l := Ctx(c.Request.Context())
		l.Info().Msg("inside")
		c.Status(http.StatusNotFound)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, w.Header().Get(headerRequestID))
	assert.Empty(t, lines(t, &buf))

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/items/42", nil)
	req.Header.Set(headerRequestID, "req-7")
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-7", w.Header().Get(headerRequestID))

	got := lines(t, &buf)
	require.Len(t, got, 2)
	assert.Equal(t, "req-7", got[0][FieldRequestID])
	assert.Equal(t, "inside", got[0]["message"])

	done := got[1]
	assert.Equal(t, "warn", done["level"])
	assert.Equal(t, "/items/:id", done[FieldRoute])
	assert.Equal(t, "/items/42", done[FieldPath])
	assert.Equal(t, float64(http.StatusNotFound), done[FieldStatus])
	assert.Equal(t, "bob", done[FieldUserID])
}

func TestSetLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	var buf bytes.Buffer
	logger := New(Config{Level: "debug", Output: &buf})

	SetLevel("error")
	logger.Warn().Msg("suppressed")
	SetLevel("debug")
	logger.Debug().Msg("visible")

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "visible", got[0]["message"])
}
