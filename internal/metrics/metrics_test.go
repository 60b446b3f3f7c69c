package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(MessagesAppended.WithLabelValues("text"))
	RecordAppend("text", 0.01)
	assert.Equal(t, before+1, testutil.ToFloat64(MessagesAppended.WithLabelValues("text")))

	missBefore := testutil.ToFloat64(DeliveryMisses.WithLabelValues(MissBufferFull))
	RecordMiss(MissBufferFull)
	assert.Equal(t, missBefore+1, testutil.ToFloat64(DeliveryMisses.WithLabelValues(MissBufferFull)))
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("GET", "/items/:id", "204"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items/42", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(RequestsTotal.WithLabelValues("GET", "/items/:id", "204")))
}
