package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stowagehq/stowage-backend/internal/pkg/ctxutil"
)

func TestAttachTraceContextMintsIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var td *ctxutil.TraceData
	r := gin.New()
	r.Use(AttachTraceContext())
	r.GET("/", func(c *gin.Context) {
		td = ctxutil.GetTraceData(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if td == nil || td.TraceID == "" || td.RequestID == "" {
		t.Fatalf("trace data: %+v", td)
	}
	if _, err := uuid.Parse(td.RequestID); err != nil {
		t.Fatalf("minted request id should be a uuid: %q", td.RequestID)
	}
	if got := rec.Header().Get("X-Request-Id"); got != td.RequestID {
		t.Fatalf("request id header: want %q, got %q", td.RequestID, got)
	}
	if got := rec.Header().Get("X-Trace-Id"); got != td.TraceID {
		t.Fatalf("trace id header: want %q, got %q", td.TraceID, got)
	}
}

func TestAttachTraceContextKeepsCallerIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(AttachTraceContext())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "req-from-gateway")
	req.Header.Set("X-Trace-Id", "trace-from-gateway")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "req-from-gateway" {
		t.Fatalf("request id header: %q", got)
	}
	if got := rec.Header().Get("X-Trace-Id"); got != "trace-from-gateway" {
		t.Fatalf("trace id header: %q", got)
	}
}
