package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stowagehq/stowage-backend/internal/pkg/ctxutil"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
)

func testLog() *logger.Logger { return logger.New("test") }

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

// withTenant stamps an authenticated tenant onto the request, standing in
// for the auth middleware.
func withTenant(tenantID uuid.UUID) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{
			TenantID:   tenantID,
			TenantName: "acme",
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

type formFile struct {
	field       string
	name        string
	contentType string
	content     []byte
}

func buildMultipart(t *testing.T, values map[string]string, files ...formFile) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range values {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	for _, ff := range files {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, ff.field, ff.name))
		if ff.contentType != "" {
			hdr.Set("Content-Type", ff.contentType)
		}
		part, err := w.CreatePart(hdr)
		if err != nil {
			t.Fatalf("create part %s: %v", ff.name, err)
		}
		if _, err := part.Write(ff.content); err != nil {
			t.Fatalf("write part %s: %v", ff.name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

// envelopeCode pulls the error code out of the standard error envelope.
func envelopeCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	decodeBody(t, rec, &env)
	return env.Error.Code
}
