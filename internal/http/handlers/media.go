package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stowagehq/stowage-backend/internal/data/repos"
	"github.com/stowagehq/stowage-backend/internal/domain"
	"github.com/stowagehq/stowage-backend/internal/http/response"
	"github.com/stowagehq/stowage-backend/internal/ingestion"
	"github.com/stowagehq/stowage-backend/internal/pkg/ctxutil"
	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
)

const maxMultipartMemory = 32 << 20

type MediaHandler struct {
	log     *logger.Logger
	media   ingestion.MediaService
	indexer ingestion.Indexer
}

func NewMediaHandler(log *logger.Logger, media ingestion.MediaService, indexer ingestion.Indexer) *MediaHandler {
	return &MediaHandler{
		log:     log.With("handler", "MediaHandler"),
		media:   media,
		indexer: indexer,
	}
}

// POST /api/media
func (h *MediaHandler) Upload(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.TenantID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}
	comment := strings.TrimSpace(c.PostForm("comment"))

	f, mimeType, err := openUpload(fh)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}
	defer f.Close()

	file, err := h.media.IngestMedia(c.Request.Context(), rd.TenantID, ingestion.Upload{
		Name:     fh.Filename,
		MimeType: mimeType,
		Comment:  comment,
		Body:     f,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, file)
}

// POST /api/media/batch
func (h *MediaHandler) UploadBatch(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.TenantID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	if err := c.Request.ParseMultipartForm(maxMultipartMemory); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_multipart_form", err)
		return
	}
	form := c.Request.MultipartForm
	comment := ""
	if form != nil {
		if v := form.Value["comment"]; len(v) > 0 {
			comment = strings.TrimSpace(v[0])
		}
	}
	var fileHeaders []*multipart.FileHeader
	if form != nil {
		fileHeaders = form.File["files"]
	}
	if len(fileHeaders) == 0 {
		response.RespondError(c, http.StatusBadRequest, "no_files", nil)
		return
	}

	type batchItem struct {
		Name  string `json:"name"`
		OK    bool   `json:"ok"`
		ID    string `json:"id,omitempty"`
		Error string `json:"error,omitempty"`
		Code  string `json:"code,omitempty"`
	}

	// Each file runs the full pipeline on its own; one bad file never
	// blocks its neighbors.
	results := make([]batchItem, 0, len(fileHeaders))
	accepted := 0
	for _, fh := range fileHeaders {
		item := batchItem{Name: fh.Filename}
		f, mimeType, err := openUpload(fh)
		if err != nil {
			item.Error = err.Error()
			item.Code = "unreadable_file"
			results = append(results, item)
			continue
		}
		file, err := h.media.IngestMedia(c.Request.Context(), rd.TenantID, ingestion.Upload{
			Name:     fh.Filename,
			MimeType: mimeType,
			Comment:  comment,
			Body:     f,
		})
		_ = f.Close()
		if err != nil {
			h.log.Warn("batch upload item failed", "name", fh.Filename, "error", err)
			item.Error = err.Error()
			item.Code = string(pkgerrors.CodeOf(err))
			results = append(results, item)
			continue
		}
		item.OK = true
		item.ID = file.ID.String()
		results = append(results, item)
		accepted++
	}
	response.RespondOK(c, gin.H{"results": results, "accepted": accepted})
}

// GET /api/media
func (h *MediaHandler) List(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.TenantID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	offset, ok := intQuery(c, "offset")
	if !ok {
		return
	}
	files, err := h.media.List(c.Request.Context(), rd.TenantID, repos.CatalogFileListOptions{
		Category: strings.TrimSpace(c.Query("category")),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if files == nil {
		files = []*domain.CatalogFile{}
	}
	response.RespondOK(c, gin.H{"files": files})
}

// GET /api/media/:id
func (h *MediaHandler) Get(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.TenantID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	file, err := h.media.Get(c.Request.Context(), rd.TenantID, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, file)
}

// GET /api/media/:id/content
func (h *MediaHandler) Content(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.TenantID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	f, row, err := h.media.OpenContent(c.Request.Context(), rd.TenantID, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	defer f.Close()

	if row.MimeType != "" {
		c.Header("Content-Type", row.MimeType)
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", row.OriginalName))
	http.ServeContent(c.Writer, c.Request, row.OriginalName, row.UpdatedAt, f)
}

// DELETE /api/media/:id
func (h *MediaHandler) Delete(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.TenantID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	if err := h.media.Delete(c.Request.Context(), rd.TenantID, id); err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

// POST /api/media/:id/reindex
func (h *MediaHandler) Reindex(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.TenantID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	chunks, err := h.indexer.Reindex(c.Request.Context(), rd.TenantID, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true, "chunks": chunks})
}

// openUpload opens one multipart part and resolves its mime type, sniffing
// the first bytes when the part header carries none. The returned reader
// sits at offset zero.
func openUpload(fh *multipart.FileHeader) (multipart.File, string, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, "", err
	}
	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "" {
		buf := make([]byte, 512)
		n, _ := io.ReadFull(f, buf)
		mimeType = http.DetectContentType(buf[:n])
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, "", err
		}
	}
	return f, mimeType, nil
}

// intQuery parses an optional non-negative integer query parameter. A bad
// value writes the error response and reports false.
func intQuery(c *gin.Context, name string) (int, bool) {
	v := c.Query(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		response.RespondError(c, http.StatusBadRequest, "invalid_"+name, err)
		return 0, false
	}
	return n, true
}
