package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stowagehq/stowage-backend/internal/data/repos"
	"github.com/stowagehq/stowage-backend/internal/domain"
	"github.com/stowagehq/stowage-backend/internal/http/response"
	"github.com/stowagehq/stowage-backend/internal/jsonstore"
	"github.com/stowagehq/stowage-backend/internal/pkg/ctxutil"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
)

const maxJSONBody = 32 << 20

type JSONHandler struct {
	log  *logger.Logger
	docs jsonstore.Service
}

func NewJSONHandler(log *logger.Logger, docs jsonstore.Service) *JSONHandler {
	return &JSONHandler{
		log:  log.With("handler", "JSONHandler"),
		docs: docs,
	}
}

// POST /api/json
//
// The body is the document itself. With ?preview=true the shape analysis
// runs and returns without persisting anything.
func (h *JSONHandler) Ingest(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.TenantID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxJSONBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.RespondError(c, http.StatusRequestEntityTooLarge, "body_too_large", err)
			return
		}
		response.RespondError(c, http.StatusBadRequest, "unreadable_body", err)
		return
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		response.RespondError(c, http.StatusBadRequest, "empty_body", nil)
		return
	}
	var tree any
	if err := sonic.Unmarshal(raw, &tree); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}

	if preview, _ := strconv.ParseBool(c.Query("preview")); preview {
		response.RespondOK(c, h.docs.Preview(tree))
		return
	}

	doc, err := h.docs.Ingest(c.Request.Context(), rd.TenantID, tree, splitTags(c.Query("tags")))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, doc)
}

// GET /api/json
func (h *JSONHandler) List(c *gin.Context) {
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
	docs, err := h.docs.List(c.Request.Context(), rd.TenantID, repos.CatalogJSONListOptions{
		Backing: strings.TrimSpace(c.Query("backing")),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if docs == nil {
		docs = []*domain.CatalogJSON{}
	}
	response.RespondOK(c, gin.H{"docs": docs})
}

// GET /api/json/:id
func (h *JSONHandler) Get(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.TenantID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	res, err := h.docs.Fetch(c.Request.Context(), rd.TenantID, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, res)
}

// DELETE /api/json/:id
func (h *JSONHandler) Delete(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.TenantID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	if err := h.docs.Delete(c.Request.Context(), rd.TenantID, id); err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}
