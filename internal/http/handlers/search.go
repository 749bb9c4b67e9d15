package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stowagehq/stowage-backend/internal/http/response"
	"github.com/stowagehq/stowage-backend/internal/pkg/ctxutil"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
	"github.com/stowagehq/stowage-backend/internal/search"
	"github.com/stowagehq/stowage-backend/internal/textindex"
)

type SearchHandler struct {
	log      *logger.Logger
	composer search.Composer
}

func NewSearchHandler(log *logger.Logger, composer search.Composer) *SearchHandler {
	return &SearchHandler{
		log:      log.With("handler", "SearchHandler"),
		composer: composer,
	}
}

// POST /api/search
func (h *SearchHandler) Search(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.TenantID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var req struct {
		Query      string   `json:"query"`
		Mode       string   `json:"mode"`
		TopK       int      `json:"topK"`
		Categories []string `json:"categories"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.composer.Search(c.Request.Context(), rd.TenantID, req.Query, search.Options{
		Mode:       search.Mode(req.Mode),
		TopK:       req.TopK,
		Categories: req.Categories,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, res)
}

// GET /api/search/autocomplete
func (h *SearchHandler) Autocomplete(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.TenantID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	prefix := strings.TrimSpace(c.Query("prefix"))
	if prefix == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_prefix", nil)
		return
	}
	k, ok := intQuery(c, "k")
	if !ok {
		return
	}
	suggestions, err := h.composer.Autocomplete(c.Request.Context(), rd.TenantID, prefix, k)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if suggestions == nil {
		suggestions = []textindex.Suggestion{}
	}
	response.RespondOK(c, gin.H{"prefix": prefix, "suggestions": suggestions})
}
