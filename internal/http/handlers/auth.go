package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stowagehq/stowage-backend/internal/http/response"
	"github.com/stowagehq/stowage-backend/internal/services"
)

type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// POST /api/auth/token
func (ah *AuthHandler) IssueToken(c *gin.Context) {
	var req struct {
		TenantID string `json:"tenant_id"`
		APIKey   string `json:"api_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	tenantID, err := uuid.Parse(strings.TrimSpace(req.TenantID))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_tenant_id", err)
		return
	}
	tok, err := ah.authService.IssueToken(c.Request.Context(), tenantID, req.APIKey)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, tok)
}
