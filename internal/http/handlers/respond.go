package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/stowagehq/stowage-backend/internal/http/response"
	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
	"github.com/stowagehq/stowage-backend/internal/platform/apierr"
)

// respondServiceError writes the standard error envelope with the HTTP
// status mapped from the service error code.
func respondServiceError(c *gin.Context, err error) {
	code := pkgerrors.CodeOf(err)
	response.RespondError(c, apierr.Status(code), string(code), err)
}
