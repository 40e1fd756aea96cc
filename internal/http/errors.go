package http

import (
	"log/slog"
	"net/http"

	"github.com/arceon/internal/domain"
	"github.com/gin-gonic/gin"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// handleServiceError maps a service error to its HTTP response and logs it once
func (s *Server) handleServiceError(c *gin.Context, operation string, err error) {
	ctx := c.Request.Context()

	switch {
	case domain.IsUnauthenticated(err):
		slog.InfoContext(ctx, "request not authenticated", "operation", operation, "reason", domain.PublicMessage(err))
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: domain.PublicMessage(err)})

	case domain.IsValidationError(err):
		slog.WarnContext(ctx, "invalid request", "operation", operation, "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: domain.PublicMessage(err)})

	case domain.IsUnavailable(err):
		slog.WarnContext(ctx, "feature unavailable", "operation", operation, "error", err)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: domain.PublicMessage(err)})

	case domain.IsUpstreamError(err) && s.config.Upstream.PassThroughStatus && domain.UpstreamStatus(err) >= http.StatusBadRequest:
		status := domain.UpstreamStatus(err)
		slog.WarnContext(ctx, "upstream rejected request", "operation", operation, "upstream_status", status, "error", err)
		c.JSON(status, ErrorResponse{Error: "Upstream error: " + domain.CauseMessage(err)})

	default:
		slog.ErrorContext(ctx, "request failed", "operation", operation, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error: " + domain.CauseMessage(err)})
	}
}
