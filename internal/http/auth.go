package http

import (
	"github.com/arceon/internal/domain"
	"github.com/gin-gonic/gin"
)

// Browser login endpoints:
//   - GET /oauth2/authorization/github  - start the GitHub OAuth2 flow
//   - GET /login/oauth2/code/github     - GitHub redirects back here
//
// Sessions are JWT cookies; POST /api/logout clears them.

// beginLogin redirects to GitHub, or answers 503 when login is not configured
func (s *Server) beginLogin(c *gin.Context) {
	if s.login == nil {
		s.handleServiceError(c, "begin login", domain.ErrLoginUnavailable)
		return
	}
	if err := s.login.Begin(c.Writer, c.Request); err != nil {
		s.handleServiceError(c, "begin login", err)
	}
}

// completeLogin handles the provider callback; it always redirects
func (s *Server) completeLogin(c *gin.Context) {
	if s.login == nil {
		s.handleServiceError(c, "complete login", domain.ErrLoginUnavailable)
		return
	}
	s.login.Callback(c.Writer, c.Request)
}
