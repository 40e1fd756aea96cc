package http

import (
	"net/http"

	"github.com/arceon/internal/httputil"
	"github.com/gin-gonic/gin"
)

const defaultProxyContentType = "application/json; charset=utf-8"

// getCurrentUser returns the caller's GitHub profile
func (s *Server) getCurrentUser(c *gin.Context) {
	resp, err := s.proxyService.GetCurrentUser(c.Request.Context(), getAuthentication(c))
	if err != nil {
		s.handleServiceError(c, "get current user", err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// getGitHubToken returns the caller's raw GitHub access token
func (s *Server) getGitHubToken(c *gin.Context) {
	resp, err := s.proxyService.GetToken(c.Request.Context(), getAuthentication(c))
	if err != nil {
		s.handleServiceError(c, "get github token", err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// logout ends the session. It succeeds whether or not a session exists.
func (s *Server) logout(c *gin.Context) {
	if s.sessions != nil {
		s.sessions.Logout(c.Writer, c.Request)
	}

	c.JSON(http.StatusOK, s.proxyService.Logout(c.Request.Context()))
}

// proxyGitHub forwards one GET to the GitHub API and returns the body unchanged
func (s *Server) proxyGitHub(c *gin.Context) {
	path := httputil.ProxyPath(c)

	resp, err := s.proxyService.ProxyGet(c.Request.Context(), getAuthentication(c), path)
	if err != nil {
		s.handleServiceError(c, "proxy github", err)
		return
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = defaultProxyContentType
	}
	c.Data(http.StatusOK, contentType, resp.Body)
}
