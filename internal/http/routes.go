package http

import (
	"net/http"

	"github.com/arceon/internal/apipaths"
	"github.com/arceon/internal/domain"
	"github.com/arceon/internal/httputil"
	"github.com/gin-gonic/gin"
)

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Health check endpoint (no auth required)
	s.engine.GET(apipaths.Health, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "arceon",
		})
	})

	if s.metrics != nil {
		s.engine.GET(apipaths.Metrics, gin.WrapH(s.metrics.Handler()))
	}

	// OAuth2 login (browser redirects)
	s.engine.GET(apipaths.Authorization(domain.RegistrationGitHub), s.beginLogin)
	s.engine.GET(apipaths.Callback(domain.RegistrationGitHub), s.completeLogin)

	// API routes - the caller is resolved for every request; the proxy
	// service rejects anonymous callers itself
	api := s.engine.Group("/api")
	api.Use(s.sessionMiddleware())
	{
		api.GET("/user", s.getCurrentUser)
		api.GET("/github-token", s.getGitHubToken)
		api.POST("/logout", s.logout)

		api.GET("/github", s.proxyGitHub)
		api.GET("/github/*"+httputil.ProxyPathParam, s.proxyGitHub)
	}
}
