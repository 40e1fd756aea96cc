package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arceon/internal/config"
	"github.com/arceon/internal/domain"
	"github.com/arceon/internal/metrics"
	"github.com/gin-gonic/gin"
)

// SessionAuthenticator resolves the caller of a request and ends sessions
type SessionAuthenticator interface {
	Authenticate(w http.ResponseWriter, r *http.Request) domain.Authentication
	Logout(w http.ResponseWriter, r *http.Request)
}

// LoginHandler runs the browser side of the OAuth2 login
type LoginHandler interface {
	Begin(w http.ResponseWriter, r *http.Request) error
	Callback(w http.ResponseWriter, r *http.Request)
}

// Server wraps the HTTP server
type Server struct {
	config       *config.Config
	proxyService domain.ProxyService
	sessions     SessionAuthenticator
	login        LoginHandler
	metrics      *metrics.Metrics
	engine       *gin.Engine
	httpServer   *http.Server
}

// NewServer creates a new HTTP server. metrics may be nil, which disables /metrics.
func NewServer(cfg *config.Config, proxyService domain.ProxyService, sessions SessionAuthenticator, login LoginHandler, m *metrics.Metrics) *Server {
	// Set Gin mode based on environment
	switch cfg.Environment {
	case "production":
		gin.SetMode(gin.ReleaseMode)
	case "development":
		gin.SetMode(gin.DebugMode)
	default:
		gin.SetMode(gin.TestMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	// Middleware - order matters
	engine.Use(securityHeadersMiddleware())
	engine.Use(corsMiddleware(cfg))
	engine.Use(cacheControlMiddleware())
	engine.Use(loggerMiddleware())
	engine.Use(metricsMiddleware(m))
	engine.Use(jsonBodyLimitMiddleware(maxBodySize))

	server := &Server{
		config:       cfg,
		proxyService: proxyService,
		sessions:     sessions,
		login:        login,
		metrics:      m,
		engine:       engine,
	}

	// Setup routes
	server.setupRoutes()

	addr := cfg.ServerAddress
	if addr == "" {
		addr = ":8081"
	}

	// Configure server with timeouts
	server.httpServer = &http.Server{
		Addr:           addr,
		Handler:        engine,
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    idleTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB max header size
	}

	return server
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

const (
	maxBodySize  = 1 << 20           // 1MB max request body
	readTimeout  = 30 * time.Second  // 30s for reading request
	writeTimeout = 60 * time.Second  // covers the upstream timeout with room to spare
	idleTimeout  = 120 * time.Second // 2 minutes idle
)

// Run starts the HTTP server and blocks until it stops. A graceful Shutdown
// makes Run return nil.
func (s *Server) Run() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// securityHeadersMiddleware adds security-related HTTP headers
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Prevent MIME type sniffing
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")
		// Prevent clickjacking
		c.Writer.Header().Set("X-Frame-Options", "DENY")
		// Referrer policy
		c.Writer.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		// HSTS (only if using HTTPS)
		if c.Request.TLS != nil {
			c.Writer.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

// corsMiddleware allows credentialed requests from the configured origins only
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is in allowed list
		allowed := false
		for _, allowedOrigin := range cfg.CORS.AllowedOrigins {
			if origin == allowedOrigin {
				allowed = true
				break
			}
		}

		c.Writer.Header().Add("Vary", "Origin")
		if allowed {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-JWT")
			c.Writer.Header().Set("Access-Control-Max-Age", "86400") // 24 hours
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// cacheControlMiddleware disables caching for everything that carries user data
func cacheControlMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path

		if strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/oauth2/") || strings.HasPrefix(path, "/login/") {
			c.Writer.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
			c.Writer.Header().Set("Pragma", "no-cache")
			c.Writer.Header().Set("Expires", "0")
		}

		c.Next()
	}
}

// jsonBodyLimitMiddleware limits the size of JSON request bodies to prevent DoS
func jsonBodyLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Only apply to JSON requests
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodOptions {
			contentType := c.GetHeader("Content-Type")
			if strings.Contains(contentType, "application/json") {
				if c.Request.ContentLength > maxBytes {
					c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResponse{
						Error: "Request body too large",
					})
					return
				}
				// Wrap the request body with MaxBytesReader
				c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
			}
		}
		c.Next()
	}
}

// loggerMiddleware logs HTTP requests. Query strings are left out because the
// OAuth2 callback carries the authorization code there.
func loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		slog.InfoContext(c.Request.Context(), "HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"remote_addr", c.ClientIP(),
		)
	}
}

// metricsMiddleware records request counts by route template
func metricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// sessionMiddleware resolves the caller once per request. It never rejects;
// the proxy service decides what an anonymous caller may do.
func (s *Server) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := domain.Anonymous()
		if s.sessions != nil {
			auth = s.sessions.Authenticate(c.Writer, c.Request)
		}
		c.Set(authContextKey, auth)
		c.Next()
	}
}

const authContextKey = "authentication"

// getAuthentication extracts the caller resolved by sessionMiddleware
func getAuthentication(c *gin.Context) domain.Authentication {
	if value, exists := c.Get(authContextKey); exists {
		if auth, ok := value.(domain.Authentication); ok {
			return auth
		}
	}
	return domain.Anonymous()
}
