package httputil

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// ProxyPathParam is the wildcard segment name of the proxy route
const ProxyPathParam = "rest"

// ProxyPath extracts the upstream path for the proxy route. The "path" query
// parameter wins; otherwise the wildcard suffix and the remaining query
// string (minus "path") are used, so both /api/github?path=user/repos and
// /api/github/user/repos?per_page=5 work.
func ProxyPath(c *gin.Context) string {
	if path, ok := c.GetQuery("path"); ok {
		return strings.TrimSpace(path)
	}

	rest := strings.TrimLeft(c.Param(ProxyPathParam), "/")
	if rest == "" {
		return ""
	}

	query := c.Request.URL.Query()
	query.Del("path")
	if encoded := query.Encode(); encoded != "" {
		return rest + "?" + encoded
	}
	return rest
}
