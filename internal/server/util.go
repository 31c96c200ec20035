package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

func writeJSON(c *gin.Context, code int, v interface{}) {
	c.JSON(code, v)
}

// sanitizeBase normalizes a base path to "" or "/clean/path" with no
// trailing slash and no traversal segments.
func sanitizeBase(basePath string) string {
	bp := strings.TrimSpace(basePath)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	parts := strings.Split(bp, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return ""
	}
	return "/" + strings.Join(out, "/")
}
