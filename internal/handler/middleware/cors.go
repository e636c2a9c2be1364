package middleware

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"
	"github.com/yokitheyo/rembgapi/internal/helpers"
)

// CORSMiddleware allows the comma separated origins, "*" allows any.
func CORSMiddleware(allowedOrigins string) ginext.HandlerFunc {
	origins := make(map[string]struct{})
	wildcard := false
	for _, o := range helpers.SplitAndTrim(allowedOrigins, ",") {
		if o == "*" {
			wildcard = true
		}
		origins[o] = struct{}{}
	}

	return func(c *ginext.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case wildcard:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "":
			if _, ok := origins[origin]; ok {
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
				c.Writer.Header().Add("Vary", "Origin")
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Accept, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Processing-Time, X-Request-ID, Content-Disposition")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
