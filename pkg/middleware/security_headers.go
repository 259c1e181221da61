package middleware

import "github.com/gin-gonic/gin"

// apiSecurityHeaders suit a JSON API that serves no documents. Balances and
// card codes must not land in shared caches.
var apiSecurityHeaders = map[string]string{
	"X-Content-Type-Options":    "nosniff",
	"X-Frame-Options":           "DENY",
	"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
	"Referrer-Policy":           "no-referrer",
	"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	"Cache-Control":             "no-store",
}

// SecurityHeaders sets the response headers every API answer carries
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		for name, value := range apiSecurityHeaders {
			h.Set(name, value)
		}
		c.Next()
	}
}
