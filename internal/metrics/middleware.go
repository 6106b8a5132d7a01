package metrics

import "github.com/gin-gonic/gin"

// RequestMiddleware records request count and error count (status >= 400).
func RequestMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		m.IncRequests()
		if c.Writer.Status() >= 400 {
			m.IncErrors()
		}
	}
}
