package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-mpesa-checkout/internal/metrics"
)

// Metrics records every request in the metrics package's HTTP collectors,
// labelled by registered route so path parameters such as a checkout id
// never become label values.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics.HTTPInflight.Inc()
		start := time.Now()
		defer metrics.HTTPInflight.Dec()

		c.Next()

		metrics.ObserveHTTP(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start), c.Writer.Size())
	}
}
