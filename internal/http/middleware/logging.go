package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	loggerKey      = "logger"
	annotationsKey = "log.annotations"
	maxQueryLen    = 2048
)

// Logger writes one access line per request with client details and the raw
// query (capped). Use it only where payer phone numbers in logs are
// acceptable; RedactingLogger is the production default.
func Logger() gin.HandlerFunc {
	return accessLog{
		scrub:   func(s string) string { return truncate(s, maxQueryLen) },
		verbose: true,
	}.handler()
}

// accessLog is the shared core of Logger and RedactingLogger.
type accessLog struct {
	// scrub renders the raw query, and the raw path of unmatched requests.
	scrub func(string) string
	// headers renders request headers onto the access line when set.
	headers func(http.Header) map[string]string
	// verbose adds client identity fields to the request-scoped logger.
	verbose bool
}

func (a accessLog) handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = a.scrub(c.Request.URL.Path)
		}
		scope := log.With().
			Str("request_id", RequestIDFrom(c)).
			Str("method", c.Request.Method).
			Str("path", path)
		if a.verbose {
			scope = scope.
				Str("remote_ip", c.ClientIP()).
				Str("user_agent", c.Request.UserAgent()).
				Str("referer", c.Request.Referer()).
				Int64("bytes_in", c.Request.ContentLength)
		}
		lg := attachLogger(c, scope.Logger())

		c.Next()

		status := c.Writer.Status()
		ev := lg.WithLevel(levelFor(status, len(c.Errors) > 0)).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size())
		if q := c.Request.URL.RawQuery; q != "" {
			ev = ev.Str("query", a.scrub(q))
		}
		if a.headers != nil {
			ev = ev.Interface("headers", a.headers(c.Request.Header))
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		for _, kv := range annotations(c) {
			ev = ev.Str(kv[0], kv[1])
		}
		ev.Msg("http request")
	}
}

// levelFor maps an outcome to a log level. Handler errors recorded with
// c.Error count as server failures whatever the status.
func levelFor(status int, hasErrors bool) zerolog.Level {
	switch {
	case hasErrors || status >= http.StatusInternalServerError:
		return zerolog.ErrorLevel
	case status >= http.StatusBadRequest:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

// Annotate adds key=value to the access line of this request, e.g. the
// checkout request id a push produced. Values are logged verbatim by both
// loggers, so only opaque ids belong here.
func Annotate(c *gin.Context, key, value string) {
	if value == "" {
		return
	}
	kvs := annotations(c)
	c.Set(annotationsKey, append(kvs, [2]string{key, value}))
}

func annotations(c *gin.Context) [][2]string {
	v, _ := c.Get(annotationsKey)
	kvs, _ := v.([][2]string)
	return kvs
}

// attachLogger makes l the request-scoped logger for handlers (gin context)
// and services (zerolog.Ctx on the request context).
func attachLogger(c *gin.Context, l zerolog.Logger) *zerolog.Logger {
	c.Set(loggerKey, &l)
	c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))
	return &l
}

// LoggerFrom returns the request-scoped logger. Without an access logger in
// the chain it returns the global logger tagged with the request id, if any.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	ctx := log.With()
	if rid := RequestIDFrom(c); rid != "" {
		ctx = ctx.Str("request_id", rid)
	}
	l := ctx.Logger()
	return &l
}

// truncate caps s at max bytes; max <= 0 disables the cap.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
