// Package httpapi wires the HTTP transport (Gin) to the checkout services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, compression,
// metrics, CORS, security headers, idempotency, and rate limiting.
//
// The M-Pesa callback route is deliberately kept out of the rate limiter and
// the idempotency validator: the gateway must always get its 200.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-mpesa-checkout/internal/config"
	"github.com/tbourn/go-mpesa-checkout/internal/events"
	"github.com/tbourn/go-mpesa-checkout/internal/http/handlers"
	"github.com/tbourn/go-mpesa-checkout/internal/http/middleware"
	"github.com/tbourn/go-mpesa-checkout/internal/services"
)

const (
	maxBodyBytes     = 1 << 20
	transactionsPath = "/api/transactions"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and returns the handlers so the caller can drain in-flight callback
// processing on shutdown.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger (or Logger with LOG_REDACT=false): structured logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Response compression
//  7. Metrics
//  8. CORS and Security headers
//
// Per route: idempotency validation runs before the rate limiter so replays
// bypass it, and the callback route has neither.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, gw services.Gateway, pub events.Publisher, cfg config.Config) *handlers.Handlers {
	r.HandleMethodNotAllowed = true
	if pub == nil {
		pub = events.Nop{}
	}

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging, redacted unless turned off for local debugging
	if cfg.LogRedact {
		r.Use(middleware.RedactingLogger(middleware.RedactOptions{
			MaskHeaders: []string{"X-API-Key"},
		}))
	} else {
		r.Use(middleware.Logger())
	}

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(maxBodyBytes))

	// 6) Compression (never for the scrape endpoint)
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) CORS posture (allow all if none configured) and security headers
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		NoStore:         true,
		EnablePolicy:    true,
		RevalidatePaths: []string{transactionsPath},
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services <- db/gateway/events
	inventory := &services.InventoryService{DB: db}
	idem := &services.IdempotencyService{DB: db, TTL: cfg.IdempotencyTTL}
	h := handlers.New(handlers.Deps{
		Payments: &services.PaymentService{
			DB:          db,
			Gateway:     gw,
			CallbackURL: cfg.Mpesa.CallbackURL,
			Inventory:   inventory,
		},
		Callbacks:       &services.CallbackService{DB: db, Inventory: inventory, Events: pub},
		Status:          &services.StatusService{DB: db, Gateway: gw, Events: pub},
		Orders:          &services.OrderService{DB: db, Inventory: inventory},
		Transactions:    &services.TransactionService{DB: db},
		Idempotency:     idem,
		CallbackTimeout: cfg.CallbackTimeout,
	})

	limited := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP()).Handler()

	api := r.Group("/api")
	{
		mp := api.Group("/mpesa")
		mp.POST("/stkpush", limited, h.STKPush)
		mp.POST("/query", limited, h.Query)
		mp.POST("/query/:checkoutRequestId", limited, h.Query)
		mp.POST("/status", limited, h.Status)
		mp.POST("/callback", h.Callback)

		api.POST("/sales/create",
			middleware.IdempotencyValidator(middleware.IdempotencyOptions{
				Scope:  handlers.ScopeSalesCreate,
				MaxLen: 200,
			}, idem.Exists),
			limited,
			h.CreateSale,
		)

		api.GET("/transactions", limited, h.ListTransactions)
	}

	return h
}

// corsMiddleware returns the CORS chain. With no allowlist every origin is
// accepted; otherwise allowed origins are echoed back.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match", middleware.HeaderIdempotencyKey},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}

	if len(origins) == 0 {
		base.AllowAllOrigins = true
		return []gin.HandlerFunc{
			// Force ACAO: * even for requests without an Origin header.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	base.AllowOrigins = origins
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(base),
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
