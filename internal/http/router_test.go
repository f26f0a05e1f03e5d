package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-mpesa-checkout/internal/config"
	"github.com/tbourn/go-mpesa-checkout/internal/domain"
	"github.com/tbourn/go-mpesa-checkout/internal/http/middleware"
	"github.com/tbourn/go-mpesa-checkout/internal/mpesa"
	"github.com/tbourn/go-mpesa-checkout/internal/repo"
)

// --- gateway stub: never configured, so pushes fail fast with 400 ---
type unconfiguredGateway struct{}

func (unconfiguredGateway) Ready() error {
	return &mpesa.ConfigError{Missing: []string{"MPESA_CONSUMER_KEY"}}
}

func (unconfiguredGateway) AccessToken(context.Context) (mpesa.Token, error) {
	return mpesa.Token{}, mpesa.ErrConfig
}

func (unconfiguredGateway) Push(context.Context, mpesa.Token, mpesa.PushRequest) (*mpesa.PushResult, error) {
	return nil, mpesa.ErrConfig
}

func (unconfiguredGateway) Query(context.Context, mpesa.Token, string) (*mpesa.QueryResult, error) {
	return nil, mpesa.ErrConfig
}

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		RateRPS:         100,
		RateBurst:       100,
		CORS:            config.CORSConfig{AllowedOrigins: nil},
		Security:        config.SecurityConfig{EnableHSTS: false},
		OTEL:            config.OTELConfig{ServiceName: "test-svc"},
		IdempotencyTTL:  time.Hour,
		CallbackTimeout: 5 * time.Second,
	}
}

func serve(r http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), unconfiguredGateway{}, nil, testConfig())

	w := serve(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}

	w = serve(r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	if w = serve(r, http.MethodGet, "/nope", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	if w = serve(r, http.MethodGet, "/api/mpesa/stkpush", "", nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /api/mpesa/stkpush expected 405, got %d", w.Code)
	}
	if w = serve(r, http.MethodGet, "/swagger/index.html", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger must be off by default, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := testConfig()
	cfg.CORS.AllowedOrigins = []string{"http://shop.example"}
	RegisterRoutes(r, newTestDB(t), unconfiguredGateway{}, nil, cfg)

	w := serve(r, http.MethodGet, "/health", "", map[string]string{"Origin": "http://shop.example"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://shop.example" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_CallbackIsNeverRateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := testConfig()
	cfg.RateRPS, cfg.RateBurst = 0, 1
	h := RegisterRoutes(r, newTestDB(t), unconfiguredGateway{}, nil, cfg)

	// Client routes share a one-token bucket per IP.
	if w := serve(r, http.MethodPost, "/api/mpesa/stkpush", `{"phone":"0712345678","amount":1,"reference":"R"}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("first push: expected config error 400, got %d", w.Code)
	}
	if w := serve(r, http.MethodPost, "/api/mpesa/status", `{"checkoutRequestId":"ws_1"}`, nil); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second client call: expected 429, got %d", w.Code)
	}

	// The gateway always gets its acknowledgement.
	for i := 0; i < 3; i++ {
		w := serve(r, http.MethodPost, "/api/mpesa/callback", `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_9","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("callback %d: status=%d", i, w.Code)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestRegisterRoutes_CallbackThenStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := RegisterRoutes(r, newTestDB(t), unconfiguredGateway{}, nil, testConfig())

	cb := `{"Body":{"stkCallback":{"MerchantRequestID":"mr-1","CheckoutRequestID":"ws_CO_7","ResultCode":0,"ResultDesc":"The service request is processed successfully.",
		"CallbackMetadata":{"Item":[{"Name":"Amount","Value":10},{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},{"Name":"PhoneNumber","Value":254712345678}]}}}}`
	if w := serve(r, http.MethodPost, "/api/mpesa/callback", cb, nil); w.Code != http.StatusOK {
		t.Fatalf("callback status=%d", w.Code)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	w := serve(r, http.MethodPost, "/api/mpesa/status", `{"checkoutRequestId":"ws_CO_7"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != "success" || body["exists"] != true {
		t.Fatalf("body = %v", body)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("status answers must not be cached, got %q", cc)
	}
}

func TestRegisterRoutes_SalesIdempotencyReplay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	if err := db.Create(&domain.Product{ID: "p1", Name: "Soap", Stock: 5}).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	RegisterRoutes(r, db, unconfiguredGateway{}, nil, testConfig())

	sale := `{"orderId":"ORD-9","customerName":"Jane","customerPhone":"0712345678","mpesaPhone":"0712345678",
		"totalAmount":"100","items":[{"id":"p1","name":"Soap","quantity":2,"unitPrice":50}]}`
	hdr := map[string]string{middleware.HeaderIdempotencyKey: "sale-key-1"}

	w := serve(r, http.MethodPost, "/api/sales/create", sale, hdr)
	if w.Code != http.StatusOK || w.Header().Get("Idempotency-Replayed") != "" {
		t.Fatalf("first: status=%d body=%s", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodPost, "/api/sales/create", "", hdr)
	if w.Code != http.StatusOK || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay: status=%d replayed=%q body=%s", w.Code, w.Header().Get("Idempotency-Replayed"), w.Body.String())
	}

	var p domain.Product
	if err := db.First(&p, "id = ?", "p1").Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	if p.Stock != 3 {
		t.Fatalf("stock = %d, want 3 (deducted once)", p.Stock)
	}

	if w = serve(r, http.MethodPost, "/api/sales/create", sale, map[string]string{middleware.HeaderIdempotencyKey: "bad key!"}); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed key: status=%d", w.Code)
	}
}

func TestRegisterRoutes_TransactionsRevalidate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), unconfiguredGateway{}, nil, testConfig())

	w := serve(r, http.MethodGet, "/api/transactions", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if cc := w.Header().Get("Cache-Control"); cc != "private, no-cache" {
		t.Fatalf("Cache-Control = %q", cc)
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("missing ETag")
	}
	if w = serve(r, http.MethodGet, "/api/transactions", "", map[string]string{"If-None-Match": etag}); w.Code != http.StatusNotModified {
		t.Fatalf("conditional GET: status=%d", w.Code)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := serve(r, http.MethodPost, "/echo", "0123456789AB", nil) // 12 bytes
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}
