package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRecovery_PanicBecomesEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := logSink(t)
	r := gin.New()
	r.Use(RequestID(), Logger(), Recovery())
	r.POST("/api/mpesa/callback", func(c *gin.Context) { panic("nil receipt") })

	req := httptest.NewRequest(http.MethodPost, "/api/mpesa/callback", nil)
	req.Header.Set(requestIDHeader, "rid-panic")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	want := errorBody{RequestID: "rid-panic", Code: "internal_error", Message: "internal server error"}
	if body != want {
		t.Fatalf("body = %+v, want %+v", body, want)
	}

	var panicLine map[string]any
	for _, m := range logLines(t, buf) {
		if m["message"] == "panic recovered" {
			panicLine = m
		}
	}
	if panicLine == nil || panicLine["panic"] != "nil receipt" || panicLine["request_id"] != "rid-panic" {
		t.Fatalf("panic line = %v", panicLine)
	}
	if stack, _ := panicLine["stack"].(string); !strings.Contains(stack, "goroutine") {
		t.Fatalf("stack missing: %v", panicLine)
	}
	if line := accessLine(t, buf); line["status"] != float64(500) || line["level"] != "error" {
		t.Fatalf("access line after panic = %v", line)
	}
}

func TestRecovery_PanicAfterWriteKeepsPartialBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logSink(t)
	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/api/transactions", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		panic("late")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/transactions", nil))

	if w.Body.String() != "partial" {
		t.Fatalf("body = %q, want only the partial write", w.Body.String())
	}
	if strings.Contains(w.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("error envelope written after the response started")
	}
}
