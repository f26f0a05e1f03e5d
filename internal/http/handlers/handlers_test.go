package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-mpesa-checkout/internal/domain"
	"github.com/tbourn/go-mpesa-checkout/internal/services"
)

// ---------- tiny stubs for the services ----------

type stubPayments struct {
	got services.InitiateInput
	res *services.InitiateResult
	err error
}

func (s *stubPayments) Initiate(_ context.Context, in services.InitiateInput) (*services.InitiateResult, error) {
	s.got = in
	return s.res, s.err
}

type stubCallbacks struct {
	mu      sync.Mutex
	bodies  [][]byte
	release chan struct{} // when set, Ingest blocks until closed
	err     error
}

func (s *stubCallbacks) Ingest(_ context.Context, raw []byte) (*services.CallbackOutcome, error) {
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	s.bodies = append(s.bodies, raw)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &services.CallbackOutcome{CheckoutRequestID: "ws_CO_1", Status: domain.StatusSuccess, Written: true}, nil
}

func (s *stubCallbacks) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

type stubStatus struct {
	gotResolve, gotRead string
	res                 *services.StatusResult
	err                 error
}

func (s *stubStatus) Resolve(_ context.Context, id string) (*services.StatusResult, error) {
	s.gotResolve = id
	if id == "" {
		return nil, services.ErrMissingCheckoutID
	}
	return s.res, s.err
}

func (s *stubStatus) Read(_ context.Context, id string) (*services.StatusResult, error) {
	s.gotRead = id
	if id == "" {
		return nil, services.ErrMissingCheckoutID
	}
	return s.res, s.err
}

type stubOrders struct {
	calls int
	got   services.OrderInput
	res   *services.OrderResult
	err   error
}

func (s *stubOrders) Create(_ context.Context, in services.OrderInput) (*services.OrderResult, error) {
	s.calls++
	s.got = in
	return s.res, s.err
}

type stubTxs struct {
	items   []domain.Transaction
	total   int64
	count   int64
	last    *time.Time
	err     error
	summary map[domain.TransactionStatus]int64
	lists   int
}

func (s *stubTxs) List(context.Context, services.TransactionQuery) ([]domain.Transaction, int64, error) {
	s.lists++
	return s.items, s.total, s.err
}

func (s *stubTxs) Stats(context.Context, services.TransactionQuery) (int64, *time.Time, error) {
	return s.count, s.last, s.err
}

func (s *stubTxs) Summary(context.Context) (map[domain.TransactionStatus]int64, error) {
	return s.summary, nil
}

type stubIdem struct {
	recs map[string]string // scope|key -> resource
}

func (s *stubIdem) Lookup(_ context.Context, scope, key string, _ time.Time) (*domain.Idempotency, error) {
	if id, ok := s.recs[scope+"|"+key]; ok {
		return &domain.Idempotency{Scope: scope, Key: key, ResourceID: id, Status: http.StatusOK}, nil
	}
	return nil, nil
}

func (s *stubIdem) Remember(_ context.Context, scope, key, resourceID string, _ int) error {
	if s.recs == nil {
		s.recs = map[string]string{}
	}
	s.recs[scope+"|"+key] = resourceID
	return nil
}

// ---------- helpers ----------

func newTestRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/mpesa/stkpush", h.STKPush)
	r.POST("/api/mpesa/callback", h.Callback)
	r.POST("/api/mpesa/query", h.Query)
	r.POST("/api/mpesa/query/:checkoutRequestId", h.Query)
	r.POST("/api/mpesa/status", h.Status)
	r.POST("/api/sales/create", h.CreateSale)
	r.GET("/api/transactions", h.ListTransactions)
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
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

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("invalid json %q: %v", w.Body.String(), err)
	}
	return m
}

func strPtr(s string) *string { return &s }
