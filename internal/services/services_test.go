package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-mpesa-checkout/internal/domain"
	"github.com/tbourn/go-mpesa-checkout/internal/events"
	"github.com/tbourn/go-mpesa-checkout/internal/mpesa"
	"github.com/tbourn/go-mpesa-checkout/internal/repo"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
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

func seedProduct(t *testing.T, db *gorm.DB, id string, stock int) {
	t.Helper()
	if err := db.Create(&domain.Product{ID: id, Name: id, Stock: stock}).Error; err != nil {
		t.Fatalf("seed product %s: %v", id, err)
	}
}

func stockOf(t *testing.T, db *gorm.DB, id string) int {
	t.Helper()
	p, err := repo.GetProduct(context.Background(), db, id)
	if err != nil {
		t.Fatalf("get product %s: %v", id, err)
	}
	return p.Stock
}

func txByCheckout(t *testing.T, db *gorm.DB, checkoutID string) *domain.Transaction {
	t.Helper()
	tx, err := repo.GetTransactionByCheckoutID(context.Background(), db, checkoutID)
	if err != nil {
		t.Fatalf("get transaction %s: %v", checkoutID, err)
	}
	return tx
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

// stubGateway is a hand-written Gateway. Nil funcs return zero values.
type stubGateway struct {
	mu sync.Mutex

	readyErr error
	tokenErr error
	pushFn   func(in mpesa.PushRequest) (*mpesa.PushResult, error)
	queryFn  func(checkoutID string) (*mpesa.QueryResult, error)

	tokens, pushes, queries int
	lastPush                mpesa.PushRequest
}

func (g *stubGateway) Ready() error { return g.readyErr }

func (g *stubGateway) AccessToken(context.Context) (mpesa.Token, error) {
	g.mu.Lock()
	g.tokens++
	g.mu.Unlock()
	if g.tokenErr != nil {
		return mpesa.Token{}, g.tokenErr
	}
	return mpesa.Token{AccessToken: "tok", BaseURL: "http://stub"}, nil
}

func (g *stubGateway) Push(_ context.Context, _ mpesa.Token, in mpesa.PushRequest) (*mpesa.PushResult, error) {
	g.mu.Lock()
	g.pushes++
	g.lastPush = in
	g.mu.Unlock()
	if g.pushFn == nil {
		return &mpesa.PushResult{}, nil
	}
	return g.pushFn(in)
}

func (g *stubGateway) Query(_ context.Context, _ mpesa.Token, checkoutID string) (*mpesa.QueryResult, error) {
	g.mu.Lock()
	g.queries++
	g.mu.Unlock()
	if g.queryFn == nil {
		return &mpesa.QueryResult{}, nil
	}
	return g.queryFn(checkoutID)
}

func acceptPush(checkoutID string) func(mpesa.PushRequest) (*mpesa.PushResult, error) {
	return func(mpesa.PushRequest) (*mpesa.PushResult, error) {
		return &mpesa.PushResult{
			MerchantRequestID:   "mr-1",
			CheckoutRequestID:   checkoutID,
			ResponseCode:        mpesa.CodeSuccess,
			ResponseDescription: "Success. Request accepted for processing",
		}, nil
	}
}

func queryAnswer(code mpesa.ResultCode, desc string) func(string) (*mpesa.QueryResult, error) {
	return func(id string) (*mpesa.QueryResult, error) {
		return &mpesa.QueryResult{ResponseCode: "0", CheckoutRequestID: id, ResultCode: code, ResultDesc: desc}, nil
	}
}

// recPublisher records published events.
type recPublisher struct {
	mu  sync.Mutex
	evs []events.PaymentEvent
	err error
}

func (p *recPublisher) PublishPayment(_ context.Context, ev events.PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evs = append(p.evs, ev)
	return p.err
}

func (p *recPublisher) Close() error { return nil }

func (p *recPublisher) all() []events.PaymentEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.PaymentEvent(nil), p.evs...)
}

func callbackBody(checkoutID string, code int, desc string, withMeta bool) []byte {
	meta := ""
	if withMeta {
		meta = `,"CallbackMetadata":{"Item":[
			{"Name":"Amount","Value":100},
			{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},
			{"Name":"TransactionDate","Value":20240309102115},
			{"Name":"PhoneNumber","Value":254712345678}]}`
	}
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{
		"MerchantRequestID":"mr-1","CheckoutRequestID":%q,"ResultCode":%d,"ResultDesc":%q%s}}}`,
		checkoutID, code, desc, meta))
}

func cart(lines ...domain.CartItem) []domain.CartItem { return lines }
