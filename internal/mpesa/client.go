package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tbourn/go-mpesa-checkout/internal/metrics"
	"github.com/tbourn/go-mpesa-checkout/internal/sysutil"
	"github.com/tbourn/go-mpesa-checkout/internal/utils"
)

const (
	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"
	queryPath = "/mpesa/stkpushquery/v1/query"

	transactionType = "CustomerPayBillOnline"
	timestampLayout = "20060102150405"
	maxReferenceLen = 12
)

var tracer = otel.Tracer("mpesa")

// Client talks to the Daraja API. It is safe for concurrent use.
type Client struct {
	cfg Config
	hc  *http.Client
	now func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests, proxies).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithClock overrides the time source used for password timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient returns a client bound to cfg. Missing credentials are not an
// error here; they surface as *ConfigError when an operation is attempted.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{cfg: cfg, hc: &http.Client{}, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Ready reports whether every credential needed for push and query is set.
func (c *Client) Ready() error { return c.cfg.Validate() }

// Token is an OAuth access token plus the base URL it is valid for.
type Token struct {
	AccessToken string
	BaseURL     string
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// AccessToken fetches a fresh client-credentials token.
func (c *Client) AccessToken(ctx context.Context) (Token, error) {
	if err := missing(
		field{"MPESA_CONSUMER_KEY", c.cfg.ConsumerKey},
		field{"MPESA_CONSUMER_SECRET", c.cfg.ConsumerSecret},
	); err != nil {
		return Token{}, err
	}

	ctx, span := tracer.Start(ctx, "mpesa.AccessToken")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.tokenTimeout())
	defer cancel()

	base := c.cfg.ResolvedBaseURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+tokenPath, nil)
	if err != nil {
		return Token{}, fmt.Errorf("mpesa: token: build request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)
	req.Header.Set("Accept", "application/json")

	status, body, err := c.do(req, "token")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token request failed")
		return Token{}, err
	}
	if status < 200 || status > 299 {
		herr := newHTTPError("token", status, body, "token_http_error", "access token request failed")
		span.SetStatus(codes.Error, herr.Message)
		return Token{}, herr
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, fmt.Errorf("%w: token: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(tr.AccessToken) == "" {
		return Token{}, fmt.Errorf("%w: token: missing access_token", ErrMalformed)
	}
	return Token{AccessToken: tr.AccessToken, BaseURL: base}, nil
}

// Password returns the STK password and the timestamp it was derived from:
// base64(shortcode + passkey + YYYYMMDDHHMMSS), timestamp in UTC.
func Password(shortcode, passkey string, at time.Time) (password, timestamp string) {
	timestamp = at.UTC().Format(timestampLayout)
	password = base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
	return password, timestamp
}

// PushRequest describes one STK push. Phone must already be canonical.
type PushRequest struct {
	Phone       string
	Amount      int64
	Reference   string
	CallbackURL string
}

type pushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// PushResult is the synchronous acknowledgement of an STK push.
type PushResult struct {
	MerchantRequestID   string     `json:"MerchantRequestID"`
	CheckoutRequestID   string     `json:"CheckoutRequestID"`
	ResponseCode        ResultCode `json:"ResponseCode"`
	ResponseDescription string     `json:"ResponseDescription"`
	CustomerMessage     string     `json:"CustomerMessage"`
}

// Accepted reports whether the gateway accepted the push (ResponseCode 0).
func (r *PushResult) Accepted() bool { return r.ResponseCode == CodeSuccess }

// Push sends an STK push using tok. A non-2xx answer is returned as
// *HTTPError; a 2xx body that cannot be decoded is ErrMalformed.
func (c *Client) Push(ctx context.Context, tok Token, in PushRequest) (*PushResult, error) {
	if err := missing(
		field{"MPESA_SHORTCODE", c.cfg.ShortCode},
		field{"MPESA_PASSKEY", c.cfg.Passkey},
	); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "mpesa.Push")
	defer span.End()
	span.SetAttributes(attribute.Int64("mpesa.amount", in.Amount))

	password, ts := Password(c.cfg.ShortCode, c.cfg.Passkey, c.now())
	ref := AccountReference(in.Reference)
	payload := pushPayload{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         ts,
		TransactionType:   transactionType,
		Amount:            in.Amount,
		PartyA:            in.Phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       in.Phone,
		CallBackURL:       in.CallbackURL,
		AccountReference:  ref,
		TransactionDesc:   "Order " + ref,
	}

	status, body, err := c.postJSON(ctx, tok, pushPath, payload, "push")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "push failed")
		return nil, err
	}
	if status < 200 || status > 299 {
		herr := newHTTPError("push", status, body, "http_error", "STK push HTTP failed")
		span.SetStatus(codes.Error, herr.Message)
		return nil, herr
	}

	var out PushResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: push: %v", ErrMalformed, err)
	}
	if out.Accepted() && strings.TrimSpace(out.CheckoutRequestID) == "" {
		return nil, fmt.Errorf("%w: push: missing CheckoutRequestID", ErrMalformed)
	}
	span.SetAttributes(attribute.String("mpesa.checkout_request_id", out.CheckoutRequestID))
	return &out, nil
}

type queryPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// QueryResult is the gateway's view of an STK push.
type QueryResult struct {
	ResponseCode        ResultCode `json:"ResponseCode"`
	ResponseDescription string     `json:"ResponseDescription"`
	MerchantRequestID   string     `json:"MerchantRequestID"`
	CheckoutRequestID   string     `json:"CheckoutRequestID"`
	ResultCode          ResultCode `json:"ResultCode"`
	ResultDesc          string     `json:"ResultDesc"`
}

// Query asks the gateway for the outcome of checkoutID using tok.
func (c *Client) Query(ctx context.Context, tok Token, checkoutID string) (*QueryResult, error) {
	if err := missing(
		field{"MPESA_SHORTCODE", c.cfg.ShortCode},
		field{"MPESA_PASSKEY", c.cfg.Passkey},
	); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "mpesa.Query")
	defer span.End()
	span.SetAttributes(attribute.String("mpesa.checkout_request_id", checkoutID))

	password, ts := Password(c.cfg.ShortCode, c.cfg.Passkey, c.now())
	payload := queryPayload{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         ts,
		CheckoutRequestID: checkoutID,
	}

	status, body, err := c.postJSON(ctx, tok, queryPath, payload, "query")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, err
	}
	if status < 200 || status > 299 {
		herr := newHTTPError("query", status, body, "http_error", "STK query HTTP failed")
		span.SetStatus(codes.Error, herr.Message)
		return nil, herr
	}

	var out QueryResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrMalformed, err)
	}
	if out.ResultCode == "" {
		return nil, fmt.Errorf("%w: query: missing ResultCode", ErrMalformed)
	}
	return &out, nil
}

// AccountReference truncates a merchant reference to the 12 characters the
// gateway accepts.
func AccountReference(ref string) string {
	return utils.Truncate(strings.TrimSpace(ref), maxReferenceLen)
}

func (c *Client) postJSON(ctx context.Context, tok Token, path string, payload any, op string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.requestTimeout())
	defer cancel()

	buf, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("mpesa: %s: marshal: %w", op, err)
	}
	base := tok.BaseURL
	if base == "" {
		base = c.cfg.ResolvedBaseURL()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(buf))
	if err != nil {
		return 0, nil, fmt.Errorf("mpesa: %s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req, op)
}

func (c *Client) do(req *http.Request, op string) (int, []byte, error) {
	defer metrics.ObserveGateway(op, time.Now())

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, transportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, transportError(op, err)
	}
	return resp.StatusCode, body, nil
}

// gatewayError is the error body Daraja returns on 4xx/5xx.
type gatewayError struct {
	ErrorCode           string     `json:"errorCode"`
	ErrorMessage        string     `json:"errorMessage"`
	ResponseCode        ResultCode `json:"ResponseCode"`
	ResponseDescription string     `json:"ResponseDescription"`
}

func newHTTPError(op string, status int, body []byte, defCode, defMsg string) *HTTPError {
	var ge gatewayError
	details := map[string]any{}
	if err := json.Unmarshal(body, &details); err != nil || len(details) == 0 {
		details = map[string]any{"raw": strings.TrimSpace(string(body))}
	} else {
		_ = json.Unmarshal(body, &ge)
	}
	return &HTTPError{
		Op:         op,
		StatusCode: status,
		Code:       sysutil.FirstNonEmpty(ge.ErrorCode, string(ge.ResponseCode), defCode),
		Message:    sysutil.FirstNonEmpty(ge.ErrorMessage, ge.ResponseDescription, defMsg),
		Body:       details,
	}
}
