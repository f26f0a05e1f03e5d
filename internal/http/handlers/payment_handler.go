// Payment HTTP handlers.
//
// This file exposes the M-Pesa endpoints used by the checkout page and by
// Safaricom:
//   - POST /api/mpesa/stkpush                         (start a payment)
//   - POST /api/mpesa/callback                        (gateway webhook, ack first)
//   - POST /api/mpesa/query[/{checkoutRequestId}]     (poll, may ask the gateway)
//   - POST /api/mpesa/status                          (poll, store only)
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tbourn/go-mpesa-checkout/internal/domain"
	"github.com/tbourn/go-mpesa-checkout/internal/http/middleware"
	"github.com/tbourn/go-mpesa-checkout/internal/mpesa"
	"github.com/tbourn/go-mpesa-checkout/internal/services"
)

// maxCallbackBytes caps a webhook body. Real callbacks are well under 4 KiB.
const maxCallbackBytes = 1 << 20

// callbackPath is appended to the request origin to build the default
// callback URL.
const callbackPath = "/api/mpesa/callback"

//
// DTOs
//

// STKPushRequest is the JSON payload for starting a payment.
type STKPushRequest struct {
	// Phone in any accepted Safaricom format (07…, 01…, 2547…, +2541…).
	Phone string `json:"phone" example:"0712345678"`
	// Amount in KES; a number or numeric string, rounded to whole shillings.
	Amount decimal.Decimal `json:"amount" swaggertype:"number" example:"100"`
	// Reference is the merchant order reference (first 12 chars reach the gateway).
	Reference string `json:"reference" example:"ORD-20240309-001"`
	// Items is the cart, kept for inventory deduction on success.
	Items []domain.CartItem `json:"items"`
}

// STKPushResponse reports the synchronous gateway answer.
type STKPushResponse struct {
	Success           bool   `json:"success"`
	Message           string `json:"message" example:"Success. Request accepted for processing"`
	CheckoutRequestID string `json:"checkoutRequestId,omitempty" example:"ws_CO_09032024102115123456789"`
	MerchantRequestID string `json:"merchantRequestId,omitempty" example:"29115-34620561-1"`
}

// CheckoutRef carries the checkout id for the poll endpoints.
type CheckoutRef struct {
	CheckoutRequestID string `json:"checkoutRequestId" example:"ws_CO_09032024102115123456789"`
}

// StatusResponse is the poll answer. Exists is present when the record is
// absent (query) or always (status).
type StatusResponse struct {
	Success    bool    `json:"success"`
	Status     string  `json:"status" example:"pending" enums:"initiating,pending,success,failed,cancelled"`
	ResultCode *string `json:"resultCode" example:"0"`
	ResultDesc *string `json:"resultDesc" example:"The service request is processed successfully."`
	Source     string  `json:"source" example:"gateway" enums:"store,gateway,store_fallback,store_error_fallback"`
	Exists     *bool   `json:"exists,omitempty"`
}

// CallbackAck is the immediate webhook answer.
type CallbackAck struct {
	OK bool `json:"ok" example:"true"`
}

//
// Helpers
//

// defaultCallbackURL derives {proto}://{host}/api/mpesa/callback from the
// request, trusting the first X-Forwarded-Proto value and defaulting to https.
func defaultCallbackURL(c *gin.Context) string {
	proto := strings.TrimSpace(strings.Split(c.GetHeader("X-Forwarded-Proto"), ",")[0])
	if proto == "" {
		proto = "https"
	}
	return proto + "://" + c.Request.Host + callbackPath
}

// checkoutIDFrom reads the checkout id from the JSON body, the query string,
// then the URL parameter. The body is optional.
func checkoutIDFrom(c *gin.Context) string {
	var ref CheckoutRef
	_ = c.ShouldBindJSON(&ref)
	for _, v := range []string{ref.CheckoutRequestID, c.Query("checkoutRequestId"), c.Param("checkoutRequestId")} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// failPayment maps an Initiate error to the push error contract.
func failPayment(c *gin.Context, err error) {
	var (
		ve *services.ValidationError
		he *mpesa.HTTPError
	)
	switch {
	case errors.As(err, &ve):
		fail(c, http.StatusBadRequest, ErrCodeValidation, ve.Message)
	case errors.Is(err, mpesa.ErrConfig):
		fail(c, http.StatusBadRequest, ErrCodeConfig, err.Error())
	case errors.Is(err, mpesa.ErrTimeout):
		fail(c, http.StatusRequestTimeout, ErrCodeGatewayTimeout, "Request timeout. M-Pesa servers are taking too long to respond.")
	case errors.Is(err, mpesa.ErrUnreachable):
		fail(c, http.StatusServiceUnavailable, ErrCodeGatewayUnreachable, "Network error. Unable to connect to M-Pesa servers.")
	case errors.As(err, &he):
		failWith(c, http.StatusBadGateway, ErrCodeUpstream, "STK push failed", he.Body)
	case errors.Is(err, mpesa.ErrMalformed):
		fail(c, http.StatusBadGateway, ErrCodeUpstream, "Invalid response from M-Pesa")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// failStatus maps a Resolve/Read error.
func failStatus(c *gin.Context, err error) {
	var ve *services.ValidationError
	if errors.As(err, &ve) {
		fail(c, http.StatusBadRequest, ErrCodeValidation, ve.Message)
		return
	}
	fail(c, http.StatusInternalServerError, ErrCodeStatusFailed, err.Error())
}

func statusResponse(res *services.StatusResult) StatusResponse {
	return StatusResponse{
		Success:    true,
		Status:     string(res.Status),
		ResultCode: res.ResultCode,
		ResultDesc: res.ResultDesc,
		Source:     res.Source,
	}
}

//
// Handlers
//

// STKPush godoc
// @ID          stkPush
// @Summary     Start an M-Pesa STK push
// @Description Validates the request, records the attempt, and asks Safaricom to prompt the customer's phone.
// @Tags        M-Pesa
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.STKPushRequest  true  "Push payload"
//
// @Success     200  {object}  handlers.STKPushResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Validation or configuration error"
// @Failure     408  {object}  handlers.ErrorResponse  "Gateway timeout"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     502  {object}  handlers.ErrorResponse  "Gateway rejected the call (details attached)"
// @Failure     503  {object}  handlers.ErrorResponse  "Gateway unreachable"
// @Router      /api/mpesa/stkpush [post]
func (h *Handlers) STKPush(c *gin.Context) {
	var req STKPushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	res, err := h.payments.Initiate(c.Request.Context(), services.InitiateInput{
		Phone:              req.Phone,
		Amount:             req.Amount.InexactFloat64(),
		Reference:          req.Reference,
		Items:              req.Items,
		DefaultCallbackURL: defaultCallbackURL(c),
	})
	if err != nil {
		failPayment(c, err)
		return
	}
	middleware.Annotate(c, "checkout_request_id", res.CheckoutRequestID)
	ok(c, http.StatusOK, STKPushResponse{
		Success:           res.Accepted,
		Message:           res.Message,
		CheckoutRequestID: res.CheckoutRequestID,
		MerchantRequestID: res.MerchantRequestID,
	})
}

// Callback godoc
// @ID          mpesaCallback
// @Summary     Safaricom STK callback
// @Description Always answers 200 {"ok":true} immediately; the body is processed in the background.
// @Tags        M-Pesa
// @Accept      json
// @Produce     json
//
// @Param       body  body  mpesa.CallbackEnvelope  true  "Gateway callback envelope"
//
// @Success     200  {object}  handlers.CallbackAck
// @Router      /api/mpesa/callback [post]
func (h *Handlers) Callback(c *gin.Context) {
	lg := middleware.LoggerFrom(c)
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxCallbackBytes))

	ok(c, http.StatusOK, CallbackAck{OK: true})

	if err != nil {
		lg.Warn().Err(err).Msg("callback body unreadable")
		return
	}

	ctx := lg.WithContext(context.WithoutCancel(c.Request.Context()))
	h.inflight.Add(1)
	go h.processCallback(ctx, raw)
}

func (h *Handlers) processCallback(ctx context.Context, raw []byte) {
	defer h.inflight.Done()
	ctx, cancel := context.WithTimeout(ctx, h.callbackTimeout)
	defer cancel()

	lg := zerolog.Ctx(ctx)
	defer func() {
		if rec := recover(); rec != nil {
			lg.Error().Interface("panic", rec).Msg("callback processing panicked")
		}
	}()

	out, err := h.callbacks.Ingest(ctx, raw)
	switch {
	case err != nil:
		lg.Error().Err(err).Msg("callback processing failed")
	case out == nil:
		lg.Warn().Msg("callback without checkout id ignored")
	default:
		lg.Info().
			Str("checkout_request_id", out.CheckoutRequestID).
			Str("status", string(out.Status)).
			Bool("written", out.Written).
			Bool("inventory_deducted", out.Deducted).
			Msg("callback processed")
	}
}

// Query godoc
// @ID          mpesaQuery
// @Summary     Resolve a payment's status
// @Description Returns the stored status when terminal; otherwise asks the gateway and persists the answer. Gateway failures fall back to the stored state.
// @Tags        M-Pesa
// @Accept      json
// @Produce     json
//
// @Param       checkoutRequestId  path   string               false  "Checkout request id"
// @Param       checkoutRequestId  query  string               false  "Checkout request id"
// @Param       body               body   handlers.CheckoutRef false  "Checkout request id"
//
// @Success     200  {object}  handlers.StatusResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Missing checkout id"
// @Failure     500  {object}  handlers.ErrorResponse  "Store error"
// @Router      /api/mpesa/query [post]
// @Router      /api/mpesa/query/{checkoutRequestId} [post]
func (h *Handlers) Query(c *gin.Context) {
	id := checkoutIDFrom(c)
	middleware.Annotate(c, "checkout_request_id", id)
	res, err := h.status.Resolve(c.Request.Context(), id)
	if err != nil {
		failStatus(c, err)
		return
	}
	resp := statusResponse(res)
	if !res.Exists {
		resp.Exists = &res.Exists
	}
	ok(c, http.StatusOK, resp)
}

// Status godoc
// @ID          mpesaStatus
// @Summary     Read a payment's stored status
// @Description Store-only read. A result code of 1032 or a description mentioning "cancel" reads as cancelled.
// @Tags        M-Pesa
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.CheckoutRef  true  "Checkout request id"
//
// @Success     200  {object}  handlers.StatusResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Missing checkout id"
// @Failure     500  {object}  handlers.ErrorResponse  "Store error"
// @Router      /api/mpesa/status [post]
func (h *Handlers) Status(c *gin.Context) {
	id := checkoutIDFrom(c)
	middleware.Annotate(c, "checkout_request_id", id)
	res, err := h.status.Read(c.Request.Context(), id)
	if err != nil {
		failStatus(c, err)
		return
	}
	resp := statusResponse(res)
	resp.Exists = &res.Exists
	ok(c, http.StatusOK, resp)
}
