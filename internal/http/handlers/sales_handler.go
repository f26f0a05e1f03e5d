// Sales HTTP handlers.
//
// POST /api/sales/create records a paid order once the checkout page has seen
// a successful payment.
//
// Idempotency:
// The endpoint is already naturally idempotent on orderId. An Idempotency-Key
// header additionally lets a client retry without resending the body: the
// recorded order is answered with `Idempotency-Replayed: true`.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/tbourn/go-mpesa-checkout/internal/domain"
	"github.com/tbourn/go-mpesa-checkout/internal/http/middleware"
	"github.com/tbourn/go-mpesa-checkout/internal/services"
)

// ScopeSalesCreate namespaces Idempotency-Key records for order creation.
const ScopeSalesCreate = "sales.create"

// CreateSaleRequest is the JSON payload for recording a paid order.
type CreateSaleRequest struct {
	OrderID           string            `json:"orderId" example:"ORD-20240309-001"`
	CustomerName      string            `json:"customerName" example:"Jane Wanjiku"`
	CustomerEmail     string            `json:"customerEmail,omitempty" example:"jane@example.com"`
	CustomerPhone     string            `json:"customerPhone" example:"0712345678"`
	DeliveryAddress   string            `json:"deliveryAddress,omitempty" example:"Moi Avenue 12"`
	Location          string            `json:"location,omitempty" example:"Nairobi CBD"`
	MpesaPhone        string            `json:"mpesaPhone" example:"0712345678"`
	TotalAmount       decimal.Decimal   `json:"totalAmount" swaggertype:"number" example:"250.00"`
	Items             []domain.CartItem `json:"items"`
	CheckoutRequestID string            `json:"checkoutRequestId,omitempty" example:"ws_CO_09032024102115123456789"`
}

// CreateSaleResponse reports the order outcome. InventoryUpdated is omitted
// when the order already existed.
type CreateSaleResponse struct {
	Success          bool   `json:"success"`
	OrderID          string `json:"orderId"`
	Message          string `json:"message" example:"Order created successfully"`
	InventoryUpdated *bool  `json:"inventoryUpdated,omitempty"`
}

// CreateSale godoc
// @ID          createSale
// @Summary     Record a paid order
// @Description Creates the order, its line items, deducts stock, and links the M-Pesa transaction. Replays answer "Order already exists".
// @Tags        Sales
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string                      false  "Idempotency key for safe retries (UUID recommended)"
// @Param       body             body    handlers.CreateSaleRequest  true   "Order payload"
//
// @Success     200  {object}  handlers.CreateSaleResponse
// @Header      200  {string}  Idempotency-Replayed  "true when answered from a recorded result"
// @Failure     400  {object}  handlers.ErrorResponse  "Validation error"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/sales/create [post]
func (h *Handlers) CreateSale(c *gin.Context) {
	ctx := c.Request.Context()

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" && h.idem != nil {
		if rec, err := h.idem.Lookup(ctx, ScopeSalesCreate, idemKey, time.Now().UTC()); err == nil && rec != nil {
			c.Header("Idempotency-Replayed", "true")
			ok(c, http.StatusOK, CreateSaleResponse{
				Success: true,
				OrderID: rec.ResourceID,
				Message: services.MsgOrderExists,
			})
			return
		}
	}

	var req CreateSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	res, err := h.orders.Create(ctx, services.OrderInput{
		OrderID:           req.OrderID,
		CustomerName:      req.CustomerName,
		CustomerEmail:     req.CustomerEmail,
		CustomerPhone:     req.CustomerPhone,
		DeliveryAddress:   req.DeliveryAddress,
		Location:          req.Location,
		MpesaPhone:        req.MpesaPhone,
		TotalAmount:       req.TotalAmount,
		Items:             req.Items,
		CheckoutRequestID: req.CheckoutRequestID,
	})
	if err != nil {
		var ve *services.ValidationError
		if errors.As(err, &ve) {
			fail(c, http.StatusBadRequest, ErrCodeValidation, ve.Message)
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeOrderFailed, err.Error())
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" && h.idem != nil {
		if err := h.idem.Remember(ctx, ScopeSalesCreate, idemKey, res.OrderID, http.StatusOK); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Str("order_id", res.OrderID).Msg("idempotency record not stored")
		}
	}

	middleware.Annotate(c, "order_id", res.OrderID)
	resp := CreateSaleResponse{Success: true, OrderID: res.OrderID, Message: res.Message}
	if !res.Replay {
		resp.InventoryUpdated = &res.InventoryUpdated
	}
	ok(c, http.StatusOK, resp)
}
