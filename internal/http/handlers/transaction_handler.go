// Transaction HTTP handlers.
//
// GET /api/transactions is the operator view over recorded M-Pesa attempts:
// filterable by status and phone, paginated, with weak ETag support.
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-mpesa-checkout/internal/domain"
	"github.com/tbourn/go-mpesa-checkout/internal/services"
	"github.com/tbourn/go-mpesa-checkout/internal/utils"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListTransactionsResponse wraps a page of transactions, pagination, and the
// per-status totals across all records.
type ListTransactionsResponse struct {
	Success      bool                               `json:"success"`
	Transactions []domain.Transaction               `json:"transactions"`
	Pagination   Pagination                         `json:"pagination"`
	Summary      map[domain.TransactionStatus]int64 `json:"summary,omitempty"`
}

// ListTransactions godoc
// @ID          listTransactions
// @Summary     List M-Pesa transactions (paginated)
// @Description Returns recorded payment attempts, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Transactions
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       status         query   string  false "Status filter"  Enums(initiating,pending,success,failed,cancelled)
// @Param       phone          query   string  false "Phone filter (any accepted format)"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListTransactionsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad filter"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /api/transactions [get]
func (h *Handlers) ListTransactions(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize, _ := utils.Page(c.Query("page"), c.Query("page_size"), defaultPageSize, maxPageSize)
	q := services.TransactionQuery{
		Status:   c.Query("status"),
		Phone:    c.Query("phone"),
		Page:     page,
		PageSize: pageSize,
	}

	// ETag pre-check (best effort).
	var ve *services.ValidationError
	count, maxTS, err := h.txs.Stats(ctx, q)
	if errors.As(err, &ve) {
		fail(c, http.StatusBadRequest, ErrCodeValidation, ve.Message)
		return
	}
	if err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"transactions:%s:%s:%d:%d:%d:%d"`, q.Status, q.Phone, page, pageSize, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.txs.List(ctx, q)
	if err != nil {
		if errors.As(err, &ve) {
			fail(c, http.StatusBadRequest, ErrCodeValidation, ve.Message)
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	resp := ListTransactionsResponse{Success: true, Transactions: items}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	resp.Pagination = Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
	// Summary is decoration; a failure does not fail the listing.
	if sum, err := h.txs.Summary(ctx); err == nil {
		resp.Summary = sum
	}
	ok(c, http.StatusOK, resp)
}
