package transaction

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/secureflow/secureflow/internal/logging"
	"github.com/secureflow/secureflow/internal/pagination"
	"github.com/secureflow/secureflow/internal/policy"
	"github.com/secureflow/secureflow/internal/validation"
)

// maxListLimit bounds a single list query
const maxListLimit = 1000

// Handler provides HTTP handlers for the transaction API
type Handler struct {
	pipeline *Pipeline
	store    Store
}

// NewHandler creates a new transaction handler
func NewHandler(pipeline *Pipeline, store Store) *Handler {
	return &Handler{pipeline: pipeline, store: store}
}

// RegisterRoutes sets up the transaction routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/transactions", h.SubmitTransaction)
	r.GET("/transactions", h.ListTransactions)
	r.GET("/transactions/:id", h.GetTransaction)

	r.GET("/dashboard/stats", h.GetStats)
	r.GET("/audit/stats", h.GetAuditStats)
}

// SubmitTransaction handles POST /transactions
// Runs the full decision pipeline and returns the persisted record.
func (h *Handler) SubmitTransaction(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)

	var transfer Transfer
	if err := c.ShouldBindJSON(&transfer); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("fromWallet", transfer.FromWallet),
		validation.Required("toWallet", transfer.ToWallet),
		validation.Required("currency", transfer.Currency),
		validation.ValidWallet("fromWallet", transfer.FromWallet),
		validation.ValidWallet("toWallet", transfer.ToWallet),
		validation.ValidCurrency("currency", transfer.Currency),
		validation.PositiveAmount("amount", transfer.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": errs,
		})
		return
	}

	tx, err := h.pipeline.Submit(ctx, transfer)
	if err != nil {
		logger.Error("submission failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "persistence_failure",
			"message": "Failed to persist transaction",
		})
		return
	}

	c.JSON(http.StatusCreated, tx)
}

// GetTransaction handles GET /transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	ctx := c.Request.Context()

	tx, err := h.store.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Transaction not found",
			})
			return
		}
		logging.L(ctx).Error("failed to get transaction", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to get transaction",
		})
		return
	}

	c.JSON(http.StatusOK, tx)
}

// ListTransactions handles GET /transactions
func (h *Handler) ListTransactions(c *gin.Context) {
	ctx := c.Request.Context()

	limit := parseIntParam(c, "limit", 100)
	if limit > maxListLimit {
		limit = maxListLimit
	}

	// Fetch one extra row to detect whether another page exists
	query := Query{
		Limit:  limit + 1,
		Offset: parseIntParam(c, "offset", 0),
	}
	if status := c.Query("status"); status != "" {
		d := policy.Decision(status)
		if !d.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_status",
				"message": "status must be APPROVED, FLAGGED, or REJECTED",
			})
			return
		}
		query.Status = d
	}
	if raw := c.Query("cursor"); raw != "" {
		cursor, err := pagination.Decode(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_cursor",
				"message": "cursor is not valid",
			})
			return
		}
		query.Cursor = cursor
	}

	txs, err := h.store.List(ctx, query)
	if err != nil {
		logging.L(ctx).Error("failed to list transactions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list transactions",
		})
		return
	}

	txs, nextCursor, hasMore := pagination.ComputePage(txs, limit, func(tx *Transaction) (time.Time, string) {
		return tx.CreatedAt, tx.ID
	})

	resp := gin.H{
		"transactions": txs,
		"count":        len(txs),
		"hasMore":      hasMore,
	}
	if nextCursor != "" {
		resp["nextCursor"] = nextCursor
	}
	c.JSON(http.StatusOK, resp)
}

// GetStats handles GET /dashboard/stats
func (h *Handler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	stats, err := h.store.Stats(ctx)
	if err != nil {
		logging.L(ctx).Error("failed to get stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to get stats",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetAuditStats handles GET /audit/stats
func (h *Handler) GetAuditStats(c *gin.Context) {
	ctx := c.Request.Context()

	stats, err := h.store.AuditStats(ctx)
	if err != nil {
		logging.L(ctx).Error("failed to get audit stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to get audit stats",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func parseIntParam(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
