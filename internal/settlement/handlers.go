package settlement

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gigvault/gigvault/internal/escrow"
	"github.com/gigvault/gigvault/internal/idempotency"
	"github.com/gigvault/gigvault/internal/ledger"
	"github.com/gigvault/gigvault/internal/validation"
)

// Handler provides HTTP endpoints for wallet and escrow operations.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new settlement handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes sets up settlement routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/accounts/:id/deposits", h.Deposit)
	r.POST("/accounts/:id/withdrawals", h.Withdraw)
	r.GET("/accounts/:id/balance", h.GetBalance)
	r.GET("/accounts/:id/ledger", h.GetHistory)
	r.GET("/accounts/:id/holds", h.ListHolds)

	r.POST("/holds", h.CreateHold)
	r.GET("/holds/:id", h.GetHold)
	r.POST("/holds/:id/release", h.ReleaseHold)
	r.POST("/holds/:id/refund", h.RefundHold)
}

// RegisterAdminRoutes sets up admin-only settlement routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/admin/reconcile", h.Reconcile)
}

// DepositRequest for crediting an account.
type DepositRequest struct {
	Amount      int64  `json:"amount" binding:"required"`
	ExternalRef string `json:"externalRef"`
}

// Deposit handles POST /accounts/:id/deposits
func (h *Handler) Deposit(c *gin.Context) {
	accountID := c.Param("id")
	if !validation.IsValidAccountID(accountID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_account",
			"message": "Account ID must be 1-64 URL-safe characters",
		})
		return
	}

	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if req.ExternalRef != "" && !validation.IsValidExternalRef(req.ExternalRef) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_external_ref",
			"message": "External ref must be at most 255 printable characters",
		})
		return
	}

	result, err := h.service.Deposit(c.Request.Context(), accountID, req.Amount, req.ExternalRef)
	if err != nil {
		var dup *DuplicateRefError
		switch {
		case errors.As(err, &dup):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "duplicate_deposit",
				"message": "External ref already settled",
				"entryId": dup.EntryID,
			})
		case errors.Is(err, idempotency.ErrInFlight):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "in_flight",
				"message": "A settlement for this external ref is in progress, retry later",
			})
		case errors.Is(err, ledger.ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "Amount must be a positive integer in minor units",
			})
		default:
			h.logger.Error("deposit failed", "account", accountID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "deposit_error",
				"message": "Failed to record deposit",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, result)
}

// WithdrawRequest for debiting an account.
type WithdrawRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

// Withdraw handles POST /accounts/:id/withdrawals
func (h *Handler) Withdraw(c *gin.Context) {
	accountID := c.Param("id")
	if !validation.IsValidAccountID(accountID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_account",
			"message": "Account ID must be 1-64 URL-safe characters",
		})
		return
	}

	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	result, err := h.service.Withdraw(c.Request.Context(), accountID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "insufficient_funds",
				"message": "Insufficient balance for withdrawal",
			})
		case errors.Is(err, ledger.ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "Amount must be a positive integer in minor units",
			})
		default:
			h.logger.Error("withdrawal failed", "account", accountID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "withdrawal_error",
				"message": "Failed to record withdrawal",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, result)
}

// GetBalance handles GET /accounts/:id/balance
func (h *Handler) GetBalance(c *gin.Context) {
	accountID := c.Param("id")
	if !validation.IsValidAccountID(accountID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_account",
			"message": "Account ID must be 1-64 URL-safe characters",
		})
		return
	}

	balance, err := h.service.Balance(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "balance_error",
			"message": "Failed to retrieve balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accountId": accountID,
		"balance":   balance,
	})
}

// GetHistory handles GET /accounts/:id/ledger
func (h *Handler) GetHistory(c *gin.Context) {
	accountID := c.Param("id")
	if !validation.IsValidAccountID(accountID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_account",
			"message": "Account ID must be 1-64 URL-safe characters",
		})
		return
	}

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	entries, err := h.service.History(c.Request.Context(), accountID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "ledger_error",
			"message": "Failed to retrieve ledger history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// ListHolds handles GET /accounts/:id/holds
func (h *Handler) ListHolds(c *gin.Context) {
	accountID := c.Param("id")
	if !validation.IsValidAccountID(accountID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_account",
			"message": "Account ID must be 1-64 URL-safe characters",
		})
		return
	}

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	holds, err := h.service.Holds(c.Request.Context(), accountID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "escrow_error",
			"message": "Failed to list holds",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"holds": holds,
		"count": len(holds),
	})
}

// HoldRequest for earmarking funds for a gig.
type HoldRequest struct {
	PayerAccountID string `json:"payerAccountId" binding:"required"`
	PayeeAccountID string `json:"payeeAccountId" binding:"required"`
	Amount         int64  `json:"amount" binding:"required"`
}

// CreateHold handles POST /holds
func (h *Handler) CreateHold(c *gin.Context) {
	var req HoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if !validation.IsValidAccountID(req.PayerAccountID) || !validation.IsValidAccountID(req.PayeeAccountID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_account",
			"message": "Account IDs must be 1-64 URL-safe characters",
		})
		return
	}

	result, err := h.service.HoldForGig(c.Request.Context(), req.PayerAccountID, req.PayeeAccountID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "insufficient_funds",
				"message": "Payer has insufficient balance for this hold",
			})
		case errors.Is(err, escrow.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "Amount must be a positive integer in minor units",
			})
		case errors.Is(err, escrow.ErrSameAccount):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "same_account",
				"message": "Payer and payee must be different accounts",
			})
		default:
			h.logger.Error("hold failed", "payer", req.PayerAccountID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "escrow_error",
				"message": "Failed to create hold",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, result)
}

// GetHold handles GET /holds/:id
func (h *Handler) GetHold(c *gin.Context) {
	hold, err := h.service.Hold(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, escrow.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "escrow_not_found",
				"message": "No escrow with this ID",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "escrow_error",
			"message": "Failed to load hold",
		})
		return
	}

	c.JSON(http.StatusOK, hold)
}

// ReleaseHold handles POST /holds/:id/release
func (h *Handler) ReleaseHold(c *gin.Context) {
	h.resolveHold(c, h.service.ReleaseGig)
}

// RefundHold handles POST /holds/:id/refund
func (h *Handler) RefundHold(c *gin.Context) {
	h.resolveHold(c, h.service.RefundGig)
}

func (h *Handler) resolveHold(c *gin.Context, resolve func(ctx context.Context, id string) (*EscrowResult, error)) {
	id := c.Param("id")

	result, err := resolve(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, escrow.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "escrow_not_found",
				"message": "No escrow with this ID",
			})
		case errors.Is(err, escrow.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_resolved",
				"message": "Escrow has already been released or refunded",
			})
		default:
			h.logger.Error("escrow resolution failed", "escrowId", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "escrow_error",
				"message": "Failed to resolve escrow",
			})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// Reconcile handles GET /admin/reconcile by replaying the journal against projected balances.
func (h *Handler) Reconcile(c *gin.Context) {
	results, err := h.service.Reconcile(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "reconciliation_error",
			"message": err.Error(),
		})
		return
	}

	if c.Query("discrepancies") == "true" {
		var filtered []*ledger.VerifyResult
		for _, r := range results {
			if !r.Match {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"count":   len(results),
	})
}
