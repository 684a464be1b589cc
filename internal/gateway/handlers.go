package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gigvault/gigvault/internal/idempotency"
	"github.com/gigvault/gigvault/internal/idgen"
	"github.com/gigvault/gigvault/internal/ledger"
	"github.com/gigvault/gigvault/internal/metrics"
	"github.com/gigvault/gigvault/internal/settlement"
	"github.com/gigvault/gigvault/internal/validation"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Gateway-Signature"

// Settler is the settlement operation the webhook drives.
type Settler interface {
	Deposit(ctx context.Context, accountID string, amount int64, externalRef string) (*settlement.Result, error)
}

// Handler ingests gateway webhooks and manages deposit intents.
type Handler struct {
	settler       Settler
	intents       IntentStore
	secret        string
	requireIntent bool
	logger        *slog.Logger
}

// NewHandler creates a gateway handler.
func NewHandler(settler Settler, intents IntentStore, secret string, requireIntent bool, logger *slog.Logger) *Handler {
	return &Handler{
		settler:       settler,
		intents:       intents,
		secret:        secret,
		requireIntent: requireIntent,
		logger:        logger,
	}
}

// RegisterRoutes sets up gateway routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/gateway/intents", h.CreateIntent)
	r.POST("/gateway/webhook", h.Webhook)
}

// IntentRequest registers a pending top-up for an account.
type IntentRequest struct {
	AccountID string `json:"accountId" binding:"required"`
	Amount    int64  `json:"amount" binding:"required"`
}

// CreateIntent handles POST /gateway/intents
func (h *Handler) CreateIntent(c *gin.Context) {
	var req IntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if !validation.IsValidAccountID(req.AccountID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_account",
			"message": "Account ID must be 1-64 URL-safe characters",
		})
		return
	}
	if req.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "Amount must be a positive integer in minor units",
		})
		return
	}

	intent := &Intent{
		ID:        idgen.WithPrefix("dep_"),
		AccountID: req.AccountID,
		Amount:    req.Amount,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.intents.Create(c.Request.Context(), intent); err != nil {
		h.logger.Error("failed to create deposit intent", "account", req.AccountID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "intent_error",
			"message": "Failed to create deposit intent",
		})
		return
	}

	c.JSON(http.StatusCreated, intent)
}

// Webhook handles POST /gateway/webhook
//
// Responses follow the gateway's retry contract: 2xx stops redelivery, so a
// duplicate event answers 200, while a transient failure answers 5xx/409 to
// request another attempt.
func (h *Handler) Webhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("read_error").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Failed to read request body",
		})
		return
	}

	if !VerifySignature(h.secret, body, c.GetHeader(SignatureHeader)) {
		metrics.WebhookEventsTotal.WithLabelValues("invalid_signature").Inc()
		h.logger.Warn("webhook signature mismatch", "remote", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "invalid_signature",
			"message": "Webhook signature verification failed",
		})
		return
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("invalid_payload").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_payload",
			"message": "Malformed event payload",
		})
		return
	}

	if event.Type != EventPaymentCaptured {
		// Unknown event types are acknowledged, not retried.
		metrics.WebhookEventsTotal.WithLabelValues("ignored").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if !validation.IsValidExternalRef(event.ExternalRef) || event.Amount <= 0 {
		metrics.WebhookEventsTotal.WithLabelValues("invalid_payload").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_payload",
			"message": "Event must carry a valid external ref and a positive amount",
		})
		return
	}

	accountID, httpErr := h.resolveAccount(c, &event)
	if httpErr {
		return
	}

	// The intent is consumed before the money moves: Consume accepts the ref
	// it is already bound to, so a redelivery still settles, while a second
	// distinct capture racing for the same intent loses here instead of
	// double-crediting the account.
	if event.IntentID != "" {
		if err := h.intents.Consume(c.Request.Context(), event.IntentID, event.ExternalRef); err != nil {
			switch {
			case errors.Is(err, ErrIntentConsumed):
				metrics.WebhookEventsTotal.WithLabelValues("intent_consumed").Inc()
				c.JSON(http.StatusConflict, gin.H{
					"error":   "intent_consumed",
					"message": "Deposit intent was already settled by a different payment",
				})
			case errors.Is(err, ErrIntentNotFound):
				metrics.WebhookEventsTotal.WithLabelValues("unknown_intent").Inc()
				c.JSON(http.StatusBadRequest, gin.H{
					"error":   "unknown_intent",
					"message": "No deposit intent with this ID",
				})
			default:
				metrics.WebhookEventsTotal.WithLabelValues("error").Inc()
				h.logger.Error("failed to consume deposit intent", "intentId", event.IntentID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{
					"error":   "intent_error",
					"message": "Failed to consume deposit intent",
				})
			}
			return
		}
	}

	result, err := h.settler.Deposit(c.Request.Context(), accountID, event.Amount, event.ExternalRef)
	if err != nil {
		var dup *settlement.DuplicateRefError
		switch {
		case errors.As(err, &dup):
			// Redelivery of an already settled event: acknowledge.
			metrics.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
			c.JSON(http.StatusOK, gin.H{
				"status":  "already_processed",
				"entryId": dup.EntryID,
			})
		case errors.Is(err, idempotency.ErrInFlight):
			metrics.WebhookEventsTotal.WithLabelValues("retry").Inc()
			c.JSON(http.StatusConflict, gin.H{
				"error":   "in_flight",
				"message": "Event is being processed, retry later",
			})
		case errors.Is(err, ledger.ErrInvalidAmount):
			metrics.WebhookEventsTotal.WithLabelValues("invalid_payload").Inc()
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "Amount must be a positive integer in minor units",
			})
		default:
			metrics.WebhookEventsTotal.WithLabelValues("error").Inc()
			h.logger.Error("webhook settlement failed", "externalRef", event.ExternalRef, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "settlement_error",
				"message": "Failed to settle event",
			})
		}
		return
	}

	metrics.WebhookEventsTotal.WithLabelValues("settled").Inc()
	c.JSON(http.StatusOK, gin.H{
		"status":  "settled",
		"entryId": result.Entry.ID,
		"balance": result.Balance,
	})
}

// resolveAccount determines which account the event credits. With intent
// binding required, the intent is the source of truth and the payload's
// accountId is only cross-checked; without it the payload is trusted.
func (h *Handler) resolveAccount(c *gin.Context, event *Event) (string, bool) {
	if !h.requireIntent {
		if event.IntentID == "" {
			if !validation.IsValidAccountID(event.AccountID) {
				metrics.WebhookEventsTotal.WithLabelValues("invalid_payload").Inc()
				c.JSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_account",
					"message": "Event must carry a valid account ID",
				})
				return "", true
			}
			return event.AccountID, false
		}
	} else if event.IntentID == "" {
		metrics.WebhookEventsTotal.WithLabelValues("missing_intent").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_intent",
			"message": "Events must reference a deposit intent",
		})
		return "", true
	}

	intent, err := h.intents.Get(c.Request.Context(), event.IntentID)
	if err != nil {
		if errors.Is(err, ErrIntentNotFound) {
			metrics.WebhookEventsTotal.WithLabelValues("unknown_intent").Inc()
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "unknown_intent",
				"message": "No deposit intent with this ID",
			})
			return "", true
		}
		metrics.WebhookEventsTotal.WithLabelValues("error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "intent_error",
			"message": "Failed to load deposit intent",
		})
		return "", true
	}

	if intent.Amount != event.Amount {
		metrics.WebhookEventsTotal.WithLabelValues("amount_mismatch").Inc()
		h.logger.Warn("webhook amount does not match intent",
			"intentId", intent.ID, "intentAmount", intent.Amount, "eventAmount", event.Amount)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "amount_mismatch",
			"message": "Event amount does not match the deposit intent",
		})
		return "", true
	}
	if intent.ConsumedRef != "" && intent.ConsumedRef != event.ExternalRef {
		metrics.WebhookEventsTotal.WithLabelValues("intent_consumed").Inc()
		c.JSON(http.StatusConflict, gin.H{
			"error":   "intent_consumed",
			"message": "Deposit intent was already settled by a different payment",
		})
		return "", true
	}
	if event.AccountID != "" && event.AccountID != intent.AccountID {
		metrics.WebhookEventsTotal.WithLabelValues("account_mismatch").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "account_mismatch",
			"message": "Event account does not match the deposit intent",
		})
		return "", true
	}

	return intent.AccountID, false
}
