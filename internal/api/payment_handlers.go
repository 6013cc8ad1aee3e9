package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/elitemodel/backoffice/internal/config"
	"github.com/elitemodel/backoffice/internal/middleware"
	"github.com/elitemodel/backoffice/internal/paymentref"
	"github.com/elitemodel/backoffice/internal/reconciliation"
)

const statusTTL = 24 * time.Hour

// handlePaymentCheck runs one reconciliation pass on demand. Per-message
// problems never surface here; only the mailbox being unreachable is a 500.
// The pass outlives a client disconnect but not CheckTimeout.
func (r *Router) handlePaymentCheck(c *gin.Context) {
	if r.deps.Reconciler == nil {
		unavailable(c, "Payment reconciliation")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), r.deps.CheckTimeout)
	defer cancel()
	res, err := r.deps.Reconciler.Run(ctx)
	if !errors.Is(err, reconciliation.ErrRunInProgress) {
		r.storeStatus(ctx, reconciliation.NewRunStatus(res, err))
	}

	switch {
	case errors.Is(err, reconciliation.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   "A payment check is already running",
		})
	case errors.Is(err, reconciliation.ErrReconciliationDisabled):
		c.JSON(http.StatusOK, gin.H{
			"success":   false,
			"processed": 0,
			"message":   "Payment checking is disabled",
		})
	case errors.Is(err, reconciliation.ErrMailbox):
		r.logger.Printf("api: payment check failed (request %s): %v", middleware.GetRequestID(c), err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Could not connect to the payment mailbox",
		})
	case err != nil:
		r.logger.Printf("api: payment check failed (request %s): %v", middleware.GetRequestID(c), err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Payment check failed",
		})
	default:
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"processed": res.Processed,
			"seen":      res.Seen,
			"run_id":    res.RunID,
			"message":   fmt.Sprintf("%d payment(s) verified", res.Processed),
		})
	}
}

func (r *Router) storeStatus(ctx context.Context, st reconciliation.RunStatus) {
	if r.deps.Status == nil {
		return
	}
	if err := r.deps.Status.SetJSON(ctx, reconciliation.StatusKey, st, statusTTL); err != nil {
		r.logger.Printf("api: failed to store payment check status: %v", err)
	}
}

// handlePaymentReference issues a fresh code and the description line the
// payer has to copy into the transfer.
func (r *Router) handlePaymentReference(c *gin.Context) {
	if r.deps.Issuer == nil {
		unavailable(c, "Payment reference issuing")
		return
	}
	name := strings.TrimSpace(c.Query("name"))
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Name is required"})
		return
	}

	code, err := r.deps.Issuer.Issue(c.Request.Context())
	if err != nil {
		r.logger.Printf("api: issuing payment reference: %v", err)
		status := storeErrorStatus(err)
		if errors.Is(err, paymentref.ErrExhausted) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"success": false, "error": "Could not issue a payment reference"})
		return
	}

	label, prefix := descriptionSettings()
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"code":        code,
		"description": paymentref.Description(name, label, prefix, code),
	})
}

func (r *Router) handlePaymentStatus(c *gin.Context) {
	if r.deps.Status == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "No payment check status available"})
		return
	}
	var st reconciliation.RunStatus
	found, err := r.deps.Status.GetJSON(c.Request.Context(), reconciliation.StatusKey, &st)
	if err != nil {
		r.logger.Printf("api: reading payment check status: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to load payment check status"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "No payment check status available"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": st})
}

func descriptionSettings() (label, prefix string) {
	label, prefix = "Elite Model Başvuru Ücreti", "EM"
	if cfg := config.Get(); cfg != nil {
		if v := strings.TrimSpace(cfg.Payments.DescriptionLabel); v != "" {
			label = v
		}
		if v := strings.TrimSpace(cfg.Payments.TokenPrefix); v != "" {
			prefix = v
		}
	}
	return label, prefix
}
