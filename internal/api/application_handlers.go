package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/elitemodel/backoffice/internal/database"
	"github.com/elitemodel/backoffice/internal/middleware"
	"github.com/elitemodel/backoffice/internal/models"
	"github.com/elitemodel/backoffice/internal/paymentref"
)

type createApplicationRequest struct {
	FullName         string `json:"full_name" binding:"required"`
	Email            string `json:"email" binding:"omitempty,email"`
	Phone            string `json:"phone"`
	PaymentReference string `json:"payment_reference"`
}

func (r *Router) handleCreateApplication(c *gin.Context) {
	if r.deps.Applications == nil || r.deps.Issuer == nil {
		unavailable(c, "Applications")
		return
	}

	var req createApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid payload"})
		return
	}
	name := strings.Join(strings.Fields(req.FullName), " ")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Full name is required"})
		return
	}

	ctx := c.Request.Context()
	code, err := r.referenceFor(ctx, req.PaymentReference)
	if err != nil {
		r.logger.Printf("api: assigning payment reference: %v", err)
		c.JSON(storeErrorStatus(err), gin.H{"success": false, "error": "Could not assign a payment reference"})
		return
	}

	app := &models.Application{
		FullName:         name,
		Email:            strings.TrimSpace(req.Email),
		Phone:            strings.TrimSpace(req.Phone),
		PaymentReference: &code,
		Status:           models.ApplicationReview,
	}
	if err := r.deps.Applications.Create(ctx, app); err != nil {
		r.logger.Printf("api: creating application (request %s): %v", middleware.GetRequestID(c), err)
		c.JSON(storeErrorStatus(err), gin.H{"success": false, "error": "Failed to create application"})
		return
	}

	r.notifySubmitted(*app)

	label, prefix := descriptionSettings()
	c.JSON(http.StatusCreated, gin.H{
		"success":     true,
		"data":        app,
		"description": paymentref.Description(app.FullName, label, prefix, code),
	})
}

// referenceFor keeps a code the applicant already received when it is well
// formed and still free, otherwise issues a new one.
func (r *Router) referenceFor(ctx context.Context, supplied string) (string, error) {
	supplied = strings.ToUpper(strings.TrimSpace(supplied))
	if paymentref.Valid(supplied) {
		exists, err := r.deps.Applications.PaymentReferenceExists(ctx, supplied)
		if err != nil {
			return "", err
		}
		if !exists {
			return supplied, nil
		}
	}
	return r.deps.Issuer.Issue(ctx)
}

// notifySubmitted runs detached from the request with its own deadline.
func (r *Router) notifySubmitted(app models.Application) {
	if r.deps.Notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.deps.NotifyTimeout)
		defer cancel()
		if err := r.deps.Notifier.ApplicationSubmitted(ctx, &app); err != nil {
			r.logger.Printf("api: submission notice for application %d failed: %v", app.ID, err)
		}
	}()
}

// storeErrorStatus maps an unreachable database to 503 and anything else to 500.
func storeErrorStatus(err error) int {
	if database.IsConnectionError(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
