package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApplicationStatus is the lifecycle state of a model application.
type ApplicationStatus string

const (
	ApplicationReview   ApplicationStatus = "REVIEW"
	ApplicationAccepted ApplicationStatus = "ACCEPTED"
	ApplicationRejected ApplicationStatus = "REJECTED"
)

// Valid reports whether s is one of the known statuses.
func (s ApplicationStatus) Valid() bool {
	switch s {
	case ApplicationReview, ApplicationAccepted, ApplicationRejected:
		return true
	default:
		return false
	}
}

// Application represents one submission by a prospective model
type Application struct {
	ID               int64               `json:"id" db:"id"`
	FullName         string              `json:"full_name" db:"full_name"`
	Email            string              `json:"email" db:"email"`
	Phone            string              `json:"phone" db:"phone"`
	PaymentReference *string             `json:"payment_reference,omitempty" db:"payment_reference"`
	Status           ApplicationStatus   `json:"status" db:"status"`
	PaymentAmount    decimal.NullDecimal `json:"payment_amount" db:"payment_amount"`
	AdminNotes       string              `json:"admin_notes" db:"admin_notes"`
	CreatedAt        time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at" db:"updated_at"`
}

// IsPending reports whether the application can still be matched by an incoming payment.
func (a *Application) IsPending() bool {
	return a != nil && a.Status == ApplicationReview
}

// Reference returns the payment reference or an empty string when none is assigned.
func (a *Application) Reference() string {
	if a == nil || a.PaymentReference == nil {
		return ""
	}
	return *a.PaymentReference
}
