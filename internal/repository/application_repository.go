package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/elitemodel/backoffice/internal/database"
	"github.com/elitemodel/backoffice/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

const applicationColumns = `id, full_name, email, phone, payment_reference, status,
		payment_amount, admin_notes, created_at, updated_at`

// ApplicationRepository persists model applications.
type ApplicationRepository struct {
	qb  *database.QueryBuilder
	now func() time.Time
}

// NewApplicationRepository creates a repository over an open connection.
func NewApplicationRepository(db *sqlx.DB) *ApplicationRepository {
	return &ApplicationRepository{qb: database.NewQueryBuilder(db), now: time.Now}
}

// Create inserts a new application and fills in its ID and timestamps.
func (r *ApplicationRepository) Create(ctx context.Context, app *models.Application) error {
	if app == nil {
		return errors.New("application is nil")
	}
	if app.Status == "" {
		app.Status = models.ApplicationReview
	}
	if !app.Status.Valid() {
		return fmt.Errorf("invalid application status %q", app.Status)
	}

	now := r.now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now

	query := `
		INSERT INTO applications (
			full_name, email, phone, payment_reference, status,
			payment_amount, admin_notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	args := []interface{}{
		app.FullName,
		app.Email,
		app.Phone,
		app.PaymentReference,
		app.Status,
		app.PaymentAmount,
		app.AdminNotes,
		app.CreatedAt,
		app.UpdatedAt,
	}

	if r.qb.DB().DriverName() == database.DriverPostgres {
		if err := r.qb.QueryRowxContext(ctx, query+" RETURNING id", args...).Scan(&app.ID); err != nil {
			return fmt.Errorf("failed to create application: %w", err)
		}
		return nil
	}

	result, err := r.qb.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read application id: %w", err)
	}
	app.ID = id
	return nil
}

// GetByPaymentReference loads the application that owns ref.
func (r *ApplicationRepository) GetByPaymentReference(ctx context.Context, ref string) (*models.Application, error) {
	return r.getOne(ctx, "payment_reference = ?", ref)
}

func (r *ApplicationRepository) getOne(ctx context.Context, where string, arg interface{}) (*models.Application, error) {
	var app models.Application
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE ` + where
	err := r.qb.GetContext(ctx, &app, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	return &app, nil
}

// PaymentReferenceExists reports whether ref is already assigned.
func (r *ApplicationRepository) PaymentReferenceExists(ctx context.Context, ref string) (bool, error) {
	var count int
	if err := r.qb.GetContext(ctx, &count, `SELECT COUNT(*) FROM applications WHERE payment_reference = ?`, ref); err != nil {
		return false, fmt.Errorf("failed to check payment reference: %w", err)
	}
	return count > 0, nil
}

// AcceptPayment moves a REVIEW application to ACCEPTED, recording the paid
// amount and appending note to admin_notes in the same statement. It reports
// false when the row was no longer in REVIEW, which is how a concurrent
// acceptance shows up.
func (r *ApplicationRepository) AcceptPayment(ctx context.Context, id int64, amount decimal.Decimal, note string) (bool, error) {
	note = strings.TrimSpace(note)
	query := `
		UPDATE applications SET
			status = ?,
			payment_amount = ?,
			admin_notes = CASE WHEN COALESCE(admin_notes, '') = '' THEN ? ELSE ` + r.qb.Concat("admin_notes") + ` END,
			updated_at = ?
		WHERE id = ? AND status = ?`

	result, err := r.qb.ExecContext(ctx, query,
		models.ApplicationAccepted,
		amount,
		note,
		"\n"+note,
		r.now().UTC(),
		id,
		models.ApplicationReview,
	)
	if err != nil {
		return false, fmt.Errorf("failed to accept payment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to accept payment: %w", err)
	}
	return rows > 0, nil
}

// CountByStatus counts applications in the given state.
func (r *ApplicationRepository) CountByStatus(ctx context.Context, status models.ApplicationStatus) (int, error) {
	var count int
	if err := r.qb.GetContext(ctx, &count, `SELECT COUNT(*) FROM applications WHERE status = ?`, status); err != nil {
		return 0, fmt.Errorf("failed to count applications: %w", err)
	}
	return count, nil
}
