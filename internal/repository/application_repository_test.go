package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elitemodel/backoffice/internal/models"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newApplicationRepo(t *testing.T, driver string) (*ApplicationRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := NewApplicationRepository(sqlx.NewDb(db, driver))
	repo.now = func() time.Time { return fixedNow }
	return repo, mock
}

func applicationRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "full_name", "email", "phone", "payment_reference", "status",
		"payment_amount", "admin_notes", "created_at", "updated_at",
	})
}

func TestApplicationRepositoryCreate(t *testing.T) {
	repo, mock := newApplicationRepo(t, "sqlmock")
	ref := "K9X2"
	app := &models.Application{FullName: "Zeynep Kaya", Email: "zeynep@example.com", PaymentReference: &ref}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO applications (")).
		WithArgs("Zeynep Kaya", "zeynep@example.com", "", "K9X2", "REVIEW", nil, "", fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(42, 1))

	require.NoError(t, repo.Create(context.Background(), app))
	assert.Equal(t, int64(42), app.ID)
	assert.Equal(t, models.ApplicationReview, app.Status)
	assert.Equal(t, fixedNow, app.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryCreatePostgresUsesReturning(t *testing.T) {
	repo, mock := newApplicationRepo(t, "postgres")
	app := &models.Application{FullName: "Ayşe Yılmaz"}

	mock.ExpectQuery(regexp.QuoteMeta("VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	require.NoError(t, repo.Create(context.Background(), app))
	assert.Equal(t, int64(7), app.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryCreateRejectsBadStatus(t *testing.T) {
	repo, _ := newApplicationRepo(t, "sqlmock")
	err := repo.Create(context.Background(), &models.Application{FullName: "x", Status: "PAID"})
	assert.Error(t, err)
}

func TestApplicationRepositoryGetByPaymentReference(t *testing.T) {
	repo, mock := newApplicationRepo(t, "sqlmock")

	mock.ExpectQuery(regexp.QuoteMeta("FROM applications WHERE payment_reference = ?")).
		WithArgs("K9X2").
		WillReturnRows(applicationRows().AddRow(
			5, "Zeynep Kaya", "z@example.com", "", "K9X2", "REVIEW", nil, "", fixedNow, fixedNow,
		))

	app, err := repo.GetByPaymentReference(context.Background(), "K9X2")
	require.NoError(t, err)
	assert.Equal(t, int64(5), app.ID)
	assert.Equal(t, "K9X2", app.Reference())
	assert.True(t, app.IsPending())
	assert.False(t, app.PaymentAmount.Valid)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryGetScansAmount(t *testing.T) {
	repo, mock := newApplicationRepo(t, "sqlmock")

	mock.ExpectQuery(regexp.QuoteMeta("FROM applications WHERE payment_reference = ?")).
		WithArgs("K9X2").
		WillReturnRows(applicationRows().AddRow(
			5, "Zeynep Kaya", "", "", "K9X2", "ACCEPTED", "2000.00", "paid", fixedNow, fixedNow,
		))

	app, err := repo.GetByPaymentReference(context.Background(), "K9X2")
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationAccepted, app.Status)
	require.True(t, app.PaymentAmount.Valid)
	assert.True(t, app.PaymentAmount.Decimal.Equal(decimal.NewFromInt(2000)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryGetNotFound(t *testing.T) {
	repo, mock := newApplicationRepo(t, "sqlmock")

	mock.ExpectQuery(regexp.QuoteMeta("FROM applications WHERE payment_reference = ?")).
		WithArgs("ZZZZ").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByPaymentReference(context.Background(), "ZZZZ")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplicationRepositoryGetWrapsStoreErrors(t *testing.T) {
	repo, mock := newApplicationRepo(t, "sqlmock")

	mock.ExpectQuery(regexp.QuoteMeta("FROM applications WHERE payment_reference = ?")).
		WillReturnError(errors.New("connection reset"))

	_, err := repo.GetByPaymentReference(context.Background(), "K9X2")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestApplicationRepositoryPaymentReferenceExists(t *testing.T) {
	repo, mock := newApplicationRepo(t, "sqlmock")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM applications WHERE payment_reference = ?")).
		WithArgs("A1B2").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM applications WHERE payment_reference = ?")).
		WithArgs("H7WQ").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	exists, err := repo.PaymentReferenceExists(context.Background(), "A1B2")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.PaymentReferenceExists(context.Background(), "H7WQ")
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryAcceptPaymentIsConditional(t *testing.T) {
	repo, mock := newApplicationRepo(t, "sqlmock")
	amount := decimal.RequireFromString("2000.00")

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = ? AND status = ?")).
		WithArgs("ACCEPTED", amount.String(), "note", "\nnote", fixedNow, int64(5), "REVIEW").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = ? AND status = ?")).
		WithArgs("ACCEPTED", amount.String(), "note", "\nnote", fixedNow, int64(5), "REVIEW").
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := repo.AcceptPayment(context.Background(), 5, amount, " note ")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.AcceptPayment(context.Background(), 5, amount, "note")
	require.NoError(t, err)
	assert.False(t, changed, "second acceptance must not change anything")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryAcceptPaymentAppendsNotesInSQL(t *testing.T) {
	tests := []struct {
		driver string
		expr   string
	}{
		{driver: "sqlmock", expr: "admin_notes || ?"},
		{driver: "mysql", expr: "CONCAT(admin_notes, ?)"},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			repo, mock := newApplicationRepo(t, tt.driver)

			mock.ExpectExec(regexp.QuoteMeta("admin_notes = CASE WHEN COALESCE(admin_notes, '') = '' THEN ? ELSE " + tt.expr + " END")).
				WillReturnResult(sqlmock.NewResult(0, 1))

			changed, err := repo.AcceptPayment(context.Background(), 5, decimal.NewFromInt(2000), "paid")
			require.NoError(t, err)
			assert.True(t, changed)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestApplicationRepositoryCountByStatus(t *testing.T) {
	repo, mock := newApplicationRepo(t, "sqlmock")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM applications WHERE status = ?")).
		WithArgs("REVIEW").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.CountByStatus(context.Background(), models.ApplicationReview)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	require.NoError(t, mock.ExpectationsWereMet())
}
