package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/elitemodel/backoffice/internal/database"
)

const settingsRowID = 1

// SettingsRepository reads and writes the singleton settings row.
type SettingsRepository struct {
	qb  *database.QueryBuilder
	now func() time.Time
}

// NewSettingsRepository creates a repository over an open connection.
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{qb: database.NewQueryBuilder(db), now: time.Now}
}

// RequiredFee returns the application fee. It is never cached.
func (r *SettingsRepository) RequiredFee(ctx context.Context) (decimal.Decimal, error) {
	var fee decimal.Decimal
	err := r.qb.GetContext(ctx, &fee, `SELECT required_fee FROM settings WHERE id = ?`, settingsRowID)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("required fee: %w", ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read required fee: %w", err)
	}
	return fee, nil
}

// SetRequiredFee stores a new application fee, creating the row if needed.
func (r *SettingsRepository) SetRequiredFee(ctx context.Context, fee decimal.Decimal) error {
	if fee.IsNegative() {
		return fmt.Errorf("required fee must not be negative: %s", fee)
	}
	fee = fee.Round(2)
	now := r.now().UTC()

	result, err := r.qb.ExecContext(ctx,
		`UPDATE settings SET required_fee = ?, updated_at = ? WHERE id = ?`,
		fee, now, settingsRowID)
	if err != nil {
		return fmt.Errorf("failed to update required fee: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		return nil
	}

	if _, err := r.qb.ExecContext(ctx,
		`INSERT INTO settings (id, required_fee, updated_at) VALUES (?, ?, ?)`,
		settingsRowID, fee, now); err != nil {
		return fmt.Errorf("failed to insert required fee: %w", err)
	}
	return nil
}
