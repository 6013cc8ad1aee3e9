package database

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// QueryBuilder wraps sqlx so repositories can write every query with ?
// placeholders and have them rebound for the connected driver.
type QueryBuilder struct {
	db *sqlx.DB
}

// NewQueryBuilder wraps an open connection.
func NewQueryBuilder(db *sqlx.DB) *QueryBuilder {
	return &QueryBuilder{db: db}
}

// DB returns the underlying sqlx.DB.
func (qb *QueryBuilder) DB() *sqlx.DB {
	return qb.db
}

// Rebind converts ? placeholders to the driver's bind style.
func (qb *QueryBuilder) Rebind(query string) string {
	return qb.db.Rebind(query)
}

func (qb *QueryBuilder) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return qb.db.GetContext(ctx, dest, qb.Rebind(query), args...)
}

func (qb *QueryBuilder) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return qb.db.ExecContext(ctx, qb.Rebind(query), args...)
}

func (qb *QueryBuilder) QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row {
	return qb.db.QueryRowxContext(ctx, qb.Rebind(query), args...)
}

// Concat returns an expression that appends the next ? argument to column.
func (qb *QueryBuilder) Concat(column string) string {
	if qb.db.DriverName() == DriverMySQL {
		return "CONCAT(" + column + ", ?)"
	}
	return column + " || ?"
}
