// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers and the activation service to distinguish between different
// failure scenarios without inspecting driver errors.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a lookup or targeted update matches no row.
// Handlers should translate this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a unique constraint, such
// as creating a second product with the same name or granting a product
// twice. Handlers should translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// ErrAlreadyBound is returned by HardwareRepo.Bind when another request
// bound a device to the account first.
var ErrAlreadyBound = errors.New("hardware already bound")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// isDuplicate reports a MySQL duplicate-key error (1062).
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// affectedOrNotFound turns a zero-row update into ErrNotFound.
func affectedOrNotFound(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
