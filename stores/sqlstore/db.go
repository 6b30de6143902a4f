// Package sqlstore implements the userauth stores over database/sql.
// It runs against SQLite (modernc.org/sqlite, driver "sqlite") for development
// and tests, and against PostgreSQL (pgx stdlib, driver "pgx") in production.
// The schema is managed with goose migrations embedded in the binary.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	oa "github.com/panyam/userauth"
	"github.com/panyam/userauth/stores/sqlstore/migrations"
)

// Supported database/sql driver names
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// Open connects to dsn with the named driver and migrates the schema
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if driver == DriverSQLite && strings.Contains(dsn, ":memory:") {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if err := RunMigrations(ctx, db, driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return db, nil
}

// RunMigrations applies the embedded migrations
func RunMigrations(ctx context.Context, db *sql.DB, driver string) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())

	dialect := "sqlite3"
	if driver == DriverPostgres {
		dialect = "postgres"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

// rebinder rewrites ? placeholders to $n for postgres
type rebinder struct {
	numbered bool
}

func newRebinder(driver string) rebinder {
	return rebinder{numbered: driver == DriverPostgres}
}

func (r rebinder) bind(query string) string {
	if !r.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// uniqueViolation reports whether err is a unique constraint failure and
// returns a description naming the constraint or its columns
func uniqueViolation(err error) (bool, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505", pgErr.ConstraintName
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		// message: "UNIQUE constraint failed: users.username"
		msg := liteErr.Error()
		i := strings.LastIndex(msg, "UNIQUE constraint failed: ")
		if liteErr.Code()&0xff != sqlite3.SQLITE_CONSTRAINT || i < 0 {
			return false, ""
		}
		return true, msg[i+len("UNIQUE constraint failed: "):]
	}
	return false, ""
}

// fieldForConstraint maps a constraint name or sqlite column list to a user attribute
func fieldForConstraint(constraint string) string {
	switch {
	case strings.Contains(constraint, "oauth"):
		return oa.FieldOAuth
	case strings.Contains(constraint, "username"):
		return oa.FieldUsername
	case strings.Contains(constraint, "email"):
		return oa.FieldEmail
	case strings.Contains(constraint, "phone"):
		return oa.FieldPhoneNumber
	}
	return oa.FieldUserID
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
