// Package postgres implements the ledger store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var dbTracer = otel.Tracer("tally.db")

// querier is satisfied by both *DB and *Tx so store queries can run either
// standalone or inside a scoped transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DB wraps *sql.DB with a span per statement.
type DB struct {
	sqlDB *sql.DB
}

// New opens a connection pool and verifies it with a ping.
func New(connStr string) (*DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{sqlDB: db}, nil
}

// SQL exposes the underlying pool, needed by the migration runner.
func (db *DB) SQL() *sql.DB { return db.sqlDB }

func (db *DB) Close() error { return db.sqlDB.Close() }

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	ctx, span := startStatementSpan(ctx, query)
	defer span.End()
	rows, err := db.sqlDB.QueryContext(ctx, query, args...)
	recordSpanErr(span, err)
	return rows, err
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	ctx, span := startStatementSpan(ctx, query)
	defer span.End()
	return db.sqlDB.QueryRowContext(ctx, query, args...)
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, span := startStatementSpan(ctx, query)
	defer span.End()
	res, err := db.sqlDB.ExecContext(ctx, query, args...)
	recordSpanErr(span, err)
	return res, err
}

// BeginTx starts a transaction whose statements are traced the same way.
func (db *DB) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := db.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{sqlTx: tx}, nil
}

// Tx wraps *sql.Tx with the same tracing as DB.
type Tx struct {
	sqlTx *sql.Tx
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	ctx, span := startStatementSpan(ctx, query)
	defer span.End()
	rows, err := t.sqlTx.QueryContext(ctx, query, args...)
	recordSpanErr(span, err)
	return rows, err
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	ctx, span := startStatementSpan(ctx, query)
	defer span.End()
	return t.sqlTx.QueryRowContext(ctx, query, args...)
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, span := startStatementSpan(ctx, query)
	defer span.End()
	res, err := t.sqlTx.ExecContext(ctx, query, args...)
	recordSpanErr(span, err)
	return res, err
}

func (t *Tx) Commit() error   { return t.sqlTx.Commit() }
func (t *Tx) Rollback() error { return t.sqlTx.Rollback() }

func startStatementSpan(ctx context.Context, query string) (context.Context, trace.Span) {
	return dbTracer.Start(ctx, "db."+extractSQLVerb(query), trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement", sanitizeQuery(query)),
	))
}

func recordSpanErr(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// sanitizeQuery scrubs string and numeric literals so sensitive values never
// land in traces. $N placeholders carry no data and are kept.
func sanitizeQuery(q string) string {
	var b strings.Builder
	b.Grow(len(q))

	i := 0
	for i < len(q) {
		ch := q[i]

		if ch == '\'' {
			b.WriteString("'?'")
			i++
			for i < len(q) {
				if q[i] == '\'' {
					if i+1 < len(q) && q[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			continue
		}

		if unicode.IsDigit(rune(ch)) && (i == 0 || !isIdentChar(q[i-1])) {
			if i > 0 && q[i-1] == '$' {
				b.WriteByte(ch)
				i++
				continue
			}
			b.WriteByte('?')
			for i < len(q) && (unicode.IsDigit(rune(q[i])) || q[i] == '.') {
				i++
			}
			continue
		}

		b.WriteByte(ch)
		i++
	}

	s := b.String()
	if len(s) > 256 {
		return s[:256] + "..."
	}
	return s
}

func isIdentChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' || c == '$'
}

func extractSQLVerb(q string) string {
	q = strings.TrimSpace(q)
	if idx := strings.IndexByte(q, ' '); idx > 0 {
		return strings.ToUpper(q[:idx])
	}
	return strings.ToUpper(q)
}
