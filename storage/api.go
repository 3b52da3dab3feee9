// Package storage defines storage interfaces.
package storage

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
)

// QueryBatch represents a batch of queries to be executed atomically.
type QueryBatch = pgx.Batch

// QueryResults represents the results from a read query.
type QueryResults = pgx.Rows

// QueryResult represents the result from a read query.
type QueryResult = pgx.Row

// Tx is a database transaction. All writes of one ledger extension batch
// happen inside a single Tx.
type Tx = pgx.Tx

// TargetStorage defines an interface for reading and writing
// processed ledger data.
type TargetStorage interface {
	// SendBatch sends a batch of queries to be applied to target storage.
	SendBatch(ctx context.Context, batch *QueryBatch) error

	// Query submits a query to fetch data from target storage.
	Query(ctx context.Context, sql string, args ...interface{}) (QueryResults, error)

	// QueryRow submits a query to fetch a single row of data from target storage.
	QueryRow(ctx context.Context, sql string, args ...interface{}) QueryResult

	// Begin starts a new transaction.
	Begin(ctx context.Context) (Tx, error)

	// Close shuts down the target storage client.
	Close()

	// Name returns the name of the target storage.
	Name() string
}

// SanitizeString replaces bytes that PostgreSQL refuses to store in TEXT
// columns (NUL and invalid UTF-8) with '?'.
func SanitizeString(msg string) string {
	if utf8.ValidString(msg) && !strings.ContainsRune(msg, 0) {
		return msg
	}
	var b strings.Builder
	b.Grow(len(msg))
	for i := 0; i < len(msg); {
		r, size := utf8.DecodeRuneInString(msg[i:])
		if r == 0 || (r == utf8.RuneError && size == 1) {
			b.WriteByte('?')
		} else {
			b.WriteString(msg[i : i+size])
		}
		i += size
	}
	return b.String()
}
