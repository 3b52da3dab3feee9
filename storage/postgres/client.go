// Package postgres implements the target storage interface
// backed by PostgreSQL.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"

	"github.com/ledgerindex/gateway/common"
	"github.com/ledgerindex/gateway/log"
	"github.com/ledgerindex/gateway/storage"
)

const (
	moduleName = "postgres"
)

// Client is a client for connecting to PostgreSQL.
type Client struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

var _ storage.TargetStorage = (*Client)(nil)

// pgxLogger is a pgx-compatible logger interface that uses the gateway's
// standard logger as the backend.
type pgxLogger struct {
	logger *log.Logger
}

// logFuncForLevel maps a pgx log severity level to a corresponding logger function.
func (l *pgxLogger) logFuncForLevel(level tracelog.LogLevel) func(string, ...interface{}) {
	switch level {
	case tracelog.LogLevelTrace, tracelog.LogLevelDebug:
		return l.logger.Debug
	case tracelog.LogLevelInfo:
		return l.logger.Info
	case tracelog.LogLevelWarn:
		return l.logger.Warn
	case tracelog.LogLevelError, tracelog.LogLevelNone:
		return l.logger.Error
	default:
		l.logger.Warn("Unknown log level", "unknown_level", level)
		return l.logger.Info
	}
}

// Log implements tracelog.Logger.
func (l *pgxLogger) Log(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]interface{}) {
	args := make([]interface{}, 0, 2*len(data))
	for k, v := range data {
		args = append(args, k, v)
	}
	l.logFuncForLevel(level)(msg, args...)
}

// NewClient creates a new PostgreSQL client.
func NewClient(connString string, l *log.Logger) (*Client, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	// For a log line to be produced, it needs to be >= the level specified
	// here, and >= the level of the underlying logger. "Info" level logs
	// every SQL statement executed.
	config.ConnConfig.Tracer = &tracelog.TraceLog{
		LogLevel: tracelog.LogLevelWarn,
		Logger: &pgxLogger{
			logger: l.WithModule(moduleName).With("db", config.ConnConfig.Database),
		},
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, err
	}
	return &Client{
		pool:   pool,
		logger: l.WithModule(moduleName),
	}, nil
}

// SendBatch submits a new batch of queries as an atomic transaction to PostgreSQL.
func (c *Client) SendBatch(ctx context.Context, batch *storage.QueryBatch) error {
	if err := c.sendBatchFast(ctx, batch); err == nil {
		// The fast path succeeded. This should happen most of the time.
		return nil
	}
	// The tx was reverted, so we can resubmit one query at a time for better error messages.
	return c.sendBatchSlow(ctx, batch)
}

// sendBatchFast sends the whole batch in a single roundtrip. pgx reports
// errors poorly this way: a malformed query anywhere in the batch is blamed
// on the first one.
func (c *Client) sendBatchFast(ctx context.Context, batch *storage.QueryBatch) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	results := tx.SendBatch(ctx, batch)
	for i := range batch.QueuedQueries {
		if _, err := results.Exec(); err != nil {
			common.CloseOrLog(results, c.logger)
			return fmt.Errorf("query %d %s: %w", i, batch.QueuedQueries[i].SQL, err)
		}
	}
	if err := results.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (c *Client) sendBatchSlow(ctx context.Context, batch *storage.QueryBatch) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i, q := range batch.QueuedQueries {
		if _, err := tx.Exec(ctx, q.SQL, q.Arguments...); err != nil {
			return fmt.Errorf("query %d %s: %w", i, q.SQL, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		c.logger.Error("failed to submit tx", "error", err, "queries", len(batch.QueuedQueries))
		return err
	}
	return nil
}

// Query submits a new read query to PostgreSQL.
func (c *Client) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		c.logger.Error("failed to query db",
			"error", err,
			"query_cmd", sql,
			"query_args", args,
		)
		return nil, err
	}
	return rows, nil
}

// QueryRow submits a new read query for a single row to PostgreSQL.
func (c *Client) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return c.pool.QueryRow(ctx, sql, args...)
}

// Exec runs a single statement outside of any explicit transaction.
func (c *Client) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return c.pool.Exec(ctx, sql, args...)
}

// Begin implements the storage.TargetStorage interface for Client.
func (c *Client) Begin(ctx context.Context) (storage.Tx, error) {
	return c.pool.Begin(ctx)
}

// Close implements the storage.TargetStorage interface for Client.
func (c *Client) Close() {
	c.pool.Close()
}

// Name implements the storage.TargetStorage interface for Client.
func (c *Client) Name() string {
	return moduleName
}

// listObjects runs a catalog query returning (schema, name) pairs and
// returns the fully-qualified names.
func (c *Client) listObjects(ctx context.Context, kind string, catalogQuery string) ([]string, error) {
	rows, err := c.Query(ctx, catalogQuery)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var schema, name string
		if err = rows.Scan(&schema, &name); err != nil {
			return nil, err
		}
		names = append(names, fmt.Sprintf("%s.%s", schema, name))
	}
	return names, rows.Err()
}

// Wipe removes all contents of the database: tables, sequences, custom
// types and functions.
func (c *Client) Wipe(ctx context.Context) error {
	for _, obj := range []struct {
		kind  string
		drop  string
		query string
	}{
		{"tables", "TABLE", `
			SELECT schemaname, tablename
			FROM pg_tables
			WHERE schemaname != 'information_schema' AND schemaname NOT LIKE 'pg_%'`},
		{"sequences", "SEQUENCE", `
			SELECT schemaname, sequencename
			FROM pg_sequences
			WHERE schemaname != 'information_schema' AND schemaname NOT LIKE 'pg_%'`},
		// Query from https://stackoverflow.com/questions/3660787/how-to-list-custom-types-using-postgres-information-schema
		{"types", "TYPE", `
			SELECT      n.nspname, t.typname
			FROM        pg_type t
			LEFT JOIN   pg_catalog.pg_namespace n ON n.oid = t.typnamespace
			WHERE       (t.typrelid = 0 OR (SELECT c.relkind = 'c' FROM pg_catalog.pg_class c WHERE c.oid = t.typrelid))
			AND     NOT EXISTS(SELECT 1 FROM pg_catalog.pg_type el WHERE el.oid = t.typelem AND el.typarray = t.oid)
			AND     n.nspname != 'information_schema' AND n.nspname NOT LIKE 'pg_%'`},
		{"functions", "FUNCTION", `
			SELECT n.nspname, p.proname
			FROM pg_proc p
			LEFT JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
			WHERE n.nspname NOT IN ('pg_catalog', 'information_schema')`},
	} {
		names, err := c.listObjects(ctx, obj.kind, obj.query)
		if err != nil {
			return err
		}
		for _, name := range names {
			c.logger.Info("dropping", "kind", obj.drop, "name", name)
			if _, err = c.pool.Exec(ctx, fmt.Sprintf("DROP %s IF EXISTS %s CASCADE;", obj.drop, name)); err != nil {
				return err
			}
		}
	}
	return nil
}
