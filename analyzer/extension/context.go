package extension

import (
	"context"
	"time"

	"github.com/ledgerindex/gateway/log"
	"github.com/ledgerindex/gateway/metrics"
	"github.com/ledgerindex/gateway/storage"
	"github.com/ledgerindex/gateway/storage/postgres"
)

const dbName = "postgres"

// ProcessorContext is the per-batch state shared by all processors.
type ProcessorContext struct {
	Sequences *Sequences
	Tx        storage.Tx
	Logger    *log.Logger
	Metrics   *metrics.ExtensionMetrics

	// EmptyLedger is set when the batch starts the ledger; nothing is
	// stored yet, so stored state is never queried.
	EmptyLedger bool

	// Now is the wall-clock time at which the batch started. It bounds
	// normalized round timestamps from above.
	Now time.Time
}

// CopyRows bulk-loads rows into table inside the batch transaction.
func (c *ProcessorContext) CopyRows(ctx context.Context, table string, columns []string, rows [][]interface{}) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if c.Metrics != nil {
		timer := c.Metrics.DatabaseLatencies(dbName, "copy_"+table)
		defer timer.ObserveDuration()
	}
	n, err := postgres.CopyRows(ctx, c.Tx, table, columns, rows)
	if c.Metrics != nil {
		if err != nil {
			c.Metrics.DatabaseOperations(dbName, "copy_"+table, "failure").Inc()
		} else {
			c.Metrics.DatabaseOperations(dbName, "copy_"+table, "success").Inc()
			c.Metrics.RowsWritten(table).Add(float64(n))
		}
	}
	return int(n), err
}
