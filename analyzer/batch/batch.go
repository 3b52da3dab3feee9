// Package batch implements the ledger extension analyzer.
//
// The analyzer fetches committed transactions from a node in batches, strictly
// in state version order, and hands each batch to a LedgerExtender. A batch
// is either fully committed or not at all; failed batches are retried with
// backoff unless the failure means the input or the stored ledger is
// malformed.
package batch

import (
	"context"
	"errors"
	"time"

	"github.com/ledgerindex/gateway/analyzer"
	"github.com/ledgerindex/gateway/analyzer/extension"
	"github.com/ledgerindex/gateway/analyzer/util"
	"github.com/ledgerindex/gateway/config"
	"github.com/ledgerindex/gateway/log"
	"github.com/ledgerindex/gateway/storage/coreapi"
)

const (
	analyzerName = "ledger_extension"

	// Timeout to fetch and extend a batch.
	processBatchTimeout = 5 * time.Minute
)

var (
	initialBackoff = 100 * time.Millisecond
	// Caps the wait at roughly the time a node takes to commit a new round.
	maximumBackoff = 6 * time.Second
)

// LedgerExtender is the write side of the analyzer.
type LedgerExtender interface {
	// Watermark returns the summary of the last stored transaction, or nil
	// on an empty ledger.
	Watermark(ctx context.Context) (*extension.TransactionSummary, error)
	// Extend appends txs to the stored ledger.
	Extend(ctx context.Context, txs []coreapi.CommittedTransaction) (*Result, error)
}

var _ analyzer.Analyzer = (*batchAnalyzer)(nil)

type batchAnalyzer struct {
	config *config.IngestConfig

	source   coreapi.TransactionSource
	extender LedgerExtender
	logger   *log.Logger
}

// NewAnalyzer returns the ledger extension analyzer.
func NewAnalyzer(
	cfg *config.IngestConfig,
	source coreapi.TransactionSource,
	extender LedgerExtender,
	logger *log.Logger,
) (analyzer.Analyzer, error) {
	if cfg.BatchSize <= 0 {
		return nil, errors.New("batch size must be positive")
	}
	return &batchAnalyzer{
		config:   cfg,
		source:   source,
		extender: extender,
		logger:   logger.With("analyzer", analyzerName),
	}, nil
}

// nextStateVersion returns the first state version not extended yet.
func (a *batchAnalyzer) nextStateVersion(ctx context.Context) (int64, error) {
	last, err := a.extender.Watermark(ctx)
	if err != nil {
		return 0, err
	}
	if last == nil {
		return a.config.From, nil
	}
	return last.StateVersion + 1, nil
}

// processBatch fetches and extends the batch starting at from. It reports
// false when the node had nothing new.
func (a *batchAnalyzer) processBatch(ctx context.Context, from int64) (bool, error) {
	limit := a.config.BatchSize
	if a.config.To != 0 && a.config.To-from+1 < int64(limit) {
		limit = int(a.config.To - from + 1)
	}
	txs, err := a.source.Transactions(ctx, from, limit)
	if err != nil {
		return false, err
	}
	if len(txs) == 0 {
		return false, nil
	}
	res, err := a.extender.Extend(ctx, txs)
	if err != nil {
		return false, err
	}
	a.logger.Info("extended ledger",
		"batch_id", res.BatchID,
		"from_state_version", from,
		"to_state_version", res.Summary.StateVersion,
		"epoch", res.Summary.Epoch,
		"round", res.Summary.RoundInEpoch,
		"rows_added", res.RowsAdded,
	)
	return true, nil
}

// Start starts the analyzer.
func (a *batchAnalyzer) Start(ctx context.Context) {
	backoff, err := util.NewBackoff(initialBackoff, maximumBackoff)
	if err != nil {
		a.logger.Error("error configuring analyzer backoff policy",
			"err", err.Error(),
		)
		return
	}

	for {
		select {
		case <-time.After(backoff.Timeout()):
			// Process another batch.
		case <-ctx.Done():
			a.logger.Warn("shutting down ledger extension", "reason", ctx.Err())
			return
		}

		from, err := a.nextStateVersion(ctx)
		if err != nil {
			a.logger.Error("failed to read ledger watermark", "err", err)
			backoff.Failure()
			continue
		}
		if a.config.To != 0 && from > a.config.To {
			break
		}

		batchCtx, cancel := context.WithTimeout(ctx, processBatchTimeout)
		extended, err := a.processBatch(batchCtx, from)
		cancel()
		switch {
		case err != nil && extension.IsFatal(err):
			a.logger.Error("stopping ledger extension on inconsistent input", "from_state_version", from, "err", err)
			return
		case err != nil:
			a.logger.Error("error extending ledger", "from_state_version", from, "err", err)
			backoff.Failure()
		case !extended:
			a.logger.Debug("no new transactions", "from_state_version", from)
			backoff.Failure() // Nothing committed yet, wait a bit longer.
		default:
			backoff.Success()
		}
	}

	a.logger.Info(
		"finished extending the ledger over the configured range",
		"from", a.config.From, "to", a.config.To,
	)
}

// Name returns the name of the analyzer.
func (a *batchAnalyzer) Name() string {
	return analyzerName
}
