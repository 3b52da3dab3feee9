package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ledgerindex/gateway/analyzer/extension"
	"github.com/ledgerindex/gateway/config"
	"github.com/ledgerindex/gateway/log"
	"github.com/ledgerindex/gateway/storage/coreapi"
)

func init() {
	initialBackoff = time.Millisecond
	maximumBackoff = 5 * time.Millisecond
}

type fakeSource struct {
	mu       sync.Mutex
	ledger   []coreapi.CommittedTransaction
	failures int
}

func newFakeSource(n int) *fakeSource {
	s := &fakeSource{}
	for sv := int64(1); sv <= int64(n); sv++ {
		var tx coreapi.CommittedTransaction
		tx.ResultantStateIdentifiers.StateVersion = sv
		tx.LedgerTransaction.Type = coreapi.KindGenesis
		s.ledger = append(s.ledger, tx)
	}
	return s
}

func (s *fakeSource) Transactions(_ context.Context, from int64, limit int) ([]coreapi.CommittedTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return nil, fmt.Errorf("connection refused")
	}
	if from > int64(len(s.ledger)) {
		return nil, nil
	}
	end := from - 1 + int64(limit)
	if end > int64(len(s.ledger)) {
		end = int64(len(s.ledger))
	}
	return s.ledger[from-1 : end], nil
}

func (s *fakeSource) LatestStateVersion(context.Context) (int64, error) {
	return int64(len(s.ledger)), nil
}

func (s *fakeSource) Close() error { return nil }

type fakeExtender struct {
	mu      sync.Mutex
	last    *extension.TransactionSummary
	batches [][2]int64
	err     error
}

func (e *fakeExtender) Watermark(context.Context) (*extension.TransactionSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, nil
}

func (e *fakeExtender) Extend(_ context.Context, txs []coreapi.CommittedTransaction) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches = append(e.batches, [2]int64{txs[0].StateVersion(), txs[len(txs)-1].StateVersion()})
	if e.err != nil {
		return nil, e.err
	}
	e.last = &extension.TransactionSummary{StateVersion: txs[len(txs)-1].StateVersion()}
	return &Result{BatchID: uuid.New(), RowsAdded: len(txs), Summary: e.last}, nil
}

func (e *fakeExtender) Batches() [][2]int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][2]int64(nil), e.batches...)
}

// run starts the analyzer and waits for it to return on its own.
func run(t *testing.T, ctx context.Context, cfg *config.IngestConfig, source coreapi.TransactionSource, extender LedgerExtender) {
	a, err := NewAnalyzer(cfg, source, extender, log.NewDiscardLogger())
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		a.Start(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("analyzer did not stop")
	}
}

func TestExtendsConfiguredRange(t *testing.T) {
	extender := &fakeExtender{}
	run(t, context.Background(), &config.IngestConfig{From: 1, To: 7, BatchSize: 3}, newFakeSource(10), extender)
	require.Equal(t, [][2]int64{{1, 3}, {4, 6}, {7, 7}}, extender.Batches())
}

func TestContinuesFromWatermark(t *testing.T) {
	extender := &fakeExtender{last: &extension.TransactionSummary{StateVersion: 4}}
	run(t, context.Background(), &config.IngestConfig{From: 1, To: 8, BatchSize: 10}, newFakeSource(10), extender)
	require.Equal(t, [][2]int64{{5, 8}}, extender.Batches())
}

func TestTransientErrorsAreRetried(t *testing.T) {
	source := newFakeSource(3)
	source.failures = 2
	extender := &fakeExtender{}
	run(t, context.Background(), &config.IngestConfig{From: 1, To: 3, BatchSize: 5}, source, extender)
	require.Equal(t, [][2]int64{{1, 3}}, extender.Batches())
}

func TestFatalErrorStops(t *testing.T) {
	extender := &fakeExtender{err: fmt.Errorf("batch: %w", extension.ErrInconsistentLedger)}
	run(t, context.Background(), &config.IngestConfig{From: 1, BatchSize: 5}, newFakeSource(3), extender)
	require.Equal(t, [][2]int64{{1, 3}}, extender.Batches())
}

func TestStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	extender := &fakeExtender{err: errors.New("database unavailable")}
	run(t, ctx, &config.IngestConfig{From: 1, BatchSize: 5}, newFakeSource(3), extender)
	require.NotEmpty(t, extender.Batches())
	for _, b := range extender.Batches() {
		require.Equal(t, [2]int64{1, 3}, b)
	}
}

func TestRejectsEmptyBatchSize(t *testing.T) {
	_, err := NewAnalyzer(&config.IngestConfig{}, newFakeSource(0), &fakeExtender{}, log.NewDiscardLogger())
	require.Error(t, err)
}
